// Package firewall validates and canonicalizes raw HTTP requests before any
// chain selection or stage runs. Suspicious requests are rejected outright,
// never silently repaired: path traversal and un-normalizable encodings are
// refused rather than resolved.
package firewall

import (
	"net/url"
	"strings"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

// Policy configures which requests the firewall accepts.
type Policy struct {
	// AllowedMethods is the HTTP method allow-set. Empty selects the
	// default set.
	AllowedMethods []string
	// AllowSemicolon keeps path parameters (`;` and what follows within a
	// segment) in the canonical path instead of stripping them.
	AllowSemicolon bool
	// UnsafeAllowAnyHTTPMethod disables the method allow-set entirely.
	UnsafeAllowAnyHTTPMethod bool
}

// DefaultAllowedMethods is the method allow-set used when none is configured.
var DefaultAllowedMethods = []string{
	"DELETE", "GET", "HEAD", "OPTIONS", "PATCH", "POST", "PUT",
}

// Firewall validates raw requests against a fixed policy. It is immutable
// and safe for unbounded concurrent use.
type Firewall struct {
	policy  Policy
	methods map[string]struct{}
}

// New builds a Firewall for the given policy.
func New(policy Policy) *Firewall {
	allowed := policy.AllowedMethods
	if len(allowed) == 0 {
		allowed = DefaultAllowedMethods
	}
	methods := make(map[string]struct{}, len(allowed))
	for _, m := range allowed {
		methods[strings.ToUpper(m)] = struct{}{}
	}
	return &Firewall{policy: policy, methods: methods}
}

// Validate checks req against the policy and returns a normalized copy whose
// Path is canonical. Validation is idempotent: validating the returned
// request yields an identical result. On rejection the returned error is a
// *domain.FirewallError and no chain may run for the request.
func (f *Firewall) Validate(req *domain.Request) (*domain.Request, error) {
	if !f.policy.UnsafeAllowAnyHTTPMethod {
		if _, ok := f.methods[req.Method]; !ok {
			return nil, &domain.FirewallError{
				Reason: domain.RejectInvalidMethod,
				Detail: "method " + quoteMethod(req.Method) + " is not allowed",
			}
		}
	}

	for name, values := range req.Headers {
		if containsControlChars(name) {
			return nil, &domain.FirewallError{
				Reason: domain.RejectControlCharacterInHeader,
				Detail: "header name contains line break or NUL",
			}
		}
		for _, v := range values {
			if containsControlChars(v) {
				return nil, &domain.FirewallError{
					Reason: domain.RejectControlCharacterInHeader,
					Detail: "value of header " + name + " contains line break or NUL",
				}
			}
		}
	}

	canonical, err := f.canonicalize(req.RawPath)
	if err != nil {
		return nil, err
	}

	out := *req
	out.Path = canonical
	return &out, nil
}

// canonicalize produces the canonical matching path: path parameters
// stripped (unless allowed), duplicate separators collapsed, traversal and
// bad encodings rejected.
func (f *Firewall) canonicalize(raw string) (string, error) {
	if raw == "" {
		raw = "/"
	}

	if strings.ContainsRune(raw, 0) {
		return "", &domain.FirewallError{
			Reason: domain.RejectMalformedEncoding,
			Detail: "path contains NUL",
		}
	}
	if strings.ContainsRune(raw, '\\') {
		return "", &domain.FirewallError{
			Reason: domain.RejectPathTraversal,
			Detail: "path contains backslash",
		}
	}

	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", &domain.FirewallError{
			Reason: domain.RejectMalformedEncoding,
			Detail: "path contains an invalid percent escape",
		}
	}

	// Escapes that would change the path structure after decoding, or that
	// would make canonicalization non-idempotent (an encoded percent decodes
	// into a new escape prefix), cannot be normalized safely. Reject them
	// instead of guessing.
	lower := strings.ToLower(raw)
	for _, esc := range []string{"%2f", "%5c", "%2e", "%00", "%25"} {
		if strings.Contains(lower, esc) {
			return "", &domain.FirewallError{
				Reason: domain.RejectMalformedEncoding,
				Detail: "path contains encoded " + esc,
			}
		}
	}
	if strings.ContainsAny(decoded, "\x00\\\r\n") {
		return "", &domain.FirewallError{
			Reason: domain.RejectMalformedEncoding,
			Detail: "decoded path contains NUL, backslash or line break",
		}
	}

	// Matching and access decisions happen against the decoded path: the
	// protected resource sees decoded text, so encoding a benign byte must
	// not route a request past a path-specific pattern.
	segments := strings.Split(decoded, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		if !f.policy.AllowSemicolon {
			if i := strings.IndexByte(seg, ';'); i >= 0 {
				seg = seg[:i]
			}
		}
		// Collapse duplicate separators by dropping empty segments.
		if seg == "" {
			continue
		}
		if seg == "." || seg == ".." {
			return "", &domain.FirewallError{
				Reason: domain.RejectPathTraversal,
				Detail: "path contains a traversal segment",
			}
		}
		out = append(out, seg)
	}

	canonical := "/" + strings.Join(out, "/")
	return canonical, nil
}

func containsControlChars(s string) bool {
	return strings.ContainsAny(s, "\r\n\x00")
}

func quoteMethod(m string) string {
	if m == "" {
		return `""`
	}
	return m
}
