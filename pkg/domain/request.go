package domain

import "net/http"

// Request is the firewall-normalized view of one inbound HTTP request. It is
// the only request representation stages see: Path is canonical, while
// RawPath preserves the path exactly as received for the protected resource.
type Request struct {
	// ID is a per-request correlation identifier.
	ID string
	// Method is the HTTP method as received.
	Method string
	// RawPath is the path exactly as the client sent it.
	RawPath string
	// Path is the canonical path produced by the firewall. All pattern
	// matching and every stage works against it, never against RawPath.
	Path string
	// Query is the raw query string. Pattern matching ignores it entirely.
	Query string
	// Host is the request host, used when constructing redirect targets.
	Host string
	// Headers holds the request headers. Stages treat them as read-only.
	Headers http.Header
	// RemoteAddr is the client network address.
	RemoteAddr string
	// Secure reports whether the request arrived over TLS.
	Secure bool
	// SessionID is the session identifier presented by the client, or the
	// one allocated for it during this execution.
	SessionID string

	view    *SecurityView
	cookies []*http.Cookie
}

// Cookie returns the named cookie value from the request headers.
func (r *Request) Cookie(name string) (string, bool) {
	hr := http.Request{Header: r.Headers}
	c, err := hr.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

// AttachView installs the security-aware request view for downstream
// consumers.
func (r *Request) AttachView(v *SecurityView) { r.view = v }

// View returns the attached security view, or nil before the wrapper stage
// has run.
func (r *Request) View() *SecurityView { return r.view }

// QueueCookie records a cookie the HTTP adapter must set on the response
// regardless of which outcome is produced. Session allocation and
// remember-me token rotation use it.
func (r *Request) QueueCookie(c *http.Cookie) {
	r.cookies = append(r.cookies, c)
}

// PendingCookies returns the cookies queued during chain execution.
func (r *Request) PendingCookies() []*http.Cookie { return r.cookies }
