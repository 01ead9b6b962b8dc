package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/pattern"
)

// Access names what a rule demands from the authentication.
type Access string

const (
	// AccessPermitAll grants access unconditionally.
	AccessPermitAll Access = "permit_all"
	// AccessDenyAll refuses access unconditionally.
	AccessDenyAll Access = "deny_all"
	// AccessAuthenticated requires a real (non-anonymous) authentication.
	AccessAuthenticated Access = "authenticated"
	// AccessHasAuthority requires a real authentication holding at least one
	// of the rule's authorities.
	AccessHasAuthority Access = "has_authority"
)

// Rule binds an access demand to a path pattern and optional method set.
type Rule struct {
	Pattern     *pattern.Pattern
	Methods     []string
	Access      Access
	Authorities []string
}

func (r Rule) matches(path, method string) bool {
	if !r.Pattern.Matches(path) {
		return false
	}
	if len(r.Methods) == 0 {
		return true
	}
	for _, m := range r.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

// RuleDecider evaluates an ordered rule list, first match wins. Most-specific
// patterns belong first; like the chain registry, ordering is the caller's
// responsibility. When nothing matches, access is refused.
type RuleDecider struct {
	rules []Rule
}

// NewRuleDecider builds a decider over rules, validating each demand.
func NewRuleDecider(rules []Rule) (*RuleDecider, error) {
	for i, r := range rules {
		if r.Pattern == nil {
			return nil, fmt.Errorf("policy: rule %d has no pattern", i)
		}
		switch r.Access {
		case AccessPermitAll, AccessDenyAll, AccessAuthenticated:
		case AccessHasAuthority:
			if len(r.Authorities) == 0 {
				return nil, fmt.Errorf("policy: rule %d requires authorities", i)
			}
		default:
			return nil, fmt.Errorf("policy: rule %d has unknown access %q", i, r.Access)
		}
	}
	return &RuleDecider{rules: rules}, nil
}

// Decide evaluates the first rule matching path and method.
func (d *RuleDecider) Decide(_ context.Context, path, method string, auth domain.Authentication) (Decision, error) {
	for _, r := range d.rules {
		if !r.matches(path, method) {
			continue
		}
		switch r.Access {
		case AccessPermitAll:
			return Decision{Verdict: VerdictAllow}, nil
		case AccessDenyAll:
			return refuse(auth, "access denied by rule"), nil
		case AccessAuthenticated:
			if auth.Real() {
				return Decision{Verdict: VerdictAllow}, nil
			}
			return refuse(auth, "authentication required"), nil
		case AccessHasAuthority:
			if !auth.Real() {
				return refuse(auth, "authentication required"), nil
			}
			for _, a := range r.Authorities {
				if auth.HasAuthority(a) {
					return Decision{Verdict: VerdictAllow}, nil
				}
			}
			return refuse(auth, "missing required authority"), nil
		}
	}
	return refuse(auth, "no access rule matched"), nil
}
