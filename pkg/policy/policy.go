// Package policy implements the access-decision collaborator consumed by the
// terminal authorization stage. Two deciders are provided: an ordered static
// rule set and an OPA-backed engine for externally authored rule languages.
package policy

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

// Verdict classifies an access decision.
type Verdict string

const (
	// VerdictAllow grants access.
	VerdictAllow Verdict = "allow"
	// VerdictDeny refuses access to an authenticated principal.
	VerdictDeny Verdict = "deny"
	// VerdictRequireAuthentication refuses access because no real
	// authentication is present; the boundary stage routes it to the entry
	// point rather than to a denial.
	VerdictRequireAuthentication Verdict = "require_authentication"
)

// Decision is the result of one access evaluation.
type Decision struct {
	Verdict Verdict
	Reason  string
}

// Decider evaluates access for a canonical path, method and authentication.
// Implementations must be safe for concurrent use and must honor context
// cancellation: evaluations are bounded by the pipeline's collaborator
// timeout.
type Decider interface {
	Decide(ctx context.Context, path, method string, auth domain.Authentication) (Decision, error)
}

// refuse returns the verdict appropriate for a refused authentication: a
// real principal is denied outright, everything else is asked to
// authenticate first.
func refuse(auth domain.Authentication, reason string) Decision {
	if auth.Real() {
		return Decision{Verdict: VerdictDeny, Reason: reason}
	}
	return Decision{Verdict: VerdictRequireAuthentication, Reason: reason}
}
