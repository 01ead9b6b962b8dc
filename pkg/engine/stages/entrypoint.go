package stages

import (
	"context"
	"fmt"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

// EntryPoint produces the response for a request that must authenticate
// before it can be decided: typically a redirect to a login flow or a
// challenge header.
type EntryPoint interface {
	Commence(ctx context.Context, req *domain.Request) (domain.Outcome, error)
}

// LoginRedirectEntryPoint redirects the client to a login location.
type LoginRedirectEntryPoint struct {
	// LoginPath is the target of the redirect, e.g. "/login".
	LoginPath string
}

// Commence implements EntryPoint.
func (e *LoginRedirectEntryPoint) Commence(_ context.Context, _ *domain.Request) (domain.Outcome, error) {
	return domain.Redirect(e.LoginPath), nil
}

// ChallengeEntryPoint demands credentials through a WWW-Authenticate
// challenge.
type ChallengeEntryPoint struct {
	// Scheme is the challenge value; empty selects a Basic challenge for
	// the gatehouse realm.
	Scheme string
}

// Commence implements EntryPoint.
func (e *ChallengeEntryPoint) Commence(_ context.Context, _ *domain.Request) (domain.Outcome, error) {
	scheme := e.Scheme
	if scheme == "" {
		scheme = fmt.Sprintf("Basic realm=%q", "gatehouse")
	}
	return domain.Challenge(scheme), nil
}
