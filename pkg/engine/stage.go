package engine

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

// Stage is the capability implemented by every pipeline unit. Invoke must do
// exactly one of: call next (proceed), return a terminal Outcome
// (short-circuit), or return one of the recognized security failures for the
// boundary stage to translate. Any other error aborts the chain.
type Stage interface {
	// Name identifies the stage for configuration, ordering validation and
	// observability.
	Name() string
	Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next Continuation) (domain.Outcome, error)
}

// Continuation runs the remaining stages of the chain. It is an explicit
// resumable value, not implicit call-stack reentry: a stage may invoke it
// more than once or under a substituted security context, which is how
// subject propagation nests the remainder of the chain under an externally
// scoped subject.
type Continuation interface {
	Proceed(ctx context.Context, req *domain.Request, sec *domain.SecurityContext) (domain.Outcome, error)
}

// Stage name constants. Build validation enforces the canonical category
// order below; the executor never reorders stages at runtime.
const (
	StageChannel        = "channel"
	StageSessionContext = "session_context"
	StageConcurrency    = "concurrency"
	StageBasicAuth      = "authn.basic"
	StageBearerAuth     = "authn.bearer"
	StageSecurityView   = "security_view"
	StageRunAs          = "run_as"
	StageRememberMe     = "remember_me"
	StageAnonymous      = "anonymous"
	StageBoundary       = "boundary"
	StageAuthorize      = "authorize"
)

// canonicalRank orders stage categories. Authentication mechanisms share a
// rank: several may appear in one chain, in configured order.
var canonicalRank = map[string]int{
	StageChannel:        1,
	StageSessionContext: 2,
	StageConcurrency:    3,
	StageBasicAuth:      4,
	StageBearerAuth:     4,
	StageSecurityView:   5,
	StageRunAs:          6,
	StageRememberMe:     7,
	StageAnonymous:      8,
	StageBoundary:       9,
	StageAuthorize:      10,
}
