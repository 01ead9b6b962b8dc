package stages

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
)

// AnonymousStage installs the well-known anonymous principal when the
// context is still unauthenticated after every mechanism and the remember-me
// fallback, so later stages always observe a non-empty Authentication. The
// anonymous authentication is transient: it is never persisted.
type AnonymousStage struct {
	principal   string
	authorities []string
}

// NewAnonymous creates the anonymous fallback stage.
func NewAnonymous(principal string, authorities ...string) *AnonymousStage {
	if principal == "" {
		principal = "anonymous"
	}
	if len(authorities) == 0 {
		authorities = []string{"ROLE_ANONYMOUS"}
	}
	return &AnonymousStage{principal: principal, authorities: authorities}
}

func (s *AnonymousStage) Name() string { return engine.StageAnonymous }

func (s *AnonymousStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	if !sec.Authentication().Authenticated() {
		sec.Install(domain.NewAnonymous(s.principal, s.authorities...))
	}
	return next.Proceed(ctx, req, sec)
}
