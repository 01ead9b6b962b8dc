package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatehouse-io/gatehouse/internal/governance"
	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
)

// AuthorizeStage is the terminal stage: it evaluates the access-decision
// collaborator for the canonical path and method against the established
// authentication. It never calls the continuation; the chain ends here with
// an allow or a raised security failure for the boundary to translate.
type AuthorizeStage struct {
	decider policy.Decider
	timeout time.Duration
	logger  *slog.Logger
}

// NewAuthorize creates the authorization-interception stage.
func NewAuthorize(decider policy.Decider, timeout time.Duration, logger *slog.Logger) *AuthorizeStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthorizeStage{decider: decider, timeout: timeout, logger: logger}
}

func (s *AuthorizeStage) Name() string { return engine.StageAuthorize }

func (s *AuthorizeStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, _ engine.Continuation) (domain.Outcome, error) {
	auth := sec.Authentication()

	var decision policy.Decision
	err := governance.Bound(ctx, s.timeout, func(c context.Context) error {
		var err error
		decision, err = s.decider.Decide(c, req.Path, req.Method, auth)
		return err
	})
	if err != nil {
		// Includes decider timeouts: a failed decision is a failed stage,
		// never an allow.
		return domain.Outcome{}, fmt.Errorf("authorize: %w", err)
	}

	switch decision.Verdict {
	case policy.VerdictAllow:
		return domain.Allow(), nil
	case policy.VerdictDeny:
		return domain.Outcome{}, &domain.SecurityError{
			Err:     domain.ErrAccessDenied,
			Stage:   s.Name(),
			Message: decision.Reason,
		}
	case policy.VerdictRequireAuthentication:
		return domain.Outcome{}, &domain.SecurityError{
			Err:     domain.ErrAuthenticationRequired,
			Stage:   s.Name(),
			Message: decision.Reason,
		}
	default:
		return domain.Outcome{}, fmt.Errorf("authorize: unknown verdict %q", decision.Verdict)
	}
}
