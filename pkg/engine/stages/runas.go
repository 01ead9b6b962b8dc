package stages

import (
	"context"
	"log/slog"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
)

// RunAsStage propagates an externally scoped execution subject: when the
// established authentication carries one, the remainder of the chain is
// re-invoked through the continuation under a nested security context
// holding that subject. The original context is left untouched; this is an
// explicit continuation re-invocation, not call-stack trickery.
type RunAsStage struct {
	logger *slog.Logger
}

// NewRunAs creates the subject-propagation stage.
func NewRunAs(logger *slog.Logger) *RunAsStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunAsStage{logger: logger}
}

func (s *RunAsStage) Name() string { return engine.StageRunAs }

func (s *RunAsStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	auth := sec.Authentication()
	if auth.RunAs == nil {
		return next.Proceed(ctx, req, sec)
	}

	s.logger.Debug("propagating execution subject",
		"principal", auth.Principal,
		"run_as", auth.RunAs.Principal,
	)

	nested := domain.NewSecurityContextWith(*auth.RunAs)
	if req.View() != nil {
		// Downstream consumers observe the substituted subject for the
		// nested run, and the original afterwards.
		req.AttachView(domain.NewSecurityView(nested))
		defer req.AttachView(domain.NewSecurityView(sec))
	}
	return next.Proceed(ctx, req, nested)
}
