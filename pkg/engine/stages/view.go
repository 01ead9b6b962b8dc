package stages

import (
	"context"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
)

// SecurityViewStage installs the security-aware request view so downstream
// consumers, including the protected resource, can query the current
// principal and authorities.
type SecurityViewStage struct{}

// NewSecurityView creates the wrapper-installation stage.
func NewSecurityView() *SecurityViewStage { return &SecurityViewStage{} }

func (s *SecurityViewStage) Name() string { return engine.StageSecurityView }

func (s *SecurityViewStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	req.AttachView(domain.NewSecurityView(sec))
	return next.Proceed(ctx, req, sec)
}
