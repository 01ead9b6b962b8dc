package stages

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
)

// BoundaryStage is the exception boundary wrapping the terminal stage. It
// recovers exactly two failure kinds: an authentication requirement is
// delegated to the entry point, and a denial of a real authentication
// becomes the denied outcome. Everything else propagates untranslated and is
// fatal for the request.
type BoundaryStage struct {
	entry  EntryPoint
	logger *slog.Logger
}

// NewBoundary creates the exception-boundary stage.
func NewBoundary(entry EntryPoint, logger *slog.Logger) *BoundaryStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &BoundaryStage{entry: entry, logger: logger}
}

func (s *BoundaryStage) Name() string { return engine.StageBoundary }

func (s *BoundaryStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	out, err := next.Proceed(ctx, req, sec)
	if err == nil {
		return out, nil
	}

	switch {
	case errors.Is(err, domain.ErrAuthenticationRequired):
		s.logger.Debug("commencing authentication",
			"path", req.Path,
			"reason", err.Error(),
		)
		return s.entry.Commence(ctx, req)
	case errors.Is(err, domain.ErrAccessDenied):
		if !sec.Authentication().Real() {
			// A denied anonymous caller needs to authenticate, not a 403.
			return s.entry.Commence(ctx, req)
		}
		s.logger.Info("access denied",
			"path", req.Path,
			"principal", sec.Authentication().Principal,
		)
		return domain.Denied(err.Error()), nil
	default:
		return domain.Outcome{}, err
	}
}
