package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatehouse-io/gatehouse/internal/governance"
	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
	"github.com/gatehouse-io/gatehouse/pkg/storage"
)

// ConcurrencyStage keeps the shared session registry current and enforces
// the maximum-concurrent-sessions policy. A session expired by a newer login
// is refused before any identity logic runs and purged from the session
// store; a login over the limit either expires the principal's oldest
// session or, with the reject-new strategy, is itself denied.
type ConcurrencyStage struct {
	registry *storage.SessionRegistry
	store    storage.SessionStore
	timeout  time.Duration
	logger   *slog.Logger
}

// NewConcurrency creates the concurrent-session accounting stage. store may
// be nil when no session store backs the chain.
func NewConcurrency(registry *storage.SessionRegistry, store storage.SessionStore, timeout time.Duration, logger *slog.Logger) *ConcurrencyStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConcurrencyStage{registry: registry, store: store, timeout: timeout, logger: logger}
}

func (s *ConcurrencyStage) Name() string { return engine.StageConcurrency }

func (s *ConcurrencyStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	if req.SessionID != "" {
		if s.registry.Expired(req.SessionID) {
			s.logger.Info("refusing session expired by concurrent login",
				"session_id", req.SessionID,
			)
			// The session is dead: release its store entry and its
			// concurrency slot instead of leaving both behind.
			if s.store != nil {
				err := governance.Bound(ctx, s.timeout, func(c context.Context) error {
					return s.store.Invalidate(c, req.SessionID)
				})
				if err != nil {
					return domain.Outcome{}, fmt.Errorf("concurrency: invalidate expired session: %w", err)
				}
			}
			s.registry.Deregister(req.SessionID)
			return domain.Denied("session expired by a concurrent login"), nil
		}
		s.registry.Touch(req.SessionID)
	}

	out, err := next.Proceed(ctx, req, sec)
	if err != nil || ctx.Err() != nil {
		return out, err
	}

	// Register once a principal became known during this run. The session ID
	// is allocated here when missing so the session stage, whose commit runs
	// after this point on the unwind, persists under the same ID.
	if a := sec.Authentication(); a.Real() && sec.Changed() {
		if req.SessionID == "" {
			req.SessionID = storage.NewSessionID()
		}
		if err := s.registry.Register(a.Principal, req.SessionID); err != nil {
			if errors.Is(err, storage.ErrTooManySessions) {
				s.logger.Info("login rejected by concurrent session limit",
					"principal", a.Principal,
				)
				// Drop the pending authentication so the session stage does
				// not persist a login that was just refused.
				sec.Clear()
				return domain.Denied("maximum concurrent sessions reached"), nil
			}
			return domain.Outcome{}, err
		}
	}

	return out, nil
}
