package stages

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gatehouse-io/gatehouse/internal/governance"
	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
	"github.com/gatehouse-io/gatehouse/pkg/storage"
)

// SessionPolicy controls whether a chain reads and writes the session store.
type SessionPolicy string

const (
	// SessionAlways uses an existing session and eagerly creates one.
	SessionAlways SessionPolicy = "always"
	// SessionIfRequired uses an existing session and creates one only when
	// the chain establishes an authentication worth keeping.
	SessionIfRequired SessionPolicy = "if_required"
	// SessionNever never creates a session but still honors one the client
	// already holds.
	SessionNever SessionPolicy = "never"
	// SessionStateless ignores sessions entirely: the chain always starts
	// from an empty context and never persists.
	SessionStateless SessionPolicy = "stateless"
)

// ParseSessionPolicy validates a configured policy name. Empty selects
// if_required.
func ParseSessionPolicy(s string) (SessionPolicy, error) {
	switch SessionPolicy(s) {
	case "":
		return SessionIfRequired, nil
	case SessionAlways, SessionIfRequired, SessionNever, SessionStateless:
		return SessionPolicy(s), nil
	default:
		return "", fmt.Errorf("stages: unknown session policy %q", s)
	}
}

// SessionContextStage establishes the security context for the run: it
// restores a prior context from the session store when the policy allows,
// and commits changes back at chain completion. An aborted request never
// persists: pending mutations are discarded.
type SessionContextStage struct {
	store   storage.SessionStore
	policy  SessionPolicy
	timeout time.Duration
	logger  *slog.Logger
}

// NewSessionContext creates the context-establishment stage.
func NewSessionContext(store storage.SessionStore, policy SessionPolicy, timeout time.Duration, logger *slog.Logger) *SessionContextStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionContextStage{store: store, policy: policy, timeout: timeout, logger: logger}
}

func (s *SessionContextStage) Name() string { return engine.StageSessionContext }

func (s *SessionContextStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	presented := req.SessionID

	if s.policy != SessionStateless && presented != "" {
		var (
			auth  domain.Authentication
			found bool
		)
		err := governance.Bound(ctx, s.timeout, func(c context.Context) error {
			var err error
			auth, found, err = s.store.Get(c, presented)
			return err
		})
		if err != nil {
			return domain.Outcome{}, fmt.Errorf("session_context: restore session: %w", err)
		}
		if found {
			// A restore is not a change: it only persists again if a later
			// stage replaces it.
			sec.Install(auth)
		}
	}

	out, err := next.Proceed(ctx, req, sec)
	if err != nil {
		return domain.Outcome{}, err
	}
	if ctx.Err() != nil {
		// Aborted mid-chain: discard pending context mutations.
		return out, nil
	}

	if s.saveAllowed(presented) && sec.Changed() && sec.Authentication().Real() {
		if req.SessionID == "" {
			if !s.createAllowed() {
				return out, nil
			}
			req.SessionID = storage.NewSessionID()
		}
		err := governance.Bound(ctx, s.timeout, func(c context.Context) error {
			return s.store.Put(c, req.SessionID, sec.Authentication())
		})
		if err != nil {
			return domain.Outcome{}, fmt.Errorf("session_context: commit session: %w", err)
		}
		s.logger.Debug("security context committed",
			"session_id", req.SessionID,
			"principal", sec.Authentication().Principal,
		)
	}

	return out, nil
}

func (s *SessionContextStage) saveAllowed(presented string) bool {
	switch s.policy {
	case SessionAlways, SessionIfRequired:
		return true
	case SessionNever:
		return presented != ""
	default:
		return false
	}
}

func (s *SessionContextStage) createAllowed() bool {
	return s.policy == SessionAlways || s.policy == SessionIfRequired
}
