package stages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gatehouse-io/gatehouse/internal/governance"
	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/engine"
	"github.com/gatehouse-io/gatehouse/pkg/storage"
)

// DefaultRememberMeCookie is the remember-me cookie name used when none is
// configured.
const DefaultRememberMeCookie = "GATEHOUSE_REMEMBER"

// AuthoritiesResolver supplies the granted authorities for a principal
// re-established from a persistent token.
type AuthoritiesResolver interface {
	Authorities(ctx context.Context, principal string) ([]string, error)
}

// RememberMeStage re-establishes identity from a persistent token when the
// mechanisms left the context unauthenticated. Tokens are single-use: every
// successful redemption rotates the value, and a mismatch revokes the whole
// series, so a replayed token buys nothing.
type RememberMeStage struct {
	tokens   storage.TokenStore
	resolver AuthoritiesResolver
	cookie   string
	timeout  time.Duration
	logger   *slog.Logger
}

// NewRememberMe creates the remember-me fallback stage. resolver may be nil,
// in which case remembered principals carry no authorities beyond their
// name.
func NewRememberMe(tokens storage.TokenStore, resolver AuthoritiesResolver, cookie string, timeout time.Duration, logger *slog.Logger) *RememberMeStage {
	if cookie == "" {
		cookie = DefaultRememberMeCookie
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RememberMeStage{tokens: tokens, resolver: resolver, cookie: cookie, timeout: timeout, logger: logger}
}

func (s *RememberMeStage) Name() string { return engine.StageRememberMe }

func (s *RememberMeStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	if sec.Authentication().Authenticated() {
		return next.Proceed(ctx, req, sec)
	}

	presented, ok := req.Cookie(s.cookie)
	if !ok {
		return next.Proceed(ctx, req, sec)
	}
	series, value, ok := strings.Cut(presented, ":")
	if !ok || series == "" || value == "" {
		s.clearCookie(req)
		return next.Proceed(ctx, req, sec)
	}

	var rotated storage.Token
	err := governance.Bound(ctx, s.timeout, func(c context.Context) error {
		var err error
		rotated, err = s.tokens.Redeem(c, series, value)
		return err
	})
	if err != nil {
		if errors.Is(err, storage.ErrTokenInvalid) || errors.Is(err, storage.ErrTokenTheft) {
			s.logger.Warn("remember-me token refused",
				"reason", err.Error(),
				"remote_addr", req.RemoteAddr,
			)
			s.clearCookie(req)
			return next.Proceed(ctx, req, sec)
		}
		return domain.Outcome{}, fmt.Errorf("remember_me: %w", err)
	}

	authorities := []string(nil)
	if s.resolver != nil {
		err := governance.Bound(ctx, s.timeout, func(c context.Context) error {
			var err error
			authorities, err = s.resolver.Authorities(c, rotated.Principal)
			return err
		})
		if err != nil {
			return domain.Outcome{}, fmt.Errorf("remember_me: resolve authorities: %w", err)
		}
	}

	auth := domain.NewAuthentication(rotated.Principal, authorities...)
	auth.Details = map[string]string{"source": "remember_me", "series": rotated.Series}
	sec.SetAuthentication(auth)

	req.QueueCookie(&http.Cookie{
		Name:     s.cookie,
		Value:    rotated.Series + ":" + rotated.Value,
		Path:     "/",
		HttpOnly: true,
		Secure:   req.Secure,
		SameSite: http.SameSiteLaxMode,
	})

	return next.Proceed(ctx, req, sec)
}

func (s *RememberMeStage) clearCookie(req *domain.Request) {
	req.QueueCookie(&http.Cookie{
		Name:     s.cookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}
