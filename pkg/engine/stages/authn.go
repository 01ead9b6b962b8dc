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
)

// ErrBadCredentials is returned by credential collaborators when the
// presented credentials are well-formed but wrong. Mechanism stages turn it
// into a challenge; any other collaborator error is fatal for the request.
var ErrBadCredentials = errors.New("bad credentials")

// CredentialChecker validates username/password credentials against an
// identity source.
type CredentialChecker interface {
	Check(ctx context.Context, username, password string) (domain.Authentication, error)
}

// TokenIntrospector validates an opaque bearer token.
type TokenIntrospector interface {
	Introspect(ctx context.Context, token string) (domain.Authentication, error)
}

// BasicAuthStage authenticates requests carrying an Authorization: Basic
// header. Like every mechanism stage it is a no-op once an earlier mechanism
// populated the context: first success wins.
type BasicAuthStage struct {
	checker CredentialChecker
	realm   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewBasicAuth creates the basic-credentials mechanism stage.
func NewBasicAuth(checker CredentialChecker, realm string, timeout time.Duration, logger *slog.Logger) *BasicAuthStage {
	if realm == "" {
		realm = "gatehouse"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BasicAuthStage{checker: checker, realm: realm, timeout: timeout, logger: logger}
}

func (s *BasicAuthStage) Name() string { return engine.StageBasicAuth }

func (s *BasicAuthStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	if sec.Authentication().Authenticated() {
		return next.Proceed(ctx, req, sec)
	}

	username, password, ok := (&http.Request{Header: req.Headers}).BasicAuth()
	if !ok {
		return next.Proceed(ctx, req, sec)
	}

	var auth domain.Authentication
	err := governance.Bound(ctx, s.timeout, func(c context.Context) error {
		var err error
		auth, err = s.checker.Check(c, username, password)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			s.logger.Warn("basic authentication failed",
				"username", username,
				"remote_addr", req.RemoteAddr,
			)
			return domain.Challenge(fmt.Sprintf("Basic realm=%q", s.realm)), nil
		}
		return domain.Outcome{}, fmt.Errorf("authn.basic: %w", err)
	}

	sec.SetAuthentication(auth)
	return next.Proceed(ctx, req, sec)
}

// BearerTokenStage authenticates requests carrying an Authorization: Bearer
// header.
type BearerTokenStage struct {
	introspector TokenIntrospector
	timeout      time.Duration
	logger       *slog.Logger
}

// NewBearerToken creates the bearer-token mechanism stage.
func NewBearerToken(introspector TokenIntrospector, timeout time.Duration, logger *slog.Logger) *BearerTokenStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &BearerTokenStage{introspector: introspector, timeout: timeout, logger: logger}
}

func (s *BearerTokenStage) Name() string { return engine.StageBearerAuth }

func (s *BearerTokenStage) Invoke(ctx context.Context, req *domain.Request, sec *domain.SecurityContext, next engine.Continuation) (domain.Outcome, error) {
	if sec.Authentication().Authenticated() {
		return next.Proceed(ctx, req, sec)
	}

	header := req.Headers.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return next.Proceed(ctx, req, sec)
	}
	token := strings.TrimSpace(header[len(prefix):])

	var auth domain.Authentication
	err := governance.Bound(ctx, s.timeout, func(c context.Context) error {
		var err error
		auth, err = s.introspector.Introspect(c, token)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			s.logger.Warn("bearer token rejected", "remote_addr", req.RemoteAddr)
			return domain.Challenge(`Bearer error="invalid_token"`), nil
		}
		return domain.Outcome{}, fmt.Errorf("authn.bearer: %w", err)
	}

	sec.SetAuthentication(auth)
	return next.Proceed(ctx, req, sec)
}
