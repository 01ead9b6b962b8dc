package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
	"github.com/gatehouse-io/gatehouse/pkg/firewall"
)

// DefaultSessionCookie is the session cookie name used when none is
// configured.
const DefaultSessionCookie = "GATEHOUSE_SESSION"

type viewContextKey struct{}

// Handler is the http.Handler front door: it runs the firewall, selects a
// chain from the active registry, executes it, and translates the single
// terminal outcome into at most one committed response. On pass-through the
// protected handler receives the original request untouched, with the
// security view available from its context.
type Handler struct {
	firewall      *firewall.Firewall
	chains        *Holder
	executor      *Executor
	protected     http.Handler
	logger        *slog.Logger
	events        Events
	sessionCookie string
}

// HandlerConfig holds dependencies for creating a Handler.
type HandlerConfig struct {
	Firewall      *firewall.Firewall
	Chains        *Holder
	Executor      *Executor
	Protected     http.Handler
	Logger        *slog.Logger
	Events        Events
	SessionCookie string
}

// NewHandler constructs the pipeline front door.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Chains == nil {
		panic("engine: chain registry holder is required")
	}
	if cfg.Executor == nil {
		panic("engine: executor is required")
	}
	if cfg.Protected == nil {
		panic("engine: protected handler is required")
	}
	fw := cfg.Firewall
	if fw == nil {
		fw = firewall.New(firewall.Policy{})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	events := cfg.Events
	if events == nil {
		events = NopEvents{}
	}
	cookie := cfg.SessionCookie
	if cookie == "" {
		cookie = DefaultSessionCookie
	}
	return &Handler{
		firewall:      fw,
		chains:        cfg.Chains,
		executor:      cfg.Executor,
		protected:     cfg.Protected,
		logger:        logger,
		events:        events,
		sessionCookie: cookie,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Guard against a second WriteHeader no matter which path commits the
	// response.
	w = &statusRecorder{ResponseWriter: w}

	req := h.fromHTTP(r)

	norm, err := h.firewall.Validate(req)
	if err != nil {
		var fe *domain.FirewallError
		if errors.As(err, &fe) {
			h.logger.Warn("request rejected by firewall",
				"reason", string(fe.Reason),
				"method", req.Method,
				"path", req.RawPath,
				"remote_addr", req.RemoteAddr,
			)
			h.events.RequestRejected(req, fe.Reason)
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		h.logger.Error("firewall validation failed", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	chain, err := h.chains.Load().Select(norm.Path)
	if err != nil {
		// Build validation requires a catch-all, so this is a configuration
		// defect. Deny by default, never allow.
		h.logger.Error("no chain matched request",
			"path", norm.Path,
			"request_id", norm.ID,
			"error", err,
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	out, err := h.executor.Execute(r.Context(), chain, norm)
	if err != nil {
		if r.Context().Err() != nil {
			// Client went away mid-chain; nothing to commit.
			h.logger.Debug("request aborted mid-chain", "path", norm.Path, "request_id", norm.ID)
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	for _, c := range norm.PendingCookies() {
		http.SetCookie(w, c)
	}
	if norm.SessionID != "" && norm.SessionID != req.SessionID {
		http.SetCookie(w, &http.Cookie{
			Name:     h.sessionCookie,
			Value:    norm.SessionID,
			Path:     "/",
			HttpOnly: true,
			Secure:   norm.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}

	switch out.Kind {
	case domain.OutcomeAllow:
		// The protected resource sees the raw path: r was never mutated.
		ctx := context.WithValue(r.Context(), viewContextKey{}, norm.View())
		h.protected.ServeHTTP(w, r.WithContext(ctx))
	case domain.OutcomeRedirect:
		http.Redirect(w, r, out.Target, http.StatusFound)
	case domain.OutcomeChallenge:
		w.Header().Set("WWW-Authenticate", out.Scheme)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	case domain.OutcomeDenied:
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	default:
		h.logger.Error("unexpected outcome", "kind", string(out.Kind), "request_id", norm.ID)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) fromHTTP(r *http.Request) *domain.Request {
	req := &domain.Request{
		ID:         uuid.NewString(),
		Method:     r.Method,
		RawPath:    r.URL.EscapedPath(),
		Query:      r.URL.RawQuery,
		Host:       r.Host,
		Headers:    r.Header,
		RemoteAddr: r.RemoteAddr,
		Secure:     r.TLS != nil,
	}
	if c, err := r.Cookie(h.sessionCookie); err == nil {
		req.SessionID = c.Value
	}
	return req
}

// ViewFromContext returns the security view installed for the request, or
// nil when the chain did not run the wrapper stage.
func ViewFromContext(ctx context.Context) *domain.SecurityView {
	v, _ := ctx.Value(viewContextKey{}).(*domain.SecurityView)
	return v
}

// statusRecorder wraps http.ResponseWriter to prevent multiple WriteHeader
// calls: a request yields exactly one committed response.
type statusRecorder struct {
	http.ResponseWriter
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.ResponseWriter.WriteHeader(code)
		r.wroteHeader = true
	}
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack allows connection takeover for protected handlers that upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not support hijacking")
	}
	return hijacker.Hijack()
}
