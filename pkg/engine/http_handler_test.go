package engine_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/engine"
	"github.com/gatehouse-io/gatehouse/pkg/engine/stages"
	"github.com/gatehouse-io/gatehouse/pkg/firewall"
	"github.com/gatehouse-io/gatehouse/pkg/identity"
	"github.com/gatehouse-io/gatehouse/pkg/pattern"
	"github.com/gatehouse-io/gatehouse/pkg/policy"
	"github.com/gatehouse-io/gatehouse/pkg/storage"
)

const testTimeout = time.Second

// newTestHandler wires a realistic pipeline: a bypass chain for static
// assets, a protected chain with basic auth over /secure and /admin, and a
// permissive catch-all.
func newTestHandler(t *testing.T) (*engine.Handler, *storage.MemorySessionStore) {
	t.Helper()
	logger := slog.Default()

	dir, err := identity.NewDirectory([]identity.User{
		{Username: "alice", Password: "wonder", Authorities: []string{"ROLE_USER", "ROLE_ADMIN"}},
		{Username: "bob", Password: "builder", Authorities: []string{"ROLE_USER"}},
	}, nil)
	require.NoError(t, err)

	decider, err := policy.NewRuleDecider([]policy.Rule{
		{Pattern: pattern.MustCompile("/admin/**", pattern.KindAnt), Access: policy.AccessHasAuthority, Authorities: []string{"ROLE_ADMIN"}},
		{Pattern: pattern.MustCompile("/secure/**", pattern.KindAnt), Access: policy.AccessAuthenticated},
		{Pattern: pattern.MustCompile("/**", pattern.KindAnt), Access: policy.AccessPermitAll},
	})
	require.NoError(t, err)

	store := storage.NewMemorySessionStore(0)
	entry := &stages.ChallengeEntryPoint{Scheme: `Basic realm="gatehouse"`}

	protected := []engine.Stage{
		stages.NewSessionContext(store, stages.SessionIfRequired, testTimeout, logger),
		stages.NewBasicAuth(dir, "gatehouse", testTimeout, logger),
		stages.NewSecurityView(),
		stages.NewAnonymous("anonymous", "ROLE_ANONYMOUS"),
		stages.NewBoundary(entry, logger),
		stages.NewAuthorize(decider, testTimeout, logger),
	}

	registry, err := engine.NewRegistry([]*engine.Chain{
		{Name: "static", Pattern: pattern.MustCompile("/static/**", pattern.KindAnt), Bypass: true},
		{Name: "app", Pattern: pattern.MustCompile("/**", pattern.KindAnt), Stages: protected},
	})
	require.NoError(t, err)

	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		view := engine.ViewFromContext(r.Context())
		if view == nil {
			w.Header().Set("X-Principal", "")
		} else {
			w.Header().Set("X-Principal", view.Principal())
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("served " + r.URL.Path))
	})

	h := engine.NewHandler(engine.HandlerConfig{
		Firewall:  firewall.New(firewall.Policy{}),
		Chains:    engine.NewHolder(registry),
		Executor:  engine.NewExecutor(engine.ExecutorConfig{Logger: logger}),
		Protected: app,
		Logger:    logger,
	})
	return h, store
}

func TestHandlerFirewallRejection(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/a/../b", nil)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	req = httptest.NewRequest("TRACE", "/ok", nil)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerBypassServesWithoutSecurity(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/static/app.css", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Principal"), "bypass must not establish a security view")
	assert.Empty(t, rec.Result().Cookies(), "bypass must not touch sessions")
}

func TestHandlerAnonymousAllowedOnPublicPath(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/public/info", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Header().Get("X-Principal"))
}

func TestHandlerUnauthenticatedSecurePathChallenges(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/secure/data", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
}

func TestHandlerBasicAuthAllows(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/secure/data", nil)
	req.SetBasicAuth("alice", "wonder")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Header().Get("X-Principal"))
}

func TestHandlerWrongPasswordChallenges(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/secure/data", nil)
	req.SetBasicAuth("alice", "nope")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerAuthenticatedWithoutAuthorityIsForbidden(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/admin/panel", nil)
	req.SetBasicAuth("bob", "builder")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	// A real authentication lacking the authority is a definitive denial,
	// not an invitation to log in again.
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestHandlerIssuesAndHonorsSessionCookie(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/secure/data", nil)
	req.SetBasicAuth("alice", "wonder")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == engine.DefaultSessionCookie {
			session = c
		}
	}
	require.NotNil(t, session, "login must issue a session cookie")

	// Second request rides the session, no credentials attached.
	req = httptest.NewRequest("GET", "/secure/data", nil)
	req.AddCookie(session)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Header().Get("X-Principal"))
}

func TestHandlerNormalizesBeforeMatching(t *testing.T) {
	h, _ := newTestHandler(t)

	// Path parameters and duplicate separators must not smuggle the request
	// past the /secure rule.
	req := httptest.NewRequest("GET", "/secure;hack=1//data.html;hack=2", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerDecodesBeforeMatching(t *testing.T) {
	h, _ := newTestHandler(t)

	// Percent-encoding a benign byte must not route the request past the
	// /admin authority rule onto the permissive catch-all.
	req := httptest.NewRequest("GET", "/%61dmin/panel", nil)
	req.SetBasicAuth("bob", "builder")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)

	// The encoded form and the literal form are the same resource: both
	// require the authority.
	req = httptest.NewRequest("GET", "/%61dmin/panel", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerProtectedSeesRawPath(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest("GET", "/public//page", nil)
	req.SetBasicAuth("alice", "wonder")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "served /public//page", rec.Body.String(), "canonicalization is for matching, not for the application")
}
