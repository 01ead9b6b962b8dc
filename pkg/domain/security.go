package domain

// Authentication carries a principal identity together with its granted
// authorities. The zero value is the explicit unauthenticated placeholder:
// pipeline code always observes a well-defined Authentication, never an
// absent one.
type Authentication struct {
	// Principal names the authenticated party.
	Principal string
	// Authorities lists the granted authorities (roles, scopes).
	Authorities []string
	// Details carries mechanism-specific attributes such as the token
	// series that produced a remember-me authentication.
	Details map[string]string
	// RunAs, when set, names an externally scoped execution subject the
	// remainder of the chain is re-invoked under.
	RunAs *Authentication

	authenticated bool
	anonymous     bool
}

// Unauthenticated returns the empty placeholder authentication.
func Unauthenticated() Authentication {
	return Authentication{}
}

// NewAuthentication returns a real (non-anonymous) authentication for the
// given principal.
func NewAuthentication(principal string, authorities ...string) Authentication {
	return Authentication{
		Principal:     principal,
		Authorities:   authorities,
		authenticated: true,
	}
}

// NewAnonymous returns the well-known anonymous authentication. It counts as
// authenticated so later stages always observe a non-empty value, but it is
// not a real identity: Real reports false.
func NewAnonymous(principal string, authorities ...string) Authentication {
	return Authentication{
		Principal:     principal,
		Authorities:   authorities,
		authenticated: true,
		anonymous:     true,
	}
}

// Authenticated reports whether any authentication, including the anonymous
// one, has been established.
func (a Authentication) Authenticated() bool { return a.authenticated }

// Anonymous reports whether this is the anonymous fallback authentication.
func (a Authentication) Anonymous() bool { return a.anonymous }

// Real reports whether a genuine principal has been established. The
// anonymous authentication and the empty placeholder are not real.
func (a Authentication) Real() bool { return a.authenticated && !a.anonymous }

// HasAuthority reports whether the given authority was granted.
func (a Authentication) HasAuthority(name string) bool {
	for _, g := range a.Authorities {
		if g == name {
			return true
		}
	}
	return false
}

// SecurityContext is the per-request holder of the current Authentication.
// It is owned exclusively by one chain execution and is never shared between
// requests; no synchronization is needed.
type SecurityContext struct {
	auth    Authentication
	changed bool
}

// NewSecurityContext returns a context holding the unauthenticated
// placeholder.
func NewSecurityContext() *SecurityContext {
	return &SecurityContext{}
}

// NewSecurityContextWith returns a context pre-populated with a, without
// marking it changed. Subject propagation uses this to nest a chain
// re-invocation under an externally scoped subject.
func NewSecurityContextWith(a Authentication) *SecurityContext {
	return &SecurityContext{auth: a}
}

// Authentication returns the current authentication, which may be the
// unauthenticated placeholder but is never absent.
func (c *SecurityContext) Authentication() Authentication { return c.auth }

// SetAuthentication installs a and marks the context changed so the session
// stage commits it to the session store at chain completion, when the chain's
// session policy allows persistence.
func (c *SecurityContext) SetAuthentication(a Authentication) {
	c.auth = a
	c.changed = true
}

// Install sets a without marking the context changed. Session restores and
// the anonymous fallback use it: neither represents state worth persisting.
func (c *SecurityContext) Install(a Authentication) {
	c.auth = a
}

// Changed reports whether the authentication was modified since the context
// was created or restored.
func (c *SecurityContext) Changed() bool { return c.changed }

// Clear resets the context to the unauthenticated placeholder and unmarks
// any pending change, so nothing is persisted at chain completion. Used when
// an established authentication is revoked mid-chain, e.g. a login rejected
// by the concurrent-session limit.
func (c *SecurityContext) Clear() {
	c.auth = Authentication{}
	c.changed = false
}

// SecurityView is the security-aware request accessor installed for
// downstream consumers to query the current principal and authorities.
type SecurityView struct {
	sec *SecurityContext
}

// NewSecurityView wraps sec for downstream consumption.
func NewSecurityView(sec *SecurityContext) *SecurityView {
	return &SecurityView{sec: sec}
}

// Principal returns the current principal name, or the empty string when no
// authentication has been established.
func (v *SecurityView) Principal() string {
	if v == nil || v.sec == nil {
		return ""
	}
	return v.sec.Authentication().Principal
}

// Authenticated reports whether any authentication has been established.
func (v *SecurityView) Authenticated() bool {
	if v == nil || v.sec == nil {
		return false
	}
	return v.sec.Authentication().Authenticated()
}

// HasAuthority reports whether the current authentication carries the given
// authority.
func (v *SecurityView) HasAuthority(name string) bool {
	if v == nil || v.sec == nil {
		return false
	}
	return v.sec.Authentication().HasAuthority(name)
}

// Authentication returns a copy of the current authentication.
func (v *SecurityView) Authentication() Authentication {
	if v == nil || v.sec == nil {
		return Unauthenticated()
	}
	return v.sec.Authentication()
}
