package domain

// OutcomeKind classifies the terminal result of one chain execution.
type OutcomeKind string

const (
	// OutcomeAllow passes the request through to the protected resource.
	OutcomeAllow OutcomeKind = "allow"
	// OutcomeRedirect sends the client to another location, typically the
	// login entry point or the secure-transport equivalent of the URL.
	OutcomeRedirect OutcomeKind = "redirect"
	// OutcomeChallenge asks the client to present credentials for a scheme.
	OutcomeChallenge OutcomeKind = "challenge"
	// OutcomeDenied refuses an authenticated but insufficiently privileged
	// request.
	OutcomeDenied OutcomeKind = "denied"
	// OutcomeRejected reports a request the firewall refused before any
	// chain ran.
	OutcomeRejected OutcomeKind = "rejected"
	// OutcomeError reports a fatal pipeline failure.
	OutcomeError OutcomeKind = "error"
)

// Outcome is the single terminal result produced for each request. Exactly
// one Outcome exists per request; the HTTP adapter translates it into at most
// one committed response.
type Outcome struct {
	Kind OutcomeKind
	// Target is the redirect location for OutcomeRedirect.
	Target string
	// Scheme is the WWW-Authenticate challenge value for OutcomeChallenge.
	Scheme string
	// Reason is a short operator-facing explanation for denials, rejections
	// and errors. It is never written to clients.
	Reason string
	// Cause is the underlying failure for OutcomeError.
	Cause error
}

// Allow returns the pass-through outcome.
func Allow() Outcome { return Outcome{Kind: OutcomeAllow} }

// Redirect returns an outcome sending the client to target.
func Redirect(target string) Outcome {
	return Outcome{Kind: OutcomeRedirect, Target: target}
}

// Challenge returns an outcome demanding credentials for the given scheme,
// e.g. `Basic realm="gatehouse"`.
func Challenge(scheme string) Outcome {
	return Outcome{Kind: OutcomeChallenge, Scheme: scheme}
}

// Denied returns the insufficient-authority outcome.
func Denied(reason string) Outcome {
	return Outcome{Kind: OutcomeDenied, Reason: reason}
}

// Rejected returns the firewall-rejection outcome.
func Rejected(reason string) Outcome {
	return Outcome{Kind: OutcomeRejected, Reason: reason}
}

// Failed returns a fatal-error outcome wrapping cause.
func Failed(cause error) Outcome {
	return Outcome{Kind: OutcomeError, Cause: cause}
}
