package domain

import (
	"errors"
	"fmt"
)

// The two recognized security failures. The boundary stage recovers them
// into user-visible outcomes; every other stage failure is fatal for the
// request.
var (
	// ErrAuthenticationRequired signals that the context holds no real
	// authentication for a decision that needs one.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrAccessDenied signals that an authenticated principal lacks the
	// required authority.
	ErrAccessDenied = errors.New("access denied")
)

// ErrNoMatchingChain reports a registry lookup that matched no entry. Build
// validation requires a catch-all pattern, so hitting this at runtime is a
// configuration defect and is treated as deny-by-default, never as allow.
var ErrNoMatchingChain = errors.New("no chain matches request")

// RejectionReason identifies why the firewall refused a request.
type RejectionReason string

const (
	RejectInvalidMethod            RejectionReason = "invalid_method"
	RejectPathTraversal            RejectionReason = "path_traversal"
	RejectMalformedEncoding        RejectionReason = "malformed_encoding"
	RejectControlCharacterInHeader RejectionReason = "control_character_in_header"
)

// FirewallError reports a request the firewall refused to normalize. It is
// always terminal: no chain is selected and no security context is created.
type FirewallError struct {
	Reason RejectionReason
	Detail string
}

func (e *FirewallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("request rejected: %s", e.Reason)
	}
	return fmt.Sprintf("request rejected: %s: %s", e.Reason, e.Detail)
}

// SecurityError wraps one of the recognized security failures with the stage
// that raised it.
type SecurityError struct {
	Err     error
	Stage   string
	Message string
}

func (e *SecurityError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *SecurityError) Unwrap() error { return e.Err }
