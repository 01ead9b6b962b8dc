// Package governance bounds calls to external collaborators. Stages may
// suspend while consulting identity providers, session stores or token
// stores; every such call runs under a configurable deadline, and a deadline
// hit is a stage failure, never an allow.
package governance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCollaboratorTimeout is returned when a collaborator call exceeds its
// deadline.
var ErrCollaboratorTimeout = errors.New("collaborator call timed out")

// TimeoutConfig defines deadlines for collaborator calls.
type TimeoutConfig struct {
	// Collaborator is the maximum duration for one external call.
	Collaborator time.Duration
}

// DefaultTimeoutConfig returns the default collaborator deadline.
func DefaultTimeoutConfig() TimeoutConfig {
	return TimeoutConfig{Collaborator: 5 * time.Second}
}

// Bound runs fn under a deadline of d. The collaborator must honor context
// cancellation; a deadline hit surfaces as ErrCollaboratorTimeout. A zero or
// negative d disables the bound.
func Bound(ctx context.Context, d time.Duration, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	bounded, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(bounded)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && bounded.Err() != nil && ctx.Err() == nil {
		return fmt.Errorf("%w after %s: %v", ErrCollaboratorTimeout, d, err)
	}
	return err
}
