package governance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundReturnsCollaboratorResult(t *testing.T) {
	err := Bound(context.Background(), time.Second, func(context.Context) error {
		return nil
	})
	assert.NoError(t, err)

	boom := errors.New("boom")
	err = Bound(context.Background(), time.Second, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestBoundMapsDeadlineToCollaboratorTimeout(t *testing.T) {
	err := Bound(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, ErrCollaboratorTimeout)
}

func TestBoundPreservesOuterCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Bound(ctx, time.Second, func(ctx context.Context) error {
		return ctx.Err()
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCollaboratorTimeout, "an aborted request is not a collaborator timeout")
}
