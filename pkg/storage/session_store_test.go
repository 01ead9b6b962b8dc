package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

func TestSessionStoreRoundTrip(t *testing.T) {
	s := NewMemorySessionStore(0)
	ctx := context.Background()

	auth := domain.NewAuthentication("alice", "ROLE_USER")
	require.NoError(t, s.Put(ctx, "s1", auth))

	got, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", got.Principal)
	assert.True(t, got.Real())

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStoreInvalidate(t *testing.T) {
	s := NewMemorySessionStore(0)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "s1", domain.NewAuthentication("alice")))
	require.NoError(t, s.Invalidate(ctx, "s1"))
	require.NoError(t, s.Invalidate(ctx, "s1"))

	_, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionStoreTTLExpiry(t *testing.T) {
	s := NewMemorySessionStore(time.Minute)
	current := time.Unix(1700000000, 0)
	s.now = func() time.Time { return current }

	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "s1", domain.NewAuthentication("alice")))

	_, ok, err := s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, ok)

	current = current.Add(2 * time.Minute)
	_, ok, err = s.Get(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok, "session past its TTL must be gone")
}
