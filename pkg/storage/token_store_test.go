package storage

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeemRotatesValue(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	issued, err := s.Issue(ctx, "alice")
	require.NoError(t, err)

	rotated, err := s.Redeem(ctx, issued.Series, issued.Value)
	require.NoError(t, err)
	assert.Equal(t, issued.Series, rotated.Series)
	assert.Equal(t, "alice", rotated.Principal)
	assert.NotEqual(t, issued.Value, rotated.Value, "value must rotate on redemption")

	// The old value is spent; presenting it again is theft.
	_, err = s.Redeem(ctx, issued.Series, issued.Value)
	assert.ErrorIs(t, err, ErrTokenTheft)
}

func TestRedeemUnknownSeries(t *testing.T) {
	s := NewMemoryTokenStore()
	_, err := s.Redeem(context.Background(), "missing", "whatever")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTheftRevokesWholeSeries(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	issued, err := s.Issue(ctx, "alice")
	require.NoError(t, err)

	_, err = s.Redeem(ctx, issued.Series, "stolen-guess")
	require.ErrorIs(t, err, ErrTokenTheft)

	// Even the correct value is now useless.
	_, err = s.Redeem(ctx, issued.Series, issued.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRevokeIsIdempotent(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	issued, err := s.Issue(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, s.Revoke(ctx, issued.Series))
	require.NoError(t, s.Revoke(ctx, issued.Series))

	_, err = s.Redeem(ctx, issued.Series, issued.Value)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

// Concurrent redemptions of the same value must have exactly one winner.
func TestConcurrentRedeemSingleWinner(t *testing.T) {
	s := NewMemoryTokenStore()
	ctx := context.Background()

	issued, err := s.Issue(ctx, "alice")
	require.NoError(t, err)

	const attempts = 16
	var wg sync.WaitGroup
	wins := make(chan Token, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if tok, err := s.Redeem(ctx, issued.Series, issued.Value); err == nil {
				wins <- tok
			}
		}()
	}
	wg.Wait()
	close(wins)

	var winners []Token
	for tok := range wins {
		winners = append(winners, tok)
	}
	require.Len(t, winners, 1, "exactly one redemption may succeed")
	assert.NotEqual(t, issued.Value, winners[0].Value)
}
