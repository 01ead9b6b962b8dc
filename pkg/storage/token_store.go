package storage

import (
	"context"
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid is returned for an unknown series or an already
	// redeemed token value.
	ErrTokenInvalid = errors.New("remember-me token invalid")
	// ErrTokenTheft is returned when a known series is presented with the
	// wrong token value. The whole series is revoked: either the client or
	// an attacker replayed a stale token, and the safe reaction is to force
	// a fresh interactive login.
	ErrTokenTheft = errors.New("remember-me token mismatch, series revoked")
)

// Token is the persistent remember-me credential: a stable series identifier
// plus a one-time value rotated on every successful redemption.
type Token struct {
	Series    string
	Value     string
	Principal string
}

// TokenStore manages remember-me tokens. Implementations must make Redeem
// atomic: concurrent redemptions of the same value have exactly one winner
// and the rest fail closed.
type TokenStore interface {
	// Issue creates a new series for principal and returns its first token.
	Issue(ctx context.Context, principal string) (Token, error)
	// Redeem validates the presented series/value pair, rotates the value
	// and returns the replacement token.
	Redeem(ctx context.Context, series, value string) (Token, error)
	// Revoke removes a series. Revoking an absent series is not an error.
	Revoke(ctx context.Context, series string) error
}

type tokenRecord struct {
	principal string
	value     string
}

// MemoryTokenStore is an in-memory TokenStore.
type MemoryTokenStore struct {
	mu     sync.Mutex
	series map[string]*tokenRecord
}

// NewMemoryTokenStore creates an empty MemoryTokenStore.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{series: make(map[string]*tokenRecord)}
}

// Issue creates a new token series for principal.
func (s *MemoryTokenStore) Issue(_ context.Context, principal string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Token{
		Series:    uuid.NewString(),
		Value:     uuid.NewString(),
		Principal: principal,
	}
	s.series[t.Series] = &tokenRecord{principal: principal, value: t.Value}
	return t, nil
}

// Redeem validates and rotates the token under the store lock, so exactly
// one concurrent redemption of a given value succeeds; later attempts see
// the rotated value and fail closed with ErrTokenTheft.
func (s *MemoryTokenStore) Redeem(_ context.Context, series, value string) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.series[series]
	if !ok {
		return Token{}, ErrTokenInvalid
	}
	if subtle.ConstantTimeCompare([]byte(rec.value), []byte(value)) != 1 {
		delete(s.series, series)
		return Token{}, ErrTokenTheft
	}

	rec.value = uuid.NewString()
	return Token{Series: series, Value: rec.value, Principal: rec.principal}, nil
}

// Revoke removes a series.
func (s *MemoryTokenStore) Revoke(_ context.Context, series string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.series, series)
	return nil
}
