// Package storage provides the shared state collaborators consumed by the
// pipeline stages: the session store, the concurrent-session registry and the
// remember-me token store. All are opaque key-value contracts; the in-memory
// implementations here are the reference ones, persistent engines live behind
// the same interfaces.
package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatehouse-io/gatehouse/pkg/domain"
)

// SessionStore persists security contexts between requests, keyed by session
// ID. Implementations must be safe for concurrent use.
type SessionStore interface {
	// Get returns the authentication stored for id, reporting whether one
	// exists.
	Get(ctx context.Context, id string) (domain.Authentication, bool, error)
	// Put stores auth under id, replacing any previous value.
	Put(ctx context.Context, id string, auth domain.Authentication) error
	// Invalidate removes id. Removing an absent session is not an error.
	Invalidate(ctx context.Context, id string) error
}

// NewSessionID allocates a fresh session identifier.
func NewSessionID() string { return uuid.NewString() }

type sessionRecord struct {
	auth    domain.Authentication
	expires time.Time
}

// MemorySessionStore is an in-memory SessionStore with optional TTL expiry.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]sessionRecord
	ttl      time.Duration
	now      func() time.Time
}

// NewMemorySessionStore creates a MemorySessionStore. A zero ttl disables
// expiry.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]sessionRecord),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns the stored authentication for id.
func (s *MemorySessionStore) Get(_ context.Context, id string) (domain.Authentication, bool, error) {
	s.mu.RLock()
	rec, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Unauthenticated(), false, nil
	}
	if s.ttl > 0 && s.now().After(rec.expires) {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		return domain.Unauthenticated(), false, nil
	}
	return rec.auth, true, nil
}

// Put stores auth under id.
func (s *MemorySessionStore) Put(_ context.Context, id string, auth domain.Authentication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := sessionRecord{auth: auth}
	if s.ttl > 0 {
		rec.expires = s.now().Add(s.ttl)
	}
	s.sessions[id] = rec
	return nil
}

// Invalidate removes id.
func (s *MemorySessionStore) Invalidate(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}
