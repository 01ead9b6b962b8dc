package storage

import (
	"errors"
	"sync"
	"time"
)

// ErrTooManySessions is returned by Register when the principal is at the
// configured limit and the registry is configured to reject new sessions.
var ErrTooManySessions = errors.New("maximum concurrent sessions reached")

// SessionRegistry tracks live sessions per principal and enforces the
// maximum-concurrent-sessions policy. All mutation happens under one lock so
// the limit holds exactly even when logins for the same principal race.
// Entries not seen within the TTL are evicted, so a session that expired out
// of the session store cannot hold a concurrency slot forever.
type SessionRegistry struct {
	mu          sync.Mutex
	byPrincipal map[string][]string
	bySession   map[string]*registryEntry
	maxSessions int
	rejectNew   bool
	ttl         time.Duration
	now         func() time.Time
}

type registryEntry struct {
	principal string
	expired   bool
	lastSeen  time.Time
}

// NewSessionRegistry creates a registry enforcing at most maxSessions live
// sessions per principal. Zero or negative maxSessions disables the limit.
// When rejectNew is set, a login over the limit fails instead of expiring the
// principal's oldest session. ttl matches the session store's TTL; zero
// disables idle eviction.
func NewSessionRegistry(maxSessions int, rejectNew bool, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{
		byPrincipal: make(map[string][]string),
		bySession:   make(map[string]*registryEntry),
		maxSessions: maxSessions,
		rejectNew:   rejectNew,
		ttl:         ttl,
		now:         time.Now,
	}
}

// Register records sessionID as a live session of principal, enforcing the
// concurrency limit. With the expire-oldest strategy the principal's oldest
// live session is marked expired; with reject-new the call fails with
// ErrTooManySessions and the new session must not be honored.
func (r *SessionRegistry) Register(principal, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictStaleLocked(principal)

	if e, ok := r.bySession[sessionID]; ok && e.principal == principal && !e.expired {
		e.lastSeen = r.now()
		return nil
	}

	if r.maxSessions > 0 {
		live := r.liveLocked(principal)
		if len(live) >= r.maxSessions {
			if r.rejectNew {
				return ErrTooManySessions
			}
			// Oldest first: expire enough sessions to admit the new one.
			for _, id := range live[:len(live)-r.maxSessions+1] {
				r.bySession[id].expired = true
			}
		}
	}

	r.bySession[sessionID] = &registryEntry{principal: principal, lastSeen: r.now()}
	r.byPrincipal[principal] = append(r.byPrincipal[principal], sessionID)
	return nil
}

// Expired reports whether sessionID was expired by concurrency enforcement.
// Unknown and TTL-evicted sessions are not expired.
func (r *SessionRegistry) Expired(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.bySession[sessionID]
	return ok && !r.stale(e) && e.expired
}

// Touch refreshes the last-seen time for a known live session.
func (r *SessionRegistry) Touch(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.bySession[sessionID]; ok && !e.expired && !r.stale(e) {
		e.lastSeen = r.now()
	}
}

// Deregister removes sessionID from the registry, freeing its concurrency
// slot.
func (r *SessionRegistry) Deregister(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.bySession[sessionID]; ok {
		r.removeLocked(sessionID, e)
	}
}

// ActiveCount returns the number of live (non-expired, non-stale) sessions
// across all principals.
func (r *SessionRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.bySession {
		if !e.expired && !r.stale(e) {
			n++
		}
	}
	return n
}

// LiveSessions returns the principal's live (non-expired) session IDs,
// oldest first.
func (r *SessionRegistry) LiveSessions(principal string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.liveLocked(principal)...)
}

func (r *SessionRegistry) liveLocked(principal string) []string {
	var live []string
	for _, id := range r.byPrincipal[principal] {
		if e := r.bySession[id]; e != nil && !e.expired && !r.stale(e) {
			live = append(live, id)
		}
	}
	return live
}

func (r *SessionRegistry) stale(e *registryEntry) bool {
	return r.ttl > 0 && r.now().Sub(e.lastSeen) > r.ttl
}

func (r *SessionRegistry) evictStaleLocked(principal string) {
	for _, id := range append([]string(nil), r.byPrincipal[principal]...) {
		if e := r.bySession[id]; e != nil && r.stale(e) {
			r.removeLocked(id, e)
		}
	}
}

func (r *SessionRegistry) removeLocked(sessionID string, e *registryEntry) {
	delete(r.bySession, sessionID)
	ids := r.byPrincipal[e.principal]
	for i, id := range ids {
		if id == sessionID {
			r.byPrincipal[e.principal] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byPrincipal[e.principal]) == 0 {
		delete(r.byPrincipal, e.principal)
	}
}
