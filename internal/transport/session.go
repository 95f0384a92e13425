// Package transport implements the server's single HTTP session endpoint:
// POST submits a JSON-RPC message, GET opens a server-sent-event stream of
// server-initiated messages, and DELETE closes the session.
//
// Every session binds to exactly one tenant, identified at session-creation
// time, and that tenant is carried into every downstream storage call for
// the session's lifetime — there is no path by which a session observes
// another tenant's data.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultIdleTTL is the default duration an idle session survives before
// expiring.
const DefaultIdleTTL = 24 * time.Hour

// ErrSessionNotFound is returned when a session id is unknown or has expired.
var ErrSessionNotFound = errors.New("transport: session not found")

// Session is one open client connection's server-side state.
type Session struct {
	ID         string
	UserID     string
	ProjectID  string
	StreamID   string
	CreatedAt  time.Time
	LastActive time.Time
}

// SessionStore tracks live sessions and expires them after idleTTL of
// inactivity.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	now      func() time.Time
	onExpire func(int)
}

// NewSessionStore constructs a SessionStore with the given idle TTL. A
// non-positive ttl uses [DefaultIdleTTL].
func NewSessionStore(idleTTL time.Duration) *SessionStore {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		now:      time.Now,
	}
}

// Create opens a fresh session bound to (userID, projectID) with its own
// stream id, returning the new session.
func (s *SessionStore) Create(userID, projectID string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	sess := &Session{
		ID:         uuid.NewString(),
		UserID:     userID,
		ProjectID:  projectID,
		StreamID:   uuid.NewString(),
		CreatedAt:  now,
		LastActive: now,
	}
	s.sessions[sess.ID] = sess
	return sess
}

// Get returns the session by id, touching its last-active timestamp. It
// returns [ErrSessionNotFound] for an unknown or expired session.
func (s *SessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := s.now()
	if now.Sub(sess.LastActive) > s.idleTTL {
		delete(s.sessions, id)
		if s.onExpire != nil {
			s.onExpire(1)
		}
		return nil, ErrSessionNotFound
	}
	sess.LastActive = now
	return sess, nil
}

// Delete removes a session, reporting [ErrSessionNotFound] if it was
// already gone.
func (s *SessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// SweepExpired removes every session idle for longer than idleTTL, and
// returns how many were removed. Call it periodically from a background
// goroutine; it does not start one itself.
func (s *SessionStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActive) > s.idleTTL {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 && s.onExpire != nil {
		s.onExpire(removed)
	}
	return removed
}
