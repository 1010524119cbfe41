package statecache

import (
	"context"
	"sync"
	"time"

	"github.com/marketforge/ads-sync-kit/pkg/types"
)

// MemoryStore is an in-process Store guarded by a mutex. Expired entries
// are garbage-collected by a background janitor; consumed and expired
// states linger for a retention window so replays and late callbacks
// report the precise error.
type MemoryStore struct {
	mu       sync.Mutex
	states   map[string]*types.OAuthState
	sessions map[string]*types.PendingSession

	now  func() time.Time
	done chan struct{}
	once sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a memory store and starts its janitor.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		states:   make(map[string]*types.OAuthState),
		sessions: make(map[string]*types.PendingSession),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go s.janitor(time.Minute)
	return s
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

// SetClock overrides the store's clock. Test hook.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutState saves a freshly issued CSRF state.
func (s *MemoryStore) PutState(_ context.Context, state *types.OAuthState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.states[state.Token] = &cp
	return nil
}

// ConsumeState atomically looks up and consumes a state token. The
// check-then-mark runs under a single lock acquisition, so exactly one
// caller can consume a given token.
func (s *MemoryStore) ConsumeState(_ context.Context, token string) (*types.OAuthState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[token]
	if !ok {
		return nil, types.ErrInvalidState
	}
	if st.Expired(s.now()) {
		return nil, types.ErrExpiredState
	}
	if st.Consumed {
		return nil, types.ErrStateReplay
	}
	st.Consumed = true
	cp := *st
	return &cp, nil
}

// PutSession saves a pending account-selection session.
func (s *MemoryStore) PutSession(_ context.Context, session *types.PendingSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *session
	cp.Accounts = append([]types.AdAccount(nil), session.Accounts...)
	s.sessions[session.ID] = &cp
	return nil
}

// GetSession returns a live session.
func (s *MemoryStore) GetSession(_ context.Context, id string) (*types.PendingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Expired(s.now()) {
		return nil, types.ErrSessionExpired
	}
	cp := *sess
	cp.Accounts = append([]types.AdAccount(nil), sess.Accounts...)
	return &cp, nil
}

// DeleteSession removes a session.
func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, st := range s.states {
		if now.After(st.ExpiresAt.Add(replayRetention)) {
			delete(s.states, token)
		}
	}
	for id, sess := range s.sessions {
		if now.After(sess.ExpiresAt.Add(replayRetention)) {
			delete(s.sessions, id)
		}
	}
}
