package store

import (
	"context"
	"sync"

	"github.com/ent0n29/storyquest/internal/session"
)

// InMemoryStore is an in-process store for local/dev use and tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	turns    map[string][]session.Turn
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]session.Session),
		turns:    make(map[string][]session.Turn),
	}
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess session.Session, first session.Turn) error {
	if err := checkFirstTurn(sess, first); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[sess.ID]; exists {
		return ErrTurnConflict
	}
	s.sessions[sess.ID] = sess
	s.turns[sess.ID] = []session.Turn{first}
	return nil
}

func (s *InMemoryStore) LoadSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return session.Session{}, ErrNotFound
	}
	return sess, nil
}

func (s *InMemoryStore) UpdateSession(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	sess.Active = sess.Active && stored.Active
	s.sessions[sess.ID] = sess
	return nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, sess session.Session, t session.Turn) error {
	if err := checkNextTurn(sess, t); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sess.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Turn != t.Number-1 {
		return ErrTurnConflict
	}
	sess.Active = sess.Active && stored.Active
	s.sessions[sess.ID] = sess
	s.turns[sess.ID] = append(s.turns[sess.ID], t)
	return nil
}

func (s *InMemoryStore) ListTurns(_ context.Context, sessionID string) ([]session.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.turns[sessionID]
	out := make([]session.Turn, len(arr))
	copy(out, arr)
	return out, nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
