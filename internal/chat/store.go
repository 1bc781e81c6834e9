package chat

import (
	"context"
	"sync"

	"arxivchat/internal/models"
	"arxivchat/internal/util"
)

// SessionStore keeps live chat sessions. Update never recreates a session
// that was deleted, so a closed session stays closed.
type SessionStore interface {
	Create(ctx context.Context, s *models.ChatSession) error
	Get(ctx context.Context, id string) (*models.ChatSession, error)
	Update(ctx context.Context, s *models.ChatSession) error
	Delete(ctx context.Context, id string) error
}

type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]models.ChatSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]models.ChatSession{}}
}

func (m *MemorySessionStore) Create(ctx context.Context, s *models.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.SessionID] = *s
	return nil
}

func (m *MemorySessionStore) Get(ctx context.Context, id string) (*models.ChatSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, util.ErrNotFound
	}
	return &s, nil
}

func (m *MemorySessionStore) Update(ctx context.Context, s *models.ChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.SessionID]; !ok {
		return util.ErrNotFound
	}
	m.sessions[s.SessionID] = *s
	return nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
