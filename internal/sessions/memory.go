package sessions

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/sidekick/pkg/models"
)

// MemoryStore is an in-memory Store for tests and local runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]*models.Message
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*models.Session{},
		messages: map[string][]*models.Message{},
	}
}

func (m *MemoryStore) GetOrCreate(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	if session, ok := m.sessions[k]; ok && !session.Expired {
		return cloneSession(session), nil
	}
	now := time.Now()
	session := &models.Session{
		Key:          k,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastActiveAt: now,
	}
	m.sessions[k] = session
	m.messages[k] = nil
	return cloneSession(session), nil
}

func (m *MemoryStore) Get(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[key.String()]
	if !ok || session.Expired {
		return nil, ErrNotFound
	}
	return cloneSession(session), nil
}

func (m *MemoryStore) Update(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.sessions[session.Key]
	if !ok {
		return ErrNotFound
	}
	clone := cloneSession(session)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	m.sessions[clone.Key] = clone
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, key models.SessionKey, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key.String()
	session, ok := m.sessions[k]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	msg.SessionKey = k
	m.messages[k] = append(m.messages[k], msg)
	session.LastActiveAt = msg.CreatedAt
	session.UpdatedAt = msg.CreatedAt
	return nil
}

func (m *MemoryStore) History(ctx context.Context, key models.SessionKey, limit int) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[key.String()]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]*models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	marked := 0
	for _, session := range m.sessions {
		if !session.Expired && session.LastActiveAt.Before(cutoff) {
			session.Expired = true
			session.UpdatedAt = time.Now()
			marked++
		}
	}
	return marked, nil
}

func (m *MemoryStore) Close() error { return nil }

func cloneSession(s *models.Session) *models.Session {
	clone := *s
	if s.Metadata != nil {
		clone.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}
