package session

import (
	"context"
	"sync"

	"authbus/internal/event"
)

// Store is the durable persistence surface for the current session. A nil
// result from Load means no session is stored; implementations must not
// treat that as an error.
type Store interface {
	Load(ctx context.Context) (*event.Session, error)
	Save(ctx context.Context, sess *event.Session) error
	Clear(ctx context.Context) error
}

// MemoryStore keeps the session in process memory. Used in development and
// tests where no Redis is available.
type MemoryStore struct {
	mu      sync.RWMutex
	session *event.Session
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(ctx context.Context) (*event.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session, nil
}

func (s *MemoryStore) Save(ctx context.Context, sess *event.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = sess
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	return nil
}

// NoopStore is the storage-less rendition of Store for contexts without a
// persistence surface. Every operation succeeds and holds nothing.
type NoopStore struct{}

func (NoopStore) Load(ctx context.Context) (*event.Session, error) { return nil, nil }

func (NoopStore) Save(ctx context.Context, sess *event.Session) error { return nil }

func (NoopStore) Clear(ctx context.Context) error { return nil }
