package credstore

import (
	"context"
	"sync"
)

type MemoryStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.creds == nil {
		return nil, ErrNotFound
	}
	cp := *s.creds
	return &cp, nil
}

func (s *MemoryStore) Save(_ context.Context, creds *Credentials) error {
	normalized := creds.Normalized()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = &normalized
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}
