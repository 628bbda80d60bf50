package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore keeps records in a size-bounded LRU whose entries expire after ttl
type MemoryStore struct {
	cache *expirable.LRU[string, Record]
}

func NewMemoryStore(size int, ttl time.Duration) (*MemoryStore, error) {
	if size <= 0 {
		return nil, fmt.Errorf("presence cache size must be positive, got %d", size)
	}
	return &MemoryStore{cache: expirable.NewLRU[string, Record](size, nil, ttl)}, nil
}

func (s *MemoryStore) Touch(_ context.Context, record Record) error {
	s.cache.Add(record.ClientID, record)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, clientID string) (*Record, error) {
	record, ok := s.cache.Get(clientID)
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

func (s *MemoryStore) Remove(_ context.Context, clientID string) error {
	s.cache.Remove(clientID)
	return nil
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
