package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process session Store for single-node
// deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	byHash map[string]*Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Session)}
}

func (s *MemoryStore) Create(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.byHash[sess.TokenHash] = &copied
	return nil
}

func (s *MemoryStore) GetByTokenHash(ctx context.Context, hash string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.byHash[hash]
	if !ok {
		return nil, nil
	}
	copied := *sess
	return &copied, nil
}

func (s *MemoryStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.byHash {
		if sess.ID == id {
			sess.LastUsedAt = at
		}
	}
	return nil
}

func (s *MemoryStore) CountActive(ctx context.Context, projectID string, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, sess := range s.byHash {
		if sess.ProjectID == projectID && !sess.expired(now) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for hash, sess := range s.byHash {
		if sess.expired(before) {
			delete(s.byHash, hash)
			removed = append(removed, sess.ID)
		}
	}
	return removed, nil
}
