package quota

import (
	"context"
	"sync"
	"time"
)

// memoryEntry holds counters for one identity. Window starts travel
// with their counts so a stale window reads as zero instead of leaking
// usage into the new window.
type memoryEntry struct {
	minuteStart time.Time
	minuteCount int
	dayStart    time.Time
	dayCount    int
	session     int
	revoked     bool
}

// MemoryStore is an in-process CounterStore. Suitable for single-node
// deployments and tests; counters do not survive restarts.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

var _ CounterStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (s *MemoryStore) entry(identity string) *memoryEntry {
	e := s.entries[identity]
	if e == nil {
		e = &memoryEntry{}
		s.entries[identity] = e
	}
	return e
}

// Increment bumps all three counters under one lock acquisition.
func (s *MemoryStore) Increment(ctx context.Context, identity string, minuteStart, dayStart time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(identity)
	if !e.minuteStart.Equal(minuteStart) {
		e.minuteStart = minuteStart
		e.minuteCount = 0
	}
	if !e.dayStart.Equal(dayStart) {
		e.dayStart = dayStart
		e.dayCount = 0
	}
	e.minuteCount++
	e.dayCount++
	e.session++
	return nil
}

// IncrementIfAllowed compares and increments under the same lock
// acquisition, so the last slot under a limit goes to exactly one of
// any number of concurrent callers.
func (s *MemoryStore) IncrementIfAllowed(ctx context.Context, identity string, minuteStart, dayStart time.Time, limits Limits) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entry(identity)
	if !e.minuteStart.Equal(minuteStart) {
		e.minuteStart = minuteStart
		e.minuteCount = 0
	}
	if !e.dayStart.Equal(dayStart) {
		e.dayStart = dayStart
		e.dayCount = 0
	}
	if (limits.PerMinute > 0 && e.minuteCount >= limits.PerMinute) ||
		(limits.PerDay > 0 && e.dayCount >= limits.PerDay) ||
		(limits.PerSession > 0 && e.session >= limits.PerSession) {
		return false, nil
	}
	e.minuteCount++
	e.dayCount++
	e.session++
	return true, nil
}

// Counts reads the counters valid for the given window starts.
func (s *MemoryStore) Counts(ctx context.Context, identity string, minuteStart, dayStart time.Time) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[identity]
	if e == nil {
		return Counts{}, nil
	}
	c := Counts{Session: e.session}
	if e.minuteStart.Equal(minuteStart) {
		c.Minute = e.minuteCount
	}
	if e.dayStart.Equal(dayStart) {
		c.Day = e.dayCount
	}
	return c, nil
}

// Delete removes all state for the identity.
func (s *MemoryStore) Delete(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, identity)
	return nil
}

// Revoke marks the identity permanently limited.
func (s *MemoryStore) Revoke(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(identity).revoked = true
	return nil
}

// IsRevoked reports whether the identity has been revoked.
func (s *MemoryStore) IsRevoked(ctx context.Context, identity string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[identity]
	return e != nil && e.revoked, nil
}
