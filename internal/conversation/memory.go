package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/into-the-night/fin-breaker/internal/agent/core"
)

type memoryEntry struct {
	state     *core.ConversationState
	expiresAt time.Time
}

// MemoryStore keeps state in process. Entries expire after ttl when ttl > 0.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryStore) Load(_ context.Context, id string) (*core.ConversationState, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.ErrStateNotFound
	}
	if !e.expiresAt.IsZero() && s.now().After(e.expiresAt) {
		s.mu.Lock()
		delete(s.entries, id)
		s.mu.Unlock()
		return nil, core.ErrStateNotFound
	}
	return e.state.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, state *core.ConversationState) error {
	e := memoryEntry{state: state.Clone()}
	if s.ttl > 0 {
		e.expiresAt = s.now().Add(s.ttl)
	}
	s.mu.Lock()
	s.entries[state.ConversationID] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
