package ratelimit

import (
	"context"
	"sync"

	"github.com/juanbarco92/delta/core"
)

type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[core.RateLimitKey]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: map[core.RateLimitKey]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key core.RateLimitKey) (State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[normalizeKey(key)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Key] = state
	return nil
}

var _ StateStore = (*MemoryStateStore)(nil)
