// Package prompt provides the external prompt store agents read their system
// and user prompt templates from when a definition does not carry them inline.
package prompt

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no prompts exist for an agent name
var ErrNotFound = errors.New("prompt not found")

// Prompts holds the prompts registered for one agent. An empty User means the
// agent has no user prompt template.
type Prompts struct {
	System string `json:"system" yaml:"system"`
	User   string `json:"user,omitempty" yaml:"user,omitempty"`
}

// Store looks up prompts by agent name
type Store interface {
	GetPrompts(ctx context.Context, agentName string) (*Prompts, error)
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.RWMutex
	prompts map[string]Prompts
}

// NewMemoryStore creates a store seeded with the given prompts
func NewMemoryStore(seed map[string]Prompts) *MemoryStore {
	s := &MemoryStore{prompts: make(map[string]Prompts, len(seed))}
	for name, p := range seed {
		s.prompts[name] = p
	}
	return s
}

// Put stores prompts for an agent, replacing any existing entry
func (s *MemoryStore) Put(agentName string, p Prompts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[agentName] = p
}

// GetPrompts implements Store
func (s *MemoryStore) GetPrompts(_ context.Context, agentName string) (*Prompts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prompts[agentName]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}
