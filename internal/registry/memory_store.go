package registry

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 在内存中保存目录项。
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*Agent)}
}

// Create 实现 Store。
func (s *MemoryStore) Create(_ context.Context, agent *Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.AgentID]; ok {
		return ErrAgentExists
	}
	s.agents[agent.AgentID] = agent.clone()
	return nil
}

// Get 实现 Store。
func (s *MemoryStore) Get(_ context.Context, agentID string) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent.clone(), nil
}

// Update 实现 Store。
func (s *MemoryStore) Update(_ context.Context, agentID string, fn func(*Agent) error) (*Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.agents[agentID]
	if !ok {
		return nil, ErrAgentNotFound
	}
	next := current.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.agents[agentID] = next
	return next.clone(), nil
}

// List 实现 Store，按创建时间倒序返回。
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Agent, error) {
	opts.applyDefaults()
	s.mu.RLock()
	matched := make([]*Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		if opts.matches(agent) {
			matched = append(matched, agent.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt == matched[j].CreatedAt {
			return matched[i].AgentID < matched[j].AgentID
		}
		return matched[i].CreatedAt > matched[j].CreatedAt
	})
	if opts.Offset >= len(matched) {
		return []*Agent{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error { return nil }
