package scheduler

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore 在内存中保存订阅。
type MemoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore 创建内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{subs: make(map[string]*Subscription)}
}

// Create 实现 Store。
func (s *MemoryStore) Create(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; ok {
		return ErrSubscriptionExists
	}
	s.subs[sub.ID] = sub.clone()
	return nil
}

// Get 实现 Store。
func (s *MemoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.clone(), nil
}

// Update 实现 Store。
func (s *MemoryStore) Update(_ context.Context, id string, fn func(*Subscription) error) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	next := current.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.subs[id] = next
	return next.clone(), nil
}

// Delete 实现 Store。
func (s *MemoryStore) Delete(_ context.Context, id string, fn func(*Subscription) error) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	snapshot := current.clone()
	if err := fn(snapshot); err != nil {
		return nil, err
	}
	delete(s.subs, id)
	return snapshot, nil
}

// ListDue 实现 Store。
func (s *MemoryStore) ListDue(_ context.Context, now int64, after DueCursor, limit int) ([]*Subscription, error) {
	s.mu.RLock()
	var due []*Subscription
	for _, sub := range s.subs {
		if sub.due(now) && after.before(sub) {
			due = append(due, sub.clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextRunAt == due[j].NextRunAt {
			return due[i].ID < due[j].ID
		}
		return due[i].NextRunAt < due[j].NextRunAt
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// List 实现 Store，按创建时间倒序返回。
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Subscription, error) {
	opts.applyDefaults()
	s.mu.RLock()
	matched := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if opts.matches(sub) {
			matched = append(matched, sub.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt == matched[j].CreatedAt {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt > matched[j].CreatedAt
	})
	if opts.Offset >= len(matched) {
		return []*Subscription{}, nil
	}
	matched = matched[opts.Offset:]
	if len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// Close 实现 Store。
func (s *MemoryStore) Close() error { return nil }
