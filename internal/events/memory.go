package events

import (
	"context"
	"sync"
)

// MemoryPublisher 在内存中保留最近的事件，主要用于测试。
type MemoryPublisher struct {
	mu     sync.Mutex
	limit  int
	events []Event
}

var _ Publisher = (*MemoryPublisher)(nil)

// NewMemoryPublisher 创建最多保留 limit 条事件的发布器。
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 1024
	}
	return &MemoryPublisher{limit: limit}
}

// Publish 实现 Publisher。
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	if over := len(p.events) - p.limit; over > 0 {
		p.events = append([]Event(nil), p.events[over:]...)
	}
	return nil
}

// Events 返回已发布事件的副本，可按类型过滤。
func (p *MemoryPublisher) Events(eventType string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0, len(p.events))
	for _, e := range p.events {
		if eventType == "" || e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Close 实现 Publisher。
func (p *MemoryPublisher) Close() error { return nil }
