// Package clock 为状态机提供统一的时间与 slot 来源。
package clock

import (
	"sync"
	"time"
)

// SlotDuration 是推导 slot 编号时使用的出块间隔。
const SlotDuration = 400 * time.Millisecond

// Clock 提供当前时间与单调递增的 slot 编号。
type Clock interface {
	Now() time.Time
	Slot() uint64
}

// System 基于系统时间实现 Clock。
type System struct{}

// Now 返回当前时间。
func (System) Now() time.Time { return time.Now() }

// Slot 以 400ms 为间隔换算 slot。
func (System) Slot() uint64 {
	return uint64(time.Now().UnixMilli() / SlotDuration.Milliseconds())
}

// Manual 是可手动推进的时钟，主要用于测试和回放。
type Manual struct {
	mu   sync.Mutex
	now  time.Time
	slot uint64
}

// NewManual 以给定时间创建 Manual 时钟。
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, slot: 1}
}

// Now 返回当前设定的时间。
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Slot 返回当前 slot。
func (m *Manual) Slot() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.slot
}

// Set 将时钟跳到指定时间，slot 加一。
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.slot++
	m.mu.Unlock()
}

// Advance 将时钟向前推进 d。
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.slot += uint64(d / SlotDuration)
	if d > 0 && d < SlotDuration {
		m.slot++
	}
	m.mu.Unlock()
}
