package scheduler

import "context"

// Store 定义订阅的持久化接口。
type Store interface {
	// Create 插入订阅，同一 (owner, agent) 已存在时返回 ErrSubscriptionExists。
	Create(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	// Update 在串行化的读改写中执行 fn，fn 返回错误时不写入任何变更。
	Update(ctx context.Context, id string, fn func(*Subscription) error) (*Subscription, error)
	// Delete 在 fn 校验通过后删除订阅，返回删除前的快照。
	Delete(ctx context.Context, id string, fn func(*Subscription) error) (*Subscription, error)
	// ListDue 返回激活、未暂停、未达到 max_runs 且 next_run_at <= now 的订阅，
	// 按 (next_run_at, id) 升序，只包含排在 after 之后的记录。
	ListDue(ctx context.Context, now int64, after DueCursor, limit int) ([]*Subscription, error)
	List(ctx context.Context, opts ListOptions) ([]*Subscription, error)
	Close() error
}

// DueCursor 是到期列表的翻页位置，零值表示从头开始。
type DueCursor struct {
	NextRunAt int64
	ID        string
}

func (c DueCursor) before(s *Subscription) bool {
	if c == (DueCursor{}) {
		return true
	}
	return s.NextRunAt > c.NextRunAt || (s.NextRunAt == c.NextRunAt && s.ID > c.ID)
}

// ListOptions 控制订阅查询。
type ListOptions struct {
	Owner   string
	AgentID string
	Limit   int
	Offset  int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

func (o ListOptions) matches(s *Subscription) bool {
	if o.Owner != "" && s.Owner != o.Owner {
		return false
	}
	if o.AgentID != "" && s.AgentID != o.AgentID {
		return false
	}
	return true
}
