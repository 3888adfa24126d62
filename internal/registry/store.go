package registry

import "context"

// Store 定义 agent 目录的持久化接口。
type Store interface {
	// Create 插入新目录项，agent_id 已存在时返回 ErrAgentExists。
	Create(ctx context.Context, agent *Agent) error
	Get(ctx context.Context, agentID string) (*Agent, error)
	// Update 在串行化的读改写中执行 fn，fn 返回错误时不写入任何变更。
	Update(ctx context.Context, agentID string, fn func(*Agent) error) (*Agent, error)
	List(ctx context.Context, opts ListOptions) ([]*Agent, error)
	Close() error
}

// ListOptions 控制目录查询。
type ListOptions struct {
	Owner      string
	Category   Category
	ActiveOnly bool
	Limit      int
	Offset     int
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

func (o ListOptions) matches(a *Agent) bool {
	if o.Owner != "" && a.Owner != o.Owner {
		return false
	}
	if o.Category != "" && a.Category != o.Category {
		return false
	}
	if o.ActiveOnly && !a.IsActive {
		return false
	}
	return true
}
