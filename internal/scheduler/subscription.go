// Package scheduler 实现预付费订阅的周期计费状态机。
package scheduler

import "SynapsePay/internal/identity"

// MaxAgentIDLen 与目录中的 agent_id 上限一致。
const MaxAgentIDLen = 32

// CadenceKind 是订阅周期的类型。
type CadenceKind string

const (
	CadenceHourly  CadenceKind = "hourly"
	CadenceDaily   CadenceKind = "daily"
	CadenceWeekly  CadenceKind = "weekly"
	CadenceMonthly CadenceKind = "monthly"
	CadenceCustom  CadenceKind = "custom"
)

var fixedCadences = map[CadenceKind]int64{
	CadenceHourly:  3600,
	CadenceDaily:   86400,
	CadenceWeekly:  604800,
	CadenceMonthly: 2592000,
}

// Cadence 描述执行间隔，Seconds 仅对 custom 有意义。
type Cadence struct {
	Kind    CadenceKind `json:"kind"`
	Seconds int64       `json:"seconds,omitempty"`
}

// Hourly、Daily、Weekly、Monthly 返回固定周期。
func Hourly() Cadence  { return Cadence{Kind: CadenceHourly} }
func Daily() Cadence   { return Cadence{Kind: CadenceDaily} }
func Weekly() Cadence  { return Cadence{Kind: CadenceWeekly} }
func Monthly() Cadence { return Cadence{Kind: CadenceMonthly} }

// Custom 返回自定义秒数的周期。
func Custom(seconds int64) Cadence { return Cadence{Kind: CadenceCustom, Seconds: seconds} }

// ToSeconds 返回周期对应的秒数。
func (c Cadence) ToSeconds() (int64, error) {
	if secs, ok := fixedCadences[c.Kind]; ok {
		return secs, nil
	}
	if c.Kind == CadenceCustom && c.Seconds > 0 {
		return c.Seconds, nil
	}
	return 0, ErrInvalidCadence
}

// normalize 校验周期并补齐固定周期的秒数，便于持久化。
func (c Cadence) normalize() (Cadence, error) {
	secs, err := c.ToSeconds()
	if err != nil {
		return Cadence{}, err
	}
	return Cadence{Kind: c.Kind, Seconds: secs}, nil
}

// Subscription 是一份按周期由 keeper 触发扣费的订阅。
type Subscription struct {
	ID        string  `json:"id"`
	Owner     string  `json:"owner"`
	AgentID   string  `json:"agent_id"`
	Cadence   Cadence `json:"cadence"`
	NextRunAt int64   `json:"next_run_at"`
	LastRunAt int64   `json:"last_run_at"`
	TotalRuns uint64  `json:"total_runs"`
	MaxRuns   uint64  `json:"max_runs"`
	Balance   uint64  `json:"balance"`
	IsActive  bool    `json:"is_active"`
	IsPaused  bool    `json:"is_paused"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

func (s *Subscription) clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	return &cp
}

// Vault 返回订阅的预存资金账户。
func (s *Subscription) Vault() string {
	return identity.SubscriptionVault(s.ID)
}

// due 判断订阅在 now 时刻是否可以被触发（不含余额检查）。
func (s *Subscription) due(now int64) bool {
	return s.IsActive && !s.IsPaused && now >= s.NextRunAt && !s.exhausted()
}

func (s *Subscription) exhausted() bool {
	return s.MaxRuns != 0 && s.TotalRuns >= s.MaxRuns
}
