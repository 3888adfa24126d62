package scheduler

import (
	"context"
	"log/slog"
	"math/bits"
	"strings"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/events"
	"SynapsePay/internal/identity"
	"SynapsePay/internal/ledger"
	"SynapsePay/internal/observability/metrics"
	"SynapsePay/internal/payments"
	"SynapsePay/pkg/logger"
)

// FeeDivisor 与支付模块的 5% 手续费约定一致。
const FeeDivisor = 20

// Catalog 提供触发时的实时报价与收款人，并在执行后回写统计，registry.Service 满足该接口。
type Catalog interface {
	Quote(ctx context.Context, agentID string) (price uint64, recipient string, err error)
	RecordRun(ctx context.Context, agentID string, earned uint64) error
}

// RunOpener 为每次触发生成执行中的支付，payments.Service 满足该接口。
type RunOpener interface {
	OpenScheduledRun(ctx context.Context, run payments.ScheduledRun) (*payments.Payment, error)
}

// Service 驱动订阅的生命周期与 keeper 触发。
type Service struct {
	store     Store
	catalog   Catalog
	clock     clock.Clock
	log       *slog.Logger
	ledger    ledger.Ledger
	runs      RunOpener
	publisher events.Publisher
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 替换时间来源。
func WithClock(c clock.Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLedger 启用订阅金库的资金划转。
func WithLedger(l ledger.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithRuns 让每次触发生成一笔执行中的支付，收款人通过支付流程领取报价。
// 启用 WithLedger 时必须同时配置。
func WithRuns(r RunOpener) Option {
	return func(s *Service) { s.runs = r }
}

// WithPublisher 指定触发事件的投递目标。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService 构造订阅服务。
func NewService(store Store, catalog Catalog, opts ...Option) *Service {
	s := &Service{store: store, catalog: catalog, clock: clock.System{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("scheduler")
	}
	return s
}

// CreateRequest 描述订阅参数，MaxRuns 为 0 表示不限次数。
type CreateRequest struct {
	AgentID string  `json:"agent_id"`
	Cadence Cadence `json:"cadence"`
	MaxRuns uint64  `json:"max_runs"`
}

// Create 为 owner 创建订阅，余额从 0 开始。
func (s *Service) Create(ctx context.Context, owner string, req CreateRequest) (*Subscription, error) {
	if err := requireCaller(owner); err != nil {
		return nil, err
	}
	if len(req.AgentID) > MaxAgentIDLen {
		return nil, ErrAgentIDTooLong
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent_id 不能为空")
	}
	cadence, err := req.Cadence.normalize()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().Unix()
	sub := &Subscription{
		ID:        identity.Subscription(owner, req.AgentID),
		Owner:     owner,
		AgentID:   req.AgentID,
		Cadence:   cadence,
		NextRunAt: now + cadence.Seconds,
		MaxRuns:   req.MaxRuns,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.ledger != nil {
		if err := s.ledger.OpenAccount(ctx, sub.Vault(), identity.VaultAuthority); err != nil {
			return nil, err
		}
	}
	if err := s.store.Create(ctx, sub); err != nil {
		return nil, err
	}
	logger.Audit().Info("订阅已创建",
		slog.String("subscription_id", sub.ID),
		slog.String("owner", owner),
		slog.String("agent_id", sub.AgentID),
		slog.String("cadence", string(cadence.Kind)),
		slog.Uint64("max_runs", sub.MaxRuns),
	)
	return sub, nil
}

// Fund 为订阅充值，托管模式下资金转入订阅金库。
func (s *Service) Fund(ctx context.Context, caller, id string, amount uint64) (*Subscription, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if amount == 0 || amount > ledger.MaxBalance {
		return nil, ErrInvalidAmount
	}

	var moved []ledger.Transfer
	if s.ledger != nil {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.Owner != caller {
			return nil, ErrUnauthorized
		}
		if !fits(current.Balance, amount) {
			return nil, ErrInvalidAmount
		}
		moved = []ledger.Transfer{{
			Amount: amount, From: caller, To: current.Vault(), Authority: caller, Memo: "fund " + id,
		}}
		if err := s.ledger.Batch(ctx, moved); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now().Unix()
	sub, err := s.store.Update(ctx, id, func(sub *Subscription) error {
		if sub.Owner != caller {
			return ErrUnauthorized
		}
		if !fits(sub.Balance, amount) {
			return ErrInvalidAmount
		}
		sub.Balance += amount
		sub.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.compensate(ctx, id, moved)
		return nil, err
	}
	logger.Audit().Info("订阅已充值",
		slog.String("subscription_id", id),
		slog.String("caller", caller),
		slog.Uint64("amount", amount),
		slog.Uint64("balance", sub.Balance),
	)
	return sub, nil
}

// Pause 暂停订阅。
func (s *Service) Pause(ctx context.Context, caller, id string) (*Subscription, error) {
	return s.mutate(ctx, caller, id, "订阅已暂停", func(sub *Subscription, _ int64) error {
		sub.IsPaused = true
		return nil
	})
}

// Resume 恢复订阅，下一次执行时间从当前时刻重新计算。
func (s *Service) Resume(ctx context.Context, caller, id string) (*Subscription, error) {
	return s.mutate(ctx, caller, id, "订阅已恢复", func(sub *Subscription, now int64) error {
		sub.IsPaused = false
		sub.NextRunAt = now + sub.Cadence.Seconds
		return nil
	})
}

// UpdateCadence 更换执行周期，下一次执行时间按新周期从当前时刻计算。
func (s *Service) UpdateCadence(ctx context.Context, caller, id string, cadence Cadence) (*Subscription, error) {
	normalized, err := cadence.normalize()
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, caller, id, "订阅周期已更新", func(sub *Subscription, now int64) error {
		sub.Cadence = normalized
		sub.NextRunAt = now + normalized.Seconds
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, caller, id, event string, apply func(*Subscription, int64) error) (*Subscription, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	now := s.clock.Now().Unix()
	sub, err := s.store.Update(ctx, id, func(sub *Subscription) error {
		if sub.Owner != caller {
			return ErrUnauthorized
		}
		if err := apply(sub, now); err != nil {
			return err
		}
		sub.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info(event,
		slog.String("subscription_id", id),
		slog.String("caller", caller),
		slog.Bool("is_paused", sub.IsPaused),
		slog.Int64("next_run_at", sub.NextRunAt),
	)
	return sub, nil
}

// Cancel 关闭订阅并退还剩余余额，返回退款金额。
func (s *Service) Cancel(ctx context.Context, caller, id string) (uint64, error) {
	if err := requireCaller(caller); err != nil {
		return 0, err
	}

	var (
		moved    []ledger.Transfer
		expected uint64
	)
	if s.ledger != nil {
		current, err := s.store.Get(ctx, id)
		if err != nil {
			return 0, err
		}
		if current.Owner != caller {
			return 0, ErrUnauthorized
		}
		expected = current.Balance
		moved = []ledger.Transfer{{
			Amount: current.Balance, From: current.Vault(), To: caller,
			Authority: identity.VaultAuthority, Memo: "cancel " + id,
		}}
		if err := s.ledger.Batch(ctx, moved); err != nil {
			return 0, err
		}
	}

	sub, err := s.store.Delete(ctx, id, func(sub *Subscription) error {
		if sub.Owner != caller {
			return ErrUnauthorized
		}
		if s.ledger != nil && sub.Balance != expected {
			return ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		s.compensate(ctx, id, moved)
		return 0, err
	}
	logger.Audit().Info("订阅已取消",
		slog.String("subscription_id", id),
		slog.String("caller", caller),
		slog.Uint64("refunded", sub.Balance),
	)
	return sub.Balance, nil
}

// TriggerResult 描述一次成功的触发。配置了 WithRuns 时 PaymentID 指向本次执行的支付。
type TriggerResult struct {
	Subscription  *Subscription `json:"subscription"`
	RunNumber     uint64        `json:"run_number"`
	AmountPaid    uint64        `json:"amount_paid"`
	Fee           uint64        `json:"fee"`
	PaymentID     string        `json:"payment_id,omitempty"`
	EscrowAccount string        `json:"escrow_account,omitempty"`
}

// Trigger 由 keeper 调用，不校验调用方身份，只依赖时间、状态与余额前置条件。
func (s *Service) Trigger(ctx context.Context, keeper, id string) (*TriggerResult, error) {
	result, err := s.trigger(ctx, keeper, id)
	if err != nil {
		metrics.ObserveTrigger(string(xerrors.CodeOf(err)))
		return nil, err
	}
	metrics.ObserveTrigger("ok")
	return result, nil
}

// trigger 先在订阅记录上扣减余额并推进序号，再由 RunOpener 把资金从金库转入
// 本次执行的托管。后一步失败时回滚订阅记录。
func (s *Service) trigger(ctx context.Context, keeper, id string) (*TriggerResult, error) {
	if s.ledger != nil && s.runs == nil {
		return nil, xerrors.New(xerrors.CodeFailedPrecondition, "托管模式下未配置执行支付")
	}
	triggeredAt := s.clock.Now()
	now := triggeredAt.Unix()
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTrigger(current, now); err != nil {
		return nil, err
	}
	price, recipient, err := s.catalog.Quote(ctx, current.AgentID)
	if err != nil {
		return nil, err
	}
	fee, cost, ok := runCost(price)
	if !ok || current.Balance < cost {
		return nil, ErrInsufficientBalance
	}

	run := current.TotalRuns + 1
	var before Subscription
	sub, err := s.store.Update(ctx, id, func(sub *Subscription) error {
		if err := checkTrigger(sub, now); err != nil {
			return err
		}
		if sub.TotalRuns+1 != run {
			return ErrConcurrentModification
		}
		if sub.Balance < cost {
			return ErrInsufficientBalance
		}
		before = *sub
		sub.Balance -= cost
		sub.LastRunAt = now
		sub.NextRunAt = now + sub.Cadence.Seconds
		sub.TotalRuns = run
		sub.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := &TriggerResult{Subscription: sub, RunNumber: run, AmountPaid: cost, Fee: fee}
	if s.runs != nil {
		payment, err := s.runs.OpenScheduledRun(ctx, payments.ScheduledRun{
			SubscriptionID:  id,
			RunNumber:       run,
			Payer:           sub.Owner,
			Recipient:       recipient,
			AgentID:         sub.AgentID,
			Price:           price,
			Fee:             fee,
			Source:          sub.Vault(),
			SourceAuthority: identity.VaultAuthority,
			TriggeredAt:     triggeredAt,
		})
		if err != nil {
			s.rollbackRun(ctx, id, run, cost, before)
			return nil, err
		}
		result.PaymentID = payment.ID
		result.EscrowAccount = payment.EscrowAccount
	}

	logger.Audit().Info("订阅已触发",
		slog.String("subscription_id", id),
		slog.String("keeper", keeper),
		slog.Uint64("run_number", run),
		slog.Uint64("amount_paid", cost),
		slog.Uint64("balance", sub.Balance),
		slog.String("payment_id", result.PaymentID),
	)
	events.Emit(ctx, s.publisher, s.log, events.TypeScheduledTaskTriggered, now, events.ScheduledTaskTriggered{
		SubscriptionID: id,
		AgentID:        sub.AgentID,
		RunNumber:      run,
		Timestamp:      now,
		AmountPaid:     cost,
		PaymentID:      result.PaymentID,
		EscrowAccount:  result.EscrowAccount,
	})
	// 配置了 RunOpener 时收入在支付被领取后回写。
	if s.runs == nil {
		if err := s.catalog.RecordRun(ctx, sub.AgentID, price); err != nil {
			s.log.Warn("回写 agent 统计失败", slog.String("subscription_id", id), slog.Any("error", err))
		}
	}
	return result, nil
}

// rollbackRun 撤销一次已记账但未能生成执行支付的触发。
func (s *Service) rollbackRun(ctx context.Context, id string, run, cost uint64, before Subscription) {
	_, err := s.store.Update(context.WithoutCancel(ctx), id, func(sub *Subscription) error {
		if sub.TotalRuns != run {
			return ErrConcurrentModification
		}
		sub.Balance += cost
		sub.TotalRuns = before.TotalRuns
		sub.LastRunAt = before.LastRunAt
		sub.NextRunAt = before.NextRunAt
		sub.UpdatedAt = before.UpdatedAt
		return nil
	})
	if err != nil {
		s.log.Error("回滚订阅触发失败", slog.String("subscription_id", id), slog.Uint64("run_number", run), slog.Any("error", err))
	}
}

// runCost 返回报价对应的手续费与总扣款，总额超出金额上限时 ok 为 false。
func runCost(price uint64) (fee, cost uint64, ok bool) {
	fee = price / FeeDivisor
	cost, carry := bits.Add64(price, fee, 0)
	return fee, cost, carry == 0 && cost <= ledger.MaxBalance
}

// fits 判断 balance 加上 amount 后是否仍在金额上限之内。
func fits(balance, amount uint64) bool {
	return amount <= ledger.MaxBalance && balance <= ledger.MaxBalance-amount
}

// checkTrigger 按固定顺序校验触发前置条件。
func checkTrigger(sub *Subscription, now int64) error {
	switch {
	case !sub.IsActive:
		return ErrNotActive
	case sub.IsPaused:
		return ErrIsPaused
	case now < sub.NextRunAt:
		return ErrNotTimeYet
	case sub.exhausted():
		return ErrMaxRunsReached
	}
	return nil
}

func (s *Service) compensate(ctx context.Context, id string, moved []ledger.Transfer) {
	if len(moved) == 0 {
		return
	}
	if err := s.ledger.Revert(context.WithoutCancel(ctx), moved); err != nil {
		s.log.Error("回滚资金划转失败", slog.String("subscription_id", id), slog.Any("error", err))
	}
}

// Get 查询订阅。
func (s *Service) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.store.Get(ctx, id)
}

// List 查询订阅列表。
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Subscription, error) {
	return s.store.List(ctx, opts)
}

// Due 返回当前可以成功触发的订阅，供 keeper 扫描。余额不足以支付当前报价
// 或 agent 已不可计费的订阅会被跳过，不占用扫描批次。
func (s *Service) Due(ctx context.Context, limit int) ([]*Subscription, error) {
	if limit <= 0 {
		limit = maxListLimit
	}
	now := s.clock.Now().Unix()
	costs := make(map[string]uint64)
	skipped := 0
	var (
		due    []*Subscription
		cursor DueCursor
	)
	for len(due) < limit {
		page, err := s.store.ListDue(ctx, now, cursor, maxListLimit)
		if err != nil {
			return nil, err
		}
		for _, sub := range page {
			cursor = DueCursor{NextRunAt: sub.NextRunAt, ID: sub.ID}
			if !s.affordable(ctx, sub, costs) {
				skipped++
				continue
			}
			due = append(due, sub)
			if len(due) == limit {
				break
			}
		}
		if len(page) < maxListLimit {
			break
		}
	}
	if skipped > 0 {
		s.log.Debug("跳过无法支付的到期订阅", slog.Int("skipped", skipped))
	}
	return due, nil
}

// affordable 判断订阅余额是否足以支付 agent 的当前报价，costs 缓存同一次扫描内的报价。
func (s *Service) affordable(ctx context.Context, sub *Subscription, costs map[string]uint64) bool {
	cost, ok := costs[sub.AgentID]
	if !ok {
		price, _, err := s.catalog.Quote(ctx, sub.AgentID)
		if err != nil {
			return false
		}
		_, total, within := runCost(price)
		if !within {
			return false
		}
		cost = total
		costs[sub.AgentID] = cost
	}
	return sub.Balance >= cost
}

func requireCaller(caller string) error {
	if strings.TrimSpace(caller) == "" {
		return xerrors.New(xerrors.CodeUnauthenticated, "")
	}
	return nil
}
