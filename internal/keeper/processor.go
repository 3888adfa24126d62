package keeper

import (
	"context"
	"log/slog"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/observability/alerting"
	"SynapsePay/internal/scheduler"
	"SynapsePay/pkg/logger"
)

// DefaultIdentity 为未配置时 keeper 使用的调用方标识。
const DefaultIdentity = "keeper"

// Triggerer 定义处理器所需的订阅触发能力。
type Triggerer interface {
	Trigger(ctx context.Context, keeper, id string) (*scheduler.TriggerResult, error)
}

// Processor 从队列消费订阅 ID 并调用 Trigger。
type Processor struct {
	trigger     Triggerer
	consumer    Consumer
	workerCount int
	identity    string
	clock       clock.Clock
	log         *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.log = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithIdentity 设置 keeper 的调用方标识，会写入审计日志。
func WithIdentity(identity string) ProcessorOption {
	return func(p *Processor) {
		if identity != "" {
			p.identity = identity
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithProcessorClock 指定告警时间戳使用的时钟。
func WithProcessorClock(c clock.Clock) ProcessorOption {
	return func(p *Processor) {
		if c != nil {
			p.clock = c
		}
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(trigger Triggerer, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		trigger:     trigger,
		consumer:    consumer,
		workerCount: 1,
		identity:    DefaultIdentity,
		clock:       clock.System{},
		log:         logger.Named("keeper.processor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动消费循环，阻塞到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.trigger == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置订阅消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.Handle)
}

// Handle 触发单个订阅。预期内的拒绝不视为错误。
func (p *Processor) Handle(ctx context.Context, subscriptionID string) error {
	result, err := p.trigger.Trigger(ctx, p.identity, subscriptionID)
	if err == nil {
		p.log.Debug("订阅触发成功",
			slog.String("subscription_id", subscriptionID),
			slog.Uint64("run_number", result.RunNumber),
			slog.String("payment_id", result.PaymentID),
		)
		return nil
	}

	switch xerrors.CodeOf(err) {
	case scheduler.CodeSubscriptionNotFound, scheduler.CodeNotActive, scheduler.CodeIsPaused, scheduler.CodeNotTimeYet:
		p.log.Debug("跳过订阅", slog.String("subscription_id", subscriptionID), slog.String("reason", err.Error()))
		return nil
	case scheduler.CodeInsufficientBalance, scheduler.CodeMaxRunsReached:
		p.log.Warn("订阅无法触发", slog.String("subscription_id", subscriptionID), slog.String("reason", err.Error()))
		p.emitAlert(ctx, subscriptionID, err)
		return nil
	}

	p.log.Error("订阅触发失败", slog.String("subscription_id", subscriptionID), slog.Any("error", err))
	p.emitAlert(ctx, subscriptionID, err)
	return err
}

func (p *Processor) emitAlert(ctx context.Context, subscriptionID string, cause error) {
	if p.alerter == nil {
		return
	}
	event := alerting.FromError(subscriptionID, cause, p.clock.Now())
	if event.Metadata == nil {
		event.Metadata = map[string]string{}
	}
	event.Metadata["keeper"] = p.identity
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.log.Error("告警通知失败", slog.Any("error", err), slog.String("subscription_id", subscriptionID))
	}
}
