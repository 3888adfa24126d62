// Package keeper 周期性扫描到期订阅并驱动 scheduler 触发扣费，同时清理过期发票。
package keeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/observability/metrics"
	"SynapsePay/internal/scheduler"
	"SynapsePay/pkg/logger"
)

// DefaultSchedule 为默认扫描周期。
const DefaultSchedule = "@every 30s"

// DueLister 返回当前可触发的订阅。
type DueLister interface {
	Due(ctx context.Context, limit int) ([]*scheduler.Subscription, error)
}

// InvoiceSweeper 清理过期发票。
type InvoiceSweeper interface {
	ExpireDue(ctx context.Context, limit int) (int, error)
}

// ScanResult 汇总一次扫描的结果。
type ScanResult struct {
	Enqueued int
	Expired  int
}

// Keeper 按 cron 表达式运行 Scan。
type Keeper struct {
	subscriptions DueLister
	invoices      InvoiceSweeper
	producer      Producer
	schedule      string
	batch         int
	clock         clock.Clock
	log           *slog.Logger
}

// Option 定义可选配置。
type Option func(*Keeper)

// WithSchedule 覆盖扫描周期，接受标准 cron 表达式与 @every 描述符。
func WithSchedule(spec string) Option {
	return func(k *Keeper) {
		if spec != "" {
			k.schedule = spec
		}
	}
}

// WithBatchSize 限制单次扫描处理的订阅与发票数量。
func WithBatchSize(n int) Option {
	return func(k *Keeper) {
		if n > 0 {
			k.batch = n
		}
	}
}

// WithInvoiceSweeper 启用过期发票清理。
func WithInvoiceSweeper(s InvoiceSweeper) Option {
	return func(k *Keeper) { k.invoices = s }
}

// WithClock 指定时钟。
func WithClock(c clock.Clock) Option {
	return func(k *Keeper) {
		if c != nil {
			k.clock = c
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) {
		if l != nil {
			k.log = l
		}
	}
}

// New 构造 Keeper。
func New(subscriptions DueLister, producer Producer, opts ...Option) *Keeper {
	k := &Keeper{
		subscriptions: subscriptions,
		producer:      producer,
		schedule:      DefaultSchedule,
		batch:         100,
		clock:         clock.System{},
		log:           logger.Named("keeper"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(k)
		}
	}
	return k
}

// Scan 将到期订阅放入队列，并清理过期发票。
func (k *Keeper) Scan(ctx context.Context) (ScanResult, error) {
	var result ScanResult
	if k.subscriptions == nil || k.producer == nil {
		return result, xerrors.New(xerrors.CodeInitializationFailure, "keeper 未初始化")
	}
	started := k.clock.Now()
	defer func() {
		metrics.ObserveKeeperScan(result.Enqueued, k.clock.Now().Sub(started))
	}()

	due, err := k.subscriptions.Due(ctx, k.batch)
	if err != nil {
		return result, err
	}
	for _, sub := range due {
		if err := k.producer.Publish(ctx, sub.ID); err != nil {
			return result, err
		}
		result.Enqueued++
	}

	if k.invoices != nil {
		expired, err := k.invoices.ExpireDue(ctx, k.batch)
		result.Expired = expired
		if err != nil {
			return result, err
		}
	}
	if result.Enqueued > 0 || result.Expired > 0 {
		k.log.Info("keeper 扫描完成",
			slog.Int("enqueued", result.Enqueued),
			slog.Int("expired_invoices", result.Expired),
		)
	}
	return result, nil
}

// Run 启动 cron 调度，阻塞到 ctx 结束。上一次扫描未结束时跳过本轮。
func (k *Keeper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(k.schedule, func() {
		if _, err := k.Scan(ctx); err != nil && ctx.Err() == nil {
			k.log.Error("keeper 扫描失败", slog.Any("error", err))
		}
	}); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "keeper 调度表达式无效")
	}
	k.log.Info("keeper 已启动", slog.String("schedule", k.schedule), slog.Int("batch", k.batch))
	c.Start()
	<-ctx.Done()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(10 * time.Second):
		k.log.Warn("等待扫描结束超时")
	}
	return ctx.Err()
}
