package keeper

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/identity"
	"SynapsePay/internal/ledger"
	"SynapsePay/internal/observability/alerting"
	"SynapsePay/internal/payments"
	"SynapsePay/internal/registry"
	"SynapsePay/internal/scheduler"
)

const (
	agentID = "nightly-digest"
	price   = 1_000_000
	cost    = 1_050_000
)

var t0 = time.Unix(1_700_000_000, 0)

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingAlerter) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

type env struct {
	clock     *clock.Manual
	ledger    ledger.Ledger
	scheduler *scheduler.Service
	payments  *payments.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{clock: clock.NewManual(t0), ledger: ledger.NewMemoryLedger()}
	catalog := registry.NewService(registry.NewMemoryStore(), registry.WithClock(e.clock))
	if _, err := catalog.Register(ctx, "creator", registry.RegisterRequest{
		AgentID: agentID, MetadataCID: "QmDigest", Price: price, Category: "automation",
	}); err != nil {
		t.Fatalf("注册 agent 失败: %v", err)
	}
	e.payments = payments.NewService(payments.NewMemoryStore(),
		payments.WithClock(e.clock), payments.WithLedger(e.ledger))
	e.scheduler = scheduler.NewService(scheduler.NewMemoryStore(), catalog,
		scheduler.WithClock(e.clock), scheduler.WithLedger(e.ledger), scheduler.WithRuns(e.payments))
	return e
}

func (e *env) subscribe(t *testing.T, owner string, funding uint64) *scheduler.Subscription {
	t.Helper()
	return e.subscribeLimited(t, owner, funding, 0)
}

func (e *env) subscribeLimited(t *testing.T, owner string, funding, maxRuns uint64) *scheduler.Subscription {
	t.Helper()
	ctx := context.Background()
	sub, err := e.scheduler.Create(ctx, owner, scheduler.CreateRequest{AgentID: agentID, Cadence: scheduler.Daily(), MaxRuns: maxRuns})
	if err != nil {
		t.Fatalf("创建订阅失败: %v", err)
	}
	if funding > 0 {
		if err := e.ledger.Deposit(ctx, owner, funding); err != nil {
			t.Fatalf("入金失败: %v", err)
		}
		if sub, err = e.scheduler.Fund(ctx, owner, sub.ID, funding); err != nil {
			t.Fatalf("充值失败: %v", err)
		}
	}
	return sub
}

func drain(t *testing.T, q *MemoryQueue, p *Processor) {
	t.Helper()
	for q.Len() > 0 {
		id := <-q.ch
		if err := p.Handle(context.Background(), id); err != nil {
			t.Fatalf("处理订阅 %s 失败: %v", id, err)
		}
	}
}

func TestScanAndProcess(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	funded := e.subscribe(t, "alice", 2*cost)
	broke := e.subscribe(t, "bob", 0)
	paused := e.subscribe(t, "carol", cost)
	if _, err := e.scheduler.Pause(ctx, "carol", paused.ID); err != nil {
		t.Fatalf("暂停失败: %v", err)
	}

	queue := NewMemoryQueue(16)
	alerts := &recordingAlerter{}
	k := New(e.scheduler, queue, WithClock(e.clock))
	p := NewProcessor(e.scheduler, queue, WithAlertDispatcher(alerts), WithProcessorClock(e.clock))

	result, err := k.Scan(ctx)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if result.Enqueued != 0 {
		t.Fatalf("未到期不应入队: %+v", result)
	}

	e.clock.Advance(24 * time.Hour)
	result, err = k.Scan(ctx)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	// 余额为 0 的订阅付不起当前报价，不会入队。
	if result.Enqueued != 1 {
		t.Fatalf("期望入队 1 个订阅，实际 %d", result.Enqueued)
	}
	drain(t, queue, p)

	got, err := e.scheduler.Get(ctx, funded.ID)
	if err != nil {
		t.Fatalf("查询订阅失败: %v", err)
	}
	if got.TotalRuns != 1 || got.Balance != cost {
		t.Fatalf("订阅状态错误: runs=%d balance=%d", got.TotalRuns, got.Balance)
	}
	if fired := alerts.snapshot(); len(fired) != 0 {
		t.Fatalf("不应产生告警: %+v", fired)
	}

	// 已触发的订阅要等下一个周期，补足余额后的订阅在下一次扫描入队。
	if err := e.ledger.Deposit(ctx, "bob", cost); err != nil {
		t.Fatalf("入金失败: %v", err)
	}
	if _, err := e.scheduler.Fund(ctx, "bob", broke.ID, cost); err != nil {
		t.Fatalf("充值失败: %v", err)
	}
	result, err = k.Scan(ctx)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if result.Enqueued != 1 {
		t.Fatalf("期望入队 1 个订阅，实际 %d", result.Enqueued)
	}
}

func TestScanDoesNotStallOnExhaustedSubscriptions(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	var exhausted []*scheduler.Subscription
	for i := 0; i < 2; i++ {
		exhausted = append(exhausted, e.subscribeLimited(t, fmt.Sprintf("done-%d", i), 3*cost, 1))
	}
	queue := NewMemoryQueue(16)
	alerts := &recordingAlerter{}
	k := New(e.scheduler, queue, WithClock(e.clock), WithBatchSize(2))
	p := NewProcessor(e.scheduler, queue, WithAlertDispatcher(alerts), WithProcessorClock(e.clock))

	e.clock.Advance(24 * time.Hour)
	if result, err := k.Scan(ctx); err != nil || result.Enqueued != 2 {
		t.Fatalf("扫描结果错误: %+v, %v", result, err)
	}
	drain(t, queue, p)
	for _, sub := range exhausted {
		got, _ := e.scheduler.Get(ctx, sub.ID)
		if got.TotalRuns != 1 {
			t.Fatalf("订阅应已执行一次: %+v", got)
		}
	}

	underfunded := e.subscribe(t, "short", cost-1)
	funded := e.subscribe(t, "late", cost)
	for round := 0; round < 5; round++ {
		e.clock.Advance(24 * time.Hour)
		if _, err := k.Scan(ctx); err != nil {
			t.Fatalf("扫描失败: %v", err)
		}
		drain(t, queue, p)
	}

	got, _ := e.scheduler.Get(ctx, funded.ID)
	if got.TotalRuns != 1 {
		t.Fatalf("有余额的订阅应被触发: %+v", got)
	}
	if got, _ := e.scheduler.Get(ctx, underfunded.ID); got.TotalRuns != 0 {
		t.Fatalf("余额不足的订阅不应被触发: %+v", got)
	}
	if fired := alerts.snapshot(); len(fired) != 0 {
		t.Fatalf("跳过的订阅不应反复告警: %+v", fired)
	}
}

func TestScanExpiresInvoices(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		if _, err := e.payments.CreateInvoice(ctx, "payer", payments.CreateInvoiceRequest{
			Recipient: "creator", AgentID: agentID, Amount: 100, ExpiresAt: t0.Unix() + int64(60*(i+1)),
		}); err != nil {
			t.Fatalf("创建发票失败: %v", err)
		}
	}
	k := New(e.scheduler, NewMemoryQueue(4), WithClock(e.clock), WithInvoiceSweeper(e.payments), WithBatchSize(10))

	e.clock.Advance(2 * time.Minute)
	result, err := k.Scan(ctx)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if result.Expired != 2 {
		t.Fatalf("期望过期 2 张发票，实际 %d", result.Expired)
	}
	if result, _ = k.Scan(ctx); result.Expired != 0 {
		t.Fatalf("重复扫描不应再次过期: %d", result.Expired)
	}
}

type stubTrigger struct {
	err error
}

func (s stubTrigger) Trigger(context.Context, string, string) (*scheduler.TriggerResult, error) {
	return nil, s.err
}

func TestProcessorHandleClassifiesErrors(t *testing.T) {
	storageErr := xerrors.New(xerrors.CodeStorageFailure, "disk full")
	cases := []struct {
		name    string
		err     error
		wantErr bool
		alerts  int
	}{
		{name: "not found", err: scheduler.ErrSubscriptionNotFound},
		{name: "not active", err: scheduler.ErrNotActive},
		{name: "paused", err: scheduler.ErrIsPaused},
		{name: "not time yet", err: scheduler.ErrNotTimeYet},
		{name: "insufficient balance", err: scheduler.ErrInsufficientBalance, alerts: 1},
		{name: "max runs", err: scheduler.ErrMaxRunsReached, alerts: 1},
		{name: "storage", err: storageErr, wantErr: true, alerts: 1},
		{name: "plain", err: stdErrors.New("boom"), wantErr: true, alerts: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alerts := &recordingAlerter{}
			p := NewProcessor(stubTrigger{err: tc.err}, nil, WithAlertDispatcher(alerts), WithIdentity("keeper-7"))
			err := p.Handle(context.Background(), "sub-1")
			if (err != nil) != tc.wantErr {
				t.Fatalf("Handle() error = %v, wantErr %v", err, tc.wantErr)
			}
			fired := alerts.snapshot()
			if len(fired) != tc.alerts {
				t.Fatalf("期望 %d 条告警，实际 %d", tc.alerts, len(fired))
			}
			if len(fired) == 1 && fired[0].Metadata["keeper"] != "keeper-7" {
				t.Fatalf("告警缺少 keeper 标识: %+v", fired[0])
			}
		})
	}
}

func TestProcessorHandlesConcurrentSubscriptions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	e := newEnv(t)
	total := 40
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		ids = append(ids, e.subscribe(t, fmt.Sprintf("owner-%02d", i), cost).ID)
	}
	e.clock.Advance(24 * time.Hour)

	queue := NewMemoryQueue(64)
	k := New(e.scheduler, queue, WithClock(e.clock))
	p := NewProcessor(e.scheduler, queue, WithWorkerCount(8))

	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	if result, err := k.Scan(ctx); err != nil || result.Enqueued != total {
		t.Fatalf("扫描结果错误: %+v, %v", result, err)
	}

	deadline := time.After(5 * time.Second)
	for {
		triggered := 0
		for _, id := range ids {
			sub, err := e.scheduler.Get(ctx, id)
			if err != nil {
				t.Fatalf("查询订阅失败: %v", err)
			}
			if sub.TotalRuns == 1 {
				triggered++
			}
		}
		if triggered == total {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("订阅未能及时触发，已完成 %d", triggered)
		case <-time.After(20 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil && !stdErrors.Is(err, context.Canceled) {
		t.Fatalf("processor 异常退出: %v", err)
	}
	fees, err := e.ledger.Balance(context.Background(), identity.FeeTreasury)
	if err != nil || fees != uint64(total)*(cost-price) {
		t.Fatalf("金库余额错误: %d, %v", fees, err)
	}
}

func TestRunRejectsInvalidSchedule(t *testing.T) {
	e := newEnv(t)
	k := New(e.scheduler, NewMemoryQueue(1), WithSchedule("every now and then"))
	err := k.Run(context.Background())
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("期望调度表达式错误，实际 %v", err)
	}
}

func TestMemoryQueueCloseReleasesBlockedPublish(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Publish(context.Background(), "first"); err != nil {
		t.Fatalf("投递失败: %v", err)
	}

	published := make(chan error, 1)
	go func() { published <- q.Publish(context.Background(), "second") }()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- q.Close() }()
	select {
	case err := <-closed:
		if err != nil {
			t.Fatalf("关闭失败: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("队列已满时 Close 不应阻塞")
	}
	select {
	case err := <-published:
		if xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
			t.Fatalf("关闭后阻塞的投递应失败: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("阻塞的投递未随关闭返回")
	}
	if q.Len() != 1 {
		t.Fatalf("已入队的元素应保留, len=%d", q.Len())
	}
}

func TestMemoryQueueConsumeDrainsAfterClose(t *testing.T) {
	q := NewMemoryQueue(4)
	for _, id := range []string{"a", "b", "c"} {
		if err := q.Publish(context.Background(), id); err != nil {
			t.Fatalf("投递失败: %v", err)
		}
	}
	if err := q.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	var (
		mu   sync.Mutex
		seen []string
	)
	err := q.Consume(context.Background(), 2, func(_ context.Context, id string) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, id)
		return nil
	})
	if err != nil {
		t.Fatalf("消费失败: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("关闭后应处理完剩余元素: %v", seen)
	}
}

func TestMemoryQueueRejectsAfterClose(t *testing.T) {
	q := NewMemoryQueue(1)
	if err := q.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	if err := q.Publish(context.Background(), "sub"); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("关闭后投递应失败: %v", err)
	}
}
