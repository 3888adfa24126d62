package scheduler

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/events"
	"SynapsePay/internal/identity"
	"SynapsePay/internal/ledger"
	"SynapsePay/internal/payments"
	"SynapsePay/internal/registry"
	"SynapsePay/internal/storage/sqlstore/sqlstoretest"
)

const (
	owner   = "subscriber-wallet"
	creator = "agent-owner-wallet"
	keeper  = "keeper-1"
	agentID = "daily-report"
	price   = 1_000_000
	cost    = 1_050_000
)

var t0 = time.Unix(1_700_000_000, 0)

type fixture struct {
	svc      *Service
	clock    *clock.Manual
	ledger   ledger.Ledger
	events   *events.MemoryPublisher
	catalog  *registry.Service
	payments *payments.Service
}

type stores struct {
	subs     Store
	agents   registry.Store
	payments payments.Store
	ledger   ledger.Ledger
}

type backend func(t *testing.T) stores

func backends() map[string]backend {
	return map[string]backend{
		"memory": func(*testing.T) stores {
			return stores{NewMemoryStore(), registry.NewMemoryStore(), payments.NewMemoryStore(), ledger.NewMemoryLedger()}
		},
		"sqlite": func(t *testing.T) stores {
			db := sqlstoretest.Open(t)
			return stores{NewSQLStore(db), registry.NewSQLStore(db), payments.NewSQLStore(db), ledger.NewSQLLedger(db)}
		},
	}
}

func newFixture(t *testing.T, open backend, escrow bool) *fixture {
	t.Helper()
	ctx := context.Background()
	st := open(t)
	f := &fixture{clock: clock.NewManual(t0), events: events.NewMemoryPublisher(32)}
	f.catalog = registry.NewService(st.agents, registry.WithClock(f.clock))
	if _, err := f.catalog.Register(ctx, creator, registry.RegisterRequest{
		AgentID: agentID, MetadataCID: "QmMeta", Price: price, Category: "automation",
	}); err != nil {
		t.Fatalf("注册 agent 失败: %v", err)
	}
	paymentOpts := []payments.Option{payments.WithClock(f.clock), payments.WithEarningsRecorder(f.catalog)}
	opts := []Option{WithClock(f.clock), WithPublisher(f.events)}
	if escrow {
		f.ledger = st.ledger
		paymentOpts = append(paymentOpts, payments.WithLedger(st.ledger))
		opts = append(opts, WithLedger(st.ledger))
		if err := st.ledger.Deposit(ctx, owner, 10_000_000); err != nil {
			t.Fatalf("入金失败: %v", err)
		}
	}
	f.payments = payments.NewService(st.payments, paymentOpts...)
	opts = append(opts, WithRuns(f.payments))
	f.svc = NewService(st.subs, f.catalog, opts...)
	return f
}

func (f *fixture) create(t *testing.T, cadence Cadence, maxRuns uint64) *Subscription {
	t.Helper()
	sub, err := f.svc.Create(context.Background(), owner, CreateRequest{AgentID: agentID, Cadence: cadence, MaxRuns: maxRuns})
	if err != nil {
		t.Fatalf("创建订阅失败: %v", err)
	}
	return sub
}

func (f *fixture) balance(t *testing.T, account string) uint64 {
	t.Helper()
	bal, err := f.ledger.Balance(context.Background(), account)
	if err != nil && xerrors.CodeOf(err) != ledger.CodeAccountNotFound {
		t.Fatalf("查询余额失败: %v", err)
	}
	return bal
}

func expectCode(t *testing.T, err error, code xerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("期望错误 %s, 实际成功", code)
	}
	if got := xerrors.CodeOf(err); got != code {
		t.Fatalf("期望错误 %s, got %s (%v)", code, got, err)
	}
}

func TestCadenceSeconds(t *testing.T) {
	cases := []struct {
		cadence Cadence
		want    int64
		err     bool
	}{
		{cadence: Hourly(), want: 3600},
		{cadence: Daily(), want: 86400},
		{cadence: Weekly(), want: 604800},
		{cadence: Monthly(), want: 2592000},
		{cadence: Custom(90), want: 90},
		{cadence: Custom(0), err: true},
		{cadence: Custom(-5), err: true},
		{cadence: Cadence{Kind: "yearly"}, err: true},
	}
	for _, tc := range cases {
		got, err := tc.cadence.ToSeconds()
		if tc.err {
			if !stdErrors.Is(err, ErrInvalidCadence) {
				t.Fatalf("%+v 应返回 ErrInvalidCadence, got %v", tc.cadence, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%+v.ToSeconds() = %d, %v; want %d", tc.cadence, got, err, tc.want)
		}
	}
}

func TestCreate(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, false)
			sub := f.create(t, Daily(), 0)
			if sub.ID != identity.Subscription(owner, agentID) {
				t.Fatalf("订阅标识应由 owner 与 agent 派生")
			}
			if sub.Balance != 0 || !sub.IsActive || sub.IsPaused || sub.NextRunAt != t0.Unix()+86400 {
				t.Fatalf("初始状态错误: %+v", sub)
			}

			_, err := f.svc.Create(ctx, owner, CreateRequest{AgentID: agentID, Cadence: Hourly()})
			expectCode(t, err, CodeSubscriptionExists)
			_, err = f.svc.Create(ctx, owner, CreateRequest{AgentID: "abcdefghijklmnopqrstuvwxyz0123456", Cadence: Hourly()})
			expectCode(t, err, CodeAgentIDTooLong)
			_, err = f.svc.Create(ctx, owner, CreateRequest{AgentID: "other", Cadence: Custom(0)})
			expectCode(t, err, CodeInvalidCadence)
			_, err = f.svc.Create(ctx, "", CreateRequest{AgentID: "other", Cadence: Hourly()})
			expectCode(t, err, xerrors.CodeUnauthenticated)

			stored, err := f.svc.Get(ctx, sub.ID)
			if err != nil || *stored != *sub {
				t.Fatalf("持久化结果不一致: %+v %v", stored, err)
			}
		})
	}
}

func TestOwnerOnlyOperations(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, false)
			sub := f.create(t, Daily(), 0)

			_, err := f.svc.Fund(ctx, "intruder", sub.ID, 100)
			expectCode(t, err, CodeUnauthorized)
			_, err = f.svc.Pause(ctx, "intruder", sub.ID)
			expectCode(t, err, CodeUnauthorized)
			_, err = f.svc.UpdateCadence(ctx, "intruder", sub.ID, Hourly())
			expectCode(t, err, CodeUnauthorized)
			_, err = f.svc.Cancel(ctx, "intruder", sub.ID)
			expectCode(t, err, CodeUnauthorized)
			_, err = f.svc.Fund(ctx, owner, sub.ID, 0)
			expectCode(t, err, CodeInvalidAmount)

			got, _ := f.svc.Get(ctx, sub.ID)
			if got.Balance != 0 || got.IsPaused {
				t.Fatalf("未授权操作不应修改订阅: %+v", got)
			}
		})
	}
}

func TestPauseResumeAndCadence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, backends()["memory"], false)
	sub := f.create(t, Daily(), 0)
	if _, err := f.svc.Fund(ctx, owner, sub.ID, 5*cost); err != nil {
		t.Fatalf("充值失败: %v", err)
	}

	if _, err := f.svc.Pause(ctx, owner, sub.ID); err != nil {
		t.Fatalf("暂停失败: %v", err)
	}
	f.clock.Advance(48 * time.Hour)
	_, err := f.svc.Trigger(ctx, keeper, sub.ID)
	expectCode(t, err, CodeIsPaused)
	if due, _ := f.svc.Due(ctx, 10); len(due) != 0 {
		t.Fatalf("暂停的订阅不应出现在到期列表")
	}

	resumed, err := f.svc.Resume(ctx, owner, sub.ID)
	if err != nil {
		t.Fatalf("恢复失败: %v", err)
	}
	if resumed.IsPaused || resumed.NextRunAt != f.clock.Now().Unix()+86400 {
		t.Fatalf("恢复后应从当前时刻重新计算: %+v", resumed)
	}
	_, err = f.svc.Trigger(ctx, keeper, sub.ID)
	expectCode(t, err, CodeNotTimeYet)

	updated, err := f.svc.UpdateCadence(ctx, owner, sub.ID, Custom(60))
	if err != nil {
		t.Fatalf("更新周期失败: %v", err)
	}
	if updated.Cadence.Seconds != 60 || updated.NextRunAt != f.clock.Now().Unix()+60 {
		t.Fatalf("更新周期结果错误: %+v", updated)
	}
	_, err = f.svc.UpdateCadence(ctx, owner, sub.ID, Custom(0))
	expectCode(t, err, CodeInvalidCadence)

	f.clock.Advance(time.Minute)
	due, _ := f.svc.Due(ctx, 10)
	if len(due) != 1 || due[0].ID != sub.ID {
		t.Fatalf("到期列表错误: %+v", due)
	}
}

func TestTriggerPreconditions(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, false)
			sub := f.create(t, Hourly(), 0)

			_, err := f.svc.Trigger(ctx, keeper, sub.ID)
			expectCode(t, err, CodeNotTimeYet)

			f.clock.Advance(time.Hour)
			_, err = f.svc.Trigger(ctx, keeper, sub.ID)
			expectCode(t, err, CodeInsufficientBalance)

			if _, err := f.svc.Fund(ctx, owner, sub.ID, cost-1); err != nil {
				t.Fatalf("充值失败: %v", err)
			}
			_, err = f.svc.Trigger(ctx, keeper, sub.ID)
			expectCode(t, err, CodeInsufficientBalance)

			if _, err := f.svc.Fund(ctx, owner, sub.ID, 1); err != nil {
				t.Fatalf("充值失败: %v", err)
			}
			if _, err := f.catalog.Deactivate(ctx, creator, agentID); err != nil {
				t.Fatalf("下架失败: %v", err)
			}
			_, err = f.svc.Trigger(ctx, keeper, sub.ID)
			expectCode(t, err, registry.CodeAgentNotActive)

			if _, err := f.catalog.Reactivate(ctx, creator, agentID); err != nil {
				t.Fatalf("上架失败: %v", err)
			}
			res, err := f.svc.Trigger(ctx, keeper, sub.ID)
			if err != nil {
				t.Fatalf("触发失败: %v", err)
			}
			got := res.Subscription
			if got.Balance != 0 || got.TotalRuns != 1 || got.LastRunAt != f.clock.Now().Unix() ||
				got.NextRunAt != f.clock.Now().Unix()+3600 {
				t.Fatalf("触发后状态错误: %+v", got)
			}
			if res.AmountPaid != cost || res.Fee != 50_000 || res.RunNumber != 1 {
				t.Fatalf("触发结果错误: %+v", res)
			}

			_, err = f.svc.Trigger(ctx, keeper, sub.ID)
			expectCode(t, err, CodeNotTimeYet)
		})
	}
}

func TestMaxRunsScenario(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, true)
			sub := f.create(t, Daily(), 5)
			if _, err := f.svc.Fund(ctx, owner, sub.ID, 6_000_000); err != nil {
				t.Fatalf("充值失败: %v", err)
			}
			if got := f.balance(t, sub.Vault()); got != 6_000_000 {
				t.Fatalf("金库余额 = %d", got)
			}

			var runs []*TriggerResult
			for call := 1; call <= 9; call++ {
				f.clock.Advance(24 * time.Hour)
				res, err := f.svc.Trigger(ctx, keeper, sub.ID)
				if call <= 5 {
					if err != nil {
						t.Fatalf("第 %d 次触发失败: %v", call, err)
					}
					if res.RunNumber != uint64(call) || res.PaymentID == "" || res.EscrowAccount != identity.Escrow(res.PaymentID) {
						t.Fatalf("第 %d 次触发结果错误: %+v", call, res)
					}
					if got := f.balance(t, res.EscrowAccount); got != price {
						t.Fatalf("执行托管余额 = %d", got)
					}
					runs = append(runs, res)
					continue
				}
				expectCode(t, err, CodeMaxRunsReached)
			}

			got, _ := f.svc.Get(ctx, sub.ID)
			if got.TotalRuns != 5 || got.Balance != 6_000_000-5*cost {
				t.Fatalf("最终状态错误: %+v", got)
			}
			if vault := f.balance(t, sub.Vault()); vault != got.Balance {
				t.Fatalf("金库余额 %d 与订阅余额 %d 不一致", vault, got.Balance)
			}
			if fees := f.balance(t, identity.FeeTreasury); fees != 5*50_000 {
				t.Fatalf("金库手续费 = %d", fees)
			}

			triggered := f.events.Events(events.TypeScheduledTaskTriggered)
			if len(triggered) != 5 {
				t.Fatalf("期望 5 条触发事件, got %d", len(triggered))
			}
			var last events.ScheduledTaskTriggered
			if err := triggered[4].Decode(&last); err != nil || last.RunNumber != 5 || last.AmountPaid != cost ||
				last.PaymentID != runs[4].PaymentID {
				t.Fatalf("触发事件内容错误: %+v %v", last, err)
			}

			for _, res := range runs {
				p, err := f.payments.GetPayment(ctx, res.PaymentID)
				if err != nil {
					t.Fatalf("查询执行支付失败: %v", err)
				}
				if p.State != payments.StateExecuting || p.Payer != owner || p.Recipient != creator ||
					p.Amount != price || p.PlatformFee != 50_000 {
					t.Fatalf("执行支付内容错误: %+v", p)
				}
			}
		})
	}
}

func TestScheduledRunIsClaimableByAgentOwner(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, true)
			sub := f.create(t, Daily(), 0)
			if _, err := f.svc.Fund(ctx, owner, sub.ID, 2*cost); err != nil {
				t.Fatalf("充值失败: %v", err)
			}
			f.clock.Advance(24 * time.Hour)
			first, err := f.svc.Trigger(ctx, keeper, sub.ID)
			if err != nil {
				t.Fatalf("触发失败: %v", err)
			}
			f.clock.Advance(24 * time.Hour)
			second, err := f.svc.Trigger(ctx, keeper, sub.ID)
			if err != nil {
				t.Fatalf("触发失败: %v", err)
			}

			if _, err := f.payments.CompleteTask(ctx, creator, first.PaymentID, "QmResult"); err != nil {
				t.Fatalf("完成任务失败: %v", err)
			}
			if _, err := f.payments.ClaimPayment(ctx, creator, first.PaymentID); err != nil {
				t.Fatalf("领取失败: %v", err)
			}
			if got := f.balance(t, creator); got != price {
				t.Fatalf("agent 所有者余额 = %d, want %d", got, price)
			}
			if got := f.balance(t, first.EscrowAccount); got != 0 {
				t.Fatalf("领取后托管应清空, got %d", got)
			}

			before := f.balance(t, owner)
			if _, err := f.payments.RefundPayment(ctx, creator, second.PaymentID); err != nil {
				t.Fatalf("退款失败: %v", err)
			}
			if got := f.balance(t, owner); got != before+price {
				t.Fatalf("退款后订阅者余额 = %d, want %d", got, before+price)
			}

			agent, _ := f.catalog.Get(ctx, agentID)
			if agent.TotalRuns != 1 || agent.TotalEarned != price {
				t.Fatalf("领取后应回写目录统计: %+v", agent)
			}
		})
	}
}

func TestRecreatedSubscriptionGetsFreshEscrow(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, true)
			runOnce := func() *TriggerResult {
				t.Helper()
				sub := f.create(t, Hourly(), 0)
				if _, err := f.svc.Fund(ctx, owner, sub.ID, cost); err != nil {
					t.Fatalf("充值失败: %v", err)
				}
				f.clock.Advance(time.Hour)
				res, err := f.svc.Trigger(ctx, keeper, sub.ID)
				if err != nil {
					t.Fatalf("触发失败: %v", err)
				}
				if _, err := f.svc.Cancel(ctx, owner, sub.ID); err != nil {
					t.Fatalf("取消失败: %v", err)
				}
				return res
			}

			first := runOnce()
			second := runOnce()
			if first.RunNumber != 1 || second.RunNumber != 1 {
				t.Fatalf("重新订阅后序号应从 1 开始: %d %d", first.RunNumber, second.RunNumber)
			}
			if first.PaymentID == second.PaymentID || first.EscrowAccount == second.EscrowAccount {
				t.Fatalf("重新订阅后的执行不应复用托管账户: %s", first.EscrowAccount)
			}
			if got := f.balance(t, first.EscrowAccount); got != price {
				t.Fatalf("第一次执行托管余额 = %d", got)
			}
			if got := f.balance(t, second.EscrowAccount); got != price {
				t.Fatalf("第二次执行托管余额 = %d", got)
			}
		})
	}
}

type failingRuns struct{}

func (failingRuns) OpenScheduledRun(context.Context, payments.ScheduledRun) (*payments.Payment, error) {
	return nil, xerrors.New(xerrors.CodeStorageFailure, "payments unavailable")
}

func TestTriggerRollsBackWhenRunCannotOpen(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, backends()["memory"], false)
	f.svc.runs = failingRuns{}
	sub := f.create(t, Hourly(), 0)
	if _, err := f.svc.Fund(ctx, owner, sub.ID, cost); err != nil {
		t.Fatalf("充值失败: %v", err)
	}
	f.clock.Advance(time.Hour)
	_, err := f.svc.Trigger(ctx, keeper, sub.ID)
	expectCode(t, err, xerrors.CodeStorageFailure)

	got, _ := f.svc.Get(ctx, sub.ID)
	if got.Balance != cost || got.TotalRuns != 0 || got.LastRunAt != 0 || got.NextRunAt != sub.NextRunAt {
		t.Fatalf("失败的触发应回滚订阅: %+v", got)
	}
	if n := len(f.events.Events(events.TypeScheduledTaskTriggered)); n != 0 {
		t.Fatalf("失败的触发不应发出事件, got %d", n)
	}
}

func TestEscrowRequiresRunOpener(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, backends()["memory"], true)
	f.svc.runs = nil
	sub := f.create(t, Hourly(), 0)
	if _, err := f.svc.Fund(ctx, owner, sub.ID, cost); err != nil {
		t.Fatalf("充值失败: %v", err)
	}
	f.clock.Advance(time.Hour)
	_, err := f.svc.Trigger(ctx, keeper, sub.ID)
	expectCode(t, err, xerrors.CodeFailedPrecondition)
	if got := f.balance(t, sub.Vault()); got != cost {
		t.Fatalf("金库余额不应变化, got %d", got)
	}
}

func TestDueSkipsExhaustedAndUnderfunded(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, false)
			exhausted := f.create(t, Hourly(), 1)
			if _, err := f.svc.Fund(ctx, owner, exhausted.ID, 3*cost); err != nil {
				t.Fatalf("充值失败: %v", err)
			}
			f.clock.Advance(time.Hour)
			if _, err := f.svc.Trigger(ctx, keeper, exhausted.ID); err != nil {
				t.Fatalf("触发失败: %v", err)
			}

			poor, err := f.svc.Create(ctx, "poor-wallet", CreateRequest{AgentID: agentID, Cadence: Hourly()})
			if err != nil {
				t.Fatalf("创建订阅失败: %v", err)
			}
			if _, err := f.svc.Fund(ctx, "poor-wallet", poor.ID, cost-1); err != nil {
				t.Fatalf("充值失败: %v", err)
			}
			funded, err := f.svc.Create(ctx, "rich-wallet", CreateRequest{AgentID: agentID, Cadence: Hourly()})
			if err != nil {
				t.Fatalf("创建订阅失败: %v", err)
			}
			if _, err := f.svc.Fund(ctx, "rich-wallet", funded.ID, cost); err != nil {
				t.Fatalf("充值失败: %v", err)
			}

			f.clock.Advance(2 * time.Hour)
			due, err := f.svc.Due(ctx, 1)
			if err != nil {
				t.Fatalf("查询到期订阅失败: %v", err)
			}
			if len(due) != 1 || due[0].ID != funded.ID {
				t.Fatalf("到期列表应只包含可支付的订阅: %+v", due)
			}
		})
	}
}

func TestFundAndCostOverflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, backends()["memory"], false)
	sub := f.create(t, Hourly(), 0)
	if _, err := f.svc.Fund(ctx, owner, sub.ID, ledger.MaxBalance); err != nil {
		t.Fatalf("充值失败: %v", err)
	}
	_, err := f.svc.Fund(ctx, owner, sub.ID, 1)
	expectCode(t, err, CodeInvalidAmount)
	_, err = f.svc.Fund(ctx, owner, sub.ID, ^uint64(0))
	expectCode(t, err, CodeInvalidAmount)
	got, _ := f.svc.Get(ctx, sub.ID)
	if got.Balance != ledger.MaxBalance {
		t.Fatalf("溢出的充值不应修改余额: %d", got.Balance)
	}

	if _, _, ok := runCost(^uint64(0)); ok {
		t.Fatalf("溢出的报价应被拒绝")
	}
	fee, total, ok := runCost(registry.MaxPrice)
	if !ok || total != registry.MaxPrice+fee || total > ledger.MaxBalance {
		t.Fatalf("上限报价的总扣款错误: %d %d %v", fee, total, ok)
	}
}

func TestFundThenCancelRefundsExactly(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, true)
			sub := f.create(t, Weekly(), 0)
			before := f.balance(t, owner)

			const x = 3_333_333
			if _, err := f.svc.Fund(ctx, owner, sub.ID, x); err != nil {
				t.Fatalf("充值失败: %v", err)
			}
			if got := f.balance(t, owner); got != before-x {
				t.Fatalf("充值后钱包余额 = %d", got)
			}
			refunded, err := f.svc.Cancel(ctx, owner, sub.ID)
			if err != nil || refunded != x {
				t.Fatalf("取消退款 = %d, %v; want %d", refunded, err, x)
			}
			if got := f.balance(t, owner); got != before {
				t.Fatalf("退款后钱包余额 = %d, want %d", got, before)
			}
			if _, err := f.svc.Get(ctx, sub.ID); !stdErrors.Is(err, ErrSubscriptionNotFound) {
				t.Fatalf("取消后订阅应被删除: %v", err)
			}

			// 同一 (owner, agent) 可以重新订阅。
			f.create(t, Weekly(), 0)
		})
	}
}

func TestFundWithoutWalletBalance(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, backends()["memory"], true)
	sub := f.create(t, Daily(), 0)
	_, err := f.svc.Fund(ctx, owner, sub.ID, 20_000_000)
	expectCode(t, err, ledger.CodeInsufficientFunds)
	got, _ := f.svc.Get(ctx, sub.ID)
	if got.Balance != 0 {
		t.Fatalf("划转失败时不应增加余额")
	}
}

func TestList(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, open, false)
			if _, err := f.catalog.Register(ctx, creator, registry.RegisterRequest{
				AgentID: "second", MetadataCID: "QmMeta2", Price: 10, Category: "ai",
			}); err != nil {
				t.Fatalf("注册失败: %v", err)
			}
			f.create(t, Daily(), 0)
			f.clock.Advance(time.Second)
			if _, err := f.svc.Create(ctx, owner, CreateRequest{AgentID: "second", Cadence: Hourly()}); err != nil {
				t.Fatalf("创建失败: %v", err)
			}
			if _, err := f.svc.Create(ctx, "someone", CreateRequest{AgentID: "second", Cadence: Hourly()}); err != nil {
				t.Fatalf("创建失败: %v", err)
			}

			mine, err := f.svc.List(ctx, ListOptions{Owner: owner})
			if err != nil || len(mine) != 2 || mine[0].AgentID != "second" {
				t.Fatalf("按 owner 查询错误: %+v %v", mine, err)
			}
			forAgent, _ := f.svc.List(ctx, ListOptions{AgentID: "second"})
			if len(forAgent) != 2 {
				t.Fatalf("按 agent 查询错误: %d", len(forAgent))
			}
		})
	}
}
