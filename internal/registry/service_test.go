package registry

import (
	"context"
	stdErrors "errors"
	"strings"
	"testing"
	"time"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/storage/sqlstore/sqlstoretest"
)

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLStore(sqlstoretest.Open(t)),
	}
}

func newTestService(store Store) (*Service, *clock.Manual) {
	c := clock.NewManual(time.Unix(1_700_000_000, 0))
	return NewService(store, WithClock(c)), c
}

func validRequest() RegisterRequest {
	return RegisterRequest{AgentID: "summarizer", MetadataCID: "QmMeta", Price: 1_000_000, Category: "AI"}
}

func TestRegisterValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RegisterRequest)
		want   error
	}{
		{"empty id", func(r *RegisterRequest) { r.AgentID = "" }, xerrors.New(xerrors.CodeInvalidArgument, "")},
		{"id too long", func(r *RegisterRequest) { r.AgentID = strings.Repeat("a", MaxAgentIDLen+1) }, ErrAgentIDTooLong},
		{"cid too long", func(r *RegisterRequest) { r.MetadataCID = strings.Repeat("Q", MaxMetadataCIDLen+1) }, ErrMetadataCIDTooLong},
		{"zero price", func(r *RegisterRequest) { r.Price = 0 }, ErrInvalidPrice},
		{"price above cap", func(r *RegisterRequest) { r.Price = MaxPrice + 1 }, ErrInvalidPrice},
		{"bad category", func(r *RegisterRequest) { r.Category = "gaming" }, ErrInvalidCategory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(NewMemoryStore())
			req := validRequest()
			tc.mutate(&req)
			if _, err := svc.Register(context.Background(), "owner", req); !stdErrors.Is(err, tc.want) {
				t.Fatalf("Register() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRegisterBoundaryLengths(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	req := validRequest()
	req.AgentID = strings.Repeat("a", MaxAgentIDLen)
	req.MetadataCID = strings.Repeat("Q", MaxMetadataCIDLen)
	if _, err := svc.Register(context.Background(), "owner", req); err != nil {
		t.Fatalf("边界长度应允许注册: %v", err)
	}
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(store)
			ctx := context.Background()
			agent, err := svc.Register(ctx, "owner", validRequest())
			if err != nil {
				t.Fatalf("注册失败: %v", err)
			}
			if !agent.IsActive || agent.Category != CategoryAI || agent.CreatedAt != agent.UpdatedAt {
				t.Fatalf("初始状态错误: %+v", agent)
			}
			if _, err := svc.Register(ctx, "someone-else", validRequest()); !stdErrors.Is(err, ErrAgentExists) {
				t.Fatalf("重复注册应失败, got %v", err)
			}
		})
	}
}

func TestOwnerOnlyMutations(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc, clk := newTestService(store)
			ctx := context.Background()
			if _, err := svc.Register(ctx, "owner", validRequest()); err != nil {
				t.Fatalf("注册失败: %v", err)
			}

			price := uint64(2_000_000)
			if _, err := svc.Update(ctx, "intruder", "summarizer", UpdateRequest{Price: &price}); !stdErrors.Is(err, ErrUnauthorized) {
				t.Fatalf("非所有者更新应失败, got %v", err)
			}
			if _, err := svc.Deactivate(ctx, "intruder", "summarizer"); !stdErrors.Is(err, ErrUnauthorized) {
				t.Fatalf("非所有者下架应失败, got %v", err)
			}

			clk.Advance(time.Minute)
			updated, err := svc.Update(ctx, "owner", "summarizer", UpdateRequest{Price: &price})
			if err != nil {
				t.Fatalf("更新失败: %v", err)
			}
			if updated.Price != price || updated.MetadataCID != "QmMeta" {
				t.Fatalf("部分更新不应修改未提供的字段: %+v", updated)
			}
			if updated.UpdatedAt != updated.CreatedAt+60 {
				t.Fatalf("updated_at 未刷新: %+v", updated)
			}

			zero := uint64(0)
			if _, err := svc.Update(ctx, "owner", "summarizer", UpdateRequest{Price: &zero}); !stdErrors.Is(err, ErrInvalidPrice) {
				t.Fatalf("零价格应失败, got %v", err)
			}
			huge := ^uint64(0)
			if _, err := svc.Update(ctx, "owner", "summarizer", UpdateRequest{Price: &huge}); !stdErrors.Is(err, ErrInvalidPrice) {
				t.Fatalf("超出上限的价格应失败, got %v", err)
			}

			for i := 0; i < 2; i++ {
				agent, err := svc.Deactivate(ctx, "owner", "summarizer")
				if err != nil || agent.IsActive {
					t.Fatalf("下架失败: %v %+v", err, agent)
				}
			}
			if _, err := svc.Price(ctx, "summarizer"); !stdErrors.Is(err, ErrAgentNotActive) {
				t.Fatalf("下架后报价应失败, got %v", err)
			}
			agent, err := svc.Reactivate(ctx, "owner", "summarizer")
			if err != nil || !agent.IsActive || agent.Price != price {
				t.Fatalf("上架失败: %v %+v", err, agent)
			}

			moved, err := svc.TransferOwnership(ctx, "owner", "summarizer", "new-owner")
			if err != nil || moved.Owner != "new-owner" {
				t.Fatalf("转移失败: %v %+v", err, moved)
			}
			quoted, recipient, err := svc.Quote(ctx, "summarizer")
			if err != nil || quoted != price || recipient != "new-owner" {
				t.Fatalf("报价应返回当前所有者: %d %q %v", quoted, recipient, err)
			}
			if _, err := svc.Deactivate(ctx, "owner", "summarizer"); !stdErrors.Is(err, ErrUnauthorized) {
				t.Fatalf("原所有者不应再有权限, got %v", err)
			}
		})
	}
}

func TestRateAndRecordRun(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc, _ := newTestService(store)
			ctx := context.Background()
			if _, err := svc.Register(ctx, "owner", validRequest()); err != nil {
				t.Fatalf("注册失败: %v", err)
			}
			if _, err := svc.Rate(ctx, "owner", "summarizer", 500); !stdErrors.Is(err, ErrUnauthorized) {
				t.Fatalf("所有者不能给自己评分, got %v", err)
			}
			if _, err := svc.Rate(ctx, "buyer", "summarizer", 501); !stdErrors.Is(err, ErrInvalidRating) {
				t.Fatalf("超范围评分应失败, got %v", err)
			}
			if _, err := svc.Rate(ctx, "buyer", "summarizer", 500); err != nil {
				t.Fatalf("评分失败: %v", err)
			}
			agent, err := svc.Rate(ctx, "buyer-2", "summarizer", 301)
			if err != nil {
				t.Fatalf("评分失败: %v", err)
			}
			if agent.Rating != 400 || agent.RatingCount != 2 {
				t.Fatalf("评分均值错误: %+v", agent)
			}

			if err := svc.RecordRun(ctx, "summarizer", 950_000); err != nil {
				t.Fatalf("记录执行失败: %v", err)
			}
			agent, _ = svc.Get(ctx, "summarizer")
			if agent.TotalRuns != 1 || agent.TotalEarned != 950_000 {
				t.Fatalf("执行统计错误: %+v", agent)
			}

			for i := 0; i < 2; i++ {
				if err := svc.RecordRun(ctx, "summarizer", MaxPrice); err != nil {
					t.Fatalf("记录执行失败: %v", err)
				}
			}
			agent, _ = svc.Get(ctx, "summarizer")
			if agent.TotalRuns != 3 || agent.TotalEarned != MaxAmount {
				t.Fatalf("累计收入应封顶而不是回绕: %+v", agent)
			}
		})
	}
}

func TestList(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			svc, clk := newTestService(store)
			ctx := context.Background()
			for i, id := range []string{"a1", "a2", "a3"} {
				req := validRequest()
				req.AgentID = id
				if i == 2 {
					req.Category = "trading"
				}
				if _, err := svc.Register(ctx, "owner", req); err != nil {
					t.Fatalf("注册失败: %v", err)
				}
				clk.Advance(time.Second)
			}
			if _, err := svc.Deactivate(ctx, "owner", "a1"); err != nil {
				t.Fatalf("下架失败: %v", err)
			}

			all, err := svc.List(ctx, ListOptions{})
			if err != nil || len(all) != 3 || all[0].AgentID != "a3" {
				t.Fatalf("列表排序错误: %v %+v", err, all)
			}
			active, _ := svc.List(ctx, ListOptions{ActiveOnly: true, Category: CategoryAI})
			if len(active) != 1 || active[0].AgentID != "a2" {
				t.Fatalf("过滤错误: %+v", active)
			}
			page, _ := svc.List(ctx, ListOptions{Limit: 1, Offset: 1})
			if len(page) != 1 || page[0].AgentID != "a2" {
				t.Fatalf("分页错误: %+v", page)
			}
		})
	}
}

func TestMutationsRequireCaller(t *testing.T) {
	svc, _ := newTestService(NewMemoryStore())
	if _, err := svc.Register(context.Background(), "", validRequest()); xerrors.CodeOf(err) != xerrors.CodeUnauthenticated {
		t.Fatalf("匿名注册应失败, got %v", err)
	}
}
