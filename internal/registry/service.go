package registry

import (
	"context"
	"log/slog"
	"math/bits"
	"strings"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/pkg/logger"
)

// Service 提供 agent 目录的生命周期操作，所有变更都先校验调用方身份。
type Service struct {
	store Store
	clock clock.Clock
	log   *slog.Logger
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

// NewService 构造目录服务。
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, clock: clock.System{}}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("registry")
	}
	return s
}

// RegisterRequest 描述注册参数。
type RegisterRequest struct {
	AgentID     string `json:"agent_id"`
	MetadataCID string `json:"metadata_cid"`
	Price       uint64 `json:"price"`
	Category    string `json:"category"`
}

// UpdateRequest 描述部分更新，nil 字段保持不变。
type UpdateRequest struct {
	MetadataCID *string `json:"metadata_cid,omitempty"`
	Price       *uint64 `json:"price,omitempty"`
}

// Register 以 owner 身份登记一个新 agent。
func (s *Service) Register(ctx context.Context, owner string, req RegisterRequest) (*Agent, error) {
	if err := requireCaller(owner); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent_id 不能为空")
	}
	if len(req.AgentID) > MaxAgentIDLen {
		return nil, ErrAgentIDTooLong
	}
	if err := validateMetadataCID(req.MetadataCID); err != nil {
		return nil, err
	}
	if err := validatePrice(req.Price); err != nil {
		return nil, err
	}
	category, ok := ParseCategory(req.Category)
	if !ok {
		return nil, ErrInvalidCategory
	}

	now := s.clock.Now().Unix()
	agent := &Agent{
		AgentID:     req.AgentID,
		Owner:       owner,
		MetadataCID: req.MetadataCID,
		Price:       req.Price,
		Category:    category,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, agent); err != nil {
		return nil, err
	}
	logger.Audit().Info("agent 已注册",
		slog.String("agent_id", agent.AgentID),
		slog.String("owner", owner),
		slog.Uint64("price", agent.Price),
		slog.String("category", string(category)),
	)
	return agent, nil
}

// Update 修改元数据或价格，只校验实际提供的字段。
func (s *Service) Update(ctx context.Context, caller, agentID string, req UpdateRequest) (*Agent, error) {
	if req.MetadataCID != nil {
		if err := validateMetadataCID(*req.MetadataCID); err != nil {
			return nil, err
		}
	}
	if req.Price != nil {
		if err := validatePrice(*req.Price); err != nil {
			return nil, err
		}
	}
	return s.mutate(ctx, caller, agentID, "agent 已更新", func(a *Agent) error {
		if req.MetadataCID != nil {
			a.MetadataCID = *req.MetadataCID
		}
		if req.Price != nil {
			a.Price = *req.Price
		}
		return nil
	})
}

// Deactivate 下架 agent，重复调用无副作用。
func (s *Service) Deactivate(ctx context.Context, caller, agentID string) (*Agent, error) {
	return s.mutate(ctx, caller, agentID, "agent 已下架", func(a *Agent) error {
		a.IsActive = false
		return nil
	})
}

// Reactivate 重新上架 agent。
func (s *Service) Reactivate(ctx context.Context, caller, agentID string) (*Agent, error) {
	return s.mutate(ctx, caller, agentID, "agent 已上架", func(a *Agent) error {
		a.IsActive = true
		return nil
	})
}

// TransferOwnership 将 agent 转移给 newOwner，不需要新所有者确认。
func (s *Service) TransferOwnership(ctx context.Context, caller, agentID, newOwner string) (*Agent, error) {
	if strings.TrimSpace(newOwner) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "new_owner 不能为空")
	}
	return s.mutate(ctx, caller, agentID, "agent 所有权已转移", func(a *Agent) error {
		a.Owner = newOwner
		return nil
	})
}

func (s *Service) mutate(ctx context.Context, caller, agentID, event string, apply func(*Agent) error) (*Agent, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	var previousOwner string
	agent, err := s.store.Update(ctx, agentID, func(a *Agent) error {
		if a.Owner != caller {
			return ErrUnauthorized
		}
		previousOwner = a.Owner
		if err := apply(a); err != nil {
			return err
		}
		a.UpdatedAt = s.clock.Now().Unix()
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info(event,
		slog.String("agent_id", agentID),
		slog.String("caller", caller),
		slog.String("previous_owner", previousOwner),
		slog.String("owner", agent.Owner),
		slog.Bool("is_active", agent.IsActive),
	)
	return agent, nil
}

// Rate 记录一次评分，评分为 0-500 的整数，结果取整数平均值。
func (s *Service) Rate(ctx context.Context, caller, agentID string, score uint16) (*Agent, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if score > MaxRating {
		return nil, ErrInvalidRating
	}
	return s.store.Update(ctx, agentID, func(a *Agent) error {
		if a.Owner == caller {
			return xerrors.New(CodeUnauthorized, "owner cannot rate own agent")
		}
		total := uint64(a.Rating)*uint64(a.RatingCount) + uint64(score)
		a.RatingCount++
		a.Rating = uint16(total / uint64(a.RatingCount))
		a.UpdatedAt = s.clock.Now().Unix()
		return nil
	})
}

// Get 查询目录项。
func (s *Service) Get(ctx context.Context, agentID string) (*Agent, error) {
	return s.store.Get(ctx, agentID)
}

// List 查询目录。
func (s *Service) List(ctx context.Context, opts ListOptions) ([]*Agent, error) {
	return s.store.List(ctx, opts)
}

// Price 返回 agent 当前报价，已下架的 agent 不可计费。
func (s *Service) Price(ctx context.Context, agentID string) (uint64, error) {
	price, _, err := s.Quote(ctx, agentID)
	return price, err
}

// Quote 返回 agent 当前报价与收款人（当前 owner）。
func (s *Service) Quote(ctx context.Context, agentID string) (uint64, string, error) {
	agent, err := s.store.Get(ctx, agentID)
	if err != nil {
		return 0, "", err
	}
	if !agent.IsActive {
		return 0, "", ErrAgentNotActive
	}
	return agent.Price, agent.Owner, nil
}

// RecordRun 累加执行次数与收入。
func (s *Service) RecordRun(ctx context.Context, agentID string, earned uint64) error {
	_, err := s.store.Update(ctx, agentID, func(a *Agent) error {
		a.TotalRuns++
		if sum, carry := bits.Add64(a.TotalEarned, earned, 0); carry == 0 && sum <= MaxAmount {
			a.TotalEarned = sum
		} else {
			a.TotalEarned = MaxAmount
		}
		a.UpdatedAt = s.clock.Now().Unix()
		return nil
	})
	if err != nil {
		s.log.Warn("记录 agent 执行统计失败", slog.String("agent_id", agentID), slog.Any("error", err))
	}
	return err
}

func validatePrice(price uint64) error {
	if price == 0 {
		return ErrInvalidPrice
	}
	if price > MaxPrice {
		return xerrors.New(CodeInvalidPrice, "price exceeds the maximum billable amount")
	}
	return nil
}

func validateMetadataCID(cid string) error {
	if len(cid) > MaxMetadataCIDLen {
		return ErrMetadataCIDTooLong
	}
	return nil
}

func requireCaller(caller string) error {
	if strings.TrimSpace(caller) == "" {
		return xerrors.New(xerrors.CodeUnauthenticated, "")
	}
	return nil
}
