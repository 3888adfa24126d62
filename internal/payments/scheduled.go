package payments

import (
	"context"
	"log/slog"
	"strings"
	"time"

	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/identity"
	"SynapsePay/internal/ledger"
	"SynapsePay/internal/observability/metrics"
	"SynapsePay/pkg/logger"
)

// ScheduledRun 描述一次订阅触发。资金来自订阅金库而不是付款人钱包，
// 因此不经过发票与 Pending 阶段，直接生成执行中的支付。
type ScheduledRun struct {
	SubscriptionID  string
	RunNumber       uint64
	Payer           string
	Recipient       string
	AgentID         string
	Price           uint64
	Fee             uint64
	Source          string
	SourceAuthority string
	TriggeredAt     time.Time
}

// OpenScheduledRun 为一次订阅触发生成 Executing 状态的支付。托管模式下报价从
// Source 转入该支付独占的托管账户，手续费转入平台金库，之后由收款人按
// CompleteTask、ClaimPayment 领取，或由执行方退款给订阅者。
func (s *Service) OpenScheduledRun(ctx context.Context, run ScheduledRun) (*Payment, error) {
	if strings.TrimSpace(run.SubscriptionID) == "" || run.RunNumber == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少订阅标识或执行序号")
	}
	if strings.TrimSpace(run.Payer) == "" || strings.TrimSpace(run.Recipient) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "付款人与收款人不能为空")
	}
	if run.Price == 0 {
		return nil, ErrInvalidAmount
	}
	if len(run.AgentID) > MaxAgentIDLen {
		return nil, ErrAgentIDTooLong
	}

	runID := identity.ScheduledRun(run.SubscriptionID, run.RunNumber, run.TriggeredAt.UnixNano())
	now := s.clock.Now().Unix()
	p := &Payment{
		ID:          identity.Payment(runID),
		InvoiceID:   runID,
		Payer:       run.Payer,
		Recipient:   run.Recipient,
		AgentID:     run.AgentID,
		Amount:      run.Price,
		PlatformFee: run.Fee,
		State:       StateExecuting,
		SettledAt:   now,
		UpdatedAt:   now,
	}

	var moved []ledger.Transfer
	if s.ledger != nil {
		if strings.TrimSpace(run.Source) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "托管模式需要资金来源账户")
		}
		p.EscrowAccount = identity.Escrow(p.ID)
		if err := s.ledger.OpenAccount(ctx, p.EscrowAccount, identity.EscrowAuthority); err != nil {
			return nil, err
		}
		if err := s.ledger.OpenAccount(ctx, identity.FeeTreasury, identity.PlatformAuthority); err != nil {
			return nil, err
		}
		moved = []ledger.Transfer{
			{Amount: run.Price, From: run.Source, To: p.EscrowAccount, Authority: run.SourceAuthority, Memo: "escrow " + p.ID},
			{Amount: run.Fee, From: run.Source, To: identity.FeeTreasury, Authority: run.SourceAuthority, Memo: "fee " + p.ID},
		}
		if err := s.ledger.Batch(ctx, moved); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreatePayment(ctx, p); err != nil {
		s.compensate(ctx, p.ID, moved)
		return nil, err
	}

	metrics.ObservePaymentTransition(string(StateExecuting))
	metrics.ObserveSettlement(p.Amount, p.PlatformFee)
	logger.Audit().Info("订阅执行已入托管",
		slog.String("payment_id", p.ID),
		slog.String("subscription_id", run.SubscriptionID),
		slog.Uint64("run_number", run.RunNumber),
		slog.String("recipient", p.Recipient),
		slog.Uint64("amount", p.Amount),
		slog.Uint64("platform_fee", p.PlatformFee),
	)
	return p, nil
}
