package payments

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"SynapsePay/internal/clock"
	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/events"
	"SynapsePay/internal/identity"
	"SynapsePay/internal/ledger"
	"SynapsePay/internal/observability/metrics"
	"SynapsePay/pkg/logger"
)

// EarningsRecorder 在支付被领取后累加 agent 的执行统计，registry.Service 满足该接口。
type EarningsRecorder interface {
	RecordRun(ctx context.Context, agentID string, earned uint64) error
}

// Service 驱动发票到回执的状态机。配置了 ledger 时资金随状态一起移动，否则只推进状态。
type Service struct {
	store     Store
	clock     clock.Clock
	log       *slog.Logger
	ledger    ledger.Ledger
	publisher events.Publisher
	verifier  identity.Verifier
	earnings  EarningsRecorder
	operators map[string]struct{}

	receiptAdvancesState bool

	nonceMu   sync.Mutex
	lastNonce uint64
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

// WithLedger 启用托管资金划转。
func WithLedger(l ledger.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

// WithPublisher 指定完成事件的投递目标。
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithVerifier 启用结算时的付款意图签名校验与 nonce 防重放。
func WithVerifier(v identity.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithEarningsRecorder 指定领取后回写 agent 统计的目标。
func WithEarningsRecorder(r EarningsRecorder) Option {
	return func(s *Service) { s.earnings = r }
}

// WithOperators 限定可以推进执行状态的身份，空列表表示任意已认证调用方。
func WithOperators(operators ...string) Option {
	return func(s *Service) {
		for _, op := range operators {
			if op = strings.TrimSpace(op); op != "" {
				s.operators[op] = struct{}{}
			}
		}
	}
}

// WithReceiptAdvancesState 为真时铸造回执会把支付推进到 ReceiptMinted。
func WithReceiptAdvancesState(enabled bool) Option {
	return func(s *Service) { s.receiptAdvancesState = enabled }
}

// NewService 构造支付服务。
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:     store,
		clock:     clock.System{},
		operators: make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.log == nil {
		s.log = logger.Named("payments")
	}
	return s
}

// EscrowEnabled 报告是否启用了资金划转。
func (s *Service) EscrowEnabled() bool { return s.ledger != nil }

// InitializePlatform 创建平台记录，只能执行一次。
func (s *Service) InitializePlatform(ctx context.Context, admin string) (*Platform, error) {
	if err := requireCaller(admin); err != nil {
		return nil, err
	}
	p := &Platform{
		Admin:             admin,
		FeeTreasury:       identity.FeeTreasury,
		PlatformAuthority: identity.PlatformAuthority,
		EscrowAuthority:   identity.EscrowAuthority,
		InitializedAt:     s.clock.Now().Unix(),
	}
	if s.ledger != nil {
		if err := s.ledger.OpenAccount(ctx, p.FeeTreasury, p.PlatformAuthority); err != nil {
			return nil, err
		}
	}
	if err := s.store.InitPlatform(ctx, p); err != nil {
		return nil, err
	}
	logger.Audit().Info("平台已初始化", slog.String("admin", admin))
	return p, nil
}

// Platform 返回平台记录。
func (s *Service) Platform(ctx context.Context) (*Platform, error) {
	return s.store.GetPlatform(ctx)
}

// CreateInvoiceRequest 描述发票参数。
type CreateInvoiceRequest struct {
	Recipient string `json:"recipient"`
	AgentID   string `json:"agent_id"`
	Amount    uint64 `json:"amount"`
	ExpiresAt int64  `json:"expires_at"`
}

// CreateInvoice 以 payer 身份创建发票。
func (s *Service) CreateInvoice(ctx context.Context, payer string, req CreateInvoiceRequest) (*Invoice, error) {
	if err := requireCaller(payer); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if req.ExpiresAt <= now.Unix() {
		return nil, ErrInvalidExpiry
	}
	if len(req.AgentID) > MaxAgentIDLen {
		return nil, ErrAgentIDTooLong
	}
	if strings.TrimSpace(req.AgentID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "agent_id 不能为空")
	}
	if strings.TrimSpace(req.Recipient) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "recipient 不能为空")
	}

	nonce := s.nextNonce(now)
	inv := &Invoice{
		ID:        identity.Invoice(payer, req.AgentID, int64(nonce)),
		Payer:     payer,
		Recipient: req.Recipient,
		AgentID:   req.AgentID,
		Amount:    req.Amount,
		State:     StateInvoiceCreated,
		ExpiresAt: req.ExpiresAt,
		CreatedAt: now.Unix(),
		Nonce:     nonce,
		UpdatedAt: now.Unix(),
	}
	if err := s.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}
	metrics.ObservePaymentTransition(string(StateInvoiceCreated))
	logger.Audit().Info("发票已创建",
		slog.String("invoice_id", inv.ID),
		slog.String("payer", payer),
		slog.String("agent_id", inv.AgentID),
		slog.Uint64("amount", inv.Amount),
	)
	return inv, nil
}

// SettlePayment 消费发票并生成待执行的支付记录。
func (s *Service) SettlePayment(ctx context.Context, caller, invoiceID string, signature []byte) (*Payment, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	now := s.clock.Now().Unix()
	paymentID := identity.Payment(invoiceID)

	payment, err := s.store.Settle(ctx, invoiceID, s.verifier != nil, func(inv *Invoice) (*Payment, error) {
		if inv.Payer != caller {
			return nil, ErrUnauthorized
		}
		if inv.State != StateInvoiceCreated {
			return nil, ErrInvalidState
		}
		if now >= inv.ExpiresAt {
			return nil, ErrInvoiceExpired
		}
		if s.verifier != nil {
			if len(signature) != identity.SignatureSize {
				return nil, ErrInvalidSignature
			}
			if err := s.verifier.Verify(inv.Payer, IntentMessage(inv, paymentID), signature); err != nil {
				return nil, xerrors.Wrap(CodeInvalidSignature, err, "")
			}
		}

		fee, net := SplitFee(inv.Amount)
		inv.State = StatePending
		inv.UpdatedAt = now
		p := &Payment{
			ID:          paymentID,
			InvoiceID:   inv.ID,
			Payer:       inv.Payer,
			Recipient:   inv.Recipient,
			AgentID:     inv.AgentID,
			Amount:      net,
			PlatformFee: fee,
			State:       StatePending,
			SettledAt:   now,
			UpdatedAt:   now,
		}
		if len(signature) > 0 {
			p.TxSignature = hex.EncodeToString(signature)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObservePaymentTransition(string(StatePending))
	metrics.ObserveSettlement(payment.Amount, payment.PlatformFee)
	logger.Audit().Info("支付已结算",
		slog.String("payment_id", payment.ID),
		slog.String("invoice_id", invoiceID),
		slog.String("caller", caller),
		slog.Uint64("amount", payment.Amount),
		slog.Uint64("platform_fee", payment.PlatformFee),
	)
	return payment, nil
}

// step 描述一次支付状态推进。check 在资金划转前与写入时各执行一次。
type step struct {
	event     string
	target    State
	check     func(p *Payment) error
	prepare   func(ctx context.Context, p *Payment) error
	transfers func(p *Payment) []ledger.Transfer
	apply     func(p *Payment, now int64)
}

func (s *Service) advance(ctx context.Context, caller, paymentID string, st step) (*Payment, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	current, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if err := st.check(current); err != nil {
		return nil, err
	}

	var moved []ledger.Transfer
	if s.ledger != nil {
		if st.prepare != nil {
			if err := st.prepare(ctx, current); err != nil {
				return nil, err
			}
		}
		if st.transfers != nil {
			moved = st.transfers(current)
			if err := s.ledger.Batch(ctx, moved); err != nil {
				return nil, err
			}
		}
	}

	now := s.clock.Now().Unix()
	updated, err := s.store.UpdatePayment(ctx, paymentID, func(p *Payment) error {
		if err := st.check(p); err != nil {
			return err
		}
		if !CanTransition(p.State, st.target) {
			return ErrInvalidState
		}
		if st.apply != nil {
			st.apply(p, now)
		}
		p.State = st.target
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		s.compensate(ctx, paymentID, moved)
		return nil, err
	}

	metrics.ObservePaymentTransition(string(st.target))
	logger.Audit().Info(st.event,
		slog.String("payment_id", paymentID),
		slog.String("caller", caller),
		slog.String("state", string(updated.State)),
	)
	return updated, nil
}

func (s *Service) compensate(ctx context.Context, paymentID string, moved []ledger.Transfer) {
	if len(moved) == 0 {
		return
	}
	if err := s.ledger.Revert(context.WithoutCancel(ctx), moved); err != nil {
		s.log.Error("回滚资金划转失败", slog.String("payment_id", paymentID), slog.Any("error", err))
	}
}

// VerifyPayment 将支付推进到执行中。托管模式下由付款人签名，
// 净额转入托管账户，手续费转入平台金库。
func (s *Service) VerifyPayment(ctx context.Context, caller, paymentID string) (*Payment, error) {
	escrow := identity.Escrow(paymentID)
	return s.advance(ctx, caller, paymentID, step{
		event:  "支付已验证",
		target: StateExecuting,
		check: func(p *Payment) error {
			if p.State != StatePending {
				return ErrInvalidState
			}
			if s.ledger != nil {
				if caller != p.Payer {
					return ErrUnauthorized
				}
				return nil
			}
			return s.authorizeOperator(caller, p)
		},
		prepare: func(ctx context.Context, _ *Payment) error {
			if err := s.ledger.OpenAccount(ctx, escrow, identity.EscrowAuthority); err != nil {
				return err
			}
			return s.ledger.OpenAccount(ctx, identity.FeeTreasury, identity.PlatformAuthority)
		},
		transfers: func(p *Payment) []ledger.Transfer {
			return []ledger.Transfer{
				{Amount: p.Amount, From: p.Payer, To: escrow, Authority: p.Payer, Memo: "escrow " + p.ID},
				{Amount: p.PlatformFee, From: p.Payer, To: identity.FeeTreasury, Authority: p.Payer, Memo: "fee " + p.ID},
			}
		},
		apply: func(p *Payment, _ int64) {
			if s.ledger != nil {
				p.EscrowAccount = escrow
			}
		},
	})
}

// CompleteTask 记录任务结果并将支付推进到已完成。
func (s *Service) CompleteTask(ctx context.Context, caller, paymentID, resultCID string) (*Payment, error) {
	if len(resultCID) > MaxResultCIDLen {
		return nil, ErrResultCIDTooLong
	}
	p, err := s.advance(ctx, caller, paymentID, step{
		event:  "任务已完成",
		target: StateCompleted,
		check: func(p *Payment) error {
			if p.State != StateExecuting {
				return ErrInvalidState
			}
			return s.authorizeOperator(caller, p)
		},
		apply: func(p *Payment, now int64) {
			p.ResultCID = resultCID
			p.CompletedAt = now
		},
	})
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.publisher, s.log, events.TypeTaskCompleted, p.CompletedAt, events.TaskCompleted{
		PaymentID:   p.ID,
		Payer:       p.Payer,
		Recipient:   p.Recipient,
		Amount:      p.Amount,
		ResultCID:   p.ResultCID,
		CompletedAt: p.CompletedAt,
	})
	return p, nil
}

// FailPayment 将执行中的支付标记为失败，之后只能退款。
func (s *Service) FailPayment(ctx context.Context, caller, paymentID, reason string) (*Payment, error) {
	p, err := s.advance(ctx, caller, paymentID, step{
		event:  "任务执行失败",
		target: StateFailed,
		check: func(p *Payment) error {
			if p.State != StateExecuting {
				return ErrInvalidState
			}
			return s.authorizeOperator(caller, p)
		},
	})
	if err != nil {
		return nil, err
	}
	if reason != "" {
		logger.Audit().Info("失败原因", slog.String("payment_id", paymentID), slog.String("reason", reason))
	}
	return p, nil
}

// MintReceipt 为已完成的支付铸造回执，仅付款人可调用。
func (s *Service) MintReceipt(ctx context.Context, caller, paymentID string) (*Receipt, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	now := s.clock.Now().Unix()
	slot := s.clock.Slot()
	receipt, err := s.store.MintReceipt(ctx, paymentID, func(p *Payment) (*Receipt, error) {
		if p.Payer != caller {
			return nil, ErrUnauthorized
		}
		if p.State != StateCompleted {
			return nil, ErrInvalidState
		}
		if s.receiptAdvancesState {
			p.State = StateReceiptMinted
			p.UpdatedAt = now
		}
		return &Receipt{
			ID:        identity.Receipt(p.ID),
			PaymentID: p.ID,
			Payer:     p.Payer,
			AgentID:   p.AgentID,
			Amount:    p.Amount + p.PlatformFee,
			ResultCID: p.ResultCID,
			MintedAt:  now,
			Slot:      slot,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if s.receiptAdvancesState {
		metrics.ObservePaymentTransition(string(StateReceiptMinted))
	}
	logger.Audit().Info("回执已铸造",
		slog.String("receipt_id", receipt.ID),
		slog.String("payment_id", paymentID),
		slog.Uint64("slot", receipt.Slot),
	)
	return receipt, nil
}

// ClaimPayment 由收款人领取托管资金。
func (s *Service) ClaimPayment(ctx context.Context, caller, paymentID string) (*Payment, error) {
	p, err := s.advance(ctx, caller, paymentID, step{
		event:  "支付已领取",
		target: StateClaimed,
		check: func(p *Payment) error {
			if p.Recipient != caller {
				return ErrUnauthorized
			}
			if p.State != StateCompleted && p.State != StateReceiptMinted {
				return ErrInvalidState
			}
			return nil
		},
		transfers: func(p *Payment) []ledger.Transfer {
			if p.EscrowAccount == "" {
				return nil
			}
			return []ledger.Transfer{{
				Amount: p.Amount, From: p.EscrowAccount, To: p.Recipient,
				Authority: identity.EscrowAuthority, Memo: "claim " + p.ID,
			}}
		},
	})
	if err != nil {
		return nil, err
	}
	if s.earnings != nil {
		if err := s.earnings.RecordRun(ctx, p.AgentID, p.Amount); err != nil {
			s.log.Warn("回写 agent 收入失败", slog.String("payment_id", p.ID), slog.Any("error", err))
		}
	}
	return p, nil
}

// RefundPayment 将托管资金退回付款人。
func (s *Service) RefundPayment(ctx context.Context, caller, paymentID string) (*Payment, error) {
	return s.advance(ctx, caller, paymentID, step{
		event:  "支付已退款",
		target: StateRefunded,
		check: func(p *Payment) error {
			if p.State != StateFailed && p.State != StateExecuting {
				return ErrInvalidState
			}
			return s.authorizeOperator(caller, p)
		},
		transfers: func(p *Payment) []ledger.Transfer {
			if p.EscrowAccount == "" {
				return nil
			}
			return []ledger.Transfer{{
				Amount: p.Amount, From: p.EscrowAccount, To: p.Payer,
				Authority: identity.EscrowAuthority, Memo: "refund " + p.ID,
			}}
		},
	})
}

// ExpireInvoice 将已过期且未结算的发票标记为 Expired。
func (s *Service) ExpireInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	now := s.clock.Now().Unix()
	inv, err := s.store.UpdateInvoice(ctx, invoiceID, func(inv *Invoice) error {
		if inv.State != StateInvoiceCreated {
			return ErrInvalidState
		}
		if now < inv.ExpiresAt {
			return xerrors.New(CodeInvalidState, "invoice has not expired yet")
		}
		inv.State = StateExpired
		inv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.ObservePaymentTransition(string(StateExpired))
	logger.Audit().Info("发票已过期", slog.String("invoice_id", invoiceID))
	events.Emit(ctx, s.publisher, s.log, events.TypeInvoiceExpired, now, events.InvoiceExpired{
		InvoiceID: inv.ID,
		Payer:     inv.Payer,
		AgentID:   inv.AgentID,
		ExpiresAt: inv.ExpiresAt,
	})
	return inv, nil
}

// ExpireDue 清理最多 limit 张到期发票，返回实际过期的数量。
func (s *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	due, err := s.store.ListExpiredInvoices(ctx, s.clock.Now().Unix(), limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, inv := range due {
		if _, err := s.ExpireInvoice(ctx, inv.ID); err != nil {
			if xerrors.CodeOf(err) == CodeInvalidState {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// WithdrawFees 将金库余额全部转给平台管理员。
func (s *Service) WithdrawFees(ctx context.Context, caller string) (uint64, error) {
	if err := requireCaller(caller); err != nil {
		return 0, err
	}
	if s.ledger == nil {
		return 0, ErrEscrowDisabled
	}
	platform, err := s.store.GetPlatform(ctx)
	if err != nil {
		return 0, err
	}
	if platform.Admin != caller {
		return 0, ErrUnauthorized
	}
	balance, err := s.ledger.Balance(ctx, platform.FeeTreasury)
	if err != nil && xerrors.CodeOf(err) != ledger.CodeAccountNotFound {
		return 0, err
	}
	if balance == 0 {
		return 0, ErrNoFeesToWithdraw
	}
	err = s.ledger.Transfer(ctx, ledger.Transfer{
		Amount:    balance,
		From:      platform.FeeTreasury,
		To:        platform.Admin,
		Authority: platform.PlatformAuthority,
		Memo:      "withdraw fees",
	})
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("手续费已提取", slog.String("admin", caller), slog.Uint64("amount", balance))
	return balance, nil
}

// GetInvoice 查询发票。
func (s *Service) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	return s.store.GetInvoice(ctx, id)
}

// GetPayment 查询支付。
func (s *Service) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// GetReceipt 查询回执。
func (s *Service) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	return s.store.GetReceipt(ctx, id)
}

// ListPayments 查询支付列表。
func (s *Service) ListPayments(ctx context.Context, opts ListOptions) ([]*Payment, error) {
	return s.store.ListPayments(ctx, opts)
}

func (s *Service) authorizeOperator(caller string, p *Payment) error {
	if len(s.operators) == 0 || caller == p.Recipient {
		return nil
	}
	if _, ok := s.operators[caller]; ok {
		return nil
	}
	return ErrUnauthorized
}

// nextNonce 以纳秒时间戳作为 nonce，并保证进程内严格递增。
func (s *Service) nextNonce(now time.Time) uint64 {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	n := uint64(now.UnixNano())
	if n <= s.lastNonce {
		n = s.lastNonce + 1
	}
	s.lastNonce = n
	return n
}

func requireCaller(caller string) error {
	if strings.TrimSpace(caller) == "" {
		return xerrors.New(xerrors.CodeUnauthenticated, "")
	}
	return nil
}
