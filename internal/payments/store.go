package payments

import "context"

// SettleFunc 在发票行锁内校验并推进发票，返回待插入的支付记录。
type SettleFunc func(inv *Invoice) (*Payment, error)

// MintFunc 在支付行锁内校验并可能推进支付，返回待插入的回执。
type MintFunc func(p *Payment) (*Receipt, error)

// Store 定义支付状态机的持久化接口。所有带 fn 的方法都是串行化的读改写，
// fn 返回错误时不写入任何变更。
type Store interface {
	// CreateInvoice 插入发票，标识已存在时返回 ErrInvoiceExists。
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, id string, fn func(*Invoice) error) (*Invoice, error)
	// ListExpiredInvoices 返回仍处于 InvoiceCreated 且 expires_at <= now 的发票。
	ListExpiredInvoices(ctx context.Context, now int64, limit int) ([]*Invoice, error)

	// Settle 在同一原子步骤内更新发票并插入支付记录。useNonce 为真时同时登记
	// (payer, nonce)，重复时返回 ErrNonceAlreadyUsed。
	Settle(ctx context.Context, invoiceID string, useNonce bool, fn SettleFunc) (*Payment, error)
	// CreatePayment 插入不经过发票结算的支付记录，标识或 invoice_id 已存在时返回 ErrInvalidState。
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePayment(ctx context.Context, id string, fn func(*Payment) error) (*Payment, error)
	ListPayments(ctx context.Context, opts ListOptions) ([]*Payment, error)

	// MintReceipt 插入回执并写回 fn 对支付的修改，回执已存在时返回 ErrReceiptExists。
	MintReceipt(ctx context.Context, paymentID string, fn MintFunc) (*Receipt, error)
	GetReceipt(ctx context.Context, id string) (*Receipt, error)

	// InitPlatform 只能成功一次，之后返回 ErrPlatformExists。
	InitPlatform(ctx context.Context, p *Platform) error
	GetPlatform(ctx context.Context) (*Platform, error)

	Close() error
}

// ListOptions 控制支付查询。
type ListOptions struct {
	Payer     string
	Recipient string
	States    []State
	Limit     int
	Offset    int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (o *ListOptions) applyDefaults() {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

func (o ListOptions) matches(p *Payment) bool {
	if o.Payer != "" && p.Payer != o.Payer {
		return false
	}
	if o.Recipient != "" && p.Recipient != o.Recipient {
		return false
	}
	if len(o.States) == 0 {
		return true
	}
	for _, s := range o.States {
		if p.State == s {
			return true
		}
	}
	return false
}
