package payments

import (
	"fmt"
	"strings"
)

const (
	MaxAgentIDLen   = 32
	MaxResultCIDLen = 64
)

// Invoice 是付款人发起的付款请求，结算一次后即不再使用。
type Invoice struct {
	ID        string `json:"id"`
	Payer     string `json:"payer"`
	Recipient string `json:"recipient"`
	AgentID   string `json:"agent_id"`
	Amount    uint64 `json:"amount"`
	State     State  `json:"state"`
	ExpiresAt int64  `json:"expires_at"`
	CreatedAt int64  `json:"created_at"`
	Nonce     uint64 `json:"nonce"`
	UpdatedAt int64  `json:"updated_at"`
}

func (i *Invoice) clone() *Invoice {
	if i == nil {
		return nil
	}
	cp := *i
	return &cp
}

// Payment 跟踪一笔资金从结算到领取或退款的全过程。Amount 为扣除手续费后的净额。
type Payment struct {
	ID            string `json:"id"`
	InvoiceID     string `json:"invoice_id"`
	Payer         string `json:"payer"`
	Recipient     string `json:"recipient"`
	AgentID       string `json:"agent_id"`
	Amount        uint64 `json:"amount"`
	PlatformFee   uint64 `json:"platform_fee"`
	State         State  `json:"state"`
	ResultCID     string `json:"result_cid,omitempty"`
	TxSignature   string `json:"tx_signature,omitempty"`
	EscrowAccount string `json:"escrow_account,omitempty"`
	SettledAt     int64  `json:"settled_at"`
	CompletedAt   int64  `json:"completed_at,omitempty"`
	UpdatedAt     int64  `json:"updated_at"`
}

func (p *Payment) clone() *Payment {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Receipt 是不可变的完成凭证，Amount 为原始发票金额。
type Receipt struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Payer     string `json:"payer"`
	AgentID   string `json:"agent_id"`
	Amount    uint64 `json:"amount"`
	ResultCID string `json:"result_cid"`
	MintedAt  int64  `json:"minted_at"`
	Slot      uint64 `json:"slot"`
}

// Platform 记录平台管理员与托管相关的固定账户。
type Platform struct {
	Admin             string `json:"admin"`
	FeeTreasury       string `json:"fee_treasury"`
	PlatformAuthority string `json:"platform_authority"`
	EscrowAuthority   string `json:"escrow_authority"`
	InitializedAt     int64  `json:"initialized_at"`
}

// IntentMessage 返回付款人离线签名的规范化付款意图。
func IntentMessage(inv *Invoice, paymentID string) []byte {
	lines := []string{
		"SynapsePay Payment Intent",
		"PaymentID: " + paymentID,
		"Payer: " + inv.Payer,
		"Recipient: " + inv.Recipient,
		fmt.Sprintf("Amount: %d", inv.Amount),
		"Agent: " + inv.AgentID,
		fmt.Sprintf("Expires: %d", inv.ExpiresAt),
		fmt.Sprintf("Nonce: %d", inv.Nonce),
	}
	return []byte(strings.Join(lines, "\n"))
}
