// Package identity 负责确定性地推导账户标识，并校验钱包签名。
package identity

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/crypto"
)

// 域分隔标签。
const (
	TagAgent             = "agent"
	TagInvoice           = "invoice"
	TagPayment           = "payment"
	TagReceipt           = "receipt"
	TagEscrow            = "escrow"
	TagSubscription      = "subscription"
	TagSubscriptionVault = "subscription_vault"
	TagScheduledRun      = "scheduled_run"
	TagFeeTreasury       = "fee_treasury"
	TagPlatformAuthority = "platform_authority"
	TagEscrowAuthority   = "escrow_authority"
	TagVaultAuthority    = "vault_authority"
)

// 平台级的固定账户与签名权限。
var (
	FeeTreasury       = Derive(TagFeeTreasury)
	PlatformAuthority = Derive(TagPlatformAuthority)
	EscrowAuthority   = Derive(TagEscrowAuthority)
	VaultAuthority    = Derive(TagVaultAuthority)
)

// Derive 对标签及各组成部分做 Keccak-256，返回 0x 前缀的十六进制标识。
// 每个部分都带 4 字节长度前缀，避免 ("ab","c") 与 ("a","bc") 碰撞。
func Derive(tag string, parts ...[]byte) string {
	chunks := make([][]byte, 0, len(parts)*2+1)
	chunks = append(chunks, lengthPrefixed([]byte(tag))...)
	for _, part := range parts {
		chunks = append(chunks, lengthPrefixed(part)...)
	}
	return crypto.Keccak256Hash(chunks...).Hex()
}

func lengthPrefixed(b []byte) [][]byte {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(b)))
	return [][]byte{size[:], b}
}

func le64(v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return buf[:]
}

// Agent 返回 agent 目录项的派生地址。
func Agent(agentID string) string {
	return Derive(TagAgent, []byte(agentID))
}

// Invoice 由付款人、agent 与创建时间戳派生发票标识。
func Invoice(payer, agentID string, createdAt int64) string {
	return Derive(TagInvoice, []byte(payer), []byte(agentID), le64(uint64(createdAt)))
}

// Payment 由发票标识派生支付标识。
func Payment(invoiceID string) string {
	return Derive(TagPayment, []byte(invoiceID))
}

// Receipt 由支付标识派生回执标识。
func Receipt(paymentID string) string {
	return Derive(TagReceipt, []byte(paymentID))
}

// Escrow 返回与支付一一对应的托管账户。
func Escrow(paymentID string) string {
	return Derive(TagEscrow, []byte(paymentID))
}

// Subscription 由订阅者与 agent 派生订阅标识，同一对组合只能存在一个订阅。
func Subscription(owner, agentID string) string {
	return Derive(TagSubscription, []byte(owner), []byte(agentID))
}

// SubscriptionVault 返回订阅的预存资金账户。
func SubscriptionVault(subscriptionID string) string {
	return Derive(TagSubscriptionVault, []byte(subscriptionID))
}

// ScheduledRun 返回一次订阅触发的执行标识，作为该次执行支付的 invoice_id。
// triggeredAt 为纳秒时间戳，取消后重新订阅的同一序号也会得到新的标识。
func ScheduledRun(subscriptionID string, run uint64, triggeredAt int64) string {
	return Derive(TagScheduledRun, []byte(subscriptionID), le64(run), le64(uint64(triggeredAt)))
}
