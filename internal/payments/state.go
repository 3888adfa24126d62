// Package payments 实现发票、托管结算与回执的状态机。
package payments

// State 是发票与支付共用的状态枚举。
type State string

const (
	StateInvoiceCreated State = "invoice_created"
	StatePending        State = "pending"
	StateExecuting      State = "executing"
	StateCompleted      State = "completed"
	StateReceiptMinted  State = "receipt_minted"
	StateClaimed        State = "claimed"
	StateExpired        State = "expired"
	StateFailed         State = "failed"
	StateRefunded       State = "refunded"
)

var transitions = map[State][]State{
	StateInvoiceCreated: {StatePending, StateExpired},
	StatePending:        {StateExecuting},
	StateExecuting:      {StateCompleted, StateFailed, StateRefunded},
	StateCompleted:      {StateReceiptMinted, StateClaimed},
	StateReceiptMinted:  {StateClaimed},
	StateFailed:         {StateRefunded},
}

// CanTransition 判断 from 到 to 是否为允许的前向边。
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid 判断状态是否属于已知枚举。
func (s State) Valid() bool {
	switch s {
	case StateInvoiceCreated, StatePending, StateExecuting, StateCompleted, StateReceiptMinted,
		StateClaimed, StateExpired, StateFailed, StateRefunded:
		return true
	}
	return false
}

// Terminal 判断状态是否不再有出边。
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// FeeDivisor 对应 5% 的平台手续费。
const FeeDivisor = 20

// SplitFee 按整数除法拆分手续费，余数计入净额。
func SplitFee(amount uint64) (fee, net uint64) {
	fee = amount / FeeDivisor
	return fee, amount - fee
}
