// Package ledger 实现托管、手续费金库与订阅金库之间的代币划转能力。
package ledger

import (
	"context"
	"math"
	"net/http"

	xerrors "SynapsePay/internal/errors"
)

const (
	CodeInsufficientFunds xerrors.Code = "LEDGER_INSUFFICIENT_FUNDS"
	CodeUnauthorized      xerrors.Code = "LEDGER_UNAUTHORIZED"
	CodeAccountNotFound   xerrors.Code = "LEDGER_ACCOUNT_NOT_FOUND"
	CodeBalanceOverflow   xerrors.Code = "LEDGER_BALANCE_OVERFLOW"
)

// MaxBalance 是单个账户余额的上限，与 SQL 后端的有符号 64 位整数列一致。
const MaxBalance uint64 = math.MaxInt64

var (
	ErrInsufficientFunds = xerrors.New(CodeInsufficientFunds, "insufficient funds")
	ErrUnauthorized      = xerrors.New(CodeUnauthorized, "authority does not control account")
	ErrAccountNotFound   = xerrors.New(CodeAccountNotFound, "ledger account not found")
	ErrBalanceOverflow   = xerrors.New(CodeBalanceOverflow, "credit would exceed the maximum balance")
)

func init() {
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{
		Message:    "insufficient funds",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusPaymentRequired,
	})
	xerrors.Register(CodeUnauthorized, xerrors.Attributes{
		Message:    "authority does not control account",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusForbidden,
	})
	xerrors.Register(CodeAccountNotFound, xerrors.Attributes{
		Message:    "ledger account not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeBalanceOverflow, xerrors.Attributes{
		Message:    "credit would exceed the maximum balance",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
}

// creditable 判断 balance 加上 amount 后是否仍不超过 MaxBalance。
func creditable(balance, amount uint64) bool {
	return amount <= MaxBalance && balance <= MaxBalance-amount
}

// Transfer 描述一次从 From 到 To 的划转，Authority 必须控制 From。
type Transfer struct {
	Amount    uint64 `json:"amount"`
	From      string `json:"from"`
	To        string `json:"to"`
	Authority string `json:"authority"`
	Memo      string `json:"memo,omitempty"`
}

// Ledger 定义了状态机依赖的代币划转能力。
type Ledger interface {
	// OpenAccount 以指定控制权限开户，重复开户且权限一致时为幂等操作。
	OpenAccount(ctx context.Context, account, authority string) error
	// Deposit 为钱包账户入金，账户不存在时以自身为控制权限开户。
	Deposit(ctx context.Context, account string, amount uint64) error
	Transfer(ctx context.Context, t Transfer) error
	// Batch 原子地执行多笔划转，任一失败则全部不生效。
	Batch(ctx context.Context, transfers []Transfer) error
	// Revert 反向执行已完成的划转，用于持久化失败后的补偿，不校验权限。
	Revert(ctx context.Context, transfers []Transfer) error
	Balance(ctx context.Context, account string) (uint64, error)
	Close() error
}

// Reversed 返回 transfers 的逆序反向划转。
func Reversed(transfers []Transfer) []Transfer {
	out := make([]Transfer, 0, len(transfers))
	for i := len(transfers) - 1; i >= 0; i-- {
		t := transfers[i]
		out = append(out, Transfer{
			Amount:    t.Amount,
			From:      t.To,
			To:        t.From,
			Authority: t.Authority,
			Memo:      "revert: " + t.Memo,
		})
	}
	return out
}
