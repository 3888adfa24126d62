package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	xerrors "SynapsePay/internal/errors"
)

type account struct {
	authority string
	balance   uint64
}

// Entry 是一条已执行划转的流水。
type Entry struct {
	Transfer
	At int64
}

// MemoryLedger 将账户保存在内存中，适合开发与测试环境。
type MemoryLedger struct {
	mu       sync.Mutex
	accounts map[string]*account
	journal  []Entry
}

var _ Ledger = (*MemoryLedger)(nil)

// NewMemoryLedger 创建一个空账本。
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{accounts: make(map[string]*account)}
}

// OpenAccount 实现 Ledger。
func (l *MemoryLedger) OpenAccount(_ context.Context, name, authority string) error {
	if name == "" || authority == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "账户与控制权限不能为空")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[name]; ok {
		if acct.authority != authority {
			return ErrUnauthorized
		}
		return nil
	}
	l.accounts[name] = &account{authority: authority}
	return nil
}

// Deposit 实现 Ledger。
func (l *MemoryLedger) Deposit(_ context.Context, name string, amount uint64) error {
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "账户不能为空")
	}
	if amount == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "入金金额必须大于 0")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[name]
	if !ok {
		acct = &account{authority: name}
		l.accounts[name] = acct
	}
	if !creditable(acct.balance, amount) {
		return ErrBalanceOverflow
	}
	acct.balance += amount
	l.journal = append(l.journal, Entry{Transfer: Transfer{Amount: amount, To: name, Memo: "deposit"}, At: time.Now().Unix()})
	return nil
}

// Transfer 实现 Ledger。
func (l *MemoryLedger) Transfer(ctx context.Context, t Transfer) error {
	return l.Batch(ctx, []Transfer{t})
}

// Batch 实现 Ledger。
func (l *MemoryLedger) Batch(_ context.Context, transfers []Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apply(transfers, true)
}

// Revert 实现 Ledger。
func (l *MemoryLedger) Revert(_ context.Context, transfers []Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.apply(Reversed(transfers), false)
}

// apply 先在快照上校验全部划转，再一次性落账。调用方需持有锁。
func (l *MemoryLedger) apply(transfers []Transfer, checkAuthority bool) error {
	pending := make(map[string]uint64)
	balanceOf := func(name string) uint64 {
		if v, ok := pending[name]; ok {
			return v
		}
		if acct, ok := l.accounts[name]; ok {
			return acct.balance
		}
		return 0
	}

	for i, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		src, ok := l.accounts[t.From]
		if !ok {
			return xerrors.Wrap(CodeAccountNotFound, fmt.Errorf("transfer %d: %s", i, t.From), "")
		}
		if checkAuthority && src.authority != t.Authority {
			return ErrUnauthorized
		}
		bal := balanceOf(t.From)
		if bal < t.Amount {
			return ErrInsufficientFunds
		}
		pending[t.From] = bal - t.Amount
		dst := balanceOf(t.To)
		if !creditable(dst, t.Amount) {
			return ErrBalanceOverflow
		}
		pending[t.To] = dst + t.Amount
	}

	now := time.Now().Unix()
	for name, bal := range pending {
		acct, ok := l.accounts[name]
		if !ok {
			acct = &account{authority: name}
			l.accounts[name] = acct
		}
		acct.balance = bal
	}
	for _, t := range transfers {
		if t.Amount > 0 {
			l.journal = append(l.journal, Entry{Transfer: t, At: now})
		}
	}
	return nil
}

// Balance 实现 Ledger。
func (l *MemoryLedger) Balance(_ context.Context, name string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[name]
	if !ok {
		return 0, ErrAccountNotFound
	}
	return acct.balance, nil
}

// Journal 返回全部流水的副本。
func (l *MemoryLedger) Journal() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.journal))
	copy(out, l.journal)
	return out
}

// Close 实现 Ledger。
func (l *MemoryLedger) Close() error { return nil }
