package ledger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"time"

	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/storage/sqlstore"
)

// SQLLedger 将账户余额与流水保存在 MySQL 或 SQLite 中。
type SQLLedger struct {
	db *sqlstore.DB
}

var _ Ledger = (*SQLLedger)(nil)

// NewSQLLedger 基于已迁移的数据库创建账本。
func NewSQLLedger(db *sqlstore.DB) *SQLLedger {
	return &SQLLedger{db: db}
}

// OpenAccount 实现 Ledger。
func (l *SQLLedger) OpenAccount(ctx context.Context, name, authority string) error {
	if name == "" || authority == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "账户与控制权限不能为空")
	}
	return l.db.WithTx(ctx, func(tx *sql.Tx) error {
		acct, err := l.lockAccount(ctx, tx, name)
		if err == nil {
			if acct.authority != authority {
				return ErrUnauthorized
			}
			return nil
		}
		if !stdErrors.Is(err, ErrAccountNotFound) {
			return err
		}
		return l.insertAccount(ctx, tx, name, authority, 0)
	})
}

// Deposit 实现 Ledger。
func (l *SQLLedger) Deposit(ctx context.Context, name string, amount uint64) error {
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "账户不能为空")
	}
	if amount == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "入金金额必须大于 0")
	}
	return l.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := l.credit(ctx, tx, name, amount); err != nil {
			return err
		}
		return l.journal(ctx, tx, Transfer{Amount: amount, To: name, Memo: "deposit"})
	})
}

// Transfer 实现 Ledger。
func (l *SQLLedger) Transfer(ctx context.Context, t Transfer) error {
	return l.Batch(ctx, []Transfer{t})
}

// Batch 实现 Ledger。
func (l *SQLLedger) Batch(ctx context.Context, transfers []Transfer) error {
	return l.db.WithTx(ctx, func(tx *sql.Tx) error {
		return l.apply(ctx, tx, transfers, true)
	})
}

// Revert 实现 Ledger。
func (l *SQLLedger) Revert(ctx context.Context, transfers []Transfer) error {
	return l.db.WithTx(ctx, func(tx *sql.Tx) error {
		return l.apply(ctx, tx, Reversed(transfers), false)
	})
}

func (l *SQLLedger) apply(ctx context.Context, tx *sql.Tx, transfers []Transfer, checkAuthority bool) error {
	for _, t := range transfers {
		if t.Amount == 0 {
			continue
		}
		src, err := l.lockAccount(ctx, tx, t.From)
		if err != nil {
			return err
		}
		if checkAuthority && src.authority != t.Authority {
			return ErrUnauthorized
		}
		if src.balance < t.Amount {
			return ErrInsufficientFunds
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE ledger_accounts SET balance = balance - ?, updated_at = ? WHERE account = ?`,
			t.Amount, time.Now().Unix(), t.From); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扣减余额失败")
		}
		if err := l.credit(ctx, tx, t.To, t.Amount); err != nil {
			return err
		}
		if err := l.journal(ctx, tx, t); err != nil {
			return err
		}
	}
	return nil
}

// Balance 实现 Ledger。
func (l *SQLLedger) Balance(ctx context.Context, name string) (uint64, error) {
	var balance uint64
	err := l.db.QueryRowContext(ctx, `SELECT balance FROM ledger_accounts WHERE account = ?`, name).Scan(&balance)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return 0, ErrAccountNotFound
	}
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询余额失败")
	}
	return balance, nil
}

// Close 不关闭共享连接，连接由调用方管理。
func (l *SQLLedger) Close() error { return nil }

func (l *SQLLedger) lockAccount(ctx context.Context, tx *sql.Tx, name string) (account, error) {
	var acct account
	err := tx.QueryRowContext(ctx,
		`SELECT authority, balance FROM ledger_accounts WHERE account = ?`+l.db.ForUpdate(), name).
		Scan(&acct.authority, &acct.balance)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return account{}, xerrors.Wrap(CodeAccountNotFound, fmt.Errorf("account %s", name), "")
	}
	if err != nil {
		return account{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询账户失败")
	}
	return acct, nil
}

func (l *SQLLedger) insertAccount(ctx context.Context, tx *sql.Tx, name, authority string, balance uint64) error {
	now := time.Now().Unix()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_accounts (account, authority, balance, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		name, authority, balance, now, now)
	if err != nil {
		if l.db.IsDuplicate(err) {
			return xerrors.Wrap(xerrors.CodeConflict, err, "账户已存在")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开户失败")
	}
	return nil
}

// credit 为账户加款，账户不存在时以自身为控制权限开户。
func (l *SQLLedger) credit(ctx context.Context, tx *sql.Tx, name string, amount uint64) error {
	acct, err := l.lockAccount(ctx, tx, name)
	if xerrors.CodeOf(err) == CodeAccountNotFound {
		if !creditable(0, amount) {
			return ErrBalanceOverflow
		}
		return l.insertAccount(ctx, tx, name, name, amount)
	}
	if err != nil {
		return err
	}
	if !creditable(acct.balance, amount) {
		return ErrBalanceOverflow
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE ledger_accounts SET balance = balance + ?, updated_at = ? WHERE account = ?`,
		amount, time.Now().Unix(), name); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "增加余额失败")
	}
	return nil
}

func (l *SQLLedger) journal(ctx context.Context, tx *sql.Tx, t Transfer) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (source, destination, amount, memo, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.From, t.To, t.Amount, t.Memo, time.Now().Unix())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入流水失败")
	}
	return nil
}
