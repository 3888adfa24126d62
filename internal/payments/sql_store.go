package payments

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/storage/sqlstore"
)

const (
	invoiceColumns = `id, payer, recipient, agent_id, amount, state, expires_at, created_at, nonce, updated_at`
	paymentColumns = `id, invoice_id, payer, recipient, agent_id, amount, platform_fee, state, result_cid,
        tx_signature, escrow_account, settled_at, completed_at, updated_at`
	receiptColumns  = `id, payment_id, payer, agent_id, amount, result_cid, minted_at, slot`
	platformColumns = `admin, fee_treasury, platform_authority, escrow_authority, initialized_at`
)

// SQLStore 使用 MySQL 或 SQLite 保存支付状态机。
type SQLStore struct {
	db *sqlstore.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore 基于已迁移的数据库创建存储。
func NewSQLStore(db *sqlstore.DB) *SQLStore {
	return &SQLStore{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateInvoice 实现 Store。
func (s *SQLStore) CreateInvoice(ctx context.Context, inv *Invoice) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO invoices (`+invoiceColumns+`) VALUES (`+sqlstore.Placeholders(10)+`)`,
		inv.ID, inv.Payer, inv.Recipient, inv.AgentID, inv.Amount, string(inv.State),
		inv.ExpiresAt, inv.CreatedAt, inv.Nonce, inv.UpdatedAt)
	if err != nil {
		if s.db.IsDuplicate(err) {
			return ErrInvoiceExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入发票失败")
	}
	return nil
}

// GetInvoice 实现 Store。
func (s *SQLStore) GetInvoice(ctx context.Context, id string) (*Invoice, error) {
	return scanInvoice(s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id))
}

// UpdateInvoice 实现 Store。
func (s *SQLStore) UpdateInvoice(ctx context.Context, id string, fn func(*Invoice) error) (*Invoice, error) {
	var updated *Invoice
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		inv, err := s.lockInvoice(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(inv); err != nil {
			return err
		}
		if err := writeInvoice(ctx, tx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListExpiredInvoices 实现 Store。
func (s *SQLStore) ListExpiredInvoices(ctx context.Context, now int64, limit int) ([]*Invoice, error) {
	if limit <= 0 {
		limit = maxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+invoiceColumns+` FROM invoices
        WHERE state = ? AND expires_at <= ? ORDER BY expires_at ASC, id ASC LIMIT ?`,
		string(StateInvoiceCreated), now, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询过期发票失败")
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历过期发票失败")
	}
	return out, nil
}

// Settle 实现 Store。
func (s *SQLStore) Settle(ctx context.Context, invoiceID string, useNonce bool, fn SettleFunc) (*Payment, error) {
	var created *Payment
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		inv, err := s.lockInvoice(ctx, tx, invoiceID)
		if err != nil {
			return err
		}
		payment, err := fn(inv)
		if err != nil {
			return err
		}
		if useNonce {
			_, err := tx.ExecContext(ctx, `INSERT INTO used_nonces (payer, nonce, used_at) VALUES (?, ?, ?)`,
				inv.Payer, inv.Nonce, payment.SettledAt)
			if err != nil {
				if s.db.IsDuplicate(err) {
					return ErrNonceAlreadyUsed
				}
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "登记 nonce 失败")
			}
		}
		if err := s.insertPayment(ctx, tx, payment); err != nil {
			return err
		}
		if err := writeInvoice(ctx, tx, inv); err != nil {
			return err
		}
		created = payment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CreatePayment 实现 Store。
func (s *SQLStore) CreatePayment(ctx context.Context, p *Payment) error {
	return s.insertPayment(ctx, s.db, p)
}

func (s *SQLStore) insertPayment(ctx context.Context, db execer, p *Payment) error {
	_, err := db.ExecContext(ctx, `INSERT INTO payments (`+paymentColumns+`) VALUES (`+sqlstore.Placeholders(14)+`)`,
		p.ID, p.InvoiceID, p.Payer, p.Recipient, p.AgentID, p.Amount,
		p.PlatformFee, string(p.State), p.ResultCID, p.TxSignature,
		p.EscrowAccount, p.SettledAt, p.CompletedAt, p.UpdatedAt)
	if err != nil {
		if s.db.IsDuplicate(err) {
			return ErrInvalidState
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入支付失败")
	}
	return nil
}

// GetPayment 实现 Store。
func (s *SQLStore) GetPayment(ctx context.Context, id string) (*Payment, error) {
	return scanPayment(s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
}

// UpdatePayment 实现 Store。
func (s *SQLStore) UpdatePayment(ctx context.Context, id string, fn func(*Payment) error) (*Payment, error) {
	var updated *Payment
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := s.lockPayment(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := writePayment(ctx, tx, p); err != nil {
			return err
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// ListPayments 实现 Store。
func (s *SQLStore) ListPayments(ctx context.Context, opts ListOptions) ([]*Payment, error) {
	opts.applyDefaults()
	var (
		clauses []string
		args    []any
	)
	if opts.Payer != "" {
		clauses = append(clauses, "payer = ?")
		args = append(args, opts.Payer)
	}
	if opts.Recipient != "" {
		clauses = append(clauses, "recipient = ?")
		args = append(args, opts.Recipient)
	}
	if len(opts.States) > 0 {
		clauses = append(clauses, "state IN ("+sqlstore.Placeholders(len(opts.States))+")")
		for _, st := range opts.States {
			args = append(args, string(st))
		}
	}
	query := `SELECT ` + paymentColumns + ` FROM payments`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY settled_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付列表失败")
	}
	defer rows.Close()

	payments := make([]*Payment, 0, opts.Limit)
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付列表失败")
	}
	return payments, nil
}

// MintReceipt 实现 Store。
func (s *SQLStore) MintReceipt(ctx context.Context, paymentID string, fn MintFunc) (*Receipt, error) {
	var minted *Receipt
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		p, err := s.lockPayment(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		r, err := fn(p)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO receipts (`+receiptColumns+`) VALUES (`+sqlstore.Placeholders(8)+`)`,
			r.ID, r.PaymentID, r.Payer, r.AgentID, r.Amount, r.ResultCID, r.MintedAt, r.Slot)
		if err != nil {
			if s.db.IsDuplicate(err) {
				return ErrReceiptExists
			}
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入回执失败")
		}
		if err := writePayment(ctx, tx, p); err != nil {
			return err
		}
		minted = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// GetReceipt 实现 Store。
func (s *SQLStore) GetReceipt(ctx context.Context, id string) (*Receipt, error) {
	var r Receipt
	err := s.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id).
		Scan(&r.ID, &r.PaymentID, &r.Payer, &r.AgentID, &r.Amount, &r.ResultCID, &r.MintedAt, &r.Slot)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询回执失败")
	}
	return &r, nil
}

// InitPlatform 实现 Store。平台记录固定使用 id = 1。
func (s *SQLStore) InitPlatform(ctx context.Context, p *Platform) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO platform (id, `+platformColumns+`) VALUES (1, `+sqlstore.Placeholders(5)+`)`,
		p.Admin, p.FeeTreasury, p.PlatformAuthority, p.EscrowAuthority, p.InitializedAt)
	if err != nil {
		if s.db.IsDuplicate(err) {
			return ErrPlatformExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化平台失败")
	}
	return nil
}

// GetPlatform 实现 Store。
func (s *SQLStore) GetPlatform(ctx context.Context) (*Platform, error) {
	var p Platform
	err := s.db.QueryRowContext(ctx, `SELECT `+platformColumns+` FROM platform WHERE id = 1`).
		Scan(&p.Admin, &p.FeeTreasury, &p.PlatformAuthority, &p.EscrowAuthority, &p.InitializedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlatformNotInitialized
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询平台失败")
	}
	return &p, nil
}

// Close 不关闭共享连接。
func (s *SQLStore) Close() error { return nil }

func (s *SQLStore) lockInvoice(ctx context.Context, tx *sql.Tx, id string) (*Invoice, error) {
	return scanInvoice(tx.QueryRowContext(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`+s.db.ForUpdate(), id))
}

func (s *SQLStore) lockPayment(ctx context.Context, tx *sql.Tx, id string) (*Payment, error) {
	return scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`+s.db.ForUpdate(), id))
}

func writeInvoice(ctx context.Context, db execer, inv *Invoice) error {
	_, err := db.ExecContext(ctx, `UPDATE invoices SET state = ?, updated_at = ? WHERE id = ?`,
		string(inv.State), inv.UpdatedAt, inv.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新发票失败")
	}
	return nil
}

func writePayment(ctx context.Context, db execer, p *Payment) error {
	_, err := db.ExecContext(ctx, `UPDATE payments SET state = ?, result_cid = ?, escrow_account = ?,
        completed_at = ?, updated_at = ? WHERE id = ?`,
		string(p.State), p.ResultCID, p.EscrowAccount, p.CompletedAt, p.UpdatedAt, p.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新支付失败")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (*Invoice, error) {
	var (
		inv   Invoice
		state string
	)
	err := row.Scan(&inv.ID, &inv.Payer, &inv.Recipient, &inv.AgentID, &inv.Amount, &state,
		&inv.ExpiresAt, &inv.CreatedAt, &inv.Nonce, &inv.UpdatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析发票失败")
	}
	inv.State = State(state)
	return &inv, nil
}

func scanPayment(row rowScanner) (*Payment, error) {
	var (
		p     Payment
		state string
	)
	err := row.Scan(&p.ID, &p.InvoiceID, &p.Payer, &p.Recipient, &p.AgentID, &p.Amount, &p.PlatformFee,
		&state, &p.ResultCID, &p.TxSignature, &p.EscrowAccount, &p.SettledAt, &p.CompletedAt, &p.UpdatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付失败")
	}
	p.State = State(state)
	return &p, nil
}
