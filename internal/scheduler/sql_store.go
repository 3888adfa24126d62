package scheduler

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/storage/sqlstore"
)

const subscriptionColumns = `id, owner, agent_id, cadence_kind, cadence_seconds, next_run_at, last_run_at,
        total_runs, max_runs, balance, is_active, is_paused, created_at, updated_at`

// SQLStore 使用 MySQL 或 SQLite 保存订阅。
type SQLStore struct {
	db *sqlstore.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore 基于已迁移的数据库创建存储。
func NewSQLStore(db *sqlstore.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create 实现 Store。
func (s *SQLStore) Create(ctx context.Context, sub *Subscription) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (`+sqlstore.Placeholders(14)+`)`,
		sub.ID, sub.Owner, sub.AgentID, string(sub.Cadence.Kind), sub.Cadence.Seconds, sub.NextRunAt, sub.LastRunAt,
		sub.TotalRuns, sub.MaxRuns, sub.Balance, sub.IsActive, sub.IsPaused, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		if s.db.IsDuplicate(err) {
			return ErrSubscriptionExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入订阅失败")
	}
	return nil
}

// Get 实现 Store。
func (s *SQLStore) Get(ctx context.Context, id string) (*Subscription, error) {
	return scanSubscription(s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id))
}

// Update 实现 Store。
func (s *SQLStore) Update(ctx context.Context, id string, fn func(*Subscription) error) (*Subscription, error) {
	var updated *Subscription
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		sub, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE subscriptions SET cadence_kind = ?, cadence_seconds = ?, next_run_at = ?,
        last_run_at = ?, total_runs = ?, max_runs = ?, balance = ?, is_active = ?, is_paused = ?, updated_at = ?
        WHERE id = ?`,
			string(sub.Cadence.Kind), sub.Cadence.Seconds, sub.NextRunAt, sub.LastRunAt, sub.TotalRuns, sub.MaxRuns,
			sub.Balance, sub.IsActive, sub.IsPaused, sub.UpdatedAt, id)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新订阅失败")
		}
		updated = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete 实现 Store。
func (s *SQLStore) Delete(ctx context.Context, id string, fn func(*Subscription) error) (*Subscription, error) {
	var deleted *Subscription
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		sub, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := fn(sub); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除订阅失败")
		}
		deleted = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// ListDue 实现 Store。
func (s *SQLStore) ListDue(ctx context.Context, now int64, after DueCursor, limit int) ([]*Subscription, error) {
	if limit <= 0 {
		limit = maxListLimit
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions
        WHERE is_active = ? AND is_paused = ? AND next_run_at <= ?
        AND (max_runs = 0 OR total_runs < max_runs)`
	args := []any{true, false, now}
	if after != (DueCursor{}) {
		query += ` AND (next_run_at > ? OR (next_run_at = ? AND id > ?))`
		args = append(args, after.NextRunAt, after.NextRunAt, after.ID)
	}
	query += ` ORDER BY next_run_at ASC, id ASC LIMIT ?`
	args = append(args, limit)
	return s.query(ctx, query, args...)
}

// List 实现 Store。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Subscription, error) {
	opts.applyDefaults()
	var (
		clauses []string
		args    []any
	)
	if opts.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, opts.Owner)
	}
	if opts.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, opts.AgentID)
	}
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)
	return s.query(ctx, query, args...)
}

// Close 不关闭共享连接。
func (s *SQLStore) Close() error { return nil }

func (s *SQLStore) lock(ctx context.Context, tx *sql.Tx, id string) (*Subscription, error) {
	return scanSubscription(tx.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`+s.db.ForUpdate(), id))
}

func (s *SQLStore) query(ctx context.Context, query string, args ...any) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询订阅失败")
	}
	defer rows.Close()

	subs := make([]*Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历订阅失败")
	}
	return subs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*Subscription, error) {
	var (
		sub  Subscription
		kind string
	)
	err := row.Scan(&sub.ID, &sub.Owner, &sub.AgentID, &kind, &sub.Cadence.Seconds, &sub.NextRunAt, &sub.LastRunAt,
		&sub.TotalRuns, &sub.MaxRuns, &sub.Balance, &sub.IsActive, &sub.IsPaused, &sub.CreatedAt, &sub.UpdatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析订阅失败")
	}
	sub.Cadence.Kind = CadenceKind(kind)
	return &sub, nil
}
