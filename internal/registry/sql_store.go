package registry

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"

	xerrors "SynapsePay/internal/errors"
	"SynapsePay/internal/storage/sqlstore"
)

const agentColumns = `agent_id, owner, metadata_cid, price, category, total_runs, total_earned,
        rating, rating_count, is_active, created_at, updated_at`

// SQLStore 使用 MySQL 或 SQLite 保存目录项。
type SQLStore struct {
	db *sqlstore.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore 基于已迁移的数据库创建存储。
func NewSQLStore(db *sqlstore.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Create 实现 Store。
func (s *SQLStore) Create(ctx context.Context, a *Agent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO agents (`+agentColumns+`) VALUES (`+sqlstore.Placeholders(12)+`)`,
		a.AgentID, a.Owner, a.MetadataCID, a.Price, string(a.Category), a.TotalRuns, a.TotalEarned,
		a.Rating, a.RatingCount, a.IsActive, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		if s.db.IsDuplicate(err) {
			return ErrAgentExists
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入 agent 失败")
	}
	return nil
}

// Get 实现 Store。
func (s *SQLStore) Get(ctx context.Context, agentID string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	return scanAgent(row)
}

// Update 实现 Store。
func (s *SQLStore) Update(ctx context.Context, agentID string, fn func(*Agent) error) (*Agent, error) {
	var updated *Agent
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`+s.db.ForUpdate(), agentID)
		current, err := scanAgent(row)
		if err != nil {
			return err
		}
		if err := fn(current); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE agents SET owner = ?, metadata_cid = ?, price = ?, category = ?,
        total_runs = ?, total_earned = ?, rating = ?, rating_count = ?, is_active = ?, updated_at = ?
        WHERE agent_id = ?`,
			current.Owner, current.MetadataCID, current.Price, string(current.Category),
			current.TotalRuns, current.TotalEarned, current.Rating, current.RatingCount, current.IsActive,
			current.UpdatedAt, agentID)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新 agent 失败")
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// List 实现 Store。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Agent, error) {
	opts.applyDefaults()
	var (
		clauses []string
		args    []any
	)
	if opts.Owner != "" {
		clauses = append(clauses, "owner = ?")
		args = append(args, opts.Owner)
	}
	if opts.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(opts.Category))
	}
	if opts.ActiveOnly {
		clauses = append(clauses, "is_active = ?")
		args = append(args, true)
	}
	query := `SELECT ` + agentColumns + ` FROM agents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, agent_id ASC LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询 agent 列表失败")
	}
	defer rows.Close()

	agents := make([]*Agent, 0, opts.Limit)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 agent 列表失败")
	}
	return agents, nil
}

// Close 不关闭共享连接。
func (s *SQLStore) Close() error { return nil }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var (
		a        Agent
		category string
	)
	err := row.Scan(&a.AgentID, &a.Owner, &a.MetadataCID, &a.Price, &category, &a.TotalRuns, &a.TotalEarned,
		&a.Rating, &a.RatingCount, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析 agent 失败")
	}
	a.Category = Category(category)
	return &a, nil
}
