package sqlstore

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	xerrors "SynapsePay/internal/errors"
	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect 标识底层数据库方言。
type Dialect string

const (
	DialectMySQL  Dialect = "mysql"
	DialectSQLite Dialect = "sqlite"
)

// ErrUnsupportedDriver 表示配置了未知的存储驱动。
var ErrUnsupportedDriver = xerrors.New(xerrors.CodeInvalidArgument, "unsupported storage driver")

// Config 描述连接池参数。
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DB 在 *sql.DB 之上记录方言信息。
type DB struct {
	*sql.DB
	dialect Dialect
}

// Open 建立连接、校验可用性并执行全部未应用的迁移。
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据库 DSN 不能为空")
	}

	var dialect Dialect
	switch strings.ToLower(cfg.Driver) {
	case "mysql":
		dialect = DialectMySQL
	case "sqlite", "sqlite3":
		dialect = DialectSQLite
	default:
		return nil, ErrUnsupportedDriver
	}

	raw, err := sql.Open(string(dialect), cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("打开 %s 连接失败", dialect))
	}

	if dialect == DialectSQLite {
		// SQLite 只允许单写者，串行化全部连接。
		raw.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			raw.SetMaxOpenConns(cfg.MaxOpenConns)
		} else {
			raw.SetMaxOpenConns(20)
		}
		if cfg.MaxIdleConns > 0 {
			raw.SetMaxIdleConns(cfg.MaxIdleConns)
		} else {
			raw.SetMaxIdleConns(10)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		raw.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		raw.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		raw.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := raw.PingContext(ctx); err != nil {
		raw.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("无法连接到 %s", dialect))
	}

	db := &DB{DB: raw, dialect: dialect}
	if err := db.migrate(ctx); err != nil {
		raw.Close()
		return nil, err
	}
	return db, nil
}

// Dialect 返回当前方言。
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// ForUpdate 返回行锁子句，SQLite 依赖库级写锁因此为空。
func (db *DB) ForUpdate() string {
	if db.dialect == DialectMySQL {
		return " FOR UPDATE"
	}
	return ""
}

// IsDuplicate 判断错误是否为主键或唯一索引冲突。
func (db *DB) IsDuplicate(err error) bool {
	if err == nil {
		return false
	}
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var liteErr *sqlite.Error
	if stdErrors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
			strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}

// WithTx 在事务中执行 fn，fn 返回错误时回滚。
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Placeholders 生成 n 个以逗号分隔的占位符。
func Placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
