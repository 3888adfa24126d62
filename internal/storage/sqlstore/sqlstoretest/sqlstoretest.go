// Package sqlstoretest 为 SQL 存储测试提供临时 SQLite 数据库。
package sqlstoretest

import (
	"context"
	"path/filepath"
	"testing"

	"SynapsePay/internal/storage/sqlstore"
)

// Open 在临时目录创建一个已迁移的 SQLite 数据库，测试结束自动关闭。
func Open(t testing.TB) *sqlstore.DB {
	t.Helper()
	db, err := sqlstore.Open(context.Background(), sqlstore.Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "synapsepay.db"),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}
