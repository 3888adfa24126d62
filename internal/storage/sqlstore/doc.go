// Package sqlstore 管理 MySQL 与 SQLite 连接池、嵌入式迁移以及方言差异，
// registry、payments、scheduler 与 ledger 的 SQL 存储都构建在它之上。
package sqlstore
