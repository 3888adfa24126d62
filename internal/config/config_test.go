package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	xerrors "SynapsePay/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return path
}

func TestLoadFormats(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "synapsepay.json",
			content: `{
  "server": {"address": ":9090"},
  "storage": {"driver": "sqlite", "dsn": "state.db"},
  "escrow": {"enabled": true, "genesis": {"alice": 5000000}},
  "payments": {"operators": ["ops-wallet"]},
  "keeper": {"schedule": "@every 10s", "workers": 2},
  "auth": {"allow_insecure_header": true}
}`,
		},
		{
			name: "yaml",
			file: "synapsepay.yaml",
			content: `server:
  address: ":9090"
storage:
  driver: sqlite
  dsn: state.db
escrow:
  enabled: true
  genesis:
    alice: 5000000
payments:
  operators: [ops-wallet]
keeper:
  schedule: "@every 10s"
  workers: 2
auth:
  allow_insecure_header: true
`,
		},
		{
			name: "toml",
			file: "synapsepay.toml",
			content: `[server]
address = ":9090"

[storage]
driver = "sqlite"
dsn = "state.db"

[escrow]
enabled = true
[escrow.genesis]
alice = 5000000

[payments]
operators = ["ops-wallet"]

[keeper]
schedule = "@every 10s"
workers = 2

[auth]
allow_insecure_header = true
`,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.file, tc.content)
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("加载配置失败: %v", err)
			}
			if cfg.Server.Address != ":9090" || cfg.Keeper.Workers != 2 || cfg.Keeper.Schedule != "@every 10s" {
				t.Fatalf("配置字段解析错误: %+v", cfg)
			}
			if want := filepath.Join(filepath.Dir(path), "state.db"); cfg.Storage.DSN != want {
				t.Fatalf("相对 DSN 应基于配置目录: %s", cfg.Storage.DSN)
			}
			if !cfg.Escrow.Enabled || cfg.Escrow.Genesis["alice"] != 5_000_000 {
				t.Fatalf("escrow 配置错误: %+v", cfg.Escrow)
			}
			if len(cfg.Payments.Operators) != 1 || cfg.Payments.Operators[0] != "ops-wallet" {
				t.Fatalf("operators 解析错误: %v", cfg.Payments.Operators)
			}
			// 未填写的字段使用默认值。
			if !cfg.Auth.AllowInsecureHeader {
				t.Fatalf("allow_insecure_header 解析错误: %+v", cfg.Auth)
			}
			if cfg.Auth.Mode != "header" || cfg.Events.Driver != "log" || cfg.Keeper.Queue.Driver != "memory" || cfg.Keeper.BatchSize != 100 {
				t.Fatalf("默认值缺失: %+v", cfg)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default("/srv/synapsepay")
	if err := cfg.Validate(); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
	if cfg.Storage.Driver != "memory" || cfg.Keeper.Schedule != "@every 30s" || cfg.Keeper.Identity != "keeper" {
		t.Fatalf("默认值错误: %+v", cfg)
	}
}

func TestAuthSecretFromEnv(t *testing.T) {
	t.Setenv(EnvAuthSecret, "from-env")
	path := writeFile(t, "auth.yaml", "auth:\n  mode: jwt\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Fatalf("环境变量未覆盖 secret: %q", cfg.Auth.Secret)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "storage driver", mutate: func(c *Config) { c.Storage.Driver = "postgres" }, want: "storage.driver"},
		{name: "mysql dsn", mutate: func(c *Config) { c.Storage.Driver = "mysql" }, want: "storage.dsn"},
		{name: "events driver", mutate: func(c *Config) { c.Events.Driver = "kafka" }, want: "events.driver"},
		{name: "redis events", mutate: func(c *Config) { c.Events.Driver = "redis" }, want: "events.redis.address"},
		{name: "queue driver", mutate: func(c *Config) { c.Keeper.Queue.Driver = "sqs" }, want: "keeper.queue.driver"},
		{name: "rabbit queue", mutate: func(c *Config) { c.Keeper.Queue.Driver = "rabbitmq" }, want: "keeper.queue.rabbitmq.url"},
		{name: "schedule", mutate: func(c *Config) { c.Keeper.Schedule = "sometimes" }, want: "keeper.schedule"},
		{name: "jwt secret", mutate: func(c *Config) { c.Auth.Mode = "jwt" }, want: "secret"},
		{name: "auth mode", mutate: func(c *Config) { c.Auth.Mode = "oauth" }, want: "auth.mode"},
		{name: "genesis", mutate: func(c *Config) { c.Escrow.Genesis = map[string]uint64{"a": 1} }, want: "escrow.genesis"},
		{name: "header with escrow", mutate: func(c *Config) { c.Escrow.Enabled = true }, want: "allow_insecure_header"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			tc.mutate(cfg)
			err := cfg.Validate()
			if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("期望校验失败: %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("错误信息缺少 %q: %v", tc.want, err)
			}
		})
	}
}

func TestHeaderAuthWithEscrow(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Escrow.Enabled = true
	cfg.Auth.AllowInsecureHeader = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("显式允许后应通过校验: %v", err)
	}

	t.Setenv(EnvAuthSecret, "shipped-secret")
	cfg, err := Load(filepath.Join("..", "..", "configs", "synapsepay.yaml"))
	if err != nil {
		t.Fatalf("加载随附配置失败: %v", err)
	}
	if cfg.Auth.Mode != "jwt" || !cfg.Escrow.Enabled || cfg.Auth.AllowInsecureHeader {
		t.Fatalf("随附配置不应以 header 模式启用 escrow: %+v", cfg.Auth)
	}
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	path := writeFile(t, "synapsepay.ini", "[server]")
	if _, err := Load(path); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("未知扩展名应失败: %v", err)
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("空路径应失败")
	}
}
