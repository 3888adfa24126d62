// Package config 负责加载 synapsepayd 的启动配置，按扩展名支持 JSON、YAML 与 TOML。
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	xerrors "SynapsePay/internal/errors"
)

// 环境变量。
const (
	EnvConfigPath = "SYNAPSEPAY_CONFIG"
	EnvAuthSecret = "SYNAPSEPAY_AUTH_SECRET"
)

// Config 描述了 synapsepayd 在启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server" toml:"server"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging" toml:"logging"`
	Storage  StorageConfig  `json:"storage" yaml:"storage" toml:"storage"`
	Escrow   EscrowConfig   `json:"escrow" yaml:"escrow" toml:"escrow"`
	Payments PaymentsConfig `json:"payments" yaml:"payments" toml:"payments"`
	Events   EventsConfig   `json:"events" yaml:"events" toml:"events"`
	Keeper   KeeperConfig   `json:"keeper" yaml:"keeper" toml:"keeper"`
	Auth     AuthConfig     `json:"auth" yaml:"auth" toml:"auth"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting" toml:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址。MetricsAddress 非空时额外启动独立的指标端口。
type ServerConfig struct {
	Address        string `json:"address" yaml:"address" toml:"address"`
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address" toml:"metrics_address"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `json:"level" yaml:"level" toml:"level"`
	Format  string      `json:"format" yaml:"format" toml:"format"`
	Outputs []string    `json:"outputs" yaml:"outputs" toml:"outputs"`
	Audit   AuditConfig `json:"audit" yaml:"audit" toml:"audit"`
}

// AuditConfig 控制审计日志文件与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Path       string `json:"path" yaml:"path" toml:"path"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress" toml:"compress"`
}

// StorageConfig 选择记录存储。memory 仅适合单进程开发。
type StorageConfig struct {
	Driver                 string `json:"driver" yaml:"driver" toml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn" toml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds" toml:"conn_max_lifetime_seconds"`
}

// EscrowConfig 控制资金划转能力。Genesis 在启动时为钱包入金，便于开发环境联调。
type EscrowConfig struct {
	Enabled bool              `json:"enabled" yaml:"enabled" toml:"enabled"`
	Genesis map[string]uint64 `json:"genesis" yaml:"genesis" toml:"genesis"`
}

// PaymentsConfig 控制支付状态机的可选策略。
type PaymentsConfig struct {
	Operators            []string `json:"operators" yaml:"operators" toml:"operators"`
	ReceiptAdvancesState bool     `json:"receipt_advances_state" yaml:"receipt_advances_state" toml:"receipt_advances_state"`
	VerifySignatures     bool     `json:"verify_signatures" yaml:"verify_signatures" toml:"verify_signatures"`
}

// EventsConfig 选择事件发布通道：none、log、redis 或 rabbitmq。
type EventsConfig struct {
	Driver   string         `json:"driver" yaml:"driver" toml:"driver"`
	Redis    RedisConfig    `json:"redis" yaml:"redis" toml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq" toml:"rabbitmq"`
}

// RedisConfig 为事件流与 keeper 队列共用的 Redis 参数，Stream 与 Queue 按用途选填。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address" toml:"address"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
	Stream   string `json:"stream" yaml:"stream" toml:"stream"`
	MaxLen   int64  `json:"max_len" yaml:"max_len" toml:"max_len"`
	Queue    string `json:"queue" yaml:"queue" toml:"queue"`
}

// RabbitMQConfig 为事件交换机与 keeper 队列共用的 RabbitMQ 参数。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url" toml:"url"`
	Exchange string `json:"exchange" yaml:"exchange" toml:"exchange"`
	Queue    string `json:"queue" yaml:"queue" toml:"queue"`
	Prefetch int    `json:"prefetch" yaml:"prefetch" toml:"prefetch"`
	Durable  bool   `json:"durable" yaml:"durable" toml:"durable"`
}

// KeeperConfig 控制订阅扫描与触发。
type KeeperConfig struct {
	Disabled  bool        `json:"disabled" yaml:"disabled" toml:"disabled"`
	Schedule  string      `json:"schedule" yaml:"schedule" toml:"schedule"`
	BatchSize int         `json:"batch_size" yaml:"batch_size" toml:"batch_size"`
	Workers   int         `json:"workers" yaml:"workers" toml:"workers"`
	Identity  string      `json:"identity" yaml:"identity" toml:"identity"`
	Queue     QueueConfig `json:"queue" yaml:"queue" toml:"queue"`
}

// QueueConfig 选择 keeper 队列：memory、redis 或 rabbitmq。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver" toml:"driver"`
	Size     int            `json:"size" yaml:"size" toml:"size"`
	Redis    RedisConfig    `json:"redis" yaml:"redis" toml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq" toml:"rabbitmq"`
}

// AuthConfig 对应 internal/auth 的配置。header 模式信任请求头中的调用方，
// 与 escrow 同时启用需要显式打开 AllowInsecureHeader，仅限本地开发。
type AuthConfig struct {
	Mode                string `json:"mode" yaml:"mode" toml:"mode"`
	AllowInsecureHeader bool   `json:"allow_insecure_header" yaml:"allow_insecure_header" toml:"allow_insecure_header"`
	Secret          string `json:"secret" yaml:"secret" toml:"secret"`
	Issuer          string `json:"issuer" yaml:"issuer" toml:"issuer"`
	TokenTTLSeconds int    `json:"token_ttl_seconds" yaml:"token_ttl_seconds" toml:"token_ttl_seconds"`
}

// AlertingConfig 控制告警通道。
type AlertingConfig struct {
	Log            bool   `json:"log" yaml:"log" toml:"log"`
	WebhookURL     string `json:"webhook_url" yaml:"webhook_url" toml:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds" toml:"timeout_seconds"`
}

// Load 解析指定路径的配置文件，补全默认值、应用环境变量并校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "配置文件路径为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "读取配置文件失败")
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(content, &cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	case ".toml":
		err = toml.Unmarshal(content, &cfg)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的配置格式: %q", ext))
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析配置失败")
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回仅包含默认值的配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
	} else if c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" {
		if c.Storage.DSN == "" {
			c.Storage.DSN = filepath.Join(baseDir, "data", "synapsepay.db")
		} else if !filepath.IsAbs(c.Storage.DSN) && !strings.HasPrefix(c.Storage.DSN, "file:") {
			c.Storage.DSN = filepath.Join(baseDir, c.Storage.DSN)
		}
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "log"
	}

	if c.Keeper.Schedule == "" {
		c.Keeper.Schedule = "@every 30s"
	}
	if c.Keeper.BatchSize <= 0 {
		c.Keeper.BatchSize = 100
	}
	if c.Keeper.Workers <= 0 {
		c.Keeper.Workers = 4
	}
	if c.Keeper.Identity == "" {
		c.Keeper.Identity = "keeper"
	}
	if c.Keeper.Queue.Driver == "" {
		c.Keeper.Queue.Driver = "memory"
	}
	if c.Keeper.Queue.Size <= 0 {
		c.Keeper.Queue.Size = 256
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "header"
	}
	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "synapsepay"
	}
	if c.Auth.TokenTTLSeconds <= 0 {
		c.Auth.TokenTTLSeconds = 3600
	}

	if c.Alerting.TimeoutSeconds <= 0 {
		c.Alerting.TimeoutSeconds = 5
	}
}

// applyEnv 使用环境变量覆盖敏感配置。
func (c *Config) applyEnv() {
	if secret := strings.TrimSpace(os.Getenv(EnvAuthSecret)); secret != "" {
		c.Auth.Secret = secret
	}
}

// Validate 检查驱动名称、keeper 调度表达式与认证配置。
func (c *Config) Validate() error {
	var problems []string
	switch c.Storage.Driver {
	case "memory":
	case "mysql", "sqlite":
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的 storage.driver: %q", c.Storage.Driver))
	}

	switch c.Events.Driver {
	case "none", "log":
	case "redis":
		if c.Events.Redis.Address == "" {
			problems = append(problems, "events.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Events.RabbitMQ.URL == "" {
			problems = append(problems, "events.rabbitmq.url 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的 events.driver: %q", c.Events.Driver))
	}

	switch c.Keeper.Queue.Driver {
	case "memory":
	case "redis":
		if c.Keeper.Queue.Redis.Address == "" {
			problems = append(problems, "keeper.queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.Keeper.Queue.RabbitMQ.URL == "" {
			problems = append(problems, "keeper.queue.rabbitmq.url 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的 keeper.queue.driver: %q", c.Keeper.Queue.Driver))
	}
	if _, err := cron.ParseStandard(c.Keeper.Schedule); err != nil {
		problems = append(problems, fmt.Sprintf("keeper.schedule 无效: %v", err))
	}

	switch c.Auth.Mode {
	case "header":
	case "jwt":
		if c.Auth.Secret == "" {
			problems = append(problems, "auth.mode=jwt 时必须配置 secret 或 "+EnvAuthSecret)
		}
	default:
		problems = append(problems, fmt.Sprintf("未知的 auth.mode: %q", c.Auth.Mode))
	}

	if c.Auth.Mode == "header" && c.Escrow.Enabled && !c.Auth.AllowInsecureHeader {
		problems = append(problems, "auth.mode=header 不能与 escrow.enabled 同时使用，本地开发需设置 auth.allow_insecure_header")
	}

	if len(c.Escrow.Genesis) > 0 && !c.Escrow.Enabled {
		problems = append(problems, "escrow.genesis 需要 escrow.enabled")
	}

	if len(problems) > 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "配置校验失败: "+strings.Join(problems, "; "))
	}
	return nil
}
