package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"SynapsePay/internal/api"
	"SynapsePay/internal/auth"
	"SynapsePay/internal/config"
	"SynapsePay/internal/events"
	"SynapsePay/internal/identity"
	"SynapsePay/internal/keeper"
	"SynapsePay/internal/ledger"
	"SynapsePay/internal/observability/alerting"
	"SynapsePay/internal/observability/metrics"
	"SynapsePay/internal/payments"
	"SynapsePay/internal/registry"
	"SynapsePay/internal/scheduler"
	"SynapsePay/internal/storage/sqlstore"
	"SynapsePay/pkg/logger"
)

// main 是 SynapsePay 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("synapsepayd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	// .env 不存在时忽略，只用于本地开发。
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("加载 .env 失败: %w", err)
	}

	configPath := os.Getenv(config.EnvConfigPath)
	if configPath == "" {
		configPath = filepath.Join("configs", "synapsepay.yaml")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logr := logger.Named("synapsepayd")

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	publisher, err := newPublisher(ctx, cfg.Events)
	if err != nil {
		return err
	}
	if publisher != nil {
		defer publisher.Close()
	}

	var book ledger.Ledger
	if cfg.Escrow.Enabled {
		book = st.ledger
		applied, err := ledger.ApplyGenesis(ctx, book, cfg.Escrow.Genesis)
		if err != nil {
			return err
		}
		for _, wallet := range applied {
			logr.Info("创世入金完成", slog.String("wallet", wallet), slog.Uint64("amount", cfg.Escrow.Genesis[wallet]))
		}
	}

	registrySvc := registry.NewService(st.registry)

	paymentOpts := []payments.Option{
		payments.WithPublisher(publisher),
		payments.WithEarningsRecorder(registrySvc),
		payments.WithOperators(cfg.Payments.Operators...),
		payments.WithReceiptAdvancesState(cfg.Payments.ReceiptAdvancesState),
	}
	if book != nil {
		paymentOpts = append(paymentOpts, payments.WithLedger(book))
	}
	if cfg.Payments.VerifySignatures {
		paymentOpts = append(paymentOpts, payments.WithVerifier(identity.Ed25519Verifier{}))
	}
	paymentSvc := payments.NewService(st.payments, paymentOpts...)

	schedulerOpts := []scheduler.Option{scheduler.WithPublisher(publisher), scheduler.WithRuns(paymentSvc)}
	if book != nil {
		schedulerOpts = append(schedulerOpts, scheduler.WithLedger(book))
	}
	schedulerSvc := scheduler.NewService(st.scheduler, registrySvc, schedulerOpts...)

	authSvc, err := auth.NewService(auth.Config{
		Mode:     auth.Mode(cfg.Auth.Mode),
		Secret:   cfg.Auth.Secret,
		Issuer:   cfg.Auth.Issuer,
		TokenTTL: time.Duration(cfg.Auth.TokenTTLSeconds) * time.Second,
	})
	if err != nil {
		return err
	}
	if authSvc.Mode() == auth.ModeHeader {
		logr.Warn("身份认证运行在 header 模式，仅适用于开发环境")
	}

	server, err := api.NewServer(cfg.Server.Address, api.Services{
		Registry:  registrySvc,
		Payments:  paymentSvc,
		Scheduler: schedulerSvc,
		Ledger:    book,
		Auth:      authSvc,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(server.Start(gctx)) })

	if cfg.Server.MetricsAddress != "" {
		g.Go(func() error { return ignoreCanceled(metrics.StartServer(gctx, cfg.Server.MetricsAddress)) })
	}

	if cfg.Keeper.Disabled {
		logr.Info("keeper 已禁用")
	} else {
		queue, err := newQueue(ctx, cfg.Keeper.Queue)
		if err != nil {
			return err
		}
		defer queue.Close()

		k := keeper.New(schedulerSvc, queue,
			keeper.WithSchedule(cfg.Keeper.Schedule),
			keeper.WithBatchSize(cfg.Keeper.BatchSize),
			keeper.WithInvoiceSweeper(paymentSvc),
		)
		processor := keeper.NewProcessor(schedulerSvc, queue,
			keeper.WithWorkerCount(cfg.Keeper.Workers),
			keeper.WithIdentity(cfg.Keeper.Identity),
			keeper.WithAlertDispatcher(newAlerts(cfg.Alerting)),
		)
		g.Go(func() error { return ignoreCanceled(k.Run(gctx)) })
		g.Go(func() error { return ignoreCanceled(processor.Start(gctx)) })
	}

	logr.Info("synapsepayd 已启动",
		slog.String("storage", cfg.Storage.Driver),
		slog.Bool("escrow", book != nil),
		slog.String("auth", cfg.Auth.Mode),
	)
	return g.Wait()
}

// stores 汇总各模块的存储实现，SQL 驱动下共享同一个连接池。
type stores struct {
	db        *sqlstore.DB
	ledger    ledger.Ledger
	registry  registry.Store
	payments  payments.Store
	scheduler scheduler.Store
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.Storage.Driver == "memory" {
		return &stores{
			ledger:    ledger.NewMemoryLedger(),
			registry:  registry.NewMemoryStore(),
			payments:  payments.NewMemoryStore(),
			scheduler: scheduler.NewMemoryStore(),
		}, nil
	}
	if cfg.Storage.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.DSN), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:          cfg.Storage.Driver,
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Storage.ConnMaxLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	return &stores{
		db:        db,
		ledger:    ledger.NewSQLLedger(db),
		registry:  registry.NewSQLStore(db),
		payments:  payments.NewSQLStore(db),
		scheduler: scheduler.NewSQLStore(db),
	}, nil
}

func (s *stores) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func newPublisher(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "none":
		return nil, nil
	case "log":
		return events.NewLogPublisher(logger.Named("events")), nil
	case "redis":
		return events.NewRedisPublisher(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的事件驱动: %s", cfg.Driver)
	}
}

func newQueue(ctx context.Context, cfg config.QueueConfig) (keeper.Queue, error) {
	switch cfg.Driver {
	case "memory":
		return keeper.NewMemoryQueue(cfg.Size), nil
	case "redis":
		return keeper.NewRedisQueue(ctx, keeper.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Queue,
		})
	case "rabbitmq":
		return keeper.NewRabbitMQQueue(keeper.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func newAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, &alerting.LogNotifier{})
	}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:    cfg.WebhookURL,
			Client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		})
	}
	return alerting.NewFanout(notifiers...)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
