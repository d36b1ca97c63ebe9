package container

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/dispatcher"
	"github.com/mobomo/C2/internal/application/eventbus"
	"github.com/mobomo/C2/internal/application/history"
	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/application/service"
	"github.com/mobomo/C2/internal/domain/clientdata"
	"github.com/mobomo/C2/internal/domain/event"
	"github.com/mobomo/C2/internal/infrastructure/credential"
	"github.com/mobomo/C2/internal/infrastructure/lock"
	"github.com/mobomo/C2/internal/infrastructure/mail"
	"github.com/mobomo/C2/internal/infrastructure/metrics"
	"github.com/mobomo/C2/internal/infrastructure/persistence/repository"
	"github.com/mobomo/C2/internal/infrastructure/persistence/sqlite"
	"github.com/mobomo/C2/internal/infrastructure/worker"
	"github.com/mobomo/C2/migrations"
	"github.com/mobomo/C2/pkg/database"
	"github.com/mobomo/C2/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Proposals     port.ProposalRepository
	Steps         port.StepRepository
	Comments      port.CommentRepository
	Users         port.UserRepository
	Groups        port.ApprovalGroupRepository
	Tokens        port.AccessTokenRepository
	Notifications port.NotificationRepository
}

// LockBundle holds the proposal locker and the Redis client behind it, if any.
type LockBundle struct {
	Locker port.Locker
	Redis  *redis.Client
}

// MailBundle holds the outbox and the transport the delivery worker drains it through.
type MailBundle struct {
	Outbox    *mail.Outbox
	Renderer  mail.Renderer
	Transport *mail.ReliableTransport
}

// ApplicationBundle holds the event bus and everything subscribed to it.
type ApplicationBundle struct {
	Bus        eventbus.Bus
	Dispatcher *dispatcher.Dispatcher
	Linker     *history.Linker
	Proposals  service.ProposalService
}

// ProvideDatabase opens the database and applies the embedded migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	applied, err := database.NewMigrator(db, logger).Run(migrations.FS)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Migrations applied", zap.Int("count", applied))

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(dbs *DatabaseBundle, logger *zap.Logger) (*RepositoryBundle, error) {
	if dbs == nil || dbs.DB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	sqlDB := dbs.DB.DB
	return &RepositoryBundle{
		Proposals:     repository.NewProposalRepository(sqlDB, logger),
		Steps:         repository.NewStepRepository(sqlDB, logger),
		Comments:      repository.NewCommentRepository(sqlDB, logger),
		Users:         repository.NewUserRepository(sqlDB, logger),
		Groups:        repository.NewApprovalGroupRepository(sqlDB, dbs.TransactionMgr, logger),
		Tokens:        repository.NewAccessTokenRepository(sqlDB, logger),
		Notifications: repository.NewNotificationRepository(sqlDB, logger),
	}, nil
}

// ProvideLocker builds the in-process locker or a Redis-backed one shared across instances.
func ProvideLocker(ctx context.Context, cfg *LockConfig, logger *zap.Logger) (*LockBundle, error) {
	switch cfg.Backend {
	case "", "memory":
		return &LockBundle{Locker: lock.NewMemoryLocker()}, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		locker := lock.NewRedisLocker(rdb, lock.RedisConfig{TTL: cfg.TTL}, logger)
		return &LockBundle{Locker: locker, Redis: rdb}, nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}

// ProvideIssuer creates the approval credential issuer.
func ProvideIssuer(cfg *CredentialConfig) (*credential.Issuer, error) {
	opts := []credential.Option{}
	if cfg.TTL > 0 {
		opts = append(opts, credential.WithTTL(cfg.TTL))
	}
	if cfg.Issuer != "" {
		opts = append(opts, credential.WithIssuer(cfg.Issuer))
	}
	return credential.NewIssuer(cfg.Secret, opts...)
}

// ProvideMail creates the outbox and the wrapped delivery transport.
func ProvideMail(cfg *MailConfig, notifications port.NotificationRepository, logger *zap.Logger) (*MailBundle, error) {
	var base mail.Transport
	switch cfg.Transport {
	case "", "log":
		base = mail.NewLogTransport(logger)
	case "smtp":
		base = mail.NewSMTPTransport(mail.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.From,
			Timeout:  cfg.SendTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}

	rc := mail.DefaultReliableConfig()
	if cfg.RatePerSecond > 0 {
		rc.RatePerSecond = cfg.RatePerSecond
	}
	if cfg.Burst > 0 {
		rc.Burst = cfg.Burst
	}
	if cfg.Attempts > 0 {
		rc.Attempts = cfg.Attempts
	}
	if cfg.SendTimeout > 0 {
		rc.SendTimeout = cfg.SendTimeout
	}

	return &MailBundle{
		Outbox:    mail.NewOutbox(notifications, logger),
		Renderer:  mail.Renderer{BaseURL: cfg.BaseURL},
		Transport: mail.NewReliableTransport(base, rc),
	}, nil
}

// ProvideMetrics registers collectors on a fresh registry with the Go runtime collectors.
func ProvideMetrics() *metrics.Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return metrics.New(reg)
}

// ApplicationDeps holds what the application layer is built from.
type ApplicationDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Locker    port.Locker
	Issuer    port.CredentialIssuer
	Mailer    port.Mailer
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// ProvideApplication builds the bus, the dispatcher, the history linker and the
// proposal service, and subscribes the listeners.
func ProvideApplication(deps *ApplicationDeps) (*ApplicationBundle, error) {
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	appLogger := utils.NewKVLogger(deps.Logger)
	registry := clientdata.DefaultRegistry()
	bus := eventbus.New(eventbus.WithLogger(appLogger))

	opts := []dispatcher.Option{dispatcher.WithClientData(registry)}
	if deps.Metrics != nil {
		opts = append(opts, dispatcher.WithMetrics(deps.Metrics))
	}
	d := dispatcher.New(
		deps.Repos.Proposals,
		deps.Repos.Steps,
		deps.Repos.Tokens,
		deps.Issuer,
		deps.Mailer,
		appLogger,
		opts...,
	)
	if deps.Metrics != nil {
		for _, t := range []event.Type{
			event.TypeProposalCreated,
			event.TypeApprovalChanged,
			event.TypeProposalRestart,
			event.TypeCommentAdded,
		} {
			bus.SubscribeNamed(t, "metrics", deps.Metrics.HandleEvent)
		}
	}

	d.Register(bus)

	linker := history.NewLinker(deps.Repos.Steps, d, appLogger)

	svc := service.NewProposalService(
		service.Repositories{
			Proposals: deps.Repos.Proposals,
			Steps:     deps.Repos.Steps,
			Comments:  deps.Repos.Comments,
			Users:     deps.Repos.Users,
			Groups:    deps.Repos.Groups,
			Tokens:    deps.Repos.Tokens,
		},
		deps.TxManager,
		deps.Locker,
		deps.Issuer,
		linker,
		registry,
		bus,
		appLogger,
	)

	return &ApplicationBundle{
		Bus:        bus,
		Dispatcher: d,
		Linker:     linker,
		Proposals:  svc,
	}, nil
}

// WorkerDeps holds dependencies for background workers.
type WorkerDeps struct {
	Config        *WorkerConfig
	Notifications port.NotificationRepository
	Mail          *MailBundle
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// ProvideWorkers creates the worker manager with the outbox delivery worker registered.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewManager(deps.Logger)

	var dm worker.DeliveryMetrics
	if deps.Metrics != nil {
		dm = deps.Metrics
	}
	manager.Register(worker.NewDeliveryWorker(
		worker.DeliveryWorkerConfig{
			PollInterval: deps.Config.PollInterval,
			BatchSize:    deps.Config.BatchSize,
			MaxAttempts:  deps.Config.MaxAttempts,
		},
		deps.Notifications,
		deps.Mail.Renderer,
		deps.Mail.Transport,
		dm,
		deps.Logger,
	))

	return manager, nil
}
