package container

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/eventbus"
	"github.com/mobomo/C2/internal/application/service"
	"github.com/mobomo/C2/internal/infrastructure/metrics"
	"github.com/mobomo/C2/internal/infrastructure/seed"
	"github.com/mobomo/C2/internal/infrastructure/worker"
	"github.com/mobomo/C2/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure
	db           *database.DB
	repositories *RepositoryBundle
	redis        *redis.Client
	mail         *MailBundle
	metrics      *metrics.Metrics
	metricsHTTP  http.Handler

	// Application
	app *ApplicationBundle

	// Workers
	workers *worker.Manager

	// Lifecycle
	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components and begins processing:
// 1. Database, migrations and repositories
// 2. Proposal locker
// 3. Credential issuer, outbox and metrics
// 4. Event bus, dispatcher, history linker and proposal service
// 5. Approval group seed
// 6. Workers
//
// A failed step tears down whatever was already started.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")
	if err := c.start(ctx); err != nil {
		c.teardown()
		return err
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

func (c *Container) start(ctx context.Context) error {
	// Step 1: database and repositories
	dbs, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.db = dbs.DB
	if c.repositories, err = ProvideRepositories(dbs, c.logger); err != nil {
		return fmt.Errorf("failed to initialize repositories: %w", err)
	}
	c.logger.Info("Database initialized", zap.String("path", c.config.Database.Path))

	// Step 2: locker
	locks, err := ProvideLocker(ctx, &c.config.Lock, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize locker: %w", err)
	}
	c.redis = locks.Redis
	c.logger.Info("Locker initialized", zap.String("backend", c.config.Lock.Backend))

	// Step 3: issuer, mail, metrics
	issuer, err := ProvideIssuer(&c.config.Credential)
	if err != nil {
		return fmt.Errorf("failed to initialize credential issuer: %w", err)
	}
	if c.mail, err = ProvideMail(&c.config.Mail, c.repositories.Notifications, c.logger); err != nil {
		return fmt.Errorf("failed to initialize mail: %w", err)
	}
	c.metrics = ProvideMetrics()
	c.metricsHTTP = c.metrics.Handler()

	// Step 4: application
	c.app, err = ProvideApplication(&ApplicationDeps{
		Repos:     c.repositories,
		TxManager: dbs.TransactionMgr,
		Locker:    locks.Locker,
		Issuer:    issuer,
		Mailer:    c.mail.Outbox,
		Metrics:   c.metrics,
		Logger:    c.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 5: seed
	if path := c.config.ApprovalGroupsFile; path != "" {
		loader := seed.NewLoader(c.repositories.Users, c.repositories.Groups, c.logger)
		if err := loader.LoadFile(ctx, path); err != nil {
			return fmt.Errorf("failed to load approval groups: %w", err)
		}
	}

	// Step 6: workers
	if c.workers, err = ProvideWorkers(&WorkerDeps{
		Config:        &c.config.Worker,
		Notifications: c.repositories.Notifications,
		Mail:          c.mail,
		Metrics:       c.metrics,
		Logger:        c.logger,
	}); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	if err := c.workers.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.Count()))

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	errs := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors", len(errs))
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() []error {
	var errs []error

	// Step 1: stop workers (reverse of step 6)
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
		c.workers = nil
	}

	// Step 2: drain in-flight notifications (reverse of step 4)
	if c.app != nil {
		if err := c.app.Bus.Close(); err != nil {
			c.logger.Error("Failed to close event bus", zap.Error(err))
			errs = append(errs, fmt.Errorf("close event bus: %w", err))
		}
		c.app = nil
	}

	// Step 3: redis (reverse of step 2)
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			c.logger.Error("Failed to close redis client", zap.Error(err))
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
		c.redis = nil
	}

	// Step 4: database (reverse of step 1)
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.db = nil
	}

	return errs
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	if c.db == nil {
		set("database", false, "not initialized")
	} else if err := c.db.PingContext(ctx); err != nil {
		set("database", false, fmt.Sprintf("ping failed: %v", err))
	} else {
		set("database", true, "")
	}

	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			set("redis", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("redis", true, "")
		}
	}

	if c.workers == nil {
		set("workers", false, "not initialized")
	} else {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.Count()))
	}

	if c.mail != nil {
		state := c.mail.Transport.State()
		if c.metrics != nil {
			c.metrics.SetBreakerState(state)
		}
		// an open breaker delays mail but does not take the service down
		set("mail", true, "breaker "+state)
	}

	return status
}

// Proposals returns the proposal service.
func (c *Container) Proposals() service.ProposalService {
	if c.app == nil {
		return nil
	}
	return c.app.Proposals
}

// Bus returns the event bus.
func (c *Container) Bus() eventbus.Bus {
	if c.app == nil {
		return nil
	}
	return c.app.Bus
}

// Metrics returns the metrics collectors.
func (c *Container) Metrics() *metrics.Metrics {
	return c.metrics
}

// MetricsHandler serves the Prometheus registry.
func (c *Container) MetricsHandler() http.Handler {
	return c.metricsHTTP
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
