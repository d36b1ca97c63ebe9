package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mobomo/C2/internal/application/port"
	"github.com/mobomo/C2/internal/domain/entity"
	"github.com/mobomo/C2/internal/infrastructure/mail"
)

// DeliveryWorkerConfig holds configuration for the outbox delivery worker
type DeliveryWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// DefaultDeliveryWorkerConfig returns default configuration
func DefaultDeliveryWorkerConfig() DeliveryWorkerConfig {
	return DeliveryWorkerConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    20,
		MaxAttempts:  5,
	}
}

// DeliveryMetrics receives per-row delivery outcomes
type DeliveryMetrics interface {
	DeliveryResult(kind string, ok bool)
}

type noopDeliveryMetrics struct{}

func (noopDeliveryMetrics) DeliveryResult(string, bool) {}

// DeliveryWorker drains the notification outbox through a mail transport
type DeliveryWorker struct {
	config    DeliveryWorkerConfig
	repo      port.NotificationRepository
	renderer  mail.Renderer
	transport mail.Transport
	metrics   DeliveryMetrics
	logger    *zap.Logger

	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	sentCount int
	failCount int
	lastError error
}

// NewDeliveryWorker creates a new delivery worker. metrics may be nil.
func NewDeliveryWorker(
	config DeliveryWorkerConfig,
	repo port.NotificationRepository,
	renderer mail.Renderer,
	transport mail.Transport,
	metrics DeliveryMetrics,
	logger *zap.Logger,
) *DeliveryWorker {
	if metrics == nil {
		metrics = noopDeliveryMetrics{}
	}
	return &DeliveryWorker{
		config:    config,
		repo:      repo,
		renderer:  renderer,
		transport: transport,
		metrics:   metrics,
		logger:    logger,
	}
}

// Start begins the polling loop
func (w *DeliveryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("delivery worker already running")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true
	w.mu.Unlock()

	w.logger.Info("DeliveryWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Int("max_attempts", w.config.MaxAttempts))

	go w.pollLoop()
	return nil
}

// Stop cancels the loop and waits for the in-flight batch
func (w *DeliveryWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.mu.RLock()
	defer w.mu.RUnlock()
	w.logger.Info("DeliveryWorker stopped",
		zap.Int("sent_count", w.sentCount),
		zap.Int("failed_count", w.failCount))
	return nil
}

// Name returns the worker name for identification
func (w *DeliveryWorker) Name() string {
	return "DeliveryWorker"
}

// Stats returns delivered and failed counts since start
func (w *DeliveryWorker) Stats() (sent, failed int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sentCount, w.failCount
}

func (w *DeliveryWorker) pollLoop() {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(w.ctx); err != nil {
				w.mu.Lock()
				w.lastError = err
				w.mu.Unlock()
				w.logger.Error("Failed to process outbox", zap.Error(err))
			}
		}
	}
}

// ProcessBatch delivers one batch of pending rows and returns how many were sent
func (w *DeliveryWorker) ProcessBatch(ctx context.Context) (int, error) {
	pending, err := w.repo.GetPending(ctx, w.config.MaxAttempts, w.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending notifications: %w", err)
	}

	sent := 0
	for _, n := range pending {
		if ctx.Err() != nil {
			return sent, nil
		}
		if err := w.deliver(ctx, n); err != nil {
			w.logger.Warn("Failed to deliver notification",
				zap.Int64("notification_id", n.ID),
				zap.String("kind", n.Kind),
				zap.Int("attempt", n.Attempts+1),
				zap.Error(err))
			if markErr := w.repo.MarkFailed(ctx, n.ID, err.Error()); markErr != nil {
				return sent, markErr
			}
			w.metrics.DeliveryResult(n.Kind, false)
			w.mu.Lock()
			w.failCount++
			w.mu.Unlock()
			continue
		}

		if err := w.repo.MarkSent(ctx, n.ID, time.Now()); err != nil {
			return sent, err
		}
		w.metrics.DeliveryResult(n.Kind, true)
		w.mu.Lock()
		w.sentCount++
		w.mu.Unlock()
		sent++
	}
	return sent, nil
}

func (w *DeliveryWorker) deliver(ctx context.Context, n *entity.Notification) error {
	env, err := w.renderer.Render(n)
	if err != nil {
		return err
	}
	return w.transport.Send(ctx, env)
}
