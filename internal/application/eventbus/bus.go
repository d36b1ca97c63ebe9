// Package eventbus is the in-process pub/sub that carries proposal events from
// the workflow to its listeners.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mobomo/C2/internal/domain/event"
)

// ErrClosed is returned when publishing to a closed bus
var ErrClosed = errors.New("event bus is closed")

// Bus routes events to registered handlers
type Bus interface {
	// Subscribe registers a handler for an event type
	Subscribe(eventType event.Type, handler Handler)

	// SubscribeNamed registers a handler with a name for debugging
	SubscribeNamed(eventType event.Type, name string, handler Handler)

	// Unsubscribe removes a handler by name
	Unsubscribe(eventType event.Type, name string)

	// Dispatch runs every handler in registration order and stops at the first error
	Dispatch(ctx context.Context, evt *event.Event) error

	// DispatchAsync runs handlers in the background. Cancelling ctx after the
	// call returns does not stop them.
	DispatchAsync(ctx context.Context, evt *event.Event)

	// ListHandlers returns registered handlers for an event type
	ListHandlers(eventType event.Type) []HandlerInfo

	// Close stops accepting events and waits for async handlers
	Close() error
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

type eventBus struct {
	mu       sync.RWMutex
	handlers map[event.Type][]HandlerInfo
	logger   Logger

	wg     sync.WaitGroup
	closed atomic.Bool
}

// Option configures the bus
type Option func(*eventBus)

// WithLogger sets a logger for the bus
func WithLogger(logger Logger) Option {
	return func(b *eventBus) {
		b.logger = logger
	}
}

// New creates a new event bus
func New(opts ...Option) Bus {
	b := &eventBus{
		handlers: make(map[event.Type][]HandlerInfo),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *eventBus) Subscribe(eventType event.Type, handler Handler) {
	b.mu.RLock()
	name := fmt.Sprintf("handler-%d", len(b.handlers[eventType]))
	b.mu.RUnlock()
	b.SubscribeNamed(eventType, name, handler)
}

func (b *eventBus) SubscribeNamed(eventType event.Type, name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], HandlerInfo{
		Name:      name,
		EventType: eventType,
		Handler:   handler,
	})

	b.logInfo("Handler registered", "event_type", eventType, "handler_name", name)
}

func (b *eventBus) Unsubscribe(eventType event.Type, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	filtered := make([]HandlerInfo, 0, len(handlers))
	for _, h := range handlers {
		if h.Name != name {
			filtered = append(filtered, h)
		}
	}
	b.handlers[eventType] = filtered

	b.logInfo("Handler unregistered", "event_type", eventType, "handler_name", name)
}

func (b *eventBus) Dispatch(ctx context.Context, evt *event.Event) error {
	if b.closed.Load() {
		return ErrClosed
	}

	handlers := b.snapshot(evt.Type)
	b.logInfo("Dispatching event", "event_type", evt.Type, "event_id", evt.ID, "handler_count", len(handlers))

	for _, h := range handlers {
		if err := b.safeExecute(ctx, evt, h); err != nil {
			b.logError("Handler error", "event_type", evt.Type, "event_id", evt.ID, "handler_name", h.Name, "error", err)
			return fmt.Errorf("handler %s failed: %w", h.Name, err)
		}
	}

	return nil
}

func (b *eventBus) DispatchAsync(ctx context.Context, evt *event.Event) {
	if b.closed.Load() {
		b.logError("Cannot dispatch async event, bus is closed", "event_type", evt.Type, "event_id", evt.ID)
		return
	}

	handlers := b.snapshot(evt.Type)
	b.logInfo("Dispatching event asynchronously", "event_type", evt.Type, "event_id", evt.ID, "handler_count", len(handlers))

	// request contexts end when the response is written
	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.wg.Add(1)
		go func(h HandlerInfo) {
			defer b.wg.Done()
			if err := b.safeExecute(detached, evt, h); err != nil {
				b.logError("Async handler error", "event_type", evt.Type, "event_id", evt.ID, "handler_name", h.Name, "error", err)
			}
		}(h)
	}
}

func (b *eventBus) ListHandlers(eventType event.Type) []HandlerInfo {
	handlers := b.snapshot(eventType)
	result := make([]HandlerInfo, len(handlers))
	for i, h := range handlers {
		result[i] = HandlerInfo{Name: h.Name, EventType: h.EventType}
	}
	return result
}

func (b *eventBus) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("event bus already closed")
	}

	b.logInfo("Closing event bus, waiting for async handlers")
	b.wg.Wait()
	b.logInfo("Event bus closed")

	return nil
}

func (b *eventBus) snapshot(eventType event.Type) []HandlerInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]HandlerInfo(nil), b.handlers[eventType]...)
}

// safeExecute runs a handler with panic recovery
func (b *eventBus) safeExecute(ctx context.Context, evt *event.Event, h HandlerInfo) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			b.logError("Handler panic recovered", "event_type", evt.Type, "event_id", evt.ID, "handler_name", h.Name, "panic", r)
		}
	}()

	return h.Handler(ctx, evt)
}

func (b *eventBus) logInfo(msg string, kv ...interface{}) {
	if b.logger != nil {
		b.logger.Info(msg, kv...)
	}
}

func (b *eventBus) logError(msg string, kv ...interface{}) {
	if b.logger != nil {
		b.logger.Error(msg, kv...)
	}
}
