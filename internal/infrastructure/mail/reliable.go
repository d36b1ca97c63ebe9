package mail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrPermanent marks failures that retrying cannot fix, such as a rejected address
var ErrPermanent = errors.New("permanent delivery failure")

// ReliableConfig tunes ReliableTransport
type ReliableConfig struct {
	RatePerSecond float64
	Burst         int
	Attempts      uint
	Delay         time.Duration
	SendTimeout   time.Duration
	// BreakerFailures consecutive failures open the breaker
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// DefaultReliableConfig returns conservative defaults for a shared SMTP relay
func DefaultReliableConfig() ReliableConfig {
	return ReliableConfig{
		RatePerSecond:   10,
		Burst:           5,
		Attempts:        3,
		Delay:           200 * time.Millisecond,
		SendTimeout:     10 * time.Second,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
	}
}

// ReliableTransport rate limits, retries and circuit-breaks another Transport
type ReliableTransport struct {
	next    Transport
	cfg     ReliableConfig
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewReliableTransport wraps next
func NewReliableTransport(next Transport, cfg ReliableConfig) *ReliableTransport {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mail-transport",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// a bad address says nothing about the relay's health
			return err == nil || errors.Is(err, ErrPermanent)
		},
	})

	return &ReliableTransport{
		next:    next,
		cfg:     cfg,
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// Send implements Transport
func (t *ReliableTransport) Send(ctx context.Context, env *Envelope) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	_, err := t.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(t.cfg.Attempts),
			retry.Delay(t.cfg.Delay),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				return retry.BackOffDelay(n, err, config)
			}),
			retry.RetryIf(func(err error) bool {
				return !errors.Is(err, ErrPermanent)
			}),
		)

		var last error
		if err := r.Do(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
			defer cancel()
			last = t.next.Send(sendCtx, env)
			return last
		}); err != nil {
			if last != nil {
				return nil, last
			}
			return nil, err
		}
		return nil, nil
	})
	return err
}

// State reports the breaker state for health output
func (t *ReliableTransport) State() string {
	return t.cb.State().String()
}
