package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/mengguiyouziyi/social-auto-upload/internal/task"
)

// RetryConfig tunes the delivery retry policy.
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
	Multiplier      float64
}

// DefaultRetryConfig suits transient push-gateway hiccups.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxElapsedTime:  2 * time.Minute,
		Multiplier:      2.0,
	}
}

// ResilientNotifier wraps a channel with exponential-backoff retries and a
// circuit breaker, so a dead gateway does not hold alert dispatch hostage.
type ResilientNotifier struct {
	inner   Notifier
	breaker *gobreaker.CircuitBreaker
	retry   RetryConfig
	logger  *slog.Logger
}

func NewResilientNotifier(inner Notifier, retry RetryConfig, logger *slog.Logger) *ResilientNotifier {
	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// context cancellation is not a channel failure
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("notifier circuit state changed", "channel", name, "from", from.String(), "to", to.String())
		},
	}
	return &ResilientNotifier{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		retry:   retry,
		logger:  logger,
	}
}

func (r *ResilientNotifier) Name() string { return r.inner.Name() }

func (r *ResilientNotifier) Send(ctx context.Context, alert *task.Alert) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier

	attempt := 0
	operation := func() error {
		attempt++
		_, err := r.breaker.Execute(func() (any, error) {
			return nil, r.inner.Send(ctx, alert)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(fmt.Errorf("circuit open for %s: %w", r.inner.Name(), err))
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		r.logger.Debug("notification attempt failed",
			"channel", r.inner.Name(), "alert_id", alert.ID, "attempt", attempt, "err", err)
		return err
	}

	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
