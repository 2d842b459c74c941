package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	metrics "github.com/aixgo-dev/composer/pkg/observability"
	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds a retried stage
type RetryPolicy struct {
	// MaxAttempts includes the first call
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	// Jitter is the randomization factor in [0,1]
	Jitter float64 `yaml:"jitter"`
}

// DefaultRetryPolicy is two attempts one second apart
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     2,
		InitialInterval: time.Second,
		Multiplier:      2,
		MaxInterval:     10 * time.Second,
	}
}

// Validate checks the policy bounds
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry max_attempts must be at least 1")
	case p.InitialInterval < 0 || p.MaxInterval < 0:
		return errors.New("retry intervals must not be negative")
	case p.Multiplier != 0 && p.Multiplier < 1:
		return errors.New("retry multiplier must be at least 1")
	case p.Jitter < 0 || p.Jitter > 1:
		return errors.New("retry jitter must be between 0 and 1")
	}
	return nil
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.RandomizationFactor = p.Jitter
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// Retry re-runs stage on any error, sleeping with exponential backoff between
// attempts, up to policy.MaxAttempts. A success after a failed attempt is
// returned like any other; the retry is only logged and counted. When every
// attempt fails the last error is returned.
func Retry[In, Out any](name string, stage Stage[In, Out], policy RetryPolicy) Stage[In, Out] {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	logger := slog.Default().With("component", "pipeline", "stage", name)

	return func(ctx context.Context, in In) (Out, error) {
		attempt := 0
		op := func() (Out, error) {
			attempt++
			return stage(ctx, in)
		}

		out, err := backoff.Retry(ctx, op,
			backoff.WithBackOff(policy.backOff()),
			backoff.WithMaxTries(uint(policy.MaxAttempts)),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(func(err error, wait time.Duration) {
				metrics.RecordPipelineRetry(name)
				logger.Warn("stage failed, retrying",
					"attempt", attempt,
					"max_attempts", policy.MaxAttempts,
					"backoff", wait,
					"error", err,
				)
			}),
		)
		if err != nil {
			logger.Error("stage failed after retries", "attempts", attempt, "error", err)
			var zero Out
			return zero, err
		}
		if attempt > 1 {
			logger.Info("stage succeeded after retry", "attempt", attempt)
		}
		return out, nil
	}
}
