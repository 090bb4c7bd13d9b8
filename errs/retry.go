package errs

import (
	"context"
	"time"
)

// RetryConfig configures exponential backoff for remote calls.
type RetryConfig struct {
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on the delay between retries
	Multiplier   float64       // growth factor applied after each retry
}

// DefaultRetryConfig returns the retry ceiling used when nothing is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     8 * time.Second,
		Multiplier:   2.0,
	}
}

// Retry calls fn until it succeeds, returns a Permanent error, the context is
// done, or MaxRetries retries have been spent. It returns the number of
// attempts made alongside the last error.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	delay := cfg.InitialDelay
	var lastErr error
	attempts := 0

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return zero, attempts, lastErr
		}

		attempts++
		result, err := fn(ctx)
		if err == nil {
			return result, attempts, nil
		}
		lastErr = err

		if IsPermanent(err) || attempt >= cfg.MaxRetries {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempts, lastErr
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, attempts, lastErr
}
