package retry

import (
	"context"
	"errors"
	"time"
)

// Config tunes backoff behaviour.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
}

// DefaultConfig mirrors the standard provider retry policy.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, InitialDelay: time.Second, Multiplier: 2}
}

// retryableError is implemented by errors that classify their own transience.
type retryableError interface {
	RetryableError() bool
}

// Do runs op up to cfg.MaxAttempts times, sleeping between attempts with
// exponential backoff. Errors implementing RetryableError() bool that report
// false abort immediately without consuming further attempts. Only the last
// error is surfaced.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		var re retryableError
		if errors.As(lastErr, &re) && !re.RetryableError() {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}
	return lastErr
}
