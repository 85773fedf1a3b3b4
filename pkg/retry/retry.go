// Package retry provides retry and reconnect delays with optional exponential backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrAttemptsExhausted is returned when MaxAttempts consecutive attempts failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Maximum number of attempts (0 = infinite)
	InitialWait time.Duration // Initial wait time
	MaxWait     time.Duration // Maximum wait time (0 = no cap)
	Multiplier  float64       // Backoff multiplier (<= 1 = fixed delay)
	Jitter      float64       // Jitter factor (0-1)
}

// DefaultConfig returns sensible defaults for short request retries.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// ReconnectConfig returns the listing socket policy: a fixed 3 second wait,
// repeated forever.
func ReconnectConfig() Config {
	return Config{
		MaxAttempts: 0,
		InitialWait: 3 * time.Second,
		Multiplier:  1,
	}
}

// Delay returns the wait after failed attempt n (1-based).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := float64(c.InitialWait)
	if c.Multiplier > 1 {
		wait *= math.Pow(c.Multiplier, float64(attempt-1))
	}
	if c.MaxWait > 0 && wait > float64(c.MaxWait) {
		wait = float64(c.MaxWait)
	}

	if c.Jitter > 0 {
		jitter := wait * c.Jitter * (rand.Float64()*2 - 1)
		wait += jitter
	}
	return time.Duration(wait)
}

// Exhausted reports whether attempt n was the last one allowed.
func (c Config) Exhausted(attempt int) bool {
	return c.MaxAttempts > 0 && attempt >= c.MaxAttempts
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// Do executes fn with retries.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	var lastErr error

	for attempt := 1; cfg.MaxAttempts == 0 || attempt <= cfg.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if cfg.Exhausted(attempt) {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Delay(attempt)):
		}
	}

	return lastErr
}
