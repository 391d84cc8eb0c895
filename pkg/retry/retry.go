package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// Config holds retry configuration
type Config struct {
	Enabled            bool          // Enable/disable retry logic
	MaxAttempts        int           // Maximum number of retry attempts
	InitialDelay       time.Duration // Initial delay before first retry
	MaxDelay           time.Duration // Maximum delay between retries
	Multiplier         float64       // Exponential backoff multiplier (typically 2.0)
	Jitter             bool          // Add random jitter to prevent thundering herd
	NonRetryableErrors []error       // Errors that stop the retry loop immediately
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retry executes a function with exponential backoff retry logic
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	_, err := RetryWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes a function that returns a result with exponential backoff retry logic
func RetryWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var zero T

	if !cfg.Enabled {
		return fn()
	}

	var lastErr error

	for attempt := 0; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		if isNonRetryable(err, cfg.NonRetryableErrors) {
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if err := Sleep(ctx, Delay(cfg, attempt)); err != nil {
			return zero, fmt.Errorf("retry cancelled during wait: %w", err)
		}
	}

	return zero, fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// Delay calculates the delay for exponential backoff: InitialDelay *
// Multiplier^attempt, capped at MaxDelay, with up to ±25% jitter.
func Delay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt))

	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	duration := time.Duration(delay)

	if cfg.Jitter && duration > 0 {
		jitter := duration / 4
		duration = duration - jitter + time.Duration(rand.Int64N(int64(jitter)*2+1))
	}

	return duration
}

// Backoff tracks consecutive failures of an unbounded loop, such as a
// reconnect loop that must never give up.
type Backoff struct {
	cfg      Config
	failures int
	exponent int
}

// NewBackoff creates a backoff tracker using cfg's delay settings
func NewBackoff(cfg Config) *Backoff {
	return &Backoff{cfg: cfg}
}

// Next returns the delay to wait after another failure
func (b *Backoff) Next() time.Duration {
	d := Delay(b.cfg, b.exponent)
	b.failures++
	// Stop growing the exponent once the cap is reached.
	if float64(b.cfg.InitialDelay)*math.Pow(b.cfg.Multiplier, float64(b.exponent)) < float64(b.cfg.MaxDelay) {
		b.exponent++
	}
	return d
}

// Reset clears the failure count after a successful attempt
func (b *Backoff) Reset() {
	b.failures = 0
	b.exponent = 0
}

// Failures returns the number of failures counted since the last reset
func (b *Backoff) Failures() int {
	return b.failures
}

// Wait sleeps for the next backoff delay or until ctx is done
func (b *Backoff) Wait(ctx context.Context) error {
	return Sleep(ctx, b.Next())
}

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter case
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// isNonRetryable checks if an error is in the non-retryable errors list
func isNonRetryable(err error, nonRetryableErrors []error) bool {
	for _, nonRetryableErr := range nonRetryableErrors {
		if errors.Is(err, nonRetryableErr) {
			return true
		}
	}
	return false
}
