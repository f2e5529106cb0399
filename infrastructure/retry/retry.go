// Package retry runs operations with backoff for transient failures.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	// ErrMaxAttemptsExceeded is returned when every attempt failed.
	ErrMaxAttemptsExceeded = errors.New("max retry attempts exceeded")
	// ErrContextCancelled is returned when the context ends between attempts.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts counts the initial attempt. Defaults to len(Delays)+1 when
	// Delays is set, otherwise 3.
	MaxAttempts int
	// Delays is an explicit schedule: Delays[k] is the wait before retry k+1.
	// The last entry repeats when MaxAttempts exceeds the schedule. When set it
	// replaces exponential backoff.
	Delays []time.Duration
	// InitialDelay, MaxDelay and Multiplier drive exponential backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// IsRetryable decides whether an error is worth another attempt.
	IsRetryable func(error) bool
	// OnRetry, when set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns exponential backoff starting at 100ms.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		IsRetryable:  DefaultIsRetryable,
	}
}

var retryablePatterns = []string{
	"timeout",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"no such host",
	"temporary failure",
	"network is unreachable",
	"eof",
}

// DefaultIsRetryable matches common network and timeout failures by message.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		if len(c.Delays) > 0 {
			c.MaxAttempts = len(c.Delays) + 1
		} else {
			c.MaxAttempts = 3
		}
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	return c
}

// Attempts returns the total number of attempts the config allows.
func (c Config) Attempts() int {
	return c.withDefaults().MaxAttempts
}

// Delay returns the wait before retry number retry (1-based).
func (c Config) Delay(retry int) time.Duration {
	c = c.withDefaults()
	if retry < 1 {
		retry = 1
	}

	if len(c.Delays) > 0 {
		idx := min(retry-1, len(c.Delays)-1)
		return c.Delays[idx]
	}

	d := time.Duration(float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(retry-1)))
	return min(d, c.MaxDelay)
}

// Retry calls fn until it succeeds, returns a non-retryable error, runs out
// of attempts, or ctx ends.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.Delay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		if delay <= 0 {
			continue
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, cfg.MaxAttempts, lastErr)
}
