package shared

import (
	"context"
	"crypto/rand"
	"math"
	"time"
)

const (
	initialBackoffDelay = 100 * time.Millisecond
	maxBackoffDelay     = 10 * time.Second
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryConfig returns sensible defaults for retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  5,
		InitialDelay: initialBackoffDelay,
		MaxDelay:     maxBackoffDelay,
	}
}

// RetryWithBackoff executes a function with exponential backoff retry logic.
// The context cancels the wait between attempts, not a running operation.
func RetryWithBackoff(ctx context.Context, config *RetryConfig, operation func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt == config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(config.backoff(attempt)):
		}
	}

	return lastErr
}

// backoff implements exponential backoff with crypto-secure jitter
func (c *RetryConfig) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialDelay
	}

	delay := time.Duration(float64(c.InitialDelay) * math.Pow(2, float64(attempt-1)))
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}

	// Add crypto-secure jitter (10% of delay)
	return delay + cryptoJitter(float64(delay)*0.1)
}

// cryptoJitter generates cryptographically secure random jitter to prevent timing attacks
func cryptoJitter(maxJitter float64) time.Duration {
	if maxJitter <= 0 {
		return 0
	}

	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return 0
	}

	var n uint64
	for i, b := range bytes {
		n |= uint64(b) << (8 * i)
	}

	ratio := float64(n) / float64(^uint64(0))
	return time.Duration(ratio * maxJitter)
}
