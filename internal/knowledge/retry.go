package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for store operations that surface
// ErrStoreBusy on bounded lock-wait timeouts.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries int `json:"max_retries" koanf:"max_retries"`

	// InitialBackoff is the initial backoff duration.
	// Default: 10ms
	InitialBackoff time.Duration `json:"initial_backoff" koanf:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	// Default: 500ms
	MaxBackoff time.Duration `json:"max_backoff" koanf:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64 `json:"backoff_multiplier" koanf:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()
	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// retryBusy runs operation, retrying with exponential backoff while it
// fails with ErrStoreBusy. Any other error returns immediately; exhaustion
// surfaces the last ErrStoreBusy wrapped with the attempt count - a busy
// store degrades one update, it never gets silently dropped or crashes the
// run.
func retryBusy(ctx context.Context, cfg RetryConfig, operation func() error) error {
	cfg.ApplyDefaults()

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrStoreBusy) {
			return err
		}
		lastErr = err
		if attempt == cfg.MaxRetries {
			break
		}
		StoreBusyRetries.Inc()

		select {
		case <-ctx.Done():
			return fmt.Errorf("operation canceled: %w", ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
	}
	return fmt.Errorf("store busy after %d retries: %w", cfg.MaxRetries, lastErr)
}
