// Package config defines retry and DLQ configuration.
package config

import (
	"time"

	"github.com/forgeware/orderforge/internal/domain"
)

// RetryConfig holds the bounded-redelivery / dead-letter policy a bus
// consumer applies to a handler that returned an internal fault (§7 kind 5).
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts
	MaxRetries int `env:"RETRY_MAX_RETRIES" envDefault:"3"`
	// InitialDelay is the initial delay before first retry
	InitialDelay time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"2s"`
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	// Multiplier is the exponential backoff multiplier
	Multiplier float64 `env:"RETRY_MULTIPLIER" envDefault:"2.0"`
	// Jitter adds randomness to prevent thundering herd
	Jitter bool `env:"RETRY_JITTER" envDefault:"true"`
	// DLQMaxAge is the maximum age for dead-lettered messages before cleanup
	DLQMaxAge time.Duration `env:"DLQ_MAX_AGE" envDefault:"168h"`
	// DLQCleanupInterval is the interval for DLQ cleanup
	DLQCleanupInterval time.Duration `env:"DLQ_CLEANUP_INTERVAL" envDefault:"24h"`
}

// GetRetryConfig returns the retry configuration. In test mode it returns
// much shorter timeouts so bounded-redelivery scenarios run fast.
func (c Config) GetRetryConfig() RetryConfig {
	if c.IsTest() {
		return RetryConfig{
			MaxRetries:         2,
			InitialDelay:       10 * time.Millisecond,
			MaxDelay:           100 * time.Millisecond,
			Multiplier:         2.0,
			Jitter:             false,
			DLQMaxAge:          c.DLQMaxAge,
			DLQCleanupInterval: c.DLQCleanupInterval,
		}
	}
	return RetryConfig{
		MaxRetries:         c.RetryMaxRetries,
		InitialDelay:       c.RetryInitialDelay,
		MaxDelay:           c.RetryMaxDelay,
		Multiplier:         c.RetryMultiplier,
		Jitter:             c.RetryJitter,
		DLQMaxAge:          c.DLQMaxAge,
		DLQCleanupInterval: c.DLQCleanupInterval,
	}
}

// ToDomain adapts the bus adapter's retry knobs onto domain.RetryConfig,
// filling in the fixed retryable/non-retryable error classification every
// service shares (domain.DefaultRetryConfig).
func (r RetryConfig) ToDomain() domain.RetryConfig {
	d := domain.DefaultRetryConfig()
	d.MaxRetries = r.MaxRetries
	d.InitialDelay = r.InitialDelay
	d.MaxDelay = r.MaxDelay
	d.Multiplier = r.Multiplier
	d.Jitter = r.Jitter
	return d
}
