// Package config defines retry and DLQ configuration.
package config

import (
	"time"

	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// RetryConfig is the numeric retry/backoff/DLQ policy parsed from the
// environment; error classification lives in domain.RetryConfig.
type RetryConfig struct {
	MaxRetries         int
	InitialDelay       time.Duration
	MaxDelay           time.Duration
	Multiplier         float64
	Jitter             bool
	DLQMaxAge          time.Duration
	DLQCleanupInterval time.Duration
}

// ToDomain converts the environment-parsed RetryConfig into the
// domain.RetryConfig the consumer's retry manager operates on, layering the
// default retryable/non-retryable error classifications on top of the
// configured numeric policy.
func (r RetryConfig) ToDomain() domain.RetryConfig {
	base := domain.DefaultRetryConfig()
	base.MaxRetries = r.MaxRetries
	base.InitialDelay = r.InitialDelay
	base.MaxDelay = r.MaxDelay
	base.Multiplier = r.Multiplier
	base.Jitter = r.Jitter
	return base
}
