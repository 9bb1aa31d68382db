// Package domain defines retry and DLQ entities for resilient task processing.
package domain

import (
	"errors"
	"strings"
	"time"
)

// RetryStatus represents the retry state of a task.
type RetryStatus string

const (
	// RetryStatusNone indicates no retries have been attempted.
	RetryStatusNone RetryStatus = "none"
	// RetryStatusRetrying indicates the task is being retried.
	RetryStatusRetrying RetryStatus = "retrying"
	// RetryStatusExhausted indicates all retries have been exhausted.
	RetryStatusExhausted RetryStatus = "exhausted"
	// RetryStatusDLQ indicates the task has been moved to the dead-letter queue.
	RetryStatusDLQ RetryStatus = "dlq"
)

// RetryConfig defines retry behavior for task processing.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	MaxRetries int
	// InitialDelay is the initial delay before first retry.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier.
	Multiplier float64
	// Jitter adds a fixed 10% to each computed delay.
	Jitter bool
	// RetryableErrors defines error substrings that should trigger retries.
	RetryableErrors []string
	// NonRetryableErrors defines error substrings that should not trigger retries.
	NonRetryableErrors []string
}

// DefaultRetryConfig returns a sensible default retry configuration matching
// the exponential-backoff policy described for the task consumer.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		RetryableErrors: []string{
			"context deadline exceeded",
			"connection refused",
			"timeout",
			"temporary failure",
			"rate limited",
			"upstream timeout",
			"upstream rate limit",
			"circuit breaker open",
		},
		NonRetryableErrors: []string{
			"invalid argument",
			"not found",
			"conflict",
			"schema invalid",
			"poison message",
			"authentication failed",
			"authorization failed",
		},
	}
}

// RetryInfo tracks retry attempts for a task.
type RetryInfo struct {
	AttemptCount  int
	MaxAttempts   int
	LastAttemptAt time.Time
	NextRetryAt   time.Time
	RetryStatus   RetryStatus
	LastError     string
	ErrorHistory  []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ShouldRetry determines if a task should be retried based on the error and
// retry config. Non-retryable errors win ties over retryable ones so a
// validation failure wrapped inside a generic "temporary failure" string
// still stops retrying.
func (ri *RetryInfo) ShouldRetry(err error, config RetryConfig) bool {
	if ri.AttemptCount >= config.MaxRetries {
		return false
	}
	if ri.RetryStatus == RetryStatusDLQ {
		return false
	}

	errorStr := strings.ToLower(err.Error())
	for _, nonRetryableErr := range config.NonRetryableErrors {
		if strings.Contains(errorStr, nonRetryableErr) {
			return false
		}
	}
	for _, retryableErr := range config.RetryableErrors {
		if strings.Contains(errorStr, retryableErr) {
			return true
		}
	}

	// Default to retryable for unrecognized errors.
	return true
}

// CalculateNextRetryDelay calculates the delay for the next retry attempt
// as InitialDelay*Multiplier^AttemptCount capped at MaxDelay. With Jitter
// set, 10% is added after the cap, so the result can exceed MaxDelay by 10%.
func (ri *RetryInfo) CalculateNextRetryDelay(config RetryConfig) time.Duration {
	delay := time.Duration(float64(config.InitialDelay) * pow(config.Multiplier, float64(ri.AttemptCount)))
	if delay > config.MaxDelay {
		delay = config.MaxDelay
	}
	if config.Jitter {
		jitter := time.Duration(float64(delay) * 0.1)
		delay += jitter
	}
	return delay
}

// UpdateRetryAttempt updates the retry info after an attempt.
func (ri *RetryInfo) UpdateRetryAttempt(err error) {
	ri.AttemptCount++
	ri.LastAttemptAt = time.Now()
	ri.UpdatedAt = time.Now()
	if err != nil {
		ri.LastError = err.Error()
		ri.ErrorHistory = append(ri.ErrorHistory, err.Error())
	}
}

// MarkAsExhausted marks the retry info as exhausted.
func (ri *RetryInfo) MarkAsExhausted() {
	ri.RetryStatus = RetryStatusExhausted
	ri.UpdatedAt = time.Now()
}

// MarkAsDLQ marks the retry info as moved to the dead-letter queue.
func (ri *RetryInfo) MarkAsDLQ() {
	ri.RetryStatus = RetryStatusDLQ
	ri.UpdatedAt = time.Now()
}

// MarkAsRetrying marks the retry info as currently retrying.
func (ri *RetryInfo) MarkAsRetrying() {
	ri.RetryStatus = RetryStatusRetrying
	ri.UpdatedAt = time.Now()
}

// DLQJob represents a task that has been moved to the dead-letter queue.
type DLQJob struct {
	TaskId           TaskId
	OriginalRequest  AIProcessRequest
	RetryInfo        RetryInfo
	FailureReason    string
	MovedToDLQAt     time.Time
	CanBeReprocessed bool
}

// ErrorCode classifies a failure for metrics labels and retry decisions.
type ErrorCode string

// Error codes mirrored onto the Store service's failure envelope.
const (
	ErrCodeInvalidArgument   ErrorCode = "INVALID_ARGUMENT"
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeConflict          ErrorCode = "CONFLICT"
	ErrCodeRateLimited       ErrorCode = "RATE_LIMITED"
	ErrCodeUpstreamTimeout   ErrorCode = "UPSTREAM_TIMEOUT"
	ErrCodeUpstreamRateLimit ErrorCode = "UPSTREAM_RATE_LIMIT"
	ErrCodeSchemaInvalid     ErrorCode = "SCHEMA_INVALID"
	ErrCodePoisonMessage     ErrorCode = "POISON_MESSAGE"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrCodeInternal          ErrorCode = "INTERNAL"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
)

// Classify maps a domain sentinel error to its ErrorCode and whether a
// retry should be attempted. Errors that do not wrap a known sentinel are
// classified as internal and retryable, matching the "unknown errors retry"
// default of RetryInfo.ShouldRetry.
func Classify(err error) (code ErrorCode, retryable bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, ErrInvalidArgument):
		return ErrCodeInvalidArgument, false
	case errors.Is(err, ErrNotFound):
		return ErrCodeNotFound, false
	case errors.Is(err, ErrConflict):
		return ErrCodeConflict, false
	case errors.Is(err, ErrSchemaInvalid):
		return ErrCodeSchemaInvalid, false
	case errors.Is(err, ErrPoisonMessage):
		return ErrCodePoisonMessage, false
	case errors.Is(err, ErrRateLimited):
		return ErrCodeRateLimited, true
	case errors.Is(err, ErrUpstreamTimeout):
		return ErrCodeUpstreamTimeout, true
	case errors.Is(err, ErrUpstreamRateLimit):
		return ErrCodeUpstreamRateLimit, true
	case errors.Is(err, ErrCircuitOpen):
		return ErrCodeCircuitOpen, true
	default:
		return ErrCodeInternal, true
	}
}

func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}
