package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryInfo_ShouldRetry_StopsAtMaxAttempts(t *testing.T) {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 2
	ri := &RetryInfo{AttemptCount: 2}
	assert.False(t, ri.ShouldRetry(errors.New("upstream timeout"), cfg))
}

func TestRetryInfo_ShouldRetry_NonRetryableErrorWins(t *testing.T) {
	cfg := DefaultRetryConfig()
	ri := &RetryInfo{}
	assert.False(t, ri.ShouldRetry(errors.New("invalid argument: bad prompt"), cfg))
}

func TestRetryInfo_ShouldRetry_RetryableError(t *testing.T) {
	cfg := DefaultRetryConfig()
	ri := &RetryInfo{}
	assert.True(t, ri.ShouldRetry(errors.New("upstream timeout waiting on adapter"), cfg))
}

func TestRetryInfo_ShouldRetry_UnrecognizedErrorDefaultsRetryable(t *testing.T) {
	cfg := DefaultRetryConfig()
	ri := &RetryInfo{}
	assert.True(t, ri.ShouldRetry(errors.New("something weird happened"), cfg))
}

func TestRetryInfo_ShouldRetry_DLQStatusNeverRetries(t *testing.T) {
	cfg := DefaultRetryConfig()
	ri := &RetryInfo{RetryStatus: RetryStatusDLQ}
	assert.False(t, ri.ShouldRetry(errors.New("upstream timeout"), cfg))
}

func TestRetryInfo_CalculateNextRetryDelay_ExponentialGrowthCappedAtMax(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2.0, Jitter: false}

	ri := &RetryInfo{AttemptCount: 0}
	assert.Equal(t, time.Second, ri.CalculateNextRetryDelay(cfg))

	ri = &RetryInfo{AttemptCount: 1}
	assert.Equal(t, 2*time.Second, ri.CalculateNextRetryDelay(cfg))

	ri = &RetryInfo{AttemptCount: 5}
	assert.Equal(t, 5*time.Second, ri.CalculateNextRetryDelay(cfg))
}

func TestRetryInfo_CalculateNextRetryDelay_JitterAddsOnTop(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2.0, Jitter: true}
	ri := &RetryInfo{AttemptCount: 0}
	assert.Equal(t, time.Second+100*time.Millisecond, ri.CalculateNextRetryDelay(cfg))
}

func TestRetryInfo_UpdateRetryAttempt_TracksErrorHistory(t *testing.T) {
	ri := &RetryInfo{}
	ri.UpdateRetryAttempt(errors.New("first failure"))
	ri.UpdateRetryAttempt(errors.New("second failure"))
	assert.Equal(t, 2, ri.AttemptCount)
	assert.Equal(t, "second failure", ri.LastError)
	assert.Equal(t, []string{"first failure", "second failure"}, ri.ErrorHistory)
}

func TestRetryInfo_MarkTransitions(t *testing.T) {
	ri := &RetryInfo{}
	ri.MarkAsRetrying()
	assert.Equal(t, RetryStatusRetrying, ri.RetryStatus)
	ri.MarkAsExhausted()
	assert.Equal(t, RetryStatusExhausted, ri.RetryStatus)
	ri.MarkAsDLQ()
	assert.Equal(t, RetryStatusDLQ, ri.RetryStatus)
}

func TestClassify_MapsSentinelsToErrorCodes(t *testing.T) {
	cases := []struct {
		err       error
		code      ErrorCode
		retryable bool
	}{
		{nil, "", false},
		{ErrInvalidArgument, ErrCodeInvalidArgument, false},
		{ErrNotFound, ErrCodeNotFound, false},
		{ErrConflict, ErrCodeConflict, false},
		{ErrSchemaInvalid, ErrCodeSchemaInvalid, false},
		{ErrPoisonMessage, ErrCodePoisonMessage, false},
		{ErrRateLimited, ErrCodeRateLimited, true},
		{ErrUpstreamTimeout, ErrCodeUpstreamTimeout, true},
		{ErrUpstreamRateLimit, ErrCodeUpstreamRateLimit, true},
		{ErrCircuitOpen, ErrCodeCircuitOpen, true},
		{errors.New("mystery failure"), ErrCodeInternal, true},
	}
	for _, tc := range cases {
		code, retryable := Classify(tc.err)
		assert.Equal(t, tc.code, code, "for error %v", tc.err)
		assert.Equal(t, tc.retryable, retryable, "for error %v", tc.err)
	}
}

func TestClassify_WrappedSentinelStillClassifies(t *testing.T) {
	wrapped := fmt.Errorf("adapter call failed: %w", ErrUpstreamTimeout)
	code, retryable := Classify(wrapped)
	assert.Equal(t, ErrCodeUpstreamTimeout, code)
	assert.True(t, retryable)
}
