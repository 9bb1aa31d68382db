package consumer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-task-pipeline/internal/broker"
	"github.com/fairyhunter13/ai-task-pipeline/internal/contract"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

type recordingPublisher struct {
	published []publishCall
}

type publishCall struct {
	exchange string
	opts     broker.PublishOptions
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange string, body any, opts broker.PublishOptions) error {
	p.published = append(p.published, publishCall{exchange: exchange, opts: opts})
	return nil
}

func TestRetryManager_RetryableFailureRepublishesToDelayQueue(t *testing.T) {
	pub := &recordingPublisher{}
	rm := NewRetryManager(pub, domain.DefaultRetryConfig())

	req := domain.AIProcessRequest{TaskId: domain.NewTaskId(), Priority: domain.PriorityHigh}
	info := &domain.RetryInfo{}
	failure := &domain.TaskError{Code: string(domain.ErrCodeUpstreamTimeout), Message: "upstream timeout", Retryable: true}

	outcome, err := rm.Handle(t.Context(), req, info, failure, false, "test-service")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetried, outcome)
	require.Len(t, pub.published, 1)
	assert.Equal(t, "high", pub.published[0].opts.RoutingKey)
	assert.Greater(t, pub.published[0].opts.ExpirationMs, int64(0))
	assert.Equal(t, 1, pub.published[0].opts.Headers[contract.HeaderRetryCount])
	assert.Equal(t, domain.RetryStatusRetrying, info.RetryStatus)
}

func TestRetryManager_NonRetryableFailureGoesToDLQ(t *testing.T) {
	pub := &recordingPublisher{}
	rm := NewRetryManager(pub, domain.DefaultRetryConfig())

	req := domain.AIProcessRequest{TaskId: domain.NewTaskId(), Priority: domain.PriorityNormal}
	info := &domain.RetryInfo{}
	failure := &domain.TaskError{Code: string(domain.ErrCodeInvalidArgument), Message: "invalid argument", Retryable: false}

	outcome, err := rm.Handle(t.Context(), req, info, failure, false, "test-service")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLetter, outcome)
	assert.Equal(t, domain.RetryStatusDLQ, info.RetryStatus)
	require.Len(t, pub.published, 1)
	assert.Equal(t, contract.ExchangeDLX, pub.published[0].exchange)
}

func TestRetryManager_BatchFailureDeadLettersToBatchExchange(t *testing.T) {
	pub := &recordingPublisher{}
	rm := NewRetryManager(pub, domain.DefaultRetryConfig())

	req := domain.AIProcessRequest{TaskId: domain.NewTaskId()}
	info := &domain.RetryInfo{}
	failure := &domain.TaskError{Code: string(domain.ErrCodeInvalidArgument), Message: "invalid argument", Retryable: false}

	outcome, err := rm.Handle(t.Context(), req, info, failure, true, "test-service")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLetter, outcome)
	require.Len(t, pub.published, 1)
	assert.Equal(t, contract.ExchangeDLXBatch, pub.published[0].exchange)
	assert.Equal(t, "batch", pub.published[0].opts.RoutingKey)
}

func TestRetryManager_ExhaustedRetriesGoToDLQ(t *testing.T) {
	pub := &recordingPublisher{}
	cfg := domain.DefaultRetryConfig()
	cfg.MaxRetries = 1
	rm := NewRetryManager(pub, cfg)

	req := domain.AIProcessRequest{TaskId: domain.NewTaskId(), Priority: domain.PriorityLow}
	info := &domain.RetryInfo{AttemptCount: 1}
	failure := &domain.TaskError{Code: string(domain.ErrCodeUpstreamTimeout), Message: "upstream timeout", Retryable: true}

	outcome, err := rm.Handle(t.Context(), req, info, failure, false, "test-service")
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLetter, outcome)
}
