package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-task-pipeline/internal/broker"
	"github.com/fairyhunter13/ai-task-pipeline/internal/contract"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// Publisher is the subset of *broker.Bus the retry manager and consumer
// need; it lets tests supply a stub without a live RabbitMQ connection.
type Publisher interface {
	Publish(ctx context.Context, exchange string, body any, opts broker.PublishOptions) error
}

// RetryManager decides whether a failed task should be retried or dead
// lettered, and publishes it to the corresponding queue. A
// retry is implemented as a message sent to the origin priority's delay
// queue with a per-message TTL; when the TTL expires RabbitMQ dead-letters
// it back onto the processing queue, so the consumer never blocks a
// goroutine sleeping out the backoff itself.
type RetryManager struct {
	bus    Publisher
	config domain.RetryConfig
}

// NewRetryManager builds a RetryManager over the given bus and policy.
func NewRetryManager(bus Publisher, config domain.RetryConfig) *RetryManager {
	return &RetryManager{bus: bus, config: config}
}

// Outcome describes what the retry manager decided to do with a failed
// task.
type Outcome string

const (
	// OutcomeRetried means the task was republished to its delay queue.
	OutcomeRetried Outcome = "retried"
	// OutcomeDeadLetter means the task was moved to the dead-letter queue.
	OutcomeDeadLetter Outcome = "dead_letter"
)

// Handle evaluates a failed attempt and either republishes it to the retry
// delay queue or moves it to the DLQ once retries are exhausted or the
// failure is non-retryable. isBatch selects which dead-letter exchange a
// terminal failure lands on: non-batch tasks dead-letter to ExchangeDLX,
// batch-origin tasks to ExchangeDLXBatch.
func (m *RetryManager) Handle(ctx context.Context, req domain.AIProcessRequest, info *domain.RetryInfo, failure *domain.TaskError, isBatch bool, sourceService string) (Outcome, error) {
	err := fmt.Errorf("%s", failure.Message)
	retry := failure.Retryable && info.ShouldRetry(err, m.config)
	info.UpdateRetryAttempt(err)

	if retry {
		info.MarkAsRetrying()
		delay := info.CalculateNextRetryDelay(m.config)

		observability.RecordRetry(string(req.Priority))
		if pubErr := m.publishRetry(ctx, req, delay, info.AttemptCount, isBatch, sourceService); pubErr != nil {
			return "", fmt.Errorf("consumer: publish retry: %w", pubErr)
		}
		return OutcomeRetried, nil
	}

	info.MarkAsExhausted()
	info.MarkAsDLQ()
	observability.RecordDeadLettered(string(req.Priority))
	if pubErr := m.publishDLQ(ctx, req, *info, failure.Message, isBatch, sourceService); pubErr != nil {
		return "", fmt.Errorf("consumer: publish dlq: %w", pubErr)
	}
	return OutcomeDeadLetter, nil
}

// publishRetry republishes req to the same routing key it originated from,
// carrying the incremented retry-count header, delayed by the per-message
// TTL RabbitMQ uses to dead-letter it back onto the processing queue.
func (m *RetryManager) publishRetry(ctx context.Context, req domain.AIProcessRequest, delay time.Duration, attemptCount int, isBatch bool, sourceService string) error {
	kind := contract.TaskTypeProcess
	if isBatch {
		kind = contract.TaskTypeBatch
	}
	return m.bus.Publish(ctx, contract.ExchangeDLX, req, broker.PublishOptions{
		RoutingKey:   string(req.Priority),
		MessageID:    req.TaskId.String(),
		ExpirationMs: delay.Milliseconds(),
		Headers:      contract.Headers(req, kind, attemptCount, sourceService),
	})
}

// publishDLQ moves req to its dead-letter exchange once retries are
// exhausted. Non-batch tasks dead-letter to dlx.ai.tasks, batch-origin tasks
// to dlx.ai.batch.
func (m *RetryManager) publishDLQ(ctx context.Context, req domain.AIProcessRequest, info domain.RetryInfo, reason string, isBatch bool, sourceService string) error {
	job := domain.DLQJob{
		TaskId:           req.TaskId,
		OriginalRequest:  req,
		RetryInfo:        info,
		FailureReason:    reason,
		MovedToDLQAt:     time.Now(),
		CanBeReprocessed: true,
	}

	exchange := contract.ExchangeDLX
	routingKey := string(req.Priority)
	kind := contract.TaskTypeProcess
	if isBatch {
		exchange = contract.ExchangeDLXBatch
		routingKey = "batch"
		kind = contract.TaskTypeBatch
	}

	return m.bus.Publish(ctx, exchange, job, broker.PublishOptions{
		RoutingKey: routingKey,
		MessageID:  req.TaskId.String(),
		Headers:    contract.Headers(req, kind, info.AttemptCount, sourceService),
	})
}
