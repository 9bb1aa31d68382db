// Package consumer implements the Task Consumer/Dispatcher: one worker pool
// per priority class pulling from the Message Bus, running each task
// through the engine, and routing the outcome to the result exchange, the
// retry delay queue, or the dead-letter queue.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-task-pipeline/internal/broker"
	"github.com/fairyhunter13/ai-task-pipeline/internal/contract"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// Idempotent is the subset of *idempotency.Cache the consumer needs. Seen is
// a non-mutating check used before a task is even dispatched to the engine;
// Claim marks a task completed and is only called once processing reaches a
// terminal outcome, so a task that fails and is retried can still be claimed
// by whichever attempt finally succeeds.
type Idempotent interface {
	Seen(ctx context.Context, taskId string) (bool, error)
	Claim(ctx context.Context, taskId string) (bool, error)
}

// Engine is the subset of *engine.Engine the consumer needs.
type Engine interface {
	Process(ctx context.Context, req domain.AIProcessRequest) domain.AIProcessResponse
}

// Source pulls deliveries from one queue; satisfied by *broker.Bus.Consume.
type Source interface {
	Consume(ctx context.Context, queue string, prefetch int) (<-chan broker.Delivery, error)
}

// cancelRequest is the body of a message on task.cancel.queue.
type cancelRequest struct {
	TaskId domain.TaskId `json:"taskId"`
}

// Consumer runs one worker pool per priority queue.
type Consumer struct {
	bus           Source
	publisher     Publisher
	store         domain.StoreClient
	idempotent    Idempotent
	engine        Engine
	retry         *RetryManager
	inflight      *InflightSet
	prefetch      int
	sourceService string
	logger        *slog.Logger
}

// New builds a Consumer. prefetch is the AMQP prefetch count applied to
// every queue it consumes. sourceService is carried on the
// source-service header of every message this consumer publishes.
func New(bus Source, publisher Publisher, store domain.StoreClient, idempotent Idempotent, eng Engine, retryCfg domain.RetryConfig, prefetch int, sourceService string, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		bus:           bus,
		publisher:     publisher,
		store:         store,
		idempotent:    idempotent,
		engine:        eng,
		retry:         NewRetryManager(publisher, retryCfg),
		inflight:      NewInflightSet(),
		prefetch:      prefetch,
		sourceService: sourceService,
		logger:        logger,
	}
}

// WorkerPools describes how many concurrent workers serve each priority's
// process queue.
type WorkerPools struct {
	High   int
	Normal int
	Low    int
	Batch  int
}

// Run starts one worker pool per priority queue plus the cancellation
// listener, and blocks until every worker and the listener have returned.
func (c *Consumer) Run(ctx context.Context, pools WorkerPools) error {
	var wg sync.WaitGroup
	errs := make(chan error, 5)

	start := func(queue string, workers int) {
		if workers <= 0 {
			return
		}
		deliveries, err := c.bus.Consume(ctx, queue, c.prefetch)
		if err != nil {
			errs <- fmt.Errorf("consumer: consume %s: %w", queue, err)
			return
		}
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.worker(ctx, queue, deliveries)
			}()
		}
	}

	start(contract.QueueProcessHigh, pools.High)
	start(contract.QueueProcessNormal, pools.Normal)
	start(contract.QueueProcessLow, pools.Low)
	start(contract.QueueBatchProcess, pools.Batch)

	cancels, err := c.bus.Consume(ctx, contract.QueueTaskCancel, 1)
	if err != nil {
		errs <- fmt.Errorf("consumer: consume %s: %w", contract.QueueTaskCancel, err)
	} else {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.cancelListener(ctx, cancels)
		}()
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// cancelListener applies every task.cancel.queue message as a cancellation
// token. The engine is not interrupted mid-call; the token is checked at the
// consumer's own checkpoints (before dispatch and after Process returns).
func (c *Consumer) cancelListener(ctx context.Context, deliveries <-chan broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			var req cancelRequest
			if err := json.Unmarshal(d.Body, &req); err != nil {
				c.logger.Error("dropping malformed cancel message", slog.Any("error", err))
				_ = d.Nack(false)
				continue
			}
			c.inflight.Cancel(req.TaskId)
			_ = d.Ack()
		}
	}
}

func (c *Consumer) worker(ctx context.Context, queue string, deliveries <-chan broker.Delivery) {
	isBatch := queue == contract.QueueBatchProcess
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.handle(ctx, d, isBatch)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, d broker.Delivery, isBatch bool) {
	var req domain.AIProcessRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		c.logger.Error("dropping malformed task message", slog.Any("error", err))
		_ = d.Nack(false)
		return
	}

	if seen, err := c.idempotent.Seen(ctx, req.TaskId.String()); err != nil {
		c.logger.Error("idempotency check failed", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
	} else if seen {
		c.logger.Info("skipping already-completed task", slog.String("task_id", req.TaskId.String()))
		_ = d.Ack()
		return
	}

	if _, fresh := c.inflight.Start(req.TaskId); !fresh {
		c.logger.Info("duplicate delivery for inflight task, requeueing", slog.String("task_id", req.TaskId.String()))
		_ = d.Nack(true)
		return
	}
	defer c.inflight.Finish(req.TaskId)

	attemptCount := readRetryCount(d.Headers)

	if c.inflight.Cancelled(req.TaskId) {
		c.finishCancelled(ctx, req, d)
		return
	}

	observability.StartProcessingTask(string(req.Priority))
	_ = c.store.MarkStarted(ctx, req.TaskId)
	c.publishProgress(ctx, req, domain.StatusProcessing, 0, "")

	resp := c.engine.Process(ctx, req)

	if c.inflight.Cancelled(req.TaskId) {
		c.finishCancelled(ctx, req, d)
		return
	}

	if resp.Success {
		observability.CompleteTask(string(req.Priority))
		if _, err := c.idempotent.Claim(ctx, req.TaskId.String()); err != nil {
			c.logger.Error("failed to claim task completion", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
		}
		if err := c.store.MarkCompleted(ctx, resp); err != nil {
			c.logger.Error("failed to record task completion", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
		}
		c.publishResult(ctx, req, resp, isBatch, attemptCount)
		_ = d.Ack()
		return
	}

	observability.FailTask(string(req.Priority), resp.Error.Code)
	info := &domain.RetryInfo{AttemptCount: attemptCount, MaxAttempts: c.retry.config.MaxRetries, CreatedAt: time.Now()}
	outcome, err := c.retry.Handle(ctx, req, info, resp.Error, isBatch, c.sourceService)
	if err != nil {
		c.logger.Error("retry manager failed, requeueing delivery", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
		_ = d.Nack(true)
		return
	}

	if outcome == OutcomeDeadLetter {
		if _, err := c.idempotent.Claim(ctx, req.TaskId.String()); err != nil {
			c.logger.Error("failed to claim task completion", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
		}
		if err := c.store.MarkFailed(ctx, req.TaskId, *resp.Error); err != nil {
			c.logger.Error("failed to record task failure", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
		}
		c.publishResult(ctx, req, resp, isBatch, attemptCount)
	}
	_ = d.Ack()
}

// finishCancelled publishes the cancelled terminal response for req, claims
// it so a later redelivery is a no-op, and acknowledges the delivery.
func (c *Consumer) finishCancelled(ctx context.Context, req domain.AIProcessRequest, d broker.Delivery) {
	resp := domain.AIProcessResponse{
		TaskId:    req.TaskId,
		NodeId:    req.NodeId,
		UserId:    req.UserId,
		ProjectId: req.ProjectId,
		Status:    domain.StatusCancelled,
		Success:   false,
		Error:     &domain.TaskError{Code: string(domain.ErrCodeCancelled), Message: "task cancelled", Retryable: false},
		Timestamp: time.Now(),
	}
	if _, err := c.idempotent.Claim(ctx, req.TaskId.String()); err != nil {
		c.logger.Error("failed to claim cancelled task", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
	}
	if err := c.store.MarkFailed(ctx, req.TaskId, *resp.Error); err != nil {
		c.logger.Error("failed to record task cancellation", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
	}
	c.publishResult(ctx, req, resp, false, 0)
	_ = d.Ack()
}

func (c *Consumer) publishResult(ctx context.Context, req domain.AIProcessRequest, resp domain.AIProcessResponse, isBatch bool, attemptCount int) {
	routingKey := contract.ResultRoutingKey(resp.UserId, resp.ProjectId)
	if err := c.publisher.Publish(ctx, contract.ExchangeResultsTopic, resp, broker.PublishOptions{
		RoutingKey: routingKey,
		MessageID:  resp.TaskId.String(),
		Headers:    contract.Headers(req, taskType(isBatch), attemptCount, c.sourceService),
	}); err != nil {
		c.logger.Error("failed to publish task result", slog.String("task_id", resp.TaskId.String()), slog.Any("error", err))
	}
}

// publishProgress announces a task-lifecycle checkpoint on the events topic
// before the engine is invoked, satisfying the "task-start" progress update
// every task must emit. Publish already waits for the broker's confirm, so
// this is the publishWithConfirm behavior the wire contract requires.
func (c *Consumer) publishProgress(ctx context.Context, req domain.AIProcessRequest, status domain.TaskStatus, progress int, message string) {
	update := domain.TaskProgressUpdate{
		TaskId:    req.TaskId,
		NodeId:    req.NodeId,
		Status:    status,
		Progress:  progress,
		Message:   message,
		Timestamp: time.Now(),
	}
	if result := contract.ValidateProgress(update); !result.Ok() {
		c.logger.Error("refusing to publish invalid progress update", slog.String("task_id", req.TaskId.String()))
		return
	}
	if err := c.publisher.Publish(ctx, contract.ExchangeEventsTopic, update, broker.PublishOptions{
		RoutingKey: contract.TaskStatusRoutingKey(req.TaskId),
		MessageID:  req.TaskId.String(),
		Headers:    contract.Headers(req, contract.TaskTypeProcess, 0, c.sourceService),
	}); err != nil {
		c.logger.Error("failed to publish progress update", slog.String("task_id", req.TaskId.String()), slog.Any("error", err))
	}
}

func taskType(isBatch bool) string {
	if isBatch {
		return contract.TaskTypeBatch
	}
	return contract.TaskTypeProcess
}

// readRetryCount extracts the retry-count header carried on a redelivered
// message. The AMQP client may decode a published int as any of several
// integer widths, so every plausible shape is handled.
func readRetryCount(headers map[string]any) int {
	v, ok := headers[contract.HeaderRetryCount]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
