// Package contract defines the wire-level protocol of the task pipeline:
// exchange/queue topology, routing keys, and header names. Nothing in this
// package depends on a broker client library so the Connection Manager and
// Message Bus adapters can be unit tested against plain structs.
package contract

import (
	"time"

	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// Exchange names.
const (
	ExchangeLLMDirect    = "llm.direct"
	ExchangeResultsTopic = "ai.results.topic"
	ExchangeEventsTopic  = "events.topic"
	ExchangeRealtimeFan  = "realtime.fanout"
	ExchangeDLX          = "dlx.ai.tasks"
	ExchangeDLXBatch     = "dlx.ai.batch"
)

// Queue names.
const (
	QueueProcessDefault = "llm.process.queue"
	QueueProcessHigh    = "llm.process.high.queue"
	QueueProcessNormal  = "llm.process.normal.queue"
	QueueProcessLow     = "llm.process.low.queue"
	QueueBatchProcess   = "llm.batch.process.queue"
	QueueResultNotify   = "result.notify.queue"
	QueueTaskStatus     = "task.status.queue"
	QueueTaskCancel     = "task.cancel.queue"
	QueueEventsWS       = "events.websocket.queue"
	QueueEventsStorage  = "events.storage.queue"
)

// Header names carried on every task message.
const (
	HeaderTaskType      = "task-type"
	HeaderTaskId        = "task-id"
	HeaderUserId        = "user-id"
	HeaderProjectId     = "project-id"
	HeaderPriority      = "priority"
	HeaderRetryCount    = "retry-count"
	HeaderTimestamp     = "timestamp"
	HeaderSourceService = "source-service"
)

// Header values for task-type.
const (
	TaskTypeProcess = "ai_process"
	TaskTypeBatch   = "ai_batch_process"
)

// ExchangeKind distinguishes the AMQP exchange types this pipeline uses.
type ExchangeKind string

// Exchange kinds an ExchangeSpec can name.
const (
	KindDirect ExchangeKind = "direct"
	KindTopic  ExchangeKind = "topic"
	KindFanout ExchangeKind = "fanout"
)

// ExchangeSpec is the durable topology of one exchange.
type ExchangeSpec struct {
	Name string
	Kind ExchangeKind
}

// QueueArgs captures the optional `x-*` arguments a queue may declare.
type QueueArgs struct {
	DeadLetterExchange   string
	DeadLetterRoutingKey string
	MessageTTLMs         int64
	MaxLength            int64
	MaxPriority          uint8
}

// QueueSpec is the durable topology of one queue plus its binding.
type QueueSpec struct {
	Name       string
	Exchange   string
	RoutingKey string
	Args       QueueArgs
}

// Exchanges lists every exchange this pipeline declares on startup.
var Exchanges = []ExchangeSpec{
	{Name: ExchangeLLMDirect, Kind: KindDirect},
	{Name: ExchangeResultsTopic, Kind: KindTopic},
	{Name: ExchangeEventsTopic, Kind: KindTopic},
	{Name: ExchangeRealtimeFan, Kind: KindFanout},
	{Name: ExchangeDLX, Kind: KindDirect},
	{Name: ExchangeDLXBatch, Kind: KindDirect},
}

// priorityQueueArgs builds the x-max-priority/x-message-ttl/DLX argument set
// shared by the priority-routed processing queues. Values are bit-exact per
// the contract: max-priority 10, a 1-hour task TTL, dead-lettering to
// dlx.ai.tasks.
func priorityQueueArgs(routingKey string) QueueArgs {
	return QueueArgs{
		DeadLetterExchange:   ExchangeDLX,
		DeadLetterRoutingKey: routingKey,
		MaxPriority:          10,
		MessageTTLMs:         3_600_000,
	}
}

// Queues lists every queue this pipeline declares and binds on startup.
var Queues = []QueueSpec{
	// QueueProcessDefault is part of the bit-exact wire contract but has no
	// dedicated worker pool: every published task carries an explicit
	// priority and is routed straight to its priority queue.
	{Name: QueueProcessDefault, Exchange: ExchangeLLMDirect, RoutingKey: "default", Args: priorityQueueArgs("default")},
	{Name: QueueProcessHigh, Exchange: ExchangeLLMDirect, RoutingKey: string(domain.PriorityHigh), Args: priorityQueueArgs(string(domain.PriorityHigh))},
	{Name: QueueProcessNormal, Exchange: ExchangeLLMDirect, RoutingKey: string(domain.PriorityNormal), Args: priorityQueueArgs(string(domain.PriorityNormal))},
	{Name: QueueProcessLow, Exchange: ExchangeLLMDirect, RoutingKey: string(domain.PriorityLow), Args: priorityQueueArgs(string(domain.PriorityLow))},
	{Name: QueueBatchProcess, Exchange: ExchangeLLMDirect, RoutingKey: "batch", Args: QueueArgs{DeadLetterExchange: ExchangeDLXBatch, DeadLetterRoutingKey: "batch", MessageTTLMs: 7_200_000}},
	{Name: QueueResultNotify, Exchange: ExchangeResultsTopic, RoutingKey: "task.result.#", Args: QueueArgs{MessageTTLMs: 1_800_000, MaxLength: 10_000}},
	{Name: QueueTaskStatus, Exchange: ExchangeEventsTopic, RoutingKey: "task.status.#"},
	{Name: QueueTaskCancel, Exchange: ExchangeEventsTopic, RoutingKey: "task.cancel.#"},
	{Name: QueueEventsWS, Exchange: ExchangeRealtimeFan},
	{Name: QueueEventsStorage, Exchange: ExchangeEventsTopic, RoutingKey: "#"},
	retryQueueSpec(domain.PriorityHigh),
	retryQueueSpec(domain.PriorityNormal),
	retryQueueSpec(domain.PriorityLow),
}

// retryQueueSpec builds the delay queue a priority's retries sit in before
// their message TTL expires and RabbitMQ dead-letters them back onto the
// origin exchange/routing-key, where they land in the process queue again.
func retryQueueSpec(p domain.TaskPriority) QueueSpec {
	return QueueSpec{
		Name:       RetryQueueFor(p),
		Exchange:   ExchangeDLX,
		RoutingKey: string(p),
		Args: QueueArgs{
			DeadLetterExchange:   ExchangeLLMDirect,
			DeadLetterRoutingKey: string(p),
			MessageTTLMs:         0,
		},
	}
}

// ResultRoutingKey builds the per-user/per-project routing key a task
// result is published under on ExchangeResultsTopic.
func ResultRoutingKey(userId, projectId string) string {
	return "task.result." + userId + "." + projectId
}

// PriorityValue maps a TaskPriority to the numeric value carried in the
// priority header, per the bit-exact {1,5,8,10} range. 8 is reserved for
// batch-origin tasks, which carry no TaskPriority of their own.
func PriorityValue(p domain.TaskPriority) int {
	switch p {
	case domain.PriorityHigh:
		return 10
	case domain.PriorityNormal:
		return 5
	case domain.PriorityLow:
		return 1
	default:
		return 8
	}
}

// Headers builds the full bit-exact header set carried on every task,
// progress, and result message published for req.
func Headers(req domain.AIProcessRequest, taskType string, retryCount int, sourceService string) map[string]any {
	return map[string]any{
		HeaderTaskType:      taskType,
		HeaderTaskId:        req.TaskId.String(),
		HeaderUserId:        req.UserId,
		HeaderProjectId:     req.ProjectId,
		HeaderPriority:      PriorityValue(req.Priority),
		HeaderRetryCount:    retryCount,
		HeaderTimestamp:     time.Now().UTC().Format(time.RFC3339),
		HeaderSourceService: sourceService,
	}
}

// TaskStatusRoutingKey builds the routing key a task's progress update is
// published under on ExchangeEventsTopic, matching QueueTaskStatus's binding.
func TaskStatusRoutingKey(taskId domain.TaskId) string {
	return "task.status." + taskId.String()
}

// TaskCancelRoutingKey builds the routing key a cancellation request is
// published under on ExchangeEventsTopic, matching QueueTaskCancel's binding.
func TaskCancelRoutingKey(taskId domain.TaskId) string {
	return "task.cancel." + taskId.String()
}

// ProcessQueueFor returns the queue name a priority is routed to.
func ProcessQueueFor(p domain.TaskPriority) string {
	switch p {
	case domain.PriorityHigh:
		return QueueProcessHigh
	case domain.PriorityLow:
		return QueueProcessLow
	default:
		return QueueProcessNormal
	}
}

// RetryQueueFor returns the name of the delay queue a priority's retries are
// republished through before being dead-lettered back to the origin queue.
func RetryQueueFor(p domain.TaskPriority) string {
	return ProcessQueueFor(p) + ".retry"
}
