// Package domain holds the core types and ports of the AI task pipeline,
// independent of any transport, storage, or model provider.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Context is an alias kept for readability at call sites that thread a
// request-scoped context through several layers.
type Context = context.Context

// Sentinel errors classified by ErrorCode. Adapters and the engine wrap
// these with fmt.Errorf("...: %w", ErrX) so callers can use errors.Is.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("response schema invalid")
	ErrPoisonMessage     = errors.New("poison message")
	ErrCircuitOpen       = errors.New("circuit breaker open")
)

// TaskPriority orders work across the three standard processing queues.
type TaskPriority string

// Priority levels understood by the contract layer and the consumer's
// per-priority worker pools.
const (
	PriorityHigh   TaskPriority = "high"
	PriorityNormal TaskPriority = "normal"
	PriorityLow    TaskPriority = "low"
)

// TaskId uniquely identifies an AI task. It is always a UUID v4 string.
type TaskId string

// NewTaskId mints a fresh v4 UUID task identifier.
func NewTaskId() TaskId {
	return TaskId(uuid.New().String())
}

// Valid reports whether id parses as a UUID.
func (id TaskId) Valid() bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

func (id TaskId) String() string { return string(id) }

// BatchOptions controls how a BatchTask's items are scheduled.
type BatchOptions struct {
	FailFast    bool `json:"failFast"`
	Concurrency int  `json:"concurrency"`
}

// AIProcessRequest is the unified contract every task queue message carries.
// Context and Prompt together form the model input; Metadata routes the
// request to an adapter and carries tracing/ownership fields. NodeId
// identifies the canvas node the task was submitted for, independent of
// the owning project/user.
type AIProcessRequest struct {
	TaskId    TaskId          `json:"taskId" validate:"required"`
	NodeId    string          `json:"nodeId" validate:"required"`
	UserId    string          `json:"userId" validate:"required"`
	ProjectId string          `json:"projectId" validate:"required"`
	Context   string          `json:"context"`
	Prompt    string          `json:"prompt" validate:"required"`
	Metadata  RequestMetadata `json:"metadata"`
	Priority  TaskPriority    `json:"priority" validate:"omitempty,oneof=high normal low"`
	CreatedAt time.Time       `json:"createdAt"`
}

// RequestMetadata carries routing and provenance data that does not affect
// the model prompt itself. Only these keys are decoded; unknown top-level
// metadata keys are dropped by JSON decoding and are not reported by
// validation.
type RequestMetadata struct {
	Model         string         `json:"model,omitempty"`
	SourceService string         `json:"sourceService,omitempty"`
	MaxTokens     int            `json:"maxTokens,omitempty"`
	Temperature   float64        `json:"temperature,omitempty"`
	SourceNodeIds []string       `json:"sourceNodeIds,omitempty"`
	SessionId     string         `json:"sessionId,omitempty"`
	Custom        map[string]any `json:"custom,omitempty"`
}

// TaskStatus is the lifecycle state carried on every AIProcessResponse and
// TaskProgressUpdate. It only ever moves forward: queued -> processing ->
// one of {completed, failed, cancelled}.
type TaskStatus string

// Task lifecycle states.
const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether status ends a task's lifecycle.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// TaskResult is the model output captured on a successful AIProcessResponse.
type TaskResult struct {
	Content         string   `json:"content" validate:"required"`
	Title           string   `json:"title" validate:"required"`
	SemanticType    string   `json:"semanticType,omitempty"`
	ImportanceLevel int      `json:"importanceLevel,omitempty" validate:"omitempty,gte=1,lte=5"`
	Confidence      float64  `json:"confidence" validate:"gte=0,lte=1"`
	Tags            []string `json:"tags,omitempty"`
}

// TaskStats reports what the engine spent producing a response, whether it
// succeeded or not.
type TaskStats struct {
	ModelUsed        string `json:"modelUsed"`
	TokenCount       int    `json:"tokenCount,omitempty"`
	ProcessingTimeMs int64  `json:"processingTimeMs"`
	RequestId        string `json:"requestId,omitempty"`
}

// AIProcessResponse is the result published back on the results topic.
// Result and Error are mutually exclusive: exactly one must be set, and
// Success must agree with which one it is.
type AIProcessResponse struct {
	TaskId    TaskId      `json:"taskId"`
	NodeId    string      `json:"nodeId"`
	UserId    string      `json:"userId"`
	ProjectId string      `json:"projectId"`
	Status    TaskStatus  `json:"status"`
	Success   bool        `json:"success"`
	Result    *TaskResult `json:"result,omitempty"`
	Error     *TaskError  `json:"error,omitempty"`
	Stats     TaskStats   `json:"stats"`
	Timestamp time.Time   `json:"timestamp"`
}

// Valid enforces the result/error mutual-exclusion invariant and that
// Success agrees with which of the two is set.
func (r AIProcessResponse) Valid() bool {
	if r.Success {
		return r.Result != nil && r.Error == nil
	}
	return r.Error != nil && r.Result == nil
}

// TaskError is the structured failure carried by AIProcessResponse.Error.
type TaskError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	Details   string `json:"details,omitempty"`
}

func (e *TaskError) Error() string { return e.Code + ": " + e.Message }

// TaskProgressUpdate reports incremental progress for a long-running task.
// Progress must increase monotonically across updates for the same TaskId
// within a single attempt.
type TaskProgressUpdate struct {
	TaskId    TaskId     `json:"taskId" validate:"required"`
	NodeId    string     `json:"nodeId" validate:"required"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress" validate:"gte=0,lte=100"`
	Message   string     `json:"message,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// BatchTask groups several AIProcessRequest items under one batch identity.
type BatchTask struct {
	BatchId   string             `json:"batchId" validate:"required"`
	UserId    string             `json:"userId" validate:"required"`
	ProjectId string             `json:"projectId" validate:"required"`
	Items     []AIProcessRequest `json:"items" validate:"required,min=1"`
	Options   BatchOptions       `json:"options"`
	CreatedAt time.Time          `json:"createdAt"`
}

// BatchResult aggregates the outcome of a BatchTask's items.
type BatchResult struct {
	BatchId    string              `json:"batchId"`
	Responses  []AIProcessResponse `json:"responses"`
	FailedAt   int                 `json:"failedAt,omitempty"`
	AllSucceed bool                `json:"allSucceed"`
}

// TaskAttempt is internal bookkeeping the consumer keeps per delivery; it
// never crosses the wire.
type TaskAttempt struct {
	TaskId      TaskId
	Attempt     int
	FirstSeenAt time.Time
	LastError   error
}

// StoreClient is the port the consumer uses to report task lifecycle
// transitions to the external Store service.
type StoreClient interface {
	CreateTask(ctx context.Context, req AIProcessRequest) error
	MarkStarted(ctx context.Context, id TaskId) error
	MarkCompleted(ctx context.Context, resp AIProcessResponse) error
	MarkFailed(ctx context.Context, id TaskId, taskErr TaskError) error
	ListQueued(ctx context.Context) ([]TaskId, error)
	CleanupOld(ctx context.Context, olderThan time.Duration) (int, error)
}

// ModelAdapter is the port the engine calls to produce a completion for a
// prompt. Implementations may wrap a real provider or, for tests and
// offline runs, a deterministic mock.
type ModelAdapter interface {
	Name() string
	Generate(ctx context.Context, req AIProcessRequest) (AdapterResponse, error)
}

// AdapterResponse is what a ModelAdapter returns before the engine wraps it
// into an AIProcessResponse. Confidence is the adapter's own estimate of
// how reliable Text is; the engine clamps it into [0,1] before publishing.
type AdapterResponse struct {
	Text         string
	PromptTokens int
	OutputTokens int
	Confidence   float64
}
