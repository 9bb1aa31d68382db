package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
	"github.com/fairyhunter13/ai-task-pipeline/internal/engine/tokencount"
	"github.com/fairyhunter13/ai-task-pipeline/pkg/textx"
)

// Engine selects a ModelAdapter, runs it behind a per-adapter circuit
// breaker, and turns the result into a validated AIProcessResponse.
type Engine struct {
	adapters     map[string]domain.ModelAdapter
	defaultModel string
	breakers     *CircuitBreakerManager
	tokens       *tokencount.Counter
	cleaner      *ResponseCleaner
	timeout      time.Duration
}

// Config controls circuit breaker thresholds and the per-call timeout.
type Config struct {
	DefaultModel         string
	EngineTimeout        time.Duration
	CircuitFailThreshold int
	CircuitRecovery      time.Duration
}

// New builds an Engine over the given adapters, keyed by their Name().
func New(adapters []domain.ModelAdapter, cfg Config) *Engine {
	byName := make(map[string]domain.ModelAdapter, len(adapters))
	for _, a := range adapters {
		byName[a.Name()] = a
	}
	return &Engine{
		adapters:     byName,
		defaultModel: cfg.DefaultModel,
		breakers:     NewCircuitBreakerManager(cfg.CircuitFailThreshold, cfg.CircuitRecovery),
		tokens:       tokencount.NewCounter(),
		cleaner:      NewResponseCleaner(),
		timeout:      cfg.EngineTimeout,
	}
}

// structuredResult is the shape an adapter's raw text may parse into after
// cleaning, when the model was asked to emit structured JSON. Any field left
// out falls back to the plain-text derivation in buildResult.
type structuredResult struct {
	Content         string   `json:"content"`
	Title           string   `json:"title"`
	SemanticType    string   `json:"semanticType"`
	ImportanceLevel int      `json:"importanceLevel"`
	Tags            []string `json:"tags"`
}

var ulidEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)

func newRequestId() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// ErrNoAdapter is returned when a request names an adapter the engine does
// not have.
var ErrNoAdapter = errors.New("engine: no such adapter")

// Process runs one request through its chosen adapter and returns a
// response satisfying the result/error mutual-exclusion invariant. Process
// never returns a Go error for an adapter failure: a failed call is
// reported as a response carrying TaskError, so callers can always publish
// the result. An unknown adapter name and an open circuit are reported the
// same way.
func (e *Engine) Process(ctx context.Context, req domain.AIProcessRequest) domain.AIProcessResponse {
	adapterName := e.pickAdapter(req)
	start := time.Now()

	adapter, ok := e.adapters[adapterName]
	if !ok {
		return e.errorResponse(req, adapterName, start, domain.ErrCodeInvalidArgument, fmt.Sprintf("%s: %q", ErrNoAdapter, adapterName), false)
	}

	breaker := e.breakers.GetBreaker(adapterName)
	if !breaker.ShouldAttempt() {
		observability.RecordEngineCall(adapterName, "circuit_open", time.Since(start))
		return e.errorResponse(req, adapterName, start, domain.ErrCodeCircuitOpen, domain.ErrCircuitOpen.Error(), true)
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	sanitized := req
	sanitized.Prompt = textx.SanitizeText(req.Prompt)
	sanitized.Context = textx.SanitizeText(req.Context)

	out, err := adapter.Generate(callCtx, sanitized)
	dur := time.Since(start)
	if err != nil {
		breaker.RecordFailure()
		code, retryable := domain.Classify(err)
		observability.RecordEngineCall(adapterName, "error", dur)
		return e.errorResponse(req, adapterName, start, code, err.Error(), retryable)
	}

	breaker.RecordSuccess()
	observability.RecordEngineCall(adapterName, "success", dur)

	tokensUsed := out.PromptTokens + out.OutputTokens
	if tokensUsed == 0 {
		text := req.Prompt + out.Text
		n, err := e.tokens.CountTokens(text, adapterName)
		if err != nil {
			n = (len(text) + 3) / 4
		}
		tokensUsed = n
	}
	observability.RecordTokenUsage(adapterName, "prompt", out.PromptTokens)
	observability.RecordTokenUsage(adapterName, "output", out.OutputTokens)

	return domain.AIProcessResponse{
		TaskId:    req.TaskId,
		NodeId:    req.NodeId,
		UserId:    req.UserId,
		ProjectId: req.ProjectId,
		Status:    domain.StatusCompleted,
		Success:   true,
		Result:    e.buildResult(out),
		Stats: domain.TaskStats{
			ModelUsed:        adapterName,
			TokenCount:       tokensUsed,
			ProcessingTimeMs: dur.Milliseconds(),
			RequestId:        newRequestId(),
		},
		Timestamp: time.Now(),
	}
}

// buildResult turns an adapter's raw output into the published TaskResult.
// It first tries to parse out.Text as structured JSON (the shape a model is
// asked to emit); fields the structured payload omits, or the whole result
// when the text isn't JSON at all, fall back to plain-text derivation.
func (e *Engine) buildResult(out domain.AdapterResponse) *domain.TaskResult {
	content := strings.TrimSpace(out.Text)
	confidence := out.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}

	result := &domain.TaskResult{
		Content:    content,
		Title:      deriveTitle(content),
		Confidence: confidence,
		Tags:       deriveTags(content),
	}

	if cleaned, err := e.cleaner.CleanAndValidateJSON(content); err == nil {
		var structured structuredResult
		if json.Unmarshal([]byte(cleaned), &structured) == nil && structured.Content != "" {
			result.Content = structured.Content
			if structured.Title != "" {
				result.Title = structured.Title
			}
			result.SemanticType = structured.SemanticType
			if structured.ImportanceLevel >= 1 && structured.ImportanceLevel <= 5 {
				result.ImportanceLevel = structured.ImportanceLevel
			}
			if len(structured.Tags) > 0 {
				result.Tags = structured.Tags
			}
		}
	}

	return result
}

// deriveTitle takes the first few words of content as a title, ellipsis-
// truncated at 47 characters when the content runs past 50.
func deriveTitle(content string) string {
	title := content
	if idx := strings.IndexAny(title, "\n"); idx >= 0 {
		title = title[:idx]
	}
	fields := strings.Fields(title)
	if len(fields) > 12 {
		fields = fields[:12]
	}
	title = strings.Join(fields, " ")
	if title == "" {
		title = "untitled"
	}
	if len(content) > 50 && len(title) > 47 {
		title = title[:47] + "..."
	}
	return title
}

// contentTagRules maps simple substring patterns to the tag they imply; this
// is the "simple content-pattern rules" tag extraction the engine applies to
// every result; a structured result that carries its own tags replaces them.
var contentTagRules = []struct {
	pattern string
	tag     string
}{
	{"error", "error"},
	{"warning", "warning"},
	{"todo", "todo"},
	{"code", "code"},
	{"http", "network"},
	{"sql", "database"},
	{"test", "testing"},
}

func deriveTags(content string) []string {
	lower := strings.ToLower(content)
	var tags []string
	for _, rule := range contentTagRules {
		if strings.Contains(lower, rule.pattern) {
			tags = append(tags, rule.tag)
		}
	}
	return tags
}

// BatchProcess runs every item in task concurrently (bounded by
// task.Options.Concurrency) and aggregates the results. When FailFast is
// set, the first failing item stops further dispatch and FailedAt records
// its index.
func (e *Engine) BatchProcess(ctx context.Context, task domain.BatchTask) domain.BatchResult {
	n := len(task.Items)
	responses := make([]domain.AIProcessResponse, n)

	concurrency := task.Options.Concurrency
	if concurrency <= 0 {
		concurrency = n
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	failedAt := -1

	for i, item := range task.Items {
		mu.Lock()
		stop := task.Options.FailFast && failedAt >= 0
		mu.Unlock()
		if stop {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(i int, item domain.AIProcessRequest) {
			defer wg.Done()
			defer func() { <-sem }()

			resp := e.Process(ctx, item)
			responses[i] = resp

			if resp.Error != nil {
				mu.Lock()
				if failedAt == -1 || i < failedAt {
					failedAt = i
				}
				mu.Unlock()
			}
		}(i, item)
	}
	wg.Wait()

	return domain.BatchResult{
		BatchId:    task.BatchId,
		Responses:  responses,
		FailedAt:   max(failedAt, 0),
		AllSucceed: failedAt == -1,
	}
}

// pickAdapter chooses the adapter named in the request's metadata, falling
// back to the engine's configured default.
func (e *Engine) pickAdapter(req domain.AIProcessRequest) string {
	if req.Metadata.Model != "" {
		return req.Metadata.Model
	}
	return e.defaultModel
}

func (e *Engine) errorResponse(req domain.AIProcessRequest, adapterName string, start time.Time, code domain.ErrorCode, message string, retryable bool) domain.AIProcessResponse {
	return domain.AIProcessResponse{
		TaskId:    req.TaskId,
		NodeId:    req.NodeId,
		UserId:    req.UserId,
		ProjectId: req.ProjectId,
		Status:    domain.StatusFailed,
		Success:   false,
		Error:     &domain.TaskError{Code: string(code), Message: message, Retryable: retryable},
		Stats: domain.TaskStats{
			ModelUsed:        adapterName,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			RequestId:        newRequestId(),
		},
		Timestamp: time.Now(),
	}
}
