package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-task-pipeline/internal/broker"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

type fakeSource struct {
	mu     sync.Mutex
	queues map[string]chan broker.Delivery
}

func newFakeSource() *fakeSource {
	return &fakeSource{queues: map[string]chan broker.Delivery{}}
}

func (f *fakeSource) Consume(ctx context.Context, queue string, prefetch int) (<-chan broker.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.queues[queue]
	if !ok {
		ch = make(chan broker.Delivery, 8)
		f.queues[queue] = ch
	}
	return ch, nil
}

func (f *fakeSource) push(queue string, req domain.AIProcessRequest) {
	body, _ := json.Marshal(req)
	f.mu.Lock()
	ch, ok := f.queues[queue]
	if !ok {
		ch = make(chan broker.Delivery, 8)
		f.queues[queue] = ch
	}
	f.mu.Unlock()
	ch <- broker.Delivery{Body: body}
}

type fakeIdempotent struct {
	mu        sync.Mutex
	completed map[string]bool
}

func (f *fakeIdempotent) Seen(ctx context.Context, taskId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed[taskId], nil
}

func (f *fakeIdempotent) Claim(ctx context.Context, taskId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed == nil {
		f.completed = map[string]bool{}
	}
	if f.completed[taskId] {
		return false, nil
	}
	f.completed[taskId] = true
	return true, nil
}

type fakeEngine struct {
	fail bool
}

func (e *fakeEngine) Process(ctx context.Context, req domain.AIProcessRequest) domain.AIProcessResponse {
	if e.fail {
		return domain.AIProcessResponse{
			TaskId: req.TaskId, NodeId: req.NodeId, UserId: req.UserId, ProjectId: req.ProjectId,
			Status: domain.StatusFailed, Success: false,
			Error: &domain.TaskError{Code: string(domain.ErrCodeInvalidArgument), Message: "invalid argument", Retryable: false},
		}
	}
	return domain.AIProcessResponse{
		TaskId: req.TaskId, NodeId: req.NodeId, UserId: req.UserId, ProjectId: req.ProjectId,
		Status: domain.StatusCompleted, Success: true,
		Result: &domain.TaskResult{Content: "ok", Title: "ok", Confidence: 0.9},
		Stats:  domain.TaskStats{ModelUsed: "mock-adapter"},
	}
}

type fakeStore struct {
	mu        sync.Mutex
	started   []domain.TaskId
	completed []domain.AIProcessResponse
	failed    []domain.TaskId
}

func (s *fakeStore) CreateTask(ctx context.Context, req domain.AIProcessRequest) error { return nil }
func (s *fakeStore) MarkStarted(ctx context.Context, id domain.TaskId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, id)
	return nil
}
func (s *fakeStore) MarkCompleted(ctx context.Context, resp domain.AIProcessResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, resp)
	return nil
}
func (s *fakeStore) MarkFailed(ctx context.Context, id domain.TaskId, taskErr domain.TaskError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, id)
	return nil
}
func (s *fakeStore) ListQueued(ctx context.Context) ([]domain.TaskId, error) { return nil, nil }
func (s *fakeStore) CleanupOld(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func TestConsumer_HandlesSuccessfulTask(t *testing.T) {
	src := newFakeSource()
	pub := &recordingPublisher{}
	idem := &fakeIdempotent{}
	store := &fakeStore{}
	eng := &fakeEngine{}

	c := New(src, pub, store, idem, eng, domain.DefaultRetryConfig(), 4, "test-service", nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx, WorkerPools{High: 1})
		close(done)
	}()

	req := domain.AIProcessRequest{TaskId: domain.NewTaskId(), NodeId: "node-1", UserId: "u1", ProjectId: "p1", Prompt: "hi", Priority: domain.PriorityHigh}
	src.push("llm.process.high.queue", req)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.completed) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	require.Len(t, pub.published, 2) // progress publish + result publish
	assert.Equal(t, "task.result.u1.p1", pub.published[1].opts.RoutingKey)
}

func TestConsumer_DuplicateDeliverySkipped(t *testing.T) {
	src := newFakeSource()
	pub := &recordingPublisher{}
	idem := &fakeIdempotent{}
	store := &fakeStore{}
	eng := &fakeEngine{}

	c := New(src, pub, store, idem, eng, domain.DefaultRetryConfig(), 4, "test-service", nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx, WorkerPools{Normal: 1})
		close(done)
	}()

	req := domain.AIProcessRequest{TaskId: domain.NewTaskId(), NodeId: "node-1", UserId: "u1", ProjectId: "p1", Prompt: "hi", Priority: domain.PriorityNormal}
	src.push("llm.process.normal.queue", req)
	src.push("llm.process.normal.queue", req)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.completed) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	assert.Len(t, store.completed, 1)
}

func TestConsumer_NonRetryableFailureDeadLetters(t *testing.T) {
	src := newFakeSource()
	pub := &recordingPublisher{}
	idem := &fakeIdempotent{}
	store := &fakeStore{}
	eng := &fakeEngine{fail: true}

	c := New(src, pub, store, idem, eng, domain.DefaultRetryConfig(), 4, "test-service", nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx, WorkerPools{Low: 1})
		close(done)
	}()

	req := domain.AIProcessRequest{TaskId: domain.NewTaskId(), NodeId: "node-1", UserId: "u1", ProjectId: "p1", Prompt: "hi", Priority: domain.PriorityLow}
	src.push("llm.process.low.queue", req)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.failed) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	require.Len(t, pub.published, 3) // progress publish + dlq publish + result publish
}
