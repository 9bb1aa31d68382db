package consumer

import (
	"sync"
	"time"

	"github.com/fairyhunter13/ai-task-pipeline/internal/adapter/observability"
	"github.com/fairyhunter13/ai-task-pipeline/internal/domain"
)

// InflightSet tracks tasks currently being processed by this worker
// process, so a duplicate delivery arriving while the first is still being
// worked can be recognized even though the idempotency cache has no terminal
// outcome for it yet. It
// also tracks cancellation tokens set by a task.cancel.queue message, so a
// task already running can be checked for cancellation at its next
// checkpoint.
type InflightSet struct {
	mu        sync.RWMutex
	tasks     map[domain.TaskId]domain.TaskAttempt
	cancelled map[domain.TaskId]bool
}

// NewInflightSet creates an empty set.
func NewInflightSet() *InflightSet {
	return &InflightSet{
		tasks:     make(map[domain.TaskId]domain.TaskAttempt),
		cancelled: make(map[domain.TaskId]bool),
	}
}

// Start records taskId as inflight, returning the tracked attempt. If the
// task is already inflight, the existing attempt is returned unchanged and
// ok is false.
func (s *InflightSet) Start(id domain.TaskId) (attempt domain.TaskAttempt, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, present := s.tasks[id]; present {
		return existing, false
	}
	attempt = domain.TaskAttempt{TaskId: id, Attempt: 1, FirstSeenAt: time.Now()}
	s.tasks[id] = attempt
	observability.InflightTasks.Set(float64(len(s.tasks)))
	return attempt, true
}

// RecordAttempt increments the attempt counter for a task already tracked
// as inflight. The consumer does not call it: retries travel through the
// delay queue and arrive as new deliveries.
func (s *InflightSet) RecordAttempt(id domain.TaskId, lastErr error) domain.TaskAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := s.tasks[id]
	attempt.TaskId = id
	attempt.Attempt++
	attempt.LastError = lastErr
	if attempt.FirstSeenAt.IsZero() {
		attempt.FirstSeenAt = time.Now()
	}
	s.tasks[id] = attempt
	return attempt
}

// Finish removes taskId from the inflight set once it has completed,
// failed terminally, or been handed off to the retry/DLQ path.
func (s *InflightSet) Finish(id domain.TaskId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	delete(s.cancelled, id)
	observability.InflightTasks.Set(float64(len(s.tasks)))
}

// Len reports how many tasks are currently tracked.
func (s *InflightSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// Cancel records that taskId has been asked to cancel. It is safe to call
// before the task ever starts: the token is checked at the next checkpoint,
// whichever comes first.
func (s *InflightSet) Cancel(id domain.TaskId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled[id] = true
}

// Cancelled reports whether taskId has a pending cancellation token.
func (s *InflightSet) Cancelled(id domain.TaskId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cancelled[id]
}
