package tasktrack

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// Tracker coordinates the task state machine. The event log is the source
// of truth; the status on the task row is a denormalized cache kept in sync
// by RecordEvent.
type Tracker struct {
	repo Repository
}

// NewTracker creates a task tracker backed by the given repository.
func NewTracker(repo Repository) *Tracker {
	return &Tracker{repo: repo}
}

// EnsureTask returns the task for (bucket, vendor, date), creating it in
// INITIATED state on first invocation. Re-invocation on an existing task
// increments its retry counter. Idempotent with respect to task identity:
// there is never more than one task per key.
func (t *Tracker) EnsureTask(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time) (*domain.CampaignTask, error) {
	task, err := t.repo.GetByKey(ctx, bucket, vendor, date)
	if err == nil {
		if rerr := t.repo.IncrementRetry(ctx, task.ID); rerr != nil {
			return nil, fmt.Errorf("increment retry: %w", rerr)
		}
		task.RetryCount++
		return task, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get task: %w", err)
	}

	task = &domain.CampaignTask{
		ID:           uuid.New().String(),
		BucketName:   bucket,
		Vendor:       vendor,
		CampaignDate: date,
		Status:       domain.TaskInitiated,
	}
	if err := t.repo.Create(ctx, task); err != nil {
		// Lost a race with a concurrent worker; the existing row wins.
		if existing, gerr := t.repo.GetByKey(ctx, bucket, vendor, date); gerr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("create task: %w", err)
	}
	if err := t.repo.InsertEvent(ctx, &domain.TaskEvent{
		ID:     uuid.New().String(),
		TaskID: task.ID,
		Status: domain.TaskInitiated,
	}); err != nil {
		return nil, fmt.Errorf("record initiated event: %w", err)
	}
	return task, nil
}

// Get fetches the task for the key without touching its retry count.
func (t *Tracker) Get(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time) (*domain.CampaignTask, error) {
	return t.repo.GetByKey(ctx, bucket, vendor, date)
}

// RecordEvent appends a state-machine event and refreshes the cached status
// on the task. dataCount may be nil for stages that carry no count.
// Returns ErrInvalidTransition if the move is not allowed.
func (t *Tracker) RecordEvent(ctx context.Context, task *domain.CampaignTask, status domain.TaskStatus, dataCount *int, errorMessage string) error {
	if !domain.CanTransition(task.Status, status) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrInvalidTransition, task.Status, status, task.ID)
	}

	if err := t.repo.InsertEvent(ctx, &domain.TaskEvent{
		ID:           uuid.New().String(),
		TaskID:       task.ID,
		Status:       status,
		DataCount:    dataCount,
		ErrorMessage: errorMessage,
	}); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if err := t.repo.UpdateStatus(ctx, task.ID, status, errorMessage); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	task.Status = status
	task.LastError = errorMessage
	return nil
}

// RecordPageEvent appends a per-page fan-out event (CONSTRUCTED_BATCH or
// SENT_BATCH). Page events do not move the task's cached status; they are
// counted by the completeness check.
func (t *Tracker) RecordPageEvent(ctx context.Context, task *domain.CampaignTask, status domain.TaskStatus, page int, dataCount int) error {
	if status != domain.TaskConstructedBatch && status != domain.TaskSentBatch {
		return fmt.Errorf("%w: %s is not a per-page status", ErrInvalidTransition, status)
	}
	if task.Status.IsTerminal() {
		return fmt.Errorf("%w: task %s is terminal", ErrInvalidTransition, task.ID)
	}
	return t.repo.InsertEvent(ctx, &domain.TaskEvent{
		ID:        uuid.New().String(),
		TaskID:    task.ID,
		Status:    status,
		Page:      &page,
		DataCount: &dataCount,
	})
}

// MarkBatched records BATCHING_PROCESSED and pins the page count. The page
// count is written once and never recomputed, so a resumed run sees the
// original partition even if the population mutated mid-run.
func (t *Tracker) MarkBatched(ctx context.Context, task *domain.CampaignTask, pageCount int) error {
	if task.PageCount == nil {
		if err := t.repo.SetPageCount(ctx, task.ID, pageCount); err != nil {
			return fmt.Errorf("set page count: %w", err)
		}
		task.PageCount = &pageCount
	}
	return t.RecordEvent(ctx, task, domain.TaskBatchingProcessed, &pageCount, "")
}

// CheckComplete verifies that every page recorded at BATCHING_PROCESSED has
// reached the given per-page success status. Returns ErrIncomplete with the
// observed counts when coverage is short.
func (t *Tracker) CheckComplete(ctx context.Context, task *domain.CampaignTask, pageStatus domain.TaskStatus) error {
	if task.PageCount == nil {
		return fmt.Errorf("task %s has no recorded page count", task.ID)
	}
	done, err := t.repo.CountPageEvents(ctx, task.ID, pageStatus)
	if err != nil {
		return fmt.Errorf("count page events: %w", err)
	}
	if done != *task.PageCount {
		return fmt.Errorf("%w: %d/%d pages at %s", ErrIncomplete, done, *task.PageCount, pageStatus)
	}
	return nil
}

// Fail transitions the task to terminal FAILURE, persisting the last error.
func (t *Tracker) Fail(ctx context.Context, task *domain.CampaignTask, errorMessage string) error {
	if task.Status.IsTerminal() {
		return nil
	}
	logger.Error("task failed",
		"task_id", task.ID,
		"bucket", task.BucketName,
		"vendor", string(task.Vendor),
		"error", errorMessage)
	return t.RecordEvent(ctx, task, domain.TaskFailure, nil, errorMessage)
}

// History returns the task's full event log, oldest first.
func (t *Tracker) History(ctx context.Context, taskID string) ([]domain.TaskEvent, error) {
	return t.repo.ListEvents(ctx, taskID)
}
