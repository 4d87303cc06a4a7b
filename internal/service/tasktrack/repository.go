package tasktrack

import (
	"context"
	"time"

	"github.com/luminafin/campaigner/internal/domain"
)

// Repository defines the data access contract for campaign tasks and their
// event log. Implementations must be safe for concurrent use.
type Repository interface {
	// GetByKey returns the task for (bucket, vendor, date).
	// Returns ErrNotFound if it doesn't exist.
	GetByKey(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time) (*domain.CampaignTask, error)

	// Create inserts a new task. The (bucket, vendor, date) key is unique;
	// a concurrent create loses to the existing row.
	Create(ctx context.Context, t *domain.CampaignTask) error

	// IncrementRetry bumps the retry counter on re-invocation.
	IncrementRetry(ctx context.Context, id string) error

	// UpdateStatus writes the denormalized status cache on the task row.
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, lastError string) error

	// SetPageCount records the page partition size. Written once at
	// BATCHING_PROCESSED; implementations must not overwrite a non-null
	// value.
	SetPageCount(ctx context.Context, id string, pages int) error

	// InsertEvent appends one immutable event.
	InsertEvent(ctx context.Context, e *domain.TaskEvent) error

	// CountPageEvents counts distinct pages with an event of the given
	// per-page status for the task.
	CountPageEvents(ctx context.Context, taskID string, status domain.TaskStatus) (int, error)

	// ListEvents returns the task's events, oldest first.
	ListEvents(ctx context.Context, taskID string) ([]domain.TaskEvent, error)
}
