package dispatch

import (
	"context"
	"time"

	"github.com/luminafin/campaigner/internal/domain"
)

// SentRepository persists the sent ledger.
type SentRepository interface {
	// InsertEntries appends the page's ledger rows in one transaction.
	InsertEntries(ctx context.Context, entries []domain.SentEntry) error
	// PageDispatched reports whether the task already has ledger rows for
	// the page, making a re-dispatch a no-op.
	PageDispatched(ctx context.Context, taskID string, page int) (bool, error)
	// SoftDeleteSettled flags entries whose account settled after
	// submission and returns how many were flagged.
	SoftDeleteSettled(ctx context.Context, date time.Time) (int, error)
}

// NotSentRepository persists the not-sent ledger.
type NotSentRepository interface {
	InsertEntries(ctx context.Context, entries []domain.NotSentEntry) error
}

// PageCache is the staged-payload view the dispatcher needs.
type PageCache interface {
	Get(ctx context.Context, bucket string, page int) (*domain.PayloadBatch, error)
	IsReady(ctx context.Context, bucket string) (bool, error)
	Drop(ctx context.Context, bucket string, page int) error
}

// VendorClient uploads one page to the external vendor.
type VendorClient interface {
	UploadBatch(ctx context.Context, batch *domain.PayloadBatch) (*domain.UploadResult, error)
}

// TaskTracker is the slice of the task state machine the dispatcher drives.
type TaskTracker interface {
	RecordEvent(ctx context.Context, task *domain.CampaignTask, status domain.TaskStatus, dataCount *int, errorMessage string) error
	RecordPageEvent(ctx context.Context, task *domain.CampaignTask, status domain.TaskStatus, page int, dataCount int) error
	CheckComplete(ctx context.Context, task *domain.CampaignTask, pageStatus domain.TaskStatus) error
	Fail(ctx context.Context, task *domain.CampaignTask, errorMessage string) error
}

// Alerter is the operator signal channel. Calls are fire-and-forget and must
// never block the pipeline.
type Alerter interface {
	TaskFailure(ctx context.Context, task *domain.CampaignTask, lastError string)
	StagingAnomaly(ctx context.Context, bucket string, page int)
}
