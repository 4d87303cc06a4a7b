package domain

import "time"

// TaskStatus enumerates the lifecycle states of a CampaignTask.
type TaskStatus string

const (
	TaskInitiated         TaskStatus = "initiated"
	TaskQueried           TaskStatus = "queried"
	TaskSorted            TaskStatus = "sorted"
	TaskBatchingProcess   TaskStatus = "batching_process"
	TaskBatchingProcessed TaskStatus = "batching_processed"
	TaskConstructed       TaskStatus = "constructed"
	TaskStored            TaskStatus = "stored"
	TaskSent              TaskStatus = "sent"
	TaskFailure           TaskStatus = "failure"

	// Per-page fan-out statuses recorded as events only, never as the
	// task's denormalized status. The event carries the page number.
	TaskConstructedBatch TaskStatus = "constructed_batch"
	TaskSentBatch        TaskStatus = "sent_batch"
)

// taskTransitions is the allowed forward edge set of the task state machine.
// FAILURE is reachable from every non-terminal state and is handled in
// CanTransition rather than listed per state.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskInitiated:         {TaskQueried},
	TaskQueried:           {TaskSorted, TaskBatchingProcess},
	TaskSorted:            {TaskBatchingProcess},
	TaskBatchingProcess:   {TaskBatchingProcessed},
	TaskBatchingProcessed: {TaskConstructed},
	TaskConstructed:       {TaskStored},
	TaskStored:            {TaskSent},
}

// CanTransition reports whether a task may move from one status to another.
// SENT and FAILURE are terminal for the day.
func CanTransition(from, to TaskStatus) bool {
	if from == TaskSent || from == TaskFailure {
		return false
	}
	if to == TaskFailure {
		return true
	}
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is final for the campaign date.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskSent || s == TaskFailure
}

// CampaignTask is one audited construction-and-dispatch run for a bucket on
// a given campaign date. At most one non-superseded task exists per
// (bucket, vendor, date); it is created lazily on the first construction
// attempt and never deleted.
type CampaignTask struct {
	ID           string     `json:"id" db:"id"`
	BucketName   string     `json:"bucket_name" db:"bucket_name"`
	Vendor       Vendor     `json:"vendor" db:"vendor"`
	CampaignDate time.Time  `json:"campaign_date" db:"campaign_date"`
	Status       TaskStatus `json:"status" db:"status"`
	RetryCount   int        `json:"retry_count" db:"retry_count"`

	// PageCount is recorded once at BATCHING_PROCESSED and never recomputed,
	// so completeness checks stay stable across resumed runs.
	PageCount *int `json:"page_count" db:"page_count"`

	LastError string    `json:"last_error,omitempty" db:"last_error"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TaskEvent is one immutable entry in a task's append-only transition log.
type TaskEvent struct {
	ID           string     `json:"id" db:"id"`
	TaskID       string     `json:"task_id" db:"task_id"`
	Status       TaskStatus `json:"status" db:"status"`
	DataCount    *int       `json:"data_count,omitempty" db:"data_count"`
	Page         *int       `json:"page,omitempty" db:"page"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
