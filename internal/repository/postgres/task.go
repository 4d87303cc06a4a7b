package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/service/tasktrack"
)

// TaskRepo implements tasktrack.Repository against PostgreSQL.
type TaskRepo struct{ db *sql.DB }

// NewTaskRepo creates a Postgres-backed campaign task repository.
func NewTaskRepo(db *sql.DB) *TaskRepo { return &TaskRepo{db: db} }

func (r *TaskRepo) GetByKey(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time) (*domain.CampaignTask, error) {
	t := &domain.CampaignTask{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, bucket_name, vendor, campaign_date, status, retry_count,
		       page_count, COALESCE(last_error,''), created_at, updated_at
		FROM campaign_tasks
		WHERE bucket_name = $1 AND vendor = $2 AND campaign_date = $3
	`, bucket, vendor, date).Scan(
		&t.ID, &t.BucketName, &t.Vendor, &t.CampaignDate, &t.Status, &t.RetryCount,
		&t.PageCount, &t.LastError, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, tasktrack.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign task: %w", err)
	}
	return t, nil
}

func (r *TaskRepo) Create(ctx context.Context, t *domain.CampaignTask) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_tasks (id, bucket_name, vendor, campaign_date, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, NOW(), NOW())
	`, t.ID, t.BucketName, t.Vendor, t.CampaignDate, t.Status)
	if err != nil {
		return fmt.Errorf("create campaign task: %w", err)
	}
	return nil
}

func (r *TaskRepo) IncrementRetry(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_tasks SET retry_count = retry_count + 1, updated_at = NOW() WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("increment retry: %w", err)
	}
	return nil
}

func (r *TaskRepo) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE campaign_tasks SET status = $2, last_error = NULLIF($3,''), updated_at = NOW() WHERE id = $1
	`, id, status, lastError)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// SetPageCount writes the page partition size exactly once. A second write
// for the same task is rejected by the WHERE clause, keeping resumed runs on
// the original partition.
func (r *TaskRepo) SetPageCount(ctx context.Context, id string, pages int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE campaign_tasks SET page_count = $2, updated_at = NOW()
		WHERE id = $1 AND page_count IS NULL
	`, id, pages)
	if err != nil {
		return fmt.Errorf("set page count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set page count: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("page count already recorded for task %s", id)
	}
	return nil
}

func (r *TaskRepo) InsertEvent(ctx context.Context, e *domain.TaskEvent) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO campaign_task_events (id, task_id, status, data_count, page, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6,''), NOW())
	`, e.ID, e.TaskID, e.Status, e.DataCount, e.Page, e.ErrorMessage)
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

func (r *TaskRepo) CountPageEvents(ctx context.Context, taskID string, status domain.TaskStatus) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT page) FROM campaign_task_events
		WHERE task_id = $1 AND status = $2 AND page IS NOT NULL
	`, taskID, status).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count page events: %w", err)
	}
	return n, nil
}

func (r *TaskRepo) ListEvents(ctx context.Context, taskID string) ([]domain.TaskEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_id, status, data_count, page, COALESCE(error_message,''), created_at
		FROM campaign_task_events
		WHERE task_id = $1
		ORDER BY created_at ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	var events []domain.TaskEvent
	for rows.Next() {
		var e domain.TaskEvent
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Status, &e.DataCount, &e.Page, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
