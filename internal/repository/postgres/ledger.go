package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luminafin/campaigner/internal/domain"
)

// SentRepo implements dispatch.SentRepository against PostgreSQL.
type SentRepo struct{ db *sql.DB }

// NewSentRepo creates a Postgres-backed sent ledger repository.
func NewSentRepo(db *sql.DB) *SentRepo { return &SentRepo{db: db} }

func (r *SentRepo) InsertEntries(ctx context.Context, entries []domain.SentEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sent ledger insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sent_ledger
			(id, task_id, account_id, payment_id, bucket_name, vendor,
			 vendor_task_id, page, sort_order, campaign_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	`)
	if err != nil {
		return fmt.Errorf("prepare sent ledger insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.TaskID, e.AccountID, e.PaymentID, e.BucketName, e.Vendor,
			e.VendorTaskID, e.Page, e.SortOrder, e.CampaignDate,
		); err != nil {
			return fmt.Errorf("insert sent entry %s: %w", e.PaymentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sent ledger insert: %w", err)
	}
	return nil
}

func (r *SentRepo) PageDispatched(ctx context.Context, taskID string, page int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sent_ledger WHERE task_id = $1 AND page = $2)
	`, taskID, page).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check dispatched page: %w", err)
	}
	return exists, nil
}

// SoftDeleteSettled flags sent entries whose payment settled after
// submission, joining against the payment store.
func (r *SentRepo) SoftDeleteSettled(ctx context.Context, date time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sent_ledger s SET deleted_at = NOW()
		FROM payments p
		WHERE s.payment_id = p.id
		  AND s.campaign_date = $1
		  AND s.deleted_at IS NULL
		  AND p.paid_at IS NOT NULL
	`, date)
	if err != nil {
		return 0, fmt.Errorf("soft delete settled entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("soft delete settled entries: %w", err)
	}
	return int(n), nil
}

// NotSentRepo implements the not-sent ledger for both the dispatcher and the
// eligibility selector's exclusion recorder.
type NotSentRepo struct{ db *sql.DB }

// NewNotSentRepo creates a Postgres-backed not-sent ledger repository.
func NewNotSentRepo(db *sql.DB) *NotSentRepo { return &NotSentRepo{db: db} }

func (r *NotSentRepo) InsertEntries(ctx context.Context, entries []domain.NotSentEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin not-sent insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO not_sent_ledger
			(id, account_id, payment_id, bucket_name, campaign_date,
			 reason, account_status, dpd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`)
	if err != nil {
		return fmt.Errorf("prepare not-sent insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.AccountID, e.PaymentID, e.BucketName, e.CampaignDate,
			e.Reason, e.AccountStatus, e.DPD,
		); err != nil {
			return fmt.Errorf("insert not-sent entry %s: %w", e.PaymentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit not-sent insert: %w", err)
	}
	return nil
}

// RecordExcluded satisfies eligibility.ExclusionRecorder.
func (r *NotSentRepo) RecordExcluded(ctx context.Context, entries []domain.NotSentEntry) error {
	return r.InsertEntries(ctx, entries)
}
