package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/luminafin/campaigner/internal/domain"
)

// PopulationRepo manages the staged_population scratch table. It backs the
// eligibility writer, the router's reads and reassignments, and the sorter's
// order writes.
type PopulationRepo struct{ db *sql.DB }

// NewPopulationRepo creates a Postgres-backed staged population repository.
func NewPopulationRepo(db *sql.DB) *PopulationRepo { return &PopulationRepo{db: db} }

// Replace supersedes any staged rows for the bucket and date in one
// transaction, so a re-run with unchanged input yields identical contents.
func (r *PopulationRepo) Replace(ctx context.Context, bucket string, date time.Time, rows []domain.StagedAccount) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace population: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM staged_population WHERE bucket_name = $1 AND campaign_date = $2
	`, bucket, date); err != nil {
		return fmt.Errorf("clear staged population: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO staged_population
			(account_id, payment_id, bucket_name, campaign_date, full_name, phone_number,
			 dpd, outstanding, due_date, product_type, partner_code, account_status, sort_order)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`)
	if err != nil {
		return fmt.Errorf("prepare population insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.AccountID, row.PaymentID, bucket, date, row.FullName, row.PhoneNumber,
			row.DPD, row.Outstanding, row.DueDate, row.ProductType, row.PartnerCode,
			row.AccountStatus, row.SortOrder,
		); err != nil {
			return fmt.Errorf("insert staged row %s: %w", row.PaymentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace population: %w", err)
	}
	return nil
}

func (r *PopulationRepo) ListByBucket(ctx context.Context, bucket string, date time.Time) ([]domain.StagedAccount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT account_id, payment_id, bucket_name, campaign_date, full_name, phone_number,
		       dpd, outstanding, due_date, product_type, COALESCE(partner_code,''),
		       COALESCE(account_status,''), sort_order
		FROM staged_population
		WHERE bucket_name = $1 AND campaign_date = $2
		ORDER BY sort_order ASC, payment_id ASC
	`, bucket, date)
	if err != nil {
		return nil, fmt.Errorf("list staged population: %w", err)
	}
	defer rows.Close()

	var out []domain.StagedAccount
	for rows.Next() {
		var row domain.StagedAccount
		if err := rows.Scan(
			&row.AccountID, &row.PaymentID, &row.BucketName, &row.CampaignDate,
			&row.FullName, &row.PhoneNumber, &row.DPD, &row.Outstanding, &row.DueDate,
			&row.ProductType, &row.PartnerCode, &row.AccountStatus, &row.SortOrder,
		); err != nil {
			return nil, fmt.Errorf("scan staged row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ReassignBucket moves routed rows to their sub-bucket.
func (r *PopulationRepo) ReassignBucket(ctx context.Context, keys []domain.AccountKey, date time.Time, newBucket string) error {
	if len(keys) == 0 {
		return nil
	}
	paymentIDs := make([]string, len(keys))
	for i, k := range keys {
		paymentIDs[i] = k.PaymentID
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE staged_population SET bucket_name = $1
		WHERE campaign_date = $2 AND payment_id = ANY($3)
	`, newBucket, date, pq.Array(paymentIDs))
	if err != nil {
		return fmt.Errorf("reassign bucket: %w", err)
	}
	return nil
}

// UpdateSortOrder writes 1-based positions for the whole bucket in one
// transaction.
func (r *PopulationRepo) UpdateSortOrder(ctx context.Context, bucket string, date time.Time, order []domain.AccountKey) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sort update: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE staged_population SET sort_order = $1
		WHERE bucket_name = $2 AND campaign_date = $3 AND payment_id = $4
	`)
	if err != nil {
		return fmt.Errorf("prepare sort update: %w", err)
	}
	defer stmt.Close()

	for i, k := range order {
		if _, err := stmt.ExecContext(ctx, i+1, bucket, date, k.PaymentID); err != nil {
			return fmt.Errorf("update sort order for %s: %w", k.PaymentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sort update: %w", err)
	}
	return nil
}

// PurgeBefore drops staged rows older than the cutoff date. Staged rows are
// scratch data; the ledgers are the durable record.
func (r *PopulationRepo) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM staged_population WHERE campaign_date < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge staged population: %w", err)
	}
	return res.RowsAffected()
}
