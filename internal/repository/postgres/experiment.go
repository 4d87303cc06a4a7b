package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luminafin/campaigner/internal/domain"
)

// ExperimentRepo implements routing.AssignmentRepository against PostgreSQL.
type ExperimentRepo struct{ db *sql.DB }

// NewExperimentRepo creates a Postgres-backed experiment assignment
// repository.
func NewExperimentRepo(db *sql.DB) *ExperimentRepo { return &ExperimentRepo{db: db} }

// ReplaceAssignments supersedes the experiment's assignments for the date,
// keeping same-day re-runs idempotent.
func (r *ExperimentRepo) ReplaceAssignments(ctx context.Context, experiment string, date time.Time, assignments []domain.ExperimentAssignment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace assignments: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM experiment_assignments WHERE experiment_name = $1 AND campaign_date = $2
	`, experiment, date); err != nil {
		return fmt.Errorf("clear assignments: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO experiment_assignments
			(id, experiment_name, arm, account_id, payment_id, sub_bucket, campaign_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`)
	if err != nil {
		return fmt.Errorf("prepare assignment insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range assignments {
		id := a.ID
		if id == "" {
			id = uuid.New().String()
		}
		if _, err := stmt.ExecContext(ctx,
			id, experiment, a.Arm, a.AccountID, a.PaymentID, a.SubBucket, date,
		); err != nil {
			return fmt.Errorf("insert assignment %s: %w", a.PaymentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace assignments: %w", err)
	}
	return nil
}
