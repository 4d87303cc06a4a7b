package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/luminafin/campaigner/internal/domain"
)

// AccountSourceRepo implements eligibility.SourceRepository against the
// read-only account store. All queries here consume, never mutate.
type AccountSourceRepo struct{ db *sql.DB }

// NewAccountSourceRepo creates the read-only account source.
func NewAccountSourceRepo(db *sql.DB) *AccountSourceRepo { return &AccountSourceRepo{db: db} }

// OldestUnpaidByAccount returns one row per account: its oldest outstanding
// payment matching the bucket's DPD window and, when set, product type.
// DPD is computed against asOf, not the database clock, so an explicit
// re-run for a past campaign date selects that date's population.
func (r *AccountSourceRepo) OldestUnpaidByAccount(ctx context.Context, def domain.BucketDef, asOf time.Time) ([]domain.StagedAccount, error) {
	q := `
		SELECT DISTINCT ON (a.id)
		       a.id, p.id, a.full_name, a.phone_number,
		       ($1::date - p.due_date)::int AS dpd,
		       p.outstanding, p.due_date, a.product_type,
		       COALESCE(a.partner_code,''), a.status
		FROM accounts a
		JOIN payments p ON p.account_id = a.id
		WHERE p.paid_at IS NULL
		  AND ($1::date - p.due_date) BETWEEN $2 AND $3`
	args := []interface{}{asOf, def.MinDPD, def.MaxDPD}
	if def.ProductType != "" {
		q += ` AND a.product_type = $4`
		args = append(args, def.ProductType)
	}
	q += ` ORDER BY a.id, p.due_date ASC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidate accounts: %w", err)
	}
	defer rows.Close()

	var out []domain.StagedAccount
	for rows.Next() {
		var row domain.StagedAccount
		if err := rows.Scan(
			&row.AccountID, &row.PaymentID, &row.FullName, &row.PhoneNumber,
			&row.DPD, &row.Outstanding, &row.DueDate, &row.ProductType,
			&row.PartnerCode, &row.AccountStatus,
		); err != nil {
			return nil, fmt.Errorf("scan candidate account: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *AccountSourceRepo) BlacklistedAccounts(ctx context.Context, accountIDs []string) (map[string]bool, error) {
	return r.flaggedSet(ctx, `
		SELECT account_id FROM account_blacklist
		WHERE account_id = ANY($1) AND released_at IS NULL
	`, accountIDs, "blacklist")
}

func (r *AccountSourceRepo) ActivePromiseToPay(ctx context.Context, paymentIDs []string, asOf time.Time) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payment_id FROM promises_to_pay
		WHERE payment_id = ANY($1) AND promised_date >= $2 AND broken_at IS NULL
	`, pq.Array(paymentIDs), asOf)
	if err != nil {
		return nil, fmt.Errorf("query active promises: %w", err)
	}
	defer rows.Close()
	return scanIDSet(rows)
}

func (r *AccountSourceRepo) ActiveRefinancing(ctx context.Context, accountIDs []string) (map[string]bool, error) {
	return r.flaggedSet(ctx, `
		SELECT account_id FROM refinancing_requests
		WHERE account_id = ANY($1) AND status IN ('requested','approved','offer_generated')
	`, accountIDs, "refinancing")
}

func (r *AccountSourceRepo) AutodebetActive(ctx context.Context, accountIDs []string) (map[string]bool, error) {
	return r.flaggedSet(ctx, `
		SELECT account_id FROM autodebet_enrollments
		WHERE account_id = ANY($1) AND revoked_at IS NULL
	`, accountIDs, "autodebet")
}

func (r *AccountSourceRepo) flaggedSet(ctx context.Context, query string, ids []string, what string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("query %s flags: %w", what, err)
	}
	defer rows.Close()
	return scanIDSet(rows)
}

func scanIDSet(rows *sql.Rows) (map[string]bool, error) {
	set := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan flagged id: %w", err)
		}
		set[id] = true
	}
	return set, rows.Err()
}
