package eligibility

import (
	"context"
	"time"

	"github.com/luminafin/campaigner/internal/domain"
)

// SourceRepository is the read-only view of the account store the selector
// queries. It is consumed, never mutated.
// Implementations must be safe for concurrent use.
type SourceRepository interface {
	// OldestUnpaidByAccount returns the base candidate set for a bucket:
	// the oldest outstanding obligation per account, unpaid, matching the
	// bucket's DPD range and product type.
	OldestUnpaidByAccount(ctx context.Context, def domain.BucketDef, asOf time.Time) ([]domain.StagedAccount, error)

	// BlacklistedAccounts returns the subset of the given account IDs with
	// an active fraud flag or legal hold.
	BlacklistedAccounts(ctx context.Context, accountIDs []string) (map[string]bool, error)

	// ActivePromiseToPay returns the subset of payment IDs covered by a
	// promise-to-pay still active as of the given date.
	ActivePromiseToPay(ctx context.Context, paymentIDs []string, asOf time.Time) (map[string]bool, error)

	// ActiveRefinancing returns the subset of account IDs with a
	// refinancing request in progress.
	ActiveRefinancing(ctx context.Context, accountIDs []string) (map[string]bool, error)

	// AutodebetActive returns the subset of account IDs with autodebet
	// collection enabled.
	AutodebetActive(ctx context.Context, accountIDs []string) (map[string]bool, error)
}

// PopulationRepository writes the surviving population into the staged
// scratch table for the bucket and date.
type PopulationRepository interface {
	// Replace supersedes any prior staged rows for the bucket, writing the
	// new day's population in one transaction.
	Replace(ctx context.Context, bucket string, date time.Time, rows []domain.StagedAccount) error
}

// ExclusionRecorder appends not-sent ledger entries for accounts excluded
// from the candidate set. Recording is independent of dispatch outcome.
type ExclusionRecorder interface {
	RecordExcluded(ctx context.Context, entries []domain.NotSentEntry) error
}
