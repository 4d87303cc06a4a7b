package routing

import (
	"context"
	"time"

	"github.com/luminafin/campaigner/internal/domain"
)

// PopulationRepository reads and reassigns staged rows for a bucket/date.
// Implementations must be safe for concurrent use.
type PopulationRepository interface {
	// ListByBucket returns the staged rows for the bucket and date.
	ListByBucket(ctx context.Context, bucket string, date time.Time) ([]domain.StagedAccount, error)

	// ReassignBucket moves the given staged rows to a new bucket name.
	ReassignBucket(ctx context.Context, keys []domain.AccountKey, date time.Time, newBucket string) error
}

// AssignmentRepository persists experiment arm assignments for outcome
// analysis. Replace semantics keep re-runs on the same day idempotent.
type AssignmentRepository interface {
	ReplaceAssignments(ctx context.Context, experiment string, date time.Time, assignments []domain.ExperimentAssignment) error
}

// RankSource exposes the external priority-score feed. A day with no feed
// returns an empty map, not an error.
type RankSource interface {
	Ranks(ctx context.Context, date time.Time) (map[string]int, error)
}
