package sorting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// PopulationRepository reads staged rows and persists the computed order.
type PopulationRepository interface {
	ListByBucket(ctx context.Context, bucket string, date time.Time) ([]domain.StagedAccount, error)

	// UpdateSortOrder writes the position of each payment in one statement
	// batch. Positions are 1-based.
	UpdateSortOrder(ctx context.Context, bucket string, date time.Time, order []domain.AccountKey) error
}

// RankSource exposes the external priority-score feed, keyed by date.
// Absence of the feed for a day yields an empty map, not an error.
type RankSource interface {
	Ranks(ctx context.Context, date time.Time) (map[string]int, error)
}

// Sorter merges the external rank per account with the stable fallback
// order (outstanding ascending, then account ID ascending).
type Sorter struct {
	population PopulationRepository
	ranks      RankSource
}

// NewSorter creates a priority sorter.
func NewSorter(population PopulationRepository, ranks RankSource) *Sorter {
	return &Sorter{population: population, ranks: ranks}
}

// Sort orders the bucket's staged population and writes sort_order back.
// Accounts present in the external feed come first, by ascending rank;
// accounts absent from it follow in the fallback order. A day with no feed
// at all falls back for the whole population — that is not an error.
func (s *Sorter) Sort(ctx context.Context, bucket string, date time.Time) ([]domain.AccountKey, error) {
	rows, err := s.population.ListByBucket(ctx, bucket, date)
	if err != nil {
		return nil, fmt.Errorf("list staged population: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ranks, err := s.ranks.Ranks(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("load priority ranks: %w", err)
	}
	if len(ranks) == 0 {
		logger.Info("sorting: priority feed absent, using fallback order",
			"bucket", bucket, "date", date.Format("2006-01-02"))
	}

	var ranked, unranked []domain.StagedAccount
	for _, row := range rows {
		if _, ok := ranks[row.PaymentID]; ok {
			ranked = append(ranked, row)
		} else {
			unranked = append(unranked, row)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranks[ranked[i].PaymentID] < ranks[ranked[j].PaymentID]
	})
	sort.SliceStable(unranked, func(i, j int) bool {
		if unranked[i].Outstanding != unranked[j].Outstanding {
			return unranked[i].Outstanding < unranked[j].Outstanding
		}
		return unranked[i].AccountID < unranked[j].AccountID
	})

	order := make([]domain.AccountKey, 0, len(rows))
	for _, row := range ranked {
		order = append(order, row.Key())
	}
	for _, row := range unranked {
		order = append(order, row.Key())
	}

	if err := s.population.UpdateSortOrder(ctx, bucket, date, order); err != nil {
		return nil, fmt.Errorf("persist sort order: %w", err)
	}
	return order, nil
}
