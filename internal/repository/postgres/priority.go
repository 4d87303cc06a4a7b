package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// RankFeedRepo reads the external priority-score feed. The feed is date
// partitioned and delivered by an upstream model; a day with no partition is
// an expected state, not an error.
type RankFeedRepo struct{ db *sql.DB }

// NewRankFeedRepo creates the priority rank feed reader.
func NewRankFeedRepo(db *sql.DB) *RankFeedRepo { return &RankFeedRepo{db: db} }

// Ranks returns the payment-keyed rank map for the date. Empty when the feed
// has not landed.
func (r *RankFeedRepo) Ranks(ctx context.Context, date time.Time) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT payment_id, rank FROM priority_ranks WHERE feed_date = $1
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query priority ranks: %w", err)
	}
	defer rows.Close()

	ranks := map[string]int{}
	for rows.Next() {
		var paymentID string
		var rank int
		if err := rows.Scan(&paymentID, &rank); err != nil {
			return nil, fmt.Errorf("scan priority rank: %w", err)
		}
		ranks[paymentID] = rank
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ranks) == 0 {
		logger.Info("priority feed absent for date", "date", date.Format("2006-01-02"))
	}
	return ranks, nil
}
