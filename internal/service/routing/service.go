package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

const (
	ruleTypeTail      = "tail"
	ruleTypeRankSplit = "rank_split"
)

// Router applies the active routing rules for a bucket. Routing is
// idempotent: re-running on the same day with the same staged contents
// produces the same partition.
type Router struct {
	population  PopulationRepository
	assignments AssignmentRepository
	ranks       RankSource
}

// NewRouter creates a cohort/experiment router.
func NewRouter(population PopulationRepository, assignments AssignmentRepository, ranks RankSource) *Router {
	return &Router{population: population, assignments: assignments, ranks: ranks}
}

// Route partitions the staged population of bucketName according to the
// rules that target it, in declaration order. It reassigns bucket_name on
// the moved rows, records experiment assignments, and returns the resulting
// partition keyed by bucket name. The remainder stays under the original
// bucket name; its entry is present even when empty rules leave everything
// in place.
func (r *Router) Route(ctx context.Context, bucketName string, date time.Time, rules []config.ExperimentRule) (map[string][]domain.AccountKey, error) {
	rows, err := r.population.ListByBucket(ctx, bucketName, date)
	if err != nil {
		return nil, fmt.Errorf("list staged population: %w", err)
	}

	// Stable input order: rules must see the same sequence on every run.
	sort.Slice(rows, func(i, j int) bool { return rows[i].PaymentID < rows[j].PaymentID })

	partition := map[string][]domain.AccountKey{}
	remaining := rows

	for _, rule := range rules {
		if rule.Bucket != bucketName {
			continue
		}
		var moved map[string][]domain.StagedAccount
		switch rule.Type {
		case ruleTypeTail:
			moved, remaining = r.applyTail(rule, remaining)
		case ruleTypeRankSplit:
			moved, remaining, err = r.applyRankSplit(ctx, rule, remaining, date)
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("unknown routing rule type %q in rule %q", rule.Type, rule.Name)
		}

		var assignments []domain.ExperimentAssignment
		for target, accounts := range moved {
			keys := make([]domain.AccountKey, len(accounts))
			for i, a := range accounts {
				keys[i] = a.Key()
				assignments = append(assignments, domain.ExperimentAssignment{
					ExperimentName: rule.Name,
					Arm:            armFor(rule, target),
					AccountID:      a.AccountID,
					PaymentID:      a.PaymentID,
					SubBucket:      target,
					CampaignDate:   date,
				})
			}
			if err := r.population.ReassignBucket(ctx, keys, date, target); err != nil {
				return nil, fmt.Errorf("reassign to %s: %w", target, err)
			}
			partition[target] = append(partition[target], keys...)
		}
		if len(assignments) > 0 {
			if err := r.assignments.ReplaceAssignments(ctx, rule.Name, date, assignments); err != nil {
				return nil, fmt.Errorf("record assignments for %s: %w", rule.Name, err)
			}
		}

		logger.Info("routing: rule applied",
			"rule", rule.Name,
			"bucket", bucketName,
			"moved", len(assignments),
			"remaining", len(remaining))
	}

	keys := make([]domain.AccountKey, len(remaining))
	for i, a := range remaining {
		keys[i] = a.Key()
	}
	partition[bucketName] = keys
	return partition, nil
}

// applyTail routes accounts whose account ID's last digit is in the rule's
// tail set. Deterministic: the same account routes identically for the life
// of the rule.
func (r *Router) applyTail(rule config.ExperimentRule, rows []domain.StagedAccount) (map[string][]domain.StagedAccount, []domain.StagedAccount) {
	tails := map[byte]bool{}
	for _, d := range rule.TailDigits {
		tails['0'+byte(d)] = true
	}

	var moved []domain.StagedAccount
	kept := rows[:0]
	for _, row := range rows {
		if len(row.AccountID) > 0 && tails[row.AccountID[len(row.AccountID)-1]] {
			moved = append(moved, row)
			continue
		}
		kept = append(kept, row)
	}
	if len(moved) == 0 {
		return nil, kept
	}
	return map[string][]domain.StagedAccount{rule.Target: moved}, kept
}

// applyRankSplit routes scored accounts to the scored arm and splits
// unscored accounts across both arms by even/odd position so neither arm is
// starved on days when the score feed covers little of the population.
func (r *Router) applyRankSplit(ctx context.Context, rule config.ExperimentRule, rows []domain.StagedAccount, date time.Time) (map[string][]domain.StagedAccount, []domain.StagedAccount, error) {
	ranks, err := r.ranks.Ranks(ctx, date)
	if err != nil {
		return nil, nil, fmt.Errorf("load priority ranks: %w", err)
	}

	moved := map[string][]domain.StagedAccount{}
	unscoredIdx := 0
	for _, row := range rows {
		if _, scored := ranks[row.PaymentID]; scored {
			moved[rule.ScoredTarget] = append(moved[rule.ScoredTarget], row)
			continue
		}
		// rows arrive sorted by payment ID, so the even/odd split is
		// stable across re-runs.
		if unscoredIdx%2 == 0 {
			moved[rule.ScoredTarget] = append(moved[rule.ScoredTarget], row)
		} else {
			moved[rule.UnscoredTarget] = append(moved[rule.UnscoredTarget], row)
		}
		unscoredIdx++
	}
	return moved, nil, nil
}

func armFor(rule config.ExperimentRule, target string) domain.ExperimentArm {
	if rule.Arm != "" {
		return domain.ExperimentArm(rule.Arm)
	}
	switch target {
	case rule.ScoredTarget:
		return domain.ArmExperiment
	case rule.UnscoredTarget:
		return domain.ArmControl
	}
	return domain.ArmControl
}
