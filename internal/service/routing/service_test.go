package routing

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
)

type mockPopulation struct {
	rows map[string][]domain.StagedAccount // keyed by bucket
}

func newMockPopulation(bucket string, rows []domain.StagedAccount) *mockPopulation {
	m := &mockPopulation{rows: map[string][]domain.StagedAccount{}}
	for _, r := range rows {
		r.BucketName = bucket
		m.rows[bucket] = append(m.rows[bucket], r)
	}
	return m
}

func (m *mockPopulation) ListByBucket(_ context.Context, bucket string, _ time.Time) ([]domain.StagedAccount, error) {
	out := make([]domain.StagedAccount, len(m.rows[bucket]))
	copy(out, m.rows[bucket])
	return out, nil
}

func (m *mockPopulation) ReassignBucket(_ context.Context, keys []domain.AccountKey, _ time.Time, newBucket string) (err error) {
	want := map[string]bool{}
	for _, k := range keys {
		want[k.PaymentID] = true
	}
	for bucket, rows := range m.rows {
		if bucket == newBucket {
			continue
		}
		var kept []domain.StagedAccount
		for _, r := range rows {
			if want[r.PaymentID] {
				r.BucketName = newBucket
				m.rows[newBucket] = append(m.rows[newBucket], r)
				continue
			}
			kept = append(kept, r)
		}
		m.rows[bucket] = kept
	}
	return nil
}

type mockAssignments struct {
	byExperiment map[string][]domain.ExperimentAssignment
}

func (m *mockAssignments) ReplaceAssignments(_ context.Context, experiment string, _ time.Time, assignments []domain.ExperimentAssignment) error {
	if m.byExperiment == nil {
		m.byExperiment = map[string][]domain.ExperimentAssignment{}
	}
	m.byExperiment[experiment] = assignments
	return nil
}

type mockRanks struct {
	ranks map[string]int
}

func (m *mockRanks) Ranks(_ context.Context, _ time.Time) (map[string]int, error) {
	return m.ranks, nil
}

func routeDate() time.Time {
	return time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
}

func stagedRows(n int) []domain.StagedAccount {
	rows := make([]domain.StagedAccount, n)
	for i := range rows {
		rows[i] = domain.StagedAccount{
			AccountID: fmt.Sprintf("acc-%03d", i),
			PaymentID: fmt.Sprintf("pay-%03d", i),
		}
	}
	return rows
}

func TestRoute_TailRule(t *testing.T) {
	pop := newMockPopulation("b1", stagedRows(10)) // account IDs acc-000 .. acc-009
	router := NewRouter(pop, &mockAssignments{}, &mockRanks{})

	rules := []config.ExperimentRule{{
		Name:       "tail-split-v2",
		Bucket:     "b1",
		Type:       "tail",
		TailDigits: []int{0, 1, 2},
		Target:     "b1-experiment",
		Arm:        "experiment",
	}}

	partition, err := router.Route(context.Background(), "b1", routeDate(), rules)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	if len(partition["b1-experiment"]) != 3 {
		t.Errorf("experiment arm = %d accounts, want 3", len(partition["b1-experiment"]))
	}
	if len(partition["b1"]) != 7 {
		t.Errorf("remainder = %d accounts, want 7", len(partition["b1"]))
	}
	for _, k := range partition["b1-experiment"] {
		last := k.AccountID[len(k.AccountID)-1]
		if last != '0' && last != '1' && last != '2' {
			t.Errorf("account %s routed to tail arm but last digit is %c", k.AccountID, last)
		}
	}
}

func TestRoute_TailRuleIsStable(t *testing.T) {
	rules := []config.ExperimentRule{{
		Name: "tail-split-v2", Bucket: "b1", Type: "tail",
		TailDigits: []int{7}, Target: "b1-x", Arm: "experiment",
	}}

	var prev map[string][]domain.AccountKey
	for run := 0; run < 3; run++ {
		pop := newMockPopulation("b1", stagedRows(20))
		router := NewRouter(pop, &mockAssignments{}, &mockRanks{})
		partition, err := router.Route(context.Background(), "b1", routeDate(), rules)
		if err != nil {
			t.Fatalf("Route run %d: %v", run, err)
		}
		if prev != nil && !reflect.DeepEqual(prev, partition) {
			t.Fatalf("partition changed between identical runs:\nprev: %v\ncur:  %v", prev, partition)
		}
		prev = partition
	}
}

func TestRoute_RankSplit(t *testing.T) {
	rows := stagedRows(6)
	// pay-000 and pay-003 have external scores.
	ranks := &mockRanks{ranks: map[string]int{"pay-000": 1, "pay-003": 2}}
	pop := newMockPopulation("b2", rows)
	asn := &mockAssignments{}
	router := NewRouter(pop, asn, ranks)

	rules := []config.ExperimentRule{{
		Name:           "rank-arm-v1",
		Bucket:         "b2",
		Type:           "rank_split",
		ScoredTarget:   "b2-scored",
		UnscoredTarget: "b2-unscored",
	}}

	partition, err := router.Route(context.Background(), "b2", routeDate(), rules)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}

	// 2 scored + 2 of 4 unscored by even/odd split.
	if got := len(partition["b2-scored"]); got != 4 {
		t.Errorf("scored arm = %d, want 4", got)
	}
	if got := len(partition["b2-unscored"]); got != 2 {
		t.Errorf("unscored arm = %d, want 2", got)
	}
	if got := len(partition["b2"]); got != 0 {
		t.Errorf("remainder = %d, want 0 (rank split consumes the bucket)", got)
	}

	if len(asn.byExperiment["rank-arm-v1"]) != 6 {
		t.Errorf("assignments = %d, want 6", len(asn.byExperiment["rank-arm-v1"]))
	}
}

func TestRoute_RankSplitNoFeedStillSplitsBothArms(t *testing.T) {
	pop := newMockPopulation("b2", stagedRows(8))
	router := NewRouter(pop, &mockAssignments{}, &mockRanks{ranks: map[string]int{}})

	rules := []config.ExperimentRule{{
		Name: "rank-arm-v1", Bucket: "b2", Type: "rank_split",
		ScoredTarget: "b2-scored", UnscoredTarget: "b2-unscored",
	}}

	partition, err := router.Route(context.Background(), "b2", routeDate(), rules)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	// Even/odd round-robin keeps both arms populated.
	if len(partition["b2-scored"]) != 4 || len(partition["b2-unscored"]) != 4 {
		t.Errorf("arms = %d/%d, want 4/4",
			len(partition["b2-scored"]), len(partition["b2-unscored"]))
	}
}

func TestRoute_IgnoresRulesForOtherBuckets(t *testing.T) {
	pop := newMockPopulation("b1", stagedRows(5))
	router := NewRouter(pop, &mockAssignments{}, &mockRanks{})

	rules := []config.ExperimentRule{{
		Name: "other", Bucket: "b9", Type: "tail", TailDigits: []int{0}, Target: "b9-x",
	}}

	partition, err := router.Route(context.Background(), "b1", routeDate(), rules)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if len(partition) != 1 || len(partition["b1"]) != 5 {
		t.Errorf("expected untouched partition, got %v", partition)
	}
}

func TestRoute_UnknownRuleType(t *testing.T) {
	pop := newMockPopulation("b1", stagedRows(2))
	router := NewRouter(pop, &mockAssignments{}, &mockRanks{})

	_, err := router.Route(context.Background(), "b1", routeDate(),
		[]config.ExperimentRule{{Name: "bad", Bucket: "b1", Type: "coin_flip"}})
	if err == nil {
		t.Error("expected error for unknown rule type")
	}
}
