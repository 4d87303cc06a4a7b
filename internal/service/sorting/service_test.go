package sorting

import (
	"context"
	"testing"
	"time"

	"github.com/luminafin/campaigner/internal/domain"
)

type mockPopulation struct {
	rows  []domain.StagedAccount
	order []domain.AccountKey
}

func (m *mockPopulation) ListByBucket(_ context.Context, _ string, _ time.Time) ([]domain.StagedAccount, error) {
	out := make([]domain.StagedAccount, len(m.rows))
	copy(out, m.rows)
	return out, nil
}

func (m *mockPopulation) UpdateSortOrder(_ context.Context, _ string, _ time.Time, order []domain.AccountKey) error {
	m.order = order
	return nil
}

type mockRanks struct {
	ranks map[string]int
}

func (m *mockRanks) Ranks(_ context.Context, _ time.Time) (map[string]int, error) {
	return m.ranks, nil
}

func sortDate() time.Time {
	return time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
}

func row(accountID, paymentID string, outstanding float64) domain.StagedAccount {
	return domain.StagedAccount{AccountID: accountID, PaymentID: paymentID, Outstanding: outstanding}
}

func paymentOrder(keys []domain.AccountKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.PaymentID
	}
	return out
}

func TestSort_ExternalRanksFirst(t *testing.T) {
	pop := &mockPopulation{rows: []domain.StagedAccount{
		row("a1", "p1", 500),
		row("a2", "p2", 100),
		row("a3", "p3", 900),
		row("a4", "p4", 200),
	}}
	// p3 outranks p1; p2 and p4 are unscored.
	ranks := &mockRanks{ranks: map[string]int{"p1": 2, "p3": 1}}
	sorter := NewSorter(pop, ranks)

	order, err := sorter.Sort(context.Background(), "b1", sortDate())
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}

	got := paymentOrder(order)
	want := []string{"p3", "p1", "p2", "p4"} // ranked asc, then outstanding asc
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
	if len(pop.order) != 4 {
		t.Errorf("persisted order length = %d, want 4", len(pop.order))
	}
}

func TestSort_FallbackWhenFeedAbsent(t *testing.T) {
	pop := &mockPopulation{rows: []domain.StagedAccount{
		row("a3", "p3", 900),
		row("a1", "p1", 500),
		row("a2", "p2", 500),
	}}
	sorter := NewSorter(pop, &mockRanks{ranks: map[string]int{}})

	order, err := sorter.Sort(context.Background(), "b1", sortDate())
	if err != nil {
		t.Fatalf("Sort: %v (missing feed must not be an error)", err)
	}

	got := paymentOrder(order)
	// outstanding asc, account id asc as tie-break
	want := []string{"p1", "p2", "p3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestSort_Deterministic(t *testing.T) {
	rows := []domain.StagedAccount{
		row("a5", "p5", 300),
		row("a2", "p2", 300),
		row("a9", "p9", 100),
	}
	var prev []string
	for run := 0; run < 3; run++ {
		pop := &mockPopulation{rows: rows}
		sorter := NewSorter(pop, &mockRanks{ranks: map[string]int{"p9": 1}})
		order, err := sorter.Sort(context.Background(), "b1", sortDate())
		if err != nil {
			t.Fatalf("Sort run %d: %v", run, err)
		}
		got := paymentOrder(order)
		if prev != nil {
			for i := range got {
				if got[i] != prev[i] {
					t.Fatalf("order changed between runs: %v vs %v", prev, got)
				}
			}
		}
		prev = got
	}
}

func TestSort_EmptyBucket(t *testing.T) {
	sorter := NewSorter(&mockPopulation{}, &mockRanks{})
	order, err := sorter.Sort(context.Background(), "b1", sortDate())
	if err != nil {
		t.Fatalf("Sort: %v", err)
	}
	if order != nil {
		t.Errorf("expected nil order for empty bucket, got %v", order)
	}
}
