package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/distlock"
	"github.com/luminafin/campaigner/internal/staging"
)

type fakeSentRepo struct {
	entries    []domain.SentEntry
	dispatched map[string]bool // "taskID:page"
	swept      int
}

func (f *fakeSentRepo) InsertEntries(_ context.Context, entries []domain.SentEntry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeSentRepo) PageDispatched(_ context.Context, taskID string, page int) (bool, error) {
	return f.dispatched[fmt.Sprintf("%s:%d", taskID, page)], nil
}

func (f *fakeSentRepo) SoftDeleteSettled(_ context.Context, _ time.Time) (int, error) {
	return f.swept, nil
}

type fakeNotSentRepo struct {
	entries []domain.NotSentEntry
}

func (f *fakeNotSentRepo) InsertEntries(_ context.Context, entries []domain.NotSentEntry) error {
	f.entries = append(f.entries, entries...)
	return nil
}

type fakeCache struct {
	pages map[int]*domain.PayloadBatch
	ready bool
	drops []int
}

func (f *fakeCache) Get(_ context.Context, _ string, page int) (*domain.PayloadBatch, error) {
	b, ok := f.pages[page]
	if !ok {
		return nil, staging.ErrMiss
	}
	return b, nil
}

func (f *fakeCache) IsReady(_ context.Context, _ string) (bool, error) { return f.ready, nil }

func (f *fakeCache) Drop(_ context.Context, _ string, page int) error {
	delete(f.pages, page)
	f.drops = append(f.drops, page)
	return nil
}

// fakeClient fails the first failures calls, then succeeds.
type fakeClient struct {
	failures int
	calls    int
}

func (f *fakeClient) UploadBatch(_ context.Context, _ *domain.PayloadBatch) (*domain.UploadResult, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return &domain.UploadResult{Success: true, AcceptedCount: 2, VendorTaskID: "cp-1", UploadedAt: time.Now()}, nil
}

type fakeTracker struct {
	pageEvents map[int]domain.TaskStatus
	statuses   []domain.TaskStatus
	failedWith string
	totalPages int
}

func (f *fakeTracker) RecordEvent(_ context.Context, task *domain.CampaignTask, status domain.TaskStatus, _ *int, _ string) error {
	task.Status = status
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeTracker) RecordPageEvent(_ context.Context, _ *domain.CampaignTask, status domain.TaskStatus, page int, _ int) error {
	if f.pageEvents == nil {
		f.pageEvents = map[int]domain.TaskStatus{}
	}
	f.pageEvents[page] = status
	return nil
}

func (f *fakeTracker) CheckComplete(_ context.Context, _ *domain.CampaignTask, _ domain.TaskStatus) error {
	if len(f.pageEvents) < f.totalPages {
		return errors.New("incomplete")
	}
	return nil
}

func (f *fakeTracker) Fail(_ context.Context, task *domain.CampaignTask, msg string) error {
	task.Status = domain.TaskFailure
	f.failedWith = msg
	return nil
}

type fakeAlerter struct {
	failures  int
	anomalies int
}

func (f *fakeAlerter) TaskFailure(_ context.Context, _ *domain.CampaignTask, _ string) { f.failures++ }
func (f *fakeAlerter) StagingAnomaly(_ context.Context, _ string, _ int)               { f.anomalies++ }

type fakeLock struct {
	held bool
}

func (f *fakeLock) Acquire(_ context.Context) (bool, error) { return !f.held, nil }
func (f *fakeLock) Release(_ context.Context) error         { return nil }

type fixture struct {
	sent    *fakeSentRepo
	notSent *fakeNotSentRepo
	cache   *fakeCache
	client  *fakeClient
	tracker *fakeTracker
	alerter *fakeAlerter
	lock    *fakeLock
	d       *Dispatcher
}

func newFixture(totalPages int) *fixture {
	f := &fixture{
		sent:    &fakeSentRepo{dispatched: map[string]bool{}},
		notSent: &fakeNotSentRepo{},
		cache:   &fakeCache{pages: map[int]*domain.PayloadBatch{}, ready: true},
		client:  &fakeClient{},
		tracker: &fakeTracker{totalPages: totalPages},
		alerter: &fakeAlerter{},
		lock:    &fakeLock{},
	}
	newLock := func(string, time.Duration) distlock.DistLock { return f.lock }
	f.d = NewDispatcher(f.sent, f.notSent, f.cache, f.client, f.tracker, f.alerter, newLock,
		Options{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMax: time.Millisecond, LockTTL: time.Minute})
	f.d.sleep = func(time.Duration) {}
	return f
}

func storedTask() *domain.CampaignTask {
	return &domain.CampaignTask{
		ID:           "t1",
		BucketName:   "b1",
		Vendor:       domain.VendorCallPilot,
		CampaignDate: time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC),
		Status:       domain.TaskStored,
	}
}

func pageBatch(page, records int) *domain.PayloadBatch {
	b := &domain.PayloadBatch{
		Vendor:       domain.VendorCallPilot,
		BucketName:   "b1",
		CampaignDate: "2026-08-31",
		Page:         page,
		TaskName:     "b1_20260831",
	}
	for i := 0; i < records; i++ {
		b.Records = append(b.Records, domain.CallRecord{
			AccountID: fmt.Sprintf("a%d-%d", page, i),
			PaymentID: fmt.Sprintf("p%d-%d", page, i),
			SortOrder: page*500 + i,
		})
	}
	return b
}

func TestSend_SuccessLedgersAndCompletes(t *testing.T) {
	f := newFixture(1)
	f.cache.pages[0] = pageBatch(0, 2)
	task := storedTask()

	if err := f.d.Send(context.Background(), task, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(f.sent.entries) != 2 {
		t.Fatalf("sent entries = %d, want 2", len(f.sent.entries))
	}
	if f.sent.entries[0].VendorTaskID != "cp-1" {
		t.Errorf("vendor task id = %q", f.sent.entries[0].VendorTaskID)
	}
	if f.tracker.pageEvents[0] != domain.TaskSentBatch {
		t.Error("missing sent_batch event for page 0")
	}
	if task.Status != domain.TaskSent {
		t.Errorf("task status = %s, want sent on last page", task.Status)
	}
	if len(f.cache.drops) != 1 || f.cache.drops[0] != 0 {
		t.Errorf("dispatched page not dropped from staging: %v", f.cache.drops)
	}
}

func TestSend_IncompleteStaysStored(t *testing.T) {
	f := newFixture(3)
	f.cache.pages[1] = pageBatch(1, 2)
	task := storedTask()

	if err := f.d.Send(context.Background(), task, 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if task.Status != domain.TaskStored {
		t.Errorf("task status = %s, want stored at 1/3 pages", task.Status)
	}
}

func TestSend_TerminalTaskIsNoop(t *testing.T) {
	f := newFixture(1)
	task := storedTask()
	task.Status = domain.TaskSent

	if err := f.d.Send(context.Background(), task, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.client.calls != 0 {
		t.Error("terminal task must not reach the vendor")
	}
}

func TestSend_TerminalTaskLedgersQueuedPage(t *testing.T) {
	f := newFixture(2)
	f.cache.pages[1] = pageBatch(1, 2)
	task := storedTask()
	task.Status = domain.TaskFailure

	if err := f.d.Send(context.Background(), task, 1); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.client.calls != 0 {
		t.Error("terminal task must not reach the vendor")
	}
	if len(f.notSent.entries) != 2 {
		t.Fatalf("not-sent entries = %d, want 2", len(f.notSent.entries))
	}
	for _, e := range f.notSent.entries {
		if e.Reason != domain.ReasonDispatchFailed {
			t.Errorf("reason = %s", e.Reason)
		}
	}
	if len(f.cache.drops) != 1 || f.cache.drops[0] != 1 {
		t.Errorf("skipped page not dropped from staging: %v", f.cache.drops)
	}

	// A re-delivered queue message finds the page gone and does nothing.
	if err := f.d.Send(context.Background(), task, 1); err != nil {
		t.Fatalf("second Send: %v", err)
	}
	if len(f.notSent.entries) != 2 {
		t.Error("re-delivery must not ledger the page twice")
	}
}

func TestSend_PartitionHeldAfterTerminalFailure(t *testing.T) {
	f := newFixture(2)
	f.cache.pages[0] = pageBatch(0, 2)
	f.cache.pages[1] = pageBatch(1, 2)
	f.client.failures = 10
	task := storedTask()

	// Page 0 exhausts the upload budget and fails the task while page 1
	// is still queued behind it.
	if err := f.d.Send(context.Background(), task, 0); !errors.Is(err, ErrUploadExhausted) {
		t.Fatalf("expected ErrUploadExhausted, got %v", err)
	}
	if err := f.d.Send(context.Background(), task, 1); err != nil {
		t.Fatalf("queued page after failure: %v", err)
	}

	// Every account of both pages lands in exactly one ledger.
	seen := map[string]int{}
	for _, e := range f.sent.entries {
		seen[e.PaymentID]++
	}
	for _, e := range f.notSent.entries {
		seen[e.PaymentID]++
	}
	for _, id := range []string{"p0-0", "p0-1", "p1-0", "p1-1"} {
		if seen[id] != 1 {
			t.Errorf("payment %s ledgered %d times, want exactly once", id, seen[id])
		}
	}
}

func TestSend_AlreadyDispatchedPageSkipsUpload(t *testing.T) {
	f := newFixture(1)
	f.sent.dispatched["t1:0"] = true
	f.tracker.pageEvents = map[int]domain.TaskStatus{0: domain.TaskSentBatch}
	task := storedTask()

	if err := f.d.Send(context.Background(), task, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.client.calls != 0 {
		t.Error("re-dispatch of a ledgered page must not reach the vendor")
	}
	if len(f.sent.entries) != 0 {
		t.Error("no new ledger rows expected")
	}
	if task.Status != domain.TaskSent {
		t.Errorf("completeness recheck should close the task, got %s", task.Status)
	}
}

func TestSend_LockHeld(t *testing.T) {
	f := newFixture(1)
	f.cache.pages[0] = pageBatch(0, 2)
	f.lock.held = true
	task := storedTask()

	err := f.d.Send(context.Background(), task, 0)
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if f.client.calls != 0 {
		t.Error("locked page must not reach the vendor")
	}
}

func TestSend_StagingMissAfterReady(t *testing.T) {
	f := newFixture(1)
	task := storedTask()

	err := f.d.Send(context.Background(), task, 0)
	if !errors.Is(err, ErrStagedPageLost) {
		t.Fatalf("expected ErrStagedPageLost, got %v", err)
	}
	if f.alerter.anomalies != 1 {
		t.Error("expected a staging anomaly alert")
	}
	if task.Status == domain.TaskFailure {
		t.Error("a lost page needs reconstruction, not terminal failure")
	}
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	f := newFixture(1)
	f.cache.pages[0] = pageBatch(0, 2)
	f.client.failures = 2
	task := storedTask()

	if err := f.d.Send(context.Background(), task, 0); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if f.client.calls != 3 {
		t.Errorf("vendor calls = %d, want 3", f.client.calls)
	}
	if len(f.sent.entries) != 2 {
		t.Errorf("sent entries = %d, want 2", len(f.sent.entries))
	}
}

func TestSend_BudgetExhaustedFailsTask(t *testing.T) {
	f := newFixture(1)
	f.cache.pages[0] = pageBatch(0, 2)
	f.client.failures = 10
	task := storedTask()

	err := f.d.Send(context.Background(), task, 0)
	if !errors.Is(err, ErrUploadExhausted) {
		t.Fatalf("expected ErrUploadExhausted, got %v", err)
	}
	if f.client.calls != 3 {
		t.Errorf("vendor calls = %d, want exactly the budget", f.client.calls)
	}
	if task.Status != domain.TaskFailure {
		t.Errorf("task status = %s, want failure", task.Status)
	}
	if len(f.sent.entries) != 0 {
		t.Error("a failed page must not create sent ledger rows")
	}
	if len(f.notSent.entries) != 2 {
		t.Fatalf("not-sent entries = %d, want 2", len(f.notSent.entries))
	}
	if f.notSent.entries[0].Reason != domain.ReasonDispatchFailed {
		t.Errorf("reason = %s", f.notSent.entries[0].Reason)
	}
	if f.alerter.failures != 1 {
		t.Error("expected a task failure alert")
	}
}

func TestRecordExcluded(t *testing.T) {
	f := newFixture(1)
	accounts := []domain.StagedAccount{
		{AccountID: "a1", PaymentID: "p1", BucketName: "b1", DPD: 12, AccountStatus: "active"},
		{AccountID: "a2", PaymentID: "p2", BucketName: "b1", DPD: 30, AccountStatus: "active"},
	}

	if err := f.d.RecordExcluded(context.Background(), accounts, domain.ReasonBlacklisted); err != nil {
		t.Fatalf("RecordExcluded: %v", err)
	}
	if len(f.notSent.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(f.notSent.entries))
	}
	if f.notSent.entries[1].Reason != domain.ReasonBlacklisted || f.notSent.entries[1].DPD != 30 {
		t.Errorf("unexpected entry: %+v", f.notSent.entries[1])
	}
}

func TestSweepLateCancellations(t *testing.T) {
	f := newFixture(1)
	f.sent.swept = 4

	n, err := f.d.SweepLateCancellations(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 4 {
		t.Errorf("swept = %d, want 4", n)
	}
}
