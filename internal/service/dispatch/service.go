package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/distlock"
	"github.com/luminafin/campaigner/internal/pkg/logger"
	"github.com/luminafin/campaigner/internal/staging"
)

// LockFactory yields a fresh distributed lock for a key. Each dispatch owns
// its own lock instance.
type LockFactory func(key string, ttl time.Duration) distlock.DistLock

// Options bound the upload retry policy.
type Options struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	LockTTL     time.Duration
}

// Dispatcher sends staged pages to a vendor and writes the outcome ledgers.
type Dispatcher struct {
	sent    SentRepository
	notSent NotSentRepository
	cache   PageCache
	client  VendorClient
	tracker TaskTracker
	alerter Alerter
	newLock LockFactory
	opts    Options

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

func NewDispatcher(sent SentRepository, notSent NotSentRepository, cache PageCache, client VendorClient, tracker TaskTracker, alerter Alerter, newLock LockFactory, opts Options) *Dispatcher {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Minute
	}
	return &Dispatcher{
		sent:    sent,
		notSent: notSent,
		cache:   cache,
		client:  client,
		tracker: tracker,
		alerter: alerter,
		newLock: newLock,
		opts:    opts,
		sleep:   time.Sleep,
	}
}

// Send uploads one staged page. Re-invocation on an already-dispatched page
// or a terminal task is a no-op. On retry-budget exhaustion the task goes to
// terminal FAILURE, the page's accounts are ledgered as not sent, and an
// operator alert is raised.
func (d *Dispatcher) Send(ctx context.Context, task *domain.CampaignTask, page int) error {
	if task.Status.IsTerminal() {
		logger.Info("skipping dispatch for terminal task",
			"task_id", task.ID, "status", string(task.Status), "page", page)
		return d.ledgerSkippedPage(ctx, task, page)
	}

	done, err := d.sent.PageDispatched(ctx, task.ID, page)
	if err != nil {
		return fmt.Errorf("check page ledger: %w", err)
	}
	if done {
		logger.Info("page already dispatched", "task_id", task.ID, "page", page)
		return d.finishIfComplete(ctx, task)
	}

	lock := d.newLock(fmt.Sprintf("dispatch:%s:%d", task.BucketName, page), d.opts.LockTTL)
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !acquired {
		return fmt.Errorf("%w: %s page %d", ErrLocked, task.BucketName, page)
	}
	defer lock.Release(ctx)

	batch, err := d.cache.Get(ctx, task.BucketName, page)
	if errors.Is(err, staging.ErrMiss) {
		ready, readyErr := d.cache.IsReady(ctx, task.BucketName)
		if readyErr == nil && ready {
			// The bucket was staged and a page vanished underneath it.
			d.alerter.StagingAnomaly(ctx, task.BucketName, page)
		}
		return fmt.Errorf("%w: %s page %d", ErrStagedPageLost, task.BucketName, page)
	}
	if err != nil {
		return fmt.Errorf("fetch staged page: %w", err)
	}

	result, err := d.upload(ctx, batch)
	if err != nil {
		d.failPage(ctx, task, batch, err)
		return err
	}

	if err := d.recordSent(ctx, task, batch, result); err != nil {
		return err
	}
	if err := d.cache.Drop(ctx, task.BucketName, page); err != nil {
		logger.Warn("could not drop dispatched page from staging",
			"bucket", task.BucketName, "page", page, "error", err.Error())
	}
	return d.finishIfComplete(ctx, task)
}

// upload attempts the vendor call under the bounded retry policy. A result
// with Success=false consumes an attempt like a transport error.
func (d *Dispatcher) upload(ctx context.Context, batch *domain.PayloadBatch) (*domain.UploadResult, error) {
	var lastErr error
	for attempt := 1; attempt <= d.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			d.sleep(d.backoff(attempt))
		}
		result, err := d.client.UploadBatch(ctx, batch)
		if err != nil {
			lastErr = err
			logger.Warn("vendor upload attempt failed",
				"bucket", batch.BucketName, "page", batch.Page,
				"attempt", attempt, "error", err.Error())
			continue
		}
		if !result.Success {
			lastErr = errors.New(result.Error)
			logger.Warn("vendor rejected upload",
				"bucket", batch.BucketName, "page", batch.Page,
				"attempt", attempt, "error", result.Error)
			continue
		}
		return result, nil
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrUploadExhausted, d.opts.MaxAttempts, lastErr)
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.opts.BackoffBase << (attempt - 2)
	if delay > d.opts.BackoffMax {
		delay = d.opts.BackoffMax
	}
	return delay
}

// recordSent writes the page's sent ledger rows and the SENT_BATCH event.
func (d *Dispatcher) recordSent(ctx context.Context, task *domain.CampaignTask, batch *domain.PayloadBatch, result *domain.UploadResult) error {
	date, err := time.Parse("2006-01-02", batch.CampaignDate)
	if err != nil {
		return fmt.Errorf("parse campaign date %q: %w", batch.CampaignDate, err)
	}
	entries := make([]domain.SentEntry, 0, len(batch.Records))
	for _, rec := range batch.Records {
		entries = append(entries, domain.SentEntry{
			ID:           uuid.New().String(),
			TaskID:       task.ID,
			AccountID:    rec.AccountID,
			PaymentID:    rec.PaymentID,
			BucketName:   task.BucketName,
			Vendor:       task.Vendor,
			VendorTaskID: result.VendorTaskID,
			Page:         batch.Page,
			SortOrder:    rec.SortOrder,
			CampaignDate: date,
		})
	}
	if err := d.sent.InsertEntries(ctx, entries); err != nil {
		return fmt.Errorf("insert sent ledger: %w", err)
	}
	if err := d.tracker.RecordPageEvent(ctx, task, domain.TaskSentBatch, batch.Page, len(entries)); err != nil {
		return fmt.Errorf("record sent batch event: %w", err)
	}
	logger.Info("page dispatched",
		"bucket", task.BucketName, "page", batch.Page,
		"records", len(entries), "vendor_task_id", result.VendorTaskID)
	return nil
}

// finishIfComplete promotes the task to SENT once every page has a
// SENT_BATCH event. An incomplete count is the normal mid-run state.
func (d *Dispatcher) finishIfComplete(ctx context.Context, task *domain.CampaignTask) error {
	err := d.tracker.CheckComplete(ctx, task, domain.TaskSentBatch)
	if err != nil {
		return nil
	}
	if err := d.tracker.RecordEvent(ctx, task, domain.TaskSent, nil, ""); err != nil {
		return fmt.Errorf("record sent: %w", err)
	}
	logger.Info("task fully dispatched", "task_id", task.ID, "bucket", task.BucketName)
	return nil
}

// failPage moves the task to terminal FAILURE, ledgers the page's accounts
// as not sent, and raises the operator alert.
func (d *Dispatcher) failPage(ctx context.Context, task *domain.CampaignTask, batch *domain.PayloadBatch, cause error) {
	if err := d.tracker.Fail(ctx, task, cause.Error()); err != nil {
		logger.Error("could not record task failure", "task_id", task.ID, "error", err.Error())
	}
	if err := d.notSent.InsertEntries(ctx, notSentFromBatch(task, batch)); err != nil {
		logger.Error("could not ledger failed page", "task_id", task.ID, "error", err.Error())
	}
	d.alerter.TaskFailure(ctx, task, cause.Error())
}

// ledgerSkippedPage closes out a page queued behind a task that already
// reached a terminal state. Nothing is uploaded, but the page's accounts
// must still land in the not-sent ledger so the day's candidate set ends up
// partitioned between the two ledgers.
func (d *Dispatcher) ledgerSkippedPage(ctx context.Context, task *domain.CampaignTask, page int) error {
	done, err := d.sent.PageDispatched(ctx, task.ID, page)
	if err != nil {
		return fmt.Errorf("check page ledger: %w", err)
	}
	if done {
		return nil
	}
	batch, err := d.cache.Get(ctx, task.BucketName, page)
	if errors.Is(err, staging.ErrMiss) {
		logger.Warn("staged page already gone for terminal task",
			"task_id", task.ID, "bucket", task.BucketName, "page", page)
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch staged page: %w", err)
	}
	if err := d.notSent.InsertEntries(ctx, notSentFromBatch(task, batch)); err != nil {
		return fmt.Errorf("ledger skipped page: %w", err)
	}
	// Dropping the page makes a second skip a no-op.
	if err := d.cache.Drop(ctx, task.BucketName, page); err != nil {
		logger.Warn("could not drop skipped page from staging",
			"bucket", task.BucketName, "page", page, "error", err.Error())
	}
	logger.Info("skipped page ledgered as not sent",
		"task_id", task.ID, "page", page, "accounts", len(batch.Records))
	return nil
}

// notSentFromBatch maps a staged page's records to not-sent ledger rows.
func notSentFromBatch(task *domain.CampaignTask, batch *domain.PayloadBatch) []domain.NotSentEntry {
	date, err := time.Parse("2006-01-02", batch.CampaignDate)
	if err != nil {
		date = task.CampaignDate
	}
	entries := make([]domain.NotSentEntry, 0, len(batch.Records))
	for _, rec := range batch.Records {
		entries = append(entries, domain.NotSentEntry{
			ID:           uuid.New().String(),
			AccountID:    rec.AccountID,
			PaymentID:    rec.PaymentID,
			BucketName:   task.BucketName,
			CampaignDate: date,
			Reason:       domain.ReasonDispatchFailed,
			DPD:          rec.DPD,
		})
	}
	return entries
}

// RecordExcluded ledgers accounts dropped before dispatch. It is independent
// of any page's upload outcome.
func (d *Dispatcher) RecordExcluded(ctx context.Context, accounts []domain.StagedAccount, reason domain.ExclusionReason) error {
	if len(accounts) == 0 {
		return nil
	}
	entries := make([]domain.NotSentEntry, 0, len(accounts))
	for _, acct := range accounts {
		entries = append(entries, domain.NotSentEntry{
			ID:            uuid.New().String(),
			AccountID:     acct.AccountID,
			PaymentID:     acct.PaymentID,
			BucketName:    acct.BucketName,
			CampaignDate:  acct.CampaignDate,
			Reason:        reason,
			AccountStatus: acct.AccountStatus,
			DPD:           acct.DPD,
		})
	}
	if err := d.notSent.InsertEntries(ctx, entries); err != nil {
		return fmt.Errorf("insert not-sent ledger: %w", err)
	}
	return nil
}

// SweepLateCancellations soft-deletes sent entries whose account settled
// after submission. Run once after the daily dispatch window.
func (d *Dispatcher) SweepLateCancellations(ctx context.Context, date time.Time) (int, error) {
	n, err := d.sent.SoftDeleteSettled(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("sweep settled accounts: %w", err)
	}
	if n > 0 {
		logger.Info("late cancellations swept", "date", date.Format("2006-01-02"), "count", n)
	}
	return n, nil
}
