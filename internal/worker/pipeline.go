// Package worker drives a bucket's construction run end to end and hands
// staged pages to the dispatch queue. One invocation processes one bucket
// for one campaign date; all cross-stage state lives in the relational
// store and the staging cache, never in process memory, so a crashed run
// resumes from its last durable task event.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/logger"
	"github.com/luminafin/campaigner/internal/service/dispatch"
	"github.com/luminafin/campaigner/internal/service/eligibility"
	"github.com/luminafin/campaigner/internal/service/payload"
	"github.com/luminafin/campaigner/internal/service/tasktrack"
)

// Selector produces and stages the day's candidate population.
type Selector interface {
	SelectCandidates(ctx context.Context, def domain.BucketDef, excl config.ExclusionConfig, asOf time.Time) ([]domain.AccountKey, error)
}

// Router partitions a staged bucket into sub-populations.
type Router interface {
	Route(ctx context.Context, bucketName string, date time.Time, rules []config.ExperimentRule) (map[string][]domain.AccountKey, error)
}

// Sorter orders a bucket's staged population and persists sort_order.
type Sorter interface {
	Sort(ctx context.Context, bucket string, date time.Time) ([]domain.AccountKey, error)
}

// Tracker is the task state machine surface the pipeline drives.
type Tracker interface {
	EnsureTask(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time) (*domain.CampaignTask, error)
	// Get loads without bumping retry_count; a missing task yields
	// tasktrack.ErrNotFound.
	Get(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time) (*domain.CampaignTask, error)
	RecordEvent(ctx context.Context, task *domain.CampaignTask, status domain.TaskStatus, dataCount *int, errorMessage string) error
	RecordPageEvent(ctx context.Context, task *domain.CampaignTask, status domain.TaskStatus, page int, dataCount int) error
	MarkBatched(ctx context.Context, task *domain.CampaignTask, pageCount int) error
	CheckComplete(ctx context.Context, task *domain.CampaignTask, pageStatus domain.TaskStatus) error
	Fail(ctx context.Context, task *domain.CampaignTask, errorMessage string) error
}

// PopulationLister reads a bucket's staged rows, ordered by sort_order.
type PopulationLister interface {
	ListByBucket(ctx context.Context, bucket string, date time.Time) ([]domain.StagedAccount, error)
}

// Stager writes constructed pages into the staging cache.
type Stager interface {
	Put(ctx context.Context, bucket string, page int, batch *domain.PayloadBatch) error
	MarkReady(ctx context.Context, bucket string) error
}

// PageSender is the dispatch surface the pipeline uses: page upload plus the
// exclusion ledger writer.
type PageSender interface {
	Send(ctx context.Context, task *domain.CampaignTask, page int) error
	RecordExcluded(ctx context.Context, accounts []domain.StagedAccount, reason domain.ExclusionReason) error
}

// Alerter is the operator signal channel.
type Alerter interface {
	TaskFailure(ctx context.Context, task *domain.CampaignTask, lastError string)
	EmptyBucket(ctx context.Context, bucket string, date time.Time)
}

// Enqueuer schedules follow-up work on the durable queue.
type Enqueuer interface {
	EnqueueDispatchPage(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time, page int) error
	EnqueueConstruction(ctx context.Context, bucket string, date time.Time) error
}

// Pipeline ties the construction stages together for one bucket run.
type Pipeline struct {
	selector   Selector
	router     Router
	sorter     Sorter
	tracker    Tracker
	population PopulationLister
	stager     Stager
	sender     PageSender
	alerter    Alerter
	enqueuer   Enqueuer

	// maxTaskRetries bounds re-invocations per (bucket, date). Past it the
	// task self-cancels; a new calendar day re-opens the bucket.
	maxTaskRetries int
}

func NewPipeline(selector Selector, router Router, sorter Sorter, tracker Tracker, population PopulationLister, stager Stager, sender PageSender, alerter Alerter, enqueuer Enqueuer, maxTaskRetries int) *Pipeline {
	if maxTaskRetries <= 0 {
		maxTaskRetries = 3
	}
	return &Pipeline{
		selector:       selector,
		router:         router,
		sorter:         sorter,
		tracker:        tracker,
		population:     population,
		stager:         stager,
		sender:         sender,
		alerter:        alerter,
		enqueuer:       enqueuer,
		maxTaskRetries: maxTaskRetries,
	}
}

// ConstructBucket runs the construction pipeline for a bucket and date.
// Re-invocation is idempotent: a terminal task is a no-op, a non-terminal
// one resumes from its last durable state. A returned error means a
// transient failure the scheduler should retry.
func (p *Pipeline) ConstructBucket(ctx context.Context, snap config.Snapshot, bucketName string, date time.Time) error {
	def, ok := snap.Bucket(bucketName)
	if !ok {
		return fmt.Errorf("unknown bucket %q", bucketName)
	}

	task, err := p.tracker.EnsureTask(ctx, bucketName, def.Vendor, date)
	if err != nil {
		return fmt.Errorf("ensure task: %w", err)
	}

	var firstErr error
	switch {
	case task.Status.IsTerminal():
		logger.Info("construction no-op for terminal task",
			"bucket", bucketName, "status", string(task.Status))
	case task.RetryCount > p.maxTaskRetries:
		msg := fmt.Sprintf("retry budget exhausted after %d attempts", task.RetryCount)
		if err := p.tracker.Fail(ctx, task, msg); err != nil {
			return err
		}
		p.alerter.TaskFailure(ctx, task, msg)
	case task.Status == domain.TaskInitiated:
		firstErr = p.constructFresh(ctx, snap, task, def, date)
	default:
		// Resumed run: the staged population and any routed sub-bucket
		// tasks already exist durably.
		firstErr = p.constructOne(ctx, task, def, date)
	}

	// Routed sub-buckets are first-class tasks. Drive every one that is
	// still non-terminal here, on the fresh run and on every retry, so a
	// transient failure in one sub-bucket never strands it when the parent
	// task is re-invoked or already terminal.
	for _, sub := range subBucketTargets(snap.Experiments, bucketName) {
		subTask, err := p.tracker.Get(ctx, sub, def.Vendor, date)
		if errors.Is(err, tasktrack.ErrNotFound) {
			continue
		}
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("load sub-bucket task %s: %w", sub, err)
			}
			continue
		}
		if subTask.Status.IsTerminal() {
			continue
		}
		subDef := def
		subDef.Name = sub
		if err := p.constructOne(ctx, subTask, subDef, date); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// constructFresh runs the stages that happen exactly once per bucket run:
// candidate selection and cohort routing. Routed sub-bucket tasks are seeded
// with their QUERIED counts; their construction runs in the caller's
// re-drive loop.
func (p *Pipeline) constructFresh(ctx context.Context, snap config.Snapshot, task *domain.CampaignTask, def domain.BucketDef, date time.Time) error {
	keys, err := p.selector.SelectCandidates(ctx, def, snap.Exclusions, date)
	if errors.Is(err, eligibility.ErrNoCandidates) {
		zero := 0
		if err := p.tracker.RecordEvent(ctx, task, domain.TaskQueried, &zero, ""); err != nil {
			return err
		}
		if err := p.tracker.Fail(ctx, task, "no candidates for bucket"); err != nil {
			return err
		}
		p.alerter.EmptyBucket(ctx, def.Name, date)
		return nil
	}
	if err != nil {
		return fmt.Errorf("select candidates: %w", err)
	}
	logger.Info("construction: candidates staged", "bucket", def.Name, "count", len(keys))

	partition, err := p.router.Route(ctx, def.Name, date, snap.Experiments)
	if err != nil {
		return fmt.Errorf("route population: %w", err)
	}

	for _, sub := range sortedBuckets(partition) {
		if sub == def.Name {
			continue
		}
		subTask, err := p.tracker.EnsureTask(ctx, sub, def.Vendor, date)
		if err != nil {
			return fmt.Errorf("ensure sub-bucket task: %w", err)
		}
		if subTask.Status != domain.TaskInitiated {
			continue
		}
		n := len(partition[sub])
		if err := p.tracker.RecordEvent(ctx, subTask, domain.TaskQueried, &n, ""); err != nil {
			return err
		}
	}

	n := len(partition[def.Name])
	if err := p.tracker.RecordEvent(ctx, task, domain.TaskQueried, &n, ""); err != nil {
		return err
	}
	if n == 0 {
		// Everything routed away. Terminal without an operator alert: the
		// accounts live on in the sub-bucket tasks.
		return p.tracker.Fail(ctx, task, "population fully routed to sub-buckets")
	}
	return p.constructOne(ctx, task, def, date)
}

// constructOne takes one (sub-)bucket's task from QUERIED through STORED and
// enqueues its pages for dispatch.
func (p *Pipeline) constructOne(ctx context.Context, task *domain.CampaignTask, def domain.BucketDef, date time.Time) error {
	if task.Status == domain.TaskInitiated {
		// A sub-bucket task whose run crashed between routing and its
		// QUERIED event. Its staged rows are already durable.
		rows, err := p.population.ListByBucket(ctx, def.Name, date)
		if err != nil {
			return fmt.Errorf("list staged population: %w", err)
		}
		n := len(rows)
		if err := p.tracker.RecordEvent(ctx, task, domain.TaskQueried, &n, ""); err != nil {
			return err
		}
		if n == 0 {
			return p.tracker.Fail(ctx, task, "no staged rows for bucket")
		}
	}

	if task.Status == domain.TaskQueried {
		order, err := p.sorter.Sort(ctx, def.Name, date)
		if err != nil {
			return fmt.Errorf("sort population: %w", err)
		}
		n := len(order)
		if err := p.tracker.RecordEvent(ctx, task, domain.TaskSorted, &n, ""); err != nil {
			return err
		}
	}

	if task.Status == domain.TaskSorted {
		if err := p.tracker.RecordEvent(ctx, task, domain.TaskBatchingProcess, nil, ""); err != nil {
			return err
		}
	}

	rows, err := p.population.ListByBucket(ctx, def.Name, date)
	if err != nil {
		return fmt.Errorf("list staged population: %w", err)
	}

	if task.Status == domain.TaskBatchingProcess {
		pages := (len(rows) + def.PageSize - 1) / def.PageSize
		if err := p.tracker.MarkBatched(ctx, task, pages); err != nil {
			return err
		}
	}
	if task.PageCount == nil {
		return fmt.Errorf("task %s has no page count at %s", task.ID, task.Status)
	}
	pageCount := *task.PageCount

	staged, err := p.stagePages(ctx, task, def, date, rows, pageCount)
	if err != nil {
		return err
	}

	if task.Status == domain.TaskBatchingProcessed {
		if err := p.tracker.CheckComplete(ctx, task, domain.TaskConstructedBatch); err != nil {
			// Every page was just staged or consumed, so a mismatch is a
			// data-integrity failure, not a transient one.
			if ferr := p.tracker.Fail(ctx, task, err.Error()); ferr != nil {
				return ferr
			}
			p.alerter.TaskFailure(ctx, task, err.Error())
			return nil
		}
		if err := p.tracker.RecordEvent(ctx, task, domain.TaskConstructed, nil, ""); err != nil {
			return err
		}
	}

	if task.Status == domain.TaskConstructed {
		if err := p.tracker.RecordEvent(ctx, task, domain.TaskStored, nil, ""); err != nil {
			return err
		}
	}

	if err := p.stager.MarkReady(ctx, def.Name); err != nil {
		return fmt.Errorf("mark bucket ready: %w", err)
	}

	for _, page := range staged {
		if err := p.enqueuer.EnqueueDispatchPage(ctx, def.Name, def.Vendor, date, page); err != nil {
			return fmt.Errorf("enqueue dispatch for page %d: %w", page, err)
		}
	}
	logger.Info("construction: bucket staged",
		"bucket", def.Name, "pages", pageCount, "staged", len(staged))
	return nil
}

// stagePages builds and stages every page of the pinned partition. Pages
// whose rows all fail validation, or that fall past the end of a population
// that shrank mid-run, are consumed in place: their accounts are ledgered as
// not sent and both per-page events are recorded with a zero count.
func (p *Pipeline) stagePages(ctx context.Context, task *domain.CampaignTask, def domain.BucketDef, date time.Time, rows []domain.StagedAccount, pageCount int) ([]int, error) {
	var staged []int
	for page := 0; page < pageCount; page++ {
		start := page * def.PageSize
		if start >= len(rows) {
			if err := p.consumePage(ctx, task, page, nil); err != nil {
				return nil, err
			}
			continue
		}
		end := start + def.PageSize
		if end > len(rows) {
			end = len(rows)
		}
		slice := rows[start:end]

		batch, err := payload.Build(def.Vendor, def.Name, date, page, slice)
		if errors.Is(err, payload.ErrEmptyPage) {
			logger.Warn("construction: page skipped, no valid records",
				"bucket", def.Name, "page", page, "rows", len(slice))
			if err := p.consumePage(ctx, task, page, slice); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("build page %d: %w", page, err)
		}

		if dropped := droppedRows(slice, batch.Records); len(dropped) > 0 {
			if err := p.sender.RecordExcluded(ctx, dropped, domain.ReasonEmptyPayload); err != nil {
				return nil, err
			}
		}

		if err := p.stager.Put(ctx, def.Name, page, batch); err != nil {
			return nil, fmt.Errorf("stage page %d: %w", page, err)
		}
		if err := p.tracker.RecordPageEvent(ctx, task, domain.TaskConstructedBatch, page, len(batch.Records)); err != nil {
			return nil, err
		}
		staged = append(staged, page)
	}
	return staged, nil
}

// consumePage closes out a page with nothing to dispatch so the
// completeness checks still see every page of the pinned partition.
func (p *Pipeline) consumePage(ctx context.Context, task *domain.CampaignTask, page int, rows []domain.StagedAccount) error {
	if len(rows) > 0 {
		if err := p.sender.RecordExcluded(ctx, rows, domain.ReasonEmptyPayload); err != nil {
			return err
		}
	}
	if err := p.tracker.RecordPageEvent(ctx, task, domain.TaskConstructedBatch, page, 0); err != nil {
		return err
	}
	return p.tracker.RecordPageEvent(ctx, task, domain.TaskSentBatch, page, 0)
}

// DispatchPage sends one staged page for a bucket's task. A lost staged page
// re-enqueues construction so the page is rebuilt from the pinned partition.
func (p *Pipeline) DispatchPage(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time, page int) error {
	task, err := p.tracker.Get(ctx, bucket, vendor, date)
	if err != nil {
		return fmt.Errorf("load task for dispatch: %w", err)
	}

	err = p.sender.Send(ctx, task, page)
	if err == nil {
		return nil
	}
	if isStagedPageLost(err) {
		if qerr := p.enqueuer.EnqueueConstruction(ctx, bucket, date); qerr != nil {
			return fmt.Errorf("requeue construction after lost page: %w", qerr)
		}
		logger.Warn("dispatch: staged page lost, construction requeued",
			"bucket", bucket, "page", page)
		return nil
	}
	return err
}

func isStagedPageLost(err error) bool {
	return errors.Is(err, dispatch.ErrStagedPageLost)
}

func droppedRows(rows []domain.StagedAccount, kept []domain.CallRecord) []domain.StagedAccount {
	sent := make(map[string]bool, len(kept))
	for _, rec := range kept {
		sent[rec.PaymentID] = true
	}
	var dropped []domain.StagedAccount
	for _, row := range rows {
		if !sent[row.PaymentID] {
			dropped = append(dropped, row)
		}
	}
	return dropped
}

// subBucketTargets lists the sub-bucket names the experiment rules can
// route a bucket's population into.
func subBucketTargets(rules []config.ExperimentRule, bucket string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && name != bucket && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, r := range rules {
		if r.Bucket != bucket {
			continue
		}
		add(r.Target)
		add(r.ScoredTarget)
		add(r.UnscoredTarget)
	}
	return out
}

func sortedBuckets(partition map[string][]domain.AccountKey) []string {
	names := make([]string, 0, len(partition))
	for name := range partition {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
