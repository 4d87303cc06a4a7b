package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/pkg/logger"
	"github.com/luminafin/campaigner/internal/worker"
)

// Sweeper runs the late-cancellation sweep over the sent ledger.
type Sweeper interface {
	SweepLateCancellations(ctx context.Context, date time.Time) (int, error)
}

// Purger drops expired staged-population rows.
type Purger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Handler processes queued pipeline work. The configuration snapshot is
// taken once per construction run, so every stage of that run sees one
// consistent view.
type Handler struct {
	cfg      *config.Config
	pipeline *worker.Pipeline
	sweeper  Sweeper
	purger   Purger

	// stagedRetention bounds how long scratch rows outlive their campaign
	// date before the purge drops them.
	stagedRetention time.Duration
}

func NewHandler(cfg *config.Config, pipeline *worker.Pipeline, sweeper Sweeper, purger Purger) *Handler {
	return &Handler{
		cfg:             cfg,
		pipeline:        pipeline,
		sweeper:         sweeper,
		purger:          purger,
		stagedRetention: 7 * 24 * time.Hour,
	}
}

// HandleConstructBucket runs one bucket's construction.
func (h *Handler) HandleConstructBucket(ctx context.Context, t *asynq.Task) error {
	var p ConstructBucketPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal construction payload: %w", asynq.SkipRetry)
	}
	// Cron triggers carry no date: they mean today.
	date := time.Now().UTC().Truncate(24 * time.Hour)
	if p.CampaignDate != "" {
		var err error
		date, err = time.Parse(dateLayout, p.CampaignDate)
		if err != nil {
			return fmt.Errorf("bad campaign date %q: %w", p.CampaignDate, asynq.SkipRetry)
		}
	}

	snap := h.cfg.Snapshot()
	logger.Info("queue: construction started", "bucket", p.Bucket, "date", p.CampaignDate)
	if err := h.pipeline.ConstructBucket(ctx, snap, p.Bucket, date); err != nil {
		logger.Error("queue: construction failed", "bucket", p.Bucket, "error", err.Error())
		return err
	}
	return nil
}

// HandleDispatchPage uploads one staged page.
func (h *Handler) HandleDispatchPage(ctx context.Context, t *asynq.Task) error {
	var p DispatchPagePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("unmarshal dispatch payload: %w", asynq.SkipRetry)
	}
	date, err := time.Parse(dateLayout, p.CampaignDate)
	if err != nil {
		return fmt.Errorf("bad campaign date %q: %w", p.CampaignDate, asynq.SkipRetry)
	}

	if err := h.pipeline.DispatchPage(ctx, p.Bucket, p.Vendor, date, p.Page); err != nil {
		logger.Error("queue: dispatch failed",
			"bucket", p.Bucket, "page", p.Page, "error", err.Error())
		return err
	}
	return nil
}

// HandleLedgerSweep soft-deletes sent entries for accounts that settled
// after submission.
func (h *Handler) HandleLedgerSweep(ctx context.Context, t *asynq.Task) error {
	var p SweepPayload
	date := time.Now().UTC().Truncate(24 * time.Hour)
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &p); err == nil && p.CampaignDate != "" {
			if d, perr := time.Parse(dateLayout, p.CampaignDate); perr == nil {
				date = d
			}
		}
	}
	n, err := h.sweeper.SweepLateCancellations(ctx, date)
	if err != nil {
		return err
	}
	logger.Info("queue: ledger sweep done", "date", date.Format(dateLayout), "flagged", n)
	return nil
}

// HandlePopulationPurge drops staged rows past the retention window.
func (h *Handler) HandlePopulationPurge(ctx context.Context, _ *asynq.Task) error {
	cutoff := time.Now().UTC().Add(-h.stagedRetention)
	n, err := h.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	logger.Info("queue: staged population purged",
		"cutoff", cutoff.Format(dateLayout), "rows", n)
	return nil
}
