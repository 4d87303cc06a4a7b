// Package tasks defines the durable queue layer: task types, payloads, the
// enqueueing client, the processing server, and the daily cron scheduler.
// One queued unit is one bucket's construction or one page's dispatch;
// workers share no in-process state.
package tasks

import (
	"time"

	"github.com/luminafin/campaigner/internal/domain"
)

// Task types.
const (
	TypeConstructBucket = "campaign:construct"
	TypeDispatchPage    = "campaign:dispatch"
	TypeLedgerSweep     = "ledger:sweep"
	TypePopulationPurge = "population:purge"
)

// Queues. Dispatch outranks construction so staged pages drain before new
// buckets are built.
const (
	QueueDispatch     = "dispatch"
	QueueConstruction = "construction"
	QueueMaintenance  = "maintenance"
)

// Timeouts per unit of work.
const (
	TimeoutConstruction = 30 * time.Minute
	TimeoutDispatch     = 10 * time.Minute
	TimeoutMaintenance  = 15 * time.Minute
)

// ConstructBucketPayload triggers one bucket's construction run.
type ConstructBucketPayload struct {
	Bucket       string `json:"bucket"`
	CampaignDate string `json:"campaign_date"`
}

// DispatchPagePayload triggers one page's vendor upload.
type DispatchPagePayload struct {
	Bucket       string        `json:"bucket"`
	Vendor       domain.Vendor `json:"vendor"`
	CampaignDate string        `json:"campaign_date"`
	Page         int           `json:"page"`
}

// SweepPayload triggers the late-cancellation sweep for a date.
type SweepPayload struct {
	CampaignDate string `json:"campaign_date"`
}

const dateLayout = "2006-01-02"
