package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// Scheduler registers the daily triggers: one construction cron per bucket
// family, the ledger sweep, and the staged-population purge. Each trigger is
// idempotent downstream; re-invocation on an already terminal task is a
// no-op after the state check.
type Scheduler struct {
	scheduler *asynq.Scheduler
	workerCfg config.WorkerConfig
}

func NewScheduler(redisCfg config.RedisConfig, workerCfg config.WorkerConfig, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		&asynq.SchedulerOpts{Location: loc},
	)
	return &Scheduler{scheduler: scheduler, workerCfg: workerCfg}
}

// Run registers every trigger and blocks until shutdown.
func (s *Scheduler) Run() error {
	if err := s.register(); err != nil {
		return fmt.Errorf("register schedules: %w", err)
	}
	logger.Info("queue: scheduler starting")
	return s.scheduler.Run()
}

// Stop shuts the scheduler down.
func (s *Scheduler) Stop() {
	s.scheduler.Shutdown()
}

func (s *Scheduler) register() error {
	for bucket, spec := range s.workerCfg.ConstructionCrons {
		payload, err := json.Marshal(ConstructBucketPayload{Bucket: bucket})
		if err != nil {
			return fmt.Errorf("marshal trigger for %s: %w", bucket, err)
		}
		entryID, err := s.scheduler.Register(spec, asynq.NewTask(
			TypeConstructBucket, payload,
			asynq.Queue(QueueConstruction),
			asynq.MaxRetry(3),
			asynq.Timeout(TimeoutConstruction),
		))
		if err != nil {
			return fmt.Errorf("register construction trigger for %s: %w", bucket, err)
		}
		logger.Info("queue: construction trigger registered",
			"bucket", bucket, "cron", spec, "entry", entryID)
	}

	if _, err := s.scheduler.Register(s.workerCfg.SweepCron, asynq.NewTask(
		TypeLedgerSweep, nil,
		asynq.Queue(QueueMaintenance),
		asynq.Timeout(TimeoutMaintenance),
	)); err != nil {
		return fmt.Errorf("register ledger sweep: %w", err)
	}

	if _, err := s.scheduler.Register(s.workerCfg.CleanupCron, asynq.NewTask(
		TypePopulationPurge, nil,
		asynq.Queue(QueueMaintenance),
		asynq.Timeout(TimeoutMaintenance),
	)); err != nil {
		return fmt.Errorf("register population purge: %w", err)
	}
	return nil
}
