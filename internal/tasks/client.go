package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// Client enqueues pipeline work on the durable queue. It satisfies
// worker.Enqueuer.
type Client struct {
	client *asynq.Client
}

// NewClient creates the enqueueing client against the given Redis backend.
func NewClient(redisAddr, password string, db int) *Client {
	return &Client{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     redisAddr,
			Password: password,
			DB:       db,
		}),
	}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.client.Close() }

// EnqueueConstruction schedules one bucket's construction run. The task ID
// is keyed on (bucket, date) so a double trigger within the dedup window
// collapses into one run.
func (c *Client) EnqueueConstruction(ctx context.Context, bucket string, date time.Time) error {
	payload, err := json.Marshal(ConstructBucketPayload{
		Bucket:       bucket,
		CampaignDate: date.Format(dateLayout),
	})
	if err != nil {
		return fmt.Errorf("marshal construction payload: %w", err)
	}
	task := asynq.NewTask(TypeConstructBucket, payload,
		asynq.Queue(QueueConstruction),
		asynq.MaxRetry(3),
		asynq.Timeout(TimeoutConstruction),
		asynq.TaskID(fmt.Sprintf("construct:%s:%s", bucket, date.Format(dateLayout))),
		asynq.Retention(24*time.Hour),
	)
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		if err == asynq.ErrTaskIDConflict {
			logger.Info("construction already queued", "bucket", bucket)
			return nil
		}
		return fmt.Errorf("enqueue construction: %w", err)
	}
	return nil
}

// EnqueueDispatchPage schedules one page's vendor upload.
func (c *Client) EnqueueDispatchPage(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time, page int) error {
	payload, err := json.Marshal(DispatchPagePayload{
		Bucket:       bucket,
		Vendor:       vendor,
		CampaignDate: date.Format(dateLayout),
		Page:         page,
	})
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}
	task := asynq.NewTask(TypeDispatchPage, payload,
		asynq.Queue(QueueDispatch),
		asynq.MaxRetry(5),
		asynq.Timeout(TimeoutDispatch),
	)
	if _, err := c.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("enqueue dispatch for %s page %d: %w", bucket, page, err)
	}
	return nil
}
