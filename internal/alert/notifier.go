// Package alert delivers operator notifications over an outbound webhook.
// Delivery is fire-and-forget: a dead alert channel must never stall or
// fail the pipeline, so every send happens on its own goroutine and
// failures are only logged.
package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// Notifier posts alert events to the configured operator webhook.
type Notifier struct {
	webhookURL string
	channel    string
	httpClient *http.Client
}

func NewNotifier(cfg config.AlertConfig) *Notifier {
	return &Notifier{
		webhookURL: cfg.WebhookURL,
		channel:    cfg.Channel,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type alertEvent struct {
	Channel string            `json:"channel,omitempty"`
	Event   string            `json:"event"`
	Text    string            `json:"text"`
	Fields  map[string]string `json:"fields,omitempty"`
	At      time.Time         `json:"at"`
}

// TaskFailure signals a terminal FAILURE of a campaign task.
func (n *Notifier) TaskFailure(_ context.Context, task *domain.CampaignTask, lastError string) {
	n.post(alertEvent{
		Event: "task_failure",
		Text: fmt.Sprintf("campaign task failed: bucket %s vendor %s date %s",
			task.BucketName, task.Vendor, task.CampaignDate.Format("2006-01-02")),
		Fields: map[string]string{
			"task_id": task.ID,
			"bucket":  task.BucketName,
			"vendor":  string(task.Vendor),
			"error":   lastError,
		},
	})
}

// EmptyBucket signals that a bucket produced zero candidates for the day.
func (n *Notifier) EmptyBucket(_ context.Context, bucket string, date time.Time) {
	n.post(alertEvent{
		Event: "empty_bucket",
		Text:  fmt.Sprintf("bucket %s has no candidates for %s", bucket, date.Format("2006-01-02")),
		Fields: map[string]string{
			"bucket": bucket,
			"date":   date.Format("2006-01-02"),
		},
	})
}

// StagingAnomaly signals a staged page lost after the bucket was marked
// ready.
func (n *Notifier) StagingAnomaly(_ context.Context, bucket string, page int) {
	n.post(alertEvent{
		Event: "staging_anomaly",
		Text:  fmt.Sprintf("staged page %d for bucket %s is missing after readiness", page, bucket),
		Fields: map[string]string{
			"bucket": bucket,
			"page":   fmt.Sprintf("%d", page),
		},
	})
}

// post delivers asynchronously. The caller's context is deliberately not
// used: an alert outlives the operation that raised it.
func (n *Notifier) post(event alertEvent) {
	if n.webhookURL == "" {
		logger.Warn("alert webhook not configured, dropping alert", "event", event.Event, "text", event.Text)
		return
	}
	event.Channel = n.channel
	event.At = time.Now().UTC()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		body, err := json.Marshal(event)
		if err != nil {
			logger.Error("alert marshal failed", "event", event.Event, "error", err.Error())
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
		if err != nil {
			logger.Error("alert request failed", "event", event.Event, "error", err.Error())
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			logger.Error("alert delivery failed", "event", event.Event, "error", err.Error())
			return
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			logger.Error("alert webhook rejected event", "event", event.Event, "status", resp.StatusCode)
		}
	}()
}
