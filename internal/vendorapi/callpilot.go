package vendorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/httpretry"
)

// CallPilotClient talks to the CallPilot campaign upload API. CallPilot
// expects one JSON document per page with the campaign name and contact list
// inline, authenticated with a bearer token.
type CallPilotClient struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

func NewCallPilotClient(cfg config.VendorAPIConfig, httpClient httpretry.HTTPDoer) *CallPilotClient {
	return &CallPilotClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

type callPilotUploadRequest struct {
	CampaignName string              `json:"campaign_name"`
	CampaignDate string              `json:"campaign_date"`
	Page         int                 `json:"page"`
	Contacts     []domain.CallRecord `json:"contacts"`
}

type callPilotUploadResponse struct {
	TaskID   string `json:"task_id"`
	Accepted int    `json:"accepted"`
	Message  string `json:"message"`
}

// UploadBatch submits one page of contacts as a CallPilot campaign upload.
func (c *CallPilotClient) UploadBatch(ctx context.Context, batch *domain.PayloadBatch) (*domain.UploadResult, error) {
	reqBody := callPilotUploadRequest{
		CampaignName: batch.TaskName,
		CampaignDate: batch.CampaignDate,
		Page:         batch.Page,
		Contacts:     batch.Records,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling upload request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/campaigns/upload", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &domain.UploadResult{
			Success:    false,
			UploadedAt: time.Now().UTC(),
			Error:      fmt.Sprintf("callpilot returned %d: %s", resp.StatusCode, string(respBody)),
		}, nil
	}

	var parsed callPilotUploadResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &domain.UploadResult{
		Success:       true,
		AcceptedCount: parsed.Accepted,
		VendorTaskID:  parsed.TaskID,
		UploadedAt:    time.Now().UTC(),
	}, nil
}
