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

// VoxLinkClient talks to the VoxLink dialer import API. VoxLink is a
// two-field envelope (task metadata plus a flat record array) authenticated
// with an X-Api-Key header, and reports partial acceptance per upload.
type VoxLinkClient struct {
	baseURL    string
	apiKey     string
	httpClient httpretry.HTTPDoer
}

func NewVoxLinkClient(cfg config.VendorAPIConfig, httpClient httpretry.HTTPDoer) *VoxLinkClient {
	return &VoxLinkClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
}

type voxLinkImportRequest struct {
	Task struct {
		Name string `json:"name"`
		Date string `json:"date"`
		Page int    `json:"page"`
	} `json:"task"`
	Records []domain.CallRecord `json:"records"`
}

type voxLinkImportResponse struct {
	ImportID string `json:"import_id"`
	Loaded   int    `json:"loaded"`
	Rejected int    `json:"rejected"`
	Status   string `json:"status"`
}

// UploadBatch submits one page to the VoxLink import endpoint. A response
// with status "rejected" counts as a failed upload even on HTTP 200.
func (c *VoxLinkClient) UploadBatch(ctx context.Context, batch *domain.PayloadBatch) (*domain.UploadResult, error) {
	var reqBody voxLinkImportRequest
	reqBody.Task.Name = batch.TaskName
	reqBody.Task.Date = batch.CampaignDate
	reqBody.Task.Page = batch.Page
	reqBody.Records = batch.Records

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling import request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v2/imports", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)
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
			Error:      fmt.Sprintf("voxlink returned %d: %s", resp.StatusCode, string(respBody)),
		}, nil
	}

	var parsed voxLinkImportResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if parsed.Status == "rejected" {
		return &domain.UploadResult{
			Success:    false,
			UploadedAt: time.Now().UTC(),
			Error:      fmt.Sprintf("voxlink rejected import %s", parsed.ImportID),
		}, nil
	}
	return &domain.UploadResult{
		Success:       true,
		AcceptedCount: parsed.Loaded,
		VendorTaskID:  parsed.ImportID,
		UploadedAt:    time.Now().UTC(),
	}, nil
}
