package vendorapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/httpretry"
)

func testBatch() *domain.PayloadBatch {
	return &domain.PayloadBatch{
		Vendor:       domain.VendorCallPilot,
		BucketName:   "b1",
		CampaignDate: "2026-08-31",
		Page:         0,
		TaskName:     "b1_20260831",
		Records: []domain.CallRecord{
			{AccountID: "a1", PaymentID: "p1", PhoneNumber: "+628123456789", FullName: "Budi Santoso"},
			{AccountID: "a2", PaymentID: "p2", PhoneNumber: "+628123456790", FullName: "Siti Rahma"},
		},
	}
}

func noRetryClient() httpretry.HTTPDoer {
	return httpretry.NewRetryClient(&http.Client{Timeout: 2 * time.Second}, 1).
		WithBackoff(time.Millisecond, time.Millisecond)
}

func TestCallPilotUploadBatch(t *testing.T) {
	var gotAuth string
	var gotReq callPilotUploadRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/v1/campaigns/upload" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		json.NewEncoder(w).Encode(callPilotUploadResponse{TaskID: "cp-77", Accepted: 2})
	}))
	defer srv.Close()

	client := NewCallPilotClient(config.VendorAPIConfig{BaseURL: srv.URL, APIKey: "secret"}, noRetryClient())
	result, err := client.UploadBatch(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if !result.Success || result.AcceptedCount != 2 || result.VendorTaskID != "cp-77" {
		t.Errorf("unexpected result: %+v", result)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotReq.CampaignName != "b1_20260831" || len(gotReq.Contacts) != 2 {
		t.Errorf("unexpected request: %+v", gotReq)
	}
}

func TestCallPilotUploadBatch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusForbidden)
	}))
	defer srv.Close()

	client := NewCallPilotClient(config.VendorAPIConfig{BaseURL: srv.URL, APIKey: "secret"}, noRetryClient())
	result, err := client.UploadBatch(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if result.Success {
		t.Error("expected failed result on 403")
	}
	if result.Error == "" {
		t.Error("expected error detail in result")
	}
}

func TestVoxLinkUploadBatch(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		if r.URL.Path != "/api/v2/imports" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(voxLinkImportResponse{ImportID: "vx-12", Loaded: 2, Status: "loaded"})
	}))
	defer srv.Close()

	client := NewVoxLinkClient(config.VendorAPIConfig{BaseURL: srv.URL, APIKey: "vox-secret"}, noRetryClient())
	result, err := client.UploadBatch(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if !result.Success || result.VendorTaskID != "vx-12" || result.AcceptedCount != 2 {
		t.Errorf("unexpected result: %+v", result)
	}
	if gotKey != "vox-secret" {
		t.Errorf("api key header = %q", gotKey)
	}
}

func TestVoxLinkUploadBatch_RejectedOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(voxLinkImportResponse{ImportID: "vx-13", Status: "rejected"})
	}))
	defer srv.Close()

	client := NewVoxLinkClient(config.VendorAPIConfig{BaseURL: srv.URL, APIKey: "k"}, noRetryClient())
	result, err := client.UploadBatch(context.Background(), testBatch())
	if err != nil {
		t.Fatalf("UploadBatch: %v", err)
	}
	if result.Success {
		t.Error("a rejected import must not count as success")
	}
}

func TestNewFactory(t *testing.T) {
	cfg := config.VendorConfig{
		CallPilot: config.VendorAPIConfig{BaseURL: "http://cp", APIKey: "a"},
		VoxLink:   config.VendorAPIConfig{BaseURL: "http://vx", APIKey: "b"},
	}
	for _, v := range []domain.Vendor{domain.VendorCallPilot, domain.VendorVoxLink} {
		if _, err := New(v, cfg, time.Second); err != nil {
			t.Errorf("New(%s): %v", v, err)
		}
	}
	if _, err := New(domain.Vendor("legacy"), cfg, time.Second); err == nil {
		t.Error("expected error for unknown vendor")
	}
}
