package ops

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/service/tasktrack"
)

type fakeReader struct {
	task   *domain.CampaignTask
	events []domain.TaskEvent
}

func (f *fakeReader) Get(_ context.Context, bucket string, vendor domain.Vendor, _ time.Time) (*domain.CampaignTask, error) {
	if f.task == nil || f.task.BucketName != bucket || f.task.Vendor != vendor {
		return nil, tasktrack.ErrNotFound
	}
	return f.task, nil
}

func (f *fakeReader) History(_ context.Context, _ string) ([]domain.TaskEvent, error) {
	return f.events, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Buckets: []domain.BucketDef{
			{Name: "b1", Vendor: domain.VendorCallPilot, PageSize: 500},
		},
	}
}

func TestBucketStatus(t *testing.T) {
	pages := 3
	reader := &fakeReader{
		task: &domain.CampaignTask{
			ID:         "t1",
			BucketName: "b1",
			Vendor:     domain.VendorCallPilot,
			Status:     domain.TaskSent,
			PageCount:  &pages,
		},
		events: []domain.TaskEvent{
			{TaskID: "t1", Status: domain.TaskInitiated},
			{TaskID: "t1", Status: domain.TaskQueried},
		},
	}
	srv := NewServer(testConfig(), reader)

	req := httptest.NewRequest("GET", "/api/buckets/b1/status?date=2026-08-31", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, domain.TaskSent, resp.Status)
	assert.Equal(t, 3, *resp.PageCount)
	assert.Len(t, resp.Events, 2)
}

func TestBucketStatus_NotFound(t *testing.T) {
	srv := NewServer(testConfig(), &fakeReader{})

	req := httptest.NewRequest("GET", "/api/buckets/b1/status", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestBucketStatus_SubBucketNeedsVendor(t *testing.T) {
	srv := NewServer(testConfig(), &fakeReader{})

	req := httptest.NewRequest("GET", "/api/buckets/b1_scored/status", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, 400, rec.Code)

	req = httptest.NewRequest("GET", "/api/buckets/b1_scored/status?vendor=callpilot", nil)
	rec = httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)
	assert.Equal(t, 404, rec.Code)
}

func TestBucketStatus_BadDate(t *testing.T) {
	srv := NewServer(testConfig(), &fakeReader{})

	req := httptest.NewRequest("GET", "/api/buckets/b1/status?date=31-08-2026", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv := NewServer(testConfig(), &fakeReader{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.server.Handler.ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}
