// Package ops exposes the operator status API. It answers the one question
// the audit trail exists for: did bucket X get dispatched today, and if
// not, why.
package ops

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/domain"
	"github.com/luminafin/campaigner/internal/pkg/httputil"
	"github.com/luminafin/campaigner/internal/pkg/logger"
	"github.com/luminafin/campaigner/internal/service/tasktrack"
)

// TaskReader is the tracker surface the status API reads.
type TaskReader interface {
	Get(ctx context.Context, bucket string, vendor domain.Vendor, date time.Time) (*domain.CampaignTask, error)
	History(ctx context.Context, taskID string) ([]domain.TaskEvent, error)
}

// Server serves the operator status endpoints.
type Server struct {
	cfg    *config.Config
	tasks  TaskReader
	server *http.Server
}

func NewServer(cfg *config.Config, tasks TaskReader) *Server {
	s := &Server{cfg: cfg, tasks: tasks}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/api/buckets/{bucket}/status", s.handleBucketStatus)

	s.server = &http.Server{
		Addr:         cfg.Ops.ListenAddr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	logger.Info("ops: status API listening", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.OK(w, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Bucket     string             `json:"bucket"`
	Vendor     domain.Vendor      `json:"vendor"`
	Date       string             `json:"date"`
	Status     domain.TaskStatus  `json:"status"`
	RetryCount int                `json:"retry_count"`
	PageCount  *int               `json:"page_count,omitempty"`
	LastError  string             `json:"last_error,omitempty"`
	Events     []domain.TaskEvent `json:"events"`
}

// handleBucketStatus reports a bucket's task and its full event trail for a
// date (default today). Routed sub-buckets inherit their parent's vendor;
// for a sub-bucket name not in configuration, pass ?vendor= explicitly.
func (s *Server) handleBucketStatus(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if q := r.URL.Query().Get("date"); q != "" {
		parsed, err := time.Parse("2006-01-02", q)
		if err != nil {
			httputil.BadRequest(w, "date must be YYYY-MM-DD")
			return
		}
		date = parsed
	}

	vendor := domain.Vendor(r.URL.Query().Get("vendor"))
	if vendor == "" {
		def, ok := s.cfg.Snapshot().Bucket(bucket)
		if !ok {
			httputil.BadRequest(w, "unknown bucket, pass ?vendor=")
			return
		}
		vendor = def.Vendor
	}
	if !vendor.Valid() {
		httputil.BadRequest(w, "unknown vendor")
		return
	}

	task, err := s.tasks.Get(r.Context(), bucket, vendor, date)
	if errors.Is(err, tasktrack.ErrNotFound) {
		httputil.NotFound(w, "no task for bucket and date")
		return
	}
	if err != nil {
		logger.Error("ops: status lookup failed", "bucket", bucket, "error", err.Error())
		httputil.InternalError(w, err)
		return
	}

	events, err := s.tasks.History(r.Context(), task.ID)
	if err != nil {
		logger.Error("ops: event lookup failed", "task_id", task.ID, "error", err.Error())
		httputil.InternalError(w, err)
		return
	}

	httputil.OK(w, statusResponse{
		Bucket:     task.BucketName,
		Vendor:     task.Vendor,
		Date:       date.Format("2006-01-02"),
		Status:     task.Status,
		RetryCount: task.RetryCount,
		PageCount:  task.PageCount,
		LastError:  task.LastError,
		Events:     events,
	})
}
