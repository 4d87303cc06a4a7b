package tasks

import (
	"context"

	"github.com/hibiken/asynq"

	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/pkg/logger"
)

// Server runs the worker pool that processes queued pipeline work.
type Server struct {
	server  *asynq.Server
	handler *Handler
}

// NewServer creates the processing server. Dispatch outranks construction
// so staged pages drain before new buckets are built; maintenance runs in
// the gaps.
func NewServer(redisCfg config.RedisConfig, workerCfg config.WorkerConfig, handler *Handler) *Server {
	server := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		},
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				QueueDispatch:     6,
				QueueConstruction: 3,
				QueueMaintenance:  1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
				logger.Error("queue: task errored",
					"type", task.Type(), "error", err.Error())
			}),
		},
	)
	return &Server{server: server, handler: handler}
}

// Start registers the handlers and runs the worker pool until Stop.
func (s *Server) Start() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeConstructBucket, s.handler.HandleConstructBucket)
	mux.HandleFunc(TypeDispatchPage, s.handler.HandleDispatchPage)
	mux.HandleFunc(TypeLedgerSweep, s.handler.HandleLedgerSweep)
	mux.HandleFunc(TypePopulationPurge, s.handler.HandlePopulationPurge)

	logger.Info("queue: worker pool starting")
	return s.server.Start(mux)
}

// Stop drains in-flight work and shuts the pool down.
func (s *Server) Stop() {
	s.server.Shutdown()
	logger.Info("queue: worker pool stopped")
}
