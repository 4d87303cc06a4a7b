package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/luminafin/campaigner/internal/alert"
	"github.com/luminafin/campaigner/internal/config"
	"github.com/luminafin/campaigner/internal/ops"
	"github.com/luminafin/campaigner/internal/pkg/distlock"
	"github.com/luminafin/campaigner/internal/pkg/logger"
	"github.com/luminafin/campaigner/internal/repository/postgres"
	"github.com/luminafin/campaigner/internal/service/dispatch"
	"github.com/luminafin/campaigner/internal/service/eligibility"
	"github.com/luminafin/campaigner/internal/service/routing"
	"github.com/luminafin/campaigner/internal/service/sorting"
	"github.com/luminafin/campaigner/internal/service/tasktrack"
	"github.com/luminafin/campaigner/internal/staging"
	"github.com/luminafin/campaigner/internal/tasks"
	"github.com/luminafin/campaigner/internal/vendorapi"
	"github.com/luminafin/campaigner/internal/worker"
)

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		logger.Error("config load failed", "error", err.Error())
		os.Exit(1)
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		logger.Error("database connection failed", "error", err.Error())
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	snap := cfg.Snapshot()

	// Stores.
	taskRepo := postgres.NewTaskRepo(db)
	populationRepo := postgres.NewPopulationRepo(db)
	sourceRepo := postgres.NewAccountSourceRepo(db)
	sentRepo := postgres.NewSentRepo(db)
	notSentRepo := postgres.NewNotSentRepo(db)
	experimentRepo := postgres.NewExperimentRepo(db)
	rankFeed := postgres.NewRankFeedRepo(db)
	cache := staging.NewCache(redisClient, snap.StagingTTL)

	// Services.
	tracker := tasktrack.NewTracker(taskRepo)
	selector := eligibility.NewSelector(sourceRepo, populationRepo, notSentRepo)
	router := routing.NewRouter(populationRepo, experimentRepo, rankFeed)
	sorter := sorting.NewSorter(populationRepo, rankFeed)
	notifier := alert.NewNotifier(cfg.Alert)

	vendorClient, err := vendorapi.NewMux(cfg.Vendors, snap.DispatchRequestTimeout)
	if err != nil {
		logger.Error("vendor client init failed", "error", err.Error())
		os.Exit(1)
	}

	newLock := func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, ttl)
	}
	dispatcher := dispatch.NewDispatcher(sentRepo, notSentRepo, cache, vendorClient, tracker, notifier, newLock,
		dispatch.Options{
			MaxAttempts: snap.DispatchMaxAttempts,
			BackoffBase: snap.DispatchBackoffBase,
			BackoffMax:  snap.DispatchBackoffMax,
			LockTTL:     snap.DispatchLockTTL,
		})

	queueClient := tasks.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	defer queueClient.Close()

	pipeline := worker.NewPipeline(selector, router, sorter, tracker, populationRepo,
		cache, dispatcher, notifier, queueClient, snap.DispatchMaxAttempts)

	handler := tasks.NewHandler(cfg, pipeline, dispatcher, populationRepo)
	server := tasks.NewServer(cfg.Redis, cfg.Worker, handler)
	scheduler := tasks.NewScheduler(cfg.Redis, cfg.Worker, time.UTC)
	opsServer := ops.NewServer(cfg, tracker)

	if err := server.Start(); err != nil {
		logger.Error("worker pool start failed", "error", err.Error())
		os.Exit(1)
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler stopped", "error", err.Error())
		}
	}()
	go func() {
		if err := opsServer.Start(); err != nil {
			logger.Error("ops server stopped", "error", err.Error())
		}
	}()

	logger.Info("campaigner worker up",
		"buckets", len(cfg.Buckets),
		"concurrency", cfg.Worker.Concurrency)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	scheduler.Stop()
	server.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops shutdown", "error", err.Error())
	}
	logger.Info("worker stopped")
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config.yaml"
}

func openDB(cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(config.Duration(cfg.ConnMaxLifetime, 30*time.Minute))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
