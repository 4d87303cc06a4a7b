package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/luminafin/campaigner/internal/domain"
)

// Config holds all configuration for the application.
type Config struct {
	Database    DatabaseConfig     `yaml:"database"`
	Redis       RedisConfig        `yaml:"redis"`
	Worker      WorkerConfig       `yaml:"worker"`
	Buckets     []domain.BucketDef `yaml:"buckets"`
	Exclusions  ExclusionConfig    `yaml:"exclusions"`
	Experiments []ExperimentRule   `yaml:"experiments"`
	Dispatch    DispatchConfig     `yaml:"dispatch"`
	Staging     StagingConfig      `yaml:"staging"`
	Vendors     VendorConfig       `yaml:"vendors"`
	Alert       AlertConfig        `yaml:"alert"`
	Ops         OpsConfig          `yaml:"ops"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime string `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis connection settings for the staging cache,
// dispatch locks, and the asynq task queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WorkerConfig holds asynq worker-pool settings.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`

	// ConstructionCrons maps a bucket name to the cron spec of its daily
	// construction trigger (one trigger per bucket family).
	ConstructionCrons map[string]string `yaml:"construction_crons"`

	// SweepCron schedules the late-cancellation sweep over the sent ledger.
	SweepCron string `yaml:"sweep_cron"`

	// CleanupCron schedules the staged-population purge.
	CleanupCron string `yaml:"cleanup_cron"`
}

// ExclusionConfig toggles the eligibility selector's hard exclusions.
// A disabled exclusion is a no-op, never an error.
type ExclusionConfig struct {
	Blacklist    bool `yaml:"blacklist"`
	PromiseToPay bool `yaml:"promise_to_pay"`
	Refinancing  bool `yaml:"refinancing"`
	Autodebet    bool `yaml:"autodebet"`

	// PartnerWindows excludes partner accounts inside a DPD range,
	// keyed by partner code.
	PartnerWindows map[string]DPDWindow `yaml:"partner_windows"`
}

// DPDWindow is an inclusive days-past-due range.
type DPDWindow struct {
	MinDPD int `yaml:"min_dpd"`
	MaxDPD int `yaml:"max_dpd"`
}

// ExperimentRule is one versioned routing rule applied by the cohort router.
// Rules are applied in declaration order.
type ExperimentRule struct {
	Name   string `yaml:"name"`
	Bucket string `yaml:"bucket"`

	// Type is "tail" (deterministic last-digit routing) or "rank_split"
	// (scored / unscored arms).
	Type string `yaml:"type"`

	// Tail routing.
	TailDigits []int  `yaml:"tail_digits,omitempty"`
	Target     string `yaml:"target,omitempty"`
	Arm        string `yaml:"arm,omitempty"`

	// Rank-split routing.
	ScoredTarget   string `yaml:"scored_target,omitempty"`
	UnscoredTarget string `yaml:"unscored_target,omitempty"`
}

// DispatchConfig bounds vendor upload retries and timing. RequestTimeout
// bounds a single vendor call; MaxAttempts and backoff govern the retry
// policy layered above it.
type DispatchConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffBase    string `yaml:"backoff_base"`
	BackoffMax     string `yaml:"backoff_max"`
	RequestTimeout string `yaml:"request_timeout"`
	LockTTL        string `yaml:"lock_ttl"`
}

// StagingConfig controls the Redis staging cache.
type StagingConfig struct {
	TTL string `yaml:"ttl"`
}

// VendorConfig holds per-vendor API settings.
type VendorConfig struct {
	CallPilot VendorAPIConfig `yaml:"callpilot"`
	VoxLink   VendorAPIConfig `yaml:"voxlink"`
}

// VendorAPIConfig holds one vendor's endpoint and credentials.
type VendorAPIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

// AlertConfig holds the operator alert channel settings.
type AlertConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// OpsConfig holds the operator status API settings.
type OpsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("CALLPILOT_API_KEY"); v != "" {
		cfg.Vendors.CallPilot.APIKey = v
	}
	if v := os.Getenv("CALLPILOT_BASE_URL"); v != "" {
		cfg.Vendors.CallPilot.BaseURL = v
	}
	if v := os.Getenv("VOXLINK_API_KEY"); v != "" {
		cfg.Vendors.VoxLink.APIKey = v
	}
	if v := os.Getenv("VOXLINK_BASE_URL"); v != "" {
		cfg.Vendors.VoxLink.BaseURL = v
	}
	if v := os.Getenv("ALERT_WEBHOOK_URL"); v != "" {
		cfg.Alert.WebhookURL = v
	}
	if v := os.Getenv("OPS_LISTEN_ADDR"); v != "" {
		cfg.Ops.ListenAddr = v
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == "" {
		cfg.Database.ConnMaxLifetime = "5m"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 10
	}
	if cfg.Worker.SweepCron == "" {
		cfg.Worker.SweepCron = "0 21 * * *"
	}
	if cfg.Worker.CleanupCron == "" {
		cfg.Worker.CleanupCron = "30 23 * * *"
	}
	if cfg.Dispatch.MaxAttempts == 0 {
		cfg.Dispatch.MaxAttempts = 3
	}
	if cfg.Dispatch.BackoffBase == "" {
		cfg.Dispatch.BackoffBase = "2s"
	}
	if cfg.Dispatch.BackoffMax == "" {
		cfg.Dispatch.BackoffMax = "30s"
	}
	if cfg.Dispatch.RequestTimeout == "" {
		cfg.Dispatch.RequestTimeout = "30s"
	}
	if cfg.Dispatch.LockTTL == "" {
		cfg.Dispatch.LockTTL = "10m"
	}
	if cfg.Staging.TTL == "" {
		cfg.Staging.TTL = "6h"
	}
	if cfg.Ops.ListenAddr == "" {
		cfg.Ops.ListenAddr = ":8090"
	}
	for i := range cfg.Buckets {
		if cfg.Buckets[i].PageSize == 0 {
			cfg.Buckets[i].PageSize = 500
		}
	}
}

// Duration parses a duration string from config, returning fallback on error.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
