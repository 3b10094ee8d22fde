package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type Config struct {
	DatabaseURL    string        // PIPEFLOW_DATABASE_URL (optional, empty = in-memory store)
	GRPCAddr       string        // PIPEFLOW_GRPC_ADDR (default ":9090")
	HTTPAddr       string        // PIPEFLOW_HTTP_ADDR (default ":8000")
	NATSURL        string        // PIPEFLOW_NATS_URL (optional, empty = no events)
	AuthToken      string        // PIPEFLOW_AUTH_TOKEN (optional, empty = auth disabled)
	AllowedOrigins []string      // PIPEFLOW_ALLOWED_ORIGINS (comma-separated CORS origins)
	ValidatorURL   string        // PIPEFLOW_VALIDATOR_URL (optional; http(s):// or grpc:// remote validator)
	SubmitTimeout  time.Duration // PIPEFLOW_SUBMIT_TIMEOUT (default 10s)
	LogLevel       slog.Level    // PIPEFLOW_LOG_LEVEL (default "info")
	SessionIdle    time.Duration // PIPEFLOW_SESSION_IDLE (default 30m; 0 = never evict)

	// Auto-validation settings (require NATS)
	AutoValidateDelay time.Duration // PIPEFLOW_AUTOVALIDATE_DELAY (default 0 = disabled)
	CycleHook         string        // PIPEFLOW_CYCLE_HOOK (shell command run when a pipeline stops being a DAG)
	CycleHookTimeout  time.Duration // PIPEFLOW_CYCLE_HOOK_TIMEOUT (default 30s)

	// Sync settings
	SyncInterval   time.Duration // PIPEFLOW_SYNC_INTERVAL (default 3m; 0 = disabled)
	SyncS3Bucket   string        // PIPEFLOW_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // PIPEFLOW_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // PIPEFLOW_SYNC_S3_REGION (default "us-east-1")
	SyncS3Key      string        // PIPEFLOW_SYNC_S3_KEY (default "pipeflow/pipelines.jsonl")
	SyncGitRepo    string        // PIPEFLOW_SYNC_GIT_REPO (enables git when set; path to clone)
	SyncGitFile    string        // PIPEFLOW_SYNC_GIT_FILE (default "pipelines.jsonl")
	SyncGitBranch  string        // PIPEFLOW_SYNC_GIT_BRANCH (default "main")
}

// DefaultAllowedOrigins is the CORS allow-list used when none is configured.
const DefaultAllowedOrigins = "http://localhost:3000,http://127.0.0.1:3000,http://localhost:3001"

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:    os.Getenv("PIPEFLOW_DATABASE_URL"),
		GRPCAddr:       envOrDefault("PIPEFLOW_GRPC_ADDR", ":9090"),
		HTTPAddr:       envOrDefault("PIPEFLOW_HTTP_ADDR", ":8000"),
		NATSURL:        os.Getenv("PIPEFLOW_NATS_URL"),
		AuthToken:      os.Getenv("PIPEFLOW_AUTH_TOKEN"),
		AllowedOrigins: splitList(envOrDefault("PIPEFLOW_ALLOWED_ORIGINS", DefaultAllowedOrigins)),
		ValidatorURL:   os.Getenv("PIPEFLOW_VALIDATOR_URL"),
		CycleHook:      os.Getenv("PIPEFLOW_CYCLE_HOOK"),
		SyncS3Bucket:   os.Getenv("PIPEFLOW_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("PIPEFLOW_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("PIPEFLOW_SYNC_S3_REGION", "us-east-1"),
		SyncS3Key:      envOrDefault("PIPEFLOW_SYNC_S3_KEY", "pipeflow/pipelines.jsonl"),
		SyncGitRepo:    os.Getenv("PIPEFLOW_SYNC_GIT_REPO"),
		SyncGitFile:    envOrDefault("PIPEFLOW_SYNC_GIT_FILE", "pipelines.jsonl"),
		SyncGitBranch:  envOrDefault("PIPEFLOW_SYNC_GIT_BRANCH", "main"),
	}

	var err error
	if c.SubmitTimeout, err = parseDuration("PIPEFLOW_SUBMIT_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if c.SubmitTimeout <= 0 {
		return nil, fmt.Errorf("PIPEFLOW_SUBMIT_TIMEOUT must be positive")
	}
	if c.SyncInterval, err = parseDuration("PIPEFLOW_SYNC_INTERVAL", "3m"); err != nil {
		return nil, err
	}
	if c.SessionIdle, err = parseDuration("PIPEFLOW_SESSION_IDLE", "30m"); err != nil {
		return nil, err
	}
	if c.AutoValidateDelay, err = parseDuration("PIPEFLOW_AUTOVALIDATE_DELAY", "0s"); err != nil {
		return nil, err
	}
	if c.CycleHookTimeout, err = parseDuration("PIPEFLOW_CYCLE_HOOK_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if err := c.LogLevel.UnmarshalText([]byte(envOrDefault("PIPEFLOW_LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("PIPEFLOW_LOG_LEVEL: %w", err)
	}

	return c, nil
}

func parseDuration(key, fallback string) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
