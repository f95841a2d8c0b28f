/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Watcher gateway
	WatcherPath   string        // WebSocket upgrade path watchers connect to
	AuthTimeout   time.Duration // window between connect and a valid auth message
	InternalToken string        // shared secret for the internal control plane
	ReminderLead  time.Duration // how far ahead of the scheduled time reminders go out
	DeletionSweep time.Duration // interval between deletion scheduler sweeps
	ScanBatchSize int           // files per flush during a full-volume scan
	LogBufferSize int           // capacity of the in-memory watcher log ring
	MetricsBind   string        // address of the dedicated metrics listener; empty disables it

	// Redis cache configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// NATS event publishing
	NATSURL     string
	NATSSubject string // subject prefix for published events

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// S3 report archive configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// External collaborators
	CatalogURL     string // Radarr-compatible catalog base URL
	CatalogAPIKey  string
	MediaServerURL string // Plex/Jellyfin-compatible base URL
	MediaServerKey string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("SCANNARR_ENV", "development"),
		HTTPBind:    getEnv("SCANNARR_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("SCANNARR_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("SCANNARR_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("SCANNARR_DB_DSN", ""),

		WatcherPath:   getEnv("SCANNARR_WATCHER_PATH", "/ws/watcher"),
		AuthTimeout:   time.Duration(getEnvInt("SCANNARR_AUTH_TIMEOUT_SECONDS", 10)) * time.Second,
		InternalToken: getEnv("SCANNARR_INTERNAL_TOKEN", ""),
		ReminderLead:  time.Duration(getEnvInt("SCANNARR_REMINDER_LEAD_HOURS", 24)) * time.Hour,
		DeletionSweep: time.Duration(getEnvInt("SCANNARR_DELETION_SWEEP_SECONDS", 60)) * time.Second,
		ScanBatchSize: getEnvInt("SCANNARR_SCAN_BATCH_SIZE", 50),
		LogBufferSize: getEnvInt("SCANNARR_LOG_BUFFER_SIZE", 10000),
		MetricsBind:   getEnv("SCANNARR_METRICS_BIND", "127.0.0.1:9000"),

		RedisAddr:     getEnv("SCANNARR_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("SCANNARR_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("SCANNARR_REDIS_DB", 0),

		NATSURL:     getEnv("SCANNARR_NATS_URL", ""),
		NATSSubject: getEnv("SCANNARR_NATS_SUBJECT", "scannarr"),

		TracingEnabled:    getEnvBool("SCANNARR_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SCANNARR_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SCANNARR_TRACING_SAMPLE_RATE", 1.0),

		S3AccessKeyID:     getEnv("SCANNARR_S3_ACCESS_KEY_ID", os.Getenv("AWS_ACCESS_KEY_ID")),
		S3SecretAccessKey: getEnv("SCANNARR_S3_SECRET_ACCESS_KEY", os.Getenv("AWS_SECRET_ACCESS_KEY")),
		S3Region:          getEnv("SCANNARR_S3_REGION", "us-east-1"),
		S3Bucket:          getEnv("SCANNARR_S3_BUCKET", ""),
		S3Endpoint:        getEnv("SCANNARR_S3_ENDPOINT", ""),
		S3UsePathStyle:    getEnvBool("SCANNARR_S3_USE_PATH_STYLE", false),

		CatalogURL:     getEnv("SCANNARR_CATALOG_URL", ""),
		CatalogAPIKey:  getEnv("SCANNARR_CATALOG_API_KEY", ""),
		MediaServerURL: getEnv("SCANNARR_MEDIA_SERVER_URL", ""),
		MediaServerKey: getEnv("SCANNARR_MEDIA_SERVER_KEY", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SCANNARR_DB_DSN must be provided")
	}

	if cfg.AuthTimeout <= 0 {
		return nil, fmt.Errorf("SCANNARR_AUTH_TIMEOUT_SECONDS must be positive")
	}

	if cfg.ScanBatchSize <= 0 {
		return nil, fmt.Errorf("SCANNARR_SCAN_BATCH_SIZE must be positive")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.InternalToken == "" {
		return nil, fmt.Errorf("SCANNARR_INTERNAL_TOKEN must be set in production")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
