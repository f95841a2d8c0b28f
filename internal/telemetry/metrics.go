/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package telemetry holds Prometheus metrics, the HTTP metrics
// middleware and OpenTelemetry tracing setup.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scannarr_api_request_duration_seconds",
		Help:    "HTTP request latency by method, endpoint and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scannarr_api_requests_total",
		Help: "HTTP requests by method, endpoint and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scannarr_api_active_connections",
		Help: "In-flight HTTP requests.",
	})
)

// Watcher gateway metrics.
var (
	WatcherConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scannarr_watcher_connections",
		Help: "Open watcher WebSocket connections, authenticated or not.",
	})

	WatchersAuthenticated = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scannarr_watchers_authenticated",
		Help: "Watchers currently authenticated.",
	})

	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scannarr_messages_received_total",
		Help: "Inbound protocol messages by type.",
	}, []string{"type"})

	MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scannarr_messages_sent_total",
		Help: "Outbound protocol messages by type.",
	}, []string{"type"})

	DispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scannarr_dispatch_duration_seconds",
		Help:    "Handler latency by message type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	DispatchFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scannarr_dispatch_failures_total",
		Help: "Message handler failures by message type.",
	}, []string{"type"})

	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scannarr_auth_failures_total",
		Help: "Rejected watcher authentication attempts.",
	})
)

// Scan and deletion metrics.
var (
	ScanSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scannarr_scan_sessions_active",
		Help: "Scan sessions currently open.",
	})

	ScanFilesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scannarr_scan_files_processed_total",
		Help: "File reports processed across all scans.",
	})

	DeletionsByStatus = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scannarr_deletion_transitions_total",
		Help: "Deletion state transitions by resulting status.",
	}, []string{"status"})

	DeletionBytesFreed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scannarr_deletion_bytes_freed_total",
		Help: "Bytes reported freed by completed deletions.",
	})
)

// Infrastructure metrics.
var (
	DatabaseUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scannarr_database_up",
		Help: "1 when the last database liveness check succeeded.",
	})

	CacheAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scannarr_cache_available",
		Help: "1 when the Redis cache circuit is closed.",
	})
)

// Handler exposes the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
