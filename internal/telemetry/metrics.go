/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playplan_api_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playplan_api_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playplan_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	// WebSocketConnections tracks open plan event streams.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "playplan_websocket_connections",
		Help: "Open plan event websocket connections.",
	})

	// ScheduleRunsTotal counts scheduler invocations by result.
	ScheduleRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playplan_schedule_runs_total",
		Help: "Scheduler invocations by result (ok, empty, invalid, too_many).",
	}, []string{"result"})

	// SchedulePeriods observes how many periods a schedule produced.
	SchedulePeriods = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "playplan_schedule_periods",
		Help:    "Number of periods produced per schedule.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	// PlaylistFetchTotal counts upstream playlist fetches.
	PlaylistFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playplan_playlist_fetch_total",
		Help: "Upstream playlist fetches by result.",
	}, []string{"result"})

	// CacheHitsTotal counts cache hits by kind.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playplan_cache_hits_total",
		Help: "Cache hits by kind.",
	}, []string{"kind"})

	// CacheMissesTotal counts cache misses by kind.
	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playplan_cache_misses_total",
		Help: "Cache misses by kind.",
	}, []string{"kind"})

	// RateLimitedTotal counts rejected requests.
	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "playplan_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})

	// DatabaseQueryDuration tracks gorm operation latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playplan_database_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "playplan_database_errors_total",
		Help: "Failed database operations by operation and kind.",
	}, []string{"operation", "kind"})

	// DatabaseConnections reports connection pool state.
	DatabaseConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playplan_database_connections",
		Help: "Database connection pool state (open, in_use, idle).",
	}, []string{"state"})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
