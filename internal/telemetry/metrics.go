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

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

var (
	// APIActiveConnections tracks in-flight HTTP requests.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pa_api_active_connections",
		Help: "Number of in-flight HTTP requests.",
	})

	// APIRequestDuration buckets HTTP request latency by method, route, status.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pa_api_request_duration_seconds",
		Help:    "HTTP request latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	// APIRequestsTotal counts HTTP requests by method, route, status.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_api_requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"method", "route", "status"})

	// SchedulerTicksTotal counts scheduler loop iterations.
	SchedulerTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pa_scheduler_ticks_total",
		Help: "Total scheduler loop iterations.",
	})

	// SchedulerPromotionsTotal counts due schedules promoted into the controller.
	SchedulerPromotionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pa_scheduler_promotions_total",
		Help: "Total scheduled tasks promoted to current_task.",
	})

	// SchedulerCleanupRowsTotal counts rows removed by the periodic GC pass.
	SchedulerCleanupRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pa_scheduler_cleanup_rows_total",
		Help: "Total completed task rows deleted by periodic cleanup.",
	})

	// AdmissionDecisionsTotal counts request_playback outcomes by accepted/denied.
	AdmissionDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_admission_decisions_total",
		Help: "request_playback decisions by outcome.",
	}, []string{"outcome"})

	// PreemptionsTotal counts preemptions by the preempted task's type.
	PreemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_preemptions_total",
		Help: "Preemptions by the type of task that was preempted.",
	}, []string{"preempted_type"})

	// EmergencyActivationsTotal counts emergency activations.
	EmergencyActivationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pa_emergency_activations_total",
		Help: "Total emergency broadcast activations.",
	})

	// ZombieKillsTotal counts watchdog-driven forced stops.
	ZombieKillsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pa_zombie_kills_total",
		Help: "Total sessions forcibly stopped by the heartbeat watchdog.",
	})

	// QueueDepth reports the current count of queued scheduled tasks.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pa_schedule_queue_depth",
		Help: "Current number of scheduled tasks waiting in the controller queue.",
	})

	// DatabaseQueryDuration buckets gorm operation latency by operation and table.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pa_db_query_duration_seconds",
		Help:    "Database operation latency in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts gorm operation errors by operation and kind.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_db_errors_total",
		Help: "Total database operation errors.",
	}, []string{"operation", "kind"})

	// DatabaseConnectionsActive reports the current open connection pool size.
	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pa_db_connections_active",
		Help: "Current number of open database connections.",
	})
)
