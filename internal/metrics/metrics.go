// Package metrics provides Prometheus instrumentation for the potionwatch service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "potionwatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// UpstreamRequestsTotal counts upstream API calls by endpoint and result.
	UpstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "upstream_requests_total",
			Help:      "Total upstream potion API requests by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)

	// UpstreamRequestDuration observes upstream call latency by endpoint.
	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "potionwatch",
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// DatasetRefreshesTotal counts dataset refresh cycles by result.
	DatasetRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "dataset_refreshes_total",
			Help:      "Total dataset refresh cycles by result.",
		},
		[]string{"result"},
	)

	// DatasetFrames tracks the number of level frames currently indexed.
	DatasetFrames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "potionwatch",
			Name:      "dataset_frames",
			Help:      "Number of level frames currently held in the time index.",
		},
	)

	// DatasetTickets tracks the number of transport tickets currently indexed.
	DatasetTickets = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "potionwatch",
			Name:      "dataset_tickets",
			Help:      "Number of transport tickets currently held in the index.",
		},
	)

	// ClockSeeksTotal counts explicit clock repositions.
	ClockSeeksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "clock_seeks_total",
			Help:      "Total explicit clock seeks.",
		},
	)

	// ClockTicksTotal counts playback driver advances.
	ClockTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "clock_ticks_total",
			Help:      "Total playback ticks applied to the virtual clock.",
		},
	)

	// PlaybackRunning reports whether playback is currently advancing (1) or paused (0).
	PlaybackRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "potionwatch",
			Name:      "playback_running",
			Help:      "Whether the playback driver is currently advancing the clock.",
		},
	)

	// AuditRunsTotal counts audit computations by mode and result.
	AuditRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "audit_runs_total",
			Help:      "Total audit day computations by mode (local, delegated) and result.",
		},
		[]string{"mode", "result"},
	)

	// AuditDuration observes audit computation latency.
	AuditDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "potionwatch",
			Name:      "audit_duration_seconds",
			Help:      "Audit day computation duration in seconds.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// AuditAlertsTotal counts discrepancy alerts raised by the audit engine.
	AuditAlertsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "audit_alerts_total",
			Help:      "Total discrepancy alerts raised.",
		},
	)

	// AlertDeliveriesTotal counts alert sink deliveries by result.
	AlertDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "alert_deliveries_total",
			Help:      "Total alert sink deliveries by result.",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "potionwatch",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// WSEventsTotal counts broadcast events by type.
	WSEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "potionwatch",
			Name:      "ws_events_total",
			Help:      "Total WebSocket events broadcast by type.",
		},
		[]string{"type"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "potionwatch", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "potionwatch", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "potionwatch", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "potionwatch", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "potionwatch", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "potionwatch", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		UpstreamRequestsTotal,
		UpstreamRequestDuration,
		DatasetRefreshesTotal,
		DatasetFrames,
		DatasetTickets,
		ClockSeeksTotal,
		ClockTicksTotal,
		PlaybackRunning,
		AuditRunsTotal,
		AuditDuration,
		AuditAlertsTotal,
		AlertDeliveriesTotal,
		ActiveWebSocketClients,
		WSEventsTotal,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
