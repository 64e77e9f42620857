package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveSessions is the number of currently connected publishers.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtmp_probe_active_sessions",
		Help: "Number of active RTMP ingest sessions",
	})

	// SessionsTotal counts sessions by how they ended.
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtmp_probe_sessions_total",
		Help: "Total number of RTMP ingest sessions",
	}, []string{"status"})

	// BytesRead counts raw bytes read off accepted connections.
	BytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_probe_bytes_read_total",
		Help: "Total bytes read from publishers",
	})

	// SessionDuration records how long a session stayed connected.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rtmp_probe_session_duration_seconds",
		Help:    "Ingest session duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to 512s
	})

	// DiagnosticsBySeverity is the count of diagnostics findings, by
	// severity, from the most recent check_all of any session: each
	// session's tick overwrites the values, so with several concurrent
	// sessions it reflects whichever one ticked last, not a sum.
	DiagnosticsBySeverity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rtmp_probe_diagnostics_active",
		Help: "Diagnostics findings by severity from the most recently checked session",
	}, []string{"severity"})

	// RateLimitRejections counts connections rejected before handshake
	// by the per-IP rate limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_probe_rate_limit_rejections_total",
		Help: "Total connections rejected by rate limiting",
	})

	// ConnectionLimitRejections counts connections rejected before
	// handshake by the connection limiter.
	ConnectionLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtmp_probe_connection_limit_rejections_total",
		Help: "Total connections rejected by connection limits",
	})
)

// RecordSessionStart records when a session starts.
func RecordSessionStart() {
	ActiveSessions.Inc()
}

// RecordSessionEnd records when a session ends, either cleanly or
// with an error, and the duration it ran for.
func RecordSessionEnd(status string, durationSeconds float64) {
	ActiveSessions.Dec()
	SessionsTotal.WithLabelValues(status).Inc()
	SessionDuration.Observe(durationSeconds)
}

// RecordBytesRead adds n bytes to the cumulative bytes-read counter.
func RecordBytesRead(n int) {
	BytesRead.Add(float64(n))
}

// RecordRateLimitRejection records a rate limit rejection.
func RecordRateLimitRejection() {
	RateLimitRejections.Inc()
}

// RecordConnectionLimitRejection records a connection limit rejection.
func RecordConnectionLimitRejection() {
	ConnectionLimitRejections.Inc()
}

// SetDiagnosticsCounts updates the current error/warning/info gauges
// from a session's freshly rebuilt diagnostics buffer.
func SetDiagnosticsCounts(errors, warnings, infos int) {
	DiagnosticsBySeverity.WithLabelValues("error").Set(float64(errors))
	DiagnosticsBySeverity.WithLabelValues("warning").Set(float64(warnings))
	DiagnosticsBySeverity.WithLabelValues("info").Set(float64(infos))
}
