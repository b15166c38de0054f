package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Blob storage metrics
	BlobOperationsTotal   *prometheus.CounterVec
	BlobOperationDuration *prometheus.HistogramVec

	// Access resolution metrics
	AccessChecksTotal    *prometheus.CounterVec
	AccessWalkDepth      prometheus.Histogram
	AccessRulesGranted   prometheus.Counter
	AccessRulesRevoked   prometheus.Counter

	// File manager metrics
	FileOperationsTotal *prometheus.CounterVec
	TrashExpiredTotal   prometheus.Counter

	// Versioning metrics
	VersionsCreatedTotal  prometheus.Counter
	VersionsRestoredTotal *prometheus.CounterVec
	VersionsPrunedTotal   prometheus.Counter

	// Audit metrics
	AuditEventsTotal      *prometheus.CounterVec
	AuditWriteFailures    prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedepot_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filedepot_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		BlobOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedepot_blob_operations_total",
				Help: "Total number of blob storage operations",
			},
			[]string{"operation", "status"},
		),
		BlobOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "filedepot_blob_operation_duration_seconds",
				Help:    "Blob storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedepot_access_checks_total",
				Help: "Total number of effective-access resolutions",
			},
			[]string{"kind", "result"},
		),
		AccessWalkDepth: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filedepot_access_walk_depth",
				Help:    "Number of ancestor folders visited per resolution",
				Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
			},
		),
		AccessRulesGranted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filedepot_access_rules_granted_total",
				Help: "Total number of access rules granted",
			},
		),
		AccessRulesRevoked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filedepot_access_rules_revoked_total",
				Help: "Total number of access rules revoked",
			},
		),
		FileOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedepot_file_operations_total",
				Help: "Total number of file manager operations",
			},
			[]string{"operation", "status"},
		),
		TrashExpiredTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filedepot_trash_expired_total",
				Help: "Total number of trashed files removed by expiry",
			},
		),
		VersionsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filedepot_versions_created_total",
				Help: "Total number of file versions created",
			},
		),
		VersionsRestoredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedepot_versions_restored_total",
				Help: "Total number of version restore attempts",
			},
			[]string{"status"},
		),
		VersionsPrunedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filedepot_versions_pruned_total",
				Help: "Total number of versions removed by retention",
			},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filedepot_audit_events_total",
				Help: "Total number of audit events written",
			},
			[]string{"action", "success"},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "filedepot_audit_write_failures_total",
				Help: "Total number of swallowed audit write failures",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "filedepot_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "filedepot_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BlobOperationsTotal,
		m.BlobOperationDuration,
		m.AccessChecksTotal,
		m.AccessWalkDepth,
		m.AccessRulesGranted,
		m.AccessRulesRevoked,
		m.FileOperationsTotal,
		m.TrashExpiredTotal,
		m.VersionsCreatedTotal,
		m.VersionsRestoredTotal,
		m.VersionsPrunedTotal,
		m.AuditEventsTotal,
		m.AuditWriteFailures,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps an HTTP handler with request metrics
func (m *Metrics) InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
