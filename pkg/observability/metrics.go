package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Entity metadata provider metrics
	MetadataOperationsTotal   *prometheus.CounterVec
	MetadataOperationDuration *prometheus.HistogramVec
	MetadataErrorsTotal       *prometheus.CounterVec

	// Firehose metrics
	FirehoseMessagesTotal   *prometheus.CounterVec
	FirehoseQueueDelay      prometheus.Histogram
	FirehoseProcessDuration *prometheus.HistogramVec
	FirehoseMissingOrgTotal prometheus.Counter
	FirehoseWorkersActive   prometheus.Gauge

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Contact lookup metrics
	ContactLookupsTotal   *prometheus.CounterVec
	ContactLookupDuration prometheus.Histogram

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Business metrics
	OrganizationsConfigured prometheus.Gauge
	AuditRecordsExpired     prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgportal_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgportal_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		MetadataOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgportal_metadata_operations_total",
				Help: "Total number of entity metadata operations",
			},
			[]string{"operation", "entity_type", "backend", "status"},
		),
		MetadataOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgportal_metadata_operation_duration_seconds",
				Help:    "Entity metadata operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "entity_type", "backend"},
		),
		MetadataErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgportal_metadata_errors_total",
				Help: "Total number of entity metadata errors",
			},
			[]string{"operation", "entity_type", "backend", "error_type"},
		),

		FirehoseMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgportal_firehose_messages_total",
				Help: "Total number of firehose messages by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		FirehoseQueueDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orgportal_firehose_queue_delay_seconds",
				Help:    "Delay between webhook enqueue and processing",
				Buckets: []float64{.1, .5, 1, 5, 15, 60, 300, 900, 3600},
			},
		),
		FirehoseProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgportal_firehose_process_duration_seconds",
				Help:    "Per-message processing duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event"},
		),
		FirehoseMissingOrgTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgportal_firehose_missing_organization_total",
				Help: "Messages acknowledged because no configured organization matched",
			},
		),
		FirehoseWorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orgportal_firehose_workers_active",
				Help: "Number of running firehose workers",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgportal_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgportal_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		ContactLookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgportal_contact_lookups_total",
				Help: "Corporate contact lookups by outcome",
			},
			[]string{"outcome"},
		),
		ContactLookupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "orgportal_contact_lookup_duration_seconds",
				Help:    "Corporate contact lookup duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orgportal_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orgportal_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		OrganizationsConfigured: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orgportal_organizations_configured",
				Help: "Number of organizations in the portal directory",
			},
		),
		AuditRecordsExpired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orgportal_audit_records_expired_total",
				Help: "Audit records removed by the retention job",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.MetadataOperationsTotal,
		m.MetadataOperationDuration,
		m.MetadataErrorsTotal,
		m.FirehoseMessagesTotal,
		m.FirehoseQueueDelay,
		m.FirehoseProcessDuration,
		m.FirehoseMissingOrgTotal,
		m.FirehoseWorkersActive,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.ContactLookupsTotal,
		m.ContactLookupDuration,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.OrganizationsConfigured,
		m.AuditRecordsExpired,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					path = template
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
