package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_http_requests_total",
			Help: "Total number of HTTP requests by route and status",
		},
		[]string{"route", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Search pipeline metrics
	SearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_searches_total",
			Help: "Total number of hybrid searches by outcome",
		},
		[]string{"outcome"},
	)

	SearchStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_search_stage_duration_seconds",
			Help:    "Duration of each search pipeline stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortex_semantic_cache_hits_total",
			Help: "Total number of semantic cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortex_semantic_cache_misses_total",
			Help: "Total number of semantic cache misses",
		},
	)

	// Ingestion metrics
	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_documents_ingested_total",
			Help: "Total number of documents ingested by collection",
		},
		[]string{"collection"},
	)

	PointsUpserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortex_points_upserted_total",
			Help: "Total number of chunk points upserted",
		},
	)

	// Job metrics
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_jobs_total",
			Help: "Total number of jobs by type and terminal status",
		},
		[]string{"type", "status"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vortex_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"type"},
	)

	// Security metrics
	RateLimitDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortex_rate_limit_denials_total",
			Help: "Total number of requests denied by the rate limiter",
		},
	)

	QuotaDenials = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortex_quota_denials_total",
			Help: "Total number of requests denied by quota",
		},
	)

	InjectionsDetected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_injections_detected_total",
			Help: "Total number of injection attempts detected by pattern",
		},
		[]string{"pattern"},
	)

	AccessDenied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "vortex_access_denied_total",
			Help: "Total number of RBAC/ABAC denials",
		},
	)

	AuditQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "vortex_audit_queue_depth",
			Help: "Current depth of the hot audit queue",
		},
	)

	AuditEntriesWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vortex_audit_entries_written_total",
			Help: "Total number of audit entries written by chain",
		},
		[]string{"chain"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(SearchesTotal)
	prometheus.MustRegister(SearchStageDuration)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(DocumentsIngested)
	prometheus.MustRegister(PointsUpserted)
	prometheus.MustRegister(JobsTotal)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(RateLimitDenials)
	prometheus.MustRegister(QuotaDenials)
	prometheus.MustRegister(InjectionsDetected)
	prometheus.MustRegister(AccessDenied)
	prometheus.MustRegister(AuditQueueDepth)
	prometheus.MustRegister(AuditEntriesWritten)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
