package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Transform metrics
var (
	TransformsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_transforms_total",
			Help: "Total number of transform calls by media kind, operation and outcome",
		},
		[]string{"kind", "operation", "status"},
	)

	TransformDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_transform_duration_seconds",
			Help:    "Transform duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"kind", "operation"},
	)

	TransformBytesSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_transform_bytes_saved_total",
			Help: "Bytes saved by successful transforms (original minus derivative, when positive)",
		},
		[]string{"kind"},
	)

	ThumbnailsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_thumbnails_generated_total",
			Help: "Total number of video thumbnails written",
		},
	)
)

// External process metrics
var (
	FFmpegProcessesRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_ffmpeg_processes_running",
			Help: "Number of ffmpeg/ffprobe child processes currently running",
		},
	)

	FFmpegExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_ffmpeg_exits_total",
			Help: "Total number of child process exits by tool and status",
		},
		[]string{"tool", "status"}, // "ok", "error", "timeout", "canceled"
	)

	ProbeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_probe_duration_seconds",
			Help:    "ffprobe duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// Upload metrics
var (
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_uploads_total",
			Help: "Total number of client uploads by mode and status",
		},
		[]string{"mode", "status"}, // mode: "single", "chunked"
	)

	UploadChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_upload_chunks_total",
			Help: "Total number of chunks sent or skipped by the upload client",
		},
		[]string{"status"}, // "sent", "skipped", "error"
	)

	UploadRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_upload_retries_total",
			Help: "Total number of whole-file upload retries",
		},
	)

	UploadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_upload_bytes_total",
			Help: "Total number of payload bytes acknowledged by the server",
		},
	)

	LedgerWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_ledger_writes_total",
			Help: "Total number of chunk ledger writes",
		},
		[]string{"operation", "status"}, // operation: "append", "clear"
	)

	ReceivedChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_received_chunks_total",
			Help: "Total number of chunks received by the upload endpoint",
		},
		[]string{"status"}, // "stored", "duplicate", "rejected"
	)

	AssembledUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_assembled_uploads_total",
			Help: "Total number of server-side chunk assemblies",
		},
		[]string{"trigger", "status"}, // trigger: "auto", "finalize"
	)
)

// Worker pool metrics
var (
	WorkerPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_worker_pool_size",
			Help: "Maximum number of concurrent transforms",
		},
	)

	WorkerPoolInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_worker_pool_in_use",
			Help: "Number of worker slots currently held",
		},
	)

	WorkerPoolWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_worker_pool_wait_seconds",
			Help:    "Time spent waiting for a worker slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 60},
		},
	)
)

// Persistence metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_pipeline_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	MediaRecordsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_media_records",
			Help: "Number of stored media records by kind",
		},
		[]string{"kind"},
	)

	DerivativesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_derivatives",
			Help: "Number of stored derivative records",
		},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_filesystem_retry_attempts_total",
			Help: "Total number of retried filesystem operations after a stale handle",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_pipeline_filesystem_stale_errors_total",
			Help: "Total number of ESTALE errors observed",
		},
		[]string{"operation"},
	)
)

// Memory pressure metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_pipeline_memory_paused",
			Help: "Whether new transforms are held back by memory pressure (1 = paused)",
		},
	)

	MemoryPausesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_pipeline_memory_pauses_total",
			Help: "Total number of times memory pressure paused new transforms",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_pipeline_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
