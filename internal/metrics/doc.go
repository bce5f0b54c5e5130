// Package metrics provides Prometheus instrumentation for the media pipeline.
//
// All metrics are prefixed with "media_pipeline_" and registered through
// promauto, so importing the package is enough to expose them on the default
// registry.
//
// # Metric Categories
//
// ## HTTP Metrics
//
//   - HTTPRequestsTotal / HTTPRequestDuration / HTTPRequestsInFlight
//
// ## Transform Metrics
//
// One observation per transform call, labelled by media kind, operation and
// outcome ("success", or the error kind):
//   - TransformsTotal, TransformDuration, TransformBytesSaved
//
// ## External Process Metrics
//
//   - FFmpegProcessesRunning: live ffmpeg/ffprobe children
//   - FFmpegExitsTotal: exits by tool and status ("ok", "error", "timeout")
//   - ProbeDuration
//
// ## Upload Metrics
//
// Recorded by both the upload client and the server-side receiver:
//   - UploadChunksTotal, UploadRetriesTotal, UploadBytesTotal,
//     UploadsTotal, LedgerWritesTotal, ReceivedChunksTotal
//
// ## Worker Pool and Filesystem
//
//   - WorkerPoolInUse, WorkerPoolWaitDuration
//   - FilesystemRetry* counters from NewFilesystemObserver
package metrics
