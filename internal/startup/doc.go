// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// All configuration is loaded from environment variables via [LoadConfig]:
//
//   - UPLOAD_DIR: Where assembled uploads are stored (default: /uploads)
//   - OUTPUT_DIR: Where processed derivatives are written (default: /output)
//   - DATABASE_DIR: Path to database directory (default: /database)
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_ENABLED: Serve /metrics (default: true)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - FFMPEG_PATH, FFPROBE_PATH: Tool binaries (default: looked up in PATH)
//   - TRANSCODE_TIMEOUT: Limit for one ffmpeg invocation (default: 30m)
//   - PROBE_TIMEOUT: Limit for one ffprobe invocation (default: 30s)
//   - TRANSCODE_WORKERS: Concurrent transforms (default: derived from CPUs)
//   - AUTO_ASSEMBLE: Assemble chunked uploads on the last chunk (default: true)
//   - MAX_UPLOAD_BYTES: Largest accepted upload (default: 10 GiB)
//   - MEMORY_LIMIT, MEMORY_RATIO: Derive GOMEMLIMIT from the container limit
//     (read by the memory package before configuration is loaded)
//
// Upload, output and database directories are created when missing and
// must be writable.
//
// # Build Information
//
// Version, Commit and BuildTime are injected via ldflags and exposed via
// [GetBuildInfo].
//
// # Lifecycle Logging
//
// [LogDatabaseInit], [LogTranscoderInit], [LogImageInit], [LogHTTPRoutes],
// [LogServerStarted], [LogShutdownInitiated] and [LogShutdownComplete] print
// the sectioned startup and shutdown log.
package startup
