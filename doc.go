// Package main provides the entry point for the media pipeline server.
//
// The server accepts uploads, single or chunked and resumable, stores them
// with their metadata, and runs image, video and audio transforms on request.
// Video encodes are planned from a probe of the source: its complexity and
// motion decide codec, quality and resolution within an optional size and
// time budget.
//
// # Application Lifecycle
//
//  1. Configuration Loading: Reads environment variables and validates directories
//  2. Database Initialization: Opens the SQLite record store
//  3. Component Initialization:
//     - libvips for image encoding, with a pure Go fallback
//     - ffmpeg runner and ffprobe prober
//     - Orchestrator with a bounded worker pool
//     - Metrics collector for persistence gauges
//  4. HTTP Server Setup: Configures routes, middleware, and starts server
//  5. Graceful Shutdown: Handles SIGINT/SIGTERM, stops all components cleanly
//
// # HTTP API
//
//   - POST /api/upload, /api/upload/chunk, /api/upload/finalize
//   - GET /api/upload/status, DELETE /api/upload/{id}
//   - POST /api/process, /api/process/batch; GET /api/inspect
//   - GET /api/records, /api/records/{id}, /api/stats
//   - GET /health, /healthz, /livez, /readyz, /version, /metrics
//
// # Environment Variables
//
// See [media-pipeline/internal/startup] for the full list. The most common:
//
//   - UPLOAD_DIR: Where uploads are stored (default: /uploads)
//   - OUTPUT_DIR: Where derivatives are written (default: /output)
//   - DATABASE_DIR: Directory for SQLite database (default: /database)
//   - PORT: HTTP server port (default: 8080)
//   - TRANSCODE_WORKERS: Concurrent transforms (default: derived from CPUs)
//
// # Graceful Shutdown
//
//  1. Stop metrics collector
//  2. Kill running ffmpeg processes
//  3. Shutdown HTTP server (30s timeout)
//  4. Close database and libvips
//
// # Build Requirements
//
// CGO is required for SQLite and libvips; ffmpeg and ffprobe must be on
// PATH or configured through FFMPEG_PATH and FFPROBE_PATH.
//
// # Related Packages
//
//   - [media-pipeline/internal/orchestrator]: Request dispatch and batching
//   - [media-pipeline/internal/encoding]: Content analysis and encoding plans
//   - [media-pipeline/internal/media]: Image transforms
//   - [media-pipeline/internal/transcoder]: Video and audio transforms
//   - [media-pipeline/internal/handlers]: HTTP request handlers
//   - [media-pipeline/internal/upload]: Upload client
package main
