// Package logging provides the leveled logger shared by the media pipeline
// server, the upload client and the transform packages.
//
// Levels, lowest to highest:
//   - DEBUG: ffmpeg argument vectors, chunk-level upload traces
//   - INFO: transform outcomes, upload completion, configuration
//   - WARN: recoverable conditions (retries, cleanup failures)
//   - ERROR: failed transforms and uploads
//   - FATAL: startup errors that terminate the process
//
// The level comes from DEBUG (any truthy value) or LOG_LEVEL. Components
// obtain a prefixed logger with Component so that interleaved output from
// concurrent transforms stays attributable.
package logging
