// Package handlers provides the HTTP API of the media pipeline.
//
// It includes handlers for:
//   - Single and chunked uploads, with resume status and cancellation
//   - Transform requests, singly or in batches, and plan inspection
//   - Stored records, their derivatives and summary stats
//   - Health, readiness, version and metrics endpoints
//
// Client-supplied paths are confined to the upload and output directories.
package handlers
