// Package orchestrator is the entry point for processing requests.
//
// A Request names a source, an output and one operation as a Params variant.
// Process validates the combination of media kind and operation before any
// I/O, then runs the matching transform on a bounded worker pool. Video
// requests go through the probe, analysis and planning chain first so the
// transform receives an EncodingPlan; image and audio requests use the
// caller's parameters directly.
//
// ProcessBatch runs many requests concurrently and collects one result per
// request, so a batch can partially succeed.
package orchestrator
