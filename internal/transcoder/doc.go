// Package transcoder drives ffmpeg to produce video and audio derivatives.
//
// It provides:
//   - VideoTransform: resize, convert, trim and optimize, optionally steered
//     by an encoding.EncodingPlan, plus evenly spaced thumbnails
//   - AudioTransform: convert, trim and loudness normalization
//   - FFmpeg: an argument-vector Runner with per-call timeouts and tracking
//     of live child processes
//
// Every invocation is built as a discrete argument list and passed straight
// to the process-spawn API; nothing goes through a shell. Outputs are staged
// beside their destination and renamed into place only after ffmpeg exits
// cleanly, so a failed call never leaves a partial derivative and never
// touches the source.
//
// FFmpeg must be installed and available in the system PATH (or configured
// with FFMPEG_PATH).
package transcoder
