/*
Package filesystem provides the file helpers shared by the transform packages:
stat/open with retry on NFS stale file handles, and staged outputs that are
renamed into place only once a transform has fully succeeded.

# Retry

Only ESTALE (errno 116 on Linux) triggers a retry; every other error is
returned immediately. Defaults: 3 retries, 50ms initial backoff doubling up to
500ms.

	info, err := filesystem.StatWithRetry(src, filesystem.DefaultRetryConfig())

# Staged outputs

	stage, err := filesystem.NewStagedOutput("/out/clip.mp4")
	// write to stage.Path() ...
	if err := stage.Commit(); err != nil { ... }
	defer stage.Discard() // no-op after a successful Commit

The staging file lives next to the destination so the final rename never
crosses a filesystem boundary, and it keeps the destination's extension so
encoders that infer the container from the name still work.
*/
package filesystem
