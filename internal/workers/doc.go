/*
Package workers sizes and bounds the concurrency of transform jobs.

Every ffmpeg invocation or libvips encode is a CPU-heavy child or cgo call,
so the orchestrator never runs more of them at once than a Pool allows.

# Sizing

ForCPU derives the count from GOMAXPROCS, which respects container CPU
limits. The server uses it when TRANSCODE_WORKERS is unset.

# Pool

	pool := workers.NewPool(workers.ForCPU(4))
	err := pool.Do(ctx, func(ctx context.Context) error {
	    return transcode(ctx)
	})

Do blocks until a slot is free or ctx is done; a cancelled wait returns
ctx.Err() without running the function.
*/
package workers
