// Package memory keeps the server inside its container memory limit.
//
// [ConfigureFromEnv] sets GOMEMLIMIT from the container limit:
//
//   - GOMEMLIMIT: Standard Go variable; when set it wins and nothing is changed
//   - MEMORY_LIMIT: Container limit in bytes, e.g. from the Kubernetes
//     Downward API (resourceFieldRef: limits.memory)
//   - MEMORY_RATIO: Share of MEMORY_LIMIT for the Go heap, in (0,1]
//     (default: 0.75). ffmpeg and libvips allocate outside the Go heap, so
//     lower it when transcodes run wide.
//
// A [Monitor] samples heap usage and, once it passes the critical mark,
// holds back new transforms until usage falls below the high-water mark.
// It plugs into the worker pool as a gate:
//
//	mon := memory.NewMonitor(memory.DefaultConfig())
//	mon.Start()
//	pool := workers.NewPool(n).WithGate(mon)
//
// Transforms already running are never interrupted.
package memory
