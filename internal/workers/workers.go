package workers

import "runtime"

// ForCPU sizes a pool for CPU-bound transforms: one worker per usable CPU,
// capped by limit when limit is positive.
func ForCPU(limit int) int {
	return clamp(runtime.GOMAXPROCS(0), limit)
}

func clamp(n, limit int) int {
	n = max(n, 1)
	if limit > 0 {
		n = min(n, limit)
	}
	return n
}
