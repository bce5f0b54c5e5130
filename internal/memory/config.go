package memory

import (
	"math"
	"os"
	"runtime/debug"
	"strconv"
)

// DefaultMemoryRatio is the share of the container limit given to the Go
// heap. The rest is left for ffmpeg, libvips and goroutine stacks.
const DefaultMemoryRatio = 0.75

// Limit describes how GOMEMLIMIT was configured.
type Limit struct {
	// Source is "GOMEMLIMIT", "MEMORY_LIMIT" or "none".
	Source         string
	ContainerBytes int64
	GoBytes        int64
	Ratio          float64
}

// Configured reports whether a Go memory limit is in effect.
func (l Limit) Configured() bool { return l.GoBytes > 0 }

// ConfigureFromEnv sets GOMEMLIMIT from MEMORY_LIMIT and MEMORY_RATIO unless
// GOMEMLIMIT is already set. Call it before significant allocations.
func ConfigureFromEnv() Limit {
	if env := os.Getenv("GOMEMLIMIT"); env != "" {
		l := Limit{Source: "GOMEMLIMIT"}
		if current := debug.SetMemoryLimit(-1); current > 0 && current < math.MaxInt64 {
			l.GoBytes = current
		}
		log.Info("GOMEMLIMIT set via environment: %s", env)
		return l
	}

	l := limitFromEnv(os.Getenv)
	if !l.Configured() {
		return l
	}
	debug.SetMemoryLimit(l.GoBytes)
	log.Info("Configured GOMEMLIMIT: %s (%.0f%% of %s container limit)",
		formatBytes(l.GoBytes), l.Ratio*100, formatBytes(l.ContainerBytes))
	return l
}

// limitFromEnv derives the Go limit from the container limit without
// applying it.
func limitFromEnv(getenv func(string) string) Limit {
	none := Limit{Source: "none"}

	raw := getenv("MEMORY_LIMIT")
	if raw == "" {
		log.Debug("MEMORY_LIMIT not set, GOMEMLIMIT not configured")
		return none
	}
	container, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || container <= 0 {
		log.Warn("Ignoring invalid MEMORY_LIMIT %q", raw)
		return none
	}

	ratio := DefaultMemoryRatio
	if s := getenv("MEMORY_RATIO"); s != "" {
		r, err := strconv.ParseFloat(s, 64)
		switch {
		case err != nil:
			log.Warn("Failed to parse MEMORY_RATIO %q: %v, using %.2f", s, err, DefaultMemoryRatio)
		case r <= 0 || r > 1:
			log.Warn("MEMORY_RATIO %q out of range (0,1], using %.2f", s, DefaultMemoryRatio)
		default:
			ratio = r
		}
	}

	return Limit{
		Source:         "MEMORY_LIMIT",
		ContainerBytes: container,
		GoBytes:        int64(float64(container) * ratio),
		Ratio:          ratio,
	}
}

// formatBytes formats bytes into human-readable string
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return strconv.FormatInt(b, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return strconv.FormatFloat(float64(b)/float64(div), 'f', 1, 64) + " " + string("KMGTPE"[exp]) + "iB"
}
