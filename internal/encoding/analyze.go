// Package encoding derives content classifications from probe data and turns
// them into concrete encoding plans. Everything here is pure: no I/O, no
// clocks, no randomness.
package encoding

import (
	"media-pipeline/internal/probe"
)

// Complexity is a coarse classification of how demanding a source is to encode.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// MotionLevel estimates how much a source moves, inferred from bits per pixel.
// It is a heuristic, not a measurement of motion vectors.
type MotionLevel string

const (
	MotionStatic MotionLevel = "static"
	MotionLow    MotionLevel = "low"
	MotionMedium MotionLevel = "medium"
	MotionHigh   MotionLevel = "high"
)

// ContentAnalysis is derived from one MediaProbe for one encode decision.
type ContentAnalysis struct {
	Width           int         `json:"width"`
	Height          int         `json:"height"`
	DurationSeconds float64     `json:"durationSeconds"`
	BitrateBps      int64       `json:"bitrateBps"`
	FPS             float64     `json:"fps"`
	HasAudio        bool        `json:"hasAudio"`
	SizeBytes       int64       `json:"sizeBytes,omitempty"`
	Complexity      Complexity  `json:"complexity"`
	MotionLevel     MotionLevel `json:"motionLevel"`
}

// Analyze classifies p using DefaultTuning.
func Analyze(p probe.MediaProbe) ContentAnalysis {
	return DefaultTuning().Analyze(p)
}

// Analyze classifies p using t's thresholds.
func (t Tuning) Analyze(p probe.MediaProbe) ContentAnalysis {
	a := ContentAnalysis{
		Width:           p.Width,
		Height:          p.Height,
		DurationSeconds: p.DurationSeconds,
		BitrateBps:      p.BitrateBps,
		FPS:             p.FrameRate,
		HasAudio:        p.HasAudio,
		SizeBytes:       p.SizeBytes,
	}
	a.Complexity = t.complexity(p.Width, p.Height)
	a.MotionLevel = t.motion(p.Width, p.Height, p.BitrateBps, p.FrameRate)
	return a
}

// complexity compares pixel counts. A source of exactly LowMaxPixels is
// already medium; exactly MediumMaxPixels is still medium.
func (t Tuning) complexity(width, height int) Complexity {
	pixels := int64(width) * int64(height)
	switch {
	case pixels < t.LowMaxPixels:
		return ComplexityLow
	case pixels <= t.MediumMaxPixels:
		return ComplexityMedium
	default:
		return ComplexityHigh
	}
}

func (t Tuning) motion(width, height int, bitrate int64, fps float64) MotionLevel {
	if bitrate <= 0 || width <= 0 || height <= 0 {
		return MotionStatic
	}
	if fps > 0 && fps <= 1 {
		return MotionStatic
	}
	if fps <= 0 {
		fps = t.DefaultFPS
	}

	bpp := BitsPerPixel(width, height, bitrate, fps)
	switch {
	case bpp > t.HighMotionBPP:
		return MotionHigh
	case bpp > t.MediumMotionBPP:
		return MotionMedium
	default:
		return MotionLow
	}
}

// BitsPerPixel returns bitrate / (width × height × fps), or 0 when any input
// is non-positive.
func BitsPerPixel(width, height int, bitrate int64, fps float64) float64 {
	if width <= 0 || height <= 0 || bitrate <= 0 || fps <= 0 {
		return 0
	}
	return float64(bitrate) / (float64(width) * float64(height) * fps)
}
