package encoding

import (
	"math"
)

// PresetTier trades encode time for output size.
type PresetTier string

const (
	PresetFastest PresetTier = "fastest"
	PresetFast    PresetTier = "fast"
	PresetMedium  PresetTier = "medium"
	PresetSlow    PresetTier = "slow"
)

// Codec names a video codec family independent of the encoder library.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecH265 Codec = "h265"
	CodecVP9  Codec = "vp9"
	CodecAV1  Codec = "av1"
)

// ParseCodec accepts common aliases. ok is false for unknown names.
func ParseCodec(name string) (Codec, bool) {
	switch name {
	case "h264", "avc", "libx264", "x264":
		return CodecH264, true
	case "h265", "hevc", "libx265", "x265":
		return CodecH265, true
	case "vp9", "libvpx-vp9":
		return CodecVP9, true
	case "av1", "libsvtav1", "libaom-av1":
		return CodecAV1, true
	}
	return "", false
}

// CRFRange returns the valid constant-quality range for the codec.
func (c Codec) CRFRange() (lo, hi int) {
	switch c {
	case CodecVP9, CodecAV1:
		return 0, 63
	default:
		return 0, 51
	}
}

// ClampCRF limits q to the codec's range.
func (c Codec) ClampCRF(q int) int {
	lo, hi := c.CRFRange()
	return min(max(q, lo), hi)
}

// QualityToCRF maps a 1–100 user quality (100 best) linearly onto the codec's
// CRF range, so 100 yields the lowest CRF and 1 the highest.
func (c Codec) QualityToCRF(quality int) int {
	quality = min(max(quality, 1), 100)
	lo, hi := c.CRFRange()
	return lo + int(math.Round(float64(100-quality)*float64(hi-lo)/99))
}

// EncodingPlan is the concrete parameter set for one video encode.
type EncodingPlan struct {
	QualityFactor    int        `json:"qualityFactor"`
	Preset           PresetTier `json:"preset"`
	Codec            Codec      `json:"codec"`
	MaxWidth         int        `json:"maxWidth"`
	MaxHeight        int        `json:"maxHeight"`
	TargetBitrateBps int64      `json:"targetBitrateBps,omitempty"`
	AudioBitrateBps  int64      `json:"audioBitrateBps,omitempty"`
	AudioSampleRate  int        `json:"audioSampleRate,omitempty"`
	TwoPass          bool       `json:"twoPass"`
	EstimatedSeconds float64    `json:"estimatedSeconds"`
	EstimatedBytes   int64      `json:"estimatedBytes"`
	CompressionRatio float64    `json:"compressionRatio"`
}

// Planner computes encoding plans. The zero value is not usable; use
// NewPlanner.
type Planner struct {
	tuning Tuning
}

// NewPlanner returns a planner using t.
func NewPlanner(t Tuning) *Planner {
	return &Planner{tuning: t}
}

// Tuning returns the planner's heuristics.
func (p *Planner) Tuning() Tuning { return p.tuning }

// Plan derives an EncodingPlan from a, a target output size (0 = none) and a
// processing budget in seconds (non-positive = Tuning.DefaultBudget). Equal
// inputs always produce equal plans.
func (p *Planner) Plan(a ContentAnalysis, targetSizeBytes int64, maxProcessingSeconds float64) EncodingPlan {
	t := p.tuning
	if maxProcessingSeconds <= 0 {
		maxProcessingSeconds = t.DefaultBudget
	}

	var plan EncodingPlan

	plan.Preset, plan.Codec, plan.TwoPass = t.tier(maxProcessingSeconds)
	plan.QualityFactor = plan.Codec.ClampCRF(
		t.BaseQuality + t.ComplexityOffset[a.Complexity] + t.MotionOffset[a.MotionLevel])

	plan.MaxWidth, plan.MaxHeight = t.resolutionCap(a, targetSizeBytes)

	if a.HasAudio {
		plan.AudioBitrateBps = t.audioBitrate(a)
		plan.AudioSampleRate = t.AudioSampleRate
	}

	if targetSizeBytes > 0 && a.DurationSeconds > 0 {
		target := int64(float64(targetSizeBytes) * 8 / a.DurationSeconds)
		plan.TargetBitrateBps = max(target-plan.AudioBitrateBps, t.MinTargetBitrate)
	}

	outW, outH := FitWithin(a.Width, a.Height, plan.MaxWidth, plan.MaxHeight)
	videoBps := t.baseBitrate(min(outW, outH)) *
		math.Pow(0.8, float64(23-plan.QualityFactor)) *
		t.ComplexityMultiplier[a.Complexity] *
		t.MotionMultiplier[a.MotionLevel]

	plan.EstimatedBytes = int64(math.Round((videoBps + float64(plan.AudioBitrateBps)) * a.DurationSeconds / 8))

	original := a.SizeBytes
	if original <= 0 {
		original = int64(math.Round(float64(a.BitrateBps) * a.DurationSeconds / 8))
	}
	if original > 0 {
		plan.CompressionRatio = 1 - float64(plan.EstimatedBytes)/float64(original)
	}

	plan.EstimatedSeconds = a.DurationSeconds * t.TierTimeFactor[plan.Preset]
	if plan.TwoPass {
		plan.EstimatedSeconds *= 2
	}

	return plan
}

func (t Tuning) tier(budget float64) (PresetTier, Codec, bool) {
	switch {
	case budget < t.FastestBudget:
		return PresetFastest, CodecH264, false
	case budget < t.FastBudget:
		return PresetFast, CodecH264, false
	case budget < t.MediumBudget:
		return PresetMedium, CodecH264, false
	default:
		return PresetSlow, CodecH265, true
	}
}

// resolutionCap keeps the source box unless the requested size forces a
// much lower bitrate than the source carries.
func (t Tuning) resolutionCap(a ContentAnalysis, targetSizeBytes int64) (int, int) {
	w, h := a.Width, a.Height
	if targetSizeBytes <= 0 || a.DurationSeconds <= 0 || a.BitrateBps <= 0 {
		return w, h
	}

	target := float64(targetSizeBytes) * 8 / a.DurationSeconds
	current := float64(a.BitrateBps)

	var capW, capH int
	switch {
	case target < t.HeavyCapRatio*current:
		capW, capH = 1280, 720
		if a.Width <= 1280 {
			capW, capH = 854, 480
		}
	case target < t.LightCapRatio*current:
		capW, capH = 1920, 1080
	default:
		return w, h
	}

	if w <= 0 || h <= 0 {
		return capW, capH
	}
	return min(w, capW), min(h, capH)
}

func (t Tuning) audioBitrate(a ContentAnalysis) int64 {
	switch {
	case a.MotionLevel == MotionStatic:
		return t.AudioStaticBps
	case a.Complexity == ComplexityHigh:
		return t.AudioHighBps
	default:
		return t.AudioDefaultBps
	}
}

// baseBitrate picks the tier by the output's short side.
func (t Tuning) baseBitrate(shortSide int) float64 {
	switch {
	case shortSide <= 480:
		return 1_000_000
	case shortSide <= 720:
		return 2_500_000
	case shortSide <= 1080:
		return 5_000_000
	default:
		return 10_000_000
	}
}

// FitWithin scales w×h down to fit inside maxW×maxH keeping the aspect ratio.
// It never enlarges, and a non-positive bound leaves that axis unconstrained.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = math.Min(scale, float64(maxW)/float64(w))
	}
	if maxH > 0 && h > maxH {
		scale = math.Min(scale, float64(maxH)/float64(h))
	}
	if scale >= 1 {
		return w, h
	}
	return max(1, int(math.Round(float64(w)*scale))), max(1, int(math.Round(float64(h)*scale)))
}
