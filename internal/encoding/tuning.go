package encoding

// Tuning holds the heuristic constants behind analysis and planning. They are
// tuning knobs rather than correctness requirements, so deployments may
// override any of them; DefaultTuning returns the stock values.
type Tuning struct {
	// Pixel counts below LowMaxPixels are low complexity; up to and
	// including MediumMaxPixels are medium; anything larger is high.
	LowMaxPixels    int64
	MediumMaxPixels int64

	// Bits per pixel above which motion is considered high or medium.
	HighMotionBPP   float64
	MediumMotionBPP float64

	// DefaultFPS substitutes for an unknown frame rate.
	DefaultFPS float64

	BaseQuality      int
	ComplexityOffset map[Complexity]int
	MotionOffset     map[MotionLevel]int

	// Budgets (seconds) below which each faster tier is chosen.
	FastestBudget float64
	FastBudget    float64
	MediumBudget  float64

	// DefaultBudget replaces a non-positive processing budget.
	DefaultBudget float64

	// Target/current bitrate ratios that trigger a resolution cap.
	HeavyCapRatio float64
	LightCapRatio float64

	AudioStaticBps  int64
	AudioHighBps    int64
	AudioDefaultBps int64
	AudioSampleRate int

	// MinTargetBitrate floors the derived video bitrate target.
	MinTargetBitrate int64

	ComplexityMultiplier map[Complexity]float64
	MotionMultiplier     map[MotionLevel]float64

	// TierTimeFactor scales duration into estimated encode seconds.
	TierTimeFactor map[PresetTier]float64
}

// DefaultTuning returns the stock heuristics.
func DefaultTuning() Tuning {
	return Tuning{
		LowMaxPixels:    1280 * 720,
		MediumMaxPixels: 1920 * 1080,

		HighMotionBPP:   0.1,
		MediumMotionBPP: 0.05,
		DefaultFPS:      30,

		BaseQuality: 23,
		ComplexityOffset: map[Complexity]int{
			ComplexityLow:    2,
			ComplexityMedium: 0,
			ComplexityHigh:   -2,
		},
		MotionOffset: map[MotionLevel]int{
			MotionStatic: 3,
			MotionLow:    1,
			MotionMedium: 0,
			MotionHigh:   -3,
		},

		FastestBudget: 60,
		FastBudget:    120,
		MediumBudget:  300,
		DefaultBudget: 180,

		HeavyCapRatio: 0.3,
		LightCapRatio: 0.6,

		AudioStaticBps:  96_000,
		AudioHighBps:    160_000,
		AudioDefaultBps: 128_000,
		AudioSampleRate: 48_000,

		MinTargetBitrate: 100_000,

		ComplexityMultiplier: map[Complexity]float64{
			ComplexityLow:    0.7,
			ComplexityMedium: 1.0,
			ComplexityHigh:   1.4,
		},
		MotionMultiplier: map[MotionLevel]float64{
			MotionStatic: 0.5,
			MotionLow:    0.8,
			MotionMedium: 1.0,
			MotionHigh:   1.3,
		},

		TierTimeFactor: map[PresetTier]float64{
			PresetFastest: 0.5,
			PresetFast:    1,
			PresetMedium:  2,
			PresetSlow:    4,
		},
	}
}
