package transcoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"media-pipeline/internal/encoding"
	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/probe"
)

// VideoParams are the caller-supplied settings for one video operation.
// Zero values mean "unset"; an EncodingPlan, when given, fills them in.
type VideoParams struct {
	Operation mediatypes.Operation

	// Resize box. Either may be zero to leave that axis unconstrained.
	Width  int
	Height int

	// Format is the output container; empty derives it from the output path.
	Format string
	Codec  encoding.Codec
	// Quality is 1–100 (100 best); 0 defers to the plan or codec default.
	Quality int

	StartSeconds    float64
	DurationSeconds float64

	FrameRate       float64
	AudioBitrateBps int64
	KeepMetadata    bool

	Thumbnails ThumbnailOptions
}

// Validate checks parameters that do not depend on the source.
func (p VideoParams) Validate() error {
	op := string(p.Operation)
	switch p.Operation {
	case mediatypes.OpResize:
		if p.Width < 0 || p.Height < 0 || (p.Width == 0 && p.Height == 0) {
			return mediaerr.InvalidParameter(op, "resize needs a positive width or height, got %dx%d", p.Width, p.Height)
		}
	case mediatypes.OpTrim:
		if err := validateTrim(p.Operation, p.StartSeconds, p.DurationSeconds, 0); err != nil {
			return err
		}
	case mediatypes.OpConvert, mediatypes.OpOptimize:
	default:
		return mediaerr.InvalidParameter(op, "operation %q is not supported for video", p.Operation)
	}

	if !mediatypes.VideoFormats[p.Format] {
		return mediaerr.InvalidParameter(op, "unsupported video format %q", p.Format)
	}
	if p.Quality < 0 || p.Quality > 100 {
		return mediaerr.InvalidParameter(op, "quality must be in [1,100], got %d", p.Quality)
	}
	if p.FrameRate < 0 {
		return mediaerr.InvalidParameter(op, "frame rate must be >= 0, got %g", p.FrameRate)
	}
	if p.AudioBitrateBps < 0 {
		return mediaerr.InvalidParameter(op, "audio bitrate must be >= 0, got %d", p.AudioBitrateBps)
	}
	if p.Codec != "" {
		if _, ok := encoding.ParseCodec(string(p.Codec)); !ok {
			return mediaerr.InvalidParameter(op, "unsupported video codec %q", p.Codec)
		}
	}
	return p.Thumbnails.validate(p.Operation)
}

// VideoTransform applies video operations through ffmpeg.
type VideoTransform struct {
	runner Runner
	prober probe.Prober
}

// NewVideoTransform returns a transform that runs ffmpeg through runner and
// inspects sources and outputs with prober.
func NewVideoTransform(runner Runner, prober probe.Prober) *VideoTransform {
	return &VideoTransform{runner: runner, prober: prober}
}

// Apply transforms src into out. The returned ProcessResult is always
// populated; on failure it carries the error kind and message and the error
// is returned alongside it.
func (v *VideoTransform) Apply(ctx context.Context, src, out string, params VideoParams, plan *encoding.EncodingPlan) (mediatypes.ProcessResult, error) {
	result := mediatypes.ProcessResult{Operation: params.Operation}
	fail := func(err error) (mediatypes.ProcessResult, error) {
		log.Warn("%s %s failed: %v", params.Operation, filepath.Base(src), err)
		return result.Fail(err), err
	}

	if params.Format == "" {
		params.Format = mediatypes.FormatFromPath(out)
	} else {
		params.Format = mediatypes.NormalizeFormat(params.Format)
	}
	if c, ok := encoding.ParseCodec(string(params.Codec)); ok {
		params.Codec = c
	}
	if err := params.Validate(); err != nil {
		return fail(err)
	}

	size, err := checkSource(params.Operation, src)
	if err != nil {
		return fail(err)
	}
	result.OriginalSizeBytes = size

	sp, err := probeSource(ctx, v.prober, params.Operation, src)
	if err != nil {
		return fail(err)
	}
	if !sp.HasVideo {
		return fail(mediaerr.New(mediaerr.KindUnprobableSource, string(params.Operation), "source has no video stream"))
	}

	if params.Operation == mediatypes.OpTrim {
		if err := validateTrim(params.Operation, params.StartSeconds, params.DurationSeconds, sp.DurationSeconds); err != nil {
			return fail(err)
		}
	}
	if err := params.Thumbnails.validateAgainst(params.Operation, expectedDuration(sp, params)); err != nil {
		return fail(err)
	}

	staged, err := filesystem.NewStagedOutput(out)
	if err != nil {
		return fail(mediaerr.Wrap(mediaerr.KindTranscode, string(params.Operation), err))
	}
	defer staged.Discard()

	workDir, err := os.MkdirTemp("", "media-pipeline-video-*")
	if err != nil {
		return fail(mediaerr.Wrap(mediaerr.KindTranscode, string(params.Operation), err))
	}
	defer os.RemoveAll(workDir)

	settings := resolveVideo(sp, params, plan)
	log.Debug("%s %s: codec=%s crf=%d preset=%s size=%dx%d twoPass=%v",
		params.Operation, filepath.Base(src), settings.codec, settings.crf, settings.preset,
		settings.width, settings.height, settings.twoPass)

	for _, args := range videoArgs(src, staged.Path(), workDir, settings) {
		if err := v.runner.Run(ctx, args); err != nil {
			return fail(tagOp(err, params.Operation))
		}
	}

	if err := finishOutput(ctx, v.prober, staged, &result); err != nil {
		return fail(err)
	}

	if params.Thumbnails.Count > 0 {
		thumbs, err := v.thumbnails(ctx, result.OutputPath, result.DurationSeconds, result.Width, result.Height, params.Thumbnails)
		if err != nil {
			log.Warn("thumbnails for %s failed: %v", filepath.Base(out), err)
		}
		result.ThumbnailPaths = thumbs
	}

	log.Info("%s %s -> %s (%dx%d, %.2fs, %d -> %d bytes)",
		params.Operation, filepath.Base(src), filepath.Base(out),
		result.Width, result.Height, result.DurationSeconds, result.OriginalSizeBytes, result.SizeBytes)
	return result, nil
}

// tagOp attributes a runner error to the operation that issued it.
func tagOp(err error, op mediatypes.Operation) error {
	if me, ok := err.(*mediaerr.Error); ok {
		tagged := *me
		tagged.Op = string(op)
		return &tagged
	}
	return err
}

// expectedDuration is the output duration implied by the source and a trim.
func expectedDuration(sp probe.MediaProbe, params VideoParams) float64 {
	if params.Operation != mediatypes.OpTrim {
		return sp.DurationSeconds
	}
	if sp.DurationSeconds > 0 {
		return min(params.DurationSeconds, sp.DurationSeconds-params.StartSeconds)
	}
	return params.DurationSeconds
}

// videoSettings are the fully resolved encode settings.
type videoSettings struct {
	op     mediatypes.Operation
	format string

	codec   encoding.Codec
	crf     int
	preset  encoding.PresetTier
	maxrate int64
	twoPass bool

	// Output dimensions; zero means no scale filter.
	width  int
	height int
	fps    float64

	audio           bool
	audioCodec      string
	audioBitrate    int64
	audioSampleRate int

	trim         []string
	keepMetadata bool
}

var defaultCRF = map[encoding.Codec]int{
	encoding.CodecH264: 23,
	encoding.CodecH265: 28,
	encoding.CodecVP9:  31,
	encoding.CodecAV1:  35,
}

// resolveVideo merges explicit parameters, the plan and codec defaults.
// Explicit parameters win; the plan's resolution cap always applies.
func resolveVideo(sp probe.MediaProbe, params VideoParams, plan *encoding.EncodingPlan) videoSettings {
	s := videoSettings{
		op:           params.Operation,
		format:       params.Format,
		preset:       encoding.PresetMedium,
		fps:          params.FrameRate,
		trim:         trimArgs(params.Operation, params.StartSeconds, params.DurationSeconds),
		keepMetadata: params.KeepMetadata,
	}

	s.codec = params.Codec
	if s.codec == "" && plan != nil {
		s.codec = plan.Codec
	}
	if s.codec == "" {
		s.codec = encoding.CodecH264
	}
	if s.format == "webm" && s.codec != encoding.CodecVP9 && s.codec != encoding.CodecAV1 {
		s.codec = encoding.CodecVP9
	}

	switch {
	case params.Quality > 0:
		s.crf = s.codec.QualityToCRF(params.Quality)
	case plan != nil:
		s.crf = s.codec.ClampCRF(plan.QualityFactor)
	default:
		s.crf = defaultCRF[s.codec]
	}

	if plan != nil {
		if plan.Preset != "" {
			s.preset = plan.Preset
		}
		if params.Quality == 0 {
			s.maxrate = plan.TargetBitrateBps
		}
		s.twoPass = plan.TwoPass && s.maxrate > 0 && s.codec != encoding.CodecAV1
	}

	var boxW, boxH int
	if params.Operation == mediatypes.OpResize {
		boxW, boxH = params.Width, params.Height
	}
	if plan != nil {
		boxW, boxH = tighter(boxW, plan.MaxWidth), tighter(boxH, plan.MaxHeight)
	}
	w, h := encoding.FitWithin(sp.Width, sp.Height, boxW, boxH)
	w, h = even(w), even(h)
	if w != sp.Width || h != sp.Height {
		s.width, s.height = w, h
	}

	if s.format == "gif" {
		s.twoPass = false
		if s.fps == 0 {
			s.fps = 10
		}
		return s
	}

	s.audio = sp.HasAudio
	if s.audio {
		s.audioCodec = "aac"
		if s.format == "webm" {
			s.audioCodec = "libopus"
		}
		s.audioBitrate = params.AudioBitrateBps
		if s.audioBitrate == 0 && plan != nil {
			s.audioBitrate = plan.AudioBitrateBps
		}
		if s.audioBitrate == 0 {
			s.audioBitrate = 128_000
		}
		if plan != nil {
			s.audioSampleRate = plan.AudioSampleRate
		}
		if s.audioCodec == "libopus" {
			s.audioSampleRate = 48_000
		}
	}

	return s
}

// tighter returns the smaller positive bound; zero means unbounded.
func tighter(a, b int) int {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}

// even rounds down to an even number of at least 2, as yuv420p requires.
func even(n int) int {
	if n <= 2 {
		return 2
	}
	return n - n%2
}

// videoArgs builds the ffmpeg invocations for s. Two-pass encodes and gif
// output produce two invocations; everything else produces one.
func videoArgs(src, dst, workDir string, s videoSettings) [][]string {
	if s.format == "gif" {
		return gifArgs(src, dst, workDir, s)
	}

	filters := videoFilters(s)
	input := func() []string {
		args := append([]string{}, s.trim...)
		args = append(args, "-i", src, "-map", "0:v:0")
		if s.audio {
			args = append(args, "-map", "0:a:0")
		}
		if filters != "" {
			args = append(args, "-vf", filters)
		}
		return args
	}

	output := func(args []string) []string {
		if s.audio {
			args = append(args, "-c:a", s.audioCodec, "-b:a", bitrateArg(s.audioBitrate))
			if s.audioSampleRate > 0 {
				args = append(args, "-ar", strconv.Itoa(s.audioSampleRate))
			}
		} else {
			args = append(args, "-an")
		}
		if s.format == "mp4" {
			args = append(args, "-movflags", "+faststart")
		}
		args = append(args, metadataArgs(s.keepMetadata)...)
		return append(args, dst)
	}

	if !s.twoPass {
		return [][]string{output(append(input(), codecArgs(s, 0, "")...))}
	}

	passlog := filepath.Join(workDir, "passlog")
	first := append(input(), codecArgs(s, 1, passlog)...)
	first = append(first, "-an", "-f", "null", os.DevNull)
	second := output(append(input(), codecArgs(s, 2, passlog)...))
	return [][]string{first, second}
}

func videoFilters(s videoSettings) string {
	var filters []string
	if s.width > 0 && s.height > 0 {
		filters = append(filters, fmt.Sprintf("scale=%d:%d:flags=lanczos", s.width, s.height))
	}
	if s.fps > 0 {
		filters = append(filters, "fps="+strconv.FormatFloat(s.fps, 'f', -1, 64))
	}
	return strings.Join(filters, ",")
}

var x26xPresets = map[encoding.PresetTier]string{
	encoding.PresetFastest: "veryfast",
	encoding.PresetFast:    "faster",
	encoding.PresetMedium:  "medium",
	encoding.PresetSlow:    "slow",
}

var vp9CPUUsed = map[encoding.PresetTier]string{
	encoding.PresetFastest: "5",
	encoding.PresetFast:    "4",
	encoding.PresetMedium:  "2",
	encoding.PresetSlow:    "1",
}

var svtPresets = map[encoding.PresetTier]string{
	encoding.PresetFastest: "12",
	encoding.PresetFast:    "10",
	encoding.PresetMedium:  "8",
	encoding.PresetSlow:    "5",
}

// codecArgs returns encoder flags. pass is 0 for single-pass encodes.
func codecArgs(s videoSettings, pass int, passlog string) []string {
	crf := strconv.Itoa(s.crf)
	rate := bitrateArg(s.maxrate)

	switch s.codec {
	case encoding.CodecH265:
		args := []string{"-c:v", "libx265", "-preset", x26xPresets[s.preset]}
		if pass > 0 {
			args = append(args, "-b:v", rate, "-x265-params", fmt.Sprintf("pass=%d:stats=%s.log", pass, passlog))
		} else {
			args = append(args, "-crf", crf)
			if s.maxrate > 0 {
				args = append(args, "-maxrate", rate, "-bufsize", bitrateArg(2*s.maxrate))
			}
		}
		return append(args, "-pix_fmt", "yuv420p", "-tag:v", "hvc1")

	case encoding.CodecVP9:
		args := []string{"-c:v", "libvpx-vp9", "-crf", crf}
		if s.maxrate > 0 {
			args = append(args, "-b:v", rate)
		} else {
			args = append(args, "-b:v", "0")
		}
		if pass > 0 {
			args = append(args, "-pass", strconv.Itoa(pass), "-passlogfile", passlog)
		}
		return append(args, "-deadline", "good", "-cpu-used", vp9CPUUsed[s.preset], "-row-mt", "1")

	case encoding.CodecAV1:
		return []string{"-c:v", "libsvtav1", "-preset", svtPresets[s.preset], "-crf", crf, "-pix_fmt", "yuv420p"}

	default:
		args := []string{"-c:v", "libx264", "-preset", x26xPresets[s.preset]}
		if pass > 0 {
			args = append(args, "-b:v", rate, "-pass", strconv.Itoa(pass), "-passlogfile", passlog)
		} else {
			args = append(args, "-crf", crf)
			if s.maxrate > 0 {
				args = append(args, "-maxrate", rate, "-bufsize", bitrateArg(2*s.maxrate))
			}
		}
		return append(args, "-pix_fmt", "yuv420p")
	}
}

// gifArgs builds the palette pipeline: the first invocation computes an
// optimal palette, the second maps frames onto it. Codec and quality flags
// do not apply to gif.
func gifArgs(src, dst, workDir string, s videoSettings) [][]string {
	chain := videoFilters(s)
	palette := filepath.Join(workDir, "palette.png")

	first := append([]string{}, s.trim...)
	first = append(first, "-i", src, "-vf", chain+",palettegen=stats_mode=diff", palette)

	second := append([]string{}, s.trim...)
	second = append(second,
		"-i", src,
		"-i", palette,
		"-lavfi", chain+"[x];[x][1:v]paletteuse=dither=bayer:bayer_scale=5",
		"-an", "-loop", "0",
	)
	second = append(second, metadataArgs(s.keepMetadata)...)
	second = append(second, dst)

	return [][]string{first, second}
}
