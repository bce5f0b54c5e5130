package transcoder

import (
	"context"
	"math"
	"path/filepath"
	"strconv"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/probe"
)

const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2

	// LoudnessFilter targets -16 LUFS integrated, -1.5 dBTP true peak.
	LoudnessFilter = "loudnorm=I=-16:TP=-1.5:LRA=11"
)

// AudioParams are the caller-supplied settings for one audio operation.
type AudioParams struct {
	Operation mediatypes.Operation

	// Format is the output format; empty derives it from the output path.
	Format string
	// BitrateBps selects constant-bitrate encoding where the codec has it.
	BitrateBps int64
	// Quality is 1–100 (100 best); used when BitrateBps is zero.
	Quality int

	StartSeconds    float64
	DurationSeconds float64

	// Zero selects DefaultSampleRate / DefaultChannels.
	SampleRate int
	Channels   int

	KeepMetadata bool
}

// Validate checks parameters that do not depend on the source.
func (p AudioParams) Validate() error {
	op := string(p.Operation)
	switch p.Operation {
	case mediatypes.OpTrim:
		if err := validateTrim(p.Operation, p.StartSeconds, p.DurationSeconds, 0); err != nil {
			return err
		}
	case mediatypes.OpConvert, mediatypes.OpNormalize:
	default:
		return mediaerr.InvalidParameter(op, "operation %q is not supported for audio", p.Operation)
	}

	if !mediatypes.AudioFormats[p.Format] {
		return mediaerr.InvalidParameter(op, "unsupported audio format %q", p.Format)
	}
	if p.Quality < 0 || p.Quality > 100 {
		return mediaerr.InvalidParameter(op, "quality must be in [1,100], got %d", p.Quality)
	}
	if p.BitrateBps < 0 {
		return mediaerr.InvalidParameter(op, "bitrate must be >= 0, got %d", p.BitrateBps)
	}
	if p.SampleRate < 0 || p.SampleRate > 384000 {
		return mediaerr.InvalidParameter(op, "sample rate out of range: %d", p.SampleRate)
	}
	if p.Channels < 0 || p.Channels > 8 {
		return mediaerr.InvalidParameter(op, "channel count out of range: %d", p.Channels)
	}
	return nil
}

// AudioTransform applies audio operations through ffmpeg.
type AudioTransform struct {
	runner Runner
	prober probe.Prober
}

// NewAudioTransform returns a transform using runner and prober.
func NewAudioTransform(runner Runner, prober probe.Prober) *AudioTransform {
	return &AudioTransform{runner: runner, prober: prober}
}

// Apply transforms src into out. Output sample rate and channel count are
// always set explicitly.
func (a *AudioTransform) Apply(ctx context.Context, src, out string, params AudioParams) (mediatypes.ProcessResult, error) {
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
	if err := params.Validate(); err != nil {
		return fail(err)
	}

	size, err := checkSource(params.Operation, src)
	if err != nil {
		return fail(err)
	}
	result.OriginalSizeBytes = size

	sp, err := probeSource(ctx, a.prober, params.Operation, src)
	if err != nil {
		return fail(err)
	}
	if !sp.HasAudio {
		return fail(mediaerr.New(mediaerr.KindUnprobableSource, string(params.Operation), "source has no audio stream"))
	}
	if params.Operation == mediatypes.OpTrim {
		if err := validateTrim(params.Operation, params.StartSeconds, params.DurationSeconds, sp.DurationSeconds); err != nil {
			return fail(err)
		}
	}

	staged, err := filesystem.NewStagedOutput(out)
	if err != nil {
		return fail(mediaerr.Wrap(mediaerr.KindTranscode, string(params.Operation), err))
	}
	defer staged.Discard()

	if err := a.runner.Run(ctx, audioArgs(src, staged.Path(), params)); err != nil {
		return fail(tagOp(err, params.Operation))
	}

	if err := finishOutput(ctx, a.prober, staged, &result); err != nil {
		return fail(err)
	}

	log.Info("%s %s -> %s (%.2fs, %d -> %d bytes)",
		params.Operation, filepath.Base(src), filepath.Base(out),
		result.DurationSeconds, result.OriginalSizeBytes, result.SizeBytes)
	return result, nil
}

func audioArgs(src, dst string, params AudioParams) []string {
	args := trimArgs(params.Operation, params.StartSeconds, params.DurationSeconds)
	args = append(args, "-i", src, "-vn")

	if params.Operation == mediatypes.OpNormalize {
		args = append(args, "-af", LoudnessFilter)
	}

	args = append(args, audioCodecArgs(params)...)

	rate := params.SampleRate
	if rate == 0 {
		rate = DefaultSampleRate
	}
	channels := params.Channels
	if channels == 0 {
		channels = DefaultChannels
	}
	args = append(args, "-ar", strconv.Itoa(rate), "-ac", strconv.Itoa(channels))
	args = append(args, metadataArgs(params.KeepMetadata)...)
	return append(args, dst)
}

func audioCodecArgs(params AudioParams) []string {
	switch params.Format {
	case "mp3":
		if params.BitrateBps > 0 {
			return []string{"-c:a", "libmp3lame", "-b:a", bitrateArg(params.BitrateBps)}
		}
		// LAME VBR: 0 best, 9 worst.
		q := 2
		if params.Quality > 0 {
			q = scaleQuality(params.Quality, 9, true)
		}
		return []string{"-c:a", "libmp3lame", "-q:a", strconv.Itoa(q)}

	case "ogg":
		if params.BitrateBps > 0 {
			return []string{"-c:a", "libvorbis", "-b:a", bitrateArg(params.BitrateBps)}
		}
		// Vorbis: 0 worst, 10 best.
		q := 5
		if params.Quality > 0 {
			q = scaleQuality(params.Quality, 10, false)
		}
		return []string{"-c:a", "libvorbis", "-q:a", strconv.Itoa(q)}

	case "wav":
		return []string{"-c:a", "pcm_s16le"}

	case "flac":
		return []string{"-c:a", "flac"}

	default:
		bps := params.BitrateBps
		if bps == 0 {
			bps = 128_000
			if params.Quality > 0 {
				// 64k at quality 1 up to 320k at 100, in 8k steps.
				kbps := 64 + int(math.Round(float64(params.Quality-1)*256/99))
				bps = int64(kbps-kbps%8) * 1000
			}
		}
		return []string{"-c:a", "aac", "-b:a", bitrateArg(bps)}
	}
}

// scaleQuality maps 1–100 onto 0..top. When inverted, 100 maps to 0.
func scaleQuality(quality, top int, inverted bool) int {
	v := int(math.Round(float64(quality-1) * float64(top) / 99))
	if inverted {
		return top - v
	}
	return v
}
