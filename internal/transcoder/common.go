package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/probe"
)

var log = logging.Component("transcoder")

// checkSource confirms src is a regular file and returns its size.
func checkSource(op mediatypes.Operation, src string) (int64, error) {
	info, err := filesystem.StatWithRetry(src, filesystem.DefaultRetryConfig())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, &mediaerr.Error{Kind: mediaerr.KindSourceNotFound, Op: string(op), Reason: src}
		}
		return 0, mediaerr.Wrap(mediaerr.KindSourceNotFound, string(op), err)
	}
	if info.IsDir() {
		return 0, mediaerr.InvalidParameter(string(op), "source %s is a directory", src)
	}
	return info.Size(), nil
}

// probeSource wraps prober failures as KindUnprobableSource.
func probeSource(ctx context.Context, prober probe.Prober, op mediatypes.Operation, src string) (probe.MediaProbe, error) {
	p, err := prober.Probe(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return probe.MediaProbe{}, ctx.Err()
		}
		return probe.MediaProbe{}, mediaerr.Wrap(mediaerr.KindUnprobableSource, string(op), err)
	}
	return p, nil
}

// validateTrim checks a trim window against the source duration. A zero
// duration means "unknown" and skips the range check.
func validateTrim(op mediatypes.Operation, start, duration, sourceDuration float64) error {
	if start < 0 {
		return mediaerr.InvalidParameter(string(op), "start time must be >= 0, got %g", start)
	}
	if duration <= 0 {
		return mediaerr.InvalidParameter(string(op), "duration must be > 0, got %g", duration)
	}
	if sourceDuration > 0 && start >= sourceDuration {
		return mediaerr.InvalidParameter(string(op), "start time %gs is beyond source duration %.2fs", start, sourceDuration)
	}
	return nil
}

// trimArgs returns the seek and duration limit for a trim. Both are input
// options and go before -i, ahead of every filter.
func trimArgs(op mediatypes.Operation, start, duration float64) []string {
	if op != mediatypes.OpTrim {
		return nil
	}
	var args []string
	if start > 0 {
		args = append(args, "-ss", formatSeconds(start))
	}
	return append(args, "-t", formatSeconds(duration))
}

func metadataArgs(keep bool) []string {
	if keep {
		return []string{"-map_metadata", "0"}
	}
	return []string{"-map_metadata", "-1"}
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func bitrateArg(bps int64) string {
	if bps%1000 == 0 {
		return fmt.Sprintf("%dk", bps/1000)
	}
	return strconv.FormatInt(bps, 10)
}

// finishOutput re-probes the staged output, fills result from it and moves
// the file into place.
func finishOutput(ctx context.Context, prober probe.Prober, staged *filesystem.StagedOutput, result *mediatypes.ProcessResult) error {
	info, err := os.Stat(staged.Path())
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindTranscode, string(result.Operation), err)
	}
	if info.Size() == 0 {
		return mediaerr.New(mediaerr.KindTranscode, string(result.Operation), "ffmpeg produced an empty output")
	}

	out, err := prober.Probe(ctx, staged.Path())
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindTranscode, string(result.Operation), fmt.Errorf("output is not readable: %w", err))
	}

	if err := staged.Commit(); err != nil {
		return mediaerr.Wrap(mediaerr.KindTranscode, string(result.Operation), err)
	}

	result.Success = true
	result.OutputPath = staged.Dest()
	result.Width = out.Width
	result.Height = out.Height
	result.DurationSeconds = out.DurationSeconds
	result.BitrateBps = out.BitrateBps
	result.SizeBytes = info.Size()
	return nil
}
