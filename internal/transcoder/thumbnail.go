package transcoder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"media-pipeline/internal/encoding"
	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
)

const (
	// MaxThumbnails caps how many frames one request may extract.
	MaxThumbnails = 20

	// DefaultThumbnailWidth bounds poster frames.
	DefaultThumbnailWidth = 640
)

// ThumbnailOptions requests poster frames. Count 0 disables them. With
// Count 1 the frame is taken at AtSeconds; with more, timestamps are spaced
// evenly across the video excluding its very start and end.
type ThumbnailOptions struct {
	Count     int     `json:"count,omitempty"`
	AtSeconds float64 `json:"atSeconds,omitempty"`
	// Width bounds the frame width; 0 selects DefaultThumbnailWidth.
	Width int `json:"width,omitempty"`
	// Dir receives the frames; empty means beside the video. It is never
	// taken from a decoded request.
	Dir string `json:"-"`
}

func (o ThumbnailOptions) validate(op mediatypes.Operation) error {
	if o.Count < 0 || o.Count > MaxThumbnails {
		return mediaerr.InvalidParameter(string(op), "thumbnail count must be in [0,%d], got %d", MaxThumbnails, o.Count)
	}
	if o.AtSeconds < 0 {
		return mediaerr.InvalidParameter(string(op), "thumbnail timestamp must be >= 0, got %g", o.AtSeconds)
	}
	if o.Width < 0 {
		return mediaerr.InvalidParameter(string(op), "thumbnail width must be >= 0, got %d", o.Width)
	}
	return nil
}

func (o ThumbnailOptions) validateAgainst(op mediatypes.Operation, duration float64) error {
	if o.Count == 1 && duration > 0 && o.AtSeconds >= duration {
		return mediaerr.InvalidParameter(string(op), "thumbnail timestamp %gs is beyond duration %.2fs", o.AtSeconds, duration)
	}
	if o.Count > 1 && duration <= 0 {
		return mediaerr.InvalidParameter(string(op), "cannot space %d thumbnails without a known duration", o.Count)
	}
	return nil
}

// ThumbnailTimes returns the timestamps for count frames of a video lasting
// duration seconds.
func ThumbnailTimes(count int, at, duration float64) []float64 {
	switch {
	case count <= 0:
		return nil
	case count == 1:
		return []float64{at}
	}
	times := make([]float64, count)
	for i := range times {
		times[i] = float64(i+1) * duration / float64(count+1)
	}
	return times
}

// Thumbnails extracts poster frames from video. The first path returned is
// the primary thumbnail.
func (v *VideoTransform) Thumbnails(ctx context.Context, video string, opts ThumbnailOptions) ([]string, error) {
	op := mediatypes.Operation("thumbnail")
	if err := opts.validate(op); err != nil {
		return nil, err
	}
	if _, err := checkSource(op, video); err != nil {
		return nil, err
	}
	p, err := probeSource(ctx, v.prober, op, video)
	if err != nil {
		return nil, err
	}
	if err := opts.validateAgainst(op, p.DurationSeconds); err != nil {
		return nil, err
	}
	return v.thumbnails(ctx, video, p.DurationSeconds, p.Width, p.Height, opts)
}

func (v *VideoTransform) thumbnails(ctx context.Context, video string, duration float64, width, height int, opts ThumbnailOptions) ([]string, error) {
	dir := opts.Dir
	if dir == "" {
		dir = filepath.Dir(video)
	}
	maxW := opts.Width
	if maxW == 0 {
		maxW = DefaultThumbnailWidth
	}
	base := strings.TrimSuffix(filepath.Base(video), filepath.Ext(video))

	var scale []string
	if w, h := encoding.FitWithin(width, height, maxW, 0); w != width && w > 0 {
		scale = []string{"-vf", fmt.Sprintf("scale=%d:%d", even(w), even(h))}
	}

	var paths []string
	for i, ts := range ThumbnailTimes(opts.Count, opts.AtSeconds, duration) {
		dest := filepath.Join(dir, fmt.Sprintf("%s_thumb_%02d.jpg", base, i+1))
		if err := v.extractFrame(ctx, video, dest, ts, scale); err != nil {
			removeAll(paths)
			return nil, err
		}
		paths = append(paths, dest)
	}
	metrics.ThumbnailsGenerated.Add(float64(len(paths)))
	return paths, nil
}

func (v *VideoTransform) extractFrame(ctx context.Context, video, dest string, ts float64, scale []string) error {
	staged, err := filesystem.NewStagedOutput(dest)
	if err != nil {
		return mediaerr.Wrap(mediaerr.KindTranscode, "thumbnail", err)
	}
	defer staged.Discard()

	args := []string{"-ss", formatSeconds(ts), "-i", video, "-frames:v", "1"}
	args = append(args, scale...)
	args = append(args, "-q:v", "2", "-update", "1", "-map_metadata", "-1", staged.Path())

	if err := v.runner.Run(ctx, args); err != nil {
		return tagOp(err, "thumbnail")
	}
	if err := staged.Commit(); err != nil {
		return mediaerr.Wrap(mediaerr.KindTranscode, "thumbnail", err)
	}
	return nil
}

func removeAll(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("failed to remove thumbnail %s: %v", p, err)
		}
	}
}
