package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"media-pipeline/internal/media"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/transcoder"
)

// Budget steers the encoding plan for video. Zero fields fall back to the
// planner defaults.
type Budget struct {
	TargetSizeBytes      int64   `json:"targetSizeBytes,omitempty"`
	MaxProcessingSeconds float64 `json:"maxProcessingSeconds,omitempty"`
}

// Effects are optional extras that do not define the operation itself.
type Effects struct {
	Grayscale    bool             `json:"grayscale,omitempty"`
	Blur         float64          `json:"blur,omitempty"`
	Sharpen      bool             `json:"sharpen,omitempty"`
	Watermark    *media.Watermark `json:"watermark,omitempty"`
	FrameRate    float64          `json:"frameRate,omitempty"`
	KeepMetadata bool             `json:"keepMetadata,omitempty"`
}

// Request is one processing job.
type Request struct {
	SourcePath string
	// OutputPath may be empty; a sibling of the source is derived from the
	// operation and output format.
	OutputPath string
	// OutputDir, when set, holds derived outputs instead of the source's
	// directory.
	OutputDir string
	// Kind may be empty; it is then derived from the source extension.
	Kind   mediatypes.MediaKind
	Params Params
	// OutputFormat may be empty; it is then taken from OutputPath or, failing
	// that, the source extension.
	OutputFormat string
	// Quality is 1–100; 0 leaves the choice to the transform.
	Quality int

	Budget     *Budget
	Thumbnails transcoder.ThumbnailOptions
	Effects    Effects
}

// Operation returns the requested operation, or "" when Params is unset.
func (r Request) Operation() mediatypes.Operation {
	if r.Params == nil {
		return ""
	}
	return r.Params.Operation()
}

// normalize fills in derivable fields and rejects combinations that make no
// sense before anything touches the filesystem.
func (r *Request) normalize() error {
	if r.Params == nil {
		return mediaerr.InvalidParameter("process", "missing operation")
	}
	op := r.Params.Operation()
	if r.SourcePath == "" {
		return mediaerr.InvalidParameter(string(op), "missing source path")
	}
	if r.Kind == "" {
		r.Kind = mediatypes.KindFromPath(r.SourcePath)
	}
	if !mediatypes.Supports(r.Kind, op) {
		return mediaerr.InvalidParameter(string(op), "%s is not supported for %s sources", op, r.Kind)
	}

	switch {
	case r.OutputFormat != "":
		r.OutputFormat = mediatypes.NormalizeFormat(r.OutputFormat)
	case r.OutputPath != "":
		r.OutputFormat = mediatypes.FormatFromPath(r.OutputPath)
	default:
		r.OutputFormat = mediatypes.FormatFromPath(r.SourcePath)
	}
	if r.OutputPath == "" {
		r.OutputPath = derivedPath(r.SourcePath, op, r.OutputFormat)
		if r.OutputDir != "" {
			r.OutputPath = filepath.Join(r.OutputDir, filepath.Base(r.OutputPath))
		}
	}
	if filepath.Clean(r.OutputPath) == filepath.Clean(r.SourcePath) {
		return mediaerr.InvalidParameter(string(op), "output path must differ from the source")
	}
	if r.Quality < 0 || r.Quality > 100 {
		return mediaerr.InvalidParameter(string(op), "quality must be in [1,100], got %d", r.Quality)
	}
	if b := r.Budget; b != nil && (b.TargetSizeBytes < 0 || b.MaxProcessingSeconds < 0) {
		return mediaerr.InvalidParameter(string(op), "budget values must be >= 0")
	}
	return nil
}

// derivedPath places the output beside the source as <base>_<op>.<ext>.
func derivedPath(src string, op mediatypes.Operation, format string) string {
	ext := filepath.Ext(src)
	base := strings.TrimSuffix(filepath.Base(src), ext)
	if format != "" {
		ext = "." + extensionFor(format)
	}
	return filepath.Join(filepath.Dir(src), fmt.Sprintf("%s_%s%s", base, op, ext))
}

func extensionFor(format string) string {
	switch format {
	case "jpeg":
		return "jpg"
	case "aac":
		return "m4a"
	default:
		return format
	}
}

// requestJSON is the wire form accepted by the process API.
type requestJSON struct {
	Source       string                       `json:"source"`
	Output       string                       `json:"output,omitempty"`
	Kind         mediatypes.MediaKind         `json:"kind,omitempty"`
	Operation    mediatypes.Operation         `json:"operation"`
	Params       json.RawMessage              `json:"params,omitempty"`
	OutputFormat string                       `json:"outputFormat,omitempty"`
	Quality      int                          `json:"quality,omitempty"`
	Budget       *Budget                      `json:"budget,omitempty"`
	Thumbnails   *transcoder.ThumbnailOptions `json:"thumbnails,omitempty"`
	Effects      *Effects                     `json:"effects,omitempty"`
}

// DecodeRequest reads a JSON request. Paths are returned as given; the
// caller decides which directories they may refer to.
func DecodeRequest(r io.Reader) (Request, error) {
	var raw requestJSON
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return Request{}, mediaerr.InvalidParameter("process", "invalid request body: %v", err)
	}

	params, err := DecodeParams(raw.Operation, raw.Params)
	if err != nil {
		return Request{}, mediaerr.InvalidParameter(string(raw.Operation), "%v", err)
	}

	req := Request{
		SourcePath:   raw.Source,
		OutputPath:   raw.Output,
		Kind:         raw.Kind,
		Params:       params,
		OutputFormat: raw.OutputFormat,
		Quality:      raw.Quality,
		Budget:       raw.Budget,
	}
	if raw.Thumbnails != nil {
		req.Thumbnails = *raw.Thumbnails
	}
	if raw.Effects != nil {
		req.Effects = *raw.Effects
	}
	return req, nil
}
