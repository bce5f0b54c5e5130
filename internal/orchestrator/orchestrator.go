package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"media-pipeline/internal/encoding"
	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/media"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
	"media-pipeline/internal/metrics"
	"media-pipeline/internal/probe"
	"media-pipeline/internal/transcoder"
	"media-pipeline/internal/workers"
)

var log = logging.Component("orchestrator")

// ImageTransformer is satisfied by *media.ImageTransform.
type ImageTransformer interface {
	Apply(ctx context.Context, src, out string, opts media.ImageOptions) (mediatypes.ProcessResult, error)
}

// VideoTransformer is satisfied by *transcoder.VideoTransform.
type VideoTransformer interface {
	Apply(ctx context.Context, src, out string, params transcoder.VideoParams, plan *encoding.EncodingPlan) (mediatypes.ProcessResult, error)
	Thumbnails(ctx context.Context, video string, opts transcoder.ThumbnailOptions) ([]string, error)
}

// AudioTransformer is satisfied by *transcoder.AudioTransform.
type AudioTransformer interface {
	Apply(ctx context.Context, src, out string, params transcoder.AudioParams) (mediatypes.ProcessResult, error)
}

// Dependencies wires an Orchestrator. Planner and Pool are optional.
type Dependencies struct {
	Images  ImageTransformer
	Video   VideoTransformer
	Audio   AudioTransformer
	Prober  probe.Prober
	Planner *encoding.Planner
	Pool    *workers.Pool
}

// Orchestrator dispatches requests to the transform for their media kind.
type Orchestrator struct {
	images  ImageTransformer
	video   VideoTransformer
	audio   AudioTransformer
	prober  probe.Prober
	planner *encoding.Planner
	pool    *workers.Pool
}

// New creates an orchestrator. Without a Pool, work is bounded by
// workers.ForCPU; without a Planner the default tuning is used.
func New(d Dependencies) *Orchestrator {
	o := &Orchestrator{
		images:  d.Images,
		video:   d.Video,
		audio:   d.Audio,
		prober:  d.Prober,
		planner: d.Planner,
		pool:    d.Pool,
	}
	if o.planner == nil {
		o.planner = encoding.NewPlanner(encoding.DefaultTuning())
	}
	if o.pool == nil {
		o.pool = workers.NewPool(workers.ForCPU(0))
	}
	return o
}

// Process runs one request on the worker pool. The result is always
// populated; on failure it carries the error kind and message and the error
// is returned too.
func (o *Orchestrator) Process(ctx context.Context, req Request) (mediatypes.ProcessResult, error) {
	start := time.Now()
	op := req.Operation()

	result, err := o.process(ctx, &req)

	status := "success"
	if err != nil {
		status = "failure"
		result = result.Fail(err)
	}
	if result.Operation == "" {
		result.Operation = op
	}

	kind := string(req.Kind)
	if kind == "" {
		kind = string(mediatypes.KindOther)
	}
	metrics.TransformsTotal.WithLabelValues(kind, string(op), status).Inc()
	metrics.TransformDuration.WithLabelValues(kind, string(op)).Observe(time.Since(start).Seconds())
	if err == nil {
		if saved := result.SavedBytes(); saved > 0 {
			metrics.TransformBytesSaved.WithLabelValues(kind).Add(float64(saved))
		}
		log.Info("%s %s %s -> %s in %v", req.Kind, op, filepath.Base(req.SourcePath), filepath.Base(result.OutputPath), time.Since(start).Round(time.Millisecond))
	} else {
		log.Warn("%s %s %s failed after %v: %v", req.Kind, op, filepath.Base(req.SourcePath), time.Since(start).Round(time.Millisecond), err)
	}
	return result, err
}

func (o *Orchestrator) process(ctx context.Context, req *Request) (mediatypes.ProcessResult, error) {
	if err := req.normalize(); err != nil {
		return mediatypes.ProcessResult{}, err
	}
	op := req.Params.Operation()

	if err := checkSource(op, req.SourcePath); err != nil {
		return mediatypes.ProcessResult{}, err
	}

	var (
		result mediatypes.ProcessResult
		runErr error
	)
	err := o.pool.Do(ctx, func(ctx context.Context) error {
		switch req.Kind {
		case mediatypes.KindImage:
			result, runErr = o.processImage(ctx, req)
		case mediatypes.KindVideo:
			result, runErr = o.processVideo(ctx, req)
		case mediatypes.KindAudio:
			result, runErr = o.processAudio(ctx, req)
		}
		return nil
	})
	if err != nil {
		return mediatypes.ProcessResult{}, err
	}
	return result, runErr
}

func checkSource(op mediatypes.Operation, path string) error {
	info, err := filesystem.StatWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return mediaerr.New(mediaerr.KindSourceNotFound, string(op), path)
		}
		return mediaerr.Wrap(mediaerr.KindSourceNotFound, string(op), err)
	}
	if info.IsDir() {
		return mediaerr.InvalidParameter(string(op), "%s is a directory", path)
	}
	return nil
}

func (o *Orchestrator) processImage(ctx context.Context, req *Request) (mediatypes.ProcessResult, error) {
	if o.images == nil {
		return mediatypes.ProcessResult{}, mediaerr.InvalidParameter(string(req.Operation()), "image processing is not configured")
	}
	opts := media.ImageOptions{
		Operation:    req.Params.Operation(),
		Format:       req.OutputFormat,
		Quality:      req.Quality,
		Grayscale:    req.Effects.Grayscale,
		Blur:         req.Effects.Blur,
		Sharpen:      req.Effects.Sharpen,
		Watermark:    req.Effects.Watermark,
		KeepMetadata: req.Effects.KeepMetadata,
	}
	switch p := req.Params.(type) {
	case Resize:
		opts.MaxWidth, opts.MaxHeight = p.Width, p.Height
		opts.Fit = media.FitMode(p.Fit)
	case Crop:
		opts.Crop = &media.Rect{X: p.X, Y: p.Y, Width: p.Width, Height: p.Height}
	case Rotate:
		opts.Rotate = p.Degrees
	}
	return o.images.Apply(ctx, req.SourcePath, req.OutputPath, opts)
}

func (o *Orchestrator) processVideo(ctx context.Context, req *Request) (mediatypes.ProcessResult, error) {
	op := req.Params.Operation()
	if o.video == nil {
		return mediatypes.ProcessResult{}, mediaerr.InvalidParameter(string(op), "video processing is not configured")
	}

	params := transcoder.VideoParams{
		Operation:    op,
		Format:       req.OutputFormat,
		Quality:      req.Quality,
		FrameRate:    req.Effects.FrameRate,
		KeepMetadata: req.Effects.KeepMetadata,
		Thumbnails:   req.Thumbnails,
	}
	switch p := req.Params.(type) {
	case Resize:
		params.Width, params.Height = p.Width, p.Height
	case Convert:
		params.Codec = encoding.Codec(p.Codec)
		params.AudioBitrateBps = int64(p.AudioBitrateKbps) * 1000
	case Trim:
		params.StartSeconds, params.DurationSeconds = p.Start, p.Duration
	}

	plan, err := o.plan(ctx, op, req.SourcePath, req.Budget)
	if err != nil {
		return mediatypes.ProcessResult{}, err
	}
	return o.video.Apply(ctx, req.SourcePath, req.OutputPath, params, &plan)
}

func (o *Orchestrator) processAudio(ctx context.Context, req *Request) (mediatypes.ProcessResult, error) {
	if o.audio == nil {
		return mediatypes.ProcessResult{}, mediaerr.InvalidParameter(string(req.Operation()), "audio processing is not configured")
	}
	params := transcoder.AudioParams{
		Operation:    req.Params.Operation(),
		Format:       req.OutputFormat,
		Quality:      req.Quality,
		KeepMetadata: req.Effects.KeepMetadata,
	}
	switch p := req.Params.(type) {
	case Convert:
		params.BitrateBps = int64(p.AudioBitrateKbps) * 1000
	case Trim:
		params.StartSeconds, params.DurationSeconds = p.Start, p.Duration
	}
	return o.audio.Apply(ctx, req.SourcePath, req.OutputPath, params)
}

// Thumbnails extracts poster frames from a video on the worker pool. The
// first path is the primary thumbnail.
func (o *Orchestrator) Thumbnails(ctx context.Context, src string, opts transcoder.ThumbnailOptions) ([]string, error) {
	const op = mediatypes.Operation("thumbnail")
	if o.video == nil {
		return nil, mediaerr.InvalidParameter(string(op), "video processing is not configured")
	}
	if err := checkSource(op, src); err != nil {
		return nil, err
	}

	var (
		paths  []string
		runErr error
	)
	if err := o.pool.Do(ctx, func(ctx context.Context) error {
		paths, runErr = o.video.Thumbnails(ctx, src, opts)
		return nil
	}); err != nil {
		return nil, err
	}
	if runErr != nil {
		log.Warn("thumbnails of %s failed: %v", filepath.Base(src), runErr)
		return nil, runErr
	}
	log.Info("extracted %d thumbnails from %s", len(paths), filepath.Base(src))
	return paths, nil
}

// plan runs the probe, analysis and planning chain for a video source.
func (o *Orchestrator) plan(ctx context.Context, op mediatypes.Operation, src string, budget *Budget) (encoding.EncodingPlan, error) {
	insp, err := o.inspect(ctx, op, src, budget)
	if err != nil {
		return encoding.EncodingPlan{}, err
	}
	return insp.Plan, nil
}

// Inspection is the probe, analysis and plan for one video source.
type Inspection struct {
	Probe    probe.MediaProbe         `json:"probe"`
	Analysis encoding.ContentAnalysis `json:"analysis"`
	Plan     encoding.EncodingPlan    `json:"plan"`
}

// Inspect probes a video and reports the plan Process would use for it.
func (o *Orchestrator) Inspect(ctx context.Context, src string, budget *Budget) (Inspection, error) {
	if err := checkSource(mediatypes.OpOptimize, src); err != nil {
		return Inspection{}, err
	}
	return o.inspect(ctx, mediatypes.OpOptimize, src, budget)
}

func (o *Orchestrator) inspect(ctx context.Context, op mediatypes.Operation, src string, budget *Budget) (Inspection, error) {
	if o.prober == nil {
		return Inspection{}, mediaerr.InvalidParameter(string(op), "probing is not configured")
	}
	p, err := o.prober.Probe(ctx, src)
	if err != nil {
		if ctx.Err() != nil {
			return Inspection{}, ctx.Err()
		}
		return Inspection{}, mediaerr.Wrap(mediaerr.KindUnprobableSource, string(op), err)
	}
	if !p.HasVideo {
		return Inspection{}, mediaerr.New(mediaerr.KindUnprobableSource, string(op), "source has no video stream")
	}

	var b Budget
	if budget != nil {
		b = *budget
	}
	analysis := o.planner.Tuning().Analyze(p)
	plan := o.planner.Plan(analysis, b.TargetSizeBytes, b.MaxProcessingSeconds)
	log.Debug("plan for %s: %s/%s crf=%d cap=%dx%d two-pass=%v est=%dB",
		filepath.Base(src), plan.Codec, plan.Preset, plan.QualityFactor, plan.MaxWidth, plan.MaxHeight, plan.TwoPass, plan.EstimatedBytes)
	return Inspection{Probe: p, Analysis: analysis, Plan: plan}, nil
}

// ProcessBatch runs every request and returns their results in request
// order. One failure never stops the others; each result carries its own
// outcome.
func (o *Orchestrator) ProcessBatch(ctx context.Context, reqs []Request) []mediatypes.ProcessResult {
	results := make([]mediatypes.ProcessResult, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.pool.Size())
	for i := range reqs {
		g.Go(func() error {
			results[i], _ = o.Process(ctx, reqs[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}
