package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"

	"media-pipeline/internal/filesystem"
	"media-pipeline/internal/logging"
	"media-pipeline/internal/mediaerr"
	"media-pipeline/internal/mediatypes"
)

var log = logging.Component("media")

// DefaultQuality applies when ImageOptions.Quality is zero.
const DefaultQuality = 85

// FitMode controls how an image is fitted into the bounding box.
type FitMode string

const (
	// FitInside scales down to fit entirely within the box.
	FitInside FitMode = "inside"
	// FitContain behaves like FitInside; no letterboxing is added.
	FitContain FitMode = "contain"
	// FitCover fills the box's aspect ratio and crops the overflow.
	FitCover FitMode = "cover"
)

// Position anchors a watermark.
type Position string

const (
	TopLeft     Position = "top-left"
	TopRight    Position = "top-right"
	BottomLeft  Position = "bottom-left"
	BottomRight Position = "bottom-right"
	Center      Position = "center"
)

// Watermark overlays an image. Opacity is in (0,1]; zero means 0.5.
type Watermark struct {
	Path     string
	Position Position
	Opacity  float64
}

// Rect is a crop region in source pixels.
type Rect struct {
	X, Y, Width, Height int
}

// ImageOptions describe one image transform.
type ImageOptions struct {
	Operation mediatypes.Operation

	// Bounding box. Both must be positive; for operations other than
	// resize, leaving both at zero selects MaxImageDimension.
	MaxWidth  int
	MaxHeight int
	Fit       FitMode

	// Quality is 1–100; zero selects DefaultQuality.
	Quality int
	// Format is webp, jpeg, png or avif; empty derives it from the output path.
	Format string

	Crop *Rect
	// Rotate is clockwise degrees.
	Rotate float64

	Grayscale bool
	Blur      float64
	Sharpen   bool
	Watermark *Watermark

	KeepMetadata bool
}

func (o *ImageOptions) normalize(out string) {
	if o.Format == "" {
		o.Format = mediatypes.FormatFromPath(out)
	} else {
		o.Format = mediatypes.NormalizeFormat(o.Format)
	}
	if o.Fit == "" {
		o.Fit = FitInside
	}
	if o.Quality == 0 {
		o.Quality = DefaultQuality
	}
	if o.MaxWidth == 0 && o.MaxHeight == 0 && o.Operation != mediatypes.OpResize {
		o.MaxWidth, o.MaxHeight = MaxImageDimension, MaxImageDimension
	}
	o.Rotate = math.Mod(math.Mod(o.Rotate, 360)+360, 360)
}

// Validate checks the options. Call after defaults have been applied.
func (o ImageOptions) Validate() error {
	op := string(o.Operation)
	switch o.Operation {
	case mediatypes.OpResize, mediatypes.OpConvert, mediatypes.OpOptimize:
	case mediatypes.OpCrop:
		if o.Crop == nil {
			return mediaerr.InvalidParameter(op, "crop needs a region")
		}
	case mediatypes.OpRotate:
	default:
		return mediaerr.InvalidParameter(op, "operation %q is not supported for images", o.Operation)
	}

	if o.MaxWidth <= 0 || o.MaxHeight <= 0 {
		return mediaerr.InvalidParameter(op, "max width and height must both be > 0, got %dx%d", o.MaxWidth, o.MaxHeight)
	}
	if o.Quality < 1 || o.Quality > 100 {
		return mediaerr.InvalidParameter(op, "quality must be in [1,100], got %d", o.Quality)
	}
	if !mediatypes.ImageFormats[o.Format] {
		return mediaerr.InvalidParameter(op, "unsupported image format %q", o.Format)
	}
	switch o.Fit {
	case FitInside, FitContain, FitCover:
	default:
		return mediaerr.InvalidParameter(op, "unknown fit mode %q", o.Fit)
	}
	if o.Blur < 0 {
		return mediaerr.InvalidParameter(op, "blur radius must be >= 0, got %g", o.Blur)
	}
	if c := o.Crop; c != nil && (c.X < 0 || c.Y < 0 || c.Width <= 0 || c.Height <= 0) {
		return mediaerr.InvalidParameter(op, "invalid crop region %+v", *c)
	}
	if w := o.Watermark; w != nil {
		if w.Path == "" {
			return mediaerr.InvalidParameter(op, "watermark needs an image path")
		}
		if w.Opacity < 0 || w.Opacity > 1 {
			return mediaerr.InvalidParameter(op, "watermark opacity must be in [0,1], got %g", w.Opacity)
		}
		switch w.Position {
		case "", TopLeft, TopRight, BottomLeft, BottomRight, Center:
		default:
			return mediaerr.InvalidParameter(op, "unknown watermark position %q", w.Position)
		}
	}
	return nil
}

// needsPixels reports whether anything beyond re-encoding is required for a
// source of the given size.
func (o ImageOptions) needsPixels(width, height int) bool {
	return o.Crop != nil || o.Rotate != 0 || o.Grayscale || o.Blur > 0 || o.Sharpen ||
		o.Watermark != nil || width > o.MaxWidth || height > o.MaxHeight
}

// ImageTransform applies ImageOptions to still images.
type ImageTransform struct {
	useVips bool
}

// NewImageTransform returns a transform that encodes with libvips when it has
// been initialised.
func NewImageTransform() *ImageTransform {
	return &ImageTransform{useVips: IsVipsAvailable()}
}

// Apply transforms src into out. It never enlarges the source and never
// exceeds the bounding box. The returned ProcessResult is always populated.
func (t *ImageTransform) Apply(ctx context.Context, src, out string, opts ImageOptions) (mediatypes.ProcessResult, error) {
	result := mediatypes.ProcessResult{Operation: opts.Operation}
	fail := func(err error) (mediatypes.ProcessResult, error) {
		log.Warn("%s %s failed: %v", opts.Operation, filepath.Base(src), err)
		return result.Fail(err), err
	}

	opts.normalize(out)
	if err := opts.Validate(); err != nil {
		return fail(err)
	}

	info, err := filesystem.StatWithRetry(src, filesystem.DefaultRetryConfig())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fail(mediaerr.New(mediaerr.KindSourceNotFound, string(opts.Operation), src))
		}
		return fail(mediaerr.Wrap(mediaerr.KindSourceNotFound, string(opts.Operation), err))
	}
	result.OriginalSizeBytes = info.Size()

	dims, err := GetImageDimensions(src)
	if err != nil {
		return fail(mediaerr.Wrap(mediaerr.KindUnprobableSource, string(opts.Operation), err))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	var (
		data          []byte
		width, height int
	)
	if t.useVips && opts.KeepMetadata && !opts.needsPixels(dims.Width, dims.Height) {
		data, err = t.reencode(src, opts)
		width, height = dims.Width, dims.Height
	} else {
		var img image.Image
		img, err = t.render(src, dims, opts)
		if err != nil {
			return fail(err)
		}
		width, height = img.Bounds().Dx(), img.Bounds().Dy()
		data, err = t.encode(img, opts)
	}
	if err != nil {
		return fail(mediaerr.Wrap(mediaerr.KindEncode, string(opts.Operation), err))
	}

	staged, err := filesystem.NewStagedOutput(out)
	if err != nil {
		return fail(mediaerr.Wrap(mediaerr.KindEncode, string(opts.Operation), err))
	}
	defer staged.Discard()

	if err := os.WriteFile(staged.Path(), data, 0644); err != nil {
		return fail(mediaerr.Wrap(mediaerr.KindEncode, string(opts.Operation), err))
	}
	if err := staged.Commit(); err != nil {
		return fail(mediaerr.Wrap(mediaerr.KindEncode, string(opts.Operation), err))
	}

	result.Success = true
	result.OutputPath = out
	result.Width = width
	result.Height = height
	result.SizeBytes = int64(len(data))

	log.Info("%s %s -> %s (%dx%d -> %dx%d, %d -> %d bytes)",
		opts.Operation, filepath.Base(src), filepath.Base(out),
		dims.Width, dims.Height, width, height, result.OriginalSizeBytes, result.SizeBytes)
	return result, nil
}

// render runs the pixel pipeline: crop, rotate, fit, filters, watermark.
func (t *ImageTransform) render(src string, dims *ImageDimensions, opts ImageOptions) (image.Image, error) {
	op := string(opts.Operation)

	img, err := LoadImageConstrained(src, MaxImageDimension, MaxImagePixels)
	if err != nil {
		return nil, mediaerr.Wrap(mediaerr.KindUnprobableSource, op, err)
	}

	if opts.Crop != nil {
		r, err := cropRect(*opts.Crop, dims, img.Bounds())
		if err != nil {
			return nil, mediaerr.InvalidParameter(op, "%v", err)
		}
		img = imaging.Crop(img, r)
	}

	img = rotate(img, opts.Rotate)

	switch opts.Fit {
	case FitCover:
		w, h := coverSize(img.Bounds().Dx(), img.Bounds().Dy(), opts.MaxWidth, opts.MaxHeight)
		img = imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)
	default:
		img = imaging.Fit(img, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)
	}

	if opts.Grayscale {
		img = imaging.Grayscale(img)
	}
	if opts.Blur > 0 {
		img = imaging.Blur(img, opts.Blur)
	}
	if opts.Sharpen {
		img = imaging.Sharpen(img, 0.8)
	}

	if opts.Watermark != nil {
		img, err = applyWatermark(img, *opts.Watermark)
		if err != nil {
			return nil, mediaerr.Wrap(mediaerr.KindEncode, op, err)
		}
	}

	return img, nil
}

// cropRect validates r against the source and maps it onto the decoded
// image, which may have been shrunk on load.
func cropRect(r Rect, dims *ImageDimensions, bounds image.Rectangle) (image.Rectangle, error) {
	if r.X+r.Width > dims.Width || r.Y+r.Height > dims.Height {
		return image.Rectangle{}, fmt.Errorf("crop region %dx%d+%d+%d exceeds source %dx%d",
			r.Width, r.Height, r.X, r.Y, dims.Width, dims.Height)
	}
	sx := float64(bounds.Dx()) / float64(dims.Width)
	sy := float64(bounds.Dy()) / float64(dims.Height)
	x0 := int(math.Round(float64(r.X) * sx))
	y0 := int(math.Round(float64(r.Y) * sy))
	x1 := max(x0+1, int(math.Round(float64(r.X+r.Width)*sx)))
	y1 := max(y0+1, int(math.Round(float64(r.Y+r.Height)*sy)))
	return image.Rect(x0, y0, x1, y1).Add(bounds.Min), nil
}

// rotate turns img clockwise. Quarter turns are lossless; other angles leave
// transparent corners.
func rotate(img image.Image, degrees float64) image.Image {
	switch degrees {
	case 0:
		return img
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return imaging.Rotate(img, 360-degrees, color.Transparent)
	}
}

// coverSize picks the largest box with the requested aspect ratio that fits
// inside both the source and the requested box, so cover never enlarges.
func coverSize(srcW, srcH, boxW, boxH int) (int, int) {
	w, h := min(boxW, srcW), min(boxH, srcH)
	aspect := float64(boxW) / float64(boxH)
	if float64(w)/float64(h) > aspect {
		w = max(1, int(math.Round(float64(h)*aspect)))
	} else {
		h = max(1, int(math.Round(float64(w)/aspect)))
	}
	return w, h
}

func applyWatermark(base image.Image, wm Watermark) (image.Image, error) {
	mark, err := imaging.Open(wm.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open watermark: %w", err)
	}

	bw, bh := base.Bounds().Dx(), base.Bounds().Dy()
	if maxW := max(1, bw/4); mark.Bounds().Dx() > maxW {
		mark = imaging.Resize(mark, maxW, 0, imaging.Lanczos)
	}
	if mark.Bounds().Dy() > bh {
		mark = imaging.Resize(mark, 0, bh, imaging.Lanczos)
	}

	opacity := wm.Opacity
	if opacity == 0 {
		opacity = 0.5
	}

	return imaging.Overlay(base, mark, watermarkOrigin(wm.Position, bw, bh, mark.Bounds().Dx(), mark.Bounds().Dy()), opacity), nil
}

func watermarkOrigin(pos Position, bw, bh, mw, mh int) image.Point {
	margin := max(4, min(bw, bh)/50)
	switch pos {
	case TopLeft:
		return image.Pt(margin, margin)
	case TopRight:
		return image.Pt(bw-mw-margin, margin)
	case BottomLeft:
		return image.Pt(margin, bh-mh-margin)
	case Center:
		return image.Pt((bw-mw)/2, (bh-mh)/2)
	default:
		return image.Pt(bw-mw-margin, bh-mh-margin)
	}
}

func (t *ImageTransform) encode(img image.Image, opts ImageOptions) ([]byte, error) {
	if t.useVips {
		ref, err := vipsFromImage(img)
		if err != nil {
			return nil, err
		}
		defer ref.Close()
		return exportVips(ref, opts.Format, opts.Quality, opts.KeepMetadata)
	}
	return encodeImaging(img, opts.Format, opts.Quality)
}

// reencode converts src with libvips directly so its metadata survives.
func (t *ImageTransform) reencode(src string, opts ImageOptions) ([]byte, error) {
	ref, err := vipsFromFile(src)
	if err != nil {
		return nil, err
	}
	defer ref.Close()
	return exportVips(ref, opts.Format, opts.Quality, true)
}

// encodeImaging is the fallback when libvips is unavailable. Like the libvips
// path, png below quality 100 is written with a palette.
func encodeImaging(img image.Image, format string, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "jpeg":
		err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case "png":
		if quality < 100 {
			img = quantize(img)
		}
		err = imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression))
	default:
		return nil, fmt.Errorf("%s encoding requires libvips", format)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
