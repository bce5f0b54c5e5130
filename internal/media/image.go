package media

import (
	"fmt"
	"image"
	"math"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"media-pipeline/internal/filesystem"
)

const (
	// MaxImageDimension is the default bounding box for operations that do
	// not resize, and the largest edge decoded into memory.
	MaxImageDimension = 4096

	// MaxImagePixels caps decoded pixels; ~20MP is ~80MB in RGBA.
	MaxImagePixels = 20_000_000
)

// ImageDimensions is the stored size of an image, before EXIF orientation.
type ImageDimensions struct {
	Width  int
	Height int
	Format string
}

// GetImageDimensions reads only the image header.
func GetImageDimensions(path string) (*ImageDimensions, error) {
	f, err := filesystem.OpenWithRetry(path, filesystem.DefaultRetryConfig())
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("unreadable image header: %w", err)
	}
	return &ImageDimensions{Width: cfg.Width, Height: cfg.Height, Format: format}, nil
}

// LoadImageConstrained decodes path with EXIF auto-orientation and shrinks
// the result to fit maxDimension per edge and maxPixels in total.
func LoadImageConstrained(path string, maxDimension, maxPixels int) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	b := img.Bounds()
	w, h := constrainedSize(b.Dx(), b.Dy(), maxDimension, maxPixels)
	if w == b.Dx() && h == b.Dy() {
		return img, nil
	}
	log.Info("Constraining large image %s from %dx%d to %dx%d", path, b.Dx(), b.Dy(), w, h)
	return imaging.Resize(img, w, h, imaging.Lanczos), nil
}

// constrainedSize fits width x height inside a maxDimension square, then
// scales it down further if the area still exceeds maxPixels.
func constrainedSize(width, height, maxDimension, maxPixels int) (int, int) {
	w, h := fitEdge(width, height, maxDimension)
	return fitArea(w, h, maxPixels)
}

// fitEdge pins the longer edge to limit, keeping the aspect ratio.
func fitEdge(w, h, limit int) (int, int) {
	switch {
	case w <= limit && h <= limit:
		return w, h
	case w > h:
		return limit, max(1, h*limit/w)
	default:
		return max(1, w*limit/h), limit
	}
}

func fitArea(w, h, limit int) (int, int) {
	if w*h <= limit {
		return w, h
	}
	scale := math.Sqrt(float64(limit) / float64(w*h))
	return max(1, int(float64(w)*scale)), max(1, int(float64(h)*scale))
}
