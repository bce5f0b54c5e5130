package media

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"sync"

	"github.com/davidbyttow/govips/v2/vips"

	"media-pipeline/internal/logging"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
	vipsAvailable   bool
)

// vipsLogThreshold maps the application level to the least severe libvips
// message that is still forwarded.
var vipsLogThreshold = map[logging.LogLevel]vips.LogLevel{
	logging.LevelDebug: vips.LogLevelInfo,
	logging.LevelInfo:  vips.LogLevelWarning,
	logging.LevelWarn:  vips.LogLevelError,
	logging.LevelError: vips.LogLevelCritical,
}

func forwardVipsLog(domain string, level vips.LogLevel, msg string) {
	switch level {
	case vips.LogLevelError, vips.LogLevelCritical:
		log.Error("[%s] %s", domain, msg)
	case vips.LogLevelWarning:
		log.Warn("[%s] %s", domain, msg)
	default:
		log.Debug("[%s] %s", domain, msg)
	}
}

// InitVips starts libvips. Call once at startup; later calls are no-ops.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	threshold, ok := vipsLogThreshold[logging.GetLevel()]
	if !ok {
		threshold = vips.LogLevelWarning
	}
	vips.LoggingSettings(func(domain string, level vips.LogLevel, msg string) {
		if level <= threshold {
			forwardVipsLog(domain, level, msg)
		}
	}, threshold)

	// Encoders run inside the worker pool, so vips itself stays single-threaded.
	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	vipsAvailable = true
	log.Info("libvips initialized successfully (version: %s)", vips.Version)
	return nil
}

// ShutdownVips cleans up libvips resources
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		vipsAvailable = false
		log.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable returns whether libvips is initialized and available
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsAvailable
}

// vipsFromImage hands a decoded image to libvips through a lossless,
// uncompressed PNG buffer.
func vipsFromImage(img image.Image) (*vips.ImageRef, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.NoCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to buffer image for libvips: %w", err)
	}
	return vips.NewImageFromBuffer(buf.Bytes())
}

// vipsFromFile loads path with its metadata intact.
func vipsFromFile(path string) (*vips.ImageRef, error) {
	return vips.LoadImageFromFile(path, vips.NewImportParams())
}

// exportVips encodes ref. Quality 100 selects lossless webp/avif; png always
// uses maximum compression and is palettised below quality 100.
func exportVips(ref *vips.ImageRef, format string, quality int, keepMetadata bool) ([]byte, error) {
	strip := !keepMetadata
	lossless := quality >= 100

	var (
		data []byte
		err  error
	)
	switch format {
	case "webp":
		p := vips.NewWebpExportParams()
		p.Quality = quality
		p.Lossless = lossless
		p.StripMetadata = strip
		data, _, err = ref.ExportWebp(p)
	case "avif":
		p := vips.NewAvifExportParams()
		p.Quality = quality
		p.Lossless = lossless
		p.StripMetadata = strip
		data, _, err = ref.ExportAvif(p)
	case "png":
		p := vips.NewPngExportParams()
		p.Compression = 9
		p.Palette = !lossless
		p.Quality = quality
		p.StripMetadata = strip
		data, _, err = ref.ExportPng(p)
	case "jpeg":
		p := vips.NewJpegExportParams()
		p.Quality = quality
		p.OptimizeCoding = true
		p.Interlace = true
		p.StripMetadata = strip
		data, _, err = ref.ExportJpeg(p)
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("libvips %s export failed: %w", format, err)
	}
	return data, nil
}
