package mediatypes

import (
	"path/filepath"
	"strings"

	"media-pipeline/internal/mediaerr"
)

// MediaKind classifies a source file.
type MediaKind string

const (
	// KindImage is a still image.
	KindImage MediaKind = "image"
	// KindVideo is a video, with or without audio.
	KindVideo MediaKind = "video"
	// KindAudio is an audio-only file.
	KindAudio MediaKind = "audio"
	// KindOther is anything the pipeline cannot process.
	KindOther MediaKind = "other"
)

// Operation names a transform.
type Operation string

const (
	OpResize    Operation = "resize"
	OpCrop      Operation = "crop"
	OpRotate    Operation = "rotate"
	OpConvert   Operation = "convert"
	OpOptimize  Operation = "optimize"
	OpTrim      Operation = "trim"
	OpNormalize Operation = "normalize"
)

var supported = map[MediaKind]map[Operation]bool{
	KindImage: {OpResize: true, OpCrop: true, OpRotate: true, OpConvert: true, OpOptimize: true},
	KindVideo: {OpResize: true, OpConvert: true, OpOptimize: true, OpTrim: true},
	KindAudio: {OpConvert: true, OpTrim: true, OpNormalize: true},
}

// Supports reports whether op can be applied to kind.
func Supports(kind MediaKind, op Operation) bool {
	return supported[kind][op]
}

// ImageExtensions maps file extensions to whether they are supported image formats.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".avif": true,
	".heic": true,
	".heif": true,
}

// VideoExtensions maps file extensions to whether they are supported video formats.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
	".3gp":  true,
	".ts":   true,
}

// AudioExtensions maps file extensions to whether they are supported audio formats.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".aac":  true,
	".m4a":  true,
	".ogg":  true,
	".oga":  true,
	".opus": true,
	".wav":  true,
	".flac": true,
	".wma":  true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".avif": "image/avif",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".heic": "image/heic",
	".heif": "image/heif",

	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".webm": "video/webm",
	".m4v":  "video/x-m4v",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".ts":   "video/mp2t",

	".mp3":  "audio/mpeg",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".wma":  "audio/x-ms-wma",
}

// GetKind returns the MediaKind for a lowercase extension with leading dot.
// ".webp" is treated as an image.
func GetKind(ext string) MediaKind {
	switch {
	case ImageExtensions[ext]:
		return KindImage
	case VideoExtensions[ext]:
		return KindVideo
	case AudioExtensions[ext]:
		return KindAudio
	default:
		return KindOther
	}
}

// KindFromPath classifies a path by its extension.
func KindFromPath(path string) MediaKind {
	return GetKind(strings.ToLower(filepath.Ext(path)))
}

// GetMimeType returns the MIME type for a given file extension.
// Returns "application/octet-stream" if the extension is not recognized.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// ImageFormats are the encodable still-image outputs.
var ImageFormats = map[string]bool{"webp": true, "jpeg": true, "png": true, "avif": true}

// VideoFormats are the supported video containers.
var VideoFormats = map[string]bool{"mp4": true, "webm": true, "mov": true, "mkv": true, "gif": true}

// AudioFormats are the supported audio outputs.
var AudioFormats = map[string]bool{"mp3": true, "aac": true, "ogg": true, "wav": true, "flac": true}

// NormalizeFormat lowercases a format name, strips a leading dot and folds
// aliases ("jpg" -> "jpeg", "m4a" -> "aac", "oga" -> "ogg").
func NormalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
	switch f {
	case "jpg":
		return "jpeg"
	case "m4a":
		return "aac"
	case "oga":
		return "ogg"
	}
	return f
}

// FormatFromPath derives a normalized output format from a path's extension.
func FormatFromPath(path string) string {
	return NormalizeFormat(filepath.Ext(path))
}

// ProcessResult is the outcome of one transform. The caller owns persistence.
// A failed transform still returns a ProcessResult with Success false and
// ErrorKind/ErrorMessage describing the failure.
type ProcessResult struct {
	Success   bool      `json:"success"`
	Operation Operation `json:"operation,omitempty"`

	OutputPath string `json:"outputPath,omitempty"`
	// ThumbnailPaths is ordered; the first entry is the primary thumbnail.
	ThumbnailPaths []string `json:"thumbnailPaths,omitempty"`

	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"durationSeconds,omitempty"`
	BitrateBps      int64   `json:"bitrateBps,omitempty"`

	SizeBytes         int64 `json:"sizeBytes,omitempty"`
	OriginalSizeBytes int64 `json:"originalSizeBytes,omitempty"`

	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// PrimaryThumbnail returns the first thumbnail path, or "".
func (r ProcessResult) PrimaryThumbnail() string {
	if len(r.ThumbnailPaths) == 0 {
		return ""
	}
	return r.ThumbnailPaths[0]
}

// SavedBytes returns how many bytes the derivative saved relative to the
// original. Negative when the output grew.
func (r ProcessResult) SavedBytes() int64 {
	return r.OriginalSizeBytes - r.SizeBytes
}

// Fail marks r as failed with err's kind and message.
func (r ProcessResult) Fail(err error) ProcessResult {
	r.Success = false
	r.ErrorKind = mediaerr.KindOf(err).String()
	if err != nil {
		r.ErrorMessage = err.Error()
	}
	return r
}
