package database

import (
	"time"

	"media-pipeline/internal/mediatypes"
)

// Derivative is one stored transform output.
type Derivative struct {
	ID                string               `json:"id"`
	RecordID          string               `json:"recordId,omitempty"`
	SourcePath        string               `json:"sourcePath"`
	Operation         mediatypes.Operation `json:"operation"`
	OutputPath        string               `json:"outputPath"`
	ThumbnailPaths    []string             `json:"thumbnailPaths,omitempty"`
	Width             int                  `json:"width,omitempty"`
	Height            int                  `json:"height,omitempty"`
	DurationSeconds   float64              `json:"durationSeconds,omitempty"`
	SizeBytes         int64                `json:"sizeBytes"`
	OriginalSizeBytes int64                `json:"originalSizeBytes"`
	CreatedAt         time.Time            `json:"createdAt"`
}

// Stats summarises stored content.
type Stats struct {
	Records     map[mediatypes.MediaKind]int `json:"records"`
	TotalBytes  int64                        `json:"totalBytes"`
	Derivatives int                          `json:"derivatives"`
	BytesSaved  int64                        `json:"bytesSaved"`
}
