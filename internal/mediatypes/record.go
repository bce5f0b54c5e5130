package mediatypes

import "time"

// UploadMetadata is caller-supplied descriptive data sent with an upload.
type UploadMetadata struct {
	Title    string   `json:"title,omitempty"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// IsZero reports whether no field is set.
func (m UploadMetadata) IsZero() bool {
	return m.Title == "" && m.Category == "" && len(m.Tags) == 0
}

// MediaRecord is the stored descriptor of an uploaded file.
type MediaRecord struct {
	ID        string         `json:"id"`
	FileName  string         `json:"fileName"`
	Path      string         `json:"path"`
	Kind      MediaKind      `json:"kind"`
	MimeType  string         `json:"mimeType"`
	SizeBytes int64          `json:"sizeBytes"`
	Metadata  UploadMetadata `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}
