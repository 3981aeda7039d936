package models

import (
	"time"
)

// EmbeddingKind distinguishes the embedding namespaces.
type EmbeddingKind string

const (
	EmbeddingKindText  EmbeddingKind = "text"
	EmbeddingKindImage EmbeddingKind = "image"
)

// Resolution holds pixel dimensions for image files.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Pixels returns the total pixel count used for tie-breaking.
func (r *Resolution) Pixels() int64 {
	if r == nil {
		return 0
	}
	return int64(r.Width) * int64(r.Height)
}

// FileRecord is the normalized form of one ingested file. It is created once
// by the normalizer at the ingestion boundary and never mutated afterwards.
type FileRecord struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	SizeBytes    int64       `json:"size_bytes"`
	MimeType     string      `json:"mime_type"`
	SHA256       string      `json:"sha256"`
	TextContent  string      `json:"text_content,omitempty"`
	ImageContent string      `json:"image_content,omitempty"`
	Resolution   *Resolution `json:"resolution,omitempty"`
	ModifiedTime *time.Time  `json:"modified_time,omitempty"`
	Success      bool        `json:"success"`
	Error        string      `json:"error,omitempty"`
}

// HasText reports whether the normalizer extracted text content.
func (f *FileRecord) HasText() bool {
	return f.TextContent != ""
}

// HasImage reports whether the normalizer produced an image payload.
func (f *FileRecord) HasImage() bool {
	return f.ImageContent != ""
}

// FileEmbedding is the persisted embedding row for a file.
type FileEmbedding struct {
	FileID    string        `json:"file_id" db:"file_id"`
	Kind      EmbeddingKind `json:"kind" db:"kind"`
	SHA256    string        `json:"sha256" db:"sha256"`
	Embedding []float32     `json:"-" db:"embedding"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}
