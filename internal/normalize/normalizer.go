package normalize

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/tidyfile/tidyfile/internal/models"
)

// Normalizer converts raw file bytes into a FileRecord. Implementations
// never return a Go error: a file that cannot be normalized comes back with
// Success=false and the failure message on the record.
type Normalizer interface {
	Normalize(raw []byte, name, declaredMime string) *models.FileRecord
}

// Func adapts a function to the Normalizer interface
type Func func(raw []byte, name, declaredMime string) *models.FileRecord

// Normalize implements Normalizer
func (f Func) Normalize(raw []byte, name, declaredMime string) *models.FileRecord {
	return f(raw, name, declaredMime)
}

// Basic is the default normalizer: it fingerprints the bytes with sha256,
// extracts text from text-like files, and carries image bytes through as a
// base64 payload for the embedding generator. Format-specific extraction
// (PDF text, image decoding, perceptual hashing) belongs to upstream
// normalizers that wrap this one.
type Basic struct{}

// NewBasic creates the default normalizer
func NewBasic() *Basic {
	return &Basic{}
}

// Normalize implements Normalizer
func (b *Basic) Normalize(raw []byte, name, declaredMime string) *models.FileRecord {
	sum := sha256.Sum256(raw)

	record := &models.FileRecord{
		Name:      name,
		SizeBytes: int64(len(raw)),
		MimeType:  declaredMime,
		SHA256:    hex.EncodeToString(sum[:]),
		Success:   true,
	}

	switch {
	case isTextMime(declaredMime):
		if !utf8.Valid(raw) {
			record.Success = false
			record.Error = "text file is not valid UTF-8"
			return record
		}
		record.TextContent = strings.TrimSpace(string(raw))
	case strings.HasPrefix(declaredMime, "image/"):
		record.ImageContent = base64.StdEncoding.EncodeToString(raw)
	}

	return record
}

func isTextMime(mime string) bool {
	if strings.HasPrefix(mime, "text/") {
		return true
	}
	switch mime {
	case "application/json", "application/xml", "application/yaml":
		return true
	}
	return false
}

// mimeByExtension maps common file extensions to MIME types for uploads
// that arrive without a usable declared type.
var mimeByExtension = map[string]string{
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".ini":  "text/plain",
	".json": "application/json",
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// DetectMime resolves the MIME type for a file, preferring the declared
// type and falling back to the extension.
func DetectMime(name, declared string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if mime, ok := mimeByExtension[strings.ToLower(filepath.Ext(name))]; ok {
		return mime
	}
	return "application/octet-stream"
}
