package validation

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/atelierhq/atelier/internal/apperr"
)

// UploadConstraints defines validation rules for direct-to-storage uploads.
// Validation runs against the client's declared metadata at prepare time; the
// actual object is verified against these declarations at confirm time.
type UploadConstraints struct {
	AllowedMimeTypes  map[string]bool
	AllowedExtensions map[string]bool
	MaxSize           int64
}

// DefaultConstraints covers the source file types the platform generates from.
var DefaultConstraints = UploadConstraints{
	AllowedMimeTypes: map[string]bool{
		"image/jpeg":      true,
		"image/png":       true,
		"image/webp":      true,
		"application/pdf": true,
		"text/plain":      true,
		"text/markdown":   true,
	},
	AllowedExtensions: map[string]bool{
		".jpg":  true,
		".jpeg": true,
		".png":  true,
		".webp": true,
		".pdf":  true,
		".txt":  true,
		".md":   true,
	},
	MaxSize: 10 << 20, // 10 MiB
}

// ValidateUpload checks a declared upload against the constraints. Returns a
// typed ValidationError so the boundary can fail fast without retry.
func ValidateUpload(filename, mimeType string, size int64, constraints UploadConstraints) error {
	if filename == "" {
		return &apperr.ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if strings.ContainsAny(filename, "/\\") {
		return &apperr.ValidationError{Field: "filename", Reason: "must not contain path separators"}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if !constraints.AllowedExtensions[ext] {
		return &apperr.ValidationError{Field: "filename", Reason: fmt.Sprintf("extension %q is not allowed", ext)}
	}

	if !constraints.AllowedMimeTypes[strings.ToLower(mimeType)] {
		return &apperr.ValidationError{Field: "mime_type", Reason: fmt.Sprintf("type %q is not allowed", mimeType)}
	}

	if size <= 0 {
		return &apperr.ValidationError{Field: "size", Reason: "must be positive"}
	}
	if size > constraints.MaxSize {
		return &apperr.ValidationError{Field: "size", Reason: fmt.Sprintf("%d bytes exceeds limit of %d", size, constraints.MaxSize)}
	}

	return nil
}
