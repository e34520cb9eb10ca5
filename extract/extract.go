// Package extract converts uploaded documents into plain text. A small
// registry routes by MIME type or filename extension; unknown formats are
// a permanent error, never retried.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsupportedFormat marks a document type no extractor handles.
var ErrUnsupportedFormat = errors.New("extract: unsupported document format")

// Extractor converts one document format to plain text.
type Extractor func(ctx context.Context, data []byte, filename string) (string, error)

// Registry maps normalized format keys to extractors.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry builds a registry with the built-in formats registered.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register("txt", extractText)
	r.Register("pdf", extractPDF)
	r.Register("docx", extractDOCX)
	r.Register("xlsx", extractXLSX)
	return r
}

// Register adds or replaces the extractor for a format key.
func (r *Registry) Register(format string, e Extractor) {
	r.extractors[format] = e
}

// mimeFormats maps exact MIME types to format keys.
var mimeFormats = map[string]string{
	"text/plain":      "txt",
	"application/pdf": "pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
}

// Format resolves a MIME type and filename to a registered format key,
// or "" when neither matches.
func (r *Registry) Format(mimeType, filename string) string {
	if f, ok := mimeFormats[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		if _, registered := r.extractors[f]; registered {
			return f
		}
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if _, registered := r.extractors[ext]; registered {
		return ext
	}
	return ""
}

// Extract routes the document to its extractor and returns plain text.
func (r *Registry) Extract(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	format := r.Format(mimeType, filename)
	if format == "" {
		return "", fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, filename, mimeType)
	}
	text, err := r.extractors[format](ctx, data, filename)
	if err != nil {
		return "", fmt.Errorf("extracting %s: %w", format, err)
	}
	return text, nil
}
