// Package document provides the text extraction and page rendering
// capabilities the tracker consumes. Each format family is a Backend;
// Registry dispatches on the file extension.
package document

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrUnsupported     = errors.New("unsupported document type")
	ErrPageOutOfRange  = errors.New("page out of range")
	errDecodeRecovered = errors.New("document decoder panicked")
)

// DefaultDPI is the resolution used when callers pass zero.
const DefaultDPI = 150

// TextExtractor returns the plain-text content of a document.
type TextExtractor interface {
	ExtractText(ctx context.Context, path string) (string, error)
}

// PageRenderer counts and rasterizes the pages of a document.
type PageRenderer interface {
	PageCount(ctx context.Context, path string) (int, error)
	RenderPage(ctx context.Context, path string, page int, dpi float64) (image.Image, error)
}

type Backend interface {
	TextExtractor
	PageRenderer
}

// Registry routes each call to the backend registered for the file extension.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry returns a registry with the built-in PDF, mail and text backends.
func NewRegistry() *Registry {
	r := &Registry{backends: map[string]Backend{}}
	r.Register(PDF{}, ".pdf")
	r.Register(Mail{}, ".eml")
	r.Register(Text{}, ".txt", ".md", ".text")
	return r
}

// Register binds backend to the given extensions, replacing earlier bindings.
func (r *Registry) Register(backend Backend, exts ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range exts {
		r.backends[normalizeExt(ext)] = backend
	}
}

// Supports reports whether a backend is registered for path.
func (r *Registry) Supports(path string) bool {
	_, err := r.backend(path)
	return err == nil
}

func (r *Registry) ExtractText(ctx context.Context, path string) (string, error) {
	b, err := r.backend(path)
	if err != nil {
		return "", err
	}
	return b.ExtractText(ctx, path)
}

func (r *Registry) PageCount(ctx context.Context, path string) (int, error) {
	b, err := r.backend(path)
	if err != nil {
		return 0, err
	}
	return b.PageCount(ctx, path)
}

func (r *Registry) RenderPage(ctx context.Context, path string, page int, dpi float64) (image.Image, error) {
	b, err := r.backend(path)
	if err != nil {
		return nil, err
	}
	return b.RenderPage(ctx, path, page, dpi)
}

func (r *Registry) backend(path string) (Backend, error) {
	ext := normalizeExt(filepath.Ext(path))
	r.mu.RLock()
	b, ok := r.backends[ext]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return b, nil
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func checkPage(page, count int) error {
	if page < 0 || page >= count {
		return fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, count)
	}
	return nil
}
