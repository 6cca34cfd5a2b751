package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// ErrPageRange is returned when a page index is outside the document
var ErrPageRange = errors.New("page index out of range")

// Renderer opens PDF files for page by page rasterisation
type Renderer interface {
	// Open parses the PDF at path. The caller must Close the returned document.
	Open(path string) (Document, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// Document is an open PDF. A Document is not safe for concurrent use.
type Document interface {
	NumPages() int
	// RenderPage rasterises the zero-based page index at the given DPI
	RenderPage(index int, dpi float64) (image.Image, error)
	Close() error
}

// ContextOpener is implemented by renderers whose Open may wait on a shared resource.
// The wait ends with ctx.
type ContextOpener interface {
	OpenContext(ctx context.Context, path string) (Document, error)
}

// OpenDocument opens path with r, bounded by ctx when r supports it
func OpenDocument(ctx context.Context, r Renderer, path string) (Document, error) {
	if opener, ok := r.(ContextOpener); ok {
		return opener.OpenContext(ctx, path)
	}
	return r.Open(path)
}

// NewRenderer creates the renderer for the named backend. poolSize bounds the number of
// documents a pooled backend can hold open at once.
func NewRenderer(backend string, poolSize int) (Renderer, error) {
	switch strings.ToLower(backend) {
	case "", "fitz", "mupdf":
		return NewFitzRenderer()
	case "pdfium":
		return NewPDFiumRenderer(poolSize)
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", backend)
	}
}

func checkPageRange(index, numPages int) error {
	if index < 0 || index >= numPages {
		return fmt.Errorf("%w: %d of %d", ErrPageRange, index, numPages)
	}
	return nil
}
