package pdfrenderer

import (
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"
)

// Encoder writes rendered pages in a single raster format
type Encoder struct {
	format    imaging.Format
	extension string
	quality   int
}

// NewEncoder builds an encoder for a format name such as png, jpeg or tiff
func NewEncoder(name string, jpegQuality int) (*Encoder, error) {
	ext := strings.ToLower(strings.TrimPrefix(name, "."))
	format, err := imaging.FormatFromExtension(ext)
	if err != nil {
		return nil, fmt.Errorf("unsupported image format %q: %w", name, err)
	}
	switch format {
	case imaging.JPEG:
		ext = "jpg"
	case imaging.TIFF:
		ext = "tiff"
	}
	return &Encoder{format: format, extension: ext, quality: jpegQuality}, nil
}

// Extension is the file extension for encoded pages, without the dot
func (e *Encoder) Extension() string {
	return e.extension
}

// Encode writes img to w
func (e *Encoder) Encode(w io.Writer, img image.Image) error {
	var opts []imaging.EncodeOption
	if e.format == imaging.JPEG && e.quality > 0 {
		opts = append(opts, imaging.JPEGQuality(e.quality))
	}
	return imaging.Encode(w, img, e.format, opts...)
}
