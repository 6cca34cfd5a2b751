package pdfrenderer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/disintegration/imaging"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

const instanceTimeout = 30 * time.Second

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo).
// Every open document holds its own instance from the pool, so the pool size bounds the
// documents open across all batches.
type PDFiumRenderer struct {
	pool pdfium.Pool
}

// NewPDFiumRenderer creates a new PDFium-based PDF renderer using WebAssembly
func NewPDFiumRenderer(poolSize int) (*PDFiumRenderer, error) {
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  poolSize,
		MaxTotal: poolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}
	return &PDFiumRenderer{pool: pool}, nil
}

// Open reads the PDF into a pooled PDFium instance, waiting at most instanceTimeout for one
func (r *PDFiumRenderer) Open(path string) (Document, error) {
	ctx, cancel := context.WithTimeout(context.Background(), instanceTimeout)
	defer cancel()
	return r.OpenContext(ctx, path)
}

// OpenContext is Open waiting for a free instance until ctx is done. Instances are shared by
// every batch using this renderer, so a busy pool is not a fault of the document.
func (r *PDFiumRenderer) OpenContext(ctx context.Context, path string) (Document, error) {
	pdfBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}

	instance, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}

	doc, err := instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if err != nil {
		instance.Close()
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	pageCount, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		instance.Close()
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}

	return &pdfiumDocument{
		instance: instance,
		doc:      doc.Document,
		pages:    pageCount.PageCount,
	}, nil
}

func (r *PDFiumRenderer) acquire(ctx context.Context) (pdfium.Pdfium, error) {
	if r.pool == nil {
		return nil, errors.New("PDFium renderer is closed")
	}
	instance, err := r.pool.GetInstanceWithContext(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("waiting for a PDFium instance: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}
	return instance, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	if r.pool != nil {
		err := r.pool.Close()
		r.pool = nil
		return err
	}
	return nil
}

type pdfiumDocument struct {
	instance pdfium.Pdfium
	doc      references.FPDF_DOCUMENT
	pages    int
}

func (d *pdfiumDocument) NumPages() int {
	return d.pages
}

func (d *pdfiumDocument) RenderPage(index int, dpi float64) (image.Image, error) {
	if err := checkPageRange(index, d.pages); err != nil {
		return nil, err
	}
	pageRender, err := d.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: int(dpi),
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{
				Document: d.doc,
				Index:    index,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	// the pixel buffer lives in WebAssembly memory until Cleanup
	img := imaging.Clone(pageRender.Result.Image)
	pageRender.Cleanup()
	return img, nil
}

func (d *pdfiumDocument) Close() error {
	_, err := d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.doc})
	if closeErr := d.instance.Close(); err == nil {
		err = closeErr
	}
	return err
}
