package engine

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/drummonds/pdf2pics/config"
	"github.com/drummonds/pdf2pics/engine/pdfrenderer"
	"github.com/felixgeelhaar/fortify/retry"
	"golang.org/x/sync/errgroup"
)

const partSuffix = ".part"

var pageFilePattern = regexp.MustCompile(`^page-(\d+)\.([A-Za-z]+)$`)

// RenderPool renders documents with a fixed number of workers. Pages of one document are
// rendered one after another.
type RenderPool struct {
	renderer    pdfrenderer.Renderer
	encoder     *pdfrenderer.Encoder
	retrier     retry.Retry[PageArtifact]
	dpi         float64
	concurrency int
	roots       []string

	// OnDone is called once per job as its result is recorded
	OnDone func(DocumentResult)
}

// NewRenderPool creates a pool rendering with the settings of cfg
func NewRenderPool(renderer pdfrenderer.Renderer, cfg config.BatchConfig) (*RenderPool, error) {
	encoder, err := pdfrenderer.NewEncoder(cfg.Format, cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &RenderPool{
		renderer: renderer,
		encoder:  encoder,
		retrier: retry.New[PageArtifact](retry.Config{
			MaxAttempts:        cfg.PageRetries + 1,
			InitialDelay:       50 * time.Millisecond,
			BackoffPolicy:      retry.BackoffExponential,
			Multiplier:         2.0,
			NonRetryableErrors: []error{pdfrenderer.ErrPageRange},
		}),
		dpi:         cfg.DPI,
		concurrency: concurrency,
		roots:       []string{cfg.PDFRoot, cfg.OutputRoot},
	}, nil
}

// Render runs every job and returns one result per job. Once ctx is done no further jobs
// are started and jobs in flight are abandoned, both recorded as cancelled.
func (p *RenderPool) Render(ctx context.Context, jobs []RenderJob) map[PdfDocumentRef]DocumentResult {
	results := make(map[PdfDocumentRef]DocumentResult, len(jobs))
	var mu sync.Mutex
	record := func(result DocumentResult) {
		mu.Lock()
		results[result.Document] = result
		mu.Unlock()
		if p.OnDone != nil {
			p.OnDone(result)
		}
	}

	workers := min(p.concurrency, len(jobs))
	queue := make(chan RenderJob)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for job := range queue {
				record(p.runJob(ctx, job))
			}
			return nil
		})
	}

	dispatched := 0
dispatch:
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break dispatch
		case queue <- job:
			dispatched++
		}
	}
	close(queue)
	_ = g.Wait()

	for _, job := range jobs[dispatched:] {
		record(cancelledResult(ctx, job.Doc))
	}
	return results
}

// runJob waits for the document to render or for ctx, whichever comes first
func (p *RenderPool) runJob(ctx context.Context, job RenderJob) DocumentResult {
	if ctx.Err() != nil {
		return cancelledResult(ctx, job.Doc)
	}
	done := make(chan DocumentResult, 1)
	go func() {
		done <- p.renderDocument(ctx, job)
	}()
	select {
	case result := <-done:
		return result
	case <-ctx.Done():
		Logger.Warn("Abandoning document render", "document", job.Doc.RelPath, "error", ctx.Err())
		return cancelledResult(ctx, job.Doc)
	}
}

func (p *RenderPool) renderDocument(ctx context.Context, job RenderJob) (result DocumentResult) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered while rendering document", "document", job.Doc.RelPath, "panic", r)
			result = failedResult(job.Doc, failure(KindRenderFailed, "renderer panic: %s", p.scrub(job, fmt.Sprint(r))))
		}
	}()

	start := time.Now()
	doc, err := pdfrenderer.OpenDocument(ctx, p.renderer, job.Doc.absPath)
	if err != nil {
		if ctx.Err() != nil {
			return cancelledResult(ctx, job.Doc)
		}
		Logger.Error("Unable to open PDF", "document", job.Doc.RelPath, "error", err)
		return failedResult(job.Doc, failure(KindRenderFailed, "unable to open PDF: %s", p.scrub(job, err.Error())))
	}
	defer doc.Close()

	numPages := doc.NumPages()
	if numPages <= 0 {
		return failedResult(job.Doc, failure(KindEmptyDocument, "document has no pages"))
	}

	if err := os.MkdirAll(job.OutputDir, 0755); err != nil {
		return failedResult(job.Doc, failure(KindRenderFailed, "unable to create output directory: %s", p.scrub(job, err.Error())))
	}

	pages := make([]PageArtifact, 0, numPages)
	for index := 0; index < numPages; index++ {
		if ctx.Err() != nil {
			return cancelledResult(ctx, job.Doc)
		}
		page, err := p.renderPage(ctx, doc, job, index)
		if err != nil {
			if ctx.Err() != nil {
				return cancelledResult(ctx, job.Doc)
			}
			Logger.Error("Page render failed", "document", job.Doc.RelPath, "page", index+1, "error", err)
			return failedResult(job.Doc, failure(KindRenderFailed, "page %d: %s", index+1, p.scrub(job, err.Error())))
		}
		pages = append(pages, page)
	}

	if err := removeStalePages(job.OutputDir, p.encoder.Extension(), numPages); err != nil {
		Logger.Warn("Unable to remove stale pages", "document", job.Doc.RelPath, "error", err)
	}
	Logger.Info("Document rendered", "document", job.Doc.RelPath, "pages", numPages, "duration", time.Since(start))
	return DocumentResult{Document: job.Doc, Pages: pages}
}

// renderPage renders, encodes and writes one page. Each attempt overwrites the same file.
func (p *RenderPool) renderPage(ctx context.Context, doc pdfrenderer.Document, job RenderJob, index int) (PageArtifact, error) {
	name := fmt.Sprintf("page-%04d.%s", index+1, p.encoder.Extension())
	return p.retrier.Do(ctx, func(ctx context.Context) (PageArtifact, error) {
		img, err := doc.RenderPage(index, p.dpi)
		if err != nil {
			return PageArtifact{}, err
		}
		if err := p.writeImage(filepath.Join(job.OutputDir, name), img); err != nil {
			return PageArtifact{}, err
		}
		bounds := img.Bounds()
		return PageArtifact{
			Index:  index + 1,
			Path:   path.Join(job.OutputRel, name),
			Width:  bounds.Dx(),
			Height: bounds.Dy(),
		}, nil
	})
}

// writeImage encodes into a .part file and renames it into place
func (p *RenderPool) writeImage(target string, img image.Image) error {
	tmp := target + partSuffix
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("unable to create image file: %w", err)
	}
	if err := p.encoder.Encode(f, img); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("unable to encode image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("unable to write image file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("unable to move image into place: %w", err)
	}
	return nil
}

// scrub strips absolute locations from messages that reach the caller
func (p *RenderPool) scrub(job RenderJob, msg string) string {
	msg = strings.ReplaceAll(msg, job.Doc.absPath, job.Doc.RelPath)
	msg = strings.ReplaceAll(msg, job.OutputDir, job.OutputRel)
	for _, root := range p.roots {
		if root != "" {
			msg = strings.ReplaceAll(msg, root+string(filepath.Separator), "")
		}
	}
	return msg
}

// removeStalePages deletes page files of this format numbered beyond numPages
func removeStalePages(dir, ext string, numPages int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pageFilePattern.FindStringSubmatch(entry.Name())
		if m == nil || !strings.EqualFold(m[2], ext) {
			continue
		}
		index, err := strconv.Atoi(m[1])
		if err != nil || index <= numPages {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func failedResult(doc PdfDocumentRef, f *Failure) DocumentResult {
	return DocumentResult{Document: doc, Failure: f}
}

func cancelledResult(ctx context.Context, doc PdfDocumentRef) DocumentResult {
	reason := "batch cancelled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "batch timeout elapsed"
	}
	return failedResult(doc, failure(KindCancelled, "%s before the document finished rendering", reason))
}
