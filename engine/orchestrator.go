package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/drummonds/pdf2pics/config"
	"github.com/drummonds/pdf2pics/engine/pdfrenderer"
	"github.com/oklog/ulid/v2"
)

// Orchestrator runs conversion batches: expand, schedule, render, aggregate
type Orchestrator struct {
	Renderer    pdfrenderer.Renderer
	Collections CollectionProvider
	Tracker     *Tracker
}

// NewOrchestrator creates an orchestrator. collections may be nil.
func NewOrchestrator(renderer pdfrenderer.Renderer, collections CollectionProvider) *Orchestrator {
	return &Orchestrator{
		Renderer:    renderer,
		Collections: collections,
		Tracker:     NewTracker(),
	}
}

// Convert runs one batch to completion and blocks until every document has a result or the
// batch timeout elapses. Request level problems (bad shape, sandbox violations, missing
// input, unknown collection) fail the whole call before anything is written. Problems with
// a single document are recorded in its DocumentResult.
func (o *Orchestrator) Convert(ctx context.Context, req ConversionRequest, cfg config.BatchConfig) (*BatchResult, error) {
	if o.Renderer == nil {
		return nil, errors.New("no renderer configured")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch configuration: %w", err)
	}
	lifecycle, err := NewLifecycle()
	if err != nil {
		return nil, err
	}

	batchID := ulid.Make().String()
	logger := Logger.With("batchID", batchID)
	tracker := o.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	tracker.begin(batchID, req)
	defer tracker.finish(batchID)

	advance := func(step func() error) {
		if err := step(); err != nil {
			logger.Error("Batch lifecycle out of step", "error", err)
		}
		tracker.setState(batchID, lifecycle.State())
	}
	abort := func(err error) (*BatchResult, error) {
		advance(lifecycle.Fail)
		logger.Warn("Batch aborted", "kind", req.Kind, "target", req.Target(), "error", err)
		return nil, err
	}

	logger.Info("Batch received", "kind", req.Kind, "target", req.Target(), "outputDir", req.OutputDir)

	pdfSandbox, err := NewSandbox(cfg.PDFRoot)
	if err != nil {
		return abort(err)
	}
	outputSandbox, err := NewSandbox(cfg.OutputRoot)
	if err != nil {
		return abort(err)
	}

	docs, err := NewExpander(pdfSandbox, o.Collections).Expand(ctx, req)
	if err != nil {
		return abort(err)
	}
	advance(lifecycle.Expand)
	tracker.setTotal(batchID, len(docs))

	jobs, err := planJobs(outputSandbox, req.OutputDir, docs)
	if err != nil {
		return abort(err)
	}
	pool, err := NewRenderPool(o.Renderer, cfg)
	if err != nil {
		return abort(err)
	}
	pool.OnDone = func(result DocumentResult) {
		tracker.documentDone(batchID, result.OK())
	}
	advance(lifecycle.Schedule)

	renderCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	advance(lifecycle.Render)
	results := pool.Render(renderCtx, jobs)

	documents, err := Aggregate(docs, results)
	if err != nil {
		advance(lifecycle.Fail)
		logger.Error("Batch result is inconsistent", "error", err)
		return nil, err
	}
	advance(lifecycle.Aggregate)

	batch := &BatchResult{ID: batchID, Documents: documents}
	advance(lifecycle.Return)
	batch.Transitions = lifecycle.Transitions()
	logger.Info("Batch returned", "documents", len(documents), "succeeded", batch.Succeeded(), "failed", batch.Failed())
	return batch, nil
}

// planJobs places each document in its own directory under outputDir. A document whose
// directory name is taken by a file (the default log file lives in the output root) is moved
// to the next free -N suffix, and its ID in docs follows.
func planJobs(outputSandbox *Sandbox, outputDir string, docs []PdfDocumentRef) ([]RenderJob, error) {
	base := "."
	if outputDir != "" {
		norm, err := Normalize(outputDir)
		if err != nil {
			return nil, err
		}
		if _, err := outputSandbox.Resolve(norm); err != nil {
			return nil, err
		}
		base = norm
	}

	used := make(map[string]bool, len(docs))
	for _, doc := range docs {
		used[strings.ToLower(doc.ID)] = true
	}

	jobs := make([]RenderJob, 0, len(docs))
	for i := range docs {
		rel := path.Join(base, docs[i].ID)
		abs, err := outputSandbox.Resolve(rel)
		if err != nil {
			return nil, err
		}
		if occupiedByFile(abs) {
			for n := 2; ; n++ {
				id := docs[i].ID + "-" + strconv.Itoa(n)
				if used[strings.ToLower(id)] {
					continue
				}
				candidateRel := path.Join(base, id)
				candidate, err := outputSandbox.Resolve(candidateRel)
				if err != nil {
					return nil, err
				}
				if occupiedByFile(candidate) {
					continue
				}
				Logger.Warn("Output folder name taken by a file, using a suffix", "document", docs[i].RelPath, "documentID", id)
				used[strings.ToLower(id)] = true
				docs[i].ID = id
				rel, abs = candidateRel, candidate
				break
			}
		}
		jobs = append(jobs, RenderJob{Doc: docs[i], OutputDir: abs, OutputRel: rel})
	}
	return jobs, nil
}

func occupiedByFile(abs string) bool {
	info, err := os.Stat(abs)
	return err == nil && !info.IsDir()
}
