package engine

import (
	"encoding/json"
)

// PdfDocumentRef identifies one PDF in a batch. RelPath and ID are safe to show to callers,
// the absolute path never leaves the engine.
type PdfDocumentRef struct {
	RelPath string
	ID      string
	absPath string
}

// RenderJob is one document handed to the worker pool
type RenderJob struct {
	Doc       PdfDocumentRef
	OutputDir string // absolute directory for this document's pages
	OutputRel string // OutputDir relative to the output root
}

// PageArtifact is one rendered page
type PageArtifact struct {
	Index  int    `json:"page"`
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// DocumentResult holds either the ordered pages of a document or the reason it failed
type DocumentResult struct {
	Document PdfDocumentRef
	Pages    []PageArtifact
	Failure  *Failure
}

// OK reports whether the document rendered completely
func (r DocumentResult) OK() bool {
	return r.Failure == nil
}

// BatchResult is one DocumentResult per expanded document, in expansion order
type BatchResult struct {
	ID          string
	Documents   []DocumentResult
	Transitions []Transition
}

// Succeeded counts the documents that rendered completely
func (b *BatchResult) Succeeded() int {
	n := 0
	for _, d := range b.Documents {
		if d.OK() {
			n++
		}
	}
	return n
}

// Failed counts the documents recorded as failures
func (b *BatchResult) Failed() int {
	return len(b.Documents) - b.Succeeded()
}

// Paths lists every page path of the batch in order
func (b *BatchResult) Paths() []string {
	var paths []string
	for _, d := range b.Documents {
		for _, p := range d.Pages {
			paths = append(paths, p.Path)
		}
	}
	return paths
}

type documentJSON struct {
	InputPath  string    `json:"inputPath"`
	DocumentID string    `json:"documentId"`
	Pages      []string  `json:"pages,omitempty"`
	Error      string    `json:"error,omitempty"`
	ErrorKind  ErrorKind `json:"errorKind,omitempty"`
}

// MarshalJSON writes the batch as an ordered list of {inputPath, pages} or {inputPath, error}
func (b *BatchResult) MarshalJSON() ([]byte, error) {
	out := make([]documentJSON, 0, len(b.Documents))
	for _, d := range b.Documents {
		entry := documentJSON{InputPath: d.Document.RelPath, DocumentID: d.Document.ID}
		if d.Failure != nil {
			entry.Error = d.Failure.Message
			entry.ErrorKind = d.Failure.Kind
		} else {
			entry.Pages = make([]string, 0, len(d.Pages))
			for _, p := range d.Pages {
				entry.Pages = append(entry.Pages, p.Path)
			}
		}
		out = append(out, entry)
	}
	return json.Marshal(out)
}
