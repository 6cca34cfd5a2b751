package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const sniffLength = 1024

var pdfMagic = []byte("%PDF-")

// Expander turns a ConversionRequest into the ordered, deduplicated documents of a batch
type Expander struct {
	sandbox     *Sandbox
	collections CollectionProvider
}

// NewExpander creates an expander resolving paths inside sandbox. collections may be nil,
// in which case every collection name is unknown.
func NewExpander(sandbox *Sandbox, collections CollectionProvider) *Expander {
	return &Expander{sandbox: sandbox, collections: collections}
}

// Expand resolves the request. It only reads the filesystem.
func (e *Expander) Expand(ctx context.Context, req ConversionRequest) ([]PdfDocumentRef, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var refs []PdfDocumentRef
	switch req.Kind {
	case RequestSingle:
		ref, err := e.resolveFile(req.Path)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	case RequestMany:
		for _, p := range req.Paths {
			ref, err := e.resolveFile(p)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
	case RequestCollection:
		members, err := e.listCollection(ctx, req.Collection)
		if err != nil {
			return nil, err
		}
		for _, p := range members {
			ref, err := e.resolveFile(p)
			if err != nil {
				return nil, err
			}
			refs = append(refs, ref)
		}
	case RequestDirectory:
		found, err := e.walkDirectory(ctx, req.Path)
		if err != nil {
			return nil, err
		}
		refs = found
	}

	refs = dedupe(refs)
	assignDocumentIDs(refs)
	return refs, nil
}

func (e *Expander) listCollection(ctx context.Context, name string) ([]string, error) {
	if e.collections == nil {
		return nil, UnknownCollection(name)
	}
	members, err := e.collections.ListCollection(ctx, name)
	if err != nil {
		if errors.Is(err, ErrUnknownCollection) {
			return nil, err
		}
		return nil, fmt.Errorf("unable to list collection %q: %w", name, err)
	}
	return members, nil
}

// resolveFile checks an explicitly named document: inside the root, existing, with a PDF
// extension and header
func (e *Expander) resolveFile(p string) (PdfDocumentRef, error) {
	abs, err := e.sandbox.Resolve(p)
	if err != nil {
		return PdfDocumentRef{}, err
	}
	rel, err := e.sandbox.ToRelative(abs)
	if err != nil {
		return PdfDocumentRef{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return PdfDocumentRef{}, NewError(KindNotFound, p, "file does not exist", nil)
		}
		return PdfDocumentRef{}, NewError(KindNotFound, p, "unable to stat file", err)
	}
	if info.IsDir() {
		return PdfDocumentRef{}, NewError(KindNotAPdf, p, "path is a directory", nil)
	}
	if !hasPDFExtension(abs) {
		return PdfDocumentRef{}, NewError(KindNotAPdf, p, "file does not have a .pdf extension", nil)
	}
	if err := sniffPDF(abs); err != nil {
		return PdfDocumentRef{}, NewError(KindNotAPdf, p, "file is not a PDF", err)
	}
	return PdfDocumentRef{RelPath: rel, absPath: abs}, nil
}

// walkDirectory collects every *.pdf below dir in lexical order of relative path. Symbolic
// links are neither followed nor collected.
func (e *Expander) walkDirectory(ctx context.Context, dir string) ([]PdfDocumentRef, error) {
	absDir, err := e.sandbox.Resolve(dir)
	if err != nil {
		return nil, err
	}
	// the walk does not follow links, so a linked directory is refused rather than scanned as empty
	stat := os.Lstat
	if absDir == e.sandbox.Root() {
		stat = os.Stat
	}
	info, err := stat(absDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, NewError(KindNotFound, dir, "directory does not exist", nil)
		}
		return nil, NewError(KindNotFound, dir, "unable to stat directory", err)
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, NewError(KindNotADirectory, dir, "path is a symbolic link, links are not followed", nil)
	}
	if !info.IsDir() {
		return nil, NewError(KindNotADirectory, dir, "path is not a directory", nil)
	}

	var refs []PdfDocumentRef
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.Type()&fs.ModeSymlink != 0 || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !hasPDFExtension(path) {
			return nil
		}
		rel, err := e.sandbox.ToRelative(path)
		if err != nil {
			return err
		}
		refs = append(refs, PdfDocumentRef{RelPath: rel, absPath: path})
		return nil
	})
	if err != nil {
		var convErr *Error
		if errors.As(err, &convErr) {
			return nil, err
		}
		return nil, fmt.Errorf("unable to scan directory %q: %w", dir, err)
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].RelPath < refs[j].RelPath })
	return refs, nil
}

// dedupe drops later references to a file already in the batch
func dedupe(refs []PdfDocumentRef) []PdfDocumentRef {
	seen := make(map[string]bool, len(refs))
	out := refs[:0]
	for _, ref := range refs {
		key, err := filepath.EvalSymlinks(ref.absPath)
		if err != nil {
			key = ref.absPath
		}
		if seen[key] {
			Logger.Debug("Dropping duplicate document", "document", ref.RelPath)
			continue
		}
		seen[key] = true
		out = append(out, ref)
	}
	return out
}

// assignDocumentIDs names each document after its relative path without the extension,
// suffixing -2, -3 ... in batch order when two documents would share a directory
func assignDocumentIDs(refs []PdfDocumentRef) {
	used := make(map[string]bool, len(refs))
	for i := range refs {
		base := strings.TrimSuffix(refs[i].RelPath, filepath.Ext(refs[i].RelPath))
		if base == "" || strings.HasSuffix(base, "/") {
			base += "_"
		}
		id := base
		for n := 2; used[strings.ToLower(id)]; n++ {
			id = base + "-" + strconv.Itoa(n)
		}
		used[strings.ToLower(id)] = true
		refs[i].ID = id
	}
}

func hasPDFExtension(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// sniffPDF looks for the PDF header in the first bytes of the file
func sniffPDF(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, sniffLength)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	if !bytes.Contains(buf[:n], pdfMagic) {
		return fmt.Errorf("no %s header in the first %d bytes", pdfMagic, sniffLength)
	}
	return nil
}
