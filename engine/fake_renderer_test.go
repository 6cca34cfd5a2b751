package engine

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drummonds/pdf2pics/config"
	"github.com/drummonds/pdf2pics/engine/pdfrenderer"
)

// fakeRenderer reads a tiny line based description from each "PDF":
//
//	pages=N     number of pages
//	corrupt     Open fails
//	failpage=K  page K (1-based) always fails
//	flaky=K     page K fails on the first attempt only
//	delay=D     every page render sleeps for D
//	panic       RenderPage panics
type fakeRenderer struct {
	wg     sync.WaitGroup
	opened atomic.Int32
	flaky  sync.Map
}

type fakeSpec struct {
	pages    int
	corrupt  bool
	failPage int
	flaky    int
	delay    time.Duration
	panics   bool
}

func (r *fakeRenderer) Open(path string) (pdfrenderer.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read PDF file: %w", err)
	}
	spec := fakeSpec{pages: 1}
	for _, line := range strings.Split(string(data), "\n") {
		key, value, _ := strings.Cut(strings.TrimSpace(line), "=")
		switch key {
		case "pages":
			spec.pages, _ = strconv.Atoi(value)
		case "corrupt":
			spec.corrupt = true
		case "failpage":
			spec.failPage, _ = strconv.Atoi(value)
		case "flaky":
			spec.flaky, _ = strconv.Atoi(value)
		case "delay":
			spec.delay, _ = time.ParseDuration(value)
		case "panic":
			spec.panics = true
		}
	}
	if spec.corrupt {
		return nil, errors.New("cannot open document " + path + ": syntax error")
	}
	r.opened.Add(1)
	r.wg.Add(1)
	return &fakeDocument{renderer: r, path: path, spec: spec}, nil
}

func (r *fakeRenderer) Close() error { return nil }

// wait blocks until every opened document is closed, including abandoned ones
func (r *fakeRenderer) wait() { r.wg.Wait() }

type fakeDocument struct {
	renderer *fakeRenderer
	path     string
	spec     fakeSpec
}

func (d *fakeDocument) NumPages() int { return d.spec.pages }

func (d *fakeDocument) RenderPage(index int, dpi float64) (image.Image, error) {
	if d.spec.delay > 0 {
		time.Sleep(d.spec.delay)
	}
	if d.spec.panics {
		panic("renderer blew up")
	}
	page := index + 1
	if page == d.spec.failPage {
		return nil, fmt.Errorf("bad xref on page %d of %s", page, d.path)
	}
	if page == d.spec.flaky {
		key := fmt.Sprintf("%s#%d", d.path, page)
		if _, seen := d.renderer.flaky.LoadOrStore(key, true); !seen {
			return nil, errors.New("transient render failure")
		}
	}
	scale := dpi / 72
	return image.NewRGBA(image.Rect(0, 0, int(10*scale)+page, int(14*scale))), nil
}

func (d *fakeDocument) Close() error {
	d.renderer.wg.Done()
	return nil
}

// testEnv is a PDF root and output root in a temp dir
type testEnv struct {
	cfg      config.BatchConfig
	renderer *fakeRenderer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	env := &testEnv{
		cfg: config.BatchConfig{
			PDFRoot:     filepath.Join(base, "pdfs"),
			OutputRoot:  filepath.Join(base, "out"),
			DPI:         72,
			Concurrency: 3,
			Timeout:     10 * time.Second,
			Format:      "png",
			JPEGQuality: 90,
			PageRetries: 0,
		},
		renderer: &fakeRenderer{},
	}
	if err := os.MkdirAll(env.cfg.PDFRoot, 0755); err != nil {
		t.Fatalf("Failed to create pdf root: %v", err)
	}
	// runs before TempDir removal so abandoned renders have finished writing
	t.Cleanup(env.renderer.wait)
	return env
}

func (env *testEnv) writePDF(t *testing.T, rel string, lines ...string) {
	t.Helper()
	writePDF(t, env.cfg.PDFRoot, rel, lines...)
}

func (env *testEnv) orchestrator(collections CollectionProvider) *Orchestrator {
	return NewOrchestrator(env.renderer, collections)
}

func writePDF(t *testing.T, root, rel string, lines ...string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	content := "%PDF-1.4\n" + strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test PDF: %v", err)
	}
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func relPaths(refs []PdfDocumentRef) []string {
	paths := make([]string, 0, len(refs))
	for _, ref := range refs {
		paths = append(paths, ref.RelPath)
	}
	return paths
}
