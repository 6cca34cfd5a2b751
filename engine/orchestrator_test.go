package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/drummonds/pdf2pics/engine/pdfrenderer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pagePaths(result DocumentResult) []string {
	paths := make([]string, 0, len(result.Pages))
	for _, p := range result.Pages {
		paths = append(paths, p.Path)
	}
	return paths
}

// outputFiles lists every file under the output root, relative and sorted
func outputFiles(t *testing.T, root string) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			rel, _ := filepath.Rel(root, path)
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}

func TestConvert_ManyScenario(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "a.pdf", "pages=3")
	env.writePDF(t, "b.pdf", "pages=1")

	result, err := env.orchestrator(nil).Convert(context.Background(), Many("a.pdf", "b.pdf"), env.cfg)
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)

	assert.Equal(t, "a.pdf", result.Documents[0].Document.RelPath)
	assert.Equal(t, []string{"a/page-0001.png", "a/page-0002.png", "a/page-0003.png"}, pagePaths(result.Documents[0]))
	assert.Equal(t, "b.pdf", result.Documents[1].Document.RelPath)
	assert.Equal(t, []string{"b/page-0001.png"}, pagePaths(result.Documents[1]))

	for i, page := range result.Documents[0].Pages {
		assert.Equal(t, i+1, page.Index)
		assert.Equal(t, 10+page.Index, page.Width)
		assert.Equal(t, 14, page.Height)
	}

	f, err := os.Open(filepath.Join(env.cfg.OutputRoot, "a", "page-0002.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 12, img.Bounds().Dx())

	assert.Equal(t, []string{
		"a/page-0001.png", "a/page-0002.png", "a/page-0003.png", "b/page-0001.png",
	}, outputFiles(t, env.cfg.OutputRoot))
}

func TestConvert_OrderIndependentOfCompletion(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Concurrency = 6
	var names []string
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("doc%d.pdf", i)
		// earlier documents finish last
		env.writePDF(t, name, "pages=2", fmt.Sprintf("delay=%dms", (6-i)*15))
		names = append(names, name)
	}

	for run := 0; run < 2; run++ {
		result, err := env.orchestrator(nil).Convert(context.Background(), Many(names...), env.cfg)
		require.NoError(t, err)
		got := make([]string, 0, len(result.Documents))
		for _, d := range result.Documents {
			require.True(t, d.OK(), d.Document.RelPath)
			got = append(got, d.Document.RelPath)
		}
		assert.Equal(t, names, got)
	}
}

func TestConvert_CorruptDocumentIsContained(t *testing.T) {
	env := newTestEnv(t)
	var names []string
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("good%d.pdf", i)
		env.writePDF(t, name, "pages=2")
		names = append(names, name)
	}
	env.writePDF(t, "bad.pdf", "corrupt")
	names = append(names[:2], append([]string{"bad.pdf"}, names[2:]...)...)

	result, err := env.orchestrator(nil).Convert(context.Background(), Many(names...), env.cfg)
	require.NoError(t, err)
	require.Len(t, result.Documents, 6)
	assert.Equal(t, 5, result.Succeeded())
	assert.Equal(t, 1, result.Failed())

	bad := result.Documents[2]
	assert.Equal(t, "bad.pdf", bad.Document.RelPath)
	require.NotNil(t, bad.Failure)
	assert.Equal(t, KindRenderFailed, bad.Failure.Kind)
	assert.NotContains(t, bad.Failure.Message, env.cfg.PDFRoot)
	assert.Contains(t, bad.Failure.Message, "bad.pdf")
	assert.Empty(t, bad.Pages)
}

func TestConvert_PageFailureFailsWholeDocument(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "partial.pdf", "pages=4", "failpage=3")
	env.writePDF(t, "empty.pdf", "pages=0")
	env.writePDF(t, "panics.pdf", "panic")

	result, err := env.orchestrator(nil).Convert(context.Background(), Many("partial.pdf", "empty.pdf", "panics.pdf"), env.cfg)
	require.NoError(t, err)
	require.Len(t, result.Documents, 3)

	partial := result.Documents[0]
	require.NotNil(t, partial.Failure)
	assert.Equal(t, KindRenderFailed, partial.Failure.Kind)
	assert.Contains(t, partial.Failure.Message, "page 3")
	assert.Empty(t, partial.Pages)

	assert.Equal(t, KindEmptyDocument, result.Documents[1].Failure.Kind)
	assert.Equal(t, KindRenderFailed, result.Documents[2].Failure.Kind)
	assert.Contains(t, result.Documents[2].Failure.Message, "panic")
}

func TestConvert_RetriesTransientPageFailure(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "flaky.pdf", "pages=2", "flaky=2")

	env.cfg.PageRetries = 0
	result, err := env.orchestrator(nil).Convert(context.Background(), Single("flaky.pdf"), env.cfg)
	require.NoError(t, err)
	assert.False(t, result.Documents[0].OK())

	env.cfg.PageRetries = 2
	env.renderer.flaky.Clear()
	result, err = env.orchestrator(nil).Convert(context.Background(), Single("flaky.pdf"), env.cfg)
	require.NoError(t, err)
	assert.True(t, result.Documents[0].OK())
	assert.Len(t, result.Documents[0].Pages, 2)
}

func TestConvert_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "reports/x.pdf", "pages=2")
	env.writePDF(t, "reports/y.PDF", "pages=1")

	first, err := env.orchestrator(nil).Convert(context.Background(), Directory("reports"), env.cfg)
	require.NoError(t, err)
	filesAfterFirst := outputFiles(t, env.cfg.OutputRoot)

	second, err := env.orchestrator(nil).Convert(context.Background(), Directory("reports"), env.cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Paths(), second.Paths())
	assert.Equal(t, filesAfterFirst, outputFiles(t, env.cfg.OutputRoot))
	assert.Equal(t, []string{"reports/x/page-0001.png", "reports/x/page-0002.png", "reports/y/page-0001.png"}, first.Paths())
}

func TestConvert_RemovesStalePages(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "shrunk.pdf", "pages=2")
	writeFile(t, env.cfg.OutputRoot, "shrunk/page-0005.png", "old")
	writeFile(t, env.cfg.OutputRoot, "shrunk/page-0005.jpg", "other format")
	writeFile(t, env.cfg.OutputRoot, "shrunk/notes.txt", "keep")

	_, err := env.orchestrator(nil).Convert(context.Background(), Single("shrunk.pdf"), env.cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"shrunk/notes.txt", "shrunk/page-0001.png", "shrunk/page-0002.png", "shrunk/page-0005.jpg",
	}, outputFiles(t, env.cfg.OutputRoot))
}

func TestConvert_OutputDirAndFormat(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Format = "jpeg"
	env.writePDF(t, "a.pdf", "pages=1")

	result, err := env.orchestrator(nil).Convert(context.Background(), Single("a.pdf").WithOutputDir("runs/today"), env.cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"runs/today/a/page-0001.jpg"}, result.Paths())

	_, err = env.orchestrator(nil).Convert(context.Background(), Single("a.pdf").WithOutputDir("../escape"), env.cfg)
	assert.ErrorIs(t, err, ErrSandboxViolation)
}

func TestConvert_DuplicateIDsGetSeparateDirectories(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "x.pdf", "pages=1")
	env.writePDF(t, "x.PDF", "pages=2")
	if _, err := os.Stat(filepath.Join(env.cfg.PDFRoot, "X.pdf")); err == nil {
		t.Skip("case-insensitive filesystem")
	}

	result, err := env.orchestrator(nil).Convert(context.Background(), Many("x.pdf", "x.PDF"), env.cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"x/page-0001.png", "x-2/page-0001.png", "x-2/page-0002.png"}, result.Paths())
}

func TestConvert_ExpansionErrorsWriteNothing(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "a.pdf", "pages=1")
	orch := env.orchestrator(StaticCollections{"known": {"a.pdf"}})

	tests := []struct {
		req  ConversionRequest
		want error
	}{
		{Collection("unknown"), ErrUnknownCollection},
		{Many("a.pdf", "missing.pdf"), ErrNotFound},
		{Single("../../etc/passwd"), ErrSandboxViolation},
		{Directory("a.pdf"), ErrNotADirectory},
		{Many(), ErrInvalidRequest},
	}
	for _, tt := range tests {
		result, err := orch.Convert(context.Background(), tt.req, env.cfg)
		assert.ErrorIs(t, err, tt.want, "%+v", tt.req)
		assert.Nil(t, result)
	}
	_, err := os.Stat(env.cfg.OutputRoot)
	assert.True(t, os.IsNotExist(err), "output root should not have been created")
	assert.Empty(t, orch.Tracker.Active())
}

func TestConvert_EmptyCollectionIsEmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	orch := env.orchestrator(StaticCollections{"nothing": nil})

	result, err := orch.Convert(context.Background(), Collection("nothing"), env.cfg)
	require.NoError(t, err)
	assert.Empty(t, result.Documents)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(data))
}

func TestConvert_TimeoutCancelsInFlightAndQueued(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Concurrency = 1
	env.cfg.Timeout = 60 * time.Millisecond
	env.writePDF(t, "fast.pdf", "pages=1")
	env.writePDF(t, "slow.pdf", "pages=3", "delay=400ms")
	env.writePDF(t, "queued.pdf", "pages=1")

	start := time.Now()
	result, err := env.orchestrator(nil).Convert(context.Background(), Many("fast.pdf", "slow.pdf", "queued.pdf"), env.cfg)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 350*time.Millisecond, "in-flight render should be abandoned, not awaited")

	require.Len(t, result.Documents, 3)
	assert.True(t, result.Documents[0].OK())
	assert.Equal(t, KindCancelled, result.Documents[1].Failure.Kind)
	assert.Equal(t, KindCancelled, result.Documents[2].Failure.Kind)
}

func TestConvert_CallerCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "a.pdf", "pages=1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := env.orchestrator(nil).Convert(ctx, Single("a.pdf"), env.cfg)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	assert.Equal(t, KindCancelled, result.Documents[0].Failure.Kind)
	assert.Contains(t, result.Documents[0].Failure.Message, "cancelled")
}

func TestConvert_LifecycleAndTracker(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "slow.pdf", "pages=2", "delay=100ms")
	orch := env.orchestrator(nil)

	done := make(chan *BatchResult, 1)
	go func() {
		result, err := orch.Convert(context.Background(), Single("slow.pdf"), env.cfg)
		assert.NoError(t, err)
		done <- result
	}()

	require.Eventually(t, func() bool {
		active := orch.Tracker.Active()
		return len(active) == 1 && active[0].State == StateRendering && active[0].Total == 1
	}, 2*time.Second, 5*time.Millisecond)

	result := <-done
	assert.Empty(t, orch.Tracker.Active())

	var states []BatchState
	for _, tr := range result.Transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []BatchState{StateExpanded, StateScheduled, StateRendering, StateAggregated, StateReturned}, states)
	assert.NotEmpty(t, result.ID)
}

func TestConvert_InvalidConfig(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.Concurrency = 0
	_, err := env.orchestrator(nil).Convert(context.Background(), Single("a.pdf"), env.cfg)
	require.Error(t, err)
	assert.False(t, IsExpansionError(err))
}

func TestBatchResult_JSONHidesAbsolutePaths(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "dir/a.pdf", "pages=1")
	env.writePDF(t, "dir/bad.pdf", "corrupt")

	result, err := env.orchestrator(nil).Convert(context.Background(), Directory("dir"), env.cfg)
	require.NoError(t, err)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), env.cfg.PDFRoot))
	assert.False(t, strings.Contains(string(data), env.cfg.OutputRoot))
	assert.JSONEq(t, `[
		{"inputPath": "dir/a.pdf", "documentId": "dir/a", "pages": ["dir/a/page-0001.png"]},
		{"inputPath": "dir/bad.pdf", "documentId": "dir/bad", "error": "unable to open PDF: cannot open document dir/bad.pdf: syntax error", "errorKind": "render_failed"}
	]`, string(data))
}

func TestConvert_OutputRootUnderLinkedParent(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "a.pdf", "pages=1")
	base := filepath.Dir(env.cfg.OutputRoot)
	require.NoError(t, os.Mkdir(filepath.Join(base, "real"), 0755))
	if err := os.Symlink(filepath.Join(base, "real"), filepath.Join(base, "link")); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
	// first run, the output root does not exist yet
	env.cfg.OutputRoot = filepath.Join(base, "link", "out")

	result, err := env.orchestrator(nil).Convert(context.Background(), Single("a.pdf"), env.cfg)
	require.NoError(t, err)
	require.True(t, result.Documents[0].OK(), "%+v", result.Documents[0].Failure)
	assert.Equal(t, []string{"a/page-0001.png"}, pagePaths(result.Documents[0]))
	assert.FileExists(t, filepath.Join(base, "real", "out", "a", "page-0001.png"))
}

func TestConvert_DocumentFolderTakenByFile(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "conversion.log.pdf", "pages=1")
	env.writePDF(t, "conversion.log-2.pdf", "pages=1")
	writeFile(t, env.cfg.OutputRoot, "conversion.log", "time=... level=INFO msg=started\n")

	result, err := env.orchestrator(nil).Convert(context.Background(), Many("conversion.log.pdf", "conversion.log-2.pdf"), env.cfg)
	require.NoError(t, err)
	require.Len(t, result.Documents, 2)
	for _, doc := range result.Documents {
		require.True(t, doc.OK(), "%+v", doc.Failure)
	}
	assert.Equal(t, "conversion.log-3", result.Documents[0].Document.ID)
	assert.Equal(t, []string{"conversion.log-3/page-0001.png"}, pagePaths(result.Documents[0]))
	assert.Equal(t, "conversion.log-2", result.Documents[1].Document.ID)

	logData, err := os.ReadFile(filepath.Join(env.cfg.OutputRoot, "conversion.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "msg=started")
}

// busyRenderer never has a free instance, OpenContext waits until ctx is done
type busyRenderer struct {
	fakeRenderer
}

func (r *busyRenderer) OpenContext(ctx context.Context, path string) (pdfrenderer.Document, error) {
	<-ctx.Done()
	return nil, fmt.Errorf("waiting for a renderer instance: %w", ctx.Err())
}

func TestRenderDocument_WaitingForRendererIsCancelled(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "a.pdf", "pages=1")
	pool, err := NewRenderPool(&busyRenderer{}, env.cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	job := RenderJob{
		Doc:       PdfDocumentRef{RelPath: "a.pdf", ID: "a", absPath: filepath.Join(env.cfg.PDFRoot, "a.pdf")},
		OutputDir: filepath.Join(env.cfg.OutputRoot, "a"),
		OutputRel: "a",
	}

	result := pool.renderDocument(ctx, job)
	require.NotNil(t, result.Failure)
	assert.Equal(t, KindCancelled, result.Failure.Kind)
	assert.Contains(t, result.Failure.Message, "timeout")
}

func TestConvert_BusyRendererDoesNotFailDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.writePDF(t, "a.pdf", "pages=1")
	env.cfg.Timeout = 100 * time.Millisecond

	result, err := NewOrchestrator(&busyRenderer{}, nil).Convert(context.Background(), Single("a.pdf"), env.cfg)
	require.NoError(t, err)
	require.Len(t, result.Documents, 1)
	require.NotNil(t, result.Documents[0].Failure)
	assert.Equal(t, KindCancelled, result.Documents[0].Failure.Kind)
}
