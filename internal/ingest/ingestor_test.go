package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sourcedai/sai-go/internal/engine"
	"github.com/sourcedai/sai-go/internal/resilience"
)

// fakeWriter is an in-memory BulkWriter that records every bulk call and can
// reject specific document IDs, either permanently or transiently.
type fakeWriter struct {
	mu sync.Mutex
	// calls holds the documents of each bulk request, in call order.
	calls [][]engine.BulkDoc
	// store maps document ID to the last body indexed for it.
	store map[string]map[string]any
	// reject maps document ID to a permanent rejection reason.
	reject map[string]string
	// transient maps document ID to a count of 429 responses before success.
	transient map[string]int
	// err, when set, fails every bulk request outright.
	err error
	// assigned counts engine-assigned IDs for documents submitted without one.
	assigned int
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		store:     make(map[string]map[string]any),
		reject:    make(map[string]string),
		transient: make(map[string]int),
	}
}

func (f *fakeWriter) Bulk(_ context.Context, _ string, docs []engine.BulkDoc) ([]engine.ItemResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.calls = append(f.calls, docs)
	results := make([]engine.ItemResult, 0, len(docs))
	for _, doc := range docs {
		id := doc.ID
		if id == "" {
			f.assigned++
			id = fmt.Sprintf("gen_%d", f.assigned)
		}
		if reason, ok := f.reject[id]; ok {
			results = append(results, engine.ItemResult{ID: id, Status: 400, Error: reason})
			continue
		}
		if f.transient[id] > 0 {
			f.transient[id]--
			results = append(results, engine.ItemResult{ID: id, Status: 429, Error: "rejected_execution_exception: throttled"})
			continue
		}
		f.store[id] = doc.Body
		results = append(results, engine.ItemResult{ID: id, Status: 201})
	}
	return results, nil
}

// callCount returns the number of bulk requests issued so far.
func (f *fakeWriter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// newTestIngestor builds an Ingestor over a fresh fakeWriter.
func newTestIngestor(t *testing.T, cfg *Config) (*Ingestor, *fakeWriter) {
	t.Helper()
	writer := newFakeWriter()
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Index == "" {
		cfg.Index = "test-index"
	}
	ing, err := New(writer, cfg)
	if err != nil {
		t.Fatalf("new ingestor: %v", err)
	}
	return ing, writer
}

// writeFile creates a file under dir with the given content.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func Test_IngestTextFile_SingleDocumentMatchesContent(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)

	content := "Machine learning is a subset of artificial intelligence.\n"
	path := writeFile(t, t.TempDir(), "ml-notes.txt", content)

	summary, err := ing.IngestTextFile(t.Context(), path, TextFileOptions{})
	if err != nil {
		t.Fatalf("ingest text file: %v", err)
	}
	if summary.Submitted != 1 || summary.Failed != 0 {
		t.Fatalf("want submitted=1 failed=0, got %+v", summary)
	}

	body, ok := writer.store["ml-notes"]
	if !ok {
		t.Fatalf("document ml-notes not indexed; store: %v", writer.store)
	}
	if got := body["text"]; got != content {
		t.Errorf("text: got %q, want %q", got, content)
	}
	if got := body["title"]; got != "ml-notes.txt" {
		t.Errorf("default title: got %q, want %q", got, "ml-notes.txt")
	}
	if got := body["source"]; got != path {
		t.Errorf("default source: got %q, want %q", got, path)
	}
}

func Test_IngestTextFile_ExplicitTitleAndSource(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)
	path := writeFile(t, t.TempDir(), "a.txt", "content")

	_, err := ing.IngestTextFile(t.Context(), path, TextFileOptions{Title: "AI Sample", Source: "example"})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	body := writer.store["a"]
	if body["title"] != "AI Sample" || body["source"] != "example" {
		t.Errorf("overrides not applied: %v", body)
	}
}

func Test_IngestTextFile_MissingPath(t *testing.T) {
	t.Parallel()
	ing, _ := newTestIngestor(t, nil)

	_, err := ing.IngestTextFile(t.Context(), "/does/not/exist.txt", TextFileOptions{})
	if !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("want ErrSourceNotFound, got %v", err)
	}
}

func Test_IngestTextFile_BlankContent(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)
	path := writeFile(t, t.TempDir(), "blank.txt", "  \n\t\n")

	_, err := ing.IngestTextFile(t.Context(), path, TextFileOptions{})
	if !errors.Is(err, ErrEmptyContent) {
		t.Errorf("want ErrEmptyContent, got %v", err)
	}
	if writer.callCount() != 0 {
		t.Errorf("blank file must never reach the engine, got %d calls", writer.callCount())
	}
}

func Test_IngestJSONFile_SkipsRecordsMissingTextField(t *testing.T) {
	t.Parallel()
	ing, _ := newTestIngestor(t, nil)

	// 5 records, 3 with a usable "content" field.
	const payload = `[
		{"content": "first document", "name": "one"},
		{"content": "", "name": "two"},
		{"name": "three"},
		{"content": "fourth document", "name": "four"},
		{"content": "fifth document", "name": "five"}
	]`
	path := writeFile(t, t.TempDir(), "records.json", payload)

	summary, err := ing.IngestJSONFile(t.Context(), path, "content", "name")
	if err != nil {
		t.Fatalf("ingest json: %v", err)
	}
	if summary.Submitted != 3 {
		t.Errorf("submitted: got %d, want 3", summary.Submitted)
	}
	if summary.Skipped != 2 {
		t.Errorf("skipped: got %d, want 2", summary.Skipped)
	}
}

func Test_IngestJSONFile_TitleAndMetadataPassthrough(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)

	const payload = `[{"id": "doc-a", "text": "body", "headline": "The Headline", "lang": "en", "rank": 3}]`
	path := writeFile(t, t.TempDir(), "one.json", payload)

	summary, err := ing.IngestJSONFile(t.Context(), path, "text", "headline")
	if err != nil {
		t.Fatalf("ingest json: %v", err)
	}
	if summary.Submitted != 1 {
		t.Fatalf("want 1 submitted, got %+v", summary)
	}

	body := writer.store["doc-a"]
	if body["title"] != "The Headline" {
		t.Errorf("title: got %v", body["title"])
	}
	if body["lang"] != "en" {
		t.Errorf("metadata lang not passed through: %v", body)
	}
	if body["rank"] != float64(3) {
		t.Errorf("metadata rank not passed through: %v", body)
	}
}

func Test_IngestJSONFile_SingleObjectTreatedAsArray(t *testing.T) {
	t.Parallel()
	ing, _ := newTestIngestor(t, nil)
	path := writeFile(t, t.TempDir(), "single.json", `{"text": "solo record"}`)

	summary, err := ing.IngestJSONFile(t.Context(), path, "text", "")
	if err != nil {
		t.Fatalf("ingest json: %v", err)
	}
	if summary.Submitted != 1 {
		t.Errorf("want 1 submitted, got %+v", summary)
	}
}

func Test_IngestJSONFile_MalformedInput(t *testing.T) {
	t.Parallel()
	ing, _ := newTestIngestor(t, nil)
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
	}{
		{"not json", "definitely not json{"},
		{"array of scalars", `[1, 2, 3]`},
		{"top-level string", `"hello"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, dir, tc.name+".json", tc.content)
			_, err := ing.IngestJSONFile(t.Context(), path, "text", "")
			if !errors.Is(err, ErrMalformedInput) {
				t.Errorf("want ErrMalformedInput, got %v", err)
			}
		})
	}
}

func Test_IngestCustomData_EmptyIsNoOp(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)

	summary, err := ing.IngestCustomData(t.Context(), nil)
	if err != nil {
		t.Fatalf("ingest custom: %v", err)
	}
	if summary.Submitted != 0 || summary.Failed != 0 {
		t.Errorf("want zero summary, got %+v", summary)
	}
	if writer.callCount() != 0 {
		t.Errorf("empty input must issue no bulk calls, got %d", writer.callCount())
	}
}

func Test_IngestCustomData_BatchSizeBoundsRequests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		docs      int
		batchSize int
		wantCalls int
	}{
		{docs: 10, batchSize: 3, wantCalls: 4},
		{docs: 9, batchSize: 3, wantCalls: 3},
		{docs: 1, batchSize: 100, wantCalls: 1},
		{docs: 250, batchSize: 100, wantCalls: 3},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d_docs_batch_%d", tc.docs, tc.batchSize), func(t *testing.T) {
			t.Parallel()
			ing, writer := newTestIngestor(t, &Config{BatchSize: tc.batchSize})

			docs := make([]Document, tc.docs)
			for i := range docs {
				docs[i] = Document{ID: fmt.Sprintf("d%d", i), Text: "body"}
			}
			summary, err := ing.IngestCustomData(t.Context(), docs)
			if err != nil {
				t.Fatalf("ingest custom: %v", err)
			}
			if summary.Submitted != tc.docs {
				t.Errorf("submitted: got %d, want %d", summary.Submitted, tc.docs)
			}
			if writer.callCount() != tc.wantCalls {
				t.Errorf("bulk calls: got %d, want %d", writer.callCount(), tc.wantCalls)
			}
		})
	}
}

func Test_IngestCustomData_PartialBatchFailureReported(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)
	writer.reject["d2"] = "mapper_parsing_exception: bad field"

	docs := make([]Document, 5)
	for i := range docs {
		docs[i] = Document{ID: fmt.Sprintf("d%d", i), Text: "body"}
	}

	summary, err := ing.IngestCustomData(t.Context(), docs)
	if err != nil {
		t.Fatalf("partial failure must not be an error: %v", err)
	}
	if summary.Submitted != 4 || summary.Failed != 1 {
		t.Fatalf("want submitted=4 failed=1, got %+v", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].ID != "d2" {
		t.Errorf("failing id must be named: %+v", summary.Errors)
	}
}

func Test_IngestCustomData_SkipsBlankText(t *testing.T) {
	t.Parallel()
	ing, _ := newTestIngestor(t, nil)

	docs := []Document{
		{ID: "a", Text: "fine"},
		{ID: "b", Text: "   "},
		{ID: "c", Text: "also fine"},
	}
	summary, err := ing.IngestCustomData(t.Context(), docs)
	if err != nil {
		t.Fatalf("ingest custom: %v", err)
	}
	if summary.Submitted != 2 || summary.Skipped != 1 {
		t.Errorf("want submitted=2 skipped=1, got %+v", summary)
	}
}

func Test_IngestCustomData_EngineUnreachableIsFatal(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)
	writer.err = fmt.Errorf("%w: connection refused", engine.ErrUnreachable)

	_, err := ing.IngestCustomData(t.Context(), []Document{{ID: "a", Text: "body"}})
	if !errors.Is(err, engine.ErrUnreachable) {
		t.Errorf("want engine.ErrUnreachable, got %v", err)
	}
}

func Test_IngestCustomData_TransientRejectionRetried(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, &Config{
		Retry: resilience.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	})
	writer.transient["d0"] = 1 // one 429, then accepted

	summary, err := ing.IngestCustomData(t.Context(), []Document{
		{ID: "d0", Text: "body"},
		{ID: "d1", Text: "body"},
	})
	if err != nil {
		t.Fatalf("ingest custom: %v", err)
	}
	if summary.Submitted != 2 || summary.Failed != 0 {
		t.Errorf("want both submitted after retry, got %+v", summary)
	}
	if writer.callCount() != 2 {
		t.Errorf("want 2 bulk calls (initial + retry), got %d", writer.callCount())
	}
}

func Test_IngestCustomData_TransientRejectionNotRetriedByDefault(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)
	writer.transient["d0"] = 1

	summary, err := ing.IngestCustomData(t.Context(), []Document{{ID: "d0", Text: "body"}})
	if err != nil {
		t.Fatalf("ingest custom: %v", err)
	}
	if summary.Failed != 1 {
		t.Errorf("retries are opt-in; want failed=1, got %+v", summary)
	}
	if writer.callCount() != 1 {
		t.Errorf("want a single bulk call, got %d", writer.callCount())
	}
}

func Test_IngestDirectory_PatternMatching(t *testing.T) {
	t.Parallel()

	for _, recursive := range []bool{false, true} {
		t.Run(fmt.Sprintf("recursive_%v", recursive), func(t *testing.T) {
			t.Parallel()
			ing, writer := newTestIngestor(t, nil)

			dir := t.TempDir()
			writeFile(t, dir, "one.txt", "first")
			writeFile(t, dir, "two.txt", "second")
			writeFile(t, dir, "three.txt", "third")
			writeFile(t, dir, "notes.md", "markdown")
			writeFile(t, dir, "data.json", "{}")

			summary, err := ing.IngestDirectory(t.Context(), dir, "*.txt", recursive)
			if err != nil {
				t.Fatalf("ingest directory: %v", err)
			}
			if summary.Submitted != 3 {
				t.Errorf("want 3 submitted, got %+v", summary)
			}
			for _, id := range []string{"one", "two", "three"} {
				if _, ok := writer.store[id]; !ok {
					t.Errorf("document %q not indexed", id)
				}
			}
			if _, ok := writer.store["notes"]; ok {
				t.Error("non-matching file was ingested")
			}
		})
	}
}

func Test_IngestDirectory_RecursiveDescendsSubdirectories(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)

	dir := t.TempDir()
	writeFile(t, dir, "top.txt", "top level")
	writeFile(t, dir, filepath.Join("sub", "nested.txt"), "nested")

	flat, err := ing.IngestDirectory(t.Context(), dir, "*.txt", false)
	if err != nil {
		t.Fatalf("flat ingest: %v", err)
	}
	if flat.Submitted != 1 {
		t.Errorf("flat: want 1 submitted, got %+v", flat)
	}

	deep, err := ing.IngestDirectory(t.Context(), dir, "*.txt", true)
	if err != nil {
		t.Fatalf("recursive ingest: %v", err)
	}
	if deep.Submitted != 2 {
		t.Errorf("recursive: want 2 submitted, got %+v", deep)
	}

	// Nested files carry their relative path as provenance.
	if got := writer.store["nested"]["source"]; got != filepath.Join("sub", "nested.txt") {
		t.Errorf("nested source: got %v", got)
	}
}

func Test_IngestDirectory_MissingDir(t *testing.T) {
	t.Parallel()
	ing, _ := newTestIngestor(t, nil)

	_, err := ing.IngestDirectory(t.Context(), "/no/such/dir", "*.txt", true)
	if !errors.Is(err, ErrSourceNotFound) {
		t.Errorf("want ErrSourceNotFound, got %v", err)
	}
}

func Test_IngestDirectory_BlankFilesSkippedNotFatal(t *testing.T) {
	t.Parallel()
	ing, _ := newTestIngestor(t, nil)

	dir := t.TempDir()
	writeFile(t, dir, "good.txt", "content")
	writeFile(t, dir, "empty.txt", "")

	summary, err := ing.IngestDirectory(t.Context(), dir, "*.txt", false)
	if err != nil {
		t.Fatalf("ingest directory: %v", err)
	}
	if summary.Submitted != 1 || summary.Skipped != 1 {
		t.Errorf("want submitted=1 skipped=1, got %+v", summary)
	}
}

// lockedEntry is a minimal fs.DirEntry for exercising walk error handling.
type lockedEntry struct {
	name string
	dir  bool
}

func (e lockedEntry) Name() string { return e.name }
func (e lockedEntry) IsDir() bool  { return e.dir }
func (e lockedEntry) Type() fs.FileMode {
	if e.dir {
		return fs.ModeDir
	}
	return 0
}
func (e lockedEntry) Info() (fs.FileInfo, error) { return nil, fs.ErrPermission }

func Test_IngestDirectory_UnreadableEntriesDoNotAbortWalk(t *testing.T) {
	t.Parallel()

	// WalkDir reports enumeration failures through the callback's err
	// argument; the walk must continue past them so every readable file
	// still gets ingested.
	if got := skipEntry(lockedEntry{name: "locked", dir: true}); !errors.Is(got, fs.SkipDir) {
		t.Errorf("unreadable directory: want fs.SkipDir, got %v", got)
	}
	if got := skipEntry(lockedEntry{name: "locked.txt"}); got != nil {
		t.Errorf("unreadable file: want nil, got %v", got)
	}
	// WalkDir hands the callback a nil entry when the root itself fails.
	if got := skipEntry(nil); got != nil {
		t.Errorf("nil entry: want nil, got %v", got)
	}
}

func Test_Reingest_SameIDOverwrites(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, nil)
	ctx := t.Context()

	if _, err := ing.IngestCustomData(ctx, []Document{{ID: "doc_1", Text: "original text"}}); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, err := ing.IngestCustomData(ctx, []Document{{ID: "doc_1", Text: "updated text"}}); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if len(writer.store) != 1 {
		t.Fatalf("re-ingest must overwrite, not duplicate; store has %d entries", len(writer.store))
	}
	if got := writer.store["doc_1"]["text"]; got != "updated text" {
		t.Errorf("fetched text: got %q, want %q", got, "updated text")
	}
}

func Test_IngestCustomData_ConcurrentWorkers(t *testing.T) {
	t.Parallel()
	ing, writer := newTestIngestor(t, &Config{BatchSize: 10, Workers: 4})

	docs := make([]Document, 95)
	for i := range docs {
		docs[i] = Document{ID: fmt.Sprintf("d%d", i), Text: "body"}
	}
	summary, err := ing.IngestCustomData(t.Context(), docs)
	if err != nil {
		t.Fatalf("ingest custom: %v", err)
	}
	if summary.Submitted != 95 {
		t.Errorf("submitted: got %d, want 95", summary.Submitted)
	}
	if writer.callCount() != 10 {
		t.Errorf("bulk calls: got %d, want 10", writer.callCount())
	}
}


