package acquire

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sourcedai/sai-go/internal/engine"
	"github.com/sourcedai/sai-go/internal/ingest"
)

// newTestClient points a search client at a fake API served by httptest.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(&Config{
		APIKey:   "test-token",
		Endpoint: srv.URL,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

// apiResponse builds the API's result envelope for the given descriptions.
func apiResponse(items ...map[string]string) []byte {
	results := make([]map[string]any, 0, len(items))
	for _, item := range items {
		m := make(map[string]any, len(item))
		for k, v := range item {
			m[k] = v
		}
		results = append(results, m)
	}
	body, _ := json.Marshal(map[string]any{
		"web": map[string]any{"results": results},
	})
	return body
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewClient(&Config{})
	if err == nil || !strings.Contains(err.Error(), "API key") {
		t.Fatalf("expected API key error, got %v", err)
	}
}

func TestSearch_RequestShapeAndParsing(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Subscription-Token"); got != "test-token" {
			t.Errorf("subscription token: got %q", got)
		}
		if got := r.URL.Query().Get("q"); got != "vector databases" {
			t.Errorf("query param: got %q", got)
		}
		if got := r.URL.Query().Get("count"); got != "2" {
			t.Errorf("count param: got %q", got)
		}
		w.Write(apiResponse(
			map[string]string{
				"title":       "Intro to vector search",
				"url":         "https://example.com/vs",
				"description": "How vector search works.",
				"age":         "2 weeks ago",
				"language":    "en",
			},
			map[string]string{
				"title":       "k-NN indexes",
				"url":         "https://example.com/knn",
				"description": "Index structures for nearest neighbors.",
			},
		))
	}))

	results, err := client.Search(t.Context(), "vector databases", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	first := results[0]
	if first.Title != "Intro to vector search" ||
		first.URL != "https://example.com/vs" ||
		first.Snippet != "How vector search works." ||
		first.PublishedDate != "2 weeks ago" ||
		first.Language != "en" {
		t.Errorf("unexpected first result: %+v", first)
	}
	if results[1].PublishedDate != "" {
		t.Errorf("expected empty published date, got %q", results[1].PublishedDate)
	}
}

func TestSearch_CountCappedAtAPILimit(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("count"); got != "20" {
			t.Errorf("count param: got %q, want capped 20", got)
		}
		w.Write(apiResponse())
	}))

	if _, err := client.Search(t.Context(), "anything", 50); err != nil {
		t.Fatalf("Search: %v", err)
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the API")
		w.WriteHeader(http.StatusOK)
	}))

	if _, err := client.Search(t.Context(), "   ", 5); err == nil {
		t.Fatal("expected error for blank query")
	}
}

func TestSearch_NonSuccessStatus(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))

	_, err := client.Search(t.Context(), "anything", 5)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "429") || !strings.Contains(err.Error(), "rate limited") {
		t.Errorf("expected status and body in error, got: %v", err)
	}
}

// fakeSearcher returns canned results without touching the network.
type fakeSearcher struct {
	results []SearchResult
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, _ string, _ int) ([]SearchResult, error) {
	return f.results, f.err
}

func TestWorkflow_Run_SavesRecordsAndSummary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	wf := NewWorkflow(&fakeSearcher{results: []SearchResult{
		{Title: "First", URL: "https://example.com/1", Snippet: "first snippet", Language: "en"},
		{Title: "No text", URL: "https://example.com/2", Snippet: "   "},
		{Title: "Second", URL: "https://example.com/3", Snippet: "second snippet"},
	}}, dir, nil)

	report, err := wf.Run(t.Context(), "test query", 3, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.TotalResults != 3 || report.Saved != 2 || report.Skipped != 1 {
		t.Errorf("report counts: %+v", report)
	}
	if len(report.Files) != 2 {
		t.Fatalf("expected 2 record files, got %d", len(report.Files))
	}
	if report.Results[1].Status != "skipped" {
		t.Errorf("expected second result skipped, got %+v", report.Results[1])
	}

	// Record files hold the ingestible shape.
	data, err := os.ReadFile(report.Files[0])
	if err != nil {
		t.Fatalf("read record file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(data, &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec["text"] != "first snippet" || rec["title"] != "First" || rec["source"] != "https://example.com/1" {
		t.Errorf("unexpected record: %v", rec)
	}
	if rec["retrieved_at"] == "" {
		t.Error("record missing retrieved_at")
	}

	// A summary file sits alongside the records.
	summaries, err := filepath.Glob(filepath.Join(dir, "*_summary.json"))
	if err != nil || len(summaries) != 1 {
		t.Fatalf("expected 1 summary file, got %v (%v)", summaries, err)
	}
	sdata, err := os.ReadFile(summaries[0])
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary Report
	if err := json.Unmarshal(sdata, &summary); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if summary.Query != "test query" || summary.Saved != 2 || len(summary.Results) != 3 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestWorkflow_Run_ClearRemovesPreviousData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stale := filepath.Join(dir, "stale_result.json")
	if err := os.WriteFile(stale, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	wf := NewWorkflow(&fakeSearcher{results: []SearchResult{
		{Title: "Fresh", URL: "https://example.com/f", Snippet: "fresh"},
	}}, dir, nil)

	if _, err := wf.Run(t.Context(), "q", 1, true); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale file survived clear: %v", err)
	}
}

func TestWorkflow_Run_KeepLeavesPreviousData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	stale := filepath.Join(dir, "stale_result.json")
	if err := os.WriteFile(stale, []byte(`{}`), 0o644); err != nil {
		t.Fatal(err)
	}

	wf := NewWorkflow(&fakeSearcher{}, dir, nil)
	if _, err := wf.Run(t.Context(), "q", 1, false); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(stale); err != nil {
		t.Errorf("existing file should survive without clear: %v", err)
	}
}

func TestWorkflow_Run_SearchErrorPropagates(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("search down")
	wf := NewWorkflow(&fakeSearcher{err: wantErr}, t.TempDir(), nil)

	_, err := wf.Run(t.Context(), "q", 1, false)
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected search error, got %v", err)
	}
}

// acceptAllWriter accepts every document, recording the bodies it saw.
type acceptAllWriter struct {
	bodies []map[string]any
}

func (w *acceptAllWriter) Bulk(_ context.Context, _ string, docs []engine.BulkDoc) ([]engine.ItemResult, error) {
	results := make([]engine.ItemResult, 0, len(docs))
	for _, doc := range docs {
		w.bodies = append(w.bodies, doc.Body)
		results = append(results, engine.ItemResult{ID: doc.ID, Status: http.StatusCreated})
	}
	return results, nil
}

// Saved record files must flow through the ingestor's JSON path unchanged.
func TestWorkflow_RecordFilesAreIngestible(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	wf := NewWorkflow(&fakeSearcher{results: []SearchResult{
		{Title: "Ingestible", URL: "https://example.com/i", Snippet: "body text", Language: "en"},
	}}, dir, nil)

	report, err := wf.Run(t.Context(), "pipeline check", 1, false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(report.Files) != 1 {
		t.Fatalf("expected 1 record file, got %d", len(report.Files))
	}

	writer := &acceptAllWriter{}
	ing, err := ingest.New(writer, &ingest.Config{Index: "test-index"})
	if err != nil {
		t.Fatalf("ingest.New: %v", err)
	}

	summary, err := ing.IngestJSONFile(t.Context(), report.Files[0], "text", "title")
	if err != nil {
		t.Fatalf("IngestJSONFile: %v", err)
	}
	if summary.Submitted != 1 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("unexpected summary: %+v", summary)
	}

	body := writer.bodies[0]
	if body["text"] != "body text" {
		t.Errorf("text field: got %v", body["text"])
	}
	if body["title"] != "Ingestible" {
		t.Errorf("title field: got %v", body["title"])
	}
	if body["source"] != "https://example.com/i" {
		t.Errorf("source provenance: got %v", body["source"])
	}
	if body["language"] != "en" {
		t.Errorf("language metadata: got %v", body["language"])
	}
}


