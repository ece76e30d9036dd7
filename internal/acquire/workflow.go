package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Searcher is the slice of the search client the workflow depends on.
// *Client satisfies it; tests inject a fake.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

// Workflow fetches search results for a query and writes them into a data
// directory as JSON record files, one per result, plus a summary file. The
// record shape matches what the ingestor's JSON path expects: a "text" field
// for the body, "title", and "source" for provenance.
type Workflow struct {
	searcher Searcher
	dataDir  string
	log      *slog.Logger
}

// NewWorkflow constructs a Workflow writing into dataDir.
// An empty dataDir defaults to "sample_data"; a nil log uses slog.Default.
func NewWorkflow(s Searcher, dataDir string, log *slog.Logger) *Workflow {
	if dataDir == "" {
		dataDir = "sample_data"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Workflow{searcher: s, dataDir: dataDir, log: log}
}

// record is the on-disk shape of one saved result.
type record struct {
	Text          string `json:"text"`
	Title         string `json:"title"`
	Source        string `json:"source"`
	PublishedDate string `json:"published_date,omitempty"`
	Language      string `json:"language,omitempty"`
	RetrievedAt   string `json:"retrieved_at"`
}

// ReportEntry names one result and whether it produced a record file.
type ReportEntry struct {
	// Title is the result's page title.
	Title string `json:"title"`
	// URL is the result's page address.
	URL string `json:"url"`
	// Status is "saved" or "skipped".
	Status string `json:"status"`
}

// Report summarizes one acquisition run. It is also written to the data
// directory as the run's summary file.
type Report struct {
	// Query is the search query.
	Query string `json:"query"`
	// Timestamp is the run timestamp in the file-name format.
	Timestamp string `json:"timestamp"`
	// TotalResults is the number of results the API returned.
	TotalResults int `json:"total_results"`
	// Saved is the number of record files written.
	Saved int `json:"saved"`
	// Skipped is the number of results dropped for having no snippet text.
	Skipped int `json:"skipped"`
	// Results names every result and its status.
	Results []ReportEntry `json:"results"`

	// Files holds the paths of the written record files, for callers that
	// feed them straight into the ingestor. Not part of the summary file.
	Files []string `json:"-"`
}

// Run searches for query and writes the results into the data directory.
// With clear set, existing directory contents are removed first so each run
// starts from a clean corpus. Results without snippet text are skipped and
// counted rather than failing the run.
func (w *Workflow) Run(ctx context.Context, query string, count int, clear bool) (*Report, error) {
	if clear {
		if err := w.clearDataDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("acquire: create data directory %s: %w", w.dataDir, err)
	}

	results, err := w.searcher.Search(ctx, query, count)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Query:        query,
		Timestamp:    time.Now().Format("20060102_150405"),
		TotalResults: len(results),
	}
	stem := fmt.Sprintf("%s_%s", report.Timestamp, safeName(query))

	for i, res := range results {
		entry := ReportEntry{Title: res.Title, URL: res.URL, Status: "saved"}
		if strings.TrimSpace(res.Snippet) == "" {
			w.log.Warn("result has no snippet text, skipping",
				slog.String("url", res.URL),
			)
			entry.Status = "skipped"
			report.Skipped++
			report.Results = append(report.Results, entry)
			continue
		}

		rec := record{
			Text:          res.Snippet,
			Title:         res.Title,
			Source:        res.URL,
			PublishedDate: res.PublishedDate,
			Language:      res.Language,
			RetrievedAt:   time.Now().UTC().Format(time.RFC3339),
		}
		path := filepath.Join(w.dataDir, fmt.Sprintf("%s_result_%d.json", stem, i+1))
		if err := writeJSONFile(path, rec); err != nil {
			return nil, err
		}

		report.Saved++
		report.Files = append(report.Files, path)
		report.Results = append(report.Results, entry)
		w.log.Info("saved search result", slog.String("path", path))
	}

	summaryPath := filepath.Join(w.dataDir, stem+"_summary.json")
	if err := writeJSONFile(summaryPath, report); err != nil {
		return nil, err
	}

	w.log.Info("acquisition complete",
		slog.String("query", query),
		slog.Int("saved", report.Saved),
		slog.Int("skipped", report.Skipped),
		slog.String("data_dir", w.dataDir),
	)
	return report, nil
}

// clearDataDir removes everything inside the data directory. A missing
// directory is fine; it gets created by Run afterwards.
func (w *Workflow) clearDataDir() error {
	entries, err := os.ReadDir(w.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("acquire: read data directory %s: %w", w.dataDir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(w.dataDir, e.Name())); err != nil {
			return fmt.Errorf("acquire: clear data directory %s: %w", w.dataDir, err)
		}
	}
	return nil
}

// writeJSONFile marshals v indented and writes it to path.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("acquire: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("acquire: write %s: %w", path, err)
	}
	return nil
}

// safeName reduces a query to a file-name friendly stem: alphanumerics,
// dashes, and underscores, spaces folded to underscores, capped at 50 runes.
func safeName(query string) string {
	var b strings.Builder
	for _, r := range query {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > 50 {
		s = s[:50]
	}
	return s
}
