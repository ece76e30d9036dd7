package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sourcedai/sai-go/internal/engine"
	"github.com/sourcedai/sai-go/internal/resilience"
)

// Config holds the configuration for an Ingestor.
type Config struct {
	// Index is the target index name.
	Index string

	// TextField is the document field the engine pipeline embeds.
	// Defaults to "text" if empty.
	TextField string

	// BatchSize is the maximum number of documents per bulk request.
	// Defaults to 100 if zero.
	BatchSize int

	// Workers is the number of concurrent batch submitters. Batches are
	// order-independent so concurrent submission is safe; defaults to 1
	// (sequential) if zero.
	Workers int

	// Retry controls resubmission of documents the engine rejected with a
	// transient status (429/503). MaxAttempts of 1 (the default here)
	// disables retries — callers opt in explicitly.
	Retry resilience.Policy

	// Logger is the structured logger. Defaults to slog.Default if nil.
	Logger *slog.Logger
}

// Ingestor converts caller-provided raw material into valid documents and
// submits them to the engine in batches. Each ingestion call is independent;
// no state is shared across calls.
type Ingestor struct {
	// writer is the bulk API of the engine client.
	writer BulkWriter

	// cfg holds the resolved configuration.
	cfg *Config
}

// New constructs an Ingestor from the provided engine client and config.
func New(writer BulkWriter, cfg *Config) (*Ingestor, error) {
	if writer == nil {
		return nil, fmt.Errorf("ingest: bulk writer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("ingest: index name must not be empty")
	}
	if cfg.TextField == "" {
		cfg.TextField = "text"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Ingestor{writer: writer, cfg: cfg}, nil
}

// TextFileOptions overrides the defaults derived from the file path.
type TextFileOptions struct {
	// Title overrides the default title (the file's base name).
	Title string

	// Source overrides the default provenance tag (the file path).
	Source string
}

// IngestTextFile reads one file's full contents as the document text and
// submits a single document. The document ID is the file's base name without
// extension, so re-ingesting the same file overwrites rather than duplicates.
func (i *Ingestor) IngestTextFile(ctx context.Context, path string, opts TextFileOptions) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: %w: %s: %v", ErrSourceNotFound, path, err)
	}

	text := string(data)
	if strings.TrimSpace(text) == "" {
		return Summary{}, fmt.Errorf("ingest: %w: %s", ErrEmptyContent, path)
	}

	doc := Document{
		ID:     idFromFilename(path),
		Text:   text,
		Title:  opts.Title,
		Source: opts.Source,
	}
	if doc.Title == "" {
		doc.Title = filepath.Base(path)
	}
	if doc.Source == "" {
		doc.Source = path
	}

	return i.submit(ctx, []Document{doc})
}

// IngestJSONFile parses a JSON array of records (a single top-level object is
// treated as a one-element array) and submits one document per record.
// Records missing or blank at textField are skipped and counted rather than
// failing the whole batch. titleField is optional; empty means no title.
func (i *Ingestor) IngestJSONFile(ctx context.Context, path, textField, titleField string) (Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: %w: %s: %v", ErrSourceNotFound, path, err)
	}
	if textField == "" {
		textField = "text"
	}

	records, err := decodeRecords(data)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: %w: %s: %v", ErrMalformedInput, path, err)
	}

	var skipped int
	docs := make([]Document, 0, len(records))
	for idx, rec := range records {
		text, ok := rec[textField].(string)
		if !ok || strings.TrimSpace(text) == "" {
			i.cfg.Logger.Warn("record missing text field, skipping",
				slog.String("path", path),
				slog.Int("record", idx),
				slog.String("text_field", textField),
			)
			skipped++
			continue
		}

		doc := Document{Text: text, Metadata: make(map[string]any)}
		if id, ok := rec["id"].(string); ok && id != "" {
			doc.ID = id
		} else {
			doc.ID = fmt.Sprintf("doc_%d", idx)
		}
		if titleField != "" {
			if title, ok := rec[titleField].(string); ok {
				doc.Title = title
			}
		}
		if source, ok := rec["source"].(string); ok {
			doc.Source = source
		}
		for k, v := range rec {
			if k == textField || k == titleField || k == "id" || k == "source" {
				continue
			}
			doc.Metadata[k] = v
		}
		docs = append(docs, doc)
	}

	summary, err := i.submit(ctx, docs)
	summary.Skipped += skipped
	return summary, err
}

// IngestDirectory ingests every file under dir whose base name matches the
// glob pattern, optionally descending into subdirectories. Per-file failures
// are collected into the summary instead of aborting the walk.
func (i *Ingestor) IngestDirectory(ctx context.Context, dir, pattern string, recursive bool) (Summary, error) {
	if _, err := os.Stat(dir); err != nil {
		return Summary{}, fmt.Errorf("ingest: %w: %s: %v", ErrSourceNotFound, dir, err)
	}
	if pattern == "" {
		pattern = "*.txt"
	}

	paths, err := matchFiles(dir, pattern, recursive)
	if err != nil {
		return Summary{}, fmt.Errorf("ingest: %w: bad pattern %q: %v", ErrMalformedInput, pattern, err)
	}

	var summary Summary
	docs := make([]Document, 0, len(paths))
	for _, path := range paths {
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			summary.Failed++
			summary.Errors = append(summary.Errors, DocError{ID: path, Reason: readErr.Error()})
			i.cfg.Logger.Warn("failed to read file, skipping",
				slog.String("path", path),
				slog.Any("error", readErr),
			)
			continue
		}
		text := string(data)
		if strings.TrimSpace(text) == "" {
			summary.Skipped++
			continue
		}

		rel, relErr := filepath.Rel(dir, path)
		if relErr != nil {
			rel = path
		}
		docs = append(docs, Document{
			ID:     idFromFilename(path),
			Text:   text,
			Title:  filepath.Base(path),
			Source: rel,
		})
	}

	submitted, err := i.submit(ctx, docs)
	summary.merge(submitted)
	return summary, err
}

// IngestCustomData validates and submits caller-prepared documents directly.
// This is the escape hatch for programmatic use. Documents with blank text
// are skipped and counted; an empty input is a no-op.
func (i *Ingestor) IngestCustomData(ctx context.Context, docs []Document) (Summary, error) {
	var summary Summary
	valid := make([]Document, 0, len(docs))
	for idx, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			i.cfg.Logger.Warn("document has no text, skipping", slog.Int("document", idx))
			summary.Skipped++
			continue
		}
		valid = append(valid, doc)
	}

	submitted, err := i.submit(ctx, valid)
	summary.merge(submitted)
	return summary, err
}

// submit batches validated documents and flushes each batch via the bulk API.
// With Workers > 1 batches are submitted concurrently — the engine does not
// require ordered writes. Only an engine-level failure aborts; per-document
// rejections are folded into the summary.
func (i *Ingestor) submit(ctx context.Context, docs []Document) (Summary, error) {
	if len(docs) == 0 {
		return Summary{}, nil
	}

	batches := make([][]Document, 0, (len(docs)+i.cfg.BatchSize-1)/i.cfg.BatchSize)
	for start := 0; start < len(docs); start += i.cfg.BatchSize {
		end := min(start+i.cfg.BatchSize, len(docs))
		batches = append(batches, docs[start:end])
	}

	var summary Summary
	if i.cfg.Workers == 1 {
		for _, batch := range batches {
			if err := i.flushBatch(ctx, batch, &summary); err != nil {
				return summary, err
			}
		}
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.cfg.Workers)
	for _, batch := range batches {
		g.Go(func() error {
			var local Summary
			if err := i.flushBatch(gctx, batch, &local); err != nil {
				return err
			}
			mu.Lock()
			summary.merge(local)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

// flushBatch submits one batch, recording per-document outcomes into sum.
// Documents rejected with a transient status are resubmitted if the retry
// policy allows; everything else is final after the first attempt.
func (i *Ingestor) flushBatch(ctx context.Context, batch []Document, sum *Summary) error {
	pending := make([]engine.BulkDoc, 0, len(batch))
	for _, doc := range batch {
		pending = append(pending, i.bulkDoc(doc))
	}

	for attempt := 1; ; attempt++ {
		results, err := i.writer.Bulk(ctx, i.cfg.Index, pending)
		if err != nil {
			return fmt.Errorf("ingest: bulk write to %s: %w", i.cfg.Index, err)
		}

		var retry []engine.BulkDoc
		for idx, r := range results {
			switch {
			case r.OK():
				sum.Submitted++
			case r.Retryable() && attempt < i.cfg.Retry.MaxAttempts:
				retry = append(retry, pending[idx])
			default:
				sum.Failed++
				sum.Errors = append(sum.Errors, DocError{ID: r.ID, Reason: r.Error})
			}
		}
		if len(retry) == 0 {
			return nil
		}

		delay := i.cfg.Retry.Delay(attempt)
		i.cfg.Logger.Warn("retrying transiently rejected documents",
			slog.Int("documents", len(retry)),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("ingest: retry aborted: %w", ctx.Err())
		}
		pending = retry
	}
}

// bulkDoc converts a Document into the bulk request shape. The text lands in
// the configured source field so the engine pipeline can embed it; extra
// metadata fields pass through unchanged.
func (i *Ingestor) bulkDoc(doc Document) engine.BulkDoc {
	body := map[string]any{
		i.cfg.TextField: doc.Text,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	if doc.Title != "" {
		body["title"] = doc.Title
	}
	if doc.Source != "" {
		body["source"] = doc.Source
	}
	for k, v := range doc.Metadata {
		if _, reserved := body[k]; !reserved {
			body[k] = v
		}
	}
	return engine.BulkDoc{ID: doc.ID, Body: body}
}

// decodeRecords parses a JSON document into a slice of mapping records.
// A single top-level object is accepted as a one-element array.
func decodeRecords(data []byte) ([]map[string]any, error) {
	var top any
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, err
	}

	switch v := top.(type) {
	case map[string]any:
		return []map[string]any{v}, nil
	case []any:
		records := make([]map[string]any, 0, len(v))
		for idx, item := range v {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("element %d is not an object", idx)
			}
			records = append(records, rec)
		}
		return records, nil
	default:
		return nil, fmt.Errorf("top-level value must be an object or array of objects")
	}
}

// matchFiles returns the files under dir whose base name matches pattern,
// in enumeration order. Standard path/glob matching only — no custom walker.
func matchFiles(dir, pattern string, recursive bool) ([]string, error) {
	// Validate the pattern up front so a bad pattern fails loudly instead of
	// silently matching nothing.
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, err
	}

	if !recursive {
		return filepath.Glob(filepath.Join(dir, pattern))
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// An unreadable entry must not abort the walk; the remaining
			// readable files still get ingested.
			return skipEntry(d)
		}
		if d.IsDir() {
			return nil
		}
		ok, matchErr := filepath.Match(pattern, d.Name())
		if matchErr != nil {
			return matchErr
		}
		if ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// skipEntry tells WalkDir how to move past an entry it could not read:
// skip an unreadable directory's subtree, ignore an unreadable file.
func skipEntry(d fs.DirEntry) error {
	if d != nil && d.IsDir() {
		return fs.SkipDir
	}
	return nil
}

// idFromFilename derives a stable document ID from a file path: the base
// name without its extension, matching the overwrite-on-reingest behavior.
func idFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}


