// Package ingest implements the document ingestor: it normalizes
// heterogeneous input sources (text files, JSON record files, directory
// trees, in-memory records) into a uniform document shape and submits them
// to the search engine's bulk API in bounded batches. The engine's ingest
// pipeline computes the text embedding server-side — no vectors are built here.
package ingest

import (
	"context"

	"github.com/sourcedai/sai-go/internal/engine"
)

// Document is the unit submitted to the engine.
type Document struct {
	// ID is the caller-supplied or file-derived identifier. Empty means the
	// engine assigns one. Re-ingesting the same ID overwrites, not duplicates.
	ID string `json:"id,omitempty"`

	// Text is the required body content. The engine-side pipeline maps it to
	// the embedding field, so a document without text is never submitted.
	Text string `json:"text"`

	// Title is an optional display label.
	Title string `json:"title,omitempty"`

	// Source is an optional provenance tag (e.g. "local", a file path).
	Source string `json:"source,omitempty"`

	// Metadata holds arbitrary additional fields passed through unchanged.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// DocError names a document the engine rejected and why.
type DocError struct {
	// ID is the rejected document's identifier (engine-assigned if the
	// caller supplied none).
	ID string `json:"id"`

	// Reason is the engine's rejection reason, or the local read/parse error
	// for per-file failures during directory ingestion.
	Reason string `json:"reason"`
}

// Summary reports the outcome of one ingestion call. Partial batch failures
// are reported here rather than returned as errors; only total inability to
// reach the engine aborts a call.
type Summary struct {
	// Submitted is the number of documents the engine accepted.
	Submitted int `json:"submitted"`

	// Failed is the number of documents the engine rejected, plus per-file
	// failures collected during directory ingestion.
	Failed int `json:"failed"`

	// Skipped is the number of records dropped before submission because the
	// required text field was missing or blank.
	Skipped int `json:"skipped"`

	// Errors names each failed document and the reason.
	Errors []DocError `json:"errors,omitempty"`
}

// merge folds other into s.
func (s *Summary) merge(other Summary) {
	s.Submitted += other.Submitted
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Errors = append(s.Errors, other.Errors...)
}

// BulkWriter is the slice of the engine client the ingestor depends on.
// *engine.Client satisfies it; tests inject a fake.
type BulkWriter interface {
	// Bulk submits docs to index in one request and returns one result per
	// document, in order. A non-nil error means the request as a whole failed.
	Bulk(ctx context.Context, index string, docs []engine.BulkDoc) ([]engine.ItemResult, error)
}
