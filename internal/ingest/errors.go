package ingest

import "errors"

// Sentinel errors for invalid top-level input. Per-record problems (missing
// text fields, unreadable files inside a directory walk) are never returned
// as errors — they are skipped, counted, and surfaced in the Summary.
var (
	// ErrSourceNotFound indicates the input path does not exist or is unreadable.
	ErrSourceNotFound = errors.New("source not found")

	// ErrMalformedInput indicates the input file is not valid JSON or not an
	// array of mapping records.
	ErrMalformedInput = errors.New("malformed input")

	// ErrEmptyContent indicates the required text content is blank.
	ErrEmptyContent = errors.New("empty content")
)
