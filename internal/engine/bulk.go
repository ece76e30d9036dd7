package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// BulkDoc is one document in a bulk index request. The body is indexed as-is;
// the ingest pipeline attached to the target index computes the embedding
// server-side before the document is stored.
type BulkDoc struct {
	// ID is the caller-supplied document identifier. Empty means the engine
	// assigns one. Re-indexing the same ID overwrites the stored document.
	ID string

	// Body is the document source submitted to the engine.
	Body map[string]any
}

// ItemResult is the per-document outcome of a bulk request.
type ItemResult struct {
	// ID is the document identifier the engine stored (or tried to store).
	ID string

	// Status is the HTTP-style status code the engine reported for this item.
	Status int

	// Error is the engine's rejection reason. Empty on success.
	Error string
}

// OK reports whether the item was accepted by the engine.
func (r ItemResult) OK() bool { return r.Status >= 200 && r.Status < 300 }

// Retryable reports whether the rejection is transient (throttling or an
// overloaded node) and may succeed on a later attempt.
func (r ItemResult) Retryable() bool { return r.Status == 429 || r.Status == 503 }

// bulkAction is the NDJSON action line preceding each document body.
type bulkAction struct {
	Index struct {
		Index string `json:"_index"`
		ID    string `json:"_id,omitempty"`
	} `json:"index"`
}

// bulkResponse is the engine's reply to a bulk request.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk submits docs to index in a single bulk request and returns one
// ItemResult per input document, in order. A non-nil error means the request
// as a whole failed (connectivity, malformed response) and no per-item
// results are available.
func (c *Client) Bulk(ctx context.Context, index string, docs []BulkDoc) ([]ItemResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, doc := range docs {
		var action bulkAction
		action.Index.Index = index
		action.Index.ID = doc.ID
		if err := enc.Encode(action); err != nil {
			return nil, fmt.Errorf("engine: encode bulk action: %w", err)
		}
		if err := enc.Encode(doc.Body); err != nil {
			return nil, fmt.Errorf("engine: encode bulk document: %w", err)
		}
	}

	req := opensearchapi.BulkRequest{
		Index: index,
		Body:  &buf,
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("engine: bulk request returned status %d", res.StatusCode)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("engine: decode bulk response: %w", err)
	}
	if len(parsed.Items) != len(docs) {
		return nil, fmt.Errorf("engine: bulk response has %d items, expected %d", len(parsed.Items), len(docs))
	}

	results := make([]ItemResult, 0, len(docs))
	for _, item := range parsed.Items {
		// Each item is keyed by its action type ("index" here).
		for _, detail := range item {
			r := ItemResult{ID: detail.ID, Status: detail.Status}
			if detail.Error != nil {
				r.Error = fmt.Sprintf("%s: %s", detail.Error.Type, detail.Error.Reason)
			}
			results = append(results, r)
		}
	}
	return results, nil
}
