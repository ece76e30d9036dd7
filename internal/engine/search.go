package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Hit is a single search result.
type Hit struct {
	// ID is the stored document identifier.
	ID string

	// Score is the similarity score assigned by the engine.
	Score float64

	// Source is the stored document body (embedding field excluded).
	Source map[string]any
}

// KNNSearch runs a raw k-nearest-neighbor query against the vector field
// using a caller-supplied query embedding.
func (c *Client) KNNSearch(ctx context.Context, index, field string, vector []float32, k int) ([]Hit, error) {
	query := map[string]any{
		"size":    k,
		"_source": map[string]any{"excludes": []string{field}},
		"query": map[string]any{
			"knn": map[string]any{
				field: map[string]any{
					"vector": vector,
					"k":      k,
				},
			},
		},
	}
	return c.search(ctx, index, query)
}

// NeuralSearch runs a k-NN query where the engine embeds the query text
// itself using the deployed model, so no vector ever crosses the wire.
func (c *Client) NeuralSearch(ctx context.Context, index, field, queryText, modelID string, k int) ([]Hit, error) {
	query := map[string]any{
		"size":    k,
		"_source": map[string]any{"excludes": []string{field}},
		"query": map[string]any{
			"neural": map[string]any{
				field: map[string]any{
					"query_text": queryText,
					"model_id":   modelID,
					"k":          k,
				},
			},
		},
	}
	return c.search(ctx, index, query)
}

// search executes a search body against index and flattens the hits.
func (c *Client) search(ctx context.Context, index string, query map[string]any) ([]Hit, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("engine: marshal search query: %w", err)
	}

	req := opensearchapi.SearchRequest{
		Index: []string{index},
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("engine: search returned status %d", res.StatusCode)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID     string         `json:"_id"`
				Score  float64        `json:"_score"`
				Source map[string]any `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("engine: decode search response: %w", err)
	}

	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, Hit{ID: h.ID, Score: h.Score, Source: h.Source})
	}
	return hits, nil
}
