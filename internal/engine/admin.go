package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// PutClusterSettings applies persistent cluster settings. Used during setup
// to allow ML workloads to run on data nodes of the local single-node cluster.
func (c *Client) PutClusterSettings(ctx context.Context, persistent map[string]any) error {
	body, err := json.Marshal(map[string]any{"persistent": persistent})
	if err != nil {
		return fmt.Errorf("engine: marshal cluster settings: %w", err)
	}

	req := opensearchapi.ClusterPutSettingsRequest{Body: strings.NewReader(string(body))}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("engine: cluster settings returned status %d", res.StatusCode)
	}
	return acknowledged(res.Body, "cluster settings")
}

// PutIngestPipeline creates (or replaces) an ingest pipeline with a single
// text_embedding processor that maps fieldMap keys (source text fields) to
// their knn_vector target fields using the deployed model.
func (c *Client) PutIngestPipeline(ctx context.Context, name, modelID string, fieldMap map[string]string) error {
	pipeline := map[string]any{
		"description": "Text embedding ingest pipeline",
		"processors": []map[string]any{
			{
				"text_embedding": map[string]any{
					"model_id":  modelID,
					"field_map": fieldMap,
				},
			},
		},
	}
	body, err := json.Marshal(pipeline)
	if err != nil {
		return fmt.Errorf("engine: marshal pipeline: %w", err)
	}

	req := opensearchapi.IngestPutPipelineRequest{
		PipelineID: name,
		Body:       strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("engine: put pipeline %q returned status %d", name, res.StatusCode)
	}
	return acknowledged(res.Body, "pipeline")
}

// IndexSpec describes the k-NN index created during setup.
type IndexSpec struct {
	// Pipeline is the default ingest pipeline attached to the index.
	Pipeline string

	// TextField is the text source field name.
	TextField string

	// EmbeddingField is the knn_vector field name the pipeline populates.
	EmbeddingField string

	// Dimension is the embedding vector dimension.
	Dimension int
}

// CreateKNNIndex creates a k-NN-enabled index with a vector field, text and
// title fields, a source keyword, and a timestamp. The attached default
// pipeline embeds documents at write time.
func (c *Client) CreateKNNIndex(ctx context.Context, index string, spec IndexSpec) error {
	mapping := map[string]any{
		"settings": map[string]any{
			"index.knn":        true,
			"default_pipeline": spec.Pipeline,
		},
		"mappings": map[string]any{
			"properties": map[string]any{
				spec.EmbeddingField: map[string]any{
					"type":      "knn_vector",
					"dimension": spec.Dimension,
					"method": map[string]any{
						"name":       "hnsw",
						"space_type": "l2",
						"engine":     "nmslib",
					},
				},
				spec.TextField: map[string]any{"type": "text"},
				"title":        map[string]any{"type": "text"},
				"source":       map[string]any{"type": "keyword"},
				"timestamp":    map[string]any{"type": "date"},
			},
		},
	}
	body, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("engine: marshal index mapping: %w", err)
	}

	req := opensearchapi.IndicesCreateRequest{
		Index: index,
		Body:  strings.NewReader(string(body)),
	}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("engine: create index %q returned status %d", index, res.StatusCode)
	}
	return acknowledged(res.Body, "index creation")
}

// IndexExists reports whether the named index exists.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	req := opensearchapi.IndicesExistsRequest{Index: []string{index}}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return false, unreachable(err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case 200:
		return true, nil
	case 404:
		return false, nil
	default:
		return false, fmt.Errorf("engine: index exists check returned status %d", res.StatusCode)
	}
}

// DeleteIndex removes the named index. Deleting a missing index is an error.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	req := opensearchapi.IndicesDeleteRequest{Index: []string{index}}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("engine: delete index %q returned status %d", index, res.StatusCode)
	}
	return nil
}

// GetDocument fetches a stored document's source by ID. Returns the source
// map, or an error when the document does not exist.
func (c *Client) GetDocument(ctx context.Context, index, id string) (map[string]any, error) {
	req := opensearchapi.GetRequest{Index: index, DocumentID: id}
	res, err := req.Do(ctx, c.os)
	if err != nil {
		return nil, unreachable(err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("engine: get document %s/%s returned status %d", index, id, res.StatusCode)
	}

	var parsed struct {
		Source map[string]any `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("engine: decode get response: %w", err)
	}
	return parsed.Source, nil
}

// acknowledged decodes an {"acknowledged": bool} response body and rejects
// unacknowledged administrative operations.
func acknowledged(body io.Reader, op string) error {
	var parsed struct {
		Acknowledged bool `json:"acknowledged"`
	}
	if err := json.NewDecoder(body).Decode(&parsed); err != nil {
		return fmt.Errorf("engine: decode %s response: %w", op, err)
	}
	if !parsed.Acknowledged {
		return fmt.Errorf("engine: %s was not acknowledged", op)
	}
	return nil
}
