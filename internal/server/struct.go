package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sourcedai/sai-go/internal/engine"
	"github.com/sourcedai/sai-go/internal/history"
	"github.com/sourcedai/sai-go/internal/ingest"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, slog.Default is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// Index is the target index for ingest and search requests.
	Index string
	// EmbeddingField is the knn_vector field queried by neural search.
	EmbeddingField string
	// ModelID is the deployed embedding model used for query embedding.
	ModelID string
	// History, when non-nil, records each API ingestion as a run.
	History history.RunStore
	// MetricsRegistry receives the server's Prometheus metrics. Defaults to
	// prometheus.DefaultRegisterer; tests inject an isolated registry.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// ingester is the interface handleIngest calls to submit documents.
// *ingest.Ingestor satisfies it; tests inject a fake.
type ingester interface {
	// IngestCustomData validates and submits caller-prepared documents.
	IngestCustomData(ctx context.Context, docs []ingest.Document) (ingest.Summary, error)
}

// searcher is the interface handleSearch calls to run a semantic query.
// *engine.Client satisfies it; tests inject a fake.
type searcher interface {
	// NeuralSearch runs a k-NN query embedded server-side by the deployed model.
	NeuralSearch(ctx context.Context, index, field, queryText, modelID string, k int) ([]engine.Hit, error)
}

// Server is the HTTP server exposing the ingestor and semantic search.
type Server struct {
	// ingestor submits documents to the engine.
	ingestor ingester
	// searcher runs semantic queries against the engine.
	searcher searcher
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// Documents is the list of documents to submit. Each must carry
	// non-empty text; blank documents are skipped and counted.
	Documents []ingest.Document `json:"documents"`
}

// searchRequest is the JSON body for POST /api/search.
type searchRequest struct {
	// Query is the natural-language search text.
	Query string `json:"query"`
	// K is the number of nearest documents to return. Defaults to 5.
	K int `json:"k"`
}

// searchHit is one result row in the search response.
type searchHit struct {
	// ID is the stored document identifier.
	ID string `json:"id"`
	// Score is the similarity score assigned by the engine.
	Score float64 `json:"score"`
	// Source is the stored document body (embedding field excluded).
	Source map[string]any `json:"source"`
}

// searchResponse is the JSON response for POST /api/search.
type searchResponse struct {
	// Hits are the nearest documents, best first.
	Hits []searchHit `json:"hits"`
}
