// Package server implements the HTTP server that exposes the document
// ingestor and semantic search over a REST API, with Prometheus metrics,
// per-IP rate limiting, and optional Bearer authentication.
// The server is started by the `sai serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sourcedai/sai-go/internal/engine"
	"github.com/sourcedai/sai-go/internal/history"
	"github.com/sourcedai/sai-go/internal/logging"
)

// New constructs a Server from the provided ingestor, searcher, and config.
func New(ingestor ingester, search searcher, cfg *Config) (*Server, error) {
	if ingestor == nil {
		return nil, fmt.Errorf("server: ingestor must not be nil")
	}
	if search == nil {
		return nil, fmt.Errorf("server: searcher must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must cover a full bulk submission of a large batch.
		cfg.WriteTimeout = 2 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		ingestor: ingestor,
		searcher: search,
		cfg:      cfg,
		log:      cfg.Logger,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	if cfg.APIKey == "" {
		cfg.Logger.Warn("server: SAI_API_KEY not set — API authentication disabled")
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/ingest", s.protect(rl, http.HandlerFunc(s.handleIngest)))
	mux.Handle("POST /api/search", s.protect(rl, http.HandlerFunc(s.handleSearch)))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(cfg.Logger, s.metrics, mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// protect wraps a handler with rate limiting and Bearer authentication.
func (s *Server) protect(rl *rateLimiter, next http.Handler) http.Handler {
	return rl.middleware(authMiddleware(s.cfg.APIKey, next))
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.stopRL()
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleIngest handles POST /api/ingest. It submits the supplied documents
// through the ingestor and returns the summary. Partial batch failures are
// reported in the summary with status 200; only engine unreachability
// produces an error status.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	summary, err := s.ingestor.IngestCustomData(r.Context(), req.Documents)
	elapsed := time.Since(start)

	s.metrics.observeIngest(summary, elapsed)

	if err != nil {
		log.Error("ingest failed", slog.Any("error", err))
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrUnreachable) {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}

	if s.cfg.History != nil {
		run := history.Run{
			Source:    "api",
			Index:     s.cfg.Index,
			Submitted: summary.Submitted,
			Failed:    summary.Failed,
			Skipped:   summary.Skipped,
			Duration:  elapsed,
		}
		if err := s.cfg.History.Record(r.Context(), run); err != nil {
			log.Warn("history record failed", slog.Any("error", err))
		}
	}

	log.Info("ingest complete",
		slog.Int("submitted", summary.Submitted),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", elapsed),
	)

	writeJSON(w, http.StatusOK, summary)
}

// handleSearch handles POST /api/search. The engine embeds the query text
// itself using the deployed model, so the request carries no vectors.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.K <= 0 {
		req.K = 5
	}

	hits, err := s.searcher.NeuralSearch(r.Context(), s.cfg.Index, s.cfg.EmbeddingField, req.Query, s.cfg.ModelID, req.K)
	if err != nil {
		log.Error("search failed", slog.Any("error", err))
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrUnreachable) {
			status = http.StatusBadGateway
		}
		http.Error(w, err.Error(), status)
		return
	}

	resp := searchResponse{Hits: make([]searchHit, 0, len(hits))}
	for _, h := range hits {
		resp.Hits = append(resp.Hits, searchHit{ID: h.ID, Score: h.Score, Source: h.Source})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode error", slog.Any("error", err))
	}
}
