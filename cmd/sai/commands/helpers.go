package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/sourcedai/sai-go/internal/engine"
	"github.com/sourcedai/sai-go/internal/history"
	"github.com/sourcedai/sai-go/internal/ingest"
	"github.com/sourcedai/sai-go/internal/resilience"
)

// getEnvOrDefault returns the env var value, or def if unset or empty.
func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getEnvInt returns the env var parsed as int, or def if unset or invalid.
func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// newEngineClient builds an engine client from the OPENSEARCH_* env vars.
func newEngineClient() (*engine.Client, error) {
	cfg := &engine.Config{
		Host:     getEnvOrDefault("OPENSEARCH_HOST", "localhost"),
		Port:     getEnvInt("OPENSEARCH_PORT", 9200),
		Username: os.Getenv("OPENSEARCH_USERNAME"),
		Password: os.Getenv("OPENSEARCH_PASSWORD"),
		TLS:      os.Getenv("OPENSEARCH_TLS") == "true",
		Insecure: os.Getenv("OPENSEARCH_INSECURE") == "true",
		Timeout:  time.Duration(getEnvInt("OPENSEARCH_TIMEOUT", 30)) * time.Second,
	}
	client, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine client: %w", err)
	}
	return client, nil
}

// newIngestor builds an ingestor over the given client from SAI_* env vars.
// batchSize overrides SAI_BATCH_SIZE when positive (the --batch-size flag).
func newIngestor(client *engine.Client, log *slog.Logger, batchSize int) (*ingest.Ingestor, error) {
	if batchSize <= 0 {
		batchSize = getEnvInt("SAI_BATCH_SIZE", 100)
	}
	cfg := &ingest.Config{
		Index:     getEnvOrDefault("SAI_INDEX", "sourced-ai-index"),
		TextField: getEnvOrDefault("SAI_TEXT_FIELD", "text"),
		BatchSize: batchSize,
		Workers:   getEnvInt("SAI_INGEST_WORKERS", 1),
		Retry:     resilience.Policy{MaxAttempts: getEnvInt("SAI_RETRY_ATTEMPTS", 1)},
		Logger:    log,
	}
	return ingest.New(client, cfg)
}

// openHistory opens the ingestion run history store. SAI_HISTORY_DB overrides
// the default path (~/.sai/history.db); "disabled" turns history off.
// Failures are logged and history is disabled rather than aborting the command.
func openHistory(log *slog.Logger) (history.RunStore, func()) {
	dbPath := os.Getenv("SAI_HISTORY_DB")
	if dbPath == "disabled" {
		log.Info("history: disabled via SAI_HISTORY_DB=disabled")
		return nil, func() {}
	}

	if dbPath == "" {
		p, err := history.DefaultDBPath()
		if err != nil {
			log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil, func() {}
		}
		dbPath = p
	}

	store, err := history.Open(dbPath)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return nil, func() {}
	}

	log.Info("history: store opened", slog.String("path", dbPath))
	return store, func() { _ = store.Close() }
}

// recordRun persists one ingestion run if the store is enabled.
func recordRun(ctx context.Context, log *slog.Logger, store history.RunStore, run history.Run) {
	if store == nil {
		return
	}
	if err := store.Record(ctx, run); err != nil {
		log.Warn("history: failed to record run", slog.Any("error", err))
	}
}
