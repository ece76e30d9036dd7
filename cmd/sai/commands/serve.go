package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sourcedai/sai-go/internal/logging"
	"github.com/sourcedai/sai-go/internal/provision"
	"github.com/sourcedai/sai-go/internal/server"
)

// NewServeCmd constructs the `sai serve` command, which starts the HTTP
// server exposing ingestion and semantic search over a REST API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sai HTTP server",
		Long: `Start the sai HTTP server on localhost.

Endpoints:
  POST /api/ingest   submit documents (JSON body, summary response)
  POST /api/search   semantic search (query text embedded in-cluster)
  GET  /api/health   liveness
  GET  /api/ready    readiness (probes the engine)
  GET  /metrics      Prometheus metrics

Set SAI_API_KEY to require Bearer authentication on /api/ingest and
/api/search. Run 'sai setup' first so a deployed model ID is available.

Examples:
  sai serve
  sai serve --port 9090
  SAI_API_KEY=secret sai serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			client, err := newEngineClient()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			modelIDPath, err := provision.DefaultModelIDPath()
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			modelID, err := provision.LoadModelID(modelIDPath)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			ing, err := newIngestor(client, log, 0)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			store, closeStore := openHistory(log)
			defer closeStore()

			if host == "" {
				host = getEnvOrDefault("SAI_SERVER_HOST", "127.0.0.1")
			}
			if port == 0 {
				port = getEnvInt("SAI_SERVER_PORT", 8080)
			}

			srv, err := server.New(ing, client, &server.Config{
				Host:           host,
				Port:           port,
				Logger:         log,
				Pingers:        []server.Pinger{client},
				APIKey:         os.Getenv("SAI_API_KEY"),
				Index:          getEnvOrDefault("SAI_INDEX", "sourced-ai-index"),
				EmbeddingField: getEnvOrDefault("SAI_EMBEDDING_FIELD", "text_embedding"),
				ModelID:        modelID,
				History:        store,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("host", host),
				slog.Int("port", port),
				slog.String("model_id", modelID),
			)

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default: SAI_SERVER_HOST or 127.0.0.1)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: SAI_SERVER_PORT or 8080)")

	return cmd
}
