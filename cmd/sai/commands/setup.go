package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcedai/sai-go/internal/logging"
	"github.com/sourcedai/sai-go/internal/provision"
)

// NewSetupCmd constructs the `sai setup` command, which provisions the
// cluster end to end: ML settings, embedding model, pipeline, and index.
func NewSetupCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Provision the engine: settings, embedding model, pipeline, and index",
		Long: `Provision the OpenSearch cluster for neural search.

The setup sequence:
  1. Apply ML plugin cluster settings (run models on data nodes).
  2. Register and deploy the sentence-transformer embedding model.
  3. Create the text_embedding ingest pipeline bound to the model.
  4. Create the k-NN index with the pipeline as its default.

The deployed model ID is persisted to ~/.sai/model_id so later ingest and
search invocations can find it. Model deployment downloads the model inside
the cluster and can take several minutes on first run.

Examples:
  sai setup
  sai setup --timeout 10m
  SAI_INDEX=my-index sai setup`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			client, err := newEngineClient()
			if err != nil {
				return fmt.Errorf("setup: %w", err)
			}

			prov, err := provision.New(client, &provision.Config{
				Index:          getEnvOrDefault("SAI_INDEX", ""),
				Pipeline:       getEnvOrDefault("SAI_PIPELINE", ""),
				TextField:      getEnvOrDefault("SAI_TEXT_FIELD", ""),
				EmbeddingField: getEnvOrDefault("SAI_EMBEDDING_FIELD", ""),
				Dimension:      getEnvInt("SAI_EMBEDDING_DIMENSION", 0),
				ModelName:      getEnvOrDefault("SAI_MODEL_NAME", ""),
				ModelVersion:   getEnvOrDefault("SAI_MODEL_VERSION", ""),
				ModelFormat:    getEnvOrDefault("SAI_MODEL_FORMAT", ""),
				Timeout:        timeout,
				Logger:         log,
			})
			if err != nil {
				return fmt.Errorf("setup: %w", err)
			}

			modelID, err := prov.Setup(ctx)
			if err != nil {
				return fmt.Errorf("setup: %w", err)
			}

			log.Info("setup complete", slog.String("model_id", modelID))
			fmt.Printf("Setup complete. Model ID: %s\n", modelID)
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Timeout per provisioning phase (model registration, deployment, readiness)")

	return cmd
}
