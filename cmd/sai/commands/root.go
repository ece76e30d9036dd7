// Package commands defines all Cobra CLI commands for the sai binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sourcedai/sai-go/internal/audit"
	"github.com/sourcedai/sai-go/internal/config"
	"github.com/sourcedai/sai-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sai",
		Short: "Sourced AI — semantic document search on OpenSearch",
		Long: `sai provisions an OpenSearch cluster for neural search and keeps it fed.

It registers and deploys a sentence-transformer embedding model inside the
cluster, creates a k-NN index wired to a text_embedding ingest pipeline, and
ingests documents from text files, JSON record files, or directory trees.
Queries are embedded server-side, so searching needs nothing but the query
text.

Connection settings come from environment variables (OPENSEARCH_HOST,
OPENSEARCH_PORT, ...) or a YAML config file (~/.sai/config.yaml).
See 'sai --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Load .env if present. Never overrides real env vars.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.sai/config.yaml)")

	root.AddCommand(
		NewSetupCmd(),
		NewAcquireCmd(),
		NewIngestCmd(),
		NewSearchCmd(),
		NewServeCmd(),
		NewClusterCmd(),
		NewHistoryCmd(),
		NewVersionCmd(),
	)

	return root
}
