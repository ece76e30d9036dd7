package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcedai/sai-go/internal/cluster"
	"github.com/sourcedai/sai-go/internal/logging"
)

// NewClusterCmd constructs the `sai cluster` command group for managing the
// local OpenSearch container stack.
func NewClusterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Manage the local OpenSearch container stack",
		Long: `Manage the docker compose stack that runs OpenSearch locally.

The compose file defaults to ./docker-compose.yml and can be overridden with
SAI_COMPOSE_FILE or a YAML config entry.

Subcommands:
  up        start the stack and wait for the engine to become healthy
  stop      stop the containers (index data is kept)
  destroy   remove containers and volumes (index data is lost)`,
	}

	cmd.AddCommand(
		newClusterUpCmd(),
		newClusterStopCmd(),
		newClusterDestroyCmd(),
	)

	return cmd
}

// newClusterManager builds a Manager over the real docker binary.
func newClusterManager() (*cluster.Manager, error) {
	runner, err := cluster.NewExecRunner()
	if err != nil {
		return nil, err
	}
	composeFile := getEnvOrDefault("SAI_COMPOSE_FILE", "docker-compose.yml")
	return cluster.NewManager(runner, composeFile, logging.New()), nil
}

func newClusterUpCmd() *cobra.Command {
	var wait time.Duration

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Start the OpenSearch stack and wait for it to become healthy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			m, err := newClusterManager()
			if err != nil {
				return fmt.Errorf("cluster up: %w", err)
			}
			if err := m.Up(ctx); err != nil {
				return fmt.Errorf("cluster up: %w", err)
			}

			client, err := newEngineClient()
			if err != nil {
				return fmt.Errorf("cluster up: %w", err)
			}

			fmt.Println("Stack started, waiting for the engine to become healthy...")
			if err := m.WaitHealthy(ctx, client, wait, 5*time.Second); err != nil {
				return fmt.Errorf("cluster up: %w", err)
			}

			fmt.Println("Engine is healthy.")
			return nil
		},
	}

	cmd.Flags().DurationVar(&wait, "wait", 3*time.Minute, "How long to wait for the engine to become healthy")

	return cmd
}

func newClusterStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the OpenSearch stack (index data is kept)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newClusterManager()
			if err != nil {
				return fmt.Errorf("cluster stop: %w", err)
			}
			if err := m.Stop(cmd.Context()); err != nil {
				return fmt.Errorf("cluster stop: %w", err)
			}
			fmt.Println("Stack stopped.")
			return nil
		},
	}
}

func newClusterDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Remove the OpenSearch stack and its volumes (index data is lost)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newClusterManager()
			if err != nil {
				return fmt.Errorf("cluster destroy: %w", err)
			}
			if err := m.Destroy(cmd.Context()); err != nil {
				return fmt.Errorf("cluster destroy: %w", err)
			}
			fmt.Println("Stack destroyed.")
			return nil
		},
	}
}
