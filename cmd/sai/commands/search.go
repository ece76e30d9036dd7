package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sourcedai/sai-go/internal/logging"
	"github.com/sourcedai/sai-go/internal/provision"
)

// NewSearchCmd constructs the `sai search` command, which runs a neural
// query against the k-NN index and prints the ranked hits.
func NewSearchCmd() *cobra.Command {
	var (
		k       int
		modelID string
	)

	cmd := &cobra.Command{
		Use:   "search \"query text\"",
		Short: "Search the index with a natural-language query",
		Long: `Run a semantic search against the k-NN index.

The query text is embedded inside the cluster by the deployed model, so no
local model or vectors are needed. The model ID is read from ~/.sai/model_id
(written by 'sai setup') unless overridden with --model-id.

Examples:
  sai search "how do wild dogs hunt"
  sai search "release process" --k 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			query := args[0]
			if query == "" {
				return fmt.Errorf("search: query text must not be empty")
			}

			if modelID == "" {
				path, err := provision.DefaultModelIDPath()
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
				modelID, err = provision.LoadModelID(path)
				if err != nil {
					return fmt.Errorf("search: %w", err)
				}
			}

			client, err := newEngineClient()
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			index := getEnvOrDefault("SAI_INDEX", "sourced-ai-index")
			field := getEnvOrDefault("SAI_EMBEDDING_FIELD", "text_embedding")

			hits, err := client.NeuralSearch(ctx, index, field, query, modelID, k)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			if len(hits) == 0 {
				fmt.Println("No results.")
				return nil
			}

			for i, h := range hits {
				title, _ := h.Source["title"].(string)
				text, _ := h.Source["text"].(string)
				if title == "" {
					title = h.ID
				}
				fmt.Printf("%d. %s (score %.4f)\n", i+1, title, h.Score)
				fmt.Printf("   %s\n", snippet(text, 160))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 5, "Number of nearest documents to return")
	cmd.Flags().StringVar(&modelID, "model-id", "", "Deployed model ID (default: read from ~/.sai/model_id)")

	return cmd
}

// snippet truncates s to at most n runes, appending an ellipsis when cut.
func snippet(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
