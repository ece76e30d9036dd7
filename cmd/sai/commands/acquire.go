package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcedai/sai-go/internal/acquire"
	"github.com/sourcedai/sai-go/internal/history"
	"github.com/sourcedai/sai-go/internal/ingest"
	"github.com/sourcedai/sai-go/internal/logging"
)

// NewAcquireCmd constructs the `sai acquire` command, which fetches web
// search results into JSON record files and optionally ingests them.
func NewAcquireCmd() *cobra.Command {
	var (
		count        int
		dataDir      string
		keepExisting bool
		doIngest     bool
	)

	cmd := &cobra.Command{
		Use:   "acquire <query>",
		Short: "Fetch web search results into the data directory",
		Long: `Fetch web search results for a query and save each one as a JSON record
file in the data directory, alongside a summary file for the run. The result
snippets become the document text, so the files are ready for 'sai ingest
--json' — or pass --ingest to submit them in the same run.

Requires a Brave Search API subscription token in BRAVE_SEARCH_API_KEY.

By default the data directory is cleared first so every run starts from a
clean corpus; pass --keep-existing to accumulate runs instead.

Examples:
  sai acquire "vector databases" --count 10
  sai acquire "opensearch neural search" --ingest
  sai acquire "knn indexes" --data-dir ./corpus --keep-existing`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)
			query := args[0]

			if dataDir == "" {
				dataDir = getEnvOrDefault("SAI_DATA_DIR", "sample_data")
			}

			searchClient, err := acquire.NewClient(&acquire.Config{
				APIKey: os.Getenv("BRAVE_SEARCH_API_KEY"),
				Logger: log,
			})
			if err != nil {
				return fmt.Errorf("acquire: %w", err)
			}

			wf := acquire.NewWorkflow(searchClient, dataDir, log)
			report, err := wf.Run(ctx, query, count, !keepExisting)
			if err != nil {
				return fmt.Errorf("acquire: %w", err)
			}

			fmt.Printf("Saved %d of %d result(s) to %s (%d skipped)\n",
				report.Saved, report.TotalResults, dataDir, report.Skipped)

			if !doIngest {
				return nil
			}

			client, err := newEngineClient()
			if err != nil {
				return fmt.Errorf("acquire: %w", err)
			}
			ing, err := newIngestor(client, log, 0)
			if err != nil {
				return fmt.Errorf("acquire: %w", err)
			}

			store, closeStore := openHistory(log)
			defer closeStore()

			var summary ingest.Summary
			start := time.Now()
			for _, path := range report.Files {
				s, err := ing.IngestJSONFile(ctx, path, "text", "title")
				if err != nil {
					return fmt.Errorf("acquire: ingest %s: %w", path, err)
				}
				summary.Submitted += s.Submitted
				summary.Failed += s.Failed
				summary.Skipped += s.Skipped
				summary.Errors = append(summary.Errors, s.Errors...)
			}
			elapsed := time.Since(start)

			recordRun(ctx, log, store, history.Run{
				Source:    "acquire:" + query,
				Index:     getEnvOrDefault("SAI_INDEX", "sourced-ai-index"),
				Submitted: summary.Submitted,
				Failed:    summary.Failed,
				Skipped:   summary.Skipped,
				Duration:  elapsed,
			})

			log.Info("acquired documents ingested",
				slog.String("query", query),
				slog.Int("submitted", summary.Submitted),
				slog.Int("failed", summary.Failed),
				slog.Int("skipped", summary.Skipped),
				slog.Duration("duration", elapsed),
			)

			fmt.Printf("Ingested %d document(s) in %s (%d failed, %d skipped)\n",
				summary.Submitted, elapsed.Round(time.Millisecond), summary.Failed, summary.Skipped)
			for _, de := range summary.Errors {
				fmt.Printf("  failed %s: %s\n", de.ID, de.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 5, "Number of search results to fetch (max 20)")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for fetched records (default: SAI_DATA_DIR or sample_data)")
	cmd.Flags().BoolVar(&keepExisting, "keep-existing", false, "Keep existing data directory contents instead of clearing")
	cmd.Flags().BoolVar(&doIngest, "ingest", false, "Ingest the fetched records after saving them")

	return cmd
}
