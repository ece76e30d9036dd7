package commands

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcedai/sai-go/internal/history"
	"github.com/sourcedai/sai-go/internal/ingest"
	"github.com/sourcedai/sai-go/internal/logging"
)

// NewIngestCmd constructs the `sai ingest` command, which reads documents
// from a file or directory and submits them to the engine in batches.
func NewIngestCmd() *cobra.Command {
	var (
		filePath   string
		jsonPath   string
		dirPath    string
		pattern    string
		recursive  bool
		textField  string
		titleField string
		title      string
		source     string
		batchSize  int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents into the k-NN index",
		Long: `Ingest documents into the engine. Embeddings are generated inside the
cluster by the ingest pipeline, so documents carry only their text.

Exactly one input source must be given:
  --file   a plain text file ingested as a single document
  --json   a JSON file holding one record object or an array of records
  --dir    a directory of text files (see --pattern and --recursive)

Per-document failures are reported in the summary; the command only fails
when the engine is unreachable or the input cannot be read at all.

Examples:
  sai ingest --file notes.txt --title "Release notes"
  sai ingest --json corpus.json --text-field body --title-field heading
  sai ingest --dir ./docs --pattern '*.md' --recursive`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			sources := 0
			for _, s := range []string{filePath, jsonPath, dirPath} {
				if s != "" {
					sources++
				}
			}
			if sources != 1 {
				return fmt.Errorf("ingest: exactly one of --file, --json, or --dir is required")
			}

			client, err := newEngineClient()
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			ing, err := newIngestor(client, log, batchSize)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			store, closeStore := openHistory(log)
			defer closeStore()

			var (
				summary ingest.Summary
				srcDesc string
			)

			start := time.Now()
			switch {
			case filePath != "":
				srcDesc = filePath
				summary, err = ing.IngestTextFile(ctx, filePath, ingest.TextFileOptions{
					Title:  title,
					Source: source,
				})
			case jsonPath != "":
				srcDesc = jsonPath
				summary, err = ing.IngestJSONFile(ctx, jsonPath, textField, titleField)
			case dirPath != "":
				srcDesc = dirPath
				summary, err = ing.IngestDirectory(ctx, dirPath, pattern, recursive)
			}
			elapsed := time.Since(start)

			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			recordRun(ctx, log, store, history.Run{
				Source:    srcDesc,
				Index:     getEnvOrDefault("SAI_INDEX", "sourced-ai-index"),
				Submitted: summary.Submitted,
				Failed:    summary.Failed,
				Skipped:   summary.Skipped,
				Duration:  elapsed,
			})

			log.Info("ingestion complete",
				slog.String("source", srcDesc),
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

	cmd.Flags().StringVar(&filePath, "file", "", "Plain text file to ingest as one document")
	cmd.Flags().StringVar(&jsonPath, "json", "", "JSON record file to ingest (object or array of objects)")
	cmd.Flags().StringVar(&dirPath, "dir", "", "Directory of text files to ingest")
	cmd.Flags().StringVar(&pattern, "pattern", "*.txt", "Filename glob for --dir ingestion")
	cmd.Flags().BoolVar(&recursive, "recursive", false, "Descend into subdirectories for --dir ingestion")
	cmd.Flags().StringVar(&textField, "text-field", "text", "Record field holding the document text for --json ingestion")
	cmd.Flags().StringVar(&titleField, "title-field", "", "Record field holding the document title for --json ingestion")
	cmd.Flags().StringVar(&title, "title", "", "Document title for --file ingestion (default: file name)")
	cmd.Flags().StringVar(&source, "source", "", "Document source label for --file ingestion (default: file path)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Documents per bulk request (default: SAI_BATCH_SIZE or 100)")

	return cmd
}
