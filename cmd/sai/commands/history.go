package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sourcedai/sai-go/internal/logging"
)

// NewHistoryCmd constructs the `sai history` command, which lists recent
// ingestion runs from the local SQLite store.
func NewHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent ingestion runs",
		Long: `List recent ingestion runs recorded in the local history store
(~/.sai/history.db by default, SAI_HISTORY_DB to override).

Each CLI or API ingestion records its source, target index, document counts,
and duration. Set SAI_HISTORY_DB=disabled to turn recording off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			store, closeStore := openHistory(log)
			defer closeStore()
			if store == nil {
				return fmt.Errorf("history: store is disabled or unavailable")
			}

			runs, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("history: %w", err)
			}
			if len(runs) == 0 {
				fmt.Println("No ingestion runs recorded yet.")
				return nil
			}

			for _, r := range runs {
				fmt.Printf("%s  %-30s  index=%s  submitted=%d failed=%d skipped=%d  (%s)\n",
					r.CreatedAt.Format(time.RFC3339),
					r.Source,
					r.Index,
					r.Submitted, r.Failed, r.Skipped,
					r.Duration.Round(time.Millisecond),
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to show")

	return cmd
}
