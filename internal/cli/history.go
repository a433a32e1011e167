package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/releasekit/internal/journal"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded release events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadValidConfig()
		if err != nil {
			return err
		}
		db, err := openJournal(cmd, cfg)
		if err != nil {
			return err
		}
		if db == nil {
			return fmt.Errorf("the release journal is disabled (journal.dsn: %s)", cfg.Journal.DSN)
		}
		defer db.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		runID, _ := cmd.Flags().GetString("run")

		var events []journal.Event
		if runID != "" {
			events, err = db.Run(cmd.Context(), runID)
		} else {
			events, err = db.Recent(cmd.Context(), limit)
		}
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("format")
		if format == "json" {
			return writeJSON(cmd.OutOrStdout(), events)
		}

		if len(events) == 0 {
			cmd.Println("No release events recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-20s %-8s %-16s %-10s %-10s %s\n", "TIME", "RUN", "STAGE", "EVENT", "VERSION", "DETAIL")
		fmt.Fprintf(w, "%-20s %-8s %-16s %-10s %-10s %s\n",
			strings.Repeat("-", 20),
			strings.Repeat("-", 8),
			strings.Repeat("-", 16),
			strings.Repeat("-", 10),
			strings.Repeat("-", 10),
			strings.Repeat("-", 6))
		for _, e := range events {
			detail := e.Detail
			if len(detail) > 60 {
				detail = detail[:57] + "..."
			}
			fmt.Fprintf(w, "%-20s %-8s %-16s %-10s %-10s %s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"), shortID(e.RunID), e.Stage, e.Event, e.Version, detail)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of events to show (0 for all)")
	historyCmd.Flags().String("run", "", "show every event of one run")
	historyCmd.Flags().String("format", "text", "Output format: text or json")
}
