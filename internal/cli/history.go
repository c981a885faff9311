package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/models"
	"github.com/checkinbot/checkinbot/internal/store"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"h"},
	Short:   "Show recent check-in cycles",
	Long: `Print the most recent cycles from the history ledger, newest first.

Example:
  checkinbot history --limit 5`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyFlags struct {
	Limit int
}

func init() {
	historyCmd.Flags().IntVarP(&historyFlags.Limit, "limit", "n", 10, "Number of cycles to show")
	RootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyFlags.Limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", historyFlags.Limit)
	}

	cfg, err := config.NewLoader(globalFlags.Config).LoadOrDefault()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if !cfg.Store.Enabled {
		return errors.New("history store is disabled (store.enabled: false)")
	}

	history, err := store.NewSQLiteStoreWithRetention(cfg.Store.Path, 0, nil)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer history.Close()

	cycles, err := history.ListCycles(commandContext(cmd), historyFlags.Limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(cycles)
	}
	writeHistoryTable(out, cycles)
	return nil
}

func writeHistoryTable(w io.Writer, cycles []*models.CycleSummary) {
	if len(cycles) == 0 {
		fmt.Fprintln(w, "No cycles recorded yet.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CYCLE\tSTARTED\tDURATION\tACCOUNTS\tOK\tFAILED\tDETAILS")
	for _, c := range cycles {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(c.ID),
			c.StartedAt.Local().Format("2006-01-02 15:04:05"),
			c.Duration().Round(time.Second),
			c.Accounts,
			c.Succeeded(),
			c.Failed(),
			cycleDetails(c),
		)
	}
	_ = tw.Flush()
}

func cycleDetails(c *models.CycleSummary) string {
	if c.Error != "" {
		return "aborted: " + c.Error
	}
	parts := make([]string, 0, len(c.Counts))
	for _, category := range c.Categories() {
		parts = append(parts, fmt.Sprintf("%s=%d", category, c.Counts[category]))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
