package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/spf13/cobra"
)

// onceCmd runs a single cycle
var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run exactly one check-in cycle and exit",
	Long: `Run one check-in cycle over every account and exit.

The exit status is non-zero only when the credential files cannot be loaded;
failed accounts are reported but do not fail the command.`,
	Args: cobra.NoArgs,
	RunE: runOnce,
}

func init() {
	RootCmd.AddCommand(onceCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(globalFlags.Config).LoadOrDefault()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// keep stdout clean for the JSON summary
	out := cmd.OutOrStdout()
	if globalFlags.JSON {
		out = cmd.ErrOrStderr()
	}

	a, err := newApp(cfg, out)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.newRunner(cfg).RunCycle(ctx)
	if err != nil {
		return err
	}

	if globalFlags.JSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return nil
}
