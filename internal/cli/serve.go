package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/checkinbot/checkinbot/internal/api"
	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/scheduler"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// serveCmd represents the run command
var serveCmd = &cobra.Command{
	Use:     "run",
	Aliases: []string{"serve"},
	Short:   "Run check-in cycles every interval until interrupted",
	Long: `Run one check-in cycle immediately, then one every runner.interval.

A cycle that fails to load the credential files is retried after
runner.backoff. SIGINT or SIGTERM stops the loop between cycles; a cycle in
progress is left to finish.

When api.enabled is set, a status server exposes /health, /metrics and
/api/v1/cycles on api.host:api.port.

Example:
  checkinbot run --config config.yaml -v`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.LoadOrDefault()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	a, err := newApp(cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	loader.SetLogger(a.logger)

	a.console.Header("OFC daily check-in")
	a.logger.Info("checkinbot starting",
		"version", Version,
		"config", loader.Path(),
		"concurrency", cfg.Runner.Concurrency,
		"interval", cfg.Runner.Interval.String(),
	)

	sched := scheduler.New(&reloadingRunner{app: a, loader: loader},
		scheduler.WithLogger(a.logger),
		scheduler.WithPolicyFunc(func() scheduler.Policy {
			current := loader.Get()
			return scheduler.Policy{
				Interval: current.Runner.Interval,
				Backoff:  current.Runner.Backoff,
			}
		}),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		if err := loader.Watch(gctx); err != nil {
			a.logger.Warn("config watcher disabled", "error", err.Error())
		}
		return nil
	})
	if cfg.API.Enabled {
		srv := api.NewServer(cfg.API, a.history, a.metrics, a.logger)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	err = g.Wait()
	a.console.Banner(fmt.Sprintf("stopped after %d cycles", sched.Cycles()))
	a.logger.Info("checkinbot stopped", "cycles", sched.Cycles(), "failed_cycles", sched.Failures())
	return err
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
