package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/checkinbot/checkinbot/internal/auth"
	"github.com/checkinbot/checkinbot/internal/checkin"
	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/console"
	"github.com/checkinbot/checkinbot/internal/credentials"
	"github.com/checkinbot/checkinbot/internal/httpclient"
	"github.com/checkinbot/checkinbot/internal/limiter"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/metrics"
	"github.com/checkinbot/checkinbot/internal/models"
	"github.com/checkinbot/checkinbot/internal/notify"
	"github.com/checkinbot/checkinbot/internal/pipeline"
	"github.com/checkinbot/checkinbot/internal/runner"
	"github.com/checkinbot/checkinbot/internal/store"
)

// app holds the long-lived components shared by every cycle.
type app struct {
	logger   *logging.Logger
	closeLog func() error
	console  *console.Console
	metrics  *metrics.Metrics
	history  store.Store
	notifier *notify.Notifier

	// sender is shared across cycles and rebuilt only when its settings change.
	sender         *httpclient.Client
	senderSettings senderSettings
}

// senderSettings are the config values an httpclient.Client is built from.
type senderSettings struct {
	timeout        time.Duration
	insecure       bool
	utls           bool
	userAgent      string
	acceptLanguage string
}

func newApp(cfg *config.Config, out io.Writer) (*app, error) {
	logOut, closeLog := logging.Outputs(logging.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	}, cfg.Log.Stdout)

	a := &app{
		logger: logging.NewLogger(
			logging.WithOutput(logOut),
			logging.WithLevel(logging.ParseLevel(cfg.Log.Level)),
		),
		closeLog: closeLog,
		metrics:  metrics.NewMetrics("checkinbot"),
	}

	verbose, quiet := consoleMode(cfg)
	a.console = console.New(out, console.Options{
		Verbose: verbose,
		Quiet:   quiet,
		NoColor: globalFlags.NoColor || cfg.Log.NoColor,
	})

	if cfg.Store.Enabled {
		history, err := store.NewSQLiteStoreWithRetention(cfg.Store.Path, cfg.Store.RetentionDays, a.logger)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to open history store: %w", err)
		}
		a.history = history
	}

	notifier, err := notify.New(cfg.Telegram, a.logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.notifier = notifier

	return a, nil
}

// consoleMode merges the command line flags over the config file.
func consoleMode(cfg *config.Config) (verbose, quiet bool) {
	verbose = globalFlags.Verbose || cfg.Log.Verbose
	quiet = globalFlags.Quiet || cfg.Log.Quiet
	if globalFlags.Verbose {
		quiet = false
	}
	if globalFlags.Quiet {
		verbose = false
	}
	return verbose, quiet
}

// senderFor returns the shared HTTP sender, replacing it when the transport
// settings in cfg differ from the ones it was built with. The replaced sender's
// idle proxy connections are closed.
func (a *app) senderFor(cfg *config.Config) *httpclient.Client {
	settings := senderSettings{
		timeout:        cfg.Runner.RequestTimeout,
		insecure:       cfg.Remote.InsecureSkipVerify(),
		utls:           cfg.Remote.UTLS,
		userAgent:      cfg.Remote.UserAgent,
		acceptLanguage: cfg.Remote.AcceptLang,
	}
	if a.sender != nil && settings == a.senderSettings {
		return a.sender
	}
	if a.sender != nil {
		a.sender.CloseIdleConnections()
		a.logger.Info("remote transport settings changed, rebuilding http client")
	}

	a.senderSettings = settings
	a.sender = httpclient.New(httpclient.Options{
		Timeout:            settings.timeout,
		InsecureSkipVerify: settings.insecure,
		UTLS:               settings.utls,
		UserAgent:          settings.userAgent,
		AcceptLanguage:     settings.acceptLanguage,
		Observer:           a.metrics.RecordRemoteCall,
	})
	return a.sender
}

// newRunner wires a runner for one cycle from cfg.
func (a *app) newRunner(cfg *config.Config) *runner.Runner {
	sender := a.senderFor(cfg)

	creds := credentials.NewStore(cfg.Files)
	p := pipeline.New(creds,
		auth.NewClient(cfg.Remote, sender, a.logger),
		checkin.NewClient(cfg.Remote, sender, a.logger),
		pipeline.WithLogger(a.logger),
		pipeline.WithReporter(a.console),
		pipeline.WithRecorder(a.metrics),
		pipeline.WithActivityID(cfg.Remote.ActivityID),
	)

	opts := []runner.Option{
		runner.WithConcurrency(cfg.Runner.Concurrency),
		runner.WithRecorder(a.metrics),
		runner.WithReporter(a.console),
		runner.WithLogger(a.logger),
	}
	if cfg.Runner.PerProxyLimit > 0 {
		opts = append(opts, runner.WithGate(limiter.New(cfg.Runner.PerProxyLimit, a.metrics)))
	}
	if a.history != nil {
		opts = append(opts, runner.WithHistory(a.history))
	}
	if a.notifier != nil {
		opts = append(opts, runner.WithNotifier(a.notifier))
	}
	return runner.New(creds, p, opts...)
}

func (a *app) Close() error {
	if a.sender != nil {
		a.sender.CloseIdleConnections()
	}

	var firstErr error
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			firstErr = err
		}
	}
	if a.closeLog != nil {
		if err := a.closeLog(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// reloadingRunner rebuilds the runner from the loader's current config before every
// cycle, so edits to the config file apply from the next cycle on.
type reloadingRunner struct {
	app    *app
	loader *config.Loader
}

func (r *reloadingRunner) RunCycle(ctx context.Context) (*models.CycleSummary, error) {
	cfg := r.loader.Get()
	r.app.console.SetMode(consoleMode(cfg))
	return r.app.newRunner(cfg).RunCycle(ctx)
}
