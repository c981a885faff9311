// Package runner executes one batch cycle over every configured account.
package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/checkinbot/checkinbot/internal/console"
	"github.com/checkinbot/checkinbot/internal/limiter"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/models"
)

// DefaultConcurrency is the worker count when none is configured.
const DefaultConcurrency = 3

// AccountLoader loads the account list for a cycle.
type AccountLoader interface {
	LoadAll() ([]models.AccountRecord, error)
}

// AccountProcessor runs one account to a terminal result.
type AccountProcessor interface {
	Run(ctx context.Context, record models.AccountRecord) models.AccountResult
}

// History records finished cycles.
type History interface {
	SaveCycle(ctx context.Context, summary *models.CycleSummary) error
}

// Notifier announces finished cycles.
type Notifier interface {
	NotifyCycle(ctx context.Context, summary *models.CycleSummary) error
}

// CycleRecorder receives cycle metrics.
type CycleRecorder interface {
	RecordCycle(result string, accounts int, duration time.Duration)
}

// Reporter prints cycle banners and errors.
type Reporter interface {
	Banner(message string)
	Status(status console.Status, message string)
}

// Gate bounds pipelines sharing one proxy.
type Gate interface {
	Wait(ctx context.Context, key string) error
	Release(key string)
}

// Runner dispatches accounts to a fixed pool of workers.
type Runner struct {
	loader    AccountLoader
	processor AccountProcessor

	mu          sync.Mutex
	concurrency int

	gate     Gate
	history  History
	notifier Notifier
	recorder CycleRecorder
	reporter Reporter
	logger   *logging.Logger
	newID    func() string
}

// Option configures a Runner.
type Option func(*Runner)

// WithConcurrency sets the worker count.
func WithConcurrency(n int) Option {
	return func(r *Runner) {
		r.concurrency = n
	}
}

// WithGate limits pipelines per proxy.
func WithGate(g Gate) Option {
	return func(r *Runner) {
		r.gate = g
	}
}

// WithHistory records every cycle.
func WithHistory(h History) Option {
	return func(r *Runner) {
		r.history = h
	}
}

// WithNotifier announces every cycle.
func WithNotifier(n Notifier) Option {
	return func(r *Runner) {
		r.notifier = n
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(rec CycleRecorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithReporter sets the console reporter.
func WithReporter(rep Reporter) Option {
	return func(r *Runner) {
		r.reporter = rep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithIDGenerator overrides cycle id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// New creates a Runner.
func New(loader AccountLoader, processor AccountProcessor, opts ...Option) *Runner {
	r := &Runner{
		loader:      loader,
		processor:   processor,
		concurrency: DefaultConcurrency,
		logger:      logging.Nop(),
		newID:       logging.NewCycleID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultConcurrency
	}
	return r
}

// SetConcurrency changes the worker count for subsequent cycles.
func (r *Runner) SetConcurrency(n int) {
	if n <= 0 {
		n = DefaultConcurrency
	}
	r.mu.Lock()
	r.concurrency = n
	r.mu.Unlock()
}

// Concurrency returns the worker count for the next cycle.
func (r *Runner) Concurrency() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.concurrency
}

// RunCycle loads every account and runs each pipeline once. A load failure aborts
// the cycle before any account is dispatched and is returned; account failures are
// only counted.
func (r *Runner) RunCycle(ctx context.Context) (*models.CycleSummary, error) {
	id := r.newID()
	ctx = logging.WithCycleID(ctx, id)
	started := time.Now()

	records, err := r.loader.LoadAll()
	if err != nil {
		summary := &models.CycleSummary{
			ID:         id,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Counts:     map[string]int{},
			Error:      err.Error(),
		}
		r.logger.ErrorWithContext(ctx, "failed to load accounts", "error", err.Error())
		r.report(func(rep Reporter) { rep.Status(console.StatusError, "batch failed: "+err.Error()) })
		r.finish(ctx, summary, "load_error")
		return summary, err
	}

	r.logger.InfoWithContext(ctx, fmt.Sprintf("loaded %d accounts", len(records)), "accounts", len(records))
	r.report(func(rep Reporter) { rep.Banner(fmt.Sprintf("processing %d accounts", len(records))) })

	summary := models.NewCycleSummary(id, len(records))
	summary.StartedAt = started
	for _, result := range r.dispatch(ctx, records) {
		summary.Add(result)
	}
	summary.SortResults()
	summary.FinishedAt = time.Now()

	if skipped := len(records) - len(summary.Results); skipped > 0 {
		r.logger.WarnWithContext(ctx, "cycle interrupted before every account was dispatched", "skipped", skipped)
	}

	r.logger.InfoWithContext(ctx, "cycle finished",
		"accounts", summary.Accounts,
		"succeeded", summary.Succeeded(),
		"failed", summary.Failed(),
		"counts", summary.Counts,
		"duration_ms", summary.Duration().Milliseconds(),
	)
	r.report(func(rep Reporter) {
		rep.Banner(fmt.Sprintf("cycle finished: %d checked in, %d failed", summary.Succeeded(), summary.Failed()))
	})
	r.finish(ctx, summary, "ok")
	return summary, nil
}

// dispatch feeds records to the worker pool and collects every result.
// Records not yet handed out when ctx is done are skipped.
func (r *Runner) dispatch(ctx context.Context, records []models.AccountRecord) []models.AccountResult {
	workers := r.Concurrency()
	if workers > len(records) {
		workers = len(records)
	}

	recordCh := make(chan models.AccountRecord)
	resultCh := make(chan models.AccountResult, len(records))

	go func() {
		defer close(recordCh)
		for _, rec := range records {
			select {
			case <-ctx.Done():
				return
			case recordCh <- rec:
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range recordCh {
				resultCh <- r.process(ctx, rec)
			}
		}()
	}
	wg.Wait()
	close(resultCh)

	results := make([]models.AccountResult, 0, len(records))
	for result := range resultCh {
		results = append(results, result)
	}
	return results
}

// process runs one pipeline, holding the account's proxy slot when a gate is set.
func (r *Runner) process(ctx context.Context, rec models.AccountRecord) models.AccountResult {
	if r.gate == nil {
		return r.processor.Run(ctx, rec)
	}

	key := limiter.Key(rec.Proxy)
	started := time.Now()
	if err := r.gate.Wait(ctx, key); err != nil {
		r.logger.WarnWithContext(ctx, "gave up waiting for proxy slot", "account", rec.Number(), "error", err.Error())
		result := models.Failed(rec.Index, models.ExceptionReason("proxy slot: "+err.Error()))
		result.StartedAt = started
		result.FinishedAt = time.Now()
		return result
	}
	defer r.gate.Release(key)

	return r.processor.Run(ctx, rec)
}

func (r *Runner) finish(ctx context.Context, summary *models.CycleSummary, result string) {
	if r.recorder != nil {
		r.recorder.RecordCycle(result, summary.Accounts, summary.Duration())
	}
	if r.history != nil {
		if err := r.history.SaveCycle(ctx, summary); err != nil {
			r.logger.ErrorWithContext(ctx, "failed to record cycle history", "error", err.Error())
		}
	}
	if r.notifier != nil {
		if err := r.notifier.NotifyCycle(ctx, summary); err != nil {
			r.logger.WarnWithContext(ctx, "failed to send cycle notification", "error", err.Error())
		}
	}
}

func (r *Runner) report(fn func(Reporter)) {
	if r.reporter != nil {
		fn(r.reporter)
	}
}
