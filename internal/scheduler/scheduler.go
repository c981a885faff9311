// Package scheduler repeats batch cycles on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/models"
)

const (
	DefaultInterval = 12 * time.Hour
	DefaultBackoff  = 5 * time.Minute
)

// CycleRunner runs one batch cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*models.CycleSummary, error)
}

// Policy controls the wait between cycles.
type Policy struct {
	Interval time.Duration
	Backoff  time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.Backoff <= 0 {
		p.Backoff = DefaultBackoff
	}
	return p
}

// Scheduler runs a cycle immediately and then once per interval until its context is cancelled.
type Scheduler struct {
	runner      CycleRunner
	policy      func() Policy
	beforeCycle func()
	logger      *logging.Logger

	cycles   atomic.Int64
	failures atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPolicy sets a fixed policy.
func WithPolicy(p Policy) Option {
	return func(s *Scheduler) {
		s.policy = func() Policy { return p }
	}
}

// WithPolicyFunc reads the policy before every wait, so config reloads apply to the next cycle.
func WithPolicyFunc(fn func() Policy) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.policy = fn
		}
	}
}

// WithBeforeCycle registers a hook called at the start of every cycle.
func WithBeforeCycle(fn func()) Option {
	return func(s *Scheduler) {
		s.beforeCycle = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler.
func New(runner CycleRunner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner: runner,
		policy: func() Policy { return Policy{} },
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run blocks until ctx is cancelled. Cancellation is only observed between cycles:
// a running cycle gets a context detached from ctx and is left to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		wait := s.runCycle(ctx)
		s.logger.Info("next cycle scheduled", "in", wait.String(), "at", time.Now().Add(wait).Format(time.RFC3339))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped", "cycles", s.Cycles())
			return nil
		case <-timer.C:
		}
	}
}

// Cycles returns the number of cycles started.
func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

// Failures returns the number of cycles that ended in an error or panic.
func (s *Scheduler) Failures() int64 {
	return s.failures.Load()
}

// runCycle runs one cycle and returns how long to wait before the next.
func (s *Scheduler) runCycle(ctx context.Context) time.Duration {
	s.cycles.Add(1)
	if s.beforeCycle != nil {
		s.beforeCycle()
	}

	err := s.safeRun(context.WithoutCancel(ctx))
	policy := s.policy().withDefaults()
	if err != nil {
		s.failures.Add(1)
		s.logger.Error("cycle failed, backing off", "error", err.Error(), "backoff", policy.Backoff.String())
		return policy.Backoff
	}
	return policy.Interval
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cycle panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()
	_, err = s.runner.RunCycle(ctx)
	return err
}
