// Package pipeline runs one account through refresh, exchange and check-in.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/checkinbot/checkinbot/internal/console"
	"github.com/checkinbot/checkinbot/internal/errors"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/models"
)

// CredentialStore persists refreshed tokens.
type CredentialStore interface {
	SaveTokens(index int, accessToken, refreshToken string) error
	SaveIdentityToken(index int, token string) error
}

// Authenticator refreshes sessions and exchanges access tokens.
type Authenticator interface {
	RefreshSession(ctx context.Context, accessToken, refreshToken, proxy string) (models.RefreshResult, error)
	ExchangeAuthorization(ctx context.Context, accessToken, proxy string) (models.AuthorizationToken, error)
}

// Checker submits check-ins.
type Checker interface {
	SubmitCheckin(ctx context.Context, identityToken string, auth models.AuthorizationToken, activityID, proxy string) models.CheckinOutcome
}

// Recorder receives stage timings and terminal categories.
type Recorder interface {
	RecordStage(stage string, duration time.Duration)
	RecordOutcome(category string)
}

// Reporter prints operator-facing lines.
type Reporter interface {
	Account(index int, status console.Status, message string)
	Detail(index int, message string)
}

// Pipeline is stateless between runs and safe for concurrent use.
type Pipeline struct {
	store      CredentialStore
	auth       Authenticator
	checker    Checker
	activityID string
	logger     *logging.Logger
	reporter   Reporter
	recorder   Recorder
	now        func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithReporter sets the console reporter.
func WithReporter(r Reporter) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.reporter = r
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithActivityID sets the activity checked in to.
func WithActivityID(id string) Option {
	return func(p *Pipeline) {
		p.activityID = id
	}
}

// WithClock overrides the clock used for result timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// New creates a Pipeline.
func New(store CredentialStore, auth Authenticator, checker Checker, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		auth:     auth,
		checker:  checker,
		logger:   logging.Nop(),
		reporter: nopReporter{},
		recorder: nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries values between stages of one traversal.
type run struct {
	record    models.AccountRecord
	refreshed models.RefreshResult
	authToken models.AuthorizationToken
}

// Run drives the account from Start to a terminal stage. A panic in any stage
// becomes Failed with an exception reason.
func (p *Pipeline) Run(ctx context.Context, record models.AccountRecord) (result models.AccountResult) {
	started := p.now()

	defer func() {
		if r := recover(); r != nil {
			perr := &errors.ErrPipelinePanic{Index: record.Index, Value: r}
			p.logger.ErrorWithContext(ctx, "account pipeline panicked",
				"account", record.Number(),
				"error", perr.Error(),
				"stack", string(debug.Stack()),
			)
			result = models.Failed(record.Index, models.ExceptionReason(fmt.Sprint(r)))
		}
		result.StartedAt = started
		result.FinishedAt = p.now()
		p.finish(ctx, result)
	}()

	p.reporter.Detail(record.Index, "processing started")
	r := &run{record: record}
	stage := models.StageStart
	for {
		stageStart := time.Now()
		next, terminal := p.advance(ctx, stage, r)
		p.recorder.RecordStage(string(stage), time.Since(stageStart))

		if terminal != nil {
			return *terminal
		}
		p.logger.DebugWithContext(ctx, "account stage transition",
			"account", record.Number(),
			"from", string(stage),
			"to", string(next),
		)
		stage = next
	}
}

// advance executes one stage and returns the next stage, or a terminal result.
func (p *Pipeline) advance(ctx context.Context, stage models.Stage, r *run) (models.Stage, *models.AccountResult) {
	index := r.record.Index

	switch stage {
	case models.StageStart:
		return models.StageRefreshing, nil

	case models.StageRefreshing:
		p.reporter.Detail(index, "refreshing session")
		refreshed, err := p.auth.RefreshSession(ctx, r.record.AccessToken, r.record.RefreshToken, r.record.Proxy)
		if err != nil {
			p.logger.WarnWithContext(ctx, "session refresh failed", "account", r.record.Number(), "error", err.Error())
			return p.fail(index, models.ReasonRefreshFailed)
		}
		if !refreshed.Complete() {
			p.logger.WarnWithContext(ctx, "session refresh returned incomplete tokens",
				"account", r.record.Number(),
				"has_token", refreshed.Token != "",
				"has_refresh_token", refreshed.RefreshToken != "",
			)
			return p.fail(index, models.ReasonRefreshFailed)
		}
		if err := p.store.SaveTokens(index, refreshed.Token, refreshed.RefreshToken); err != nil {
			return p.fail(index, models.ExceptionReason(err.Error()))
		}
		p.reporter.Account(index, console.StatusSuccess, "tokens updated")

		if refreshed.IdentityToken == "" {
			return p.fail(index, models.ReasonMissingIdentityToken)
		}
		if err := p.store.SaveIdentityToken(index, refreshed.IdentityToken); err != nil {
			return p.fail(index, models.ExceptionReason(err.Error()))
		}
		r.refreshed = refreshed
		return models.StageTokenSaved, nil

	case models.StageTokenSaved:
		return models.StageExchanging, nil

	case models.StageExchanging:
		p.reporter.Detail(index, "exchanging authorization")
		token, err := p.auth.ExchangeAuthorization(ctx, r.refreshed.Token, r.record.Proxy)
		if err != nil {
			p.logger.WarnWithContext(ctx, "authorization exchange failed", "account", r.record.Number(), "error", err.Error())
			return p.fail(index, models.ReasonAuthorizationFailed)
		}
		r.authToken = token
		return models.StageCheckin, nil

	case models.StageCheckin:
		p.reporter.Detail(index, "submitting check-in")
		outcome := p.checker.SubmitCheckin(ctx, r.refreshed.IdentityToken, r.authToken, p.activityID, r.record.Proxy)
		result := models.Done(index, outcome)
		return models.StageDone, &result

	default:
		panic(fmt.Sprintf("no transition from stage %q", stage))
	}
}

func (p *Pipeline) fail(index int, reason models.FailureReason) (models.Stage, *models.AccountResult) {
	result := models.Failed(index, reason)
	return models.StageFailed, &result
}

func (p *Pipeline) finish(ctx context.Context, result models.AccountResult) {
	category := result.Category()
	p.recorder.RecordOutcome(category)

	fields := []interface{}{
		"account", result.Index + 1,
		"category", category,
		"duration_ms", result.Duration().Milliseconds(),
	}
	if result.Stage == models.StageFailed {
		p.logger.WarnWithContext(ctx, "account failed", append(fields, "reason", string(result.Reason))...)
		p.reporter.Account(result.Index, console.StatusError, "failed: "+string(result.Reason))
		return
	}

	outcome := result.Outcome
	p.logger.InfoWithContext(ctx, "account done", append(fields, "outcome", outcome.String())...)

	switch outcome.Kind {
	case models.OutcomeCompleted:
		if len(outcome.Rewards) == 0 {
			p.reporter.Account(result.Index, console.StatusSuccess, "check-in succeeded")
		} else {
			p.reporter.Account(result.Index, console.StatusSuccess, "check-in succeeded, rewards: "+outcome.RewardSummary())
		}
	case models.OutcomeAlreadyChecked:
		p.reporter.Account(result.Index, console.StatusWarning, "already checked in today")
	case models.OutcomeUnknownStatus:
		p.reporter.Account(result.Index, console.StatusWarning, "check-in status: "+outcome.Status)
	default:
		p.reporter.Account(result.Index, console.StatusError, "check-in failed: "+outcome.String())
	}
}

type nopReporter struct{}

func (nopReporter) Account(int, console.Status, string) {}
func (nopReporter) Detail(int, string)                  {}

type nopRecorder struct{}

func (nopRecorder) RecordStage(string, time.Duration) {}
func (nopRecorder) RecordOutcome(string)              {}
