package models

import (
	"strings"
	"time"
)

// Stage is a state of the per-account pipeline.
type Stage string

const (
	StageStart      Stage = "start"
	StageRefreshing Stage = "refreshing"
	StageTokenSaved Stage = "token_saved"
	StageExchanging Stage = "exchanging"
	StageCheckin    Stage = "checkin"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no transition leaves the stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed
}

// FailureReason explains a Failed pipeline.
type FailureReason string

const (
	ReasonRefreshFailed        FailureReason = "refresh_failed"
	ReasonMissingIdentityToken FailureReason = "missing_identity_token"
	ReasonAuthorizationFailed  FailureReason = "authorization_failed"

	exceptionPrefix = "exception:"
)

// ExceptionReason builds the reason for an unexpected fault.
func ExceptionReason(message string) FailureReason {
	return FailureReason(exceptionPrefix + message)
}

// IsException reports whether the reason came from an unexpected fault.
func (r FailureReason) IsException() bool {
	return strings.HasPrefix(string(r), exceptionPrefix)
}

// Category collapses exception reasons to "exception" for aggregation.
func (r FailureReason) Category() string {
	if r.IsException() {
		return "exception"
	}
	return string(r)
}

// AccountResult is the terminal state of one pipeline run.
type AccountResult struct {
	Index      int            `json:"index"`
	Stage      Stage          `json:"stage"`
	Outcome    CheckinOutcome `json:"outcome"`
	Reason     FailureReason  `json:"reason,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Done returns a Done result carrying the check-in outcome.
func Done(index int, outcome CheckinOutcome) AccountResult {
	return AccountResult{Index: index, Stage: StageDone, Outcome: outcome}
}

// Failed returns a Failed result with the given reason.
func Failed(index int, reason FailureReason) AccountResult {
	return AccountResult{Index: index, Stage: StageFailed, Reason: reason}
}

// Category is the aggregation key: the outcome kind for Done, "failed:<reason>" otherwise.
func (r AccountResult) Category() string {
	if r.Stage == StageDone {
		return string(r.Outcome.Kind)
	}
	return "failed:" + r.Reason.Category()
}

// Duration is the wall time of the run.
func (r AccountResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
