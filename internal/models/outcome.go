package models

import (
	"fmt"
	"strings"
)

// OutcomeKind tags a CheckinOutcome.
type OutcomeKind string

const (
	OutcomeCompleted        OutcomeKind = "completed"
	OutcomeAlreadyChecked   OutcomeKind = "already_checked"
	OutcomeUnknownStatus    OutcomeKind = "unknown_status"
	OutcomeRemoteError      OutcomeKind = "remote_error"
	OutcomeTransportFailure OutcomeKind = "transport_failure"
)

// Reward is one applied reward from a completed check-in.
type Reward struct {
	Type     string `json:"type"`
	Quantity string `json:"quantity"`
}

// String renders the reward as "TYPE: QUANTITY".
func (r Reward) String() string {
	return fmt.Sprintf("%s: %s", r.Type, r.Quantity)
}

// CheckinOutcome is the classified result of one check-in submission.
// Only the fields matching Kind are set.
type CheckinOutcome struct {
	Kind    OutcomeKind `json:"kind"`
	Rewards []Reward    `json:"rewards,omitempty"`
	Status  string      `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Completed returns a Completed outcome with the given rewards in order.
func Completed(rewards []Reward) CheckinOutcome {
	return CheckinOutcome{Kind: OutcomeCompleted, Rewards: rewards}
}

// AlreadyChecked returns an AlreadyChecked outcome.
func AlreadyChecked() CheckinOutcome {
	return CheckinOutcome{Kind: OutcomeAlreadyChecked}
}

// UnknownStatus returns an UnknownStatus outcome carrying the remote status.
func UnknownStatus(status string) CheckinOutcome {
	return CheckinOutcome{Kind: OutcomeUnknownStatus, Status: status}
}

// RemoteError returns a RemoteError outcome carrying the remote message.
func RemoteError(message string) CheckinOutcome {
	return CheckinOutcome{Kind: OutcomeRemoteError, Message: message}
}

// TransportFailure returns a TransportFailure outcome.
func TransportFailure(message string) CheckinOutcome {
	return CheckinOutcome{Kind: OutcomeTransportFailure, Message: message}
}

// Succeeded reports whether the account is checked in for today.
func (o CheckinOutcome) Succeeded() bool {
	return o.Kind == OutcomeCompleted || o.Kind == OutcomeAlreadyChecked
}

// RewardSummary joins the rewards as "TYPE: QTY, TYPE: QTY".
func (o CheckinOutcome) RewardSummary() string {
	parts := make([]string, 0, len(o.Rewards))
	for _, r := range o.Rewards {
		parts = append(parts, r.String())
	}
	return strings.Join(parts, ", ")
}

// String implements fmt.Stringer.
func (o CheckinOutcome) String() string {
	switch o.Kind {
	case OutcomeCompleted:
		if len(o.Rewards) == 0 {
			return "completed"
		}
		return "completed (" + o.RewardSummary() + ")"
	case OutcomeUnknownStatus:
		return "unknown status " + o.Status
	case OutcomeRemoteError, OutcomeTransportFailure:
		if o.Message == "" {
			return string(o.Kind)
		}
		return string(o.Kind) + ": " + o.Message
	default:
		return string(o.Kind)
	}
}
