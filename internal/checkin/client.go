// Package checkin submits the daily VerifyActivity mutation and classifies its response.
package checkin

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/httpclient"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/models"
)

const (
	OpCheckin = "checkin"

	// AlreadyCheckedMarker is the upstream error wording for a repeated check-in.
	// It is matched as a substring; a wording change upstream turns these into RemoteError.
	AlreadyCheckedMarker = "Cannot create new campaign spot record"

	StatusCompleted      = "COMPLETED"
	StatusAlreadyChecked = "ALREADY_CHECKED"

	verifyActivityQuery = `mutation VerifyActivity($data: VerifyActivityInput!) {
  verifyActivity(data: $data) {
    record {
      id
      activityId
      status
      properties
      createdAt
      rewardRecords {
        id
        status
        appliedRewardType
        appliedRewardQuantity
        __typename
      }
      __typename
    }
    __typename
  }
}`
)

// Client submits check-ins.
type Client struct {
	remote config.RemoteConfig
	sender httpclient.Sender
	logger *logging.Logger
}

// NewClient creates a check-in client.
func NewClient(remote config.RemoteConfig, sender httpclient.Sender, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Client{
		remote: remote,
		sender: sender,
		logger: logger,
	}
}

type graphQLRequest struct {
	OperationName string      `json:"operationName"`
	Query         string      `json:"query"`
	Variables     interface{} `json:"variables"`
}

type verifyActivityVariables struct {
	Data struct {
		ActivityID string `json:"activityId"`
	} `json:"data"`
}

// SubmitCheckin performs one check-in attempt. Every result, including a transport
// failure, is reported as an outcome.
func (c *Client) SubmitCheckin(ctx context.Context, identityToken string, auth models.AuthorizationToken, activityID, proxy string) models.CheckinOutcome {
	if activityID == "" {
		activityID = c.remote.ActivityID
	}
	var vars verifyActivityVariables
	vars.Data.ActivityID = activityID

	resp, err := c.sender.PostJSON(ctx, httpclient.Request{
		Op:  OpCheckin,
		URL: c.remote.APIURL,
		Headers: map[string]string{
			"Accept":                  "*/*",
			"Authorization":           "Bearer " + auth.String(),
			"Origin":                  c.remote.Origin,
			"Referer":                 c.remote.Referer,
			"Privy-Id-Token":          identityToken,
			"X-Apollo-Operation-Name": "VerifyActivity",
		},
		Body: graphQLRequest{
			OperationName: "VerifyActivity",
			Query:         verifyActivityQuery,
			Variables:     vars,
		},
		Proxy: proxy,
	})
	if err != nil {
		return models.TransportFailure(err.Error())
	}

	if c.logger.Enabled(logging.LevelDebug) {
		c.logger.DebugWithContext(ctx, "remote response",
			"op", OpCheckin,
			"status", resp.Status,
			"body", string(resp.Body),
		)
	}

	return Classify(resp.Body)
}

type verifyActivityResponse struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
	Data struct {
		VerifyActivity struct {
			Record struct {
				Status        string `json:"status"`
				RewardRecords []struct {
					AppliedRewardType     json.RawMessage `json:"appliedRewardType"`
					AppliedRewardQuantity json.RawMessage `json:"appliedRewardQuantity"`
				} `json:"rewardRecords"`
			} `json:"record"`
		} `json:"verifyActivity"`
	} `json:"data"`
}

// Classify maps a VerifyActivity response body to an outcome.
func Classify(body []byte) models.CheckinOutcome {
	var resp verifyActivityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.TransportFailure("malformed response: " + err.Error())
	}

	if len(resp.Errors) > 0 {
		message := resp.Errors[0].Message
		if strings.Contains(message, AlreadyCheckedMarker) {
			return models.AlreadyChecked()
		}
		if message == "" {
			message = "Unknown error"
		}
		return models.RemoteError(message)
	}

	record := resp.Data.VerifyActivity.Record
	switch record.Status {
	case StatusCompleted:
		rewards := make([]models.Reward, 0, len(record.RewardRecords))
		for _, r := range record.RewardRecords {
			rewardType := typeString(r.AppliedRewardType)
			quantity := quantityString(r.AppliedRewardQuantity)
			if rewardType == "" || quantity == "" {
				continue
			}
			rewards = append(rewards, models.Reward{Type: rewardType, Quantity: quantity})
		}
		return models.Completed(rewards)
	case StatusAlreadyChecked:
		return models.AlreadyChecked()
	case "":
		return models.RemoteError("no status")
	default:
		return models.UnknownStatus(record.Status)
	}
}

// typeString returns the reward type when it is a non-empty JSON string, otherwise "".
func typeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// quantityString renders a reward quantity that may be encoded as a string or a number.
// Null and empty values yield "".
func quantityString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return string(raw)
}
