package checkin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/httpclient"
	"github.com/checkinbot/checkinbot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		body string
		want models.CheckinOutcome
	}{
		{
			name: "already checked marker",
			body: `{"errors":[{"message":"Cannot create new campaign spot record: limit reached"}]}`,
			want: models.AlreadyChecked(),
		},
		{
			name: "other remote error",
			body: `{"errors":[{"message":"Unauthorized"},{"message":"ignored"}]}`,
			want: models.RemoteError("Unauthorized"),
		},
		{
			name: "remote error without message",
			body: `{"errors":[{}]}`,
			want: models.RemoteError("Unknown error"),
		},
		{
			name: "completed with rewards in order",
			body: `{"data":{"verifyActivity":{"record":{"status":"COMPLETED","rewardRecords":[
				{"appliedRewardType":"POINTS","appliedRewardQuantity":"10"},
				{"appliedRewardType":"XP","appliedRewardQuantity":5}]}}}}`,
			want: models.Completed([]models.Reward{{Type: "POINTS", Quantity: "10"}, {Type: "XP", Quantity: "5"}}),
		},
		{
			name: "reward missing quantity excluded",
			body: `{"data":{"verifyActivity":{"record":{"status":"COMPLETED","rewardRecords":[
				{"appliedRewardType":"POINTS"},
				{"appliedRewardType":"XP","appliedRewardQuantity":null},
				{"appliedRewardQuantity":"3"},
				{"appliedRewardType":"BADGE","appliedRewardQuantity":"1"}]}}}}`,
			want: models.Completed([]models.Reward{{Type: "BADGE", Quantity: "1"}}),
		},
		{
			name: "reward with non-string type skipped",
			body: `{"data":{"verifyActivity":{"record":{"status":"COMPLETED","rewardRecords":[
				{"appliedRewardType":"XP","appliedRewardQuantity":5},
				{"appliedRewardType":7,"appliedRewardQuantity":3},
				{"appliedRewardType":{"name":"POINTS"},"appliedRewardQuantity":"2"}]}}}}`,
			want: models.Completed([]models.Reward{{Type: "XP", Quantity: "5"}}),
		},
		{
			name: "completed without rewards",
			body: `{"data":{"verifyActivity":{"record":{"status":"COMPLETED","rewardRecords":[]}}}}`,
			want: models.Completed([]models.Reward{}),
		},
		{
			name: "already checked status",
			body: `{"data":{"verifyActivity":{"record":{"status":"ALREADY_CHECKED"}}}}`,
			want: models.AlreadyChecked(),
		},
		{
			name: "unknown status",
			body: `{"data":{"verifyActivity":{"record":{"status":"PENDING"}}}}`,
			want: models.UnknownStatus("PENDING"),
		},
		{
			name: "no status",
			body: `{"data":{"verifyActivity":{"record":{}}}}`,
			want: models.RemoteError("no status"),
		},
		{
			name: "null data",
			body: `{"data":null}`,
			want: models.RemoteError("no status"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.body)))
		})
	}
}

func TestClassify_Unparseable(t *testing.T) {
	outcome := Classify([]byte(`<html>502</html>`))
	assert.Equal(t, models.OutcomeTransportFailure, outcome.Kind)
	assert.Contains(t, outcome.Message, "malformed response")
	assert.False(t, outcome.Succeeded())
}

func TestSubmitCheckin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer AUTH1", r.Header.Get("Authorization"))
		assert.Equal(t, "ID1", r.Header.Get("Privy-Id-Token"))
		assert.Equal(t, "VerifyActivity", r.Header.Get("X-Apollo-Operation-Name"))

		var body struct {
			OperationName string `json:"operationName"`
			Variables     struct {
				Data struct {
					ActivityID string `json:"activityId"`
				} `json:"data"`
			} `json:"variables"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "VerifyActivity", body.OperationName)
		assert.Equal(t, "activity-1", body.Variables.Data.ActivityID)

		_, _ = w.Write([]byte(`{"data":{"verifyActivity":{"record":{"status":"COMPLETED","rewardRecords":[{"appliedRewardType":"POINTS","appliedRewardQuantity":"10"}]}}}}`))
	}))
	defer server.Close()

	remote := config.RemoteConfig{APIURL: server.URL}
	require.NoError(t, remote.Validate())
	client := NewClient(remote, httpclient.New(httpclient.Options{}), nil)

	outcome := client.SubmitCheckin(context.Background(), "ID1", "AUTH1", "activity-1", "")
	assert.Equal(t, models.OutcomeCompleted, outcome.Kind)
	assert.Equal(t, "POINTS: 10", outcome.RewardSummary())
}

func TestSubmitCheckin_DefaultActivity(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Variables struct {
				Data struct {
					ActivityID string `json:"activityId"`
				} `json:"data"`
			} `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		got = body.Variables.Data.ActivityID
		_, _ = w.Write([]byte(`{"errors":[{"message":"` + AlreadyCheckedMarker + `"}]}`))
	}))
	defer server.Close()

	remote := config.RemoteConfig{APIURL: server.URL}
	require.NoError(t, remote.Validate())
	client := NewClient(remote, httpclient.New(httpclient.Options{}), nil)

	outcome := client.SubmitCheckin(context.Background(), "ID1", "AUTH1", "", "")
	assert.Equal(t, models.AlreadyChecked(), outcome)
	assert.Equal(t, "c326c0bb-0f42-4ab7-8c5e-4a648259b807", got)
}

func TestSubmitCheckin_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	remote := config.RemoteConfig{APIURL: server.URL}
	require.NoError(t, remote.Validate())
	server.Close()

	client := NewClient(remote, httpclient.New(httpclient.Options{}), nil)
	outcome := client.SubmitCheckin(context.Background(), "ID1", "AUTH1", "activity-1", "")
	assert.Equal(t, models.OutcomeTransportFailure, outcome.Kind)
	assert.Contains(t, outcome.Message, "transport failure")
}
