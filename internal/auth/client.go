// Package auth refreshes Privy sessions and exchanges access tokens for API authorization.
package auth

import (
	"context"
	"encoding/json"

	"github.com/checkinbot/checkinbot/internal/config"
	"github.com/checkinbot/checkinbot/internal/errors"
	"github.com/checkinbot/checkinbot/internal/httpclient"
	"github.com/checkinbot/checkinbot/internal/logging"
	"github.com/checkinbot/checkinbot/internal/models"
)

const (
	OpRefresh  = "refresh"
	OpExchange = "exchange"

	userLoginQuery = "mutation UserLogin($data: UserLoginInput!) {\n  userLogin(data: $data)\n}"
)

// Client talks to the identity provider and the application login mutation.
type Client struct {
	remote config.RemoteConfig
	sender httpclient.Sender
	logger *logging.Logger
}

// NewClient creates an auth client.
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

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	Token         string `json:"token"`
	RefreshToken  string `json:"refresh_token"`
	IdentityToken string `json:"identity_token"`
}

// RefreshSession renews the session. The result holds whichever tokens the provider
// returned; callers check Complete before persisting.
func (c *Client) RefreshSession(ctx context.Context, accessToken, refreshToken, proxy string) (models.RefreshResult, error) {
	resp, err := c.sender.PostJSON(ctx, httpclient.Request{
		Op:  OpRefresh,
		URL: c.remote.RefreshURL,
		Headers: map[string]string{
			"Accept":        "application/json",
			"Authorization": "Bearer " + accessToken,
			"Origin":        c.remote.Origin,
			"Referer":       c.remote.Referer,
			"Privy-App-Id":  c.remote.PrivyAppID,
			"Privy-Ca-Id":   c.remote.PrivyCAID,
			"Privy-Client":  c.remote.PrivyClient,
		},
		Body:  refreshRequest{RefreshToken: refreshToken},
		Proxy: proxy,
	})
	if err != nil {
		return models.RefreshResult{}, err
	}
	c.logResponse(ctx, OpRefresh, resp)

	var decoded refreshResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return models.RefreshResult{}, &errors.ErrParse{Op: OpRefresh, Err: err}
	}

	return models.RefreshResult{
		Token:         decoded.Token,
		RefreshToken:  decoded.RefreshToken,
		IdentityToken: decoded.IdentityToken,
	}, nil
}

type graphQLRequest struct {
	OperationName string      `json:"operationName"`
	Query         string      `json:"query"`
	Variables     interface{} `json:"variables"`
}

type userLoginVariables struct {
	Data struct {
		ExternalAuthToken string `json:"externalAuthToken"`
	} `json:"data"`
}

type userLoginResponse struct {
	Data *struct {
		UserLogin string `json:"userLogin"`
	} `json:"data"`
}

// ExchangeAuthorization trades an access token for an API authorization token.
func (c *Client) ExchangeAuthorization(ctx context.Context, accessToken, proxy string) (models.AuthorizationToken, error) {
	var vars userLoginVariables
	vars.Data.ExternalAuthToken = accessToken

	resp, err := c.sender.PostJSON(ctx, httpclient.Request{
		Op:  OpExchange,
		URL: c.remote.APIURL,
		Headers: map[string]string{
			"Accept":                  "*/*",
			"Origin":                  c.remote.Origin,
			"Referer":                 c.remote.Referer,
			"X-Apollo-Operation-Name": "UserLogin",
		},
		Body: graphQLRequest{
			OperationName: "UserLogin",
			Query:         userLoginQuery,
			Variables:     vars,
		},
		Proxy: proxy,
	})
	if err != nil {
		return "", err
	}
	c.logResponse(ctx, OpExchange, resp)

	var decoded userLoginResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return "", &errors.ErrParse{Op: OpExchange, Err: err}
	}
	if decoded.Data == nil || decoded.Data.UserLogin == "" {
		return "", &errors.ErrAuthorizationMissing{Body: truncate(string(resp.Body), 256)}
	}

	return models.AuthorizationToken(decoded.Data.UserLogin), nil
}

func (c *Client) logResponse(ctx context.Context, op string, resp *httpclient.Response) {
	if !c.logger.Enabled(logging.LevelDebug) {
		return
	}
	c.logger.DebugWithContext(ctx, "remote response",
		"op", op,
		"status", resp.Status,
		"body", truncate(string(resp.Body), 2048),
	)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
