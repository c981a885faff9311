package models

import "strings"

// AccountRecord is one account's credentials, identified by its line index in the credential files.
type AccountRecord struct {
	Index         int    `json:"index"`
	Proxy         string `json:"proxy,omitempty"`
	AccessToken   string `json:"-"`
	RefreshToken  string `json:"-"`
	IdentityToken string `json:"-"`
}

// Number returns the 1-based account number used in console output.
func (a AccountRecord) Number() int {
	return a.Index + 1
}

// HasProxy reports whether requests for this account go through a forward proxy.
func (a AccountRecord) HasProxy() bool {
	return strings.TrimSpace(a.Proxy) != ""
}

// RefreshResult holds the fields returned by a session refresh. Any of them may be empty.
type RefreshResult struct {
	Token         string `json:"token,omitempty"`
	RefreshToken  string `json:"refresh_token,omitempty"`
	IdentityToken string `json:"identity_token,omitempty"`
}

// Complete reports whether both the access and refresh token are present.
func (r RefreshResult) Complete() bool {
	return r.Token != "" && r.RefreshToken != ""
}

// AuthorizationToken is the session bearer credential returned by the login exchange.
// It lives for one pipeline run and is never persisted.
type AuthorizationToken string

// String implements fmt.Stringer.
func (t AuthorizationToken) String() string {
	return string(t)
}
