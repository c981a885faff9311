package errors

import (
	"errors"
	"fmt"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Credential file errors. Both abort a cycle before any account is dispatched.

// ErrConfigMissing reports a credential file that does not exist.
type ErrConfigMissing struct {
	Path string
}

func (e *ErrConfigMissing) Error() string {
	return fmt.Sprintf("credential file missing: %s", e.Path)
}

// ErrConfigMismatch reports credential files with different record counts.
type ErrConfigMismatch struct {
	Proxies       int
	AccessTokens  int
	RefreshTokens int
}

func (e *ErrConfigMismatch) Error() string {
	return fmt.Sprintf("credential files out of sync: %d proxies, %d access tokens, %d refresh tokens",
		e.Proxies, e.AccessTokens, e.RefreshTokens)
}

// Remote call errors

// ErrTransport reports a request that could not be completed.
type ErrTransport struct {
	Op  string
	Err error
}

func (e *ErrTransport) Error() string {
	return fmt.Sprintf("%s: transport failure: %v", e.Op, e.Err)
}

func (e *ErrTransport) Unwrap() error {
	return e.Err
}

// ErrParse reports a response body that does not have the expected structure.
type ErrParse struct {
	Op  string
	Err error
}

func (e *ErrParse) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *ErrParse) Unwrap() error {
	return e.Err
}

// ErrAuthorizationMissing reports a login exchange without data.userLogin.
type ErrAuthorizationMissing struct {
	Body string
}

func (e *ErrAuthorizationMissing) Error() string {
	if e.Body == "" {
		return "authorization token missing from login response"
	}
	return fmt.Sprintf("authorization token missing from login response: %s", e.Body)
}

// Pipeline errors

// ErrPipelinePanic wraps a value recovered from a panicking account pipeline.
type ErrPipelinePanic struct {
	Index int
	Value interface{}
}

func (e *ErrPipelinePanic) Error() string {
	return fmt.Sprintf("account %d: %v", e.Index, e.Value)
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseMigration struct {
	Version int
	Err     error
}

func (e *ErrDatabaseMigration) Error() string {
	return fmt.Sprintf("database migration %d failed: %v", e.Version, e.Err)
}

func (e *ErrDatabaseMigration) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

type ErrServerShutdown struct {
	Err error
}

func (e *ErrServerShutdown) Error() string {
	return fmt.Sprintf("server shutdown failed: %v", e.Err)
}

func (e *ErrServerShutdown) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrDirectoryCreate struct {
	Path string
	Err  error
}

func (e *ErrDirectoryCreate) Error() string {
	return fmt.Sprintf("failed to create directory %s: %v", e.Path, e.Err)
}

func (e *ErrDirectoryCreate) Unwrap() error {
	return e.Err
}

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

type ErrFileWrite struct {
	Path string
	Err  error
}

func (e *ErrFileWrite) Error() string {
	return fmt.Sprintf("failed to write file %s: %v", e.Path, e.Err)
}

func (e *ErrFileWrite) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a transport or parse failure.
// Malformed responses are treated the same as failed calls.
func IsTransport(err error) bool {
	var transport *ErrTransport
	var parse *ErrParse
	return errors.As(err, &transport) || errors.As(err, &parse)
}

// IsFatalLoad reports whether err should abort a cycle before dispatch.
func IsFatalLoad(err error) bool {
	var missing *ErrConfigMissing
	var mismatch *ErrConfigMismatch
	return errors.As(err, &missing) || errors.As(err, &mismatch)
}

// As is errors.As, re-exported so callers importing this package need not alias the standard one.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
