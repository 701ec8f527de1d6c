package auth

import "errors"

var (
	// ErrNetworkFailure reports a transport-level failure talking to the
	// authorization server.
	ErrNetworkFailure = errors.New("auth: network failure")
	// ErrServerRejected reports a non-success response from the
	// authorization server outside the documented polling codes.
	ErrServerRejected = errors.New("auth: server rejected request")
	// ErrDenied reports that the user declined the authorization request.
	ErrDenied = errors.New("auth: access denied by user")
	// ErrExpired reports that the device code expired before approval.
	ErrExpired = errors.New("auth: device code expired")
	// ErrRefreshFailed reports that a token refresh did not produce a new
	// credential; the caller needs a fresh interactive login.
	ErrRefreshFailed = errors.New("auth: token refresh failed")
	// ErrNoCredential reports that no credential has been persisted yet.
	ErrNoCredential = errors.New("auth: no stored credential")
)
