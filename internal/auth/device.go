package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// deviceGrantType is the RFC 8628 device-code grant identifier.
	deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	// slowDownStep is how much the poll interval grows on slow_down.
	slowDownStep = 5 * time.Second
	// minPollInterval floors the server-specified interval.
	minPollInterval = time.Second
)

// Grant is one ephemeral device-authorization attempt. It is never persisted.
type Grant struct {
	// DeviceCode is the opaque code polled against the token endpoint.
	DeviceCode string
	// UserCode is the short code the user enters out-of-band.
	UserCode string
	// VerificationURI is where the user approves the request.
	VerificationURI string
	// Interval is the minimum delay between token polls.
	Interval time.Duration
	// ExpiresAt is the wall-clock deadline for this attempt.
	ExpiresAt time.Time
}

// Flow drives the OAuth device-authorization protocol.
type Flow struct {
	// ClientID identifies the OAuth client.
	ClientID string
	// ClientSecret is sent when the client registration requires it.
	ClientSecret string
	// Scopes lists requested scopes.
	Scopes []string
	// DeviceCodeURL is the device-authorization endpoint.
	DeviceCodeURL string
	// TokenURL is the token endpoint used for polling and refresh.
	TokenURL string
	// HTTPClient executes requests; http.DefaultClient when nil.
	HTTPClient *http.Client

	// now and sleep are injectable for deterministic polling tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFlow constructs a device flow against the Google OAuth endpoints.
func NewFlow(clientID string, clientSecret string, scopes []string) *Flow {
	return &Flow{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Scopes:        scopes,
		DeviceCodeURL: "https://oauth2.googleapis.com/device/code",
		TokenURL:      "https://oauth2.googleapis.com/token",
		HTTPClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// deviceCodeResponse is the device-authorization endpoint payload. Google
// historically returned verification_url, so both spellings are accepted.
type deviceCodeResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURL         string `json:"verification_url"`
	VerificationURIComplete string `json:"verification_uri_complete"`
	ExpiresIn               int64  `json:"expires_in"`
	Interval                int64  `json:"interval"`
}

// tokenResponse covers both success and error bodies from the token endpoint.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	RefreshToken     string `json:"refresh_token"`
	Scope            string `json:"scope"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// Begin requests a DeviceAuthorizationGrant from the authorization server.
func (f *Flow) Begin(ctx context.Context) (*Grant, error) {
	form := url.Values{}
	form.Set("client_id", f.ClientID)
	form.Set("scope", strings.Join(f.Scopes, " "))

	status, body, err := f.postForm(ctx, f.DeviceCodeURL, form)
	if err != nil {
		return nil, fmt.Errorf("%w: request device code: %v", ErrNetworkFailure, err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: device code endpoint returned %d: %s", ErrServerRejected, status, strings.TrimSpace(string(body)))
	}

	var parsed deviceCodeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("%w: parse device code response: %v", ErrServerRejected, err)
	}

	interval := time.Duration(parsed.Interval) * time.Second
	if interval < minPollInterval {
		interval = 5 * time.Second
	}

	verification := parsed.VerificationURIComplete
	if verification == "" {
		verification = parsed.VerificationURI
	}
	if verification == "" {
		verification = parsed.VerificationURL
	}

	return &Grant{
		DeviceCode:      parsed.DeviceCode,
		UserCode:        parsed.UserCode,
		VerificationURI: verification,
		Interval:        interval,
		ExpiresAt:       f.clock().Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}, nil
}

// Poll exchanges the device code for a credential. It waits at least the
// grant interval between polls, honors slow_down by permanently widening the
// interval for this attempt, and stops on the terminal protocol outcomes.
func (f *Flow) Poll(ctx context.Context, grant *Grant) (*Credential, error) {
	interval := grant.Interval
	if interval < minPollInterval {
		interval = minPollInterval
	}

	form := url.Values{}
	form.Set("client_id", f.ClientID)
	form.Set("device_code", grant.DeviceCode)
	form.Set("grant_type", deviceGrantType)
	if f.ClientSecret != "" {
		form.Set("client_secret", f.ClientSecret)
	}

	for {
		if !grant.ExpiresAt.IsZero() && f.clock().After(grant.ExpiresAt) {
			return nil, fmt.Errorf("%w: run login again", ErrExpired)
		}
		if err := f.wait(ctx, interval); err != nil {
			return nil, err
		}

		status, body, err := f.postForm(ctx, f.TokenURL, form)
		if err != nil {
			return nil, fmt.Errorf("%w: poll token endpoint: %v", ErrNetworkFailure, err)
		}

		if status >= 200 && status < 300 {
			return credentialFromResponse(body, "", f.clock())
		}

		var parsed tokenResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("%w: token endpoint returned %d: %s", ErrServerRejected, status, strings.TrimSpace(string(body)))
		}

		switch parsed.Error {
		case "authorization_pending":
			// Keep polling at the current cadence.
		case "slow_down":
			interval += slowDownStep
		case "expired_token":
			return nil, fmt.Errorf("%w: run login again", ErrExpired)
		case "access_denied":
			return nil, ErrDenied
		default:
			// Unrecognized codes are retried until the grant deadline.
		}
	}
}

// Refresh exchanges a refresh token for a new credential. The refresh token
// is carried over when the server omits it, as Google does on refresh.
func (f *Flow) Refresh(ctx context.Context, credential *Credential) (*Credential, error) {
	if credential == nil || credential.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token available", ErrRefreshFailed)
	}

	form := url.Values{}
	form.Set("client_id", f.ClientID)
	form.Set("refresh_token", credential.RefreshToken)
	form.Set("grant_type", "refresh_token")
	if f.ClientSecret != "" {
		form.Set("client_secret", f.ClientSecret)
	}

	status, body, err := f.postForm(ctx, f.TokenURL, form)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("%w: token endpoint returned %d: %s", ErrRefreshFailed, status, strings.TrimSpace(string(body)))
	}

	refreshed, err := credentialFromResponse(body, credential.RefreshToken, f.clock())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRefreshFailed, err)
	}
	return refreshed, nil
}

// credentialFromResponse decodes a success body into a Credential.
func credentialFromResponse(body []byte, fallbackRefresh string, now time.Time) (*Credential, error) {
	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse token response: %w", err)
	}
	if parsed.AccessToken == "" {
		return nil, fmt.Errorf("token response missing access_token")
	}
	refresh := parsed.RefreshToken
	if refresh == "" {
		refresh = fallbackRefresh
	}
	return &Credential{
		AccessToken:  parsed.AccessToken,
		TokenType:    parsed.TokenType,
		RefreshToken: refresh,
		Scope:        parsed.Scope,
		ObtainedAt:   now.Unix(),
		ExpiresIn:    parsed.ExpiresIn,
	}, nil
}

// postForm sends an URL-encoded POST and returns the status plus full body.
func (f *Flow) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	response, err := client.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response body: %w", err)
	}
	return response.StatusCode, body, nil
}

// clock returns the current time, honoring the test override.
func (f *Flow) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

// wait sleeps for d, returning early when the context is cancelled.
func (f *Flow) wait(ctx context.Context, d time.Duration) error {
	if f.sleep != nil {
		return f.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
