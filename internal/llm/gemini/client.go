package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultBaseURL is the public generative-language endpoint.
const defaultBaseURL = "https://generativelanguage.googleapis.com"

// APIError represents an HTTP error from the generation endpoint.
type APIError struct {
	// StatusCode is the HTTP status.
	StatusCode int
	// Body is the trimmed response body.
	Body string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gemini api error: status %d: %s", e.StatusCode, e.Body)
}

// TokenSource supplies a bearer token per request. auth.Guard satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client talks to the generative-language API. Exactly one of apiKey and
// tokenSource authenticates requests.
type Client struct {
	// baseURL points at the API host.
	baseURL string
	// apiKey authenticates via query parameter when set.
	apiKey string
	// tokenSource authenticates via Authorization header when set.
	tokenSource TokenSource
	// httpClient executes requests. Its timeout covers the whole exchange,
	// so streaming clients keep it generous.
	httpClient *http.Client
}

// NewClient constructs a client authenticated with an API key.
func NewClient(baseURL string, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    normalizeBaseURL(baseURL),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewOAuthClient constructs a client drawing bearer tokens from source.
func NewOAuthClient(baseURL string, source TokenSource, timeout time.Duration) *Client {
	return &Client{
		baseURL:     normalizeBaseURL(baseURL),
		tokenSource: source,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// normalizeBaseURL trims the trailing slash and applies the default host.
func normalizeBaseURL(baseURL string) string {
	if baseURL == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(baseURL, "/")
}

// GenerateContent executes a non-streaming generation request.
func (c *Client) GenerateContent(ctx context.Context, request *GenerateRequest) (*GenerateResponse, error) {
	response, err := c.post(ctx, request, "generateContent", nil)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read generate response: %w", err)
	}

	var parsed GenerateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse generate response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, errors.New("empty response candidates")
	}
	return &parsed, nil
}

// post issues the generation POST for the given method, returning the raw
// response after status checking.
func (c *Client) post(ctx context.Context, request *GenerateRequest, method string, query url.Values) (*http.Response, error) {
	if request == nil {
		return nil, errors.New("generate request is required")
	}
	if request.Model == "" {
		return nil, errors.New("model is required")
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}

	endpoint, err := c.methodURL(request.Model, method, query)
	if err != nil {
		return nil, err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")

	if c.tokenSource != nil {
		token, err := c.tokenSource.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve access token: %w", err)
		}
		httpRequest.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("send generate request: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		body, readErr := io.ReadAll(response.Body)
		response.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("read error body: %w", readErr)
		}
		return nil, &APIError{StatusCode: response.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return response, nil
}

// methodURL builds v1beta/models/<model>:<method> with auth query params.
func (c *Client) methodURL(model string, method string, extra url.Values) (string, error) {
	parsed, err := url.Parse(fmt.Sprintf("%s/v1beta/models/%s:%s", c.baseURL, model, method))
	if err != nil {
		return "", fmt.Errorf("build endpoint url: %w", err)
	}
	query := parsed.Query()
	for key, values := range extra {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
