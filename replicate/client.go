package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.replicate.com/v1"

// Prediction sizes differ wildly between image and video models; this bounds
// what FetchBytes will buffer in memory.
const maxDownloadBytes int64 = 512 * 1024 * 1024

// ErrAuthFailed signals that Replicate rejected the supplied API token.
var ErrAuthFailed = errors.New("replicate: authentication failed")

// Client wraps the HTTP calls to the Replicate predictions API. Clients are
// cheap and carry a single API token, so callers construct one per request
// with the token of the acting user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
}

// Option customises a Client. Mainly useful for tests.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// NewClient constructs a Client around the given API token. The token belongs
// to an individual user account, never to the server process.
func NewClient(apiToken string, opts ...Option) (*Client, error) {
	apiToken = strings.TrimSpace(apiToken)
	if apiToken == "" {
		return nil, errors.New("replicate: API token is required")
	}

	client := &Client{
		// Video predictions routinely take minutes even with Prefer: wait.
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		baseURL:    defaultBaseURL,
		apiToken:   apiToken,
	}
	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// predictionRequest is the body for version-pinned predictions.
type predictionRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// prediction captures the subset of prediction fields we consume.
type prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  any             `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Run executes a prediction and blocks until it reaches a terminal state.
//
// The model reference takes two forms:
//   - "owner/name" runs the model's latest version via the model endpoint
//   - "owner/name:version" pins an exact version via the predictions endpoint
//
// The returned Output has already been normalized; see ParseOutput.
func (c *Client) Run(ctx context.Context, model string, input map[string]any) (Output, error) {
	if c == nil {
		return Output{}, errors.New("replicate: client is nil")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return Output{}, errors.New("replicate: model reference is required")
	}
	if len(input) == 0 {
		return Output{}, errors.New("replicate: input cannot be empty")
	}

	var endpoint string
	payload := predictionRequest{Input: input}
	if _, version, pinned := strings.Cut(model, ":"); pinned {
		if strings.TrimSpace(version) == "" {
			return Output{}, fmt.Errorf("replicate: invalid model reference %q", model)
		}
		endpoint = c.baseURL + "/predictions"
		payload.Version = version
	} else {
		if !strings.Contains(model, "/") {
			return Output{}, fmt.Errorf("replicate: invalid model reference %q", model)
		}
		endpoint = c.baseURL + "/models/" + model + "/predictions"
	}

	body := &bytes.Buffer{}
	if err := json.NewEncoder(body).Encode(payload); err != nil {
		return Output{}, fmt.Errorf("replicate: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return Output{}, fmt.Errorf("replicate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Prefer", "wait=60")

	pred, err := c.doPrediction(req)
	if err != nil {
		return Output{}, err
	}

	pred, err = c.waitForTerminal(ctx, pred)
	if err != nil {
		return Output{}, err
	}

	return ParseOutput(pred.Output)
}

func (c *Client) doPrediction(req *http.Request) (prediction, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return prediction{}, fmt.Errorf("replicate: execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return prediction{}, ErrAuthFailed
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return prediction{}, fmt.Errorf("replicate: unexpected status %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}

	var pred prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return prediction{}, fmt.Errorf("replicate: decode response: %w", err)
	}

	return pred, nil
}

// waitForTerminal polls the prediction until Replicate reports a terminal
// status. Prefer: wait usually resolves synchronously; polling covers the
// long-running video models that exceed the hold window.
func (c *Client) waitForTerminal(ctx context.Context, pred prediction) (prediction, error) {
	for {
		switch pred.Status {
		case "succeeded":
			return pred, nil
		case "failed", "canceled":
			if pred.Error != nil {
				return prediction{}, fmt.Errorf("replicate: prediction %s: %v", pred.Status, pred.Error)
			}
			return prediction{}, fmt.Errorf("replicate: prediction %s", pred.Status)
		}

		pollURL := strings.TrimSpace(pred.URLs.Get)
		if pollURL == "" {
			if pred.ID == "" {
				return prediction{}, errors.New("replicate: prediction has no id to poll")
			}
			pollURL = c.baseURL + "/predictions/" + pred.ID
		}

		select {
		case <-ctx.Done():
			return prediction{}, ctx.Err()
		case <-time.After(2 * time.Second):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
		if err != nil {
			return prediction{}, fmt.Errorf("replicate: create poll request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiToken)

		pred, err = c.doPrediction(req)
		if err != nil {
			return prediction{}, err
		}
	}
}

// FetchBytes downloads the media behind a prediction output URL. Replicate
// delivery URLs are unauthenticated but short-lived, so callers download
// immediately after Run and persist the bytes themselves.
func (c *Client) FetchBytes(ctx context.Context, rawURL string) ([]byte, string, error) {
	if c == nil {
		return nil, "", errors.New("replicate: client is nil")
	}
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, "", errors.New("replicate: download URL is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: create download request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("replicate: download output: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("replicate: unexpected download status %s", resp.Status)
	}
	if resp.ContentLength > maxDownloadBytes {
		return nil, "", fmt.Errorf("replicate: output exceeds %d bytes", maxDownloadBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("replicate: read output: %w", err)
	}
	if int64(len(data)) > maxDownloadBytes {
		return nil, "", fmt.Errorf("replicate: output exceeds %d bytes", maxDownloadBytes)
	}

	return data, strings.TrimSpace(resp.Header.Get("Content-Type")), nil
}
