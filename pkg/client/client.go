package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"chaosmonkey/internal/api"
	"chaosmonkey/internal/chaos"
	"chaosmonkey/internal/process"
)

// Client talks to the chaos monkey admin API
type Client struct {
	baseURL string
	http    *http.Client
	retry   RetryPolicy
}

// Config holds client configuration
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	Retry          RetryPolicy
}

// DefaultConfig returns a default client configuration
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "http://localhost:8090",
		RequestTimeout: 10 * time.Second,
		Retry:          DefaultRetryPolicy(),
	}
}

// APIError is a non-2xx response from the admin API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("admin api: %d %s", e.StatusCode, e.Message)
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	u, err := url.Parse(config.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", config.BaseURL)
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		http:    &http.Client{Timeout: config.RequestTimeout},
		retry:   config.Retry,
	}, nil
}

// do sends one request and decodes a JSON body into out. Statuses listed in
// accept are decoded instead of being returned as errors.
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, accept ...int) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return 0, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		var apiErr api.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) get(ctx context.Context, path string, out interface{}) error {
	return c.retry.do(ctx, func() error {
		_, err := c.do(ctx, http.MethodGet, path, nil, out)
		return err
	})
}

func (c *Client) Experiments(ctx context.Context) ([]api.ExperimentView, error) {
	var resp api.ListExperimentsResponse
	if err := c.get(ctx, "/api/v1/experiments", &resp); err != nil {
		return nil, err
	}
	return resp.Experiments, nil
}

// Trigger is not retried: a lost response may still have started a run.
func (c *Client) Trigger(ctx context.Context, name string, force bool) (*api.TriggerResponse, error) {
	path := "/api/v1/experiments/" + url.PathEscape(name) + "/trigger"
	if force {
		path += "?force=true"
	}
	var resp api.TriggerResponse
	if _, err := c.do(ctx, http.MethodPost, path, nil, &resp, http.StatusConflict); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ActiveRuns(ctx context.Context) ([]api.RunView, error) {
	var resp api.ActiveRunsResponse
	if err := c.get(ctx, "/api/v1/runs", &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

func (c *Client) Abort(ctx context.Context, runID, reason string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/v1/runs/"+url.PathEscape(runID)+"/abort", api.AbortRequest{Reason: reason}, nil)
	return err
}

func (c *Client) Results(ctx context.Context, limit int) (*api.ResultsResponse, error) {
	var resp api.ResultsResponse
	if err := c.get(ctx, "/api/v1/results?limit="+strconv.Itoa(limit), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Result(ctx context.Context, runID string) (*chaos.RunSummary, error) {
	var summary chaos.RunSummary
	if err := c.get(ctx, "/api/v1/results/"+url.PathEscape(runID), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

func (c *Client) Samples(ctx context.Context, target string, since time.Time) ([]chaos.HealthSample, error) {
	q := url.Values{}
	if target != "" {
		q.Set("target", target)
	}
	if !since.IsZero() {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	path := "/api/v1/samples"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp api.SamplesResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Samples, nil
}

func (c *Client) Processes(ctx context.Context) ([]process.Info, error) {
	var infos []process.Info
	if err := c.get(ctx, "/api/v1/processes", &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.get(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
