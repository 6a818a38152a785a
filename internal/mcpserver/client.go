package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to a txguard API.
type Config struct {
	APIURL  string // Base URL, e.g. "http://localhost:8080"
	Address string // Default wallet address for wallet tools, optional
	Timeout time.Duration
}

// Client is a pure HTTP client for the txguard API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// SimulateParams mirrors the POST /simulate body.
type SimulateParams struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Value string `json:"value,omitempty"`
	Data  string `json:"data,omitempty"`
}

// Simulate scores a proposed transaction.
func (c *Client) Simulate(ctx context.Context, p SimulateParams) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/simulate", nil, p)
}

// CheckURL classifies a URL as benign or malicious.
func (c *Client) CheckURL(ctx context.Context, target string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/predict", nil, map[string]string{"url": target})
}

// Balances returns the simulated wallet balances.
func (c *Client) Balances(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/wallet/balances", url.Values{"address": {address}}, nil)
}

// Approvals returns the wallet's active approvals.
func (c *Client) Approvals(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/wallet/approvals", url.Values{"address": {address}}, nil)
}

// Logs returns the newest activity log entries.
func (c *Client) Logs(ctx context.Context, address string, limit int) (json.RawMessage, error) {
	q := url.Values{"address": {address}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/wallet/logs", q, nil)
}

// Stats returns the wallet's transaction and threat counters.
func (c *Client) Stats(ctx context.Context, address string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/wallet/stats", url.Values{"address": {address}}, nil)
}
