package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/reliefgrid/treasury/fund"
)

// maxResponseSize limits the gateway response body to prevent memory exhaustion.
const maxResponseSize = 1 << 20 // 1MB

// Client is an HTTP implementation of Ledger with bounded per-call timeouts
// and retry on transient failures. A stalled ledger call fails the current
// operation after the timeout; it never blocks the caller indefinitely.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	requestTimeout time.Duration
	retryConfig    RetryConfig
	logger         *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRequestTimeout bounds each individual gateway call.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(client *Client) {
		client.requestTimeout = d
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a gateway client for the ledger service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		requestTimeout: 10 * time.Second,
		retryConfig:    DefaultRetryConfig(),
		httpClient:     &http.Client{},
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect pings the ledger's network endpoint. The agent refuses to start
// until this succeeds.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := c.NetworkInfo(ctx); err != nil {
		return fmt.Errorf("ledger gateway unreachable at %s: %w", c.baseURL, err)
	}
	return nil
}

// Balance returns the current account balance.
func (c *Client) Balance(ctx context.Context) (decimal.Decimal, error) {
	var resp struct {
		Balance decimal.Decimal `json:"balance"`
	}
	if err := c.doWithRetry(ctx, http.MethodGet, "/v1/balance", nil, &resp); err != nil {
		return decimal.Zero, err
	}
	return resp.Balance, nil
}

// SubmitTransfers submits one transfer per recipient. Submission is NOT
// retried: the ledger does not expose idempotency keys, and a duplicate
// transfer is worse than a missing ref, which the reconciliation sweep will
// fail safely.
func (c *Client) SubmitTransfers(ctx context.Context, transfers []fund.Recipient) ([]TransferResult, error) {
	req := struct {
		Transfers []fund.Recipient `json:"transfers"`
	}{Transfers: transfers}

	var resp struct {
		Results []TransferResult `json:"results"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", req, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// TransferStatus reports the state of a submitted transfer.
func (c *Client) TransferStatus(ctx context.Context, ref string) (TransferState, error) {
	var resp struct {
		Ref    string        `json:"ref"`
		Status TransferState `json:"status"`
	}
	path := "/v1/transfers/" + url.PathEscape(ref)
	if err := c.doWithRetry(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}
	switch resp.Status {
	case TransferPending, TransferConfirmed, TransferFailed:
		return resp.Status, nil
	default:
		return "", fmt.Errorf("unknown transfer status %q for ref %s", resp.Status, ref)
	}
}

// DefaultRecipients returns the ledger's recipient table for a disaster type.
func (c *Client) DefaultRecipients(ctx context.Context, t fund.DisasterType) ([]fund.WeightedRecipient, error) {
	var resp struct {
		Recipients []fund.WeightedRecipient `json:"recipients"`
	}
	path := "/v1/recipients/" + url.PathEscape(string(t))
	if err := c.doWithRetry(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Recipients, nil
}

// NetworkInfo returns descriptive network metadata.
func (c *Client) NetworkInfo(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	if err := c.doWithRetry(ctx, http.MethodGet, "/v1/network", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// doWithRetry executes a request, retrying transient failures with jittered
// exponential backoff.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out any) error {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsFatal(err) {
			return err
		}
		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Gateway request failed, retrying",
				"method", method,
				"path", path,
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return lastErr
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple clients retry simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// do executes a single HTTP request with the per-call timeout.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	callCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return NewFatalError(fmt.Errorf("marshal request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors and timeouts are transient.
		return NewTransientError(fmt.Errorf("gateway request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return classifyHTTPError(httpResp.StatusCode, respBody)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return NewFatalError(fmt.Errorf("decode gateway response: %w", err))
		}
	}
	return nil
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("ledger API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return NewTransientError(err)
	case statusCode >= 500:
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		return NewFatalError(err)
	case statusCode == http.StatusNotFound,
		statusCode == http.StatusBadRequest:
		return NewFatalError(err)
	default:
		return NewFatalError(err)
	}
}
