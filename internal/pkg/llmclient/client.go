// Package llmclient is the JSON-over-HTTP client the model providers share.
// It marshals requests, optionally retries and circuit-breaks on overload,
// turns upstream failures into core.GatewayError values and reports every
// attempt to observability hooks.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"geminigate/internal/core"
	"geminigate/internal/pkg/httpclient"
)

// Config holds configuration for the client
type Config struct {
	// ProviderName identifies the provider for error messages and hooks
	ProviderName string

	// BaseURL is the API base URL
	BaseURL string

	// Retry configuration. Zero MaxRetries means a single attempt.
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// Circuit breaker configuration, nil disables it
	CircuitBreaker *CircuitBreakerConfig

	// Hooks are invoked around every upstream attempt, nil disables them
	Hooks *Hooks
}

// DefaultConfig returns default client configuration: one attempt, no breaker.
func DefaultConfig(providerName, baseURL string) Config {
	return Config{
		ProviderName:   providerName,
		BaseURL:        baseURL,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2,
	}
}

// RequestInfo describes an upstream attempt for hooks.
type RequestInfo struct {
	Provider string
	Model    string
	Endpoint string
	Attempt  int
}

// ResponseInfo describes the outcome of an upstream attempt for hooks.
// StatusCode is zero when no response was received.
type ResponseInfo struct {
	RequestInfo
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Hooks observe upstream traffic. Either function may be nil.
type Hooks struct {
	OnRequestStart func(ctx context.Context, info RequestInfo)
	OnRequestEnd   func(ctx context.Context, info ResponseInfo)
}

// HeaderSetter adds provider credentials and headers to an outgoing request
type HeaderSetter func(req *http.Request)

// Request is a single logical upstream call
type Request struct {
	Method   string
	Endpoint string
	// Body is JSON-marshaled when not nil
	Body    any
	Headers map[string]string
	// Model labels the request for hooks
	Model string
}

// Response is a fully read upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client sends requests to one provider
type Client struct {
	httpClient   *http.Client
	config       Config
	headerSetter HeaderSetter
	breaker      *breaker
}

// New creates a client on the default pooled HTTP client
func New(config Config, headerSetter HeaderSetter) *Client {
	return NewWithHTTPClient(nil, config, headerSetter)
}

// NewWithHTTPClient creates a client on httpClient, or on the default pooled
// client when httpClient is nil
func NewWithHTTPClient(httpClient *http.Client, config Config, headerSetter HeaderSetter) *Client {
	if httpClient == nil {
		httpClient = httpclient.NewDefaultHTTPClient()
	}
	return &Client{
		httpClient:   httpClient,
		config:       config,
		headerSetter: headerSetter,
		breaker:      newBreaker(config.CircuitBreaker),
	}
}

// SetBaseURL updates the base URL
func (c *Client) SetBaseURL(url string) {
	c.config.BaseURL = url
}

// BaseURL returns the current base URL
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// DoRaw sends req and returns the 200 response. Any other status becomes a
// provider error carrying the upstream message. With MaxRetries > 0,
// overload statuses and network errors are retried with exponential
// backoff, stretched to the upstream's own retry delay when it sends one.
func (c *Client) DoRaw(ctx context.Context, req Request) (*Response, error) {
	attempts := max(c.config.MaxRetries, 0) + 1

	var lastErr error
	for attempt := range attempts {
		if err := c.breaker.admit(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, core.NewProviderError(c.config.ProviderName, 0, err.Error(), err)
		}

		resp, err := c.observedRequest(ctx, req, attempt)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		hint := retryDelay(resp)
		result := classify(status, err, ctx.Err() != nil)
		c.breaker.record(result, hint)

		switch {
		case err != nil && ctx.Err() != nil:
			return nil, err
		case err != nil:
			lastErr = err
		case status == http.StatusOK:
			return resp, nil
		default:
			lastErr = core.ParseProviderError(c.config.ProviderName, status, resp.Body, nil)
			if result != outcomeOverloaded || status == http.StatusInternalServerError {
				return nil, lastErr
			}
		}

		if attempt+1 < attempts {
			if err := sleep(ctx, c.backoff(attempt+1, hint)); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

// observedRequest wraps doRequest with the configured hooks
func (c *Client) observedRequest(ctx context.Context, req Request, attempt int) (*Response, error) {
	info := RequestInfo{
		Provider: c.config.ProviderName,
		Model:    req.Model,
		Endpoint: req.Endpoint,
		Attempt:  attempt,
	}
	hooks := c.config.Hooks
	if hooks != nil && hooks.OnRequestStart != nil {
		hooks.OnRequestStart(ctx, info)
	}

	start := time.Now()
	resp, err := c.doRequest(ctx, req)

	if hooks != nil && hooks.OnRequestEnd != nil {
		end := ResponseInfo{RequestInfo: info, Duration: time.Since(start), Err: err}
		if resp != nil {
			end.StatusCode = resp.StatusCode
		}
		hooks.OnRequestEnd(ctx, end)
	}
	return resp, err
}

// doRequest performs one HTTP exchange
func (c *Client) doRequest(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.buildRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, core.NewProviderError(c.config.ProviderName, 0, "failed to send request: "+err.Error(), err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.NewProviderError(c.config.ProviderName, resp.StatusCode, "failed to read response: "+err.Error(), err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// buildRequest creates an HTTP request from a Request
func (c *Client) buildRequest(ctx context.Context, req Request) (*http.Request, error) {
	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, core.NewInternalError("failed to marshal request", err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.config.BaseURL+req.Endpoint, body)
	if err != nil {
		return nil, core.NewInternalError("failed to create request", err)
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.headerSetter != nil {
		c.headerSetter(httpReq)
	}
	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

// backoff returns the wait before retry number n (1-based). The upstream's
// own delay wins when longer; MaxBackoff caps both.
func (c *Client) backoff(n int, hint time.Duration) time.Duration {
	wait := time.Duration(float64(c.config.InitialBackoff) * math.Pow(c.config.BackoffFactor, float64(n-1)))
	if hint > wait {
		wait = hint
	}
	if c.config.MaxBackoff > 0 && wait > c.config.MaxBackoff {
		wait = c.config.MaxBackoff
	}
	return wait
}

// retryDelay reads how long the upstream asked callers to wait: the
// RetryInfo detail Google APIs attach to RESOURCE_EXHAUSTED errors
// ({"error":{"details":[{"@type":"...RetryInfo","retryDelay":"37s"}]}}),
// else a Retry-After header in seconds.
func retryDelay(resp *Response) time.Duration {
	if resp == nil || resp.StatusCode == http.StatusOK {
		return 0
	}
	for _, detail := range gjson.GetBytes(resp.Body, "error.details").Array() {
		raw := detail.Get("retryDelay").String()
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
