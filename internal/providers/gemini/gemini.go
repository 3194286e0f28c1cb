// Package gemini provides Google Gemini API integration for the gateway.
package gemini

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"geminigate/internal/core"
	"geminigate/internal/pkg/llmclient"
)

const (
	providerName = "gemini"

	// DefaultBaseURL is the native Gemini REST endpoint
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	// DefaultModel is used when no model is configured
	DefaultModel = "gemini-1.5-flash"
)

// Config holds the settings for a Gemini provider
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	// MaxRetries is the number of extra attempts on 429/5xx, zero disables retries
	MaxRetries int
	// CircuitBreaker enables the llmclient circuit breaker with default thresholds
	CircuitBreaker bool
}

// Provider implements core.Generator for Google Gemini
type Provider struct {
	client *llmclient.Client
	apiKey string
	model  string
}

// New creates a new Gemini provider using the default pooled HTTP client
func New(cfg Config, hooks *llmclient.Hooks) *Provider {
	return NewWithHTTPClient(cfg, nil, hooks)
}

// NewWithHTTPClient creates a new Gemini provider with a custom HTTP client.
// A nil httpClient falls back to the default pooled client.
func NewWithHTTPClient(cfg Config, httpClient *http.Client, hooks *llmclient.Hooks) *Provider {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := strings.TrimPrefix(cfg.Model, "models/")
	if model == "" {
		model = DefaultModel
	}

	p := &Provider{
		apiKey: cfg.APIKey,
		model:  model,
	}

	clientCfg := llmclient.DefaultConfig(providerName, baseURL)
	clientCfg.MaxRetries = cfg.MaxRetries
	clientCfg.Hooks = hooks
	if cfg.CircuitBreaker {
		clientCfg.CircuitBreaker = llmclient.DefaultCircuitBreakerConfig()
	}
	p.client = llmclient.NewWithHTTPClient(httpClient, clientCfg, p.setHeaders)

	return p
}

// SetBaseURL allows configuring a custom base URL for the provider
func (p *Provider) SetBaseURL(url string) {
	p.client.SetBaseURL(strings.TrimRight(url, "/"))
}

// Model returns the model id requests are sent to
func (p *Provider) Model() string {
	return p.model
}

// setHeaders sets the required headers for Gemini API requests.
// The key travels in a header rather than the ?key= query so it stays out
// of proxy and access logs.
func (p *Provider) setHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.apiKey)
}

// GenerateContent sends a generateContent request and returns the text of
// the first candidate
func (p *Provider) GenerateContent(ctx context.Context, req *core.GenerateRequest) (*core.GenerateResponse, error) {
	resp, err := p.client.DoRaw(ctx, llmclient.Request{
		Method:   http.MethodPost,
		Endpoint: "/models/" + url.PathEscape(p.model) + ":generateContent",
		Body:     req,
		Model:    p.model,
	})
	if err != nil {
		return nil, err
	}

	return p.parseResponse(resp.Body)
}

// parseResponse extracts the generated text from a generateContent body.
// A response without candidates means the prompt was blocked or the model
// produced nothing; both are reported as provider errors.
func (p *Provider) parseResponse(body []byte) (*core.GenerateResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewProviderError(providerName, http.StatusOK, "failed to unmarshal response: invalid JSON", nil)
	}

	parsed := gjson.ParseBytes(body)
	candidate := parsed.Get("candidates.0")
	if !candidate.Exists() {
		message := "no candidates returned"
		if reason := parsed.Get("promptFeedback.blockReason").String(); reason != "" {
			message = "prompt blocked: " + reason
		}
		return nil, core.NewProviderError(providerName, http.StatusOK, message, nil)
	}

	var text strings.Builder
	for _, part := range candidate.Get("content.parts").Array() {
		text.WriteString(part.Get("text").String())
	}

	finishReason := candidate.Get("finishReason").String()
	if text.Len() == 0 && finishReason != "" && finishReason != "STOP" {
		return nil, core.NewProviderError(providerName, http.StatusOK,
			"candidate returned no text (finish reason: "+finishReason+")", nil)
	}

	model := parsed.Get("modelVersion").String()
	if model == "" {
		model = p.model
	}

	usage := parsed.Get("usageMetadata")
	return &core.GenerateResponse{
		Text:         text.String(),
		Model:        model,
		FinishReason: finishReason,
		Usage: core.Usage{
			PromptTokens:     int(usage.Get("promptTokenCount").Int()),
			CandidatesTokens: int(usage.Get("candidatesTokenCount").Int()),
			TotalTokens:      int(usage.Get("totalTokenCount").Int()),
		},
	}, nil
}
