package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geminigate/internal/core"
)

func TestNew_Defaults(t *testing.T) {
	provider := New(Config{APIKey: "test-api-key"}, nil)

	require.NotNil(t, provider)
	assert.Equal(t, "test-api-key", provider.apiKey)
	assert.Equal(t, DefaultModel, provider.Model())
	assert.Equal(t, DefaultBaseURL, provider.client.BaseURL())
}

func TestNew_NormalizesConfig(t *testing.T) {
	provider := New(Config{
		APIKey:  "k",
		Model:   "models/gemini-2.0-flash",
		BaseURL: "http://localhost:9999/v1beta/",
	}, nil)

	assert.Equal(t, "gemini-2.0-flash", provider.Model())
	assert.Equal(t, "http://localhost:9999/v1beta", provider.client.BaseURL())
}

func TestGenerateContent(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		responseBody  string
		expectedError string
		checkResponse func(*testing.T, *core.GenerateResponse)
	}{
		{
			name:       "successful request",
			statusCode: http.StatusOK,
			responseBody: `{
				"candidates": [{
					"content": {
						"role": "model",
						"parts": [{"text": "Hello! "}, {"text": "How can I help?"}]
					},
					"finishReason": "STOP"
				}],
				"usageMetadata": {
					"promptTokenCount": 10,
					"candidatesTokenCount": 20,
					"totalTokenCount": 30
				},
				"modelVersion": "gemini-1.5-flash-002"
			}`,
			checkResponse: func(t *testing.T, resp *core.GenerateResponse) {
				assert.Equal(t, "Hello! How can I help?", resp.Text)
				assert.Equal(t, "gemini-1.5-flash-002", resp.Model)
				assert.Equal(t, "STOP", resp.FinishReason)
				assert.Equal(t, core.Usage{PromptTokens: 10, CandidatesTokens: 20, TotalTokens: 30}, resp.Usage)
			},
		},
		{
			name:         "model falls back to configured one",
			statusCode:   http.StatusOK,
			responseBody: `{"candidates": [{"content": {"parts": [{"text": "ok"}]}}]}`,
			checkResponse: func(t *testing.T, resp *core.GenerateResponse) {
				assert.Equal(t, "ok", resp.Text)
				assert.Equal(t, "gemini-test", resp.Model)
			},
		},
		{
			name:          "API error",
			statusCode:    http.StatusBadRequest,
			responseBody:  `{"error": {"code": 400, "message": "API key not valid. Please pass a valid API key.", "status": "INVALID_ARGUMENT"}}`,
			expectedError: "gemini API error (status 400): API key not valid. Please pass a valid API key.",
		},
		{
			name:          "rate limit error",
			statusCode:    http.StatusTooManyRequests,
			responseBody:  `{"error": {"code": 429, "message": "Resource has been exhausted"}}`,
			expectedError: "gemini API error (status 429): Resource has been exhausted",
		},
		{
			name:          "server error",
			statusCode:    http.StatusInternalServerError,
			responseBody:  `{"error": {"code": 500, "message": "Internal error"}}`,
			expectedError: "gemini API error (status 500): Internal error",
		},
		{
			name:          "blocked prompt",
			statusCode:    http.StatusOK,
			responseBody:  `{"promptFeedback": {"blockReason": "SAFETY"}}`,
			expectedError: "prompt blocked: SAFETY",
		},
		{
			name:          "no candidates",
			statusCode:    http.StatusOK,
			responseBody:  `{}`,
			expectedError: "no candidates returned",
		},
		{
			name:          "candidate stopped for safety",
			statusCode:    http.StatusOK,
			responseBody:  `{"candidates": [{"finishReason": "SAFETY"}]}`,
			expectedError: "candidate returned no text (finish reason: SAFETY)",
		},
		{
			name:          "invalid JSON",
			statusCode:    http.StatusOK,
			responseBody:  `not json`,
			expectedError: "failed to unmarshal response: invalid JSON",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/models/gemini-test:generateContent", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))
				assert.Empty(t, r.URL.Query().Get("key"), "API key must not be sent in the query string")

				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			provider := New(Config{APIKey: "test-api-key", Model: "gemini-test", BaseURL: server.URL}, nil)

			resp, err := provider.GenerateContent(context.Background(), core.NewTextRequest("Hello"))

			if tt.expectedError != "" {
				require.Error(t, err)
				var gatewayErr *core.GatewayError
				require.True(t, errors.As(err, &gatewayErr), "expected GatewayError, got %T", err)
				assert.Equal(t, core.ErrorTypeProvider, gatewayErr.Type)
				assert.Equal(t, tt.expectedError, gatewayErr.Message)
				assert.Equal(t, http.StatusInternalServerError, gatewayErr.HTTPStatusCode())
				return
			}

			require.NoError(t, err)
			tt.checkResponse(t, resp)
		})
	}
}

func TestGenerateContent_SendsInlineData(t *testing.T) {
	var received core.GenerateRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &received))
		assert.True(t, strings.Contains(string(body), `"inlineData"`))

		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "A cat."}]}}]}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "k", BaseURL: server.URL}, nil)

	resp, err := provider.GenerateContent(context.Background(),
		core.NewMediaRequest("Describe this image.", "image/png", []byte("png-bytes")))
	require.NoError(t, err)
	assert.Equal(t, "A cat.", resp.Text)

	require.Len(t, received.Contents, 1)
	parts := received.Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "Describe this image.", parts[0].Text)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, "image/png", parts[1].InlineData.MIMEType)
	assert.Equal(t, "cG5nLWJ5dGVz", parts[1].InlineData.Data)
}

func TestGenerateContent_RetriesWhenConfigured(t *testing.T) {
	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error": {"message": "overloaded"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"parts": [{"text": "second time"}]}}]}`))
	}))
	defer server.Close()

	provider := New(Config{APIKey: "k", BaseURL: server.URL, MaxRetries: 1}, nil)

	resp, err := provider.GenerateContent(context.Background(), core.NewTextRequest("hi"))
	require.NoError(t, err)
	assert.Equal(t, "second time", resp.Text)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestGenerateContent_ContextCanceled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := New(Config{APIKey: "k", BaseURL: server.URL}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := provider.GenerateContent(ctx, core.NewTextRequest("hi"))
	assert.Error(t, err)
}
