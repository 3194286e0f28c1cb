// Package observability exposes Prometheus collectors for upstream calls
// and uploads, and the llmclient hooks that feed them.
package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"geminigate/internal/core"
	"geminigate/internal/pkg/llmclient"
)

var (
	upstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geminigate_upstream_requests_total",
			Help: "Total number of upstream generation attempts by model and outcome",
		},
		[]string{"provider", "model", "status"},
	)

	upstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geminigate_upstream_request_duration_seconds",
			Help:    "Latency of upstream generation attempts",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "model"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geminigate_tokens_total",
			Help: "Tokens reported by the model per endpoint kind, split into prompt and candidates",
		},
		[]string{"kind", "type"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geminigate_uploads_total",
			Help: "Total number of files accepted per upload kind",
		},
		[]string{"kind"},
	)

	uploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geminigate_upload_bytes",
			Help:    "Size of accepted uploads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"kind"},
	)
)

// NewPrometheusHooks returns llmclient hooks recording upstream attempts.
func NewPrometheusHooks() *llmclient.Hooks {
	return &llmclient.Hooks{
		OnRequestEnd: func(_ context.Context, info llmclient.ResponseInfo) {
			upstreamRequests.WithLabelValues(info.Provider, info.Model, statusLabel(info)).Inc()
			upstreamDuration.WithLabelValues(info.Provider, info.Model).Observe(info.Duration.Seconds())
		},
	}
}

// ObserveTokens adds the token counts of one generation for kind ("text",
// "image", "document" or "audio").
func ObserveTokens(kind string, usage core.Usage) {
	tokensTotal.WithLabelValues(kind, "prompt").Add(float64(usage.PromptTokens))
	tokensTotal.WithLabelValues(kind, "candidates").Add(float64(usage.CandidatesTokens))
}

// ObserveUpload records an accepted upload of the given kind and size.
func ObserveUpload(kind string, size int64) {
	uploadsTotal.WithLabelValues(kind).Inc()
	uploadBytes.WithLabelValues(kind).Observe(float64(size))
}

// statusLabel is the upstream HTTP status, or "network_error" when no
// response arrived.
func statusLabel(info llmclient.ResponseInfo) string {
	if info.StatusCode == 0 {
		return "network_error"
	}
	return strconv.Itoa(info.StatusCode)
}
