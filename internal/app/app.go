// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"geminigate/config"
	"geminigate/internal/observability"
	"geminigate/internal/pkg/httpclient"
	"geminigate/internal/pkg/llmclient"
	"geminigate/internal/providers/gemini"
	"geminigate/internal/server"
	"geminigate/internal/upload"
)

// App represents the main application with all its dependencies.
type App struct {
	config    *config.Config
	logger    *slog.Logger
	generator *gemini.Provider
	uploads   *upload.Store
	server    *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
	// drained is closed once Shutdown has waited out in-flight requests
	drained chan struct{}
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the validated configuration produced by config.Load
	AppConfig *config.Config

	// Logger receives startup, access and error logs (default: slog.Default())
	Logger *slog.Logger

	// HTTPClient overrides the upstream client built from AppConfig.HTTP
	HTTPClient *http.Client
}

// New creates a new App with all dependencies initialized.
func New(cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		config:  appCfg,
		logger:  logger,
		drained: make(chan struct{}),
	}

	var hooks *llmclient.Hooks
	if appCfg.Metrics.Enabled {
		hooks = observability.NewPrometheusHooks()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := httpclient.WithTimeouts(appCfg.HTTP.Timeout, appCfg.HTTP.ResponseHeaderTimeout)
		httpClient = httpclient.NewHTTPClient(&clientCfg)
	}

	app.generator = gemini.NewWithHTTPClient(gemini.Config{
		APIKey:         appCfg.Gemini.APIKey,
		Model:          appCfg.Gemini.Model,
		BaseURL:        appCfg.Gemini.BaseURL,
		MaxRetries:     appCfg.Gemini.MaxRetries,
		CircuitBreaker: appCfg.Gemini.CircuitBreaker,
	}, httpClient, hooks)

	uploads, err := upload.NewStore(appCfg.Upload.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upload store: %w", err)
	}
	app.uploads = uploads

	app.server = server.New(app.generator, uploads, &server.Config{
		MasterKey:       appCfg.Server.MasterKey,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		BodySizeLimit:   appCfg.Server.BodySizeLimit,
		Prompts: map[upload.Kind]string{
			upload.KindImage:    appCfg.Upload.ImagePrompt,
			upload.KindDocument: appCfg.Upload.DocumentPrompt,
			upload.KindAudio:    appCfg.Upload.AudioPrompt,
		},
		Logger: logger,
	})

	app.logStartupInfo()

	return app, nil
}

// Handler returns the HTTP handler serving every gateway route.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops. After a
// Shutdown it returns only once in-flight requests have finished.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	return a.wait(a.server.Start(addr))
}

// Serve is Start on an existing listener.
func (a *App) Serve(l net.Listener) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", l.Addr().String())
	return a.wait(a.server.Serve(l))
}

// wait turns the listener's exit into Start's result. http.Server returns
// ErrServerClosed as soon as Shutdown begins, so the drain is awaited here.
func (a *App) wait(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		<-a.drained
		a.logger.Info("server stopped gracefully")
		return nil
	}
	return fmt.Errorf("server failed to start: %w", err)
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx
// is done. Shutdown is idempotent; after the first call, subsequent calls are no-ops.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")
	defer close(a.drained)

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			return fmt.Errorf("server shutdown: %w", err)
		}
	}

	a.logger.Info("application shutdown complete")
	return nil
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	a.logger.Info("gemini provider configured",
		"model", a.generator.Model(),
		"max_retries", cfg.Gemini.MaxRetries,
		"circuit_breaker", cfg.Gemini.CircuitBreaker,
	)
	a.logger.Info("upload store ready", "dir", a.uploads.Dir())

	// Security warnings
	if cfg.Server.MasterKey == "" {
		a.logger.Warn("SECURITY WARNING: GATEWAY_MASTER_KEY not set - server running in UNSAFE MODE",
			"security_risk", "unauthenticated access allowed",
			"recommendation", "set GATEWAY_MASTER_KEY environment variable to secure this gateway")
	} else {
		a.logger.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}
}
