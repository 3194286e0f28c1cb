package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geminigate/config"
	"geminigate/internal/core"
	"geminigate/internal/upload"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string                 // Optional: Master key for authentication
	MetricsEnabled  bool                   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string                 // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   int64                  // Max request body size in bytes (default: 20MB)
	Prompts         map[upload.Kind]string // Default prompt overrides per upload kind
	Logger          *slog.Logger           // Access and error log destination (default: slog.Default())
}

// routes the metrics endpoint must never shadow
var apiRoutes = map[string]struct{}{
	"/":                       {},
	"/health":                 {},
	"/generate-text":          {},
	"/generate-from-image":    {},
	"/generate-from-document": {},
	"/generate-from-audio":    {},
}

// New creates a new HTTP server
func New(generator core.Generator, uploads *upload.Store, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	handler := NewHandler(generator, uploads, cfg.Prompts, logger)

	authSkipPaths := []string{"/", "/health"}

	metricsPath := ""
	if cfg.MetricsEnabled {
		metricsPath = resolveMetricsPath(cfg.MetricsEndpoint, logger)
		authSkipPaths = append(authSkipPaths, metricsPath)
	}

	// Global middleware stack (order matters)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())

	bodySizeLimit := config.DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	// Public routes
	e.GET("/", handler.Root)
	e.GET("/health", handler.Health)
	if metricsPath != "" {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	// Generation routes
	e.POST("/generate-text", handler.GenerateText)
	e.POST("/generate-from-image", handler.GenerateFromImage)
	e.POST("/generate-from-document", handler.GenerateFromDocument)
	e.POST("/generate-from-audio", handler.GenerateFromAudio)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Serve starts the HTTP server on an existing listener
func (s *Server) Serve(l net.Listener) error {
	s.echo.Listener = l
	return s.echo.Start("")
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// resolveMetricsPath normalizes the configured endpoint and falls back to
// the default when it would collide with an API route.
func resolveMetricsPath(endpoint string, logger *slog.Logger) string {
	if endpoint == "" {
		return config.DefaultMetricsEndpoint
	}
	p := path.Clean("/" + endpoint)
	if _, taken := apiRoutes[p]; taken {
		logger.Warn("metrics endpoint collides with an API route, using default",
			"configured", endpoint, "using", config.DefaultMetricsEndpoint)
		return config.DefaultMetricsEndpoint
	}
	return p
}

// requestLogger bridges echo's request logger to slog
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
			}
			if v.Error != nil {
				logger.Error("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			logger.Info("request", attrs...)
			return nil
		},
	})
}

// errorHandler renders echo-level errors (404, 405, panics) in the same
// {"error": message} shape the handlers use. An oversized body is a client
// input error like any other and is reported as a 400.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	if isBodyTooLarge(err) {
		_ = handleError(c, errBodyTooLarge(err))
		return
	}

	status := http.StatusInternalServerError
	message := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = fmt.Sprint(he.Message)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, map[string]string{"error": message})
}
