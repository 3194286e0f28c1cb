// Package main is the entry point for the Gemini gateway server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"geminigate/config"
	"geminigate/internal/app"
	"geminigate/internal/logging"
	"geminigate/internal/version"
)

func main() {
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	// JSON until the configured format is known
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Logging.Format, logging.ParseLevel(cfg.Logging.Level))
	slog.SetDefault(logger)

	slog.Info("starting geminigate",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	application, err := app.New(app.Config{AppConfig: cfg, Logger: logger})
	if err != nil {
		slog.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	shutdownResult := make(chan error, 1)
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		shutdownResult <- application.Shutdown(ctx)
	}()

	if err := application.Start(":" + cfg.Server.Port); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	// Start only returns nil after a shutdown
	if err := <-shutdownResult; err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
