// Package logging builds the process slog logger: colorized text for
// terminals, JSON everywhere else.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Supported LOG_FORMAT values
const (
	FormatAuto   = "auto"
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// New returns a logger writing to w in the requested format.
// FormatAuto picks pretty output when w is a terminal.
func New(w io.Writer, format string, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(w, format, level))
}

// NewHandler returns the slog.Handler behind New.
func NewHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	switch resolveFormat(w, format) {
	case FormatPretty:
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    !isTerminal(w),
		})
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
}

// ParseLevel maps a LOG_LEVEL value to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func resolveFormat(w io.Writer, format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		return FormatJSON
	case FormatPretty:
		return FormatPretty
	}
	if isTerminal(w) {
		return FormatPretty
	}
	return FormatJSON
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
