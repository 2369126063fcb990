package config

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogging installs the default slog logger from LOG_LEVEL
// (debug|info|warn|error, default info) and LOG_FORMAT (text|json).
func SetupLogging() {
	lvl, known := ParseLevel(os.Getenv("LOG_LEVEL"))
	format := strings.ToLower(os.Getenv("LOG_FORMAT"))
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	if !known {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))
}

// ParseLevel maps a LOG_LEVEL value to a slog level. Unknown values report
// false and fall back to info.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	case "info", "":
		return slog.LevelInfo, true
	}
	return slog.LevelInfo, false
}
