package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-persist/internal/infrastructure/config"
)

// ServiceName is attached to every log line as the "service" attribute.
const ServiceName = "persistd"

// Logger wraps slog.Logger with persistd defaults.
//
// It satisfies persist.Logger, mqtt.Logger and audit.Logger, so one value
// is handed to every component.
type Logger struct {
	*slog.Logger
}

// New builds a Logger writing to cfg.Output ("stdout", "stderr" or
// "discard").
//
// Parameters:
//   - cfg: logging section of the config
//   - version: attached to every line as the "version" attribute
func New(cfg config.LoggingConfig, version string) *Logger {
	return NewWithWriter(cfg, version, outputWriter(cfg.Output))
}

// NewWithWriter is like New but writes to w, ignoring cfg.Output.
// The one-shot CLI modes use it to keep stdout free for results.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler).With(
			slog.String("service", ServiceName),
			slog.String("version", version),
		),
	}
}

func outputWriter(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		return os.Stdout
	}
}

// parseLevel maps debug, warn/warning and error; anything else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With returns a Logger that adds args to every line.
//
//	txLogger := logger.With("component", "persist")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default returns an info-level JSON logger on stdout for use before the
// config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
