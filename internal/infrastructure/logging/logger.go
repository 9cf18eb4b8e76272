package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/shq-link/internal/infrastructure/config"
)

// Logger is slog with the service identity baked in. Every line carries
// service=shqlink and the running version, so aggregated logs from
// several hosts stay attributable.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section of config.yaml. Format
// falls back to JSON and output to stdout; systemd and container
// runtimes both collect stdout, so that is the deployment default.
func New(cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(destination(cfg.Output), opts)
	} else {
		handler = slog.NewJSONHandler(destination(cfg.Output), opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "shqlink"),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// With returns a child logger carrying extra default attributes, the
// usual way a subsystem tags its lines:
//
//	sup.logger = logger.With("device", "door-garage")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the bootstrap logger used before config loads: JSON to
// stdout at info, version "dev".
func Default() *Logger {
	return New(config.LoggingConfig{}, "dev")
}

func destination(output string) io.Writer {
	if strings.EqualFold(output, "stderr") {
		return os.Stderr
	}
	return os.Stdout
}

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
