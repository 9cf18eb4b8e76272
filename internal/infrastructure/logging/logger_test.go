package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/nerrad567/shq-link/internal/infrastructure/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.input); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewFormats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		logger := New(config.LoggingConfig{Format: format, Output: "stderr"}, "1.0.0")
		if logger == nil || logger.Logger == nil {
			t.Errorf("New(format=%q) returned an unusable logger", format)
		}
	}
}

func TestDefault(t *testing.T) {
	if Default() == nil {
		t.Fatal("Default() = nil")
	}
}

func TestWithProducesIndependentChild(t *testing.T) {
	logger := New(config.LoggingConfig{}, "1.0.0")
	child := logger.With("device", "door-garage")
	if child == nil || child == logger {
		t.Error("With() must return a distinct child logger")
	}
}

func TestServiceIdentityOnEveryLine(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}).
		WithAttrs([]slog.Attr{
			slog.String("service", "shqlink"),
			slog.String("version", "1.2.3"),
		})
	logger := &Logger{Logger: slog.New(handler)}

	logger.With("device", "door-garage").Info("command completed", "action", "open")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if line["service"] != "shqlink" || line["version"] != "1.2.3" {
		t.Errorf("line = %v, want service and version attrs", line)
	}
	if line["device"] != "door-garage" || line["action"] != "open" {
		t.Errorf("line = %v, want device and action attrs", line)
	}
	if line["msg"] != "command completed" {
		t.Errorf("msg = %v", line["msg"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: parseLevel("warn")})
	logger := &Logger{Logger: slog.New(handler)}

	logger.Info("suppressed")
	if buf.Len() != 0 {
		t.Errorf("info line emitted at warn level: %s", buf.String())
	}
	logger.Warn("emitted")
	if buf.Len() == 0 {
		t.Error("warn line suppressed at warn level")
	}
}
