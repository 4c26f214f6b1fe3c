package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"chatty", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLevelForVerbosity(t *testing.T) {
	if got := LevelForVerbosity("warn", 0); got != "warn" {
		t.Errorf("LevelForVerbosity(warn, 0) = %q, want warn", got)
	}
	if got := LevelForVerbosity("warn", 2); got != "debug" {
		t.Errorf("LevelForVerbosity(warn, 2) = %q, want debug", got)
	}
}

func TestWithFields_IncludesRunID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "info", "json")

	ctx := ContextWithRunID(context.Background(), "run-123")
	WithFields(ctx, "source", "www_alpha").Info("load completed", "rows", 2)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal log line %q: %v", buf.String(), err)
	}

	if entry["run_id"] != "run-123" {
		t.Errorf("run_id = %v, want run-123", entry["run_id"])
	}
	if entry["source"] != "www_alpha" {
		t.Errorf("source = %v, want www_alpha", entry["source"])
	}
	if entry["msg"] != "load completed" {
		t.Errorf("msg = %v", entry["msg"])
	}
}

func TestFromContext_NoRunID(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupWriter(&buf, "debug", "text")

	FromContext(context.Background()).Debug("hello")

	if strings.Contains(buf.String(), "run_id") {
		t.Errorf("unexpected run_id in %q", buf.String())
	}
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("missing message in %q", buf.String())
	}
}
