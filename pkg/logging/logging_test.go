package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		level Level
		slog  slog.Level
		valid bool
	}{
		{LevelDebug, slog.LevelDebug, true},
		{LevelInfo, slog.LevelInfo, true},
		{LevelWarn, slog.LevelWarn, true},
		{LevelError, slog.LevelError, true},
		{Level("verbose"), slog.LevelInfo, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := tt.level.SlogLevel(); got != tt.slog {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.slog)
			}
			if err := tt.level.Validate(); (err == nil) != tt.valid {
				t.Errorf("Validate() error = %v, valid %v", err, tt.valid)
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	if cfg.Level != LevelInfo || cfg.Format != FormatText {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid format error")
	}
}

func TestConfigLoadEnv(t *testing.T) {
	t.Setenv(EnvLevel, "Error")
	t.Setenv(EnvFormat, "JSON")

	var cfg Config
	cfg.LoadEnv()
	if cfg.Level != LevelError || cfg.Format != FormatJSON {
		t.Fatalf("env not applied: %+v", cfg)
	}

	set := Config{Level: LevelDebug, Format: FormatText}
	set.LoadEnv()
	if set.Level != LevelDebug || set.Format != FormatText {
		t.Errorf("env overrode file values: %+v", set)
	}
}

func TestValidateMessages(t *testing.T) {
	if err := Level("loud").Validate(); err == nil || !strings.Contains(err.Error(), "logging.level") {
		t.Errorf("unexpected level error: %v", err)
	}
	if err := Format("xml").Validate(); err == nil || !strings.Contains(err.Error(), "logging.format") {
		t.Errorf("unexpected format error: %v", err)
	}
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(Config{Level: LevelWarn, Format: FormatJSON}, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "agent", "planner")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if record["msg"] != "kept" || record["agent"] != "planner" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestNewWithWriter_Text(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(Config{Level: LevelDebug, Format: FormatText}, &buf).Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}
