package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level    Level
		expected string
	}{
		{LevelNotSet, "NOTSET"},
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarning, "WARNING"},
		{LevelError, "ERROR"},
		{LevelCritical, "CRITICAL"},
		{Level(999), "UNKNOWN"},
	}

	for _, test := range tests {
		if got := test.level.String(); got != test.expected {
			t.Errorf("Level(%d).String() = %s, expected %s", test.level, got, test.expected)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"notset":   LevelNotSet,
		"debug":    LevelDebug,
		"info":     LevelInfo,
		"warning":  LevelWarning,
		"warn":     LevelWarning,
		"error":    LevelError,
		"critical": LevelCritical,
		"bogus":    LevelInfo,
	}
	for name, want := range tests {
		if got := ParseLevel(name); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLevelSlogLevel(t *testing.T) {
	tests := []struct {
		level    Level
		expected slog.Level
	}{
		{LevelNotSet, slog.LevelDebug},
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarning, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LevelCritical, slog.LevelError},
	}

	for _, test := range tests {
		if got := test.level.SlogLevel(); got != test.expected {
			t.Errorf("Level(%d).SlogLevel() = %v, expected %v", test.level, got, test.expected)
		}
	}
}

func TestInitLogsToOutput(t *testing.T) {
	var buf bytes.Buffer

	closer, err := Init(LevelInfo, &buf, "", false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer closer.Close()

	Info("test-subsystem", "test message")

	output := buf.String()
	if !strings.Contains(output, "test message") {
		t.Error("expected log message to appear in output")
	}
	if !strings.Contains(output, "test-subsystem") {
		t.Error("expected subsystem to appear in output")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer

	closer, err := Init(LevelInfo, &buf, "", false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer closer.Close()

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	if strings.Contains(output, "debug message") {
		t.Error("debug message should be filtered out at info level")
	}
	if !strings.Contains(output, "info message") {
		t.Error("info message should appear at info level")
	}
}

func TestInitDualWritesToLogFile(t *testing.T) {
	var buf bytes.Buffer
	dir := t.TempDir()
	logPath := filepath.Join(dir, "lymbo.log")

	closer, err := Init(LevelInfo, &buf, logPath, false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer closer.Close()

	Error("broker", errors.New("boom"), "setup failed")

	fileContents, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(fileContents), "setup failed") {
		t.Error("expected message to be written to the log file")
	}
	if !strings.Contains(buf.String(), "setup failed") {
		t.Error("expected message to also be written to the console writer")
	}
}

func TestInitJSONHandler(t *testing.T) {
	var buf bytes.Buffer

	closer, err := Init(LevelInfo, &buf, "", true)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer closer.Close()

	Info("json-subsystem", "hello")

	output := buf.String()
	if !strings.HasPrefix(strings.TrimSpace(output), "{") {
		t.Errorf("expected JSON output, got %q", output)
	}
}

func TestPrintfAdapter(t *testing.T) {
	var buf bytes.Buffer
	closer, err := Init(LevelInfo, &buf, "", false)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer closer.Close()

	logf := Printf("pipeline")
	logf("run finished in %d groups", 3)

	if !strings.Contains(buf.String(), "run finished in 3 groups") {
		t.Error("expected Printf-adapted logger to emit the formatted message")
	}
}
