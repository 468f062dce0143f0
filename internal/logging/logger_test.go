package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerPullsComponentIntoHeader(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false))

	NewComponentLogger(logger, "pool").Info("worker spawned", String(FieldWorkerID, "w1"))

	out := buf.String()
	if !strings.Contains(out, "[pool]") {
		t.Fatalf("component not in header: %q", out)
	}
	if !strings.Contains(out, "worker_id=w1") {
		t.Fatalf("attr missing: %q", out)
	}
}

func TestJSONHandlerShapesFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl, false))

	logger.Warn("queue filling", Int("depth", 12))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output not JSON: %v (%q)", err, buf.String())
	}
	if record["level"] != "warn" {
		t.Fatalf("unexpected level field: %v", record["level"])
	}
	if record["msg"] != "queue filling" {
		t.Fatalf("unexpected msg field: %v", record["msg"])
	}
	if _, ok := record["ts"]; !ok {
		t.Fatal("expected ts field")
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"fatal":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestNopLoggerDiscards(t *testing.T) {
	logger := NewNop()
	// Must not panic and must report disabled at every level.
	logger.Error("dropped")
	if logger.Enabled(nil, slog.LevelError) { //nolint:staticcheck
		t.Fatal("nop logger should be disabled")
	}
}
