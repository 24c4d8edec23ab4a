package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConsoleHandlerFormatsComponentAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	off := false
	logger, err := New(Options{Level: "info", Console: &buf, Color: &off})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer logger.Close()

	WithComponent(logger.Logger, "ingest").Info("loaded fleet", FieldFleet, "yellow", "rows", 42)

	line := buf.String()
	for _, want := range []string{"INFO", "[ingest] loaded fleet", "fleet=yellow", "rows=42"} {
		if !strings.Contains(line, want) {
			t.Errorf("console line %q missing %q", line, want)
		}
	}
	if strings.Contains(line, "component=") {
		t.Errorf("component should be rendered as prefix, got %q", line)
	}
	if strings.Contains(line, "\x1b[") {
		t.Errorf("colour disabled but got escape codes: %q", line)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Console: &buf})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(buf.String(), "hidden") {
		t.Errorf("info record written at warn level: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("warn record missing: %q", buf.String())
	}
}

func TestFileReceivesJSON(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "taxiemissions.log")
	logger, err := New(Options{Level: "info", Console: &console, File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.With(FieldStage, "clean").Info("verified", "violations", 0)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log file is not JSON: %v (%q)", err, data)
	}
	if record["msg"] != "verified" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["stage"] != "clean" {
		t.Errorf("stage = %v", record["stage"])
	}
	if record["level"] != "info" {
		t.Errorf("level = %v", record["level"])
	}
	if !strings.Contains(console.String(), "verified") {
		t.Errorf("console output missing record: %q", console.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithComponentNil(t *testing.T) {
	logger := WithComponent(nil, "x")
	logger.Info("discarded")
}
