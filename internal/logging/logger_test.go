package logging_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"capflow/internal/logging"
	"capflow/internal/services"
)

func TestNewJSONWritesMappedKeys(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "capflow.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "info",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("pipeline started", logging.String("base", "capture-001"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, content)
	}
	for _, key := range []string{"ts", "level", "msg"} {
		if _, ok := record[key]; !ok {
			t.Fatalf("record missing %q: %v", key, record)
		}
	}
	if record["msg"] != "pipeline started" {
		t.Fatalf("unexpected msg: %v", record["msg"])
	}
	if record["base"] != "capture-001" {
		t.Fatalf("unexpected base: %v", record["base"])
	}
}

func TestNewConsoleRendersComponentPrefix(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{
		Format:      "console",
		Level:       "debug",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	component := logging.NewComponentLogger(logger, "watcher")
	component.Info("watching input directory", logging.String("extension", ".pcap"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(content)
	if !strings.Contains(line, "watcher:") {
		t.Fatalf("expected component prefix in %q", line)
	}
	if !strings.Contains(line, "extension=.pcap") {
		t.Fatalf("expected key=value tail in %q", line)
	}
	if !strings.Contains(line, "INFO") {
		t.Fatalf("expected level label in %q", line)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestLevelFiltering(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "filtered.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		Level:       "warn",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	logger.Info("suppressed")
	logger.Warn("kept")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(content), "suppressed") {
		t.Fatalf("info line should have been filtered: %s", content)
	}
	if !strings.Contains(string(content), "kept") {
		t.Fatalf("warn line missing: %s", content)
	}
}

func TestWithContextLiftsPipelineFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "ctx.log")
	logger, err := logging.New(logging.Options{
		Format:      "json",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithBase(context.Background(), "capture-001")
	ctx = services.WithStage(ctx, "upload")
	ctx = services.WithRequestID(ctx, "cid-42")
	logging.WithContext(ctx, logger).Info("stage running")

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(content))), &record); err != nil {
		t.Fatalf("log line is not JSON: %v\n%s", err, content)
	}
	if record[logging.FieldBase] != "capture-001" {
		t.Fatalf("missing base field: %v", record)
	}
	if record[logging.FieldStage] != "upload" {
		t.Fatalf("missing stage field: %v", record)
	}
	if record[logging.FieldCorrelationID] != "cid-42" {
		t.Fatalf("missing correlation field: %v", record)
	}
}

func TestNewNopDiscardsEverything(t *testing.T) {
	logger := logging.NewNop()
	logger.Error("must not panic", logging.Error(nil))
}
