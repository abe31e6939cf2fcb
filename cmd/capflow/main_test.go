package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"capflow/internal/catalog"
	"capflow/internal/config"
)

func writeTestConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.InputDir = filepath.Join(base, "input")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Catalog.Path = filepath.Join(base, "logs", "catalog.db")
	cfg.Index.Targets = []string{"http://127.0.0.1:9200"}
	if mutate != nil {
		mutate(&cfg)
	}

	rendered, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, rendered, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigNewCreatesSampleOnce(t *testing.T) {
	target := filepath.Join(t.TempDir(), "capflow.toml")

	out, err := runCommand(t, "config", "new", "--path", target)
	if err != nil {
		t.Fatalf("config new returned error: %v", err)
	}
	if !strings.Contains(out, target) {
		t.Fatalf("output does not name the target path: %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, err := runCommand(t, "config", "new", "--path", target); err == nil {
		t.Fatal("expected error without --overwrite")
	}
	if _, err := runCommand(t, "config", "new", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("overwrite returned error: %v", err)
	}
}

func TestConfigShowRendersResolvedConfig(t *testing.T) {
	path := writeTestConfig(t, nil)

	out, err := runCommand(t, "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show returned error: %v", err)
	}
	if !strings.Contains(out, "chunk_lines") {
		t.Fatalf("rendered config missing pipeline settings: %q", out)
	}
	if !strings.Contains(out, path) {
		t.Fatalf("rendered config does not name its source: %q", out)
	}
}

func TestStatusJSONReportsCatalog(t *testing.T) {
	var catalogPath string
	cfgPath := writeTestConfig(t, func(cfg *config.Config) {
		catalogPath = cfg.Catalog.Path
	})

	store, err := catalog.Open(catalogPath)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	if _, err := store.Begin(context.Background(), "/input/a.pcap", "a", "cid-1"); err != nil {
		t.Fatalf("seed catalog: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close catalog: %v", err)
	}

	out, err := runCommand(t, "status", "--json", "--config", cfgPath)
	if err != nil {
		t.Fatalf("status returned error: %v", err)
	}

	var report statusReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode status output: %v\n%s", err, out)
	}
	if report.Summary.Total != 1 {
		t.Fatalf("summary total %d, want 1", report.Summary.Total)
	}
	if len(report.Items) != 1 || report.Items[0].Base != "a" {
		t.Fatalf("unexpected items: %#v", report.Items)
	}
}

func TestStatusRejectsUnknownFilter(t *testing.T) {
	cfgPath := writeTestConfig(t, nil)
	if _, err := runCommand(t, "status", "--status", "bogus", "--config", cfgPath); err == nil {
		t.Fatal("expected unknown status error")
	}
}

func TestDepsCommandFailsWhenConverterMissing(t *testing.T) {
	cfgPath := writeTestConfig(t, func(cfg *config.Config) {
		cfg.Converter.Binary = "clearly-not-present-binary"
	})
	out, err := runCommand(t, "deps", "--config", cfgPath)
	if err == nil {
		t.Fatal("expected missing dependency error")
	}
	if !strings.Contains(out, "clearly-not-present-binary") {
		t.Fatalf("table does not show the missing binary: %q", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version returned error: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatal("version output is empty")
	}
}
