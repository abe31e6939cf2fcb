// Package testsupport provides shared helpers for package tests: per-test
// configurations seeded with unique temp directories and small file builders.
package testsupport

import (
	"fmt"
	"path/filepath"
	"testing"

	"capflow/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields, applies any provided options, and creates every
// pipeline directory.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.InputDir = filepath.Join(base, "input")
	cfg.Paths.WorkDir = filepath.Join(base, "work")
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.LaneDirs = nil
	for i := 0; i < cfg.Pipeline.LaneCount; i++ {
		cfg.Paths.LaneDirs = append(cfg.Paths.LaneDirs, filepath.Join(base, "lanes", fmt.Sprintf("lane-%d", i)))
	}
	cfg.Index.Targets = []string{"http://127.0.0.1:9200"}
	cfg.Catalog.Path = filepath.Join(base, "logs", "catalog.db")

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithLaneCount resizes the lane layout on the test config.
func WithLaneCount(n int) ConfigOption {
	return func(cfg *config.Config) {
		root := filepath.Join(filepath.Dir(cfg.Paths.StagingDir), "lanes")
		cfg.Pipeline.LaneCount = n
		cfg.Paths.LaneDirs = nil
		for i := 0; i < n; i++ {
			cfg.Paths.LaneDirs = append(cfg.Paths.LaneDirs, filepath.Join(root, fmt.Sprintf("lane-%d", i)))
		}
	}
}

// WithTargets overrides the indexing targets on the test config.
func WithTargets(targets ...string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Index.Targets = targets
	}
}

// WithChunkLines overrides the chunk size on the test config.
func WithChunkLines(lines int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Pipeline.ChunkLines = lines
	}
}
