package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration for the pipeline.
type Paths struct {
	InputDir   string   `toml:"input_dir"`
	WorkDir    string   `toml:"work_dir"`
	StagingDir string   `toml:"staging_dir"`
	LogDir     string   `toml:"log_dir"`
	LaneDirs   []string `toml:"lane_dirs"`
}

// Watch contains configuration for the stability watcher.
type Watch struct {
	Extension         string `toml:"extension"`
	StabilityInterval int    `toml:"stability_interval"`
	PollInterval      int    `toml:"poll_interval"`
}

// Pipeline contains chunking and concurrency settings.
type Pipeline struct {
	ChunkLines   int `toml:"chunk_lines"`
	LaneCount    int `toml:"lane_count"`
	Workers      int `toml:"workers"`
	DrainTimeout int `toml:"drain_timeout"`
}

// Converter contains configuration for the external record converter.
type Converter struct {
	Binary  string   `toml:"binary"`
	Args    []string `toml:"args"`
	Timeout int      `toml:"timeout"`
}

// Index contains configuration for the bulk indexing targets.
type Index struct {
	Targets           []string `toml:"targets"`
	Name              string   `toml:"name"`
	UploadConcurrency int      `toml:"upload_concurrency"`
	RequestTimeout    int      `toml:"request_timeout"`
}

// Catalog contains configuration for the observability store.
type Catalog struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for capflow. It is built once
// at startup and passed explicitly to every component constructor; nothing
// mutates it afterwards.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Watch     Watch     `toml:"watch"`
	Pipeline  Pipeline  `toml:"pipeline"`
	Converter Converter `toml:"converter"`
	Index     Index     `toml:"index"`
	Catalog   Catalog   `toml:"catalog"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/capflow/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. A `.env` file in the
// working directory is honored for environment overrides, matching the
// deployment surface this pipeline historically used.
func Load(path string) (*Config, string, bool, error) {
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("capflow.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) applyEnvOverrides() {
	if v := strings.TrimSpace(os.Getenv("CAPFLOW_INPUT_DIR")); v != "" {
		c.Paths.InputDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CAPFLOW_INDEX_TARGETS")); v != "" {
		targets := strings.Split(v, ",")
		c.Index.Targets = c.Index.Targets[:0]
		for _, target := range targets {
			if target = strings.TrimSpace(target); target != "" {
				c.Index.Targets = append(c.Index.Targets, target)
			}
		}
	}
}

// EnsureDirectories creates the directories the daemon needs before any
// watching begins.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.WorkDir, c.Paths.StagingDir, c.Paths.LogDir}
	dirs = append(dirs, c.Paths.LaneDirs...)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
