package config

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable. Any error returned here is
// fatal: the process must not begin watching with a broken configuration.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateConverter(); err != nil {
		return err
	}
	if err := c.validateIndex(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.InputDir) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/capflow/config.toml"
		}
		return fmt.Errorf("paths.input_dir is required. Set CAPFLOW_INPUT_DIR or edit %s (create with 'capflow config new')", defaultPath)
	}
	if c.Paths.WorkDir == "" {
		return errors.New("paths.work_dir must be set")
	}
	if c.Paths.StagingDir == "" {
		return errors.New("paths.staging_dir must be set")
	}
	if c.Paths.InputDir == c.Paths.StagingDir || c.Paths.InputDir == c.Paths.WorkDir {
		return errors.New("paths.input_dir must not double as a pipeline directory")
	}
	return nil
}

func (c *Config) validateWatch() error {
	if strings.TrimSpace(c.Watch.Extension) == "" {
		return errors.New("watch.extension must be set")
	}
	return ensurePositiveMap(map[string]int{
		"watch.stability_interval": c.Watch.StabilityInterval,
		"watch.poll_interval":      c.Watch.PollInterval,
	})
}

func (c *Config) validatePipeline() error {
	if err := ensurePositiveMap(map[string]int{
		"pipeline.chunk_lines":   c.Pipeline.ChunkLines,
		"pipeline.lane_count":    c.Pipeline.LaneCount,
		"pipeline.workers":       c.Pipeline.Workers,
		"pipeline.drain_timeout": c.Pipeline.DrainTimeout,
	}); err != nil {
		return err
	}
	if len(c.Paths.LaneDirs) != c.Pipeline.LaneCount {
		return fmt.Errorf("paths.lane_dirs must list exactly %d directories, got %d", c.Pipeline.LaneCount, len(c.Paths.LaneDirs))
	}
	seen := make(map[string]struct{}, len(c.Paths.LaneDirs))
	for _, dir := range c.Paths.LaneDirs {
		if strings.TrimSpace(dir) == "" {
			return errors.New("paths.lane_dirs must not contain empty entries")
		}
		if _, dup := seen[dir]; dup {
			return fmt.Errorf("paths.lane_dirs contains %q twice", dir)
		}
		seen[dir] = struct{}{}
	}
	return nil
}

func (c *Config) validateConverter() error {
	if strings.TrimSpace(c.Converter.Binary) == "" {
		return errors.New("converter.binary must be set")
	}
	return ensurePositiveMap(map[string]int{
		"converter.timeout": c.Converter.Timeout,
	})
}

func (c *Config) validateIndex() error {
	if len(c.Index.Targets) == 0 {
		return errors.New("index.targets must list at least one base URL")
	}
	for _, target := range c.Index.Targets {
		parsed, err := url.Parse(target)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return fmt.Errorf("index.targets entry %q is not a valid base URL", target)
		}
	}
	if strings.TrimSpace(c.Index.Name) == "" {
		return errors.New("index.name must be set")
	}
	return ensurePositiveMap(map[string]int{
		"index.upload_concurrency": c.Index.UploadConcurrency,
		"index.request_timeout":    c.Index.RequestTimeout,
	})
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
