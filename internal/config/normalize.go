package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// normalize expands every path field to an absolute path and derives lane
// directories when none are configured.
func (c *Config) normalize() error {
	var err error
	if c.Paths.InputDir, err = expandOptional(c.Paths.InputDir); err != nil {
		return err
	}
	if c.Paths.WorkDir, err = expandPath(c.Paths.WorkDir); err != nil {
		return err
	}
	if c.Paths.StagingDir, err = expandPath(c.Paths.StagingDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}

	if len(c.Paths.LaneDirs) == 0 && c.Pipeline.LaneCount > 0 {
		root, err := expandPath(defaultLaneRoot)
		if err != nil {
			return err
		}
		for i := 0; i < c.Pipeline.LaneCount; i++ {
			c.Paths.LaneDirs = append(c.Paths.LaneDirs, filepath.Join(root, fmt.Sprintf("lane-%d", i)))
		}
	} else {
		for i, dir := range c.Paths.LaneDirs {
			expanded, err := expandPath(dir)
			if err != nil {
				return err
			}
			c.Paths.LaneDirs[i] = expanded
		}
	}

	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.Paths.LogDir, "catalog.db")
	} else if c.Catalog.Path, err = expandPath(c.Catalog.Path); err != nil {
		return err
	}

	if ext := strings.TrimSpace(c.Watch.Extension); ext != "" && !strings.HasPrefix(ext, ".") {
		c.Watch.Extension = "." + ext
	}

	for i, target := range c.Index.Targets {
		c.Index.Targets[i] = strings.TrimRight(strings.TrimSpace(target), "/")
	}

	return nil
}

func expandOptional(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	return expandPath(path)
}
