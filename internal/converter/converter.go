// Package converter invokes the external tool that turns a capture file into
// a newline-delimited record stream.
//
// The tool is a black box: it is handed the source path, its stdout becomes
// the conversion artifact, and a non-zero exit is a stage failure. Every
// invocation runs under a timeout so a wedged tool surfaces as a timeout
// error instead of blocking a worker forever.
package converter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"capflow/internal/config"
	"capflow/internal/logging"
	"capflow/internal/services"
)

// Converter turns a capture file into a record-stream artifact.
type Converter interface {
	Convert(ctx context.Context, sourcePath, artifactPath string) error
}

// ToolConverter shells out to the configured converter binary.
type ToolConverter struct {
	binary  string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewTool builds a ToolConverter from configuration.
func NewTool(cfg *config.Config, logger *slog.Logger) *ToolConverter {
	return &ToolConverter{
		binary:  cfg.Converter.Binary,
		args:    append([]string(nil), cfg.Converter.Args...),
		timeout: time.Duration(cfg.Converter.Timeout) * time.Second,
		logger:  logging.NewComponentLogger(logger, "converter"),
	}
}

// Convert runs the tool with stdout directed at artifactPath. A partial
// artifact is removed on any failure so the splitter never sees one.
func (c *ToolConverter) Convert(ctx context.Context, sourcePath, artifactPath string) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := os.OpenFile(artifactPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return services.Wrap(services.ErrTransient, "convert", "create artifact", artifactPath, err)
	}

	args := append([]string{"-r", sourcePath}, c.args...)
	cmd := exec.CommandContext(runCtx, c.binary, args...)
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	closeErr := out.Close()

	if runErr != nil {
		_ = os.Remove(artifactPath)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "convert", c.binary,
				fmt.Sprintf("no result after %s", c.timeout), runErr)
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = runErr.Error()
		}
		return services.Wrap(services.ErrExternalTool, "convert", c.binary, detail, runErr)
	}
	if closeErr != nil {
		_ = os.Remove(artifactPath)
		return services.Wrap(services.ErrTransient, "convert", "close artifact", artifactPath, closeErr)
	}

	c.logger.Info("conversion finished",
		logging.String("source_file", sourcePath),
		logging.String("artifact", artifactPath),
		logging.Duration("duration", time.Since(start)),
	)
	return nil
}
