// Package uploader posts staged chunk files to the configured indexing
// targets, one bounded fan-out per source base. Each lane directory keeps
// its own append-only upload ledger so a restart never re-sends a chunk
// that was already acknowledged.
package uploader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"capflow/internal/config"
	"capflow/internal/ledger"
	"capflow/internal/logging"
	"capflow/internal/services"
	"capflow/internal/splitter"
)

// LedgerName is the upload ledger filename inside each lane directory.
const LedgerName = "upload.log"

const contentType = "application/x-ndjson"

// Coordinator uploads chunk files from every lane directory to the
// indexing targets. One Coordinator serves the whole process.
type Coordinator struct {
	targets     []string
	index       string
	concurrency int
	laneDirs    []string
	ledgers     []*ledger.Ledger
	client      *http.Client
	logger      *slog.Logger
}

func New(cfg *config.Config, logger *slog.Logger) (*Coordinator, error) {
	ledgers := make([]*ledger.Ledger, len(cfg.Paths.LaneDirs))
	for i, dir := range cfg.Paths.LaneDirs {
		led, err := ledger.Open(filepath.Join(dir, LedgerName))
		if err != nil {
			for _, opened := range ledgers[:i] {
				opened.Close()
			}
			return nil, fmt.Errorf("failed to open upload ledger for lane %d: %w", i, err)
		}
		ledgers[i] = led
	}
	return &Coordinator{
		targets:     append([]string(nil), cfg.Index.Targets...),
		index:       cfg.Index.Name,
		concurrency: cfg.Index.UploadConcurrency,
		laneDirs:    append([]string(nil), cfg.Paths.LaneDirs...),
		ledgers:     ledgers,
		client: &http.Client{
			Timeout: time.Duration(cfg.Index.RequestTimeout) * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "uploader"),
	}, nil
}

// Close releases the per-lane ledgers.
func (c *Coordinator) Close() error {
	var firstErr error
	for _, led := range c.ledgers {
		if err := led.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Uploaded reports whether a chunk was already acknowledged by its lane.
func (c *Coordinator) Uploaded(lane int, name string) bool {
	if lane < 0 || lane >= len(c.ledgers) {
		return false
	}
	return c.ledgers[lane].Contains(name)
}

type task struct {
	lane int
	name string
	path string
}

// UploadBase sends every pending chunk of base across all lanes, bounded by
// the configured upload concurrency. A chunk that gets a 2xx response is
// recorded in its lane ledger and deleted; a failed chunk is logged and left
// in place for the next run. The returned error is non-nil when at least one
// chunk failed, so a caller never treats the base as fully indexed early.
func (c *Coordinator) UploadBase(ctx context.Context, base string) error {
	var pending []task
	for lane, dir := range c.laneDirs {
		names, err := splitter.ListChunks(dir, base)
		if err != nil {
			return services.Wrap(services.ErrTransient, "upload", "list_lane",
				fmt.Sprintf("failed to list lane %d", lane), err)
		}
		for _, name := range names {
			if c.ledgers[lane].Contains(name) {
				continue
			}
			pending = append(pending, task{lane: lane, name: name, path: filepath.Join(dir, name)})
		}
	}
	if len(pending) == 0 {
		c.logger.Debug("no pending chunks", logging.String(logging.FieldBase, base))
		return nil
	}

	var failed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)
	for _, t := range pending {
		t := t
		group.Go(func() error {
			if err := c.uploadChunk(groupCtx, t); err != nil {
				failed.Add(1)
				c.logger.Warn("chunk upload failed",
					logging.String(logging.FieldBase, base),
					logging.Int(logging.FieldLane, t.lane),
					logging.String("chunk", t.name),
					logging.Error(err))
			}
			return nil
		})
	}
	group.Wait()

	if n := failed.Load(); n > 0 {
		return services.Wrap(services.ErrTransient, "upload", "bulk_post",
			fmt.Sprintf("%d of %d chunks failed for %s", n, len(pending), base), nil)
	}
	c.logger.Info("base uploaded",
		logging.String(logging.FieldBase, base),
		logging.Int("chunks", len(pending)))
	return nil
}

func (c *Coordinator) uploadChunk(ctx context.Context, t task) error {
	body, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read chunk: %w", err)
	}
	target := c.targets[chunkSeq(t.name)%len(c.targets)]
	url := target + "/" + c.index + "/_bulk"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}

	if err := c.ledgers[t.lane].Record(t.name); err != nil {
		return fmt.Errorf("record upload: %w", err)
	}
	if err := os.Remove(t.path); err != nil {
		// Already acknowledged and recorded; the ledger keeps the next run
		// from re-sending the leftover file.
		c.logger.Warn("failed to remove uploaded chunk",
			logging.Int(logging.FieldLane, t.lane),
			logging.String("chunk", t.name),
			logging.Error(err))
	}
	c.logger.Debug("chunk indexed",
		logging.Int(logging.FieldLane, t.lane),
		logging.String("chunk", t.name),
		logging.String("target", target))
	return nil
}

// chunkSeq extracts the chunk sequence number from a chunk filename so the
// target rotation is stable across runs. Unparseable names land on target 0.
func chunkSeq(name string) int {
	idx := strings.LastIndex(name, ".chunk_")
	if idx < 0 {
		return 0
	}
	seq, err := strconv.Atoi(name[idx+len(".chunk_"):])
	if err != nil || seq < 0 {
		return 0
	}
	return seq
}
