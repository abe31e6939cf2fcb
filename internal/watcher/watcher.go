// Package watcher discovers capture files by polling the input directory and
// emits each file exactly once after its size has stopped changing.
//
// Discovery is listing-based by contract: the settling delay between the two
// size reads is what distinguishes a fully written capture from one still
// being copied in, so event-notification APIs would not help here. The probe
// blocks the watcher goroutine on purpose; the watcher owns a dedicated
// goroutine and never shares one with pipeline workers.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"capflow/internal/config"
	"capflow/internal/logging"
)

// Watcher polls the input directory for stable capture files.
type Watcher struct {
	inputDir     string
	extension    string
	pollInterval time.Duration
	settleDelay  time.Duration
	logger       *slog.Logger
	events       chan string

	mu      sync.Mutex
	running bool
	claimed map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option adjusts watcher construction, primarily for tests.
type Option func(*Watcher)

// WithPollInterval overrides the directory listing cadence.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.pollInterval = d }
}

// WithSettleDelay overrides the stability probe's settling wait.
func WithSettleDelay(d time.Duration) Option {
	return func(w *Watcher) { w.settleDelay = d }
}

// New constructs a watcher for the configured input directory.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		inputDir:     cfg.Paths.InputDir,
		extension:    cfg.Watch.Extension,
		pollInterval: time.Duration(cfg.Watch.PollInterval) * time.Second,
		settleDelay:  time.Duration(cfg.Watch.StabilityInterval) * time.Second,
		logger:       logging.NewComponentLogger(logger, "watcher"),
		events:       make(chan string),
		claimed:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events returns the channel carrying stable source file paths. The channel
// is closed after Stop once the poll loop has drained.
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Start begins polling in a dedicated goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.ctx = runCtx
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go w.loop()

	w.logger.Info("watching input directory",
		logging.String("input_dir", w.inputDir),
		logging.String("extension", w.extension),
		logging.Duration("stability_interval", w.settleDelay),
	)
	return nil
}

// Stop halts polling, waits for the loop to exit, and closes Events.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
	close(w.events)
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	w.poll()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

func (w *Watcher) poll() {
	entries, err := os.ReadDir(w.inputDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("input directory does not exist; will retry",
				logging.String("input_dir", w.inputDir),
				logging.String(logging.FieldEventType, "input_dir_missing"),
			)
		} else {
			w.logger.Warn("listing input directory failed; will retry",
				logging.Error(err),
				logging.String("input_dir", w.inputDir),
			)
		}
		return
	}

	for _, entry := range entries {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), w.extension) {
			continue
		}
		path := filepath.Join(w.inputDir, entry.Name())
		if w.isClaimed(path) {
			continue
		}
		if !w.probeStable(path) {
			continue
		}
		if !w.claim(path) {
			continue
		}

		w.logger.Info("stable capture file detected",
			logging.String("source_file", path),
			logging.String(logging.FieldEventType, "source_stable"),
		)
		select {
		case w.events <- path:
		case <-w.ctx.Done():
			return
		}
	}
}

// probeStable reads the file size twice with the settling delay in between.
// Both reads must succeed and agree; a file that grows or disappears
// mid-probe is retried on a later poll.
func (w *Watcher) probeStable(path string) bool {
	before, err := os.Stat(path)
	if err != nil {
		return false
	}

	select {
	case <-w.ctx.Done():
		return false
	case <-time.After(w.settleDelay):
	}

	after, err := os.Stat(path)
	if err != nil {
		return false
	}
	return before.Size() == after.Size()
}

func (w *Watcher) isClaimed(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.claimed[path]
	return ok
}

// claim marks path as enqueued. Claims last for the process lifetime: a file
// whose pipeline fails stays claimed and is retried by the next process run,
// which re-discovers it because the source file was not deleted.
func (w *Watcher) claim(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.claimed[path]; ok {
		return false
	}
	w.claimed[path] = struct{}{}
	return true
}
