// Package daemon ties the watcher, the worker pool, and the pipeline runner
// into a single foreground process guarded by a file lock.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"capflow/internal/catalog"
	"capflow/internal/config"
	"capflow/internal/converter"
	"capflow/internal/logging"
	"capflow/internal/pipeline"
	"capflow/internal/services"
	"capflow/internal/watcher"
)

// LockFileName guards against two daemon processes sharing the same
// ledgers, which the pipeline's single-writer model does not allow.
const LockFileName = "capflow.lock"

type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	conv    converter.Converter
	watchOp []watcher.Option
}

// Option adjusts daemon construction, primarily for tests.
type Option func(*Daemon)

// WithConverter substitutes the external conversion tool.
func WithConverter(conv converter.Converter) Option {
	return func(d *Daemon) { d.conv = conv }
}

// WithWatcherOptions forwards options to the input directory watcher.
func WithWatcherOptions(opts ...watcher.Option) Option {
	return func(d *Daemon) { d.watchOp = opts }
}

func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Daemon {
	d := &Daemon{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "daemon"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run blocks until ctx is cancelled. It acquires the instance lock, starts
// the watcher, and fans captured files out to the worker pool. On shutdown
// the watcher stops first, then in-flight pipelines drain, bounded by the
// configured drain timeout. If the timeout fires, Run returns with the
// abandoned workers still running; the runner and catalog stay open so a
// straggler never records against closed state, and process exit reclaims
// them.
func (d *Daemon) Run(ctx context.Context) error {
	lock := flock.New(filepath.Join(d.cfg.Paths.LogDir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "daemon", "lock",
			"failed to acquire instance lock", err)
	}
	if !locked {
		return services.Wrap(services.ErrConfiguration, "daemon", "lock",
			fmt.Sprintf("another instance holds %s", lock.Path()), nil)
	}
	defer lock.Unlock()

	var store *catalog.Store
	if d.cfg.Catalog.Enabled {
		store, err = catalog.Open(d.cfg.Catalog.Path)
		if err != nil {
			return err
		}
	}
	closeStore := func() {
		if store != nil {
			store.Close()
		}
	}

	runner, err := pipeline.NewRunner(d.cfg, d.logger, d.conv, store)
	if err != nil {
		closeStore()
		return err
	}

	w := watcher.New(d.cfg, d.logger, d.watchOp...)
	if err := w.Start(ctx); err != nil {
		runner.Close()
		closeStore()
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.consume(runner, w.Events())
	}()

	d.logger.Info("daemon started",
		logging.Int("workers", d.cfg.Pipeline.Workers),
		logging.String("input_dir", d.cfg.Paths.InputDir))

	<-ctx.Done()
	d.logger.Info("shutting down, draining in-flight work")
	w.Stop()

	drain := time.Duration(d.cfg.Pipeline.DrainTimeout) * time.Second
	select {
	case <-done:
		d.logger.Info("daemon stopped")
		if err := runner.Close(); err != nil {
			d.logger.Warn("closing pipeline state failed", logging.Error(err))
		}
		closeStore()
	case <-time.After(drain):
		// Abandoned workers may still be mid-pipeline; leave the runner and
		// catalog open for them and let process exit reclaim everything.
		d.logger.Warn("drain timeout exceeded, abandoning in-flight work",
			logging.Duration("drain_timeout", drain))
	}
	return nil
}

// consume runs the worker pool over the watcher's event stream and returns
// once the stream closes and every worker has finished.
func (d *Daemon) consume(runner *pipeline.Runner, events <-chan string) {
	workers := d.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}
	var group errgroup.Group
	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for path := range events {
				// Workers keep their own context: an in-flight pipeline
				// finishes its current file during shutdown instead of
				// being interrupted mid-stage.
				if err := runner.Process(context.Background(), path); err != nil {
					d.logger.Error("pipeline failed",
						logging.String("source", path),
						logging.Error(err))
				}
			}
			return nil
		})
	}
	group.Wait()
}
