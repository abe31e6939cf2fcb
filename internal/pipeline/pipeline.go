// Package pipeline drives a single capture file through its stages:
// convert, split, distribute, upload, cleanup. Stage completion is tracked
// through append-only ledgers so a restarted process resumes where the last
// run stopped instead of redoing work.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"capflow/internal/catalog"
	"capflow/internal/config"
	"capflow/internal/converter"
	"capflow/internal/distributor"
	"capflow/internal/ledger"
	"capflow/internal/logging"
	"capflow/internal/services"
	"capflow/internal/splitter"
	"capflow/internal/uploader"
)

const (
	// ConversionLedgerName lives in the work directory and is keyed by
	// absolute source path.
	ConversionLedgerName = "processed.log"
	// SplitLedgerName lives in the staging directory and is keyed by base.
	SplitLedgerName = "split.log"
)

// Item carries one capture file through the stage sequence.
type Item struct {
	SourcePath    string
	Base          string
	ArtifactPath  string
	CorrelationID string
}

// Handler is a single pipeline stage.
type Handler interface {
	Name() string
	Execute(ctx context.Context, item *Item) error
}

// Runner owns the stage implementations and the stage-completion ledgers
// for the whole process. Process may be called concurrently from multiple
// workers; the ledgers serialize their own appends.
type Runner struct {
	cfg        *config.Config
	logger     *slog.Logger
	convert    converter.Converter
	split      *splitter.Splitter
	distribute *distributor.Distributor
	upload     *uploader.Coordinator
	store      *catalog.Store

	converted *ledger.Ledger
	splitDone *ledger.Ledger
}

// NewRunner wires the stage implementations from the configuration. The
// catalog store is optional; a nil store disables status tracking only.
func NewRunner(cfg *config.Config, logger *slog.Logger, conv converter.Converter, store *catalog.Store) (*Runner, error) {
	converted, err := ledger.Open(filepath.Join(cfg.Paths.WorkDir, ConversionLedgerName))
	if err != nil {
		return nil, fmt.Errorf("failed to open conversion ledger: %w", err)
	}
	splitDone, err := ledger.Open(filepath.Join(cfg.Paths.StagingDir, SplitLedgerName))
	if err != nil {
		converted.Close()
		return nil, fmt.Errorf("failed to open split ledger: %w", err)
	}
	dist, err := distributor.New(cfg, logger)
	if err != nil {
		converted.Close()
		splitDone.Close()
		return nil, err
	}
	up, err := uploader.New(cfg, logger)
	if err != nil {
		converted.Close()
		splitDone.Close()
		dist.Close()
		return nil, err
	}
	if conv == nil {
		conv = converter.NewTool(cfg, logger)
	}
	return &Runner{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
		convert:    conv,
		split:      splitter.New(cfg, logger),
		distribute: dist,
		upload:     up,
		store:      store,
		converted:  converted,
		splitDone:  splitDone,
	}, nil
}

// Close releases the ledgers held by the runner and its stages.
func (r *Runner) Close() error {
	var firstErr error
	for _, closer := range []func() error{
		r.converted.Close,
		r.splitDone.Close,
		r.distribute.Close,
		r.upload.Close,
	} {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// BaseName derives the chunk base from a source path: the filename without
// its extension.
func BaseName(path string) string {
	name := filepath.Base(path)
	if ext := filepath.Ext(name); ext != "" {
		name = strings.TrimSuffix(name, ext)
	}
	return name
}

type stage struct {
	name    string
	status  catalog.Status
	execute func(ctx context.Context, item *Item) error
}

func (s stage) Name() string { return s.name }

func (s stage) Execute(ctx context.Context, item *Item) error { return s.execute(ctx, item) }

// Process runs one capture file through every stage in order. It returns
// nil only when the file has been fully converted, split, distributed,
// uploaded, and removed from the input directory.
func (r *Runner) Process(ctx context.Context, sourcePath string) error {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, "pipeline", "resolve_path",
			"failed to resolve source path", err)
	}
	item := &Item{
		SourcePath:    abs,
		Base:          BaseName(abs),
		ArtifactPath:  filepath.Join(r.cfg.Paths.WorkDir, BaseName(abs)+".ndjson"),
		CorrelationID: uuid.NewString(),
	}

	ctx = services.WithBase(ctx, item.Base)
	ctx = services.WithRequestID(ctx, item.CorrelationID)
	log := logging.WithContext(ctx, r.logger)
	log.Info("processing capture", logging.String("source", item.SourcePath))

	if r.store != nil {
		if _, err := r.store.Begin(ctx, item.SourcePath, item.Base, item.CorrelationID); err != nil {
			log.Warn("catalog begin failed", logging.Error(err))
		}
	}

	stages := []stage{
		{name: "convert", status: catalog.StatusConverting, execute: r.runConvert},
		{name: "split", status: catalog.StatusSplitting, execute: r.runSplit},
		{name: "distribute", status: catalog.StatusDistributing, execute: r.runDistribute},
		{name: "upload", status: catalog.StatusUploading, execute: r.runUpload},
		{name: "cleanup", status: catalog.StatusCompleted, execute: r.runCleanup},
	}
	for _, st := range stages {
		stageCtx := services.WithStage(ctx, st.Name())
		r.setStatus(stageCtx, item, st.status)
		if err := st.Execute(stageCtx, item); err != nil {
			r.markFailed(ctx, item, err)
			logging.WithContext(stageCtx, r.logger).Error("stage failed", logging.Error(err))
			return err
		}
	}

	log.Info("capture completed", logging.String("source", item.SourcePath))
	return nil
}

func (r *Runner) setStatus(ctx context.Context, item *Item, status catalog.Status) {
	if r.store == nil {
		return
	}
	if err := r.store.SetStatus(ctx, item.SourcePath, status); err != nil {
		r.logger.Warn("catalog status update failed",
			logging.String(logging.FieldBase, item.Base),
			logging.Error(err))
	}
}

func (r *Runner) markFailed(ctx context.Context, item *Item, cause error) {
	if r.store == nil {
		return
	}
	if err := r.store.MarkFailed(ctx, item.SourcePath, cause.Error()); err != nil {
		r.logger.Warn("catalog failure update failed",
			logging.String(logging.FieldBase, item.Base),
			logging.Error(err))
	}
}

func (r *Runner) runConvert(ctx context.Context, item *Item) error {
	if r.converted.Contains(item.SourcePath) {
		logging.WithContext(ctx, r.logger).Debug("conversion already recorded")
		return nil
	}
	if err := r.convert.Convert(ctx, item.SourcePath, item.ArtifactPath); err != nil {
		return err
	}
	if err := r.converted.Record(item.SourcePath); err != nil {
		return services.Wrap(services.ErrTransient, "convert", "record_ledger",
			"failed to record conversion", err)
	}
	return nil
}

func (r *Runner) runSplit(ctx context.Context, item *Item) error {
	if r.splitDone.Contains(item.Base) {
		logging.WithContext(ctx, r.logger).Debug("split already recorded")
		return nil
	}
	if _, err := os.Stat(item.ArtifactPath); os.IsNotExist(err) {
		// Chunks were produced but the process died before the ledger
		// append. The chunks are either staged or already distributed, so
		// mark the base and move on.
		logging.WithContext(ctx, r.logger).Warn("artifact missing, assuming prior split")
		return r.recordSplit(item)
	}
	chunks, err := r.split.Split(ctx, item.ArtifactPath)
	if err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.SetChunkCounts(ctx, item.SourcePath, len(chunks), 0); err != nil {
			logging.WithContext(ctx, r.logger).Warn("catalog chunk count update failed", logging.Error(err))
		}
	}
	return r.recordSplit(item)
}

func (r *Runner) recordSplit(item *Item) error {
	if err := r.splitDone.Record(item.Base); err != nil {
		return services.Wrap(services.ErrTransient, "split", "record_ledger",
			"failed to record split", err)
	}
	return nil
}

func (r *Runner) runDistribute(ctx context.Context, item *Item) error {
	moved, err := r.distribute.Distribute(ctx, item.Base)
	if err != nil {
		return err
	}
	if moved > 0 {
		logging.WithContext(ctx, r.logger).Info("chunks distributed", logging.Int("moved", moved))
	}
	return nil
}

func (r *Runner) runUpload(ctx context.Context, item *Item) error {
	return r.upload.UploadBase(ctx, item.Base)
}

func (r *Runner) runCleanup(ctx context.Context, item *Item) error {
	err := os.Remove(item.SourcePath)
	if err != nil && !os.IsNotExist(err) {
		return services.Wrap(services.ErrTransient, "cleanup", "remove_source",
			"failed to remove source file", err)
	}
	if r.store != nil {
		if rec, getErr := r.store.GetBySource(ctx, item.SourcePath); getErr == nil && rec != nil {
			if setErr := r.store.SetChunkCounts(ctx, item.SourcePath, rec.ChunksTotal, rec.ChunksTotal); setErr != nil {
				logging.WithContext(ctx, r.logger).Warn("catalog chunk count update failed", logging.Error(setErr))
			}
		}
	}
	return nil
}
