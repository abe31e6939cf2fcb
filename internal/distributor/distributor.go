// Package distributor assigns staged chunks to upload lanes and physically
// moves them there.
//
// Assignment uses the contiguous-split policy: the sorted chunk list is
// divided into one contiguous run per lane, run sizes differing by at most
// one. The policy is a pure function of the sorted list, so a restart
// reproduces the same assignment for any chunks that did not move before the
// crash. A chunk's ledger entry is written only after its move succeeds;
// ownership transfers by rename, never by copy.
package distributor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"capflow/internal/config"
	"capflow/internal/fileutil"
	"capflow/internal/ledger"
	"capflow/internal/logging"
	"capflow/internal/services"
	"capflow/internal/splitter"
)

// LedgerName is the distribution ledger filename inside the staging directory.
const LedgerName = "distributed.log"

// Assign divides the chunk list into lanes contiguous runs whose sizes differ
// by at most one; the first len(chunks) % lanes runs get the extra chunk.
// Callers pass the list pre-sorted.
func Assign(chunks []string, lanes int) [][]string {
	batches := make([][]string, lanes)
	if lanes == 0 {
		return batches
	}
	baseCount := len(chunks) / lanes
	extras := len(chunks) % lanes
	idx := 0
	for i := 0; i < lanes; i++ {
		count := baseCount
		if i < extras {
			count++
		}
		batches[i] = chunks[idx : idx+count]
		idx += count
	}
	return batches
}

// Distributor moves staged chunks into lane directories.
type Distributor struct {
	stagingDir string
	laneDirs   []string
	led        *ledger.Ledger
	logger     *slog.Logger
}

// New opens the distribution ledger and builds a Distributor.
func New(cfg *config.Config, logger *slog.Logger) (*Distributor, error) {
	led, err := ledger.Open(filepath.Join(cfg.Paths.StagingDir, LedgerName))
	if err != nil {
		return nil, err
	}
	return &Distributor{
		stagingDir: cfg.Paths.StagingDir,
		laneDirs:   append([]string(nil), cfg.Paths.LaneDirs...),
		led:        led,
		logger:     logging.NewComponentLogger(logger, "distributor"),
	}, nil
}

// Close releases the distribution ledger.
func (d *Distributor) Close() error {
	return d.led.Close()
}

// Distribute moves every undistributed staged chunk for base into its
// assigned lane. It returns the number of chunks moved. The first move
// failure aborts the stage; unmoved chunks stay in staging for the next run.
func (d *Distributor) Distribute(ctx context.Context, base string) (int, error) {
	staged, err := splitter.ListChunks(d.stagingDir, base)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "distribute", "list staging", d.stagingDir, err)
	}

	undistributed := staged[:0]
	for _, name := range staged {
		if !d.led.Contains(name) {
			undistributed = append(undistributed, name)
		}
	}
	if len(undistributed) == 0 {
		return 0, nil
	}

	moved := 0
	batches := Assign(undistributed, len(d.laneDirs))
	for laneIdx, batch := range batches {
		laneDir := d.laneDirs[laneIdx]
		for _, name := range batch {
			if err := ctx.Err(); err != nil {
				return moved, err
			}
			src := filepath.Join(d.stagingDir, name)
			dst := filepath.Join(laneDir, name)

			if fileutil.Exists(dst) {
				// Stale leftover from a crash between move and ledger append.
				d.logger.Warn("destination already exists; replacing",
					logging.String("chunk", name),
					logging.String(logging.FieldLane, laneDir),
					logging.String(logging.FieldEventType, "stale_destination"),
				)
				if err := os.Remove(dst); err != nil {
					return moved, services.Wrap(services.ErrTransient, "distribute", "remove stale destination", dst, err)
				}
			}

			if err := fileutil.MoveFile(src, dst); err != nil {
				return moved, services.Wrap(services.ErrTransient, "distribute", "move chunk", name, err)
			}
			if err := d.led.Record(name); err != nil {
				return moved, services.Wrap(services.ErrTransient, "distribute", "record chunk", name, err)
			}
			moved++
			d.logger.Debug("chunk distributed",
				logging.String("chunk", name),
				logging.String(logging.FieldLane, laneDir),
			)
		}
	}

	d.logger.Info("chunks distributed",
		logging.String(logging.FieldBase, base),
		logging.Int("moved", moved),
		logging.Int("lanes", len(d.laneDirs)),
	)
	return moved, nil
}

// Distributed reports whether the named chunk has been recorded as moved.
func (d *Distributor) Distributed(name string) bool {
	return d.led.Contains(name)
}
