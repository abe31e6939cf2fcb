// Package splitter cuts a converted record stream into fixed-size,
// deterministically named chunks.
//
// Chunk names are `<base>.chunk_<zero-padded sequence>` so lexicographic
// order equals numeric order; the distributor and tests rely on that. The
// artifact is deleted only after every chunk has been written and synced,
// which keeps a crash mid-split restartable from the artifact.
package splitter

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"capflow/internal/config"
	"capflow/internal/logging"
	"capflow/internal/services"
)

// SeqWidth is the zero-padding width of chunk sequence numbers.
const SeqWidth = 4

// ChunkName returns the canonical chunk filename for base and sequence.
func ChunkName(base string, seq int) string {
	return fmt.Sprintf("%s.chunk_%0*d", base, SeqWidth, seq)
}

// ChunkPrefix returns the filename prefix shared by all of a base's chunks.
func ChunkPrefix(base string) string {
	return base + ".chunk_"
}

// Base returns the source base name for a path: the filename without its
// extension. Chunk files for a base all start with ChunkPrefix(base).
func Base(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Splitter writes fixed-line-count chunks into the staging directory.
type Splitter struct {
	stagingDir string
	chunkLines int
	logger     *slog.Logger
}

// New builds a Splitter from configuration.
func New(cfg *config.Config, logger *slog.Logger) *Splitter {
	return &Splitter{
		stagingDir: cfg.Paths.StagingDir,
		chunkLines: cfg.Pipeline.ChunkLines,
		logger:     logging.NewComponentLogger(logger, "splitter"),
	}
}

// Split partitions the artifact into chunks and deletes it on success. It
// returns the bare chunk filenames in sequence order. An artifact with zero
// records yields zero chunks and still succeeds.
func (s *Splitter) Split(ctx context.Context, artifactPath string) ([]string, error) {
	base := Base(artifactPath)

	in, err := os.Open(artifactPath)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "split", "open artifact", artifactPath, err)
	}
	defer in.Close()

	var (
		chunks  []string
		current *os.File
		lines   int
		seq     int
	)

	cleanup := func() {
		if current != nil {
			_ = current.Close()
		}
		for _, name := range chunks {
			_ = os.Remove(filepath.Join(s.stagingDir, name))
		}
	}

	closeCurrent := func() error {
		if current == nil {
			return nil
		}
		if err := current.Sync(); err != nil {
			_ = current.Close()
			current = nil
			return err
		}
		err := current.Close()
		current = nil
		return err
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			cleanup()
			return nil, err
		}

		if current == nil {
			name := ChunkName(base, seq)
			file, err := os.OpenFile(filepath.Join(s.stagingDir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				cleanup()
				return nil, services.Wrap(services.ErrTransient, "split", "create chunk", name, err)
			}
			current = file
			chunks = append(chunks, name)
			seq++
			lines = 0
		}

		if _, err := current.Write(append(scanner.Bytes(), '\n')); err != nil {
			name := chunks[len(chunks)-1]
			cleanup()
			return nil, services.Wrap(services.ErrTransient, "split", "write chunk", name, err)
		}
		lines++
		if lines == s.chunkLines {
			if err := closeCurrent(); err != nil {
				cleanup()
				return nil, services.Wrap(services.ErrTransient, "split", "close chunk", "", err)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		cleanup()
		return nil, services.Wrap(services.ErrTransient, "split", "scan artifact", artifactPath, err)
	}
	if err := closeCurrent(); err != nil {
		cleanup()
		return nil, services.Wrap(services.ErrTransient, "split", "close chunk", "", err)
	}

	if err := os.Remove(artifactPath); err != nil {
		s.logger.Warn("failed to delete artifact after split",
			logging.String("artifact", artifactPath),
			logging.Error(err),
		)
	}

	s.logger.Info("artifact split",
		logging.String(logging.FieldBase, base),
		logging.Int("chunks", len(chunks)),
	)
	return chunks, nil
}

// StagedChunks lists the chunk filenames currently in staging for base, in
// sequence order.
func (s *Splitter) StagedChunks(base string) ([]string, error) {
	return ListChunks(s.stagingDir, base)
}

// ListChunks lists the chunk filenames for base present in dir, sorted.
func ListChunks(dir, base string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	prefix := ChunkPrefix(base)
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		names = append(names, entry.Name())
	}
	// Zero-padded sequences make the lexicographic sort numeric.
	sort.Strings(names)
	return names, nil
}
