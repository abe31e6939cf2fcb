// Package ledger implements the durable idempotent set every pipeline stage
// records its completed work in.
//
// A ledger is a newline-delimited append-only file plus an in-memory set
// rebuilt by reading the whole file at open. Entries are never removed or
// rewritten; a restart reloads the identical set and already-done work is
// skipped without inspecting file contents. One implementation backs all four
// uses: processed sources, split bases, distributed chunks, and per-lane
// uploaded chunks.
//
// A ledger is safe for concurrent use within one process. Sharing the backing
// file across processes is not supported; the daemon's flock guards against
// that deployment mistake.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Ledger is an append-only durable set of string keys.
type Ledger struct {
	mu   sync.Mutex
	path string
	file *os.File
	keys map[string]struct{}
}

// Open loads the ledger at path, creating it (and its parent directory) when
// absent. The entire file is read into memory before Open returns.
func Open(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	keys := make(map[string]struct{})
	if err := loadKeys(path, keys); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	return &Ledger{path: path, file: file, keys: keys}, nil
}

func loadKeys(path string, keys map[string]struct{}) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read ledger %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		key := strings.TrimSpace(scanner.Text())
		if key == "" {
			continue
		}
		keys[key] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan ledger %s: %w", path, err)
	}
	return nil
}

// Contains reports whether key has been recorded.
func (l *Ledger) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.keys[key]
	return ok
}

// Record appends key to the ledger and syncs the write. Recording a key that
// is already present is a no-op; the set is monotonic.
func (l *Ledger) Record(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("ledger key must not be empty")
	}
	if strings.ContainsRune(key, '\n') {
		return fmt.Errorf("ledger key %q contains a newline", key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.keys[key]; ok {
		return nil
	}
	if l.file == nil {
		return fmt.Errorf("ledger %s is closed", l.path)
	}
	if _, err := l.file.WriteString(key + "\n"); err != nil {
		return fmt.Errorf("append ledger %s: %w", l.path, err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger %s: %w", l.path, err)
	}
	l.keys[key] = struct{}{}
	return nil
}

// Len returns the number of recorded keys.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// Path returns the backing file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close releases the backing file. Contains keeps answering from memory.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
