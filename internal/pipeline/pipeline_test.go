package pipeline_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"capflow/internal/catalog"
	"capflow/internal/logging"
	"capflow/internal/pipeline"
	"capflow/internal/splitter"
	"capflow/internal/testsupport"
	"capflow/internal/uploader"
)

// recordConverter stands in for the external tool: it writes n newline
// delimited records to the artifact path and counts invocations.
type recordConverter struct {
	records int
	calls   atomic.Int32
	fail    bool
}

func (c *recordConverter) Convert(ctx context.Context, sourcePath, artifactPath string) error {
	c.calls.Add(1)
	if c.fail {
		return fmt.Errorf("simulated conversion failure for %s", sourcePath)
	}
	var sb strings.Builder
	for i := 0; i < c.records; i++ {
		fmt.Fprintf(&sb, `{"record":%d}`+"\n", i)
	}
	return os.WriteFile(artifactPath, []byte(sb.String()), 0o644)
}

type bulkServer struct {
	mu    sync.Mutex
	count int
	deny  bool
}

func (s *bulkServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		deny := s.deny
		if !deny {
			s.count++
		}
		s.mu.Unlock()
		if deny {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (s *bulkServer) uploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *bulkServer) setDeny(deny bool) {
	s.mu.Lock()
	s.deny = deny
	s.mu.Unlock()
}

func TestProcessEndToEnd(t *testing.T) {
	srv := &bulkServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithTargets(ts.URL),
		testsupport.WithChunkLines(1000))
	source := filepath.Join(cfg.Paths.InputDir, "capture-001.pcap")
	testsupport.WriteFile(t, source, 128)

	conv := &recordConverter{records: 2500}
	r, err := pipeline.NewRunner(cfg, logging.NewNop(), conv, nil)
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	defer r.Close()

	if err := r.Process(context.Background(), source); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	if srv.uploads() != 3 {
		t.Fatalf("server saw %d uploads, want 3", srv.uploads())
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatal("source file must be deleted after a full run")
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.WorkDir, "capture-001.ndjson")); !os.IsNotExist(err) {
		t.Fatal("artifact must be deleted after splitting")
	}

	// First three lanes got one chunk each, the last lane none; every chunk
	// was deleted after its acknowledged upload.
	ledgerTotal := 0
	for lane, dir := range cfg.Paths.LaneDirs {
		staged, err := splitter.ListChunks(dir, "capture-001")
		if err != nil {
			t.Fatalf("list lane %d: %v", lane, err)
		}
		if len(staged) != 0 {
			t.Fatalf("lane %d still holds %v", lane, staged)
		}
		data, err := os.ReadFile(filepath.Join(dir, uploader.LedgerName))
		if err != nil {
			t.Fatalf("read lane %d ledger: %v", lane, err)
		}
		entries := strings.Fields(string(data))
		if lane < 3 && len(entries) != 1 {
			t.Fatalf("lane %d ledger has %d entries, want 1", lane, len(entries))
		}
		if lane == 3 && len(entries) != 0 {
			t.Fatalf("lane 3 ledger has %d entries, want 0", len(entries))
		}
		ledgerTotal += len(entries)
	}
	if ledgerTotal != 3 {
		t.Fatalf("lane ledgers total %d entries, want 3", ledgerTotal)
	}
}

func TestProcessUploadFailureKeepsSourceAndResumes(t *testing.T) {
	srv := &bulkServer{}
	srv.setDeny(true)
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithTargets(ts.URL),
		testsupport.WithChunkLines(10))
	source := filepath.Join(cfg.Paths.InputDir, "capture-002.pcap")
	testsupport.WriteFile(t, source, 64)

	conv := &recordConverter{records: 25}
	r, err := pipeline.NewRunner(cfg, logging.NewNop(), conv, nil)
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	defer r.Close()

	if err := r.Process(context.Background(), source); err == nil {
		t.Fatal("expected error while the target rejects uploads")
	}
	if _, err := os.Stat(source); err != nil {
		t.Fatalf("source must survive an upload failure: %v", err)
	}

	// The target recovers; the retry must not convert or split again.
	srv.setDeny(false)
	if err := r.Process(context.Background(), source); err != nil {
		t.Fatalf("retry returned error: %v", err)
	}
	if got := conv.calls.Load(); got != 1 {
		t.Fatalf("converter ran %d times, want 1", got)
	}
	if srv.uploads() != 3 {
		t.Fatalf("server saw %d uploads, want 3", srv.uploads())
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatal("source must be deleted once the retry succeeds")
	}
}

func TestProcessResumesAcrossRestart(t *testing.T) {
	srv := &bulkServer{}
	srv.setDeny(true)
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithTargets(ts.URL),
		testsupport.WithChunkLines(10))
	source := filepath.Join(cfg.Paths.InputDir, "capture-003.pcap")
	testsupport.WriteFile(t, source, 64)

	conv := &recordConverter{records: 30}
	first, err := pipeline.NewRunner(cfg, logging.NewNop(), conv, nil)
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	if err := first.Process(context.Background(), source); err == nil {
		t.Fatal("expected upload failure on first run")
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	srv.setDeny(false)
	second, err := pipeline.NewRunner(cfg, logging.NewNop(), conv, nil)
	if err != nil {
		t.Fatalf("second NewRunner returned error: %v", err)
	}
	defer second.Close()
	if err := second.Process(context.Background(), source); err != nil {
		t.Fatalf("resumed Process returned error: %v", err)
	}
	if got := conv.calls.Load(); got != 1 {
		t.Fatalf("converter ran %d times across restart, want 1", got)
	}
	if srv.uploads() != 3 {
		t.Fatalf("server saw %d uploads, want 3", srv.uploads())
	}
}

func TestProcessZeroRecordArtifactCompletes(t *testing.T) {
	srv := &bulkServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	cfg := testsupport.NewConfig(t, testsupport.WithTargets(ts.URL))
	source := filepath.Join(cfg.Paths.InputDir, "empty.pcap")
	testsupport.WriteFile(t, source, 16)

	r, err := pipeline.NewRunner(cfg, logging.NewNop(), &recordConverter{records: 0}, nil)
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	defer r.Close()

	if err := r.Process(context.Background(), source); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if srv.uploads() != 0 {
		t.Fatalf("server saw %d uploads, want 0", srv.uploads())
	}
	if _, err := os.Stat(source); !os.IsNotExist(err) {
		t.Fatal("empty capture must still complete and be removed")
	}
}

func TestProcessConversionFailureRecordsCatalog(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTargets("http://127.0.0.1:1"))
	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer store.Close()

	source := filepath.Join(cfg.Paths.InputDir, "broken.pcap")
	testsupport.WriteFile(t, source, 16)

	r, err := pipeline.NewRunner(cfg, logging.NewNop(), &recordConverter{fail: true}, store)
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	defer r.Close()

	if err := r.Process(context.Background(), source); err == nil {
		t.Fatal("expected conversion failure")
	}
	if _, err := os.Stat(source); err != nil {
		t.Fatalf("source must survive a conversion failure: %v", err)
	}

	item, err := store.GetBySource(context.Background(), source)
	if err != nil {
		t.Fatalf("GetBySource returned error: %v", err)
	}
	if item.Status != catalog.StatusFailed {
		t.Fatalf("catalog status %q, want failed", item.Status)
	}
	if item.ErrorMessage == "" {
		t.Fatal("catalog row must carry the failure message")
	}
}

func TestProcessCompletedRunMarksCatalog(t *testing.T) {
	srv := &bulkServer{}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	cfg := testsupport.NewConfig(t,
		testsupport.WithTargets(ts.URL),
		testsupport.WithChunkLines(10))
	store, err := catalog.Open(cfg.Catalog.Path)
	if err != nil {
		t.Fatalf("open catalog: %v", err)
	}
	defer store.Close()

	source := filepath.Join(cfg.Paths.InputDir, "capture-004.pcap")
	testsupport.WriteFile(t, source, 32)

	r, err := pipeline.NewRunner(cfg, logging.NewNop(), &recordConverter{records: 25}, store)
	if err != nil {
		t.Fatalf("NewRunner returned error: %v", err)
	}
	defer r.Close()

	if err := r.Process(context.Background(), source); err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	item, err := store.GetBySource(context.Background(), source)
	if err != nil {
		t.Fatalf("GetBySource returned error: %v", err)
	}
	if item.Status != catalog.StatusCompleted {
		t.Fatalf("catalog status %q, want completed", item.Status)
	}
	if item.ChunksTotal != 3 || item.ChunksUploaded != 3 {
		t.Fatalf("catalog counts %d/%d, want 3/3", item.ChunksUploaded, item.ChunksTotal)
	}
	if item.CompletedAt == nil {
		t.Fatal("completed run must carry a completion timestamp")
	}
}

func TestBaseName(t *testing.T) {
	for path, want := range map[string]string{
		"/input/capture-001.pcap": "capture-001",
		"plain.pcapng":            "plain",
		"noext":                   "noext",
		"/a/b/two.dots.pcap":      "two.dots",
	} {
		if got := pipeline.BaseName(path); got != want {
			t.Fatalf("BaseName(%q) = %q, want %q", path, got, want)
		}
	}
}
