package download

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestNewPool creates pool with given workers
func TestNewPool(t *testing.T) {
	logger := discardLogger()
	client := newTestClient(logger)

	pool := NewPool(client, 5, logger)
	if pool.client != client {
		t.Fatal("expected pool client to match")
	}
	if pool.workers != 5 {
		t.Errorf("expected 5 workers, got %d", pool.workers)
	}
	if pool.retries != 3 {
		t.Errorf("expected 3 retries, got %d", pool.retries)
	}
}

// TestNewPoolDefaultWorkers verifies pool defaults to 1 worker if workers <= 0
func TestNewPoolDefaultWorkers(t *testing.T) {
	logger := discardLogger()
	client := newTestClient(logger)

	if pool := NewPool(client, 0, logger); pool.workers != 1 {
		t.Errorf("expected 1 worker (default), got %d", pool.workers)
	}
	if pool := NewPool(client, -5, logger); pool.workers != 1 {
		t.Errorf("expected 1 worker (default), got %d", pool.workers)
	}
}

// TestPoolExecute downloads several files and keeps result order
func TestPoolExecute(t *testing.T) {
	testFiles := map[string][]byte{
		"file1.jar": []byte("Content of file 1"),
		"file2.jar": []byte("Content of file 2"),
		"file3.jar": []byte("Content of file 3"),
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := testFiles[r.URL.Query().Get("file")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write(content)
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	logger := discardLogger()
	pool := NewPool(newTestClient(logger), 3, logger)

	var jobs []Job
	for _, name := range []string{"file1.jar", "file2.jar", "file3.jar"} {
		jobs = append(jobs, Job{
			URLs:         []string{fmt.Sprintf("%s?file=%s", server.URL, name)},
			DestPath:     filepath.Join(tmpDir, name),
			ExpectedSHA1: sha1Hex(testFiles[name]),
		})
	}

	var completed atomic.Int32
	pool.OnComplete = func(Result) { completed.Add(1) }

	results := pool.Execute(context.Background(), jobs)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, result := range results {
		if !result.Success {
			t.Errorf("result %d failed: %v", i, result.Error)
		}
		if result.Job.DestPath != jobs[i].DestPath {
			t.Errorf("result %d out of order", i)
		}
	}
	if completed.Load() != 3 {
		t.Errorf("expected OnComplete 3 times, got %d", completed.Load())
	}

	for name, want := range testFiles {
		got, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			t.Errorf("failed to read %s: %v", name, err)
			continue
		}
		if string(got) != string(want) {
			t.Errorf("%s content mismatch", name)
		}
	}
}

// TestPoolMirrorFallback tries mirrors in order until one verifies
func TestPoolMirrorFallback(t *testing.T) {
	good := []byte("the genuine mod jar")
	var hits sync.Map

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.URL.Path, new(atomic.Int32))
		n.(*atomic.Int32).Add(1)
		switch r.URL.Path {
		case "/bad1", "/bad2":
			_, _ = w.Write([]byte("tampered content"))
		case "/good":
			_, _ = w.Write(good)
		}
	}))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "mods", "a.jar")
	logger := discardLogger()
	pool := NewPool(newTestClient(logger), 1, logger)

	results := pool.Execute(context.Background(), []Job{{
		URLs:         []string{"ftp://ignored/a.jar", server.URL + "/bad1", server.URL + "/bad2", server.URL + "/good"},
		DestPath:     destPath,
		ExpectedSHA1: sha1Hex(good),
	}})

	r := results[0]
	if !r.Success {
		t.Fatalf("expected success, got %v", r.Error)
	}
	if r.Tried != 3 {
		t.Errorf("expected 3 mirrors tried, got %d", r.Tried)
	}
	if r.Download.URL != server.URL+"/good" {
		t.Errorf("expected good mirror, got %s", r.Download.URL)
	}
	for _, p := range []string{"/bad1", "/bad2"} {
		n, _ := hits.Load(p)
		if n.(*atomic.Int32).Load() != 1 {
			t.Errorf("%s hit %d times, want 1", p, n.(*atomic.Int32).Load())
		}
	}

	got, err := os.ReadFile(destPath)
	if err != nil {
		t.Fatalf("failed to read result: %v", err)
	}
	if string(got) != string(good) {
		t.Errorf("destination holds %q, want verified content", got)
	}
}

// TestPoolAllMirrorsCorrupt leaves no file behind
func TestPoolAllMirrorsCorrupt(t *testing.T) {
	server := serveBytes([]byte("tampered"))
	defer server.Close()

	destPath := filepath.Join(t.TempDir(), "a.jar")
	logger := discardLogger()
	pool := NewPool(newTestClient(logger), 2, logger)

	results := pool.Execute(context.Background(), []Job{{
		URLs:         []string{server.URL + "/1", server.URL + "/2"},
		DestPath:     destPath,
		ExpectedSHA1: sha1Hex([]byte("genuine")),
	}})

	if results[0].Success {
		t.Fatal("expected failure")
	}
	if !errors.Is(results[0].Error, ErrChecksumMismatch) {
		t.Errorf("expected checksum mismatch in error, got %v", results[0].Error)
	}
	if _, err := os.Stat(destPath); !os.IsNotExist(err) {
		t.Error("expected no file at destination")
	}
}

// TestPoolNoUsableURL fails without requests
func TestPoolNoUsableURL(t *testing.T) {
	logger := discardLogger()
	pool := NewPool(newTestClient(logger), 1, logger)

	results := pool.Execute(context.Background(), []Job{
		{URLs: []string{"file:///tmp/x", "not a url"}, DestPath: filepath.Join(t.TempDir(), "x")},
		{DestPath: filepath.Join(t.TempDir(), "y")},
	})
	for i, r := range results {
		if r.Success || !errors.Is(r.Error, ErrNoUsableURL) {
			t.Errorf("result %d: expected ErrNoUsableURL, got %v", i, r.Error)
		}
		if r.Tried != 0 {
			t.Errorf("result %d: expected 0 mirrors tried, got %d", i, r.Tried)
		}
	}
}

// TestPoolConcurrency verifies concurrent downloads actually happen
func TestPoolConcurrency(t *testing.T) {
	var active, maxConcurrent int32
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)

		mu.Lock()
		if current > maxConcurrent {
			maxConcurrent = current
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("download content"))
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	logger := discardLogger()
	pool := NewPool(newTestClient(logger), 4, logger)

	jobs := make([]Job, 10)
	for i := range jobs {
		jobs[i] = Job{
			URLs:     []string{server.URL},
			DestPath: filepath.Join(tmpDir, fmt.Sprintf("file%d.bin", i)),
		}
	}

	results := pool.Execute(context.Background(), jobs)
	if len(results) != 10 {
		t.Errorf("expected 10 results, got %d", len(results))
	}
	if maxConcurrent < 2 {
		t.Errorf("expected max concurrent downloads >= 2, got %d", maxConcurrent)
	}
	if maxConcurrent > 4 {
		t.Errorf("expected max concurrent downloads <= 4 (workers), got %d", maxConcurrent)
	}
}

// TestPoolContextCancellation stops workers when the context ends
func TestPoolContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	logger := discardLogger()
	pool := NewPool(newTestClient(logger), 2, logger)

	jobs := make([]Job, 6)
	for i := range jobs {
		jobs[i] = Job{URLs: []string{server.URL}, DestPath: filepath.Join(tmpDir, fmt.Sprintf("f%d", i))}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	results := pool.Execute(ctx, jobs)
	for _, r := range results {
		if r.Success {
			t.Error("expected no job to succeed after cancellation")
		}
	}
}

// TestPoolEmptyJobs returns an empty slice
func TestPoolEmptyJobs(t *testing.T) {
	logger := discardLogger()
	pool := NewPool(newTestClient(logger), 2, logger)
	if results := pool.Execute(context.Background(), nil); len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

// TestPoolPartSuffixedSiblings downloads a.jar and a.jar.part at the same
// time without the two transfers sharing a temp file
func TestPoolPartSuffixedSiblings(t *testing.T) {
	contents := map[string][]byte{
		"a.jar":      bytes.Repeat([]byte("A"), 256<<10),
		"a.jar.part": bytes.Repeat([]byte("B"), 256<<10),
	}

	var arrived sync.WaitGroup
	arrived.Add(len(contents))
	release := make(chan struct{})
	go func() {
		arrived.Wait()
		close(release)
	}()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := contents[r.URL.Query().Get("file")]
		arrived.Done()
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		for off := 0; off < len(content); off += 32 << 10 {
			_, _ = w.Write(content[off : off+32<<10])
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	tmpDir := t.TempDir()
	logger := discardLogger()
	pool := NewPool(newTestClient(logger), 2, logger)

	var jobs []Job
	for _, name := range []string{"a.jar", "a.jar.part"} {
		jobs = append(jobs, Job{
			URLs:         []string{fmt.Sprintf("%s?file=%s", server.URL, name)},
			DestPath:     filepath.Join(tmpDir, name),
			ExpectedSHA1: sha1Hex(contents[name]),
		})
	}

	for i, result := range pool.Execute(context.Background(), jobs) {
		if !result.Success {
			t.Fatalf("job %d failed: %v", i, result.Error)
		}
	}
	for name, want := range contents {
		got, err := os.ReadFile(filepath.Join(tmpDir, name))
		if err != nil {
			t.Fatalf("failed to read %s: %v", name, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s content mismatch", name)
		}
	}
	assertOnlyEntries(t, tmpDir, "a.jar", "a.jar.part")
}
