package registry

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BadgerOps/packsync/internal/store"
)

const (
	testSHA1   = "0123456789abcdef0123456789abcdef01234567"
	testSHA512 = "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestResolver(t *testing.T, baseURL string, cache Cache) *Resolver {
	t.Helper()
	r, err := NewResolver(Options{BaseURL: baseURL, Cache: cache}, testLogger())
	if err != nil {
		t.Fatalf("NewResolver() error = %v", err)
	}
	r.backoffFunc = func(int) time.Duration { return 0 }
	return r
}

func versionJSON(t *testing.T, files ...versionFile) []byte {
	t.Helper()
	data, err := json.Marshal(versionResponse{ID: "abc", Files: files})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestResolveFound(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write(versionJSON(t,
			versionFile{URL: "https://cdn.example/other.jar", Filename: "other.jar", Hashes: map[string]string{"sha1": testSHA1, "sha512": testSHA512}},
			versionFile{URL: "https://cdn.example/sodium.jar", Filename: "sodium.jar", Hashes: map[string]string{"sha1": strings.ToUpper(testSHA1), "sha512": testSHA512}, Size: 1234},
		))
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), Query{SHA1: testSHA1, Filename: "sodium.jar"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != Found {
		t.Fatalf("Outcome = %v (%s), want found", res.Outcome, res.Reason)
	}
	if gotPath != "/version_file/"+testSHA1 || gotQuery != "algorithm=sha1" {
		t.Errorf("request = %s?%s", gotPath, gotQuery)
	}
	if res.Match.URLs[0] != "https://cdn.example/sodium.jar" {
		t.Errorf("URL = %q", res.Match.URLs[0])
	}
	if res.Match.SHA1 != testSHA1 {
		t.Errorf("SHA1 = %q, want lowercase digest", res.Match.SHA1)
	}
	if res.Match.Size != 1234 {
		t.Errorf("Size = %d, want 1234", res.Match.Size)
	}
}

func TestResolveFilenameMismatchIsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(versionJSON(t, versionFile{
			URL:      "https://cdn.example/sodium-0.5.jar",
			Filename: "sodium-0.5.jar",
			Hashes:   map[string]string{"sha1": testSHA1, "sha512": testSHA512},
		}))
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), Query{SHA1: testSHA1, Filename: "renamed.jar"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != NotFound {
		t.Errorf("Outcome = %v, want not_found", res.Outcome)
	}
}

func TestResolveRejectsMissingHashesAndBadURL(t *testing.T) {
	tests := []struct {
		name string
		file versionFile
	}{
		{"no sha512", versionFile{URL: "https://cdn.example/a.jar", Filename: "a.jar", Hashes: map[string]string{"sha1": testSHA1}}},
		{"ftp url", versionFile{URL: "ftp://cdn.example/a.jar", Filename: "a.jar", Hashes: map[string]string{"sha1": testSHA1, "sha512": testSHA512}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write(versionJSON(t, tt.file))
			}))
			defer srv.Close()

			r := newTestResolver(t, srv.URL, nil)
			res, err := r.Resolve(context.Background(), Query{SHA1: testSHA1, Filename: "a.jar"})
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if res.Outcome != NotFound {
				t.Errorf("Outcome = %v, want not_found", res.Outcome)
			}
		})
	}
}

func TestResolve404IsNotFoundWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), Query{SHA1: testSHA1, Filename: "a.jar"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != NotFound {
		t.Errorf("Outcome = %v, want not_found", res.Outcome)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestResolveServerErrorIsUnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	q := Query{SHA1: testSHA1, Filename: "a.jar"}
	res, err := r.Resolve(context.Background(), q)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != Unavailable {
		t.Errorf("Outcome = %v, want unavailable", res.Outcome)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}

	// Unavailable outcomes are not cached.
	if _, err := r.Resolve(context.Background(), q); err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}
	if calls.Load() != 6 {
		t.Errorf("calls after second resolve = %d, want 6", calls.Load())
	}
}

func TestResolveRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(versionJSON(t, versionFile{URL: "https://cdn.example/a.jar", Filename: "a.jar", Hashes: map[string]string{"sha1": testSHA1, "sha512": testSHA512}}))
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), Query{SHA1: testSHA1, Filename: "a.jar"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != Found {
		t.Errorf("Outcome = %v, want found", res.Outcome)
	}
}

func TestResolveMalformedBodyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), Query{SHA1: testSHA1, Filename: "a.jar"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != Unavailable {
		t.Errorf("Outcome = %v, want unavailable", res.Outcome)
	}
}

func TestResolveInvalidDigestSkipsNetwork(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	res, err := r.Resolve(context.Background(), Query{SHA1: "xyz", Filename: "a.jar"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if res.Outcome != NotFound || calls.Load() != 0 {
		t.Errorf("Outcome = %v calls = %d, want not_found with no request", res.Outcome, calls.Load())
	}
}

func TestResolveCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Resolve(ctx, Query{SHA1: testSHA1, Filename: "a.jar"}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestResolveMemoryCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := newTestResolver(t, srv.URL, nil)
	q := Query{SHA1: testSHA1, Filename: "a.jar"}
	for i := 0; i < 3; i++ {
		if _, err := r.Resolve(context.Background(), q); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestResolveStoreCacheSurvivesResolvers(t *testing.T) {
	st, err := store.New(":memory:", testLogger())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer st.Close()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(versionJSON(t, versionFile{URL: "https://cdn.example/a.jar", Filename: "a.jar", Hashes: map[string]string{"sha1": testSHA1, "sha512": testSHA512}, Size: 9}))
	}))
	defer srv.Close()

	q := Query{SHA1: testSHA1, Filename: "a.jar"}
	first := newTestResolver(t, srv.URL, NewStoreCache(st))
	if _, err := first.Resolve(context.Background(), q); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	second := newTestResolver(t, srv.URL, NewStoreCache(st))
	res, err := second.Resolve(context.Background(), q)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (second resolver should hit the store)", calls.Load())
	}
	if res.Outcome != Found || res.Match.URLs[0] != "https://cdn.example/a.jar" || res.Match.Size != 9 {
		t.Errorf("cached resolution = %+v", res)
	}
}

func TestOutcomeString(t *testing.T) {
	if Found.String() != "found" || NotFound.String() != "not_found" || Unavailable.String() != "unavailable" {
		t.Error("unexpected outcome names")
	}
}
