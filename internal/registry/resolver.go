// Package registry resolves local files to canonical download locations by
// querying a content registry with the file's SHA-1 digest.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BadgerOps/packsync/internal/digest"
	"github.com/BadgerOps/packsync/internal/safety"
)

// DefaultBaseURL is the public Modrinth v2 API.
const DefaultBaseURL = "https://api.modrinth.com/v2"

// Outcome classifies a resolution.
type Outcome int

const (
	// NotFound means the registry has no file with this digest and name.
	NotFound Outcome = iota
	// Found means a canonical download location was selected.
	Found
	// Unavailable means the registry could not be asked (network failure,
	// unexpected status, unreadable body). Callers treat it like NotFound.
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Query identifies the local file being resolved.
type Query struct {
	SHA1     string
	Filename string
}

// Match is the registry's canonical description of a file.
type Match struct {
	URLs     []string
	SHA1     string
	SHA512   string
	Filename string
	Size     int64
}

// Resolution is the result of Resolve. Match is set only when Outcome is Found.
type Resolution struct {
	Outcome Outcome
	Match   *Match
	Reason  string
}

// Options configures a Resolver.
type Options struct {
	BaseURL         string
	HTTPClient      *http.Client
	RetryAttempts   int   // 0 defaults to 3
	MaxResponseSize int64 // 0 defaults to 4 MiB
	MemoryCacheSize int   // 0 defaults to 4096 entries
	CacheTTL        time.Duration
	Cache           Cache // optional persistent cache
}

// Resolver queries the registry's version_file endpoint.
type Resolver struct {
	baseURL     string
	httpClient  *http.Client
	retries     int
	maxBody     int64
	ttl         time.Duration
	memory      *lru.Cache[string, Resolution]
	cache       Cache
	logger      *slog.Logger
	backoffFunc func(attempt int) time.Duration
}

// NewResolver creates a Resolver.
func NewResolver(opts Options, logger *slog.Logger) (*Resolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if _, err := safety.ValidateHTTPURL(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("registry base URL: %w", err)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = safety.NewHTTPClient(30*time.Second, "packsync/1.0")
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.MaxResponseSize <= 0 {
		opts.MaxResponseSize = 4 << 20
	}
	if opts.MemoryCacheSize <= 0 {
		opts.MemoryCacheSize = 4096
	}

	memory, err := lru.New[string, Resolution](opts.MemoryCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating resolution cache: %w", err)
	}

	return &Resolver{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		httpClient:  opts.HTTPClient,
		retries:     opts.RetryAttempts,
		maxBody:     opts.MaxResponseSize,
		ttl:         opts.CacheTTL,
		memory:      memory,
		cache:       opts.Cache,
		logger:      logger,
		backoffFunc: calculateBackoffDelay,
	}, nil
}

// Resolve looks up q in the registry. A missing file is a normal NotFound
// outcome, never an error; the error is non-nil only if ctx ends.
func (r *Resolver) Resolve(ctx context.Context, q Query) (Resolution, error) {
	if !digest.ValidSHA1(q.SHA1) {
		return Resolution{Outcome: NotFound, Reason: "invalid sha1 digest"}, nil
	}

	key := q.SHA1 + "\x00" + q.Filename
	if res, ok := r.memory.Get(key); ok {
		return res, nil
	}
	if r.cache != nil {
		res, ok, err := r.cache.Lookup(q, r.ttl)
		if err != nil {
			r.logger.Warn("resolution cache lookup failed", "sha1", q.SHA1, "error", err)
		} else if ok {
			r.memory.Add(key, res)
			return res, nil
		}
	}

	res, err := r.query(ctx, q)
	if err != nil {
		return Resolution{}, err
	}

	switch res.Outcome {
	case Found:
		r.logger.Debug("registry match", "file", q.Filename, "sha1", q.SHA1, "url", res.Match.URLs[0])
	case NotFound:
		r.logger.Debug("registry miss", "file", q.Filename, "sha1", q.SHA1, "reason", res.Reason)
	case Unavailable:
		r.logger.Warn("registry unavailable", "file", q.Filename, "sha1", q.SHA1, "reason", res.Reason)
		return res, nil
	}

	r.memory.Add(key, res)
	if r.cache != nil {
		if err := r.cache.Store(q, res); err != nil {
			r.logger.Warn("failed to persist resolution", "sha1", q.SHA1, "error", err)
		}
	}
	return res, nil
}

// query performs the HTTP lookup with retries on transient failures.
func (r *Resolver) query(ctx context.Context, q Query) (Resolution, error) {
	var lastReason string

	for attempt := 1; attempt <= r.retries; attempt++ {
		version, err := r.fetch(ctx, q.SHA1)
		if err == nil {
			return selectFile(version, q), nil
		}
		if ctx.Err() != nil {
			return Resolution{}, fmt.Errorf("resolve cancelled: %w", ctx.Err())
		}

		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return Resolution{Outcome: NotFound, Reason: "not in registry"}, nil
		}

		lastReason = err.Error()
		if !retryable(err) {
			break
		}
		if attempt < r.retries {
			delay := r.backoffFunc(attempt)
			r.logger.Debug("retrying registry query", "sha1", q.SHA1, "attempt", attempt, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return Resolution{}, fmt.Errorf("resolve cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return Resolution{Outcome: Unavailable, Reason: lastReason}, nil
}

func (r *Resolver) fetch(ctx context.Context, sha1 string) (*versionResponse, error) {
	endpoint := fmt.Sprintf("%s/version_file/%s?algorithm=sha1", r.baseURL, url.PathEscape(sha1))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, &networkError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, status: resp.Status}
	}

	body, err := safety.ReadAllWithLimit(resp.Body, r.maxBody)
	if err != nil {
		return nil, fmt.Errorf("reading registry response: %w", err)
	}

	var version versionResponse
	if err := json.Unmarshal(body, &version); err != nil {
		return nil, fmt.Errorf("decoding registry response: %w", err)
	}
	return &version, nil
}

// selectFile applies the filename policy: only a candidate whose reported
// filename equals the local filename is accepted. Among several, one whose
// SHA-1 equals the queried digest wins.
func selectFile(version *versionResponse, q Query) Resolution {
	var chosen *versionFile
	for i := range version.Files {
		f := &version.Files[i]
		if q.Filename != "" && f.Filename != q.Filename {
			continue
		}
		if q.Filename == "" && !strings.EqualFold(f.Hashes["sha1"], q.SHA1) {
			continue
		}
		if chosen == nil || (strings.EqualFold(f.Hashes["sha1"], q.SHA1) && !strings.EqualFold(chosen.Hashes["sha1"], q.SHA1)) {
			chosen = f
		}
	}
	if chosen == nil {
		return Resolution{Outcome: NotFound, Reason: "no registry file with a matching filename"}
	}

	sha1 := strings.ToLower(chosen.Hashes["sha1"])
	sha512 := strings.ToLower(chosen.Hashes["sha512"])
	if !digest.ValidSHA1(sha1) || !digest.ValidSHA512(sha512) {
		return Resolution{Outcome: NotFound, Reason: "registry file is missing canonical hashes"}
	}
	if _, err := safety.ValidateHTTPURL(chosen.URL); err != nil {
		return Resolution{Outcome: NotFound, Reason: "registry file has unusable URL: " + err.Error()}
	}

	return Resolution{
		Outcome: Found,
		Match: &Match{
			URLs:     []string{chosen.URL},
			SHA1:     sha1,
			SHA512:   sha512,
			Filename: chosen.Filename,
			Size:     chosen.Size,
		},
	}
}

type versionResponse struct {
	ID            string        `json:"id"`
	ProjectID     string        `json:"project_id"`
	VersionNumber string        `json:"version_number"`
	Files         []versionFile `json:"files"`
}

type versionFile struct {
	URL      string            `json:"url"`
	Filename string            `json:"filename"`
	Hashes   map[string]string `json:"hashes"`
	Size     int64             `json:"size"`
	Primary  bool              `json:"primary"`
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("registry returned %s", e.status)
}

type networkError struct {
	err error
}

func (e *networkError) Error() string {
	return fmt.Sprintf("registry request failed: %v", e.err)
}

func (e *networkError) Unwrap() error {
	return e.err
}

// retryable reports whether a failed query is worth repeating.
func retryable(err error) bool {
	var ne *networkError
	if errors.As(err, &ne) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return false
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 500ms, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := 500 * time.Millisecond
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}
