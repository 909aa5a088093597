package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BadgerOps/packsync/internal/digest"
	"github.com/BadgerOps/packsync/internal/safety"
)

// ChunkSize is the streaming buffer used when writing a response body.
const ChunkSize = 1 << 20

// ErrChecksumMismatch is returned when the downloaded bytes do not hash to
// the expected SHA-1. The partial file has already been removed.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ProgressFunc is called periodically to report download progress.
// bytesDownloaded is the number of bytes downloaded so far,
// totalBytes is the total size of the download (or 0 if unknown).
type ProgressFunc func(bytesDownloaded, totalBytes int64)

// DownloadOptions contains configuration for a single download.
type DownloadOptions struct {
	URL          string
	DestPath     string
	ExpectedSHA1 string // hex digest; empty accepts any content
	ExpectedSize int64  // advisory; a difference is logged, never fatal
	SkipVerify   bool   // accept the first transported body without hashing checks
	RetryCount   int    // 0 defaults to 3
	Headers      map[string]string
	OnProgress   ProgressFunc
}

// DownloadResult contains the result of a successful download.
type DownloadResult struct {
	Path     string
	URL      string
	Size     int64
	Sum      digest.Sum
	Attempts int
	Duration time.Duration
}

// Client performs HTTP downloads with retry logic and digest validation.
type Client struct {
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	backoffFunc func(attempt int) time.Duration
}

// DefaultUserAgent identifies download requests unless SetUserAgent
// overrides it.
const DefaultUserAgent = "packsync/1.0"

// NewClient creates a new download client with the given logger.
func NewClient(logger *slog.Logger) *Client {
	const userAgent = DefaultUserAgent
	return &Client{
		// No overall timeout: body reads can take as long as needed and
		// context cancellation still applies.
		httpClient:  safety.NewHTTPClient(0, userAgent),
		logger:      logger,
		userAgent:   userAgent,
		backoffFunc: calculateBackoffDelay,
	}
}

// SetUserAgent sets the User-Agent sent with every request. An empty value
// is ignored.
func (c *Client) SetUserAgent(ua string) {
	if ua != "" {
		c.userAgent = ua
	}
}

// Download fetches opts.URL into opts.DestPath. The body is streamed to a
// uniquely named ".part" temp file beside DestPath while being hashed and
// renamed into place only after verification passes, so DestPath never
// holds unverified bytes.
func (c *Client) Download(ctx context.Context, opts DownloadOptions) (*DownloadResult, error) {
	if opts.RetryCount == 0 {
		opts.RetryCount = 3
	}
	if _, err := safety.ValidateHTTPURL(opts.URL); err != nil {
		return nil, err
	}

	startTime := time.Now()
	var lastErr error

	for attempt := 1; attempt <= opts.RetryCount; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("download cancelled: %w", ctx.Err())
		default:
		}

		result, err := c.downloadAttempt(ctx, opts)
		if err == nil {
			result.Attempts = attempt
			result.Duration = time.Since(startTime)
			return result, nil
		}

		lastErr = err
		c.logger.Warn("download attempt failed", "url", opts.URL, "attempt", attempt, "error", err)

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		if shouldNotRetry(err) {
			return nil, err
		}

		if attempt < opts.RetryCount {
			delay := c.backoffFunc(attempt)
			c.logger.Debug("retrying download", "url", opts.URL, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("download cancelled during retry: %w", ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("download failed after %d attempts: %w", opts.RetryCount, lastErr)
}

// downloadAttempt performs a single download attempt.
func (c *Client) downloadAttempt(ctx context.Context, opts DownloadOptions) (*DownloadResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(body),
		}
	}

	if dir := filepath.Dir(opts.DestPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	file, err := os.CreateTemp(filepath.Dir(opts.DestPath), ".packsync-*.part")
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	partPath := file.Name()

	totalSize := resp.ContentLength
	if totalSize < 0 {
		totalSize = opts.ExpectedSize
	}

	var reader io.Reader = resp.Body
	if opts.OnProgress != nil {
		reader = &progressReader{
			reader:   resp.Body,
			callback: opts.OnProgress,
			total:    totalSize,
		}
	}

	hasher := digest.NewHasher()
	buf := make([]byte, ChunkSize)
	written, err := io.CopyBuffer(io.MultiWriter(file, hasher), reader, buf)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(partPath)
		return nil, fmt.Errorf("failed to write to file: %w", err)
	}

	sum := hasher.Sum()
	if !opts.SkipVerify && opts.ExpectedSHA1 != "" && !strings.EqualFold(sum.SHA1, opts.ExpectedSHA1) {
		_ = os.Remove(partPath)
		return nil, fmt.Errorf("%w: got %s, expected %s", ErrChecksumMismatch, sum.SHA1, opts.ExpectedSHA1)
	}
	if opts.ExpectedSize > 0 && written != opts.ExpectedSize {
		c.logger.Warn("size differs from manifest, accepting file",
			"path", opts.DestPath, "got_size", written, "expected_size", opts.ExpectedSize)
	}

	if err := os.Chmod(partPath, 0644); err != nil {
		_ = os.Remove(partPath)
		return nil, fmt.Errorf("failed to set file mode: %w", err)
	}
	if err := os.Rename(partPath, opts.DestPath); err != nil {
		_ = os.Remove(partPath)
		return nil, fmt.Errorf("failed to move download into place: %w", err)
	}

	return &DownloadResult{
		Path: opts.DestPath,
		URL:  opts.URL,
		Size: written,
		Sum:  sum,
	}, nil
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}

// shouldNotRetry returns true if the error should not trigger a retry on
// the same URL.
func shouldNotRetry(err error) bool {
	if errors.Is(err, ErrChecksumMismatch) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		// Don't retry on 4xx errors except 429 (Too Many Requests)
		if httpErr.StatusCode >= 400 && httpErr.StatusCode < 500 && httpErr.StatusCode != 429 {
			return true
		}
	}
	return false
}

// HTTPError represents an HTTP error response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.StatusCode, e.Status)
}

// progressReader wraps a reader and calls a progress callback as data is read.
type progressReader struct {
	reader   io.Reader
	callback ProgressFunc
	current  int64
	total    int64
}

func (pr *progressReader) Read(p []byte) (n int, err error) {
	n, err = pr.reader.Read(p)
	if n > 0 {
		pr.current += int64(n)
		if pr.callback != nil {
			pr.callback(pr.current, pr.total)
		}
	}
	return n, err
}
