package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/BadgerOps/packsync/internal/safety"
)

// ErrNoUsableURL is returned for a job whose URL list holds no http(s) URL.
var ErrNoUsableURL = errors.New("no usable download URL")

// Job represents a single file to materialize from one of several mirrors.
type Job struct {
	URLs         []string // tried in order
	DestPath     string
	ExpectedSHA1 string
	ExpectedSize int64
	SkipVerify   bool
}

// Result represents the result of a download job.
type Result struct {
	Job      Job
	Success  bool
	Error    error
	Download *DownloadResult
	Tried    int // mirrors attempted
	index    int // Internal: used to maintain result order
}

// Pool manages concurrent downloads using a worker pool pattern.
type Pool struct {
	client  *Client
	workers int
	retries int
	logger  *slog.Logger

	// OnProgress, when set, receives byte progress for the job at index.
	OnProgress func(index int, bytesDownloaded, totalBytes int64)
	// OnComplete, when set, is called once per finished job. Calls may come
	// from several workers at once.
	OnComplete func(Result)
}

// NewPool creates a new download pool with the specified number of worker goroutines.
func NewPool(client *Client, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		client:  client,
		workers: workers,
		retries: 3,
		logger:  logger,
	}
}

// SetRetries sets the per-URL attempt count. Values below one are ignored.
func (p *Pool) SetRetries(n int) {
	if n > 0 {
		p.retries = n
	}
}

// Execute submits a batch of jobs to the pool and waits for all to complete.
// The returned results maintain the same order as the input jobs.
// If the context is cancelled, all workers stop processing immediately.
func (p *Pool) Execute(ctx context.Context, jobs []Job) []Result {
	if len(jobs) == 0 {
		return []Result{}
	}

	jobsChan := make(chan jobWithIndex, len(jobs))
	resultsChan := make(chan Result, len(jobs))

	var wg sync.WaitGroup

	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go p.worker(ctx, jobsChan, resultsChan, &wg)
	}

	go func() {
		defer close(jobsChan)
		for i, job := range jobs {
			select {
			case jobsChan <- jobWithIndex{job: job, index: i}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	results := make([]Result, 0, len(jobs))
	for result := range resultsChan {
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].index < results[j].index
	})

	return results
}

// jobWithIndex pairs a Job with its original index for ordering results.
type jobWithIndex struct {
	job   Job
	index int
}

// worker processes jobs from the jobs channel and sends results to the results channel.
func (p *Pool) worker(ctx context.Context, jobsChan <-chan jobWithIndex, resultsChan chan<- Result, wg *sync.WaitGroup) {
	defer wg.Done()

	for jobWithIdx := range jobsChan {
		select {
		case <-ctx.Done():
			p.finish(resultsChan, Result{
				Job:   jobWithIdx.job,
				Error: ctx.Err(),
				index: jobWithIdx.index,
			})
			return
		default:
		}

		result := p.fetch(ctx, jobWithIdx)
		name := filepath.Base(jobWithIdx.job.DestPath)
		if result.Success {
			p.logger.Debug("download job completed", "url", result.Download.URL, "dest", name, "size", result.Download.Size)
		} else {
			p.logger.Warn("download job failed", "dest", name, "mirrors", result.Tried, "error", result.Error)
		}
		p.finish(resultsChan, result)
	}
}

func (p *Pool) finish(resultsChan chan<- Result, result Result) {
	if p.OnComplete != nil {
		p.OnComplete(result)
	}
	resultsChan <- result
}

// fetch tries each mirror in order until one yields verified content.
// Non-http(s) entries are skipped without a request.
func (p *Pool) fetch(ctx context.Context, jwi jobWithIndex) Result {
	job := jwi.job
	result := Result{Job: job, index: jwi.index}

	var errs []error
	for _, u := range job.URLs {
		if _, err := safety.ValidateHTTPURL(u); err != nil {
			p.logger.Debug("skipping mirror", "url", u, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", u, err))
			continue
		}

		result.Tried++
		opts := DownloadOptions{
			URL:          u,
			DestPath:     job.DestPath,
			ExpectedSHA1: job.ExpectedSHA1,
			ExpectedSize: job.ExpectedSize,
			SkipVerify:   job.SkipVerify,
			RetryCount:   p.retries,
		}
		if p.OnProgress != nil {
			idx := jwi.index
			opts.OnProgress = func(done, total int64) { p.OnProgress(idx, done, total) }
		}

		dl, err := p.client.Download(ctx, opts)
		if err == nil {
			result.Success = true
			result.Download = dl
			return result
		}
		if ctx.Err() != nil {
			result.Error = ctx.Err()
			return result
		}
		errs = append(errs, fmt.Errorf("%s: %w", u, err))
	}

	if result.Tried == 0 {
		errs = append([]error{ErrNoUsableURL}, errs...)
	}
	result.Error = errors.Join(errs...)
	return result
}
