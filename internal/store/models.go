package store

import "time"

// Run records one pack or unpack execution.
type Run struct {
	ID           string // uuid
	Direction    string // "pack" or "unpack"
	Source       string // source tree or archive path
	Target       string // archive path or destination directory
	Tracked      int    // records in the manifest (pack) or downloaded (unpack)
	Overridden   int
	Dropped      int
	Failed       int
	TotalSize    int64
	ManifestSHA1 string
	Status       string // "running", "success", "partial", "failed"
	ErrorMessage string
	StartTime    time.Time
	EndTime      time.Time
}

// Resolution caches a registry lookup keyed by local digest and filename.
type Resolution struct {
	SHA1            string
	Filename        string
	Found           bool
	URL             string
	CanonicalSHA1   string
	CanonicalSHA512 string
	Size            int64
	FetchedAt       time.Time
}

// FailedFile records a tracked file that could not be materialized.
type FailedFile struct {
	ID           int64
	RunID        string
	Path         string
	URLs         []string
	ExpectedSHA1 string
	Error        string
	FailedAt     time.Time
}
