package engine

import (
	"sort"
	"sync"
	"time"
)

// Phase is the current stage of a pack or unpack run.
type Phase string

const (
	PhaseScanning    Phase = "scanning"
	PhaseResolving   Phase = "resolving"
	PhaseDeciding    Phase = "deciding"
	PhaseArchiving   Phase = "archiving"
	PhaseExtracting  Phase = "extracting"
	PhaseMerging     Phase = "merging"
	PhaseDownloading Phase = "downloading"
	PhaseComplete    Phase = "complete"
	PhaseFailed      Phase = "failed"
	PhaseCancelled   Phase = "cancelled"
)

// FileEvent records a finished file for the recent activity log.
type FileEvent struct {
	Path   string `json:"path"`
	Status string `json:"status"` // "tracked", "overridden", "dropped", "downloaded", "failed"
	Error  string `json:"error,omitempty"`
	Size   int64  `json:"size,omitempty"`
}

// Progress is a snapshot of a run, safe for JSON serialization.
type Progress struct {
	Operation      string         `json:"operation"`
	Phase          Phase          `json:"phase"`
	TotalFiles     int            `json:"total_files"`
	DoneFiles      int            `json:"done_files"`
	FailedFiles    int            `json:"failed_files"`
	TotalBytes     int64          `json:"total_bytes"`
	Bytes          int64          `json:"bytes"`
	Percent        float64        `json:"percent"`
	CurrentFiles   []FileProgress `json:"current_files,omitempty"`
	RecentEvents   []FileEvent    `json:"recent_events,omitempty"`
	BytesPerSecond int64          `json:"bytes_per_second"`
	ETA            string         `json:"eta,omitempty"`
	StartTime      time.Time      `json:"start_time"`
	Elapsed        string         `json:"elapsed"`
	Message        string         `json:"message,omitempty"`
}

// FileProgress tracks an in-flight transfer.
type FileProgress struct {
	Path       string `json:"path"`
	Bytes      int64  `json:"bytes"`
	TotalBytes int64  `json:"total_bytes"`
	Done       bool   `json:"done"`
	Failed     bool   `json:"failed"`
}

// Tracker accumulates progress from concurrent workers. Consumers call
// Wait to block until the next update.
type Tracker struct {
	mu sync.Mutex

	operation   string
	phase       Phase
	totalFiles  int
	doneFiles   int
	failedFiles int
	totalBytes  int64
	bytes       int64
	startTime   time.Time
	message     string

	files        map[string]*FileProgress
	recentEvents []FileEvent

	// Closed and replaced on every update.
	notify chan struct{}

	lastFileUpdate map[string]time.Time
}

// NewTracker creates a tracker for operation ("pack" or "unpack").
func NewTracker(operation string) *Tracker {
	return &Tracker{
		operation:      operation,
		phase:          PhaseScanning,
		startTime:      time.Now(),
		files:          make(map[string]*FileProgress),
		notify:         make(chan struct{}),
		lastFileUpdate: make(map[string]time.Time),
	}
}

// Snapshot returns a copy of the current progress state.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	var pct float64
	if t.totalFiles > 0 {
		pct = float64(t.doneFiles+t.failedFiles) / float64(t.totalFiles) * 100
	}

	currentFiles := make([]FileProgress, 0, len(t.files))
	for _, fp := range t.files {
		if !fp.Done && !fp.Failed {
			currentFiles = append(currentFiles, *fp)
		}
	}
	sort.Slice(currentFiles, func(i, j int) bool {
		return currentFiles[i].Path < currentFiles[j].Path
	})

	recentEvents := make([]FileEvent, len(t.recentEvents))
	copy(recentEvents, t.recentEvents)

	elapsed := time.Since(t.startTime)
	var bytesPerSecond int64
	var eta string
	if elapsed > time.Second && t.bytes > 0 {
		bytesPerSecond = int64(float64(t.bytes) / elapsed.Seconds())
		if bytesPerSecond > 0 && t.totalBytes > t.bytes {
			remaining := t.totalBytes - t.bytes
			etaDuration := time.Duration(float64(remaining) / float64(bytesPerSecond) * float64(time.Second))
			eta = etaDuration.Truncate(time.Second).String()
		}
	}

	return Progress{
		Operation:      t.operation,
		Phase:          t.phase,
		TotalFiles:     t.totalFiles,
		DoneFiles:      t.doneFiles,
		FailedFiles:    t.failedFiles,
		TotalBytes:     t.totalBytes,
		Bytes:          t.bytes,
		Percent:        pct,
		CurrentFiles:   currentFiles,
		RecentEvents:   recentEvents,
		BytesPerSecond: bytesPerSecond,
		ETA:            eta,
		StartTime:      t.startTime,
		Elapsed:        elapsed.Truncate(time.Second).String(),
		Message:        t.message,
	}
}

// Wait returns a channel that will be closed when the next update occurs.
func (t *Tracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal must be called with t.mu held.
func (t *Tracker) signal() {
	close(t.notify)
	t.notify = make(chan struct{})
}

// SetPhase starts a new phase. Per-phase file counters reset.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if phase != PhaseComplete && phase != PhaseFailed && phase != PhaseCancelled {
		t.doneFiles = 0
		t.failedFiles = 0
		t.totalFiles = 0
	}
	t.phase = phase
	t.signal()
}

// SetTotals sets the file and byte totals of the current phase.
func (t *Tracker) SetTotals(totalFiles int, totalBytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalFiles = totalFiles
	t.totalBytes = totalBytes
	t.signal()
}

// SetMessage sets a human-readable status message.
func (t *Tracker) SetMessage(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.message = msg
	t.signal()
}

// UpdateFileProgress records byte progress for one transfer, throttled to
// one update per file every 250ms.
func (t *Tracker) UpdateFileProgress(path string, bytes, totalBytes int64) {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastFileUpdate[path]; ok && now.Sub(last) < 250*time.Millisecond {
		return
	}
	t.lastFileUpdate[path] = now

	fp := t.file(path)
	fp.Bytes = bytes
	fp.TotalBytes = totalBytes
	t.recount()
	t.signal()
}

// FileDone marks a file finished with status, e.g. "tracked" or "downloaded".
func (t *Tracker) FileDone(path, status string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fp := t.file(path)
	fp.Done = true
	fp.Bytes = size
	t.doneFiles++
	t.recount()
	t.addRecentEvent(FileEvent{Path: path, Status: status, Size: size})
	t.signal()
}

// FileFailed marks a file as failed with an error reason.
func (t *Tracker) FileFailed(path, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.file(path).Failed = true
	t.failedFiles++
	t.addRecentEvent(FileEvent{Path: path, Status: "failed", Error: errMsg})
	t.signal()
}

// file must be called with t.mu held.
func (t *Tracker) file(path string) *FileProgress {
	fp, ok := t.files[path]
	if !ok {
		fp = &FileProgress{Path: path}
		t.files[path] = fp
	}
	return fp
}

// recount must be called with t.mu held.
func (t *Tracker) recount() {
	var total int64
	for _, f := range t.files {
		total += f.Bytes
	}
	t.bytes = total
}

// addRecentEvent prepends an event to the rolling log, capping at 20.
func (t *Tracker) addRecentEvent(ev FileEvent) {
	t.recentEvents = append([]FileEvent{ev}, t.recentEvents...)
	if len(t.recentEvents) > 20 {
		t.recentEvents = t.recentEvents[:20]
	}
}
