package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BadgerOps/packsync/internal/config"
	"github.com/BadgerOps/packsync/internal/download"
	"github.com/BadgerOps/packsync/internal/registry"
	"github.com/BadgerOps/packsync/internal/store"
)

// Resolver maps a local file to its canonical registry entry.
type Resolver interface {
	Resolve(ctx context.Context, q registry.Query) (registry.Resolution, error)
}

// Manager runs pack and unpack operations, connecting the registry
// resolver, the download client, and the optional run store.
type Manager struct {
	resolver Resolver
	client   *download.Client
	store    *store.Store
	config   *config.Config
	logger   *slog.Logger

	trackerMu     sync.RWMutex
	activeTracker *Tracker
}

// NewManager creates a new Manager. st may be nil to disable run history.
func NewManager(
	resolver Resolver,
	client *download.Client,
	st *store.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if client == nil {
		client = download.NewClient(logger)
	}
	return &Manager{
		resolver: resolver,
		client:   client,
		store:    st,
		config:   cfg,
		logger:   logger,
	}
}

// ActiveProgress returns the tracker of the current or most recent run, or nil.
func (m *Manager) ActiveProgress() *Tracker {
	m.trackerMu.RLock()
	defer m.trackerMu.RUnlock()
	return m.activeTracker
}

// startTracker installs a new tracker. It stays installed after the run so
// callers can read the terminal snapshot.
func (m *Manager) startTracker(operation string) *Tracker {
	tracker := NewTracker(operation)
	m.trackerMu.Lock()
	m.activeTracker = tracker
	m.trackerMu.Unlock()
	return tracker
}

// beginRun records a running run when a store is configured.
func (m *Manager) beginRun(direction, source, target string) *store.Run {
	run := &store.Run{
		Direction: direction,
		Source:    source,
		Target:    target,
		Status:    "running",
		StartTime: time.Now(),
	}
	if m.store == nil {
		return run
	}
	if err := m.store.CreateRun(run); err != nil {
		m.logger.Error("failed to create run record", "direction", direction, "error", err)
	}
	return run
}

// finishRun closes run with status derived from err and the failure count.
func (m *Manager) finishRun(run *store.Run, err error) {
	run.EndTime = time.Now()
	switch {
	case err != nil:
		run.Status = "failed"
		run.ErrorMessage = err.Error()
	case run.Failed > 0:
		run.Status = "partial"
	default:
		run.Status = "success"
	}
	if m.store == nil || run.ID == "" {
		return
	}
	if uerr := m.store.UpdateRun(run); uerr != nil {
		m.logger.Error("failed to update run record", "run", run.ID, "error", uerr)
	}
}

func (m *Manager) recordFailures(run *store.Run, failures []FileFailure, urls map[string][]string, sha1s map[string]string) {
	if m.store == nil || run.ID == "" {
		return
	}
	for _, f := range failures {
		rec := &store.FailedFile{
			RunID:        run.ID,
			Path:         f.Path,
			URLs:         urls[f.Path],
			ExpectedSHA1: sha1s[f.Path],
			Error:        f.Err.Error(),
			FailedAt:     time.Now(),
		}
		if err := m.store.AddFailedFile(rec); err != nil {
			m.logger.Error("failed to record failed file", "path", f.Path, "error", err)
		}
	}
}

func workerCount(requested, configured int) int {
	if requested > 0 {
		return requested
	}
	if configured > 0 {
		return configured
	}
	return 4
}
