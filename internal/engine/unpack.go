package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/packsync/internal/archive"
	"github.com/BadgerOps/packsync/internal/download"
	"github.com/BadgerOps/packsync/internal/manifest"
	"github.com/BadgerOps/packsync/internal/overrides"
	"github.com/BadgerOps/packsync/internal/safety"
)

// maxIndexSize bounds the manifest entry read from an archive.
const maxIndexSize = 64 << 20

// UnpackOptions configures an unpack run.
type UnpackOptions struct {
	ArchivePath string
	OutputDir   string // the destination root is OutputDir/<target subdir>
	SkipHash    bool
	Workers     int
	Overwrite   bool
}

// UnpackReport summarizes a finished unpack run.
type UnpackReport struct {
	Destination      string
	Name             string
	VersionID        string
	Downloaded       int
	Failed           []FileFailure
	OverridesMerged  int
	BytesTransferred int64
	Duration         time.Duration
}

// Unpack reconstructs the tree described by the archive at opts.ArchivePath.
// Bundled files are merged first; tracked files are then fetched
// concurrently. Per-file download failures are collected in the report and
// do not produce an error.
func (m *Manager) Unpack(ctx context.Context, opts UnpackOptions) (*UnpackReport, error) {
	startTime := time.Now()

	rd, err := archive.Open(opts.ArchivePath)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	idx, err := readIndex(rd)
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(opts.OutputDir, m.config.Unpack.TargetSubdir)
	if err := prepareDestination(dest, opts.Overwrite); err != nil {
		return nil, err
	}

	workers := workerCount(opts.Workers, m.config.Unpack.Workers)
	skipHash := opts.SkipHash || m.config.Unpack.SkipHash

	m.logger.Info("starting unpack",
		"archive", opts.ArchivePath,
		"name", idx.Name,
		"version", idx.VersionID,
		"files", len(idx.Files),
		"destination", dest,
		"skip_hash", skipHash,
	)

	tracker := m.startTracker("unpack")
	run := m.beginRun("unpack", opts.ArchivePath, dest)

	report := &UnpackReport{
		Destination: dest,
		Name:        idx.Name,
		VersionID:   idx.VersionID,
	}
	err = m.unpack(ctx, rd, idx, dest, workers, skipHash, tracker, report)
	report.Duration = time.Since(startTime)

	run.Tracked = report.Downloaded
	run.Overridden = report.OverridesMerged
	run.Failed = len(report.Failed)
	run.TotalSize = report.BytesTransferred
	m.finishRun(run, err)

	urls := make(map[string][]string, len(idx.Files))
	sha1s := make(map[string]string, len(idx.Files))
	for _, f := range idx.Files {
		urls[f.Path] = f.Downloads
		sha1s[f.Path] = f.Hashes.SHA1
	}
	m.recordFailures(run, report.Failed, urls, sha1s)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			tracker.SetPhase(PhaseCancelled)
		} else {
			tracker.SetPhase(PhaseFailed)
		}
		tracker.SetMessage("Unpack failed: " + err.Error())
		m.logger.Error("unpack failed", "archive", opts.ArchivePath, "error", err)
		return report, err
	}

	tracker.SetPhase(PhaseComplete)
	tracker.SetMessage(fmt.Sprintf("%d succeeded, %d failed", report.Downloaded, len(report.Failed)))
	m.logger.Info("unpack completed",
		"destination", dest,
		"downloaded", report.Downloaded,
		"failed", len(report.Failed),
		"overrides", report.OverridesMerged,
		"bytes", report.BytesTransferred,
		"duration", report.Duration,
	)
	return report, nil
}

func (m *Manager) unpack(
	ctx context.Context,
	rd *archive.Reader,
	idx *manifest.Index,
	dest string,
	workers int,
	skipHash bool,
	tracker *Tracker,
	report *UnpackReport,
) error {
	ws, err := NewWorkspace(m.config.Workspace.WorkDir, "packsync-unpack-", m.logger)
	if err != nil {
		return err
	}
	defer ws.Close()

	// Extract both compartments before touching the destination so a
	// collision leaves it unchanged.
	tracker.SetPhase(PhaseExtracting)
	tracked := idx.Paths()
	compartments := []string{manifest.OverridesDir, manifest.ClientOverridesDir}
	for _, prefix := range compartments {
		written, err := rd.ExtractPrefix(prefix, ws.Path(prefix))
		if err != nil {
			return fmt.Errorf("extracting %s: %w", prefix, err)
		}
		for _, rel := range written {
			if tracked[rel] {
				return fmt.Errorf("%w: %s is both tracked and bundled", ErrPathCollision, rel)
			}
		}
	}

	tracker.SetPhase(PhaseMerging)
	for _, prefix := range compartments {
		n, err := overrides.Merge(ws.Path(prefix), dest)
		if err != nil {
			return fmt.Errorf("merging %s: %w", prefix, err)
		}
		report.OverridesMerged += n
		if n > 0 {
			m.logger.Info("merged bundled files", "compartment", prefix, "files", n)
		}
	}

	jobs := make([]download.Job, 0, len(idx.Files))
	paths := make([]string, 0, len(idx.Files))
	for _, f := range idx.Files {
		target, err := safety.SafeJoinUnder(dest, f.Path)
		if err != nil {
			report.Failed = append(report.Failed, FileFailure{Path: f.Path, Stage: "download", Err: err})
			continue
		}
		jobs = append(jobs, download.Job{
			URLs:         f.Downloads,
			DestPath:     target,
			ExpectedSHA1: f.Hashes.SHA1,
			ExpectedSize: f.FileSize,
			SkipVerify:   skipHash,
		})
		paths = append(paths, f.Path)
	}

	tracker.SetPhase(PhaseDownloading)
	tracker.SetTotals(len(jobs), idx.TotalSize())
	tracker.SetMessage(fmt.Sprintf("Downloading %d files", len(jobs)))

	pool := download.NewPool(m.client, workers, m.logger)
	pool.SetRetries(m.config.Unpack.RetryAttempts)
	pool.OnProgress = func(i int, done, total int64) {
		tracker.UpdateFileProgress(paths[i], done, total)
	}
	results := pool.Execute(ctx, jobs)

	for i, r := range results {
		if r.Success {
			report.Downloaded++
			report.BytesTransferred += r.Download.Size
			tracker.FileDone(paths[i], "downloaded", r.Download.Size)
			continue
		}
		report.Failed = append(report.Failed, FileFailure{Path: paths[i], Stage: "download", Err: r.Error})
		tracker.FileFailed(paths[i], r.Error.Error())
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("unpack interrupted: %w", err)
	}
	return nil
}

// readIndex loads and parses the manifest entry. A missing entry is a
// format error.
func readIndex(rd *archive.Reader) (*manifest.Index, error) {
	data, err := rd.ReadFile(manifest.IndexName, maxIndexSize)
	if err != nil {
		if errors.Is(err, archive.ErrEntryNotFound) {
			return nil, fmt.Errorf("%w: %w", manifest.ErrFormat, err)
		}
		return nil, err
	}
	return manifest.Parse(data)
}

// prepareDestination refuses a non-empty existing destination unless
// overwrite is set, then ensures it exists.
func prepareDestination(dest string, overwrite bool) error {
	if !overwrite {
		empty, err := isEmptyDir(dest)
		if err != nil {
			return err
		}
		if !empty {
			return fmt.Errorf("%w: destination %s is not empty", ErrPathCollision, dest)
		}
	}
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination %s: %w", dest, err)
	}
	return nil
}

// isEmptyDir reports whether dir is absent or an empty directory.
func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to open destination %s: %w", dir, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, err
	}
	if !info.IsDir() {
		return false, nil
	}
	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}
