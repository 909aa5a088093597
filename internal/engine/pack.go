package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BadgerOps/packsync/internal/archive"
	"github.com/BadgerOps/packsync/internal/digest"
	"github.com/BadgerOps/packsync/internal/manifest"
	"github.com/BadgerOps/packsync/internal/overrides"
	"github.com/BadgerOps/packsync/internal/registry"
)

// PackOptions configures a pack run.
type PackOptions struct {
	SourceDir    string
	OutputPath   string // empty uses the configured output dir and name
	Metadata     manifest.Metadata
	Dependencies manifest.Dependencies
	Categories   map[Category]bool // nil enables every category
	Policy       OverridePolicy    // nil drops every unresolved file
	Workers      int
	Overwrite    bool
}

// PackReport summarizes a finished pack run.
type PackReport struct {
	ArchivePath  string
	Tracked      int
	Bundled      int // bundled-only category files
	Overridden   int
	Dropped      int
	Failed       []FileFailure
	ManifestSHA1 string
	TotalSize    int64 // sum of tracked filesizes
	Duration     time.Duration
}

// sourceFile is a file discovered in a resolvable category.
type sourceFile struct {
	category Category
	abs      string
	rel      string // record path, forward slashes
}

// Pack classifies every file under the enabled categories of
// opts.SourceDir, records resolvable ones in the manifest, bundles the rest
// according to opts.Policy, and writes the archive.
func (m *Manager) Pack(ctx context.Context, opts PackOptions) (*PackReport, error) {
	startTime := time.Now()

	info, err := os.Stat(opts.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", opts.SourceDir)
	}

	if opts.OutputPath == "" {
		opts.OutputPath = m.config.PackOutputPath()
	}
	if _, err := os.Stat(opts.OutputPath); err == nil && !opts.Overwrite {
		return nil, fmt.Errorf("%w: %s already exists", ErrPathCollision, opts.OutputPath)
	}
	if opts.Categories == nil {
		opts.Categories = AllCategories()
	}
	if opts.Policy == nil {
		opts.Policy = ForceOverrides(false)
	}
	if opts.Metadata.VersionID == "" {
		opts.Metadata.VersionID = m.config.Pack.VersionID
	}
	if opts.Metadata.Name == "" {
		opts.Metadata.Name = m.config.Pack.Name
	}
	if opts.Metadata.Summary == "" {
		opts.Metadata.Summary = m.config.Pack.Summary
	}
	workers := workerCount(opts.Workers, m.config.Pack.Workers)

	m.logger.Info("starting pack", "source", opts.SourceDir, "output", opts.OutputPath, "workers", workers)

	tracker := m.startTracker("pack")
	run := m.beginRun("pack", opts.SourceDir, opts.OutputPath)

	report, err := m.pack(ctx, opts, workers, tracker)
	if report != nil {
		report.Duration = time.Since(startTime)
		run.Tracked = report.Tracked
		run.Overridden = report.Overridden + report.Bundled
		run.Dropped = report.Dropped
		run.Failed = len(report.Failed)
		run.TotalSize = report.TotalSize
		run.ManifestSHA1 = report.ManifestSHA1
	}
	m.finishRun(run, err)

	if err != nil {
		if errors.Is(err, context.Canceled) {
			tracker.SetPhase(PhaseCancelled)
		} else {
			tracker.SetPhase(PhaseFailed)
		}
		tracker.SetMessage("Pack failed: " + err.Error())
		m.logger.Error("pack failed", "source", opts.SourceDir, "error", err)
		return nil, err
	}

	tracker.SetPhase(PhaseComplete)
	tracker.SetMessage(fmt.Sprintf("Packed %d tracked, %d overridden", report.Tracked, report.Overridden+report.Bundled))
	m.logger.Info("pack completed",
		"archive", report.ArchivePath,
		"tracked", report.Tracked,
		"bundled", report.Bundled,
		"overridden", report.Overridden,
		"dropped", report.Dropped,
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
	return report, nil
}

func (m *Manager) pack(ctx context.Context, opts PackOptions, workers int, tracker *Tracker) (*PackReport, error) {
	report := &PackReport{ArchivePath: opts.OutputPath}

	ws, err := NewWorkspace(m.config.Workspace.WorkDir, "packsync-pack-", m.logger)
	if err != nil {
		return nil, err
	}
	defer ws.Close()

	collector := overrides.NewCollector(ws.Path(manifest.OverridesDir))
	var bundledPaths []string

	// Phase 1: scan enabled categories.
	tracker.SetPhase(PhaseScanning)
	var (
		files   []sourceFile
		skipped []FileFailure
	)
	for _, cat := range Categories {
		if !opts.Categories[cat] {
			m.logger.Debug("category disabled", "category", cat)
			continue
		}
		dir := filepath.Join(opts.SourceDir, string(cat))

		if cat.BundledOnly() {
			entries, unread, err := collector.CopyTree(dir, string(cat))
			if err != nil {
				return nil, fmt.Errorf("bundling %s: %w", cat, err)
			}
			for _, u := range unread {
				skipped = append(skipped, FileFailure{Path: string(cat) + "/" + u.Rel, Stage: "scan", Err: u.Err})
			}
			for _, e := range entries {
				bundledPaths = append(bundledPaths, e.Path)
			}
			report.Bundled += len(entries)
			m.logger.Info("bundled category", "category", cat, "files", len(entries))
			continue
		}

		found, unread, err := scanCategory(opts.SourceDir, cat)
		if err != nil {
			return nil, err
		}
		m.logger.Debug("scanned category", "category", cat, "files", len(found), "skipped", len(unread))
		files = append(files, found...)
		skipped = append(skipped, unread...)
	}

	// Phase 2: classify concurrently.
	tracker.SetPhase(PhaseResolving)
	tracker.SetTotals(len(files)+len(skipped), 0)

	builder := manifest.NewBuilder(opts.Metadata, opts.Dependencies)
	var (
		mu       sync.Mutex
		pending  []Candidate
		failures []FileFailure
	)
	for _, f := range skipped {
		failures = append(failures, f)
		tracker.FileFailed(f.Path, f.Err.Error())
		m.logger.Warn("file skipped", "path", f.Path, "error", f.Err)
	}
	fail := func(f FileFailure) {
		mu.Lock()
		failures = append(failures, f)
		mu.Unlock()
		tracker.FileFailed(f.Path, f.Err.Error())
		m.logger.Warn("file failed", "path", f.Path, "stage", f.Stage, "error", f.Err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, sf := range files {
		g.Go(func() error {
			sum, size, err := digest.ComputeFile(sf.abs)
			if err != nil {
				fail(FileFailure{Path: sf.rel, Stage: "hash", Err: err})
				return nil
			}

			res, err := m.resolver.Resolve(gctx, registry.Query{SHA1: sum.SHA1, Filename: filepath.Base(sf.abs)})
			if err != nil {
				return err
			}

			if res.Outcome == registry.Found {
				rec := manifest.File{
					Path:      sf.rel,
					Hashes:    manifest.Hashes{SHA1: res.Match.SHA1, SHA512: res.Match.SHA512},
					Downloads: res.Match.URLs,
					FileSize:  size,
				}
				if err := builder.Add(rec); err != nil {
					fail(FileFailure{Path: sf.rel, Stage: "resolve", Err: err})
					return nil
				}
				tracker.FileDone(sf.rel, "tracked", size)
				return nil
			}

			mu.Lock()
			pending = append(pending, Candidate{
				Path:     sf.rel,
				Source:   sf.abs,
				Category: sf.category,
				Size:     size,
				Outcome:  res.Outcome,
				Reason:   res.Reason,
			})
			mu.Unlock()
			tracker.FileDone(sf.rel, res.Outcome.String(), size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("classification: %w", err)
	}
	report.Failed = failures

	// Phase 3: decide overrides sequentially.
	tracker.SetPhase(PhaseDeciding)
	tracker.SetTotals(len(pending), 0)
	sort.Slice(pending, func(i, j int) bool { return pending[i].Path < pending[j].Path })

	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		include, err := opts.Policy.Include(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("override decision for %s: %w", c.Path, err)
		}
		if !include {
			report.Dropped++
			tracker.FileDone(c.Path, "dropped", 0)
			m.logger.Info("dropped unresolved file", "path", c.Path, "outcome", c.Outcome, "reason", c.Reason)
			continue
		}
		entry, err := collector.CopyFile(c.Source, c.Path)
		if err != nil {
			report.Failed = append(report.Failed, FileFailure{Path: c.Path, Stage: "override", Err: err})
			tracker.FileFailed(c.Path, err.Error())
			continue
		}
		bundledPaths = append(bundledPaths, entry.Path)
		report.Overridden++
		tracker.FileDone(c.Path, "overridden", entry.Size)
		m.logger.Info("added override", "path", c.Path)
	}

	// Phase 4: build and write.
	tracker.SetPhase(PhaseArchiving)
	idx, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("building manifest: %w", err)
	}
	if err := checkCollisions(idx, bundledPaths); err != nil {
		return nil, err
	}

	data, err := idx.Marshal()
	if err != nil {
		return nil, err
	}
	sum, _, err := digest.Compute(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("hashing manifest: %w", err)
	}

	if err := m.writeArchive(opts.OutputPath, data, collector.Root); err != nil {
		return nil, err
	}

	report.Tracked = len(idx.Files)
	report.TotalSize = idx.TotalSize()
	report.ManifestSHA1 = sum.SHA1
	return report, nil
}

// scanCategory lists the files under sourceDir/cat, following symbolic links.
// Entries that cannot be read as regular files are returned as scan
// failures. A missing category directory yields nothing.
func scanCategory(sourceDir string, cat Category) ([]sourceFile, []FileFailure, error) {
	root := filepath.Join(sourceDir, string(cat))
	found, unread, err := overrides.WalkFiles(root)
	if err != nil {
		return nil, nil, fmt.Errorf("scanning %s: %w", root, err)
	}

	files := make([]sourceFile, 0, len(found))
	for _, f := range found {
		files = append(files, sourceFile{category: cat, abs: f.Abs, rel: string(cat) + "/" + f.Rel})
	}
	var failures []FileFailure
	for _, u := range unread {
		failures = append(failures, FileFailure{Path: string(cat) + "/" + u.Rel, Stage: "scan", Err: u.Err})
	}
	return files, failures, nil
}

// checkCollisions enforces that no bundled file shadows a tracked record.
func checkCollisions(idx *manifest.Index, bundled []string) error {
	tracked := idx.Paths()
	for _, p := range bundled {
		if tracked[p] {
			return fmt.Errorf("%w: %s is both tracked and bundled", ErrPathCollision, p)
		}
	}
	return nil
}

// writeArchive writes the manifest followed by the override compartment to
// a temp file beside path and renames it into place.
func (m *Manager) writeArchive(path string, index []byte, overridesRoot string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".packsync-*.mrpack")
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	w := archive.NewWriter(tmp, m.config.Pack.CompressionLevel)
	if err := w.AddBytes(manifest.IndexName, index); err != nil {
		cleanup()
		return err
	}
	if _, err := os.Stat(overridesRoot); err == nil {
		if _, err := w.AddTree(manifest.OverridesDir, overridesRoot); err != nil {
			cleanup()
			return err
		}
	}
	if err := w.Close(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move archive into place: %w", err)
	}

	m.logger.Debug("archive written", "path", path, "entries", w.Len(), "bytes", w.Size())
	return nil
}
