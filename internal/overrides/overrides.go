// Package overrides manages the bundled-file compartment of a pack: files
// shipped inside the archive rather than referenced by download URL.
package overrides

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/BadgerOps/packsync/internal/safety"
)

// Entry is one bundled file, addressed relative to the compartment root.
type Entry struct {
	Path string // forward-slash, e.g. "mods/custom.jar"
	Size int64
}

// Collector copies source files into a staging compartment rooted at Root.
type Collector struct {
	Root string
}

// NewCollector creates a Collector writing under root.
func NewCollector(root string) *Collector {
	return &Collector{Root: root}
}

// CopyFile copies src to rel inside the compartment.
func (c *Collector) CopyFile(src, rel string) (Entry, error) {
	clean, err := safety.CleanSlashPath(rel)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid override path: %w", err)
	}
	dst, err := safety.SafeJoinUnder(c.Root, clean)
	if err != nil {
		return Entry{}, err
	}
	n, err := copyFile(src, dst)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Path: clean, Size: n}, nil
}

// CopyTree copies every file WalkFiles finds under src into rel inside the
// compartment, preserving relative layout. Entries that are not regular
// files are returned as skipped. A missing src yields nothing.
func (c *Collector) CopyTree(src, rel string) ([]Entry, []Skipped, error) {
	files, skipped, err := WalkFiles(src)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		entry, err := c.CopyFile(f.Abs, rel+"/"+f.Rel)
		if err != nil {
			return entries, skipped, fmt.Errorf("failed to copy %s: %w", src, err)
		}
		entries = append(entries, entry)
	}
	return entries, skipped, nil
}

// File is a regular file found by WalkFiles.
type File struct {
	Abs string // path to open; may be a symbolic link
	Rel string // forward-slash path relative to the walked root
}

// Skipped is an entry under a walked root that could not be read as a
// regular file.
type Skipped struct {
	Rel string
	Err error
}

// WalkFiles lists the regular files under root sorted by Rel, following
// symbolic links to files and directories, including root itself. Dangling
// links, link cycles, and special files are returned in skipped. A missing
// root yields nothing.
func WalkFiles(root string) (files []File, skipped []Skipped, err error) {
	resolved, err := filepath.EvalSymlinks(root)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}

	w := &walker{visited: make(map[string]bool)}
	if err := w.walk(resolved, ""); err != nil {
		return nil, nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Slice(w.files, func(i, j int) bool { return w.files[i].Rel < w.files[j].Rel })
	sort.Slice(w.skipped, func(i, j int) bool { return w.skipped[i].Rel < w.skipped[j].Rel })
	return w.files, w.skipped, nil
}

type walker struct {
	files   []File
	skipped []Skipped
	visited map[string]bool // resolved directories already walked
}

func (w *walker) walk(dir, prefix string) error {
	w.visited[dir] = true
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		sub, err := safety.SlashRel(dir, path)
		if err != nil {
			return err
		}
		rel := sub
		if prefix != "" {
			rel = prefix + "/" + sub
		}

		mode := d.Type()
		switch {
		case mode&fs.ModeSymlink != 0:
			return w.follow(path, rel)
		case d.IsDir():
		case mode.IsRegular():
			w.files = append(w.files, File{Abs: path, Rel: rel})
		default:
			w.skip(rel, fmt.Errorf("unsupported file type %s", mode))
		}
		return nil
	})
}

func (w *walker) follow(path, rel string) error {
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		w.skip(rel, fmt.Errorf("broken symbolic link: %w", err))
		return nil
	}
	info, err := os.Stat(target)
	if err != nil {
		w.skip(rel, err)
		return nil
	}

	switch {
	case info.Mode().IsRegular():
		w.files = append(w.files, File{Abs: path, Rel: rel})
	case info.IsDir():
		if w.visited[target] {
			w.skip(rel, fmt.Errorf("symbolic link cycle to %s", target))
			return nil
		}
		return w.walk(target, rel)
	default:
		w.skip(rel, fmt.Errorf("unsupported file type %s", info.Mode().Type()))
	}
	return nil
}

func (w *walker) skip(rel string, err error) {
	w.skipped = append(w.skipped, Skipped{Rel: rel, Err: err})
}

// List enumerates the regular files under root as compartment entries,
// sorted by path. A missing root yields no entries.
func List(root string) ([]Entry, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := safety.SlashRel(root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Merge copies every file under src into dst. Existing files are
// overwritten and existing directories are merged into, never replaced.
// It returns the number of files written.
func Merge(src, dst string) (int, error) {
	entries, err := List(src)
	if err != nil {
		return 0, err
	}
	for i, e := range entries {
		target, err := safety.SafeJoinUnder(dst, e.Path)
		if err != nil {
			return i, err
		}
		if _, err := copyFile(filepath.Join(src, filepath.FromSlash(e.Path)), target); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// copyFile writes src to dst through a temp file in dst's directory.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".override-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, in)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to copy %s: %w", src, err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to set mode on %s: %w", dst, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("failed to move %s into place: %w", dst, err)
	}
	return n, nil
}
