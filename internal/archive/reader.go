package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/BadgerOps/packsync/internal/safety"
)

// ErrEntryNotFound is returned by ReadFile for a name absent from the archive.
var ErrEntryNotFound = errors.New("archive entry not found")

// Reader provides random access to a zip container on disk.
type Reader struct {
	rc    *zip.ReadCloser
	files map[string]*zip.File
}

// Open opens the archive at path.
func Open(path string) (*Reader, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", path, err)
	}

	files := make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		name, err := safety.CleanSlashPath(f.Name)
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("unsafe archive entry %q: %w", f.Name, err)
		}
		files[name] = f
	}
	return &Reader{rc: rc, files: files}, nil
}

// Close releases the archive.
func (r *Reader) Close() error {
	return r.rc.Close()
}

// Names returns all file entry names, sorted.
func (r *Reader) Names() []string {
	names := make([]string, 0, len(r.files))
	for name := range r.files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReadFile returns the content of entry name, refusing entries larger than
// limit bytes when limit is positive.
func (r *Reader) ReadFile(name string, limit int64) ([]byte, error) {
	f, ok := r.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open entry %s: %w", name, err)
	}
	defer rc.Close()

	if limit > 0 {
		data, err := safety.ReadAllWithLimit(rc, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to read entry %s: %w", name, err)
		}
		return data, nil
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", name, err)
	}
	return data, nil
}

// ExtractPrefix writes every entry under prefix/ into dest, stripping the
// prefix. It returns the stripped relative names written, sorted. Entries
// that are not regular files are rejected.
func (r *Reader) ExtractPrefix(prefix, dest string) ([]string, error) {
	lead := strings.TrimSuffix(prefix, "/") + "/"

	var written []string
	for _, name := range r.Names() {
		if !strings.HasPrefix(name, lead) {
			continue
		}
		rel := strings.TrimPrefix(name, lead)
		f := r.files[name]
		if !f.Mode().IsRegular() {
			return written, fmt.Errorf("archive entry %s is not a regular file", name)
		}

		target, err := safety.SafeJoinUnder(dest, rel)
		if err != nil {
			return written, fmt.Errorf("unsafe archive entry %s: %w", name, err)
		}
		if err := extractFile(f, target); err != nil {
			return written, err
		}
		written = append(written, rel)
	}
	return written, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", target, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}
