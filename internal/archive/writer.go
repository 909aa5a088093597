// Package archive reads and writes the zip container that carries a pack's
// manifest and override compartment.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	"github.com/BadgerOps/packsync/internal/safety"
)

// Writer appends entries to a zip container. Entry names are forward-slash
// relative paths and must be unique.
type Writer struct {
	inner *zip.Writer
	names map[string]struct{}
	size  int64
}

// NewWriter creates a Writer compressing with deflate at level
// (flate.NoCompression through flate.BestCompression; out of range uses the
// default level).
func NewWriter(w io.Writer, level int) *Writer {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	inner := zip.NewWriter(w)
	inner.RegisterCompressor(zip.Deflate, func(target io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(target, level)
	})
	return &Writer{inner: inner, names: make(map[string]struct{})}
}

func (w *Writer) create(name string, modified time.Time) (io.Writer, string, error) {
	clean, err := safety.CleanSlashPath(name)
	if err != nil {
		return nil, "", fmt.Errorf("invalid entry name: %w", err)
	}
	if _, dup := w.names[clean]; dup {
		return nil, "", fmt.Errorf("duplicate entry %q", clean)
	}
	out, err := w.inner.CreateHeader(&zip.FileHeader{
		Name:     clean,
		Modified: modified,
		Method:   zip.Deflate,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create entry %s: %w", clean, err)
	}
	w.names[clean] = struct{}{}
	return out, clean, nil
}

// AddBytes writes data as entry name.
func (w *Writer) AddBytes(name string, data []byte) error {
	out, clean, err := w.create(name, time.Now())
	if err != nil {
		return err
	}
	if _, err := out.Write(data); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", clean, err)
	}
	w.size += int64(len(data))
	return nil
}

// AddFile copies the file at path into entry name.
func (w *Writer) AddFile(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", path)
	}

	out, clean, err := w.create(name, info.ModTime())
	if err != nil {
		return err
	}
	n, err := io.Copy(out, f)
	if err != nil {
		return fmt.Errorf("failed to write entry %s: %w", clean, err)
	}
	w.size += n
	return nil
}

// AddTree adds every regular file under root as prefix/<relative path>, in
// lexical order. Symlinks and other special files are skipped. It returns
// the entry names written.
func (w *Writer) AddTree(prefix, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", root, err)
	}
	sort.Strings(files)

	names := make([]string, 0, len(files))
	for _, path := range files {
		rel, err := safety.SlashRel(root, path)
		if err != nil {
			return names, err
		}
		name := rel
		if prefix != "" {
			name = prefix + "/" + rel
		}
		if err := w.AddFile(name, path); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

// Len returns the number of entries written.
func (w *Writer) Len() int {
	return len(w.names)
}

// Size returns the total uncompressed bytes written.
func (w *Writer) Size() int64 {
	return w.size
}

// Close finishes the central directory. It does not close the underlying
// writer.
func (w *Writer) Close() error {
	if err := w.inner.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	return nil
}
