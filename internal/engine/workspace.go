package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Workspace is a scoped staging directory removed by Close.
type Workspace struct {
	Dir    string
	logger *slog.Logger
}

// NewWorkspace creates a fresh directory under parent (the system temp dir
// when empty).
func NewWorkspace(parent, prefix string, logger *slog.Logger) (*Workspace, error) {
	if parent != "" {
		if err := os.MkdirAll(parent, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work dir %s: %w", parent, err)
		}
	}
	dir, err := os.MkdirTemp(parent, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}
	logger.Debug("staging directory created", "path", dir)
	return &Workspace{Dir: dir, logger: logger}, nil
}

// Path joins elem under the workspace.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.Dir}, elem...)...)
}

// Close removes the workspace and everything in it. It is safe to call
// more than once.
func (w *Workspace) Close() error {
	if w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		w.logger.Warn("failed to remove staging directory", "path", w.Dir, "error", err)
		return err
	}
	w.logger.Debug("staging directory removed", "path", w.Dir)
	w.Dir = ""
	return nil
}
