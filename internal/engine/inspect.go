package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/BadgerOps/packsync/internal/archive"
	"github.com/BadgerOps/packsync/internal/manifest"
)

// Summary describes an archive without unpacking it.
type Summary struct {
	Index           *manifest.Index
	Overrides       []string // relative to the overrides compartment
	ClientOverrides []string
	ArchiveSize     int64
}

// Inspect reads the manifest and compartment listing of the archive at path.
func Inspect(path string) (*Summary, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	rd, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer rd.Close()

	idx, err := readIndex(rd)
	if err != nil {
		return nil, err
	}

	s := &Summary{Index: idx, ArchiveSize: info.Size()}
	for _, name := range rd.Names() {
		switch {
		case strings.HasPrefix(name, manifest.OverridesDir+"/"):
			s.Overrides = append(s.Overrides, strings.TrimPrefix(name, manifest.OverridesDir+"/"))
		case strings.HasPrefix(name, manifest.ClientOverridesDir+"/"):
			s.ClientOverrides = append(s.ClientOverrides, strings.TrimPrefix(name, manifest.ClientOverridesDir+"/"))
		}
	}
	return s, nil
}
