// Package manifest defines the modrinth.index.json document that describes a
// pack: its metadata, dependency pins, and the files tracked by digest and
// download URL rather than bundled bytes.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"

	"github.com/BadgerOps/packsync/internal/digest"
	"github.com/BadgerOps/packsync/internal/safety"
)

const (
	// IndexName is the container entry holding the serialized Index.
	IndexName = "modrinth.index.json"
	// OverridesDir is the container prefix for bundled override files.
	OverridesDir = "overrides"
	// ClientOverridesDir holds client-only overrides, applied after OverridesDir.
	ClientOverridesDir = "client-overrides"

	FormatVersion = 1
	Game          = "minecraft"

	DefaultVersionID = "1.0.0"
	DefaultName      = "Custom Modpack"
	DefaultSummary   = "Automatically generated modpack"
)

// Known dependency keys.
const (
	DependencyMinecraft    = "minecraft"
	DependencyFabricLoader = "fabric-loader"
	DependencyQuiltLoader  = "quilt-loader"
	DependencyForge        = "forge"
	DependencyNeoForge     = "neoforge"
)

var knownDependencies = map[string]bool{
	DependencyMinecraft:    true,
	DependencyFabricLoader: true,
	DependencyQuiltLoader:  true,
	DependencyForge:        true,
	DependencyNeoForge:     true,
}

// ErrFormat marks a document or container that cannot be interpreted:
// unsupported format version, wrong game tag, malformed JSON, or a missing
// required entry.
var ErrFormat = errors.New("unsupported pack format")

// Index is the interchange document.
type Index struct {
	FormatVersion int          `json:"formatVersion"`
	Game          string       `json:"game"`
	VersionID     string       `json:"versionId"`
	Name          string       `json:"name"`
	Summary       string       `json:"summary"`
	Files         []File       `json:"files"`
	Dependencies  Dependencies `json:"dependencies"`
}

// File is one tracked file record.
type File struct {
	Path      string   `json:"path"`
	Hashes    Hashes   `json:"hashes"`
	Env       *Env     `json:"env,omitempty"`
	Downloads []string `json:"downloads"`
	FileSize  int64    `json:"filesize"`
}

// Hashes is the integrity contract for a tracked file's downloaded bytes.
type Hashes struct {
	SHA1   string `json:"sha1"`
	SHA512 string `json:"sha512"`
}

// Env carries the optional client/server side requirements of a file. It is
// preserved on round-trip but not interpreted.
type Env struct {
	Client string `json:"client,omitempty"`
	Server string `json:"server,omitempty"`
}

// Dependencies maps a dependency name to an optional version pin. A nil value
// means unspecified.
type Dependencies map[string]*string

// Set pins name to version; an empty version leaves it unspecified.
func (d Dependencies) Set(name, version string) {
	if version == "" {
		d[name] = nil
		return
	}
	v := version
	d[name] = &v
}

// Get returns the pinned version and whether one is set.
func (d Dependencies) Get(name string) (string, bool) {
	v, ok := d[name]
	if !ok || v == nil {
		return "", false
	}
	return *v, true
}

// Known returns only the entries whose keys this tool interprets.
func (d Dependencies) Known() Dependencies {
	out := make(Dependencies, len(d))
	for k, v := range d {
		if knownDependencies[k] {
			out[k] = v
		}
	}
	return out
}

// IsKnownDependency reports whether name belongs to the fixed dependency set.
func IsKnownDependency(name string) bool {
	return knownDependencies[name]
}

// Metadata is the descriptive part of a new Index.
type Metadata struct {
	VersionID string
	Name      string
	Summary   string
}

// New returns an empty Index with defaults applied to missing metadata and
// the runtime and loader dependencies present but unspecified.
func New(meta Metadata) *Index {
	idx := &Index{
		FormatVersion: FormatVersion,
		Game:          Game,
		VersionID:     orDefault(meta.VersionID, DefaultVersionID),
		Name:          orDefault(meta.Name, DefaultName),
		Summary:       orDefault(meta.Summary, DefaultSummary),
		Files:         []File{},
		Dependencies: Dependencies{
			DependencyMinecraft:    nil,
			DependencyFabricLoader: nil,
		},
	}
	return idx
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

// Parse decodes a serialized Index. Comments and trailing commas are
// tolerated. The format version is checked before anything else so an
// unsupported document is rejected without interpreting the rest.
func Parse(data []byte) (*Index, error) {
	clean := jsonc.ToJSON(data)

	var probe struct {
		FormatVersion *int `json:"formatVersion"`
	}
	if err := json.Unmarshal(clean, &probe); err != nil {
		return nil, fmt.Errorf("%w: parsing index: %v", ErrFormat, err)
	}
	if probe.FormatVersion == nil {
		return nil, fmt.Errorf("%w: formatVersion missing", ErrFormat)
	}
	if *probe.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: formatVersion %d (only %d is supported)", ErrFormat, *probe.FormatVersion, FormatVersion)
	}

	var idx Index
	if err := json.Unmarshal(clean, &idx); err != nil {
		return nil, fmt.Errorf("%w: parsing index: %v", ErrFormat, err)
	}
	if idx.Files == nil {
		idx.Files = []File{}
	}
	if idx.Dependencies == nil {
		idx.Dependencies = Dependencies{}
	}
	if err := idx.Validate(); err != nil {
		return nil, err
	}
	return &idx, nil
}

// Marshal serializes the Index as indented UTF-8 JSON.
func (idx *Index) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(idx, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("marshaling index: %w", err)
	}
	return append(data, '\n'), nil
}

// Validate checks the document invariants. Violations wrap ErrFormat.
func (idx *Index) Validate() error {
	if idx.FormatVersion != FormatVersion {
		return fmt.Errorf("%w: formatVersion %d", ErrFormat, idx.FormatVersion)
	}
	if idx.Game != Game {
		return fmt.Errorf("%w: game %q", ErrFormat, idx.Game)
	}

	seen := make(map[string]bool, len(idx.Files))
	for i, f := range idx.Files {
		clean, err := safety.CleanSlashPath(f.Path)
		if err != nil {
			return fmt.Errorf("%w: files[%d]: %v", ErrFormat, i, err)
		}
		if clean != f.Path {
			return fmt.Errorf("%w: files[%d]: path %q is not normalized", ErrFormat, i, f.Path)
		}
		if seen[f.Path] {
			return fmt.Errorf("%w: duplicate path %q", ErrFormat, f.Path)
		}
		seen[f.Path] = true

		if !digest.ValidSHA1(f.Hashes.SHA1) {
			return fmt.Errorf("%w: %s: invalid sha1 %q", ErrFormat, f.Path, f.Hashes.SHA1)
		}
		if !digest.ValidSHA512(f.Hashes.SHA512) {
			return fmt.Errorf("%w: %s: invalid sha512", ErrFormat, f.Path)
		}
		if len(f.Downloads) == 0 {
			return fmt.Errorf("%w: %s: no download URLs", ErrFormat, f.Path)
		}
		if f.FileSize < 0 {
			return fmt.Errorf("%w: %s: negative filesize", ErrFormat, f.Path)
		}
	}
	return nil
}

// Paths returns the set of tracked paths.
func (idx *Index) Paths() map[string]bool {
	out := make(map[string]bool, len(idx.Files))
	for _, f := range idx.Files {
		out[f.Path] = true
	}
	return out
}

// TotalSize sums the advisory filesizes of all tracked files.
func (idx *Index) TotalSize() int64 {
	var total int64
	for _, f := range idx.Files {
		total += f.FileSize
	}
	return total
}

// Builder accumulates tracked files from concurrent classification workers.
type Builder struct {
	mu    sync.Mutex
	index *Index
	paths map[string]bool
}

// NewBuilder starts a fresh Index.
func NewBuilder(meta Metadata, deps Dependencies) *Builder {
	idx := New(meta)
	for k, v := range deps {
		idx.Dependencies[k] = v
	}
	return &Builder{index: idx, paths: make(map[string]bool)}
}

// Add appends f. It is safe for concurrent use and rejects a second record
// for the same path.
func (b *Builder) Add(f File) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.paths[f.Path] {
		return fmt.Errorf("duplicate manifest path %q", f.Path)
	}
	b.paths[f.Path] = true
	b.index.Files = append(b.index.Files, f)
	return nil
}

// Len returns the number of records added so far.
func (b *Builder) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.index.Files)
}

// Build sorts the records by path, validates, and returns the Index. The
// Builder must not be used afterwards.
func (b *Builder) Build() (*Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sort.Slice(b.index.Files, func(i, j int) bool {
		return b.index.Files[i].Path < b.index.Files[j].Path
	})
	if err := b.index.Validate(); err != nil {
		return nil, err
	}
	return b.index, nil
}
