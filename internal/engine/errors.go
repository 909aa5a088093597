package engine

import (
	"errors"
	"fmt"
)

// ErrPathCollision is returned when an output location is already occupied
// or when a bundled file and a tracked record claim the same path.
var ErrPathCollision = errors.New("path collision")

// FileFailure describes one file that could not be processed. Failures are
// collected into reports; they never abort a run on their own.
type FileFailure struct {
	Path  string
	Stage string // "hash", "resolve", "override", "download"
	Err   error
}

func (f FileFailure) Error() string {
	return fmt.Sprintf("%s (%s): %v", f.Path, f.Stage, f.Err)
}

func (f FileFailure) Unwrap() error {
	return f.Err
}
