package engine

import (
	"context"

	"github.com/BadgerOps/packsync/internal/registry"
)

// Candidate is a file the registry could not resolve, awaiting a decision
// on whether to bundle it as an override.
type Candidate struct {
	Path     string // record-style path, e.g. "mods/custom.jar"
	Source   string // absolute source file
	Category Category
	Size     int64
	Outcome  registry.Outcome
	Reason   string
}

// OverridePolicy decides whether an unresolved file is bundled. It is
// consulted sequentially, one candidate at a time, after classification.
type OverridePolicy interface {
	Include(ctx context.Context, c Candidate) (bool, error)
}

// ForceOverrides answers every candidate with the same decision.
type ForceOverrides bool

func (f ForceOverrides) Include(context.Context, Candidate) (bool, error) {
	return bool(f), nil
}

// PolicyFunc adapts a function to OverridePolicy.
type PolicyFunc func(ctx context.Context, c Candidate) (bool, error)

func (f PolicyFunc) Include(ctx context.Context, c Candidate) (bool, error) {
	return f(ctx, c)
}
