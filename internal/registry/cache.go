package registry

import (
	"time"

	"github.com/BadgerOps/packsync/internal/store"
)

// Cache persists resolutions between runs. Unavailable outcomes are never
// stored.
type Cache interface {
	Lookup(q Query, maxAge time.Duration) (Resolution, bool, error)
	Store(q Query, res Resolution) error
}

// StoreCache adapts the sqlite store to Cache.
type StoreCache struct {
	st *store.Store
}

// NewStoreCache wraps st.
func NewStoreCache(st *store.Store) *StoreCache {
	return &StoreCache{st: st}
}

// Lookup returns a cached resolution younger than maxAge. A zero maxAge
// accepts any age.
func (c *StoreCache) Lookup(q Query, maxAge time.Duration) (Resolution, bool, error) {
	rec, err := c.st.GetResolution(q.SHA1, q.Filename)
	if err != nil || rec == nil {
		return Resolution{}, false, err
	}
	if maxAge > 0 && time.Since(rec.FetchedAt) > maxAge {
		return Resolution{}, false, nil
	}

	if !rec.Found {
		return Resolution{Outcome: NotFound, Reason: "cached miss"}, true, nil
	}
	return Resolution{
		Outcome: Found,
		Match: &Match{
			URLs:     []string{rec.URL},
			SHA1:     rec.CanonicalSHA1,
			SHA512:   rec.CanonicalSHA512,
			Filename: rec.Filename,
			Size:     rec.Size,
		},
	}, true, nil
}

// Store records res for q.
func (c *StoreCache) Store(q Query, res Resolution) error {
	rec := &store.Resolution{
		SHA1:      q.SHA1,
		Filename:  q.Filename,
		Found:     res.Outcome == Found,
		FetchedAt: time.Now().UTC(),
	}
	if res.Match != nil {
		rec.URL = res.Match.URLs[0]
		rec.CanonicalSHA1 = res.Match.SHA1
		rec.CanonicalSHA512 = res.Match.SHA512
		rec.Size = res.Match.Size
	}
	return c.st.PutResolution(rec)
}
