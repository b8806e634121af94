package directory

import (
	"context"

	"github.com/go-faster/errors"
)

type memoEntry struct {
	profile *Profile
	err     error
}

// Memoized caches resolutions by member id so repeated keys in one CSV cost a
// single directory call. Transient failures are not cached. Intended to live
// for one scheduler invocation; it is not safe for concurrent use.
type Memoized struct {
	inner Client
	cache map[string]memoEntry
}

func NewMemoized(inner Client) *Memoized {
	return &Memoized{
		inner: inner,
		cache: make(map[string]memoEntry),
	}
}

func (m *Memoized) Resolve(ctx context.Context, memberID string) (*Profile, error) {
	if entry, ok := m.cache[memberID]; ok {
		return entry.profile, entry.err
	}

	profile, err := m.inner.Resolve(ctx, memberID)
	var transient *TransientError
	if err == nil || !errors.As(err, &transient) {
		m.cache[memberID] = memoEntry{profile: profile, err: err}
	}
	return profile, err
}

// Cached reports whether a Resolve for memberID would be served from memory.
func (m *Memoized) Cached(memberID string) bool {
	_, ok := m.cache[memberID]
	return ok
}

func (m *Memoized) WriteTags(ctx context.Context, memberID string, tags []string) error {
	return m.inner.WriteTags(ctx, memberID, tags)
}
