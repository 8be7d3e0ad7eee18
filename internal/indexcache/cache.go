// Package indexcache holds built indexes across requests so repeated queries
// against the same folder do not pay for a rebuild. It is process-wide,
// best-effort state: loss on restart is fine because the object store remains
// the source of truth.
package indexcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/padhai/ragserver/internal/vectorindex"
)

type Cache struct {
	entries *expirable.LRU[string, *vectorindex.Index]
	group   singleflight.Group
}

// New creates a cache bounded by size entries, each expiring ttl after
// insertion. The size cap keeps memory bounded under many folders; eviction
// only costs a rebuild on the next query.
func New(size int, ttl time.Duration) *Cache {
	return &Cache{
		entries: expirable.NewLRU[string, *vectorindex.Index](size, nil, ttl),
	}
}

type BuildFunc func(ctx context.Context) (*vectorindex.Index, error)

// GetOrBuild returns the cached index for (owner, folder) or builds it.
// Concurrent callers for the same key share a single build; callers for
// different keys proceed independently. The build runs detached from the
// caller's cancellation so an abandoned request still populates the cache
// for the callers waiting behind it.
func (c *Cache) GetOrBuild(ctx context.Context, owner, folder string, build BuildFunc) (*vectorindex.Index, error) {
	key := Key(owner, folder)
	if idx, ok := c.entries.Get(key); ok {
		return idx, nil
	}
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check: another flight may have finished between the miss
		// above and acquiring the flight.
		if idx, ok := c.entries.Get(key); ok {
			return idx, nil
		}
		idx, err := build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, idx)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*vectorindex.Index), nil
}

// Build runs a fresh build for the key, ignoring any cached entry, and
// stores the result. It shares the per-key flight with GetOrBuild: an
// explicit rebuild and a cold query for the same folder never run two builds
// at once — whichever arrives second waits for the first and gets its index.
func (c *Cache) Build(ctx context.Context, owner, folder string, build BuildFunc) (*vectorindex.Index, error) {
	key := Key(owner, folder)
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		idx, err := build(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.entries.Add(key, idx)
		return idx, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*vectorindex.Index), nil
}

func (c *Cache) Get(owner, folder string) (*vectorindex.Index, bool) {
	return c.entries.Get(Key(owner, folder))
}

// Put replaces any cached index for the key. Replacement is atomic from a
// reader's perspective: readers see either the old or the new index, never a
// partially built one.
func (c *Cache) Put(owner, folder string, idx *vectorindex.Index) {
	c.entries.Add(Key(owner, folder), idx)
}

func (c *Cache) Remove(owner, folder string) {
	c.entries.Remove(Key(owner, folder))
}

func (c *Cache) Values() []*vectorindex.Index {
	return c.entries.Values()
}

func (c *Cache) Len() int {
	return c.entries.Len()
}

// Key joins owner and folder into the cache key. The owner prefix is what
// partitions indexes per user.
func Key(owner, folder string) string {
	return owner + "/" + folder
}
