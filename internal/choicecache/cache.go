// Package choicecache shares pick lists between every form of a session.
// Lists are keyed by the opaque key the server attaches to a field; fields
// without a key are always fetched fresh.
package choicecache

import (
	"context"
	"fmt"
	"slices"

	"github.com/golang/glog"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// DefaultSize is the number of lists kept when no size is configured.
const DefaultSize = 256

// Cache is a bounded cross-form cache of choice lists. A concurrent miss
// on the same key may fetch twice; either result is valid.
type Cache struct {
	lists *lru.Cache[string, []remote.Choice]
}

// New creates a cache holding at most size lists.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	l, err := lru.New[string, []remote.Choice](size)
	if err != nil {
		return nil, fmt.Errorf("create choice cache: %w", err)
	}
	return &Cache{lists: l}, nil
}

// Get returns the cached list for key.
func (c *Cache) Get(key string) ([]remote.Choice, bool) {
	return c.lists.Get(key)
}

// Put stores a list under key.
func (c *Cache) Put(key string, items []remote.Choice) {
	c.lists.Add(key, items)
}

// Purge drops every cached list. Called at transaction boundaries.
func (c *Cache) Purge() {
	c.lists.Purge()
}

// Relabel rewrites the label of inv in every cached list that offers it.
// Lists are replaced rather than edited since callers may still hold the
// old slice.
func (c *Cache) Relabel(inv schema.Invid, label string) {
	for _, key := range c.lists.Keys() {
		items, ok := c.lists.Peek(key)
		if !ok {
			continue
		}
		i := slices.IndexFunc(items, func(ch remote.Choice) bool { return ch.Value == any(inv) })
		if i < 0 || items[i].Label == label {
			continue
		}
		next := slices.Clone(items)
		next[i].Label = label
		c.lists.Add(key, next)
		glog.V(3).Infof("choicecache: relabeled %s in %q", inv, key)
	}
}

// Len returns the number of cached lists.
func (c *Cache) Len() int {
	return c.lists.Len()
}

// Lookup returns the choice list of f, consulting the cache when the field
// has a cache key and populating it on a miss.
func (c *Cache) Lookup(ctx context.Context, f remote.Field) ([]remote.Choice, error) {
	key, err := f.ChoicesKey(ctx)
	if err != nil {
		return nil, remote.Wrap("choices key", err)
	}
	if key != "" {
		if items, ok := c.lists.Get(key); ok {
			glog.V(3).Infof("choicecache: hit %q", key)
			return items, nil
		}
	}
	items, err := f.Choices(ctx)
	if err != nil {
		return nil, remote.Wrap("choices", err)
	}
	if key != "" {
		glog.V(3).Infof("choicecache: stored %q (%d items)", key, len(items))
		c.lists.Add(key, items)
	}
	return items, nil
}
