package client

import (
	"context"
	"slices"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/tree"
)

// LoadBase lists the objects of base into the tree unless it already was.
func (c *Client) LoadBase(ctx context.Context, base uint16) error {
	if c.tree.Loaded(base) {
		return nil
	}
	_, err := c.RefreshObjects(ctx, base)
	return err
}

// RefreshObjects merges the server's object list of base into the tree.
// Objects deleted in this transaction keep their node until commit.
func (c *Client) RefreshObjects(ctx context.Context, base uint16) (tree.MergeStats, error) {
	handles, err := c.sess.QueryByType(ctx, base, false)
	if err != nil {
		return tree.MergeStats{}, c.report("list "+c.baseName(base), err)
	}
	return c.mergeBase(base, handles), nil
}

func (c *Client) mergeBase(base uint16, handles []schema.ObjectHandle) tree.MergeStats {
	c.mu.Lock()
	c.lists[base] = slices.Clone(handles)
	shown := slices.Clone(handles)
	for inv, ci := range c.deleted {
		if inv.Base == base && ci.OriginalHandle != nil && !listed(shown, inv) {
			shown = append(shown, *ci.OriginalHandle)
		}
	}
	for inv := range c.createdWithoutNodes {
		if inv.Base == base {
			delete(c.createdWithoutNodes, inv)
		}
	}
	c.mu.Unlock()

	stats := c.tree.Merge(base, shown, c.iconFunc())
	glog.V(2).Infof("client: merged %s: +%d ~%d -%d", c.baseName(base),
		stats.Inserted, stats.Updated, stats.Removed)
	return stats
}

func listed(hs []schema.ObjectHandle, inv schema.Invid) bool {
	return slices.ContainsFunc(hs, func(h schema.ObjectHandle) bool { return h.Invid == inv })
}

// ObjectList returns the objects of base, from the per-base cache when it
// holds them.
func (c *Client) ObjectList(ctx context.Context, base uint16) ([]schema.ObjectHandle, error) {
	c.mu.Lock()
	list, ok := c.lists[base]
	c.mu.Unlock()
	if ok {
		return slices.Clone(list), nil
	}
	handles, err := c.sess.QueryByType(ctx, base, false)
	if err != nil {
		return nil, c.report("list "+c.baseName(base), err)
	}
	c.mu.Lock()
	c.lists[base] = slices.Clone(handles)
	c.mu.Unlock()
	return handles, nil
}

// dropListed removes inv from the cached object list of its base. c.mu
// must be held.
func (c *Client) dropListed(inv schema.Invid) {
	list, ok := c.lists[inv.Base]
	if !ok {
		return
	}
	c.lists[inv.Base] = slices.DeleteFunc(list, func(h schema.ObjectHandle) bool { return h.Invid == inv })
}
