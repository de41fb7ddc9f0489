package client

import (
	"context"
	"fmt"
	"slices"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/matthewbaird/ganyclient/internal/activity"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// maxRefreshers bounds the concurrent object-list queries after commit.
const maxRefreshers = 4

func (c *Client) openTransaction(ctx context.Context) error {
	r, err := c.sess.OpenTransaction(ctx, c.description)
	if err != nil {
		return c.report("open transaction", err)
	}
	final, err := c.HandleResult(ctx, r)
	if err != nil {
		return c.report("open transaction", err)
	}
	if !final.Succeeded() {
		return c.report("open transaction", fmt.Errorf("%s", final.Reason))
	}
	c.choices.Purge()
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	glog.V(2).Infof("client: transaction open")
	return nil
}

// Commit flushes buffered notes and commits the transaction. On success
// the tree is brought in line with the server and a new transaction is
// opened. A rejection the user can still fix leaves everything as it was;
// a rejection that aborted the transaction is cleaned up like a cancel.
// It reports whether the commit went through.
func (c *Client) Commit(ctx context.Context) (bool, error) {
	if err := c.windows.FlushNotes(ctx); err != nil {
		glog.Warningf("client: flushing notes before commit: %v", err)
	}
	r, err := c.sess.CommitTransaction(ctx)
	if err != nil {
		return false, c.report("commit", err)
	}
	final, err := c.HandleResult(ctx, r)
	if err != nil {
		return false, c.report("commit", err)
	}

	switch {
	case final.Succeeded():
		c.setStatus("Transaction successfully committed.")
		c.windows.CloseEditables()
		bases := c.touchedBases()
		deleted, _, _ := c.drain()
		for inv := range deleted {
			c.tree.Remove(inv)
		}
		if err := c.refreshBases(ctx, bases); err != nil {
			glog.Warningf("client: refresh after commit: %v", err)
		}
		c.record(activity.KindCommit, schema.Invid{}, "", "committed the transaction")
		return true, c.openTransaction(ctx)

	case final.Aborted:
		c.rejected("Commit Failure", final)
		c.windows.CloseEditables()
		c.revert()
		c.record(activity.KindAbort, schema.Invid{}, "", "commit aborted: "+final.Reason)
		return false, c.openTransaction(ctx)

	default:
		c.rejected("Commit Failure", final)
		return false, nil
	}
}

// Cancel closes every window, aborts the transaction, restores the tree
// to its state before the transaction and opens a new one.
func (c *Client) Cancel(ctx context.Context) error {
	c.windows.CloseAll()
	r, err := c.sess.AbortTransaction(ctx)
	if err != nil {
		return c.report("cancel", err)
	}
	final, err := c.HandleResult(ctx, r)
	if err != nil {
		return c.report("cancel", err)
	}
	if !final.Succeeded() {
		c.rejected("Cancel Failure", final)
	}
	c.revert()
	c.setStatus("Transaction cancelled.")
	c.record(activity.KindCancel, schema.Invid{}, "", "cancelled the transaction")
	return c.openTransaction(ctx)
}

// drain empties the tracking sets and returns what they held.
func (c *Client) drain() (deleted, created, changed map[schema.Invid]*CacheInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	deleted, created, changed = c.deleted, c.created, c.changed
	c.deleted = make(map[schema.Invid]*CacheInfo)
	c.created = make(map[schema.Invid]*CacheInfo)
	c.changed = make(map[schema.Invid]*CacheInfo)
	c.createdWithoutNodes = make(map[schema.Invid]*CacheInfo)
	for inv := range deleted {
		c.dropListed(inv)
	}
	return deleted, created, changed
}

// revert puts the tree back the way it was before the transaction:
// deleted and changed objects get their original handles back and
// created ones disappear.
func (c *Client) revert() {
	deleted, created, changed := c.drain()
	c.mu.Lock()
	for inv := range created {
		c.dropListed(inv)
	}
	c.mu.Unlock()

	for inv := range created {
		c.tree.Remove(inv)
	}
	icon := c.iconFunc()
	for _, m := range []map[schema.Invid]*CacheInfo{changed, deleted} {
		for inv, ci := range m {
			if ci.OriginalHandle == nil {
				continue
			}
			if _, ok := c.tree.Node(inv); ok {
				h := *ci.OriginalHandle
				c.tree.Insert(h, icon(h))
			}
		}
	}
	glog.V(2).Infof("client: reverted %d deleted, %d created, %d changed",
		len(deleted), len(created), len(changed))
}

// touchedBases returns the listed bases the transaction touched.
func (c *Client) touchedBases() []uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint16
	for _, m := range []map[schema.Invid]*CacheInfo{c.deleted, c.created, c.changed} {
		for inv := range m {
			if !slices.Contains(out, inv.Base) && c.tree.Loaded(inv.Base) {
				out = append(out, inv.Base)
			}
		}
	}
	slices.Sort(out)
	return out
}

// refreshBases queries the object lists of bases concurrently and merges
// each into the tree.
func (c *Client) refreshBases(ctx context.Context, bases []uint16) error {
	lists := make([][]schema.ObjectHandle, len(bases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxRefreshers)
	for i, base := range bases {
		g.Go(func() error {
			handles, err := c.sess.QueryByType(gctx, base, false)
			if err != nil {
				return fmt.Errorf("list %s: %w", c.baseName(base), err)
			}
			lists[i] = handles
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, base := range bases {
		c.mergeBase(base, lists[i])
	}
	return nil
}
