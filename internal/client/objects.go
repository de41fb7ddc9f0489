package client

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/activity"
	"github.com/matthewbaird/ganyclient/internal/frame"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/tree"
)

// ViewObject opens a view-only window on inv.
func (c *Client) ViewObject(ctx context.Context, inv schema.Invid) error {
	_, err := c.OpenView(ctx, inv)
	return err
}

// EditObject opens an edit window on inv.
func (c *Client) EditObject(ctx context.Context, inv schema.Invid) error {
	_, err := c.OpenEdit(ctx, inv)
	return err
}

// OpenView opens and loads a view-only window on inv. A refused view
// returns a nil frame.
func (c *Client) OpenView(ctx context.Context, inv schema.Invid) (*frame.Frame, error) {
	r, err := c.sess.ViewObject(ctx, inv)
	if err != nil {
		return nil, c.report("view "+inv.String(), err)
	}
	final, err := c.HandleResult(ctx, r)
	if err != nil {
		return nil, c.report("view "+inv.String(), err)
	}
	if !final.Succeeded() || final.Object == nil {
		c.rejected("Couldn't view object", final)
		return nil, nil
	}
	label := c.label(ctx, inv)
	c.record(activity.KindView, inv, label, "viewed "+label)
	return c.openWindow(ctx, final.Object, frame.Title(label))
}

// OpenEdit opens and loads an edit window on inv. An object already open
// for editing gets no second window; its existing one is returned.
func (c *Client) OpenEdit(ctx context.Context, inv schema.Invid) (*frame.Frame, error) {
	if c.IsDeleted(inv) {
		c.showError("Object Already Deleted", "You can't edit "+c.label(ctx, inv)+", it has been deleted in this transaction.")
		return nil, nil
	}
	for _, f := range c.windows.ByInvid(inv) {
		if f.Editable() {
			c.setStatus("Already editing " + f.Title())
			return f, nil
		}
	}

	r, err := c.sess.EditObject(ctx, inv)
	if err != nil {
		return nil, c.report("edit "+inv.String(), err)
	}
	final, err := c.HandleResult(ctx, r)
	if err != nil {
		return nil, c.report("edit "+inv.String(), err)
	}
	if !final.Succeeded() || final.Object == nil {
		c.rejected("Couldn't edit object", final)
		return nil, nil
	}

	label := c.label(ctx, inv)
	c.markChanged(inv, label)
	c.record(activity.KindEdit, inv, label, "editing "+label)
	return c.openWindow(ctx, final.Object, frame.Title(label))
}

// CreateObject creates a new object of base and opens it in a creating
// window.
func (c *Client) CreateObject(ctx context.Context, base uint16) (*frame.Frame, error) {
	r, err := c.sess.CreateObject(ctx, base)
	if err != nil {
		return nil, c.report("create "+c.baseName(base), err)
	}
	return c.finishCreate(ctx, base, r, "created a new "+c.baseName(base), activity.KindCreate)
}

// CloneObject creates a new object of the same base as inv, copying the
// values the server lets it copy, and opens it in a creating window.
func (c *Client) CloneObject(ctx context.Context, inv schema.Invid) (*frame.Frame, error) {
	r, err := c.sess.CloneObject(ctx, inv)
	if err != nil {
		return nil, c.report("clone "+inv.String(), err)
	}
	return c.finishCreate(ctx, inv.Base, r, "cloned "+c.label(ctx, inv), activity.KindClone)
}

func (c *Client) finishCreate(ctx context.Context, base uint16, r *remote.Result, summary string, kind activity.Kind) (*frame.Frame, error) {
	final, err := c.HandleResult(ctx, r)
	if err != nil {
		return nil, c.report("create "+c.baseName(base), err)
	}
	if !final.Succeeded() || final.Object == nil {
		c.rejected("Couldn't create object", final)
		return nil, nil
	}
	inv := final.Invid
	if inv.IsZero() {
		inv = final.Object.Invid()
	}

	h := schema.ObjectHandle{Invid: inv, Label: tree.NewObjectLabel, Editable: true}
	ci := &CacheInfo{Base: base, CurrentLabel: h.Label, Handle: &h}
	loaded := c.tree.Loaded(base)
	c.mu.Lock()
	c.created[inv] = ci
	if !loaded {
		c.createdWithoutNodes[inv] = ci
	}
	if list, ok := c.lists[base]; ok {
		c.lists[base] = append(list, h)
	}
	c.mu.Unlock()
	if loaded {
		c.tree.Insert(h, c.iconFunc()(h))
	}
	c.SomethingChanged()
	c.record(kind, inv, h.Label, summary)
	glog.V(2).Infof("client: %s %s", summary, inv)

	return c.openWindow(ctx, final.Object, frame.Creating(), frame.Title("New "+c.baseName(base)))
}

// openWindow registers a window on obj and loads it. A window that fails
// to load is closed again.
func (c *Client) openWindow(ctx context.Context, obj remote.Object, opts ...frame.Option) (*frame.Frame, error) {
	f := frame.New(c.env, c, obj, opts...)
	c.windows.Add(f)
	if err := f.Load(ctx); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// markChanged records inv as modified, remembering its handle for cancel.
func (c *Client) markChanged(inv schema.Invid, label string) {
	n, hasNode := c.tree.Node(inv)
	c.mu.Lock()
	_, created := c.created[inv]
	_, seen := c.changed[inv]
	if !created && !seen {
		ci := &CacheInfo{Base: inv.Base, OriginalLabel: label, CurrentLabel: label}
		if hasNode {
			h := n.Handle
			orig := n.Handle
			ci.Handle, ci.OriginalHandle = &h, &orig
		}
		c.changed[inv] = ci
	}
	c.mu.Unlock()
	c.refreshIcon(inv)
}

// DeleteObject marks inv for deletion when the transaction commits. A
// created object is discarded at once.
func (c *Client) DeleteObject(ctx context.Context, inv schema.Invid) (bool, error) {
	label := c.label(ctx, inv)
	if c.IsDeleted(inv) {
		c.showError("Object Already Deleted", label+" has already been deleted in this transaction.")
		return false, nil
	}
	approved := c.windows.IsApprovedForClosing(inv)
	if c.windows.IsOpenForEdit(inv) && !approved {
		c.showError("Object being edited", "You can't delete "+label+" while it is open for editing. Close its window first.")
		return false, nil
	}

	r, err := c.sess.DeleteObject(ctx, inv)
	if err != nil {
		return false, c.report("delete "+label, err)
	}
	final, err := c.HandleResult(ctx, r)
	if err != nil {
		return false, c.report("delete "+label, err)
	}
	if !final.Succeeded() {
		c.rejected("Couldn't delete object", final)
		return false, nil
	}

	n, hasNode := c.tree.Node(inv)
	c.mu.Lock()
	_, created := c.created[inv]
	if created {
		delete(c.created, inv)
		delete(c.createdWithoutNodes, inv)
		c.dropListed(inv)
	} else {
		ci := &CacheInfo{Base: inv.Base, OriginalLabel: label, CurrentLabel: label}
		if old, ok := c.changed[inv]; ok && old.OriginalHandle != nil {
			ci.OriginalHandle = old.OriginalHandle
			ci.OriginalLabel = old.OriginalLabel
		} else if hasNode {
			orig := n.Handle
			ci.OriginalHandle = &orig
		}
		ci.Handle = ci.OriginalHandle
		c.deleted[inv] = ci
	}
	c.mu.Unlock()

	if created {
		c.tree.Remove(inv)
		c.setStatus(label + " has been discarded.")
	} else {
		c.refreshIcon(inv)
		c.setStatus(label + " will be deleted when commit is clicked.")
	}
	if !approved {
		c.windows.CloseInvid(inv)
	}
	c.SomethingChanged()
	c.record(activity.KindDelete, inv, label, "deleted "+label)
	return true, nil
}

// DiscardCreated deletes a created object whose window the user closed.
func (c *Client) DiscardCreated(ctx context.Context, inv schema.Invid) error {
	ok, err := c.DeleteObject(ctx, inv)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("client: %s could not be discarded", inv)
	}
	return nil
}

// InactivateObject asks the server to inactivate inv.
func (c *Client) InactivateObject(ctx context.Context, inv schema.Invid) (bool, error) {
	label := c.label(ctx, inv)
	if c.IsDeleted(inv) {
		c.showError("Object Already Deleted", label+" has been deleted in this transaction and can't be inactivated.")
		return false, nil
	}
	if c.windows.IsOpenForEdit(inv) {
		c.showError("Object being edited", "You can't inactivate "+label+" while it is open for editing. Close its window first.")
		return false, nil
	}
	r, err := c.sess.InactivateObject(ctx, inv)
	if err != nil {
		return false, c.report("inactivate "+label, err)
	}
	return c.finishActivation(ctx, inv, label, r, true)
}

// ReactivateObject asks the server to bring an inactive inv back.
func (c *Client) ReactivateObject(ctx context.Context, inv schema.Invid) (bool, error) {
	label := c.label(ctx, inv)
	if c.IsDeleted(inv) {
		c.showError("Object Already Deleted", label+" has been deleted in this transaction and can't be reactivated.")
		return false, nil
	}
	r, err := c.sess.ReactivateObject(ctx, inv)
	if err != nil {
		return false, c.report("reactivate "+label, err)
	}
	return c.finishActivation(ctx, inv, label, r, false)
}

func (c *Client) finishActivation(ctx context.Context, inv schema.Invid, label string, r *remote.Result, inactive bool) (bool, error) {
	op, kind := "reactivate", activity.KindReactivate
	if inactive {
		op, kind = "inactivate", activity.KindInactivate
	}
	final, err := c.HandleResult(ctx, r)
	if err != nil {
		return false, c.report(op+" "+label, err)
	}
	if !final.Succeeded() {
		c.rejected("Couldn't "+op+" object", final)
		return false, nil
	}

	c.markChanged(inv, label)
	if n, ok := c.tree.Node(inv); ok {
		h := n.Handle
		h.Inactive = inactive
		h.RemovalSet = inactive
		c.mu.Lock()
		if ci, ok := c.changed[inv]; ok {
			ci.Handle = &h
		}
		c.mu.Unlock()
		c.tree.SetHandle(h, c.iconFunc()(h))
	}
	c.SomethingChanged()
	if inactive {
		c.setStatus(label + " will be inactivated when commit is clicked.")
	} else {
		c.setStatus(label + " will be reactivated when commit is clicked.")
	}
	c.record(kind, inv, label, op+"d "+label)
	return true, nil
}
