// Package client is the session coordinator of the Ganymede client. It
// owns the object tree, the open windows and the bookkeeping of what the
// current transaction creates, deletes and changes, and it reconciles all
// of them with the server on commit and cancel.
package client

import (
	"context"
	"errors"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/activity"
	"github.com/matthewbaird/ganyclient/internal/choicecache"
	"github.com/matthewbaird/ganyclient/internal/dispatch"
	"github.com/matthewbaird/ganyclient/internal/form"
	"github.com/matthewbaird/ganyclient/internal/frame"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/tree"
	"github.com/matthewbaird/ganyclient/internal/ui"
)

// DefaultDescription names the transactions the client opens.
const DefaultDescription = "ganyclient session"

// CacheInfo is what the client remembers about an object the transaction
// touched, enough to restore or discard its tree node later.
type CacheInfo struct {
	Base           uint16
	OriginalLabel  string
	CurrentLabel   string
	Handle         *schema.ObjectHandle
	OriginalHandle *schema.ObjectHandle
}

type options struct {
	presenter   ui.Presenter
	queue       *dispatch.Queue
	recorder    *activity.Recorder
	cacheSize   int
	fieldWidth  int
	description string
}

// Option configures a Client.
type Option func(*options)

// WithPresenter sets where dialogs and status text go.
func WithPresenter(p ui.Presenter) Option {
	return func(o *options) { o.presenter = p }
}

// WithQueue sets the dispatch queue background results are posted to.
func WithQueue(q *dispatch.Queue) Option {
	return func(o *options) { o.queue = q }
}

// WithActivity records every user-visible operation.
func WithActivity(r *activity.Recorder) Option {
	return func(o *options) { o.recorder = r }
}

// WithChoiceCacheSize bounds the number of cached choice lists.
func WithChoiceCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithFieldWidth sets the column width of plain text fields.
func WithFieldWidth(n int) Option {
	return func(o *options) { o.fieldWidth = n }
}

// WithDescription sets the description of opened transactions.
func WithDescription(s string) Option {
	return func(o *options) { o.description = s }
}

// Client is one logged-in client session.
type Client struct {
	sess        remote.Session
	env         *form.Env
	templates   *schema.Registry
	choices     *choicecache.Cache
	presenter   ui.Presenter
	tree        *tree.Tree
	windows     *frame.Windows
	activity    *activity.Recorder
	description string

	mu      sync.Mutex
	deleted map[schema.Invid]*CacheInfo
	created map[schema.Invid]*CacheInfo
	changed map[schema.Invid]*CacheInfo
	// createdWithoutNodes holds created objects whose base folder was not
	// listed yet. They get their node when the folder is loaded.
	createdWithoutNodes map[schema.Invid]*CacheInfo
	lists               map[uint16][]schema.ObjectHandle
	dirty               bool
}

// Connect loads the bases of sess, builds the tree and opens the first
// transaction.
func Connect(ctx context.Context, sess remote.Session, opts ...Option) (*Client, error) {
	o := options{description: DefaultDescription}
	for _, opt := range opts {
		opt(&o)
	}
	cache, err := choicecache.New(o.cacheSize)
	if err != nil {
		return nil, err
	}
	bases, err := sess.Bases(ctx)
	if err != nil {
		return nil, remote.Wrap("list bases", err)
	}
	reg := schema.NewRegistry(sess.FieldTemplates)
	for _, b := range bases {
		reg.RegisterBase(b)
	}

	c := &Client{
		sess:                sess,
		templates:           reg,
		choices:             cache,
		presenter:           o.presenter,
		tree:                tree.New(bases),
		windows:             frame.NewWindows(),
		activity:            o.recorder,
		description:         o.description,
		deleted:             make(map[schema.Invid]*CacheInfo),
		created:             make(map[schema.Invid]*CacheInfo),
		changed:             make(map[schema.Invid]*CacheInfo),
		createdWithoutNodes: make(map[schema.Invid]*CacheInfo),
		lists:               make(map[uint16][]schema.ObjectHandle),
	}
	c.env = &form.Env{
		Session:    sess,
		Templates:  reg,
		Choices:    cache,
		Presenter:  o.presenter,
		Host:       c,
		Queue:      o.queue,
		FieldWidth: o.fieldWidth,
	}
	if err := c.openTransaction(ctx); err != nil {
		return nil, err
	}
	glog.V(2).Infof("client: connected, %d bases", len(bases))
	return c, nil
}

// Tree returns the object tree.
func (c *Client) Tree() *tree.Tree { return c.tree }

// Windows returns the registry of open windows.
func (c *Client) Windows() *frame.Windows { return c.windows }

// Templates returns the schema registry of the session.
func (c *Client) Templates() *schema.Registry { return c.templates }

// Choices returns the shared choice-list cache.
func (c *Client) Choices() *choicecache.Cache { return c.choices }

// Env returns the environment forms of this session are built with.
func (c *Client) Env() *form.Env { return c.env }

// Dirty reports whether the transaction holds uncommitted changes.
func (c *Client) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// SomethingChanged marks the transaction dirty.
func (c *Client) SomethingChanged() {
	c.mu.Lock()
	if !c.dirty {
		glog.V(2).Infof("client: transaction is dirty")
	}
	c.dirty = true
	c.mu.Unlock()
}

// IsDeleted reports whether inv is pending deletion.
func (c *Client) IsDeleted(inv schema.Invid) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.deleted[inv]
	return ok
}

// IsCreated reports whether inv was created in this transaction.
func (c *Client) IsCreated(inv schema.Invid) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.created[inv]
	return ok
}

// IsChanged reports whether inv was otherwise modified in this transaction.
func (c *Client) IsChanged(inv schema.Invid) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.changed[inv]
	return ok
}

// Pending returns copies of the deleted, created and changed sets.
func (c *Client) Pending() (deleted, created, changed map[schema.Invid]CacheInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := func(m map[schema.Invid]*CacheInfo) map[schema.Invid]CacheInfo {
		out := make(map[schema.Invid]CacheInfo, len(m))
		for k, v := range m {
			out[k] = *v
		}
		return out
	}
	return cp(c.deleted), cp(c.created), cp(c.changed)
}

// HandleResult drives the wizard of r, if any, to its end and applies the
// rescan and relabel events it carries whatever the outcome.
func (c *Client) HandleResult(ctx context.Context, r *remote.Result) (*remote.Result, error) {
	final, err := remote.Drive(ctx, r, c.asker())
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, ev := range final.Events {
		switch e := ev.(type) {
		case *remote.Rescan:
			glog.V(2).Infof("client: rescan %s all=%t fields=%v", e.Invid, e.All, e.Fields)
			errs = append(errs, c.windows.RefreshObject(ctx, e))
		case *remote.Relabel:
			c.relabel(e.Invid, e.Label)
		}
	}
	if err := errors.Join(errs...); err != nil {
		glog.Warningf("client: applying rescans: %v", err)
	}
	return final, nil
}

func (c *Client) asker() remote.Asker {
	if c.presenter == nil {
		return nil
	}
	return c.presenter
}

// relabel propagates a new label to the windows, the tree, the cached
// pick lists and the tracking sets.
func (c *Client) relabel(inv schema.Invid, label string) {
	glog.V(2).Infof("client: %s is now %q", inv, label)
	c.windows.Relabel(inv, label)
	c.tree.Relabel(inv, label)
	c.choices.Relabel(inv, label)
	c.mu.Lock()
	for _, m := range []map[schema.Invid]*CacheInfo{c.created, c.changed, c.createdWithoutNodes} {
		if ci, ok := m[inv]; ok {
			ci.CurrentLabel = label
			if ci.Handle != nil {
				ci.Handle.Label = label
			}
		}
	}
	c.mu.Unlock()
}

// status is the transaction state of every tracked object.
func (c *Client) status() map[schema.Invid]tree.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[schema.Invid]tree.Status, len(c.deleted)+len(c.created)+len(c.changed))
	set := func(m map[schema.Invid]*CacheInfo, apply func(*tree.Status)) {
		for inv := range m {
			st := out[inv]
			apply(&st)
			out[inv] = st
		}
	}
	set(c.deleted, func(s *tree.Status) { s.Deleting = true })
	set(c.created, func(s *tree.Status) { s.Creating = true })
	set(c.changed, func(s *tree.Status) { s.Changed = true })
	return out
}

// iconFunc returns the icon policy for a snapshot of the tracking sets.
// The tree calls it under its own lock, so it must not take c.mu.
func (c *Client) iconFunc() tree.IconFunc {
	st := c.status()
	return func(h schema.ObjectHandle) tree.Icon {
		return tree.DecideIcon(h, st[h.Invid])
	}
}

// refreshIcon recomputes the icon of the node of inv.
func (c *Client) refreshIcon(inv schema.Invid) {
	n, ok := c.tree.Node(inv)
	if !ok {
		return
	}
	c.tree.SetIcon(inv, c.iconFunc()(n.Handle))
}

func (c *Client) baseName(base uint16) string {
	if b := c.templates.Base(base); b != nil {
		return b.Name
	}
	return "Object"
}

// label returns the best known label of inv.
func (c *Client) label(ctx context.Context, inv schema.Invid) string {
	if n, ok := c.tree.Node(inv); ok && n.Handle.Label != "" {
		return n.Handle.Label
	}
	l, err := c.sess.ObjectLabel(ctx, inv)
	if err != nil || l == "" {
		return inv.String()
	}
	return l
}

// report shows err to the user and returns it as a *remote.CallError.
func (c *Client) report(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	glog.Errorf("client: %s: %v", op, err)
	if c.presenter != nil {
		c.presenter.ShowError("Error", op+": "+err.Error())
	}
	return remote.Wrap(op, err)
}

func (c *Client) showError(title, text string) {
	glog.Warningf("client: %s: %s", title, text)
	if c.presenter != nil {
		c.presenter.ShowError(title, text)
	}
}

func (c *Client) setStatus(text string) {
	if c.presenter != nil {
		c.presenter.SetStatus(text)
	}
}

// rejected surfaces a rejection nobody was asked about.
func (c *Client) rejected(title string, r *remote.Result) {
	glog.V(2).Infof("client: %s: %s", title, r.Reason)
	if !r.Interacted {
		c.showError(title, r.Reason)
	}
}

func (c *Client) record(kind activity.Kind, inv schema.Invid, label, summary string) {
	c.activity.Record(kind, inv, label, summary)
}
