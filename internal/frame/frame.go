// Package frame implements object windows: the tabbed view or editor of
// one object, built lazily tab by tab, and the registry of every window
// the session has open.
package frame

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/form"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// Names of the tabs every object may carry besides its field tabs.
const (
	OwnerTabName      = "Owner"
	PersonaeTabName   = "Personae"
	NotesTabName      = "Notes"
	HistoryTabName    = "History"
	ExpirationTabName = "Expiration"
	RemovalTabName    = "Removal"
)

// State is the load state of a Frame.
type State int

const (
	Building State = iota
	Loaded
)

func (s State) String() string {
	if s == Loaded {
		return "loaded"
	}
	return "building"
}

// Host is the session a frame belongs to.
type Host interface {
	form.Host
	// DiscardCreated deletes an object created in this transaction whose
	// window the user closed.
	DiscardCreated(ctx context.Context, inv schema.Invid) error
}

type options struct {
	title    string
	creating bool
}

// Option configures a Frame.
type Option func(*options)

// Title sets the window title.
func Title(s string) Option {
	return func(o *options) { o.title = s }
}

// Creating marks the window of an object created in this transaction.
func Creating() Option {
	return func(o *options) { o.creating = true }
}

// Frame is the window of one object.
type Frame struct {
	env      *form.Env
	host     Host
	obj      remote.Object
	invid    schema.Invid
	editable bool
	creating bool

	stopCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	title    string
	state    State
	loading  bool
	stopped  bool
	closed   bool
	approved bool
	tabs     []*Tab
	onClose  func(*Frame)
}

// New creates a frame for obj. Nothing is fetched until Load.
func New(env *form.Env, host Host, obj remote.Object, opts ...Option) *Frame {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	f := &Frame{
		env:      env,
		host:     host,
		obj:      obj,
		invid:    obj.Invid(),
		editable: obj.Editable(),
		creating: o.creating,
		title:    o.title,
	}
	if f.title == "" {
		f.title = f.invid.String()
	}
	f.stopCtx, f.stop = context.WithCancel(context.Background())
	return f
}

// Invid returns the object shown.
func (f *Frame) Invid() schema.Invid { return f.invid }

// Object returns the object handle the window was opened with.
func (f *Frame) Object() remote.Object { return f.obj }

// Editable reports whether the window edits its object.
func (f *Frame) Editable() bool { return f.editable }

// IsCreating reports whether the object was created in this transaction.
func (f *Frame) IsCreating() bool { return f.creating }

// Title returns the window title.
func (f *Frame) Title() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.title
}

// State returns the load state.
func (f *Frame) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Stopped reports whether Stop was called.
func (f *Frame) Stopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// ApprovedForClosing reports whether the user agreed to discard the
// created object of this window.
func (f *Frame) ApprovedForClosing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.approved
}

// Tabs returns the tabs in display order.
func (f *Frame) Tabs() []*Tab {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tabs)
}

// Tab returns the named tab, or nil.
func (f *Frame) Tab(name string) *Tab {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tabLocked(name)
}

func (f *Frame) tabLocked(name string) *Tab {
	for _, t := range f.tabs {
		if t.name == name {
			return t
		}
	}
	return nil
}

// Forms returns the forms of every built tab.
func (f *Frame) Forms() []*form.Container {
	var out []*form.Container
	for _, t := range f.Tabs() {
		out = append(out, t.Forms()...)
	}
	return out
}

// Notes returns the notes buffer once the notes tab was built.
func (f *Frame) Notes() *Notes {
	if t := f.Tab(NotesTabName); t != nil {
		return t.Notes()
	}
	return nil
}

// enter registers a unit of work that Stop must wait for and returns a
// context cancelled by either ctx or Stop.
func (f *Frame) enter(ctx context.Context) (context.Context, func(), error) {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return nil, nil, context.Canceled
	}
	f.wg.Add(1)
	f.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	unhook := context.AfterFunc(f.stopCtx, cancel)
	return ctx, func() {
		unhook()
		cancel()
		f.wg.Done()
	}, nil
}

// Load decides which tabs the object gets and builds the first one. The
// other tabs are built by ShowTab. It may be called once.
func (f *Frame) Load(ctx context.Context) error {
	ctx, done, err := f.enter(ctx)
	if err != nil {
		return err
	}
	defer done()

	f.mu.Lock()
	if f.loading || f.state == Loaded {
		f.mu.Unlock()
		return form.ErrAlreadyLoaded
	}
	f.loading = true
	f.mu.Unlock()

	templates, err := f.env.Templates.Templates(ctx, f.invid.Base)
	if err != nil {
		return f.report("load field templates", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	infos, err := f.obj.FieldInfos(ctx)
	if err != nil {
		return f.report("load fields", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tabs := f.plan(templates, infos)
	f.mu.Lock()
	f.tabs = tabs
	f.mu.Unlock()
	glog.V(2).Infof("frame: %s has %d tabs", f.invid, len(tabs))

	if len(tabs) > 0 {
		if err := f.build(ctx, tabs[0], infos); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.state = Loaded
	f.mu.Unlock()
	return nil
}

// Start runs Load in the background. The channel yields its outcome.
func (f *Frame) Start(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.Load(ctx) }()
	return done
}

// plan returns the tabs of the object in display order: one per field tab
// name, owner, personae for users, notes, history, and the date tabs when
// a date is set.
func (f *Frame) plan(templates []*schema.FieldTemplate, infos []schema.FieldInfo) []*Tab {
	present := make(map[uint16]schema.FieldInfo, len(infos))
	for _, info := range infos {
		present[info.ID] = info
	}
	has := func(id uint16) bool {
		_, ok := present[id]
		return ok
	}

	var tabs []*Tab
	seen := make(map[string]bool)
	for _, t := range templates {
		if t.BuiltIn || !has(t.ID) {
			continue
		}
		if f.invid.Base == schema.UserBase && t.ID == schema.UserAdminPersonae {
			continue
		}
		if !f.editable && !present[t.ID].Defined {
			continue
		}
		name := form.TabOf(t)
		if !seen[name] {
			seen[name] = true
			tabs = append(tabs, &Tab{name: name, kind: FieldsTab})
		}
	}

	base := f.env.Templates.Base(f.invid.Base)
	embedded := base != nil && base.Embedded
	if !embedded && has(schema.OwnerListField) {
		tabs = append(tabs, &Tab{name: OwnerTabName, kind: OwnerTab})
	}
	if f.invid.Base == schema.UserBase && has(schema.UserAdminPersonae) &&
		(f.editable || present[schema.UserAdminPersonae].Defined) {
		tabs = append(tabs, &Tab{name: PersonaeTabName, kind: PersonaeTab})
	}
	if has(schema.NotesField) {
		tabs = append(tabs, &Tab{name: NotesTabName, kind: NotesTab})
	}
	if !f.creating {
		tabs = append(tabs, &Tab{name: HistoryTabName, kind: HistoryTab})
	}
	if present[schema.ExpirationField].Defined {
		tabs = append(tabs, &Tab{name: ExpirationTabName, kind: ExpirationTab})
	}
	if present[schema.RemovalField].Defined {
		tabs = append(tabs, &Tab{name: RemovalTabName, kind: RemovalTab})
	}
	return tabs
}

// ShowTab builds the named tab on first selection and returns it.
func (f *Frame) ShowTab(ctx context.Context, name string) (*Tab, error) {
	ctx, done, err := f.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer done()

	t := f.Tab(name)
	if t == nil {
		return nil, fmt.Errorf("frame: %s has no %q tab", f.invid, name)
	}
	if err := f.build(ctx, t, nil); err != nil {
		return t, err
	}
	return t, nil
}

// build constructs t unless it already was. infos, when set, is the
// snapshot the first tab is rendered from.
func (f *Frame) build(ctx context.Context, t *Tab, infos []schema.FieldInfo) error {
	t.building.Lock()
	defer t.building.Unlock()
	if t.Built() {
		return nil
	}
	glog.V(2).Infof("frame: %s building tab %s", f.invid, t.name)

	var err error
	switch t.kind {
	case FieldsTab:
		opts := []form.Option{form.WithTab(t.name), form.OnDateChange(f.refreshDates)}
		if infos != nil {
			opts = append(opts, form.WithInfos(infos))
		}
		err = f.buildForm(ctx, t, opts...)
	case OwnerTab:
		err = f.buildForm(ctx, t, form.WithFields(schema.OwnerListField))
	case ExpirationTab:
		err = f.buildForm(ctx, t, form.WithFields(schema.ExpirationField))
	case RemovalTab:
		err = f.buildForm(ctx, t, form.WithFields(schema.RemovalField))
	case PersonaeTab:
		err = f.buildPersonae(ctx, t)
	case NotesTab:
		err = f.buildNotes(ctx, t)
	case HistoryTab:
		f.fetchHistory(t)
	}
	if err != nil && ctx.Err() != nil {
		t.dispose()
		return err
	}
	t.mu.Lock()
	t.built = true
	t.mu.Unlock()
	return err
}

func (f *Frame) buildForm(ctx context.Context, t *Tab, opts ...form.Option) error {
	c := form.NewContainer(f.env, f.obj, opts...)
	t.addForm(c)
	return c.Load(ctx)
}

// buildPersonae renders one form per admin persona of a user.
func (f *Frame) buildPersonae(ctx context.Context, t *Tab) error {
	fld, err := f.obj.Field(ctx, schema.UserAdminPersonae)
	if err != nil {
		return f.report("load personae", err)
	}
	v, err := fld.Value(ctx)
	if err != nil {
		return f.report("load personae", err)
	}
	personae, _ := v.([]schema.Invid)
	for _, p := range personae {
		if err := ctx.Err(); err != nil {
			return err
		}
		var r *remote.Result
		if f.editable {
			r, err = f.env.Session.EditObject(ctx, p)
		} else {
			r, err = f.env.Session.ViewObject(ctx, p)
		}
		if err != nil {
			f.report("open persona "+p.String(), err)
			continue
		}
		if !r.Succeeded() || r.Object == nil {
			glog.Warningf("frame: persona %s of %s: %s", p, f.invid, r.Reason)
			if f.env.Presenter != nil {
				f.env.Presenter.SetStatus(r.Reason)
			}
			continue
		}
		c := form.NewContainer(f.env, r.Object, form.WithPersona())
		t.addForm(c)
		if err := c.Load(ctx); err != nil {
			return err
		}
	}
	return nil
}

// refreshDates brings the date tabs in line with the object: a tab
// appears once its date is set and goes away once it is cleared.
func (f *Frame) refreshDates(ctx context.Context) {
	infos, err := f.obj.FieldInfos(ctx)
	if err != nil {
		f.report("refresh dates", err)
		return
	}
	set := map[uint16]bool{}
	for _, info := range infos {
		if info.ID == schema.ExpirationField || info.ID == schema.RemovalField {
			set[info.ID] = info.Defined
		}
	}

	var gone []*Tab
	f.mu.Lock()
	for _, d := range []struct {
		name string
		kind TabKind
		id   uint16
	}{
		{ExpirationTabName, ExpirationTab, schema.ExpirationField},
		{RemovalTabName, RemovalTab, schema.RemovalField},
	} {
		t := f.tabLocked(d.name)
		switch {
		case set[d.id] && t == nil:
			f.tabs = append(f.tabs, &Tab{name: d.name, kind: d.kind})
			glog.V(2).Infof("frame: %s gained tab %s", f.invid, d.name)
		case !set[d.id] && t != nil:
			f.tabs = slices.DeleteFunc(f.tabs, func(x *Tab) bool { return x == t })
			gone = append(gone, t)
		}
	}
	f.mu.Unlock()
	for _, t := range gone {
		t.dispose()
	}
}

// Update applies a rescan to every form of the window showing the
// rescanned object, nested forms included.
func (f *Frame) Update(ctx context.Context, rescan *remote.Rescan) error {
	ctx, done, err := f.enter(ctx)
	if err != nil {
		return nil
	}
	defer done()

	var errs []error
	fieldsBuilt := false
	for _, t := range f.Tabs() {
		if t.kind == FieldsTab && t.Built() {
			fieldsBuilt = true
		}
		for _, c := range t.Forms() {
			c.Walk(func(c *form.Container) {
				if c.Invid() != rescan.Invid {
					return
				}
				if rescan.All {
					errs = append(errs, c.UpdateAll(ctx))
				} else {
					errs = append(errs, c.Update(ctx, rescan.Fields...))
				}
			})
		}
	}
	if rescan.Invid != f.invid {
		return errors.Join(errs...)
	}
	if rescan.All || slices.Contains(rescan.Fields, schema.NotesField) {
		if n := f.Notes(); n != nil {
			errs = append(errs, n.reload(ctx))
		}
	}
	dates := rescan.All || slices.Contains(rescan.Fields, schema.ExpirationField) ||
		slices.Contains(rescan.Fields, schema.RemovalField)
	if dates && !fieldsBuilt {
		f.refreshDates(ctx)
	}
	return errors.Join(errs...)
}

// Relabel propagates a changed object label to the window.
func (f *Frame) Relabel(inv schema.Invid, label string) {
	if inv == f.invid && label != "" {
		f.mu.Lock()
		f.title = label
		f.mu.Unlock()
	}
	for _, c := range f.Forms() {
		c.RelabelInvid(inv, label)
	}
}

// FlushNotes sends buffered notes text to the server.
func (f *Frame) FlushNotes(ctx context.Context) error {
	n := f.Notes()
	if n == nil {
		return nil
	}
	_, err := n.Flush(ctx)
	return err
}

// RequestClose closes the window the way a user would. Closing the window
// of a newly created object discards the object once the user confirms.
// Closing an edit window keeps its changes in the transaction, again after
// confirmation. It reports whether the window closed.
func (f *Frame) RequestClose(ctx context.Context) (bool, error) {
	title := f.Title()
	switch {
	case f.creating:
		if !f.confirm(ctx, "Ok to discard "+title+"?",
			"Closing this window will discard the newly created object.") {
			return false, nil
		}
		f.mu.Lock()
		f.approved = true
		f.mu.Unlock()
		if err := f.host.DiscardCreated(ctx, f.invid); err != nil {
			f.mu.Lock()
			f.approved = false
			f.mu.Unlock()
			return false, err
		}
	case f.editable:
		if !f.confirm(ctx, "Ok to hide "+title+"?",
			"The changes made in this window are kept. They take effect when the transaction is committed and are lost if it is cancelled.") {
			return false, nil
		}
		if err := f.FlushNotes(ctx); err != nil {
			glog.Warningf("frame: notes of %s: %v", f.invid, err)
		}
	}
	f.Close()
	return true, nil
}

func (f *Frame) confirm(ctx context.Context, title, text string) bool {
	if f.env.Presenter == nil {
		return true
	}
	return f.env.Presenter.Confirm(ctx, title, text)
}

// Stop aborts any load in progress and blocks until it has unwound. Later
// loads fail at once.
func (f *Frame) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	f.stop()
	f.wg.Wait()
}

// Close stops the window, disposes every form and drops the window from
// its registry.
func (f *Frame) Close() {
	f.Stop()
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	tabs := f.tabs
	f.tabs = nil
	onClose := f.onClose
	f.mu.Unlock()

	for _, t := range tabs {
		t.dispose()
	}
	glog.V(2).Infof("frame: closed %s", f.invid)
	if onClose != nil {
		onClose(f)
	}
}

// Closed reports whether Close was called.
func (f *Frame) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Frame) report(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	glog.Errorf("frame: %s %s: %v", f.invid, op, err)
	if f.env.Presenter != nil {
		f.env.Presenter.ShowError("Error", op+": "+err.Error())
	}
	return remote.Wrap(op, err)
}
