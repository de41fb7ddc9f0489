package form

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/binding"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/widget"
)

// DefaultTab is the tab of fields whose template names none.
const DefaultTab = "General"

// State is the load state of a Container.
type State int

const (
	Unloaded State = iota
	Loading
	Loaded
)

func (s State) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unloaded"
	}
}

type options struct {
	tab      string
	fields   map[uint16]bool
	persona  bool
	infos    []schema.FieldInfo
	hasInfos bool
	embedded bool
	onDates  func(ctx context.Context)
}

// Option configures a Container.
type Option func(*options)

// WithTab renders only the fields of the named tab.
func WithTab(name string) Option {
	return func(o *options) { o.tab = name }
}

// WithFields renders exactly the listed fields. Built-in fields are shown
// only when listed here.
func WithFields(ids ...uint16) Option {
	return func(o *options) {
		o.fields = make(map[uint16]bool, len(ids))
		for _, id := range ids {
			o.fields[id] = true
		}
	}
}

// WithPersona marks a form shown inside a persona panel.
func WithPersona() Option {
	return func(o *options) { o.persona = true }
}

// WithInfos supplies a field info snapshot already fetched by a sibling
// tab.
func WithInfos(infos []schema.FieldInfo) Option {
	return func(o *options) {
		o.infos = infos
		o.hasInfos = true
	}
}

// Embedded marks the form of an embedded object.
func Embedded() Option {
	return func(o *options) { o.embedded = true }
}

// OnDateChange installs a callback run when the expiration or removal
// field of the object is refreshed.
func OnDateChange(fn func(ctx context.Context)) Option {
	return func(o *options) { o.onDates = fn }
}

// Row is one rendered field.
type Row struct {
	Template *schema.FieldTemplate
	Widget   widget.Widget
}

// updateReq is one queued refresh; all means every bound field.
type updateReq struct {
	all bool
	ids []uint16
}

// Container is the form of one object.
type Container struct {
	env      *Env
	obj      remote.Object
	invid    schema.Invid
	editable bool
	opts     options
	reg      *binding.Registry

	mu      sync.Mutex
	state   State
	queued  []updateReq
	rows    []Row
	vectors []*Vector
	errs    []error
}

var _ widget.Submitter = (*Container)(nil)

// NewContainer creates an unloaded form for obj.
func NewContainer(env *Env, obj remote.Object, opts ...Option) *Container {
	c := &Container{
		env:      env,
		obj:      obj,
		invid:    obj.Invid(),
		editable: obj.Editable(),
		reg:      binding.NewRegistry(),
	}
	for _, o := range opts {
		o(&c.opts)
	}
	return c
}

// Invid returns the object shown.
func (c *Container) Invid() schema.Invid { return c.invid }

// Editable reports whether the form edits the object.
func (c *Container) Editable() bool { return c.editable }

// Object returns the object handle the form was built from.
func (c *Container) Object() remote.Object { return c.obj }

// Bindings returns the form's binding registry.
func (c *Container) Bindings() *binding.Registry { return c.reg }

// State returns the load state.
func (c *Container) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rows returns the rendered fields in display order.
func (c *Container) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.rows)
}

// Widget returns the widget of a field, or nil.
func (c *Container) Widget(id uint16) widget.Widget {
	return c.reg.Widget(id)
}

// Vectors returns the vector controllers of the form.
func (c *Container) Vectors() []*Vector {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.vectors)
}

// Errors returns the per-field problems met while rendering.
func (c *Container) Errors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.errs)
}

// Load renders the form. It may be called once. A cancelled ctx stops
// rendering before the next field; the fields built so far stay and
// ctx's error is returned. Refreshes requested while loading are applied
// afterwards in arrival order.
func (c *Container) Load(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Unloaded {
		c.mu.Unlock()
		return ErrAlreadyLoaded
	}
	c.state = Loading
	c.mu.Unlock()

	err := c.load(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = Loaded
		dropped := len(c.queued)
		c.queued = nil
		c.mu.Unlock()
		if dropped > 0 {
			glog.V(2).Infof("form: dropped %d queued updates of %s", dropped, c.invid)
		}
		return err
	}

	for {
		c.mu.Lock()
		if len(c.queued) == 0 {
			c.state = Loaded
			c.mu.Unlock()
			return nil
		}
		next := c.queued[0]
		c.queued = c.queued[1:]
		c.mu.Unlock()
		if err := c.apply(ctx, next); err != nil {
			glog.Warningf("form: queued update of %s: %v", c.invid, err)
		}
	}
}

func (c *Container) load(ctx context.Context) error {
	templates, err := c.env.Templates.Templates(ctx, c.invid.Base)
	if err != nil {
		return c.env.report("load field templates", err)
	}

	infos := c.opts.infos
	if !c.opts.hasInfos {
		if err := ctx.Err(); err != nil {
			return err
		}
		infos, err = c.obj.FieldInfos(ctx)
		if err != nil {
			return c.env.report("load fields", err)
		}
	}
	if infos == nil {
		glog.Warningf("form: no field information for %s", c.invid)
		if c.env.Presenter != nil {
			c.env.Presenter.ShowError("Error", fmt.Sprintf("The server returned no field information for %s.", c.invid))
		}
		return nil
	}

	byID := make(map[uint16]schema.FieldInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}
	known := make(map[uint16]bool, len(templates))
	for _, t := range templates {
		known[t.ID] = true
	}
	for _, info := range infos {
		if !known[info.ID] {
			c.fieldError(fmt.Errorf("%s field %d: %w", c.invid, info.ID, ErrMissingTemplate))
		}
	}

	for _, t := range templates {
		if err := ctx.Err(); err != nil {
			glog.V(2).Infof("form: load of %s stopped", c.invid)
			return err
		}
		info, ok := byID[t.ID]
		if !ok || c.skip(t) {
			continue
		}
		if !c.editable && !info.Defined {
			continue
		}
		c.addField(ctx, t, info)
	}
	glog.V(2).Infof("form: loaded %s with %d fields", c.invid, c.reg.Len())
	return nil
}

// fieldError records and reports a problem confined to one field.
func (c *Container) fieldError(err error) {
	c.mu.Lock()
	c.errs = append(c.errs, err)
	c.mu.Unlock()
	glog.Errorf("form: %v", err)
	if c.env.Presenter != nil {
		c.env.Presenter.ShowError("Metadata error", err.Error())
	}
}

func (c *Container) embedded() bool {
	if c.opts.embedded {
		return true
	}
	b := c.env.Templates.Base(c.invid.Base)
	return b != nil && b.Embedded
}

// skip reports whether t is never shown in this form.
func (c *Container) skip(t *schema.FieldTemplate) bool {
	switch {
	case t.ID == schema.BackLinksField:
		return true
	case t.ID == schema.ContainerField && c.embedded():
		return true
	case c.invid.Base == schema.UserBase && t.ID == schema.UserAdminPersonae:
		return true
	case c.opts.persona && c.invid.Base == schema.PersonaBase && t.ID == schema.PersonaAssocUser:
		return true
	}
	if c.opts.fields != nil {
		return !c.opts.fields[t.ID]
	}
	if t.BuiltIn {
		return true
	}
	if c.opts.tab != "" && TabOf(t) != c.opts.tab {
		return true
	}
	return false
}

// TabOf returns the tab a field is shown on.
func TabOf(t *schema.FieldTemplate) string {
	if t.TabName == "" {
		return DefaultTab
	}
	return t.TabName
}

func (c *Container) addField(ctx context.Context, t *schema.FieldTemplate, info schema.FieldInfo) {
	f, err := c.obj.Field(ctx, t.ID)
	if err != nil {
		c.fieldError(fmt.Errorf("%s field %s: %w", c.invid, t.Name, err))
		return
	}
	glog.V(3).Infof("form: %s field %s (%s)", c.invid, t.Name, t.Kind)
	w := rendererFor(t).build(c, ctx, t, f, info)
	w.SetVisible(info.Visible)
	c.reg.Register(w, f, t)
	c.mu.Lock()
	c.rows = append(c.rows, Row{Template: t, Widget: w})
	if v, ok := w.(*Vector); ok {
		c.vectors = append(c.vectors, v)
	}
	c.mu.Unlock()
}

func (c *Container) fieldEditable(info schema.FieldInfo) bool {
	return c.editable && info.Editable
}

// Update refreshes the listed fields from the server. A view-only form
// ignores refreshes; a form still loading queues them.
func (c *Container) Update(ctx context.Context, ids ...uint16) error {
	return c.request(ctx, updateReq{ids: slices.Clone(ids)})
}

// UpdateAll refreshes every field of the form.
func (c *Container) UpdateAll(ctx context.Context) error {
	return c.request(ctx, updateReq{all: true})
}

func (c *Container) request(ctx context.Context, req updateReq) error {
	if !c.editable {
		return nil
	}
	c.mu.Lock()
	if c.state != Loaded {
		c.queued = append(c.queued, req)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.apply(ctx, req)
}

func (c *Container) apply(ctx context.Context, req updateReq) error {
	ids := req.ids
	if req.all {
		ids = ids[:0]
		c.reg.Each(func(b *binding.Binding) { ids = append(ids, b.ID()) })
	}
	dates := false
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if id == schema.ExpirationField || id == schema.RemovalField {
			dates = true
		}
		b, ok := c.reg.ByID(id)
		if !ok {
			continue
		}
		info, err := b.Field.Info(ctx)
		if err != nil {
			return c.env.report("refresh "+b.Template.Name, err)
		}
		if err := c.refresh(ctx, b, info); err != nil {
			return err
		}
	}
	if (dates || req.all) && c.opts.onDates != nil {
		c.opts.onDates(ctx)
	}
	return nil
}

func (c *Container) refresh(ctx context.Context, b *binding.Binding, info schema.FieldInfo) error {
	b.Widget.SetVisible(info.Visible)
	if _, isVector := b.Widget.(*Vector); !isVector && b.Substitute(displayValue(b.Template, info)) {
		glog.V(2).Infof("form: %s field %s changed while submitting", c.invid, b.Template.Name)
		return nil
	}
	return rendererFor(b.Template).update(c, ctx, b, info)
}

// relabeler is implemented by widgets that show object labels.
type relabeler interface {
	Relabel(inv schema.Invid, label string) bool
}

// RelabelInvid updates every label of inv shown by this form and its
// nested forms.
func (c *Container) RelabelInvid(inv schema.Invid, label string) {
	c.reg.Each(func(b *binding.Binding) {
		switch w := b.Widget.(type) {
		case *Vector:
			w.RelabelInvid(inv, label)
		case relabeler:
			w.Relabel(inv, label)
		}
	})
}

// Walk calls fn for c and then for every loaded form nested below it.
func (c *Container) Walk(fn func(*Container)) {
	fn(c)
	for _, v := range c.Vectors() {
		for _, e := range v.Elements() {
			if e.container != nil && e.container.State() != Unloaded {
				e.container.Walk(fn)
			}
		}
	}
}

// Dispose tears the form down, releasing every field handle.
func (c *Container) Dispose() {
	c.mu.Lock()
	vectors := c.vectors
	c.vectors = nil
	c.rows = nil
	c.queued = nil
	c.mu.Unlock()
	for _, v := range vectors {
		v.Dispose()
	}
	c.reg.Clear()
}

// CurrentValue fetches the server's value of w's field in the widget's
// display form.
func (c *Container) CurrentValue(ctx context.Context, w widget.Widget) (any, error) {
	b, ok := c.reg.Binding(w)
	if !ok {
		return nil, fmt.Errorf("form: widget %T is not bound", w)
	}
	info, err := b.Field.Info(ctx)
	if err != nil {
		return nil, c.env.report("read "+b.Template.Name, err)
	}
	return displayValue(b.Template, info), nil
}

// Submit implements widget.Submitter: it sends a widget edit to the
// bound field and reports whether the server kept it.
func (c *Container) Submit(ctx context.Context, w widget.Widget, ch widget.Change) (bool, error) {
	if ch.Op == widget.OpAction {
		return c.action(ctx, ch)
	}
	b, ok := c.reg.Binding(w)
	if !ok {
		return false, fmt.Errorf("form: widget %T is not bound", w)
	}
	if !b.Begin() {
		glog.Warningf("form: %s field %s submitted while a change is in flight", c.invid, b.Template.Name)
		return false, nil
	}
	accepted, err := c.submit(ctx, b, ch)
	if v, has := b.End(); has && accepted {
		w.SetValue(v)
	}
	return accepted, err
}

func (c *Container) submit(ctx context.Context, b *binding.Binding, ch widget.Change) (bool, error) {
	op := ch.Op.String() + " " + b.Template.Name
	glog.V(2).Infof("form: %s %s", c.invid, op)
	var (
		r   *remote.Result
		err error
	)
	switch ch.Op {
	case widget.OpSet:
		r, err = b.Field.SetValue(ctx, ch.Value)
	case widget.OpAdd:
		r, err = b.Field.AddElement(ctx, ch.Value)
	case widget.OpAddAll:
		r, err = b.Field.AddElements(ctx, ch.Values)
	case widget.OpDelete:
		r, err = b.Field.DeleteElement(ctx, ch.Value)
	case widget.OpDeleteAll:
		r, err = b.Field.DeleteElements(ctx, ch.Values)
	default:
		return false, fmt.Errorf("form: unsupported change %s", ch.Op)
	}
	if err != nil {
		return false, c.env.report(op, err)
	}
	ok, _, err := c.env.resolve(ctx, op, r)
	return ok, err
}

func (c *Container) action(ctx context.Context, ch widget.Change) (bool, error) {
	inv, ok := ch.Value.(schema.Invid)
	if !ok || inv.IsZero() {
		return false, nil
	}
	var err error
	switch ch.Action {
	case "view":
		err = c.env.Host.ViewObject(ctx, inv)
	case "edit":
		err = c.env.Host.EditObject(ctx, inv)
	default:
		return false, fmt.Errorf("form: unknown action %q", ch.Action)
	}
	return err == nil, err
}

// listen returns the direct listener of a checkbox or combo box. A refused
// change resets the widget with its listener detached.
func (c *Container) listen(w widget.Widget) widget.Listener {
	return func(ctx context.Context, v any) {
		ok, err := c.Submit(ctx, w, widget.Change{Op: widget.OpSet, Value: v})
		if ok {
			return
		}
		if rerr := w.Revert(ctx); rerr != nil && !errors.Is(rerr, context.Canceled) {
			glog.Warningf("form: revert after %v: %v", err, rerr)
		}
	}
}
