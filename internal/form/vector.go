package form

import (
	"context"
	"fmt"
	"net/netip"
	"slices"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/dispatch"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/widget"
)

// VectorState is the population state of a Vector.
type VectorState int

const (
	Empty VectorState = iota
	Populating
	Steady
)

func (s VectorState) String() string {
	switch s {
	case Populating:
		return "populating"
	case Steady:
		return "steady"
	default:
		return "empty"
	}
}

// Element is one entry of a Vector: an embedded object with its nested
// form, or a single address.
type Element struct {
	invid     schema.Invid
	title     string
	container *Container
	expanded  bool
	leaf      *widget.IP
}

// Invid returns the embedded object, or the zero invid for an address.
func (e *Element) Invid() schema.Invid { return e.invid }

// Title returns the label of the embedded object.
func (e *Element) Title() string { return e.title }

// Expanded reports whether the nested form is shown.
func (e *Element) Expanded() bool { return e.expanded }

// Container returns the nested form. It is nil for addresses and for
// objects the server would not hand out.
func (e *Element) Container() *Container { return e.container }

// Leaf returns the address widget, or nil for an embedded object.
func (e *Element) Leaf() *widget.IP { return e.leaf }

// Vector manages the elements of one multi-valued field: nested forms for
// an edit-in-place reference field, address widgets for an address list.
// Embedded elements are matched to the server by identity, addresses by
// value and then position.
type Vector struct {
	parent   *Container
	env      *Env
	tmpl     *schema.FieldTemplate
	field    remote.Field
	editable bool
	embedded bool

	mu      sync.Mutex
	state   VectorState
	visible bool
	elems   []*Element
}

var (
	_ widget.Widget    = (*Vector)(nil)
	_ widget.Submitter = (*Vector)(nil)
)

func newVector(parent *Container, t *schema.FieldTemplate, f remote.Field, editable bool) *Vector {
	return &Vector{
		parent:   parent,
		env:      parent.env,
		tmpl:     t,
		field:    f,
		editable: editable,
		embedded: t.IsEditInPlace(),
		visible:  true,
	}
}

// Template returns the template of the bound field.
func (v *Vector) Template() *schema.FieldTemplate { return v.tmpl }

// State returns the population state.
func (v *Vector) State() VectorState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Elements returns the displayed elements in order.
func (v *Vector) Elements() []*Element {
	v.mu.Lock()
	defer v.mu.Unlock()
	return slices.Clone(v.elems)
}

// Value returns the displayed invids or addresses.
func (v *Vector) Value() any {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.embedded {
		out := make([]schema.Invid, len(v.elems))
		for i, e := range v.elems {
			out[i] = e.invid
		}
		return out
	}
	out := make([]netip.Addr, len(v.elems))
	for i, e := range v.elems {
		out[i] = e.leaf.Addr()
	}
	return out
}

// SetValue reconciles an address list against vals. Embedded vectors
// need the server to build elements and only change through Refresh.
func (v *Vector) SetValue(vals any) {
	if v.embedded {
		return
	}
	addrs, _ := vals.([]netip.Addr)
	v.mu.Lock()
	v.reconcileLeaf(addrs)
	v.mu.Unlock()
}

func (v *Vector) Editable() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.editable
}

func (v *Vector) SetEditable(editable bool) {
	v.mu.Lock()
	v.editable = editable
	v.mu.Unlock()
}

func (v *Vector) Visible() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visible
}

func (v *Vector) SetVisible(visible bool) {
	v.mu.Lock()
	v.visible = visible
	v.mu.Unlock()
}

// Revert refetches the element list.
func (v *Vector) Revert(ctx context.Context) error {
	return v.Refresh(ctx)
}

// populate builds the initial elements from info. Nested forms are
// created unloaded; they load when first expanded.
func (v *Vector) populate(ctx context.Context, info schema.FieldInfo) error {
	v.mu.Lock()
	v.state = Populating
	v.mu.Unlock()
	defer func() {
		v.mu.Lock()
		v.state = Steady
		v.mu.Unlock()
	}()

	if !v.embedded {
		addrs, _ := info.Value.([]netip.Addr)
		for _, a := range addrs {
			if err := ctx.Err(); err != nil {
				return err
			}
			v.mu.Lock()
			v.elems = append(v.elems, v.newLeaf(a))
			v.mu.Unlock()
		}
		return nil
	}

	invs, _ := info.Value.([]schema.Invid)
	for i, inv := range invs {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := v.fetchElement(ctx, inv, labelAt(info, i))
		v.mu.Lock()
		v.elems = append(v.elems, e)
		v.mu.Unlock()
	}
	return nil
}

func labelAt(info schema.FieldInfo, i int) string {
	if i < len(info.Labels) {
		return info.Labels[i]
	}
	return ""
}

func (v *Vector) newLeaf(a netip.Addr) *Element {
	w := widget.NewIP(v, v.editable, v.tmpl.IPv6)
	w.SetValue(a)
	return &Element{leaf: w}
}

// fetchElement opens an embedded object with the same access as the
// parent form. An object the server refuses is kept as an element without
// a form so membership still matches the server.
func (v *Vector) fetchElement(ctx context.Context, inv schema.Invid, title string) *Element {
	e := &Element{invid: inv, title: title}
	var (
		r   *remote.Result
		err error
	)
	if v.parent.editable {
		r, err = v.env.Session.EditObject(ctx, inv)
	} else {
		r, err = v.env.Session.ViewObject(ctx, inv)
	}
	switch {
	case err != nil:
		glog.Warningf("form: open embedded %s: %v", inv, err)
	case !r.Succeeded() || r.Object == nil:
		glog.Warningf("form: open embedded %s refused: %s", inv, r.Reason)
	default:
		e.container = v.child(r.Object)
	}
	if e.title == "" {
		e.title = inv.String()
	}
	return e
}

func (v *Vector) child(obj remote.Object) *Container {
	opts := []Option{Embedded()}
	if v.parent.opts.persona {
		opts = append(opts, WithPersona())
	}
	return NewContainer(v.env, obj, opts...)
}

// AddNewElement creates a new embedded object in the field and shows it
// expanded.
func (v *Vector) AddNewElement(ctx context.Context) (bool, error) {
	if !v.embedded {
		return false, fmt.Errorf("form: %s does not hold embedded objects", v.tmpl.Name)
	}
	if !v.Editable() {
		return false, widget.ErrNotEditable
	}
	op := "add to " + v.tmpl.Name
	r, err := v.field.CreateEmbedded(ctx)
	if err != nil {
		return false, v.env.report(op, err)
	}
	ok, final, err := v.resolve(ctx, op, r)
	if !ok {
		return false, err
	}
	e := &Element{invid: final.Invid, expanded: true}
	obj := final.Object
	if obj == nil {
		e = v.fetchElement(ctx, final.Invid, "")
		e.expanded = true
	} else {
		e.container = v.child(obj)
	}
	if e.container != nil {
		if label, lerr := e.container.obj.Label(ctx); lerr == nil && label != "" {
			e.title = label
		}
		if err := e.container.Load(ctx); err != nil {
			glog.Warningf("form: load new element %s: %v", e.invid, err)
		}
	}
	if e.title == "" {
		e.title = e.invid.String()
	}
	// A rescan carried by the result may already have listed the new
	// object; take over its slot so it is shown once.
	v.mu.Lock()
	var stale *Element
	if i := slices.IndexFunc(v.elems, func(x *Element) bool { return x.matches(e.invid) }); i >= 0 {
		stale, v.elems[i] = v.elems[i], e
	} else {
		v.elems = append(v.elems, e)
	}
	v.mu.Unlock()
	if stale != nil && stale.container != nil {
		stale.container.Dispose()
	}
	glog.V(2).Infof("form: added %s to %s", e.invid, v.tmpl.Name)
	return true, nil
}

// AddElement appends an address to the field.
func (v *Vector) AddElement(ctx context.Context, a netip.Addr) (bool, error) {
	if v.embedded {
		return false, fmt.Errorf("form: %s holds embedded objects", v.tmpl.Name)
	}
	if !v.Editable() {
		return false, widget.ErrNotEditable
	}
	op := "add to " + v.tmpl.Name
	before := v.count(a)
	r, err := v.field.AddElement(ctx, a)
	if err != nil {
		return false, v.env.report(op, err)
	}
	ok, _, err := v.resolve(ctx, op, r)
	if !ok {
		return false, err
	}
	v.mu.Lock()
	if v.countLocked(a) <= before {
		v.elems = append(v.elems, v.newLeaf(a))
	}
	v.mu.Unlock()
	return true, nil
}

// DeleteElement removes an element by value: an invid for embedded
// objects, a netip.Addr for addresses. Deleting an element that is no
// longer shown succeeds without removing anything else.
func (v *Vector) DeleteElement(ctx context.Context, value any) (bool, error) {
	if !v.Editable() {
		return false, widget.ErrNotEditable
	}
	op := "delete from " + v.tmpl.Name
	before := v.count(value)
	r, err := v.field.DeleteElement(ctx, value)
	if err != nil {
		return false, v.env.report(op, err)
	}
	ok, _, err := v.resolve(ctx, op, r)
	if !ok {
		return false, err
	}
	v.mu.Lock()
	var removed *Element
	if v.countLocked(value) >= before {
		v.elems = slices.DeleteFunc(v.elems, func(e *Element) bool {
			if removed == nil && e.matches(value) {
				removed = e
				return true
			}
			return false
		})
	}
	v.mu.Unlock()
	if removed != nil && removed.container != nil {
		removed.container.Dispose()
	}
	return true, nil
}

// count reports how many elements show value. Comparing it across a
// server call tells whether a rescan in the result already applied the
// change.
func (v *Vector) count(value any) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.countLocked(value)
}

func (v *Vector) countLocked(value any) int {
	n := 0
	for _, e := range v.elems {
		if e.matches(value) {
			n++
		}
	}
	return n
}

func (e *Element) matches(value any) bool {
	switch x := value.(type) {
	case schema.Invid:
		return e.leaf == nil && e.invid == x
	case netip.Addr:
		return e.leaf != nil && e.leaf.Addr() == x
	}
	return false
}

// resolve is Env.resolve with rejections surfaced as dialogs, since a
// failed add or delete leaves the user's request undone.
func (v *Vector) resolve(ctx context.Context, op string, r *remote.Result) (bool, *remote.Result, error) {
	ok, final, err := v.env.resolve(ctx, op, r)
	if !ok && err == nil && final != nil && !final.Interacted && v.env.Presenter != nil {
		v.env.Presenter.ShowError("Could not "+op, final.Reason)
	}
	return ok, final, err
}

// Refresh reconciles the elements with the server's current list.
func (v *Vector) Refresh(ctx context.Context) error {
	info, err := v.field.Info(ctx)
	if err != nil {
		return v.env.report("refresh "+v.tmpl.Name, err)
	}
	return v.reconcile(ctx, info)
}

func (v *Vector) reconcile(ctx context.Context, info schema.FieldInfo) error {
	if !v.embedded {
		addrs, _ := info.Value.([]netip.Addr)
		v.mu.Lock()
		v.reconcileLeaf(addrs)
		v.mu.Unlock()
		return nil
	}
	invs, _ := info.Value.([]schema.Invid)
	return v.reconcileEmbedded(ctx, invs, info)
}

// reconcileEmbedded keeps the elements whose object the server still
// lists, drops the rest and appends unexpanded elements for new objects.
// Kept elements keep their forms; the result follows the server's order.
func (v *Vector) reconcileEmbedded(ctx context.Context, invs []schema.Invid, info schema.FieldInfo) error {
	pos := make(map[schema.Invid]int, len(invs))
	for i, inv := range invs {
		pos[inv] = i
	}

	v.mu.Lock()
	var kept []*Element
	var gone []*Element
	shown := make(map[schema.Invid]bool, len(v.elems))
	for _, e := range v.elems {
		i, ok := pos[e.invid]
		if !ok || shown[e.invid] {
			gone = append(gone, e)
			continue
		}
		shown[e.invid] = true
		if label := labelAt(info, i); label != "" {
			e.title = label
		}
		kept = append(kept, e)
	}
	v.elems = kept
	v.mu.Unlock()

	for _, e := range gone {
		glog.V(2).Infof("form: %s no longer in %s", e.invid, v.tmpl.Name)
		if e.container != nil {
			e.container.Dispose()
		}
	}

	for i, inv := range invs {
		if shown[inv] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		shown[inv] = true
		e := v.fetchElement(ctx, inv, labelAt(info, i))
		v.mu.Lock()
		v.elems = append(v.elems, e)
		v.mu.Unlock()
	}

	v.mu.Lock()
	sort.SliceStable(v.elems, func(a, b int) bool { return pos[v.elems[a].invid] < pos[v.elems[b].invid] })
	v.mu.Unlock()
	return nil
}

// reconcileLeaf matches addresses by value first so unchanged entries keep
// their widgets, then reuses the remaining widgets in order for the
// remaining values, creating or dropping widgets for any difference in
// length. Displayed order is the server's.
func (v *Vector) reconcileLeaf(addrs []netip.Addr) {
	old := v.elems
	used := make([]bool, len(old))
	next := make([]*Element, len(addrs))
	for i, a := range addrs {
		for j, e := range old {
			if !used[j] && e.leaf.Addr() == a {
				next[i] = e
				used[j] = true
				break
			}
		}
	}
	j := 0
	for i, a := range addrs {
		if next[i] != nil {
			continue
		}
		for j < len(old) && used[j] {
			j++
		}
		if j < len(old) {
			old[j].leaf.SetValue(a)
			next[i] = old[j]
			used[j] = true
			continue
		}
		next[i] = v.newLeaf(a)
	}
	v.elems = next
}

// Expand loads and shows the nested form of e.
func (v *Vector) Expand(ctx context.Context, e *Element) error {
	if e.container == nil {
		return fmt.Errorf("form: %s has no form to expand", e.invid)
	}
	if e.container.State() == Unloaded {
		if err := e.container.Load(ctx); err != nil {
			return err
		}
	}
	v.mu.Lock()
	e.expanded = true
	v.mu.Unlock()
	return nil
}

// Collapse hides the nested form of e.
func (v *Vector) Collapse(e *Element) {
	v.mu.Lock()
	e.expanded = false
	v.mu.Unlock()
}

// ExpandAll expands every element and every nested vector below them. The
// work runs on the dispatch queue in the background; the returned channel
// yields its outcome.
func (v *Vector) ExpandAll(ctx context.Context) <-chan error {
	done := make(chan error, 1)
	bg := dispatch.Detach(ctx)
	go func() {
		var err error
		if qerr := v.env.Queue.Invoke(bg, func(ctx context.Context) { err = v.expandAll(ctx) }); qerr != nil {
			err = qerr
		}
		done <- err
	}()
	return done
}

func (v *Vector) expandAll(ctx context.Context) error {
	for _, e := range v.Elements() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.container == nil {
			continue
		}
		if err := v.Expand(ctx, e); err != nil {
			return err
		}
		for _, nested := range e.container.Vectors() {
			if err := nested.expandAll(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// CollapseAll collapses every element and every nested vector below them.
func (v *Vector) CollapseAll() {
	for _, e := range v.Elements() {
		v.Collapse(e)
		if e.container == nil {
			continue
		}
		for _, nested := range e.container.Vectors() {
			nested.CollapseAll()
		}
	}
}

// RelabelInvid updates element titles and nested forms showing inv.
func (v *Vector) RelabelInvid(inv schema.Invid, label string) {
	for _, e := range v.Elements() {
		if e.leaf != nil {
			continue
		}
		if e.invid == inv {
			v.mu.Lock()
			e.title = label
			v.mu.Unlock()
		}
		if e.container != nil {
			e.container.RelabelInvid(inv, label)
		}
	}
}

// Dispose tears down every nested form.
func (v *Vector) Dispose() {
	v.mu.Lock()
	elems := v.elems
	v.elems = nil
	v.state = Empty
	v.mu.Unlock()
	for _, e := range elems {
		if e.container != nil {
			e.container.Dispose()
		}
	}
}

// Submit implements widget.Submitter for address widgets, setting the
// element at the widget's position.
func (v *Vector) Submit(ctx context.Context, w widget.Widget, ch widget.Change) (bool, error) {
	if ch.Op != widget.OpSet {
		return false, fmt.Errorf("form: unsupported change %s on %s", ch.Op, v.tmpl.Name)
	}
	idx := v.indexOf(w)
	if idx < 0 {
		return false, fmt.Errorf("form: widget is not an element of %s", v.tmpl.Name)
	}
	op := "set " + v.tmpl.Name
	r, err := v.field.SetElement(ctx, idx, ch.Value)
	if err != nil {
		return false, v.env.report(op, err)
	}
	ok, _, err := v.env.resolve(ctx, op, r)
	return ok, err
}

// CurrentValue implements widget.Submitter.
func (v *Vector) CurrentValue(ctx context.Context, w widget.Widget) (any, error) {
	idx := v.indexOf(w)
	if idx < 0 {
		return nil, fmt.Errorf("form: widget is not an element of %s", v.tmpl.Name)
	}
	info, err := v.field.Info(ctx)
	if err != nil {
		return nil, v.env.report("read "+v.tmpl.Name, err)
	}
	addrs, _ := info.Value.([]netip.Addr)
	if idx >= len(addrs) {
		return nil, nil
	}
	return addrs[idx], nil
}

func (v *Vector) indexOf(w widget.Widget) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, e := range v.elems {
		if e.leaf != nil && widget.Widget(e.leaf) == w {
			return i
		}
	}
	return -1
}
