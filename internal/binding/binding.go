// Package binding records which widget shows which remote field. A form
// owns one Registry; it is the only sanctioned way to go from a widget to
// its field handle and template, or from a field ID back to its widget.
package binding

import (
	"errors"
	"fmt"
	"sync"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/widget"
)

// ErrDuplicateField is the panic value (wrapped) raised when a field ID is
// registered twice in one registry.
var ErrDuplicateField = errors.New("field registered twice")

// State is the submission state of one binding.
type State int

const (
	// Idle means no local edit is in flight.
	Idle State = iota
	// Submitting means a local edit is being resolved with the server.
	Submitting
)

func (s State) String() string {
	if s == Submitting {
		return "submitting"
	}
	return "idle"
}

// Binding ties one widget to its field handle and template.
type Binding struct {
	Widget   widget.Widget
	Field    remote.Field
	Template *schema.FieldTemplate

	mu         sync.Mutex
	state      State
	substitute any
	hasSub     bool
}

// ID returns the bound field ID.
func (b *Binding) ID() uint16 {
	return b.Template.ID
}

// State returns the current submission state.
func (b *Binding) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Begin marks a local edit in flight. It returns false if one already is.
func (b *Binding) Begin() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Submitting {
		return false
	}
	b.state = Submitting
	b.hasSub = false
	b.substitute = nil
	return true
}

// End returns the binding to Idle and hands back any substitute value a
// refresh stored while the edit was in flight.
func (b *Binding) End() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Idle
	v, ok := b.substitute, b.hasSub
	b.substitute, b.hasSub = nil, false
	return v, ok
}

// Substitute stores v for the in-flight edit instead of overwriting the
// widget. It reports false, storing nothing, when the binding is Idle.
func (b *Binding) Substitute(v any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Submitting {
		return false
	}
	b.substitute, b.hasSub = v, true
	return true
}

// Registry maps widgets to bindings and field IDs to bindings.
type Registry struct {
	mu       sync.RWMutex
	byWidget map[widget.Widget]*Binding
	byID     map[uint16]*Binding
	order    []*Binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byWidget: make(map[widget.Widget]*Binding),
		byID:     make(map[uint16]*Binding),
	}
}

// Register records that w shows field f described by t. Registering a
// field ID twice is a programmer error and panics.
func (r *Registry) Register(w widget.Widget, f remote.Field, t *schema.FieldTemplate) *Binding {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.byID[t.ID]; ok {
		panic(fmt.Errorf("field %d (%s) already bound to %T: %w", t.ID, t.Name, prev.Widget, ErrDuplicateField))
	}
	if _, ok := r.byWidget[w]; ok {
		panic(fmt.Errorf("widget %T bound twice for field %d: %w", w, t.ID, ErrDuplicateField))
	}
	b := &Binding{Widget: w, Field: f, Template: t}
	r.byWidget[w] = b
	r.byID[t.ID] = b
	r.order = append(r.order, b)
	return b
}

// Binding returns the binding of w.
func (r *Registry) Binding(w widget.Widget) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byWidget[w]
	return b, ok
}

// ByID returns the binding of a field ID.
func (r *Registry) ByID(id uint16) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	return b, ok
}

// Field returns the field handle shown by w, or nil.
func (r *Registry) Field(w widget.Widget) remote.Field {
	if b, ok := r.Binding(w); ok {
		return b.Field
	}
	return nil
}

// Template returns the template of the field shown by w, or nil.
func (r *Registry) Template(w widget.Widget) *schema.FieldTemplate {
	if b, ok := r.Binding(w); ok {
		return b.Template
	}
	return nil
}

// Widget returns the widget showing field id, or nil.
func (r *Registry) Widget(id uint16) widget.Widget {
	if b, ok := r.ByID(id); ok {
		return b.Widget
	}
	return nil
}

// Each calls fn for every binding in registration order.
func (r *Registry) Each(fn func(*Binding)) {
	r.mu.RLock()
	list := append([]*Binding(nil), r.order...)
	r.mu.RUnlock()
	for _, b := range list {
		fn(b)
	}
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear drops every binding, releasing the field handles they hold.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.byWidget)
	clear(r.byID)
	r.order = nil
}
