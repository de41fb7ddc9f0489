// Package widget holds the headless view models the form renderer builds
// for each field. A widget carries its displayed value and its editable and
// visible flags; any toolkit can draw it. Edits go back through a Submitter
// which round-trips them to the server and decides whether they stick.
package widget

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrInvalidInput is returned when an edit fails local validation and
	// was never sent to the server.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotEditable is returned when a read-only widget is edited.
	ErrNotEditable = errors.New("widget is not editable")
)

// Widget is the contract shared by every field widget.
type Widget interface {
	Value() any
	// SetValue changes the displayed value without notifying anyone.
	SetValue(v any)
	Editable() bool
	SetEditable(editable bool)
	Visible() bool
	SetVisible(visible bool)
	// Revert replaces the displayed value with the server's current one.
	Revert(ctx context.Context) error
}

// TextInput is implemented by widgets that accept an edit typed as text.
type TextInput interface {
	Input(ctx context.Context, text string) (bool, error)
}

// Op is the kind of change a widget submits.
type Op int

const (
	OpSet Op = iota
	OpAdd
	OpAddAll
	OpDelete
	OpDeleteAll
	OpAction
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpAdd:
		return "add"
	case OpAddAll:
		return "add_all"
	case OpDelete:
		return "delete"
	case OpDeleteAll:
		return "delete_all"
	case OpAction:
		return "action"
	default:
		return "unknown"
	}
}

// Change is one user edit.
type Change struct {
	Op     Op
	Value  any
	Values []any
	// Action names the OpAction request, "view" or "edit".
	Action string
}

// Submitter sends widget edits to the server.
type Submitter interface {
	// Submit applies ch for w and reports whether the server accepted it.
	Submit(ctx context.Context, w Widget, ch Change) (bool, error)
	// CurrentValue fetches the server's value for w's field.
	CurrentValue(ctx context.Context, w Widget) (any, error)
}

// base implements the state shared by all widgets.
type base struct {
	mu       sync.RWMutex
	value    any
	editable bool
	visible  bool
	sub      Submitter
	self     Widget
	// normalize maps a server value into the widget's representation.
	normalize func(any) any
}

func (b *base) init(self Widget, sub Submitter, editable bool, normalize func(any) any) {
	b.self = self
	b.sub = sub
	b.editable = editable
	b.visible = true
	b.normalize = normalize
}

func (b *base) Value() any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.value
}

func (b *base) SetValue(v any) {
	if b.normalize != nil {
		v = b.normalize(v)
	}
	b.mu.Lock()
	b.value = v
	b.mu.Unlock()
}

func (b *base) Editable() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.editable
}

func (b *base) SetEditable(editable bool) {
	b.mu.Lock()
	b.editable = editable
	b.mu.Unlock()
}

func (b *base) Visible() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.visible
}

func (b *base) SetVisible(visible bool) {
	b.mu.Lock()
	b.visible = visible
	b.mu.Unlock()
}

func (b *base) Revert(ctx context.Context) error {
	if b.sub == nil {
		return nil
	}
	v, err := b.sub.CurrentValue(ctx, b.self)
	if err != nil {
		return err
	}
	b.self.SetValue(v)
	return nil
}

// submit applies v optimistically and sends it. A rejected or failed
// submission reverts the widget to the server's value, falling back to the
// previous display if that value can not be fetched.
func (b *base) submit(ctx context.Context, v any) (bool, error) {
	if !b.Editable() {
		return false, ErrNotEditable
	}
	old := b.Value()
	b.self.SetValue(v)
	if b.sub == nil {
		return true, nil
	}
	ok, err := b.sub.Submit(ctx, b.self, Change{Op: OpSet, Value: b.Value()})
	if ok && err == nil {
		return true, nil
	}
	if rerr := b.self.Revert(ctx); rerr != nil {
		b.mu.Lock()
		b.value = old
		b.mu.Unlock()
	}
	return false, err
}
