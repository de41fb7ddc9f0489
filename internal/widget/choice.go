package widget

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// NoneLabel is the label of the explicit empty choice.
const NoneLabel = "<none>"

// Listener receives user selections of a checkbox or combo box.
type Listener func(ctx context.Context, v any)

// listened holds a detachable listener.
type listened struct {
	lmu      sync.Mutex
	listener Listener
}

// SetListener attaches l, replacing any current listener.
func (l *listened) SetListener(fn Listener) {
	l.lmu.Lock()
	l.listener = fn
	l.lmu.Unlock()
}

// DetachListener removes and returns the current listener.
func (l *listened) DetachListener() Listener {
	l.lmu.Lock()
	defer l.lmu.Unlock()
	fn := l.listener
	l.listener = nil
	return fn
}

func (l *listened) fire(ctx context.Context, v any) {
	l.lmu.Lock()
	fn := l.listener
	l.lmu.Unlock()
	if fn != nil {
		fn(ctx, v)
	}
}

// Checkbox is a boolean toggle driven by a direct listener.
type Checkbox struct {
	base
	listened
}

// NewCheckbox creates a checkbox.
func NewCheckbox(sub Submitter, editable bool) *Checkbox {
	c := &Checkbox{}
	c.init(c, sub, editable, func(v any) any {
		b, _ := v.(bool)
		return b
	})
	c.value = false
	return c
}

// Checked returns the displayed state.
func (c *Checkbox) Checked() bool {
	b, _ := c.Value().(bool)
	return b
}

// Click is a user toggle to v.
func (c *Checkbox) Click(ctx context.Context, v bool) error {
	if !c.Editable() {
		return ErrNotEditable
	}
	c.SetValue(v)
	c.fire(ctx, v)
	return nil
}

// Input implements TextInput for "true"/"false".
func (c *Checkbox) Input(ctx context.Context, text string) (bool, error) {
	var v bool
	switch text {
	case "true", "yes", "on", "1":
		v = true
	case "false", "no", "off", "0":
	default:
		return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidInput, text)
	}
	if err := c.Click(ctx, v); err != nil {
		return false, err
	}
	// The listener resets the box if the server refused the change.
	return c.Checked() == v, nil
}

// Revert resets the box to the server's value with the listener detached.
func (c *Checkbox) Revert(ctx context.Context) error {
	l := c.DetachListener()
	defer c.SetListener(l)
	return c.base.Revert(ctx)
}

// Combo is a pick list whose displayed value is always one of its choices.
type Combo struct {
	base
	listened
	cmu     sync.RWMutex
	choices []remote.Choice
	// AllowNone adds an explicit empty choice.
	AllowNone bool
}

// NewCombo creates a combo box.
func NewCombo(sub Submitter, editable bool) *Combo {
	c := &Combo{}
	c.init(c, sub, editable, nil)
	return c
}

// SetChoices replaces the options. If current is not among them it is
// injected so the combo never shows a value outside its own list.
func (c *Combo) SetChoices(items []remote.Choice, current any, currentLabel string) {
	list := slices.Clone(items)
	if current != nil && !containsValue(list, current) {
		if currentLabel == "" {
			currentLabel = fmt.Sprint(current)
		}
		list = append([]remote.Choice{{Label: currentLabel, Value: current}}, list...)
	}
	if c.AllowNone && !containsValue(list, nil) {
		list = append([]remote.Choice{{Label: NoneLabel, Value: nil, Editable: true}}, list...)
	}
	c.cmu.Lock()
	c.choices = list
	c.cmu.Unlock()
	c.SetValue(current)
}

// Choices returns the current options.
func (c *Combo) Choices() []remote.Choice {
	c.cmu.RLock()
	defer c.cmu.RUnlock()
	return slices.Clone(c.choices)
}

// Label returns the label of the selected value.
func (c *Combo) Label() string {
	v := c.Value()
	for _, ch := range c.Choices() {
		if ch.Value == v {
			return ch.Label
		}
	}
	return ""
}

// Select is a user selection of v, which must be one of the choices.
func (c *Combo) Select(ctx context.Context, v any) error {
	if !c.Editable() {
		return ErrNotEditable
	}
	if !containsValue(c.Choices(), v) {
		return fmt.Errorf("%w: %v is not a choice", ErrInvalidInput, v)
	}
	c.SetValue(v)
	c.fire(ctx, v)
	return nil
}

// Input implements TextInput by selecting the choice with that label.
func (c *Combo) Input(ctx context.Context, text string) (bool, error) {
	for _, ch := range c.Choices() {
		if ch.Label == text {
			if err := c.Select(ctx, ch.Value); err != nil {
				return false, err
			}
			return c.Value() == ch.Value, nil
		}
	}
	return false, fmt.Errorf("%w: %q is not a choice", ErrInvalidInput, text)
}

// Revert resets the selection to the server's value with the listener
// detached, injecting it into the list if needed.
func (c *Combo) Revert(ctx context.Context) error {
	l := c.DetachListener()
	defer c.SetListener(l)
	if c.sub == nil {
		return nil
	}
	v, err := c.sub.CurrentValue(ctx, c.self)
	if err != nil {
		return err
	}
	if v != nil && !containsValue(c.Choices(), v) {
		c.SetChoices(c.Choices(), v, "")
		return nil
	}
	c.SetValue(v)
	return nil
}

// Relabel updates the label of a reference choice.
func (c *Combo) Relabel(inv schema.Invid, label string) bool {
	c.cmu.Lock()
	defer c.cmu.Unlock()
	return relabelChoices(c.choices, inv, label)
}

// InvidChooser picks the target of a scalar reference field. Selections go
// through the submitter like any other edit.
type InvidChooser struct {
	Combo
}

// NewInvidChooser creates a reference chooser. Unless mustChoose is set the
// list offers an explicit none option.
func NewInvidChooser(sub Submitter, mustChoose bool) *InvidChooser {
	w := &InvidChooser{}
	w.init(w, sub, true, nil)
	w.AllowNone = !mustChoose
	return w
}

// Target returns the selected invid, or the zero invid for none.
func (w *InvidChooser) Target() schema.Invid {
	inv, _ := w.Value().(schema.Invid)
	return inv
}

// Choose is a user selection of a target; the zero invid selects none.
func (w *InvidChooser) Choose(ctx context.Context, inv schema.Invid) (bool, error) {
	var v any
	if !inv.IsZero() {
		v = inv
	}
	if !containsValue(w.Choices(), v) {
		return false, fmt.Errorf("%w: %v is not a choice", ErrInvalidInput, inv)
	}
	return w.submit(ctx, v)
}

// Input implements TextInput by choosing the target with that label.
func (w *InvidChooser) Input(ctx context.Context, text string) (bool, error) {
	for _, ch := range w.Choices() {
		if ch.Label == text {
			inv, _ := ch.Value.(schema.Invid)
			return w.Choose(ctx, inv)
		}
	}
	return false, fmt.Errorf("%w: %q is not a choice", ErrInvalidInput, text)
}

// InvidButton shows the label of a referenced object and opens it for
// viewing when clicked.
type InvidButton struct {
	base
	lmu   sync.RWMutex
	label string
}

// PlaceholderLabel is shown when the viewer may not see the target's label.
const PlaceholderLabel = "<<unreadable object>>"

// NewInvidButton creates a read-only reference display.
func NewInvidButton(sub Submitter) *InvidButton {
	b := &InvidButton{}
	b.init(b, sub, false, nil)
	return b
}

// SetTarget updates the referenced object and its label.
func (b *InvidButton) SetTarget(inv schema.Invid, label string) {
	var v any
	if !inv.IsZero() {
		v = inv
	}
	b.SetValue(v)
	b.lmu.Lock()
	b.label = label
	b.lmu.Unlock()
}

// Target returns the referenced invid.
func (b *InvidButton) Target() schema.Invid {
	inv, _ := b.Value().(schema.Invid)
	return inv
}

// Label returns the displayed text.
func (b *InvidButton) Label() string {
	b.lmu.RLock()
	defer b.lmu.RUnlock()
	if b.Target().IsZero() {
		return ""
	}
	if b.label == "" {
		return PlaceholderLabel
	}
	return b.label
}

// Relabel updates the label if the button points at inv.
func (b *InvidButton) Relabel(inv schema.Invid, label string) bool {
	if b.Target() != inv {
		return false
	}
	b.lmu.Lock()
	b.label = label
	b.lmu.Unlock()
	return true
}

// Click asks to view the target.
func (b *InvidButton) Click(ctx context.Context) (bool, error) {
	if b.Target().IsZero() || b.sub == nil {
		return false, nil
	}
	return b.sub.Submit(ctx, b, Change{Op: OpAction, Action: "view", Value: b.Target()})
}

func containsValue(list []remote.Choice, v any) bool {
	for _, c := range list {
		if c.Value == v {
			return true
		}
	}
	return false
}

func relabelChoices(list []remote.Choice, inv schema.Invid, label string) bool {
	changed := false
	for i := range list {
		if v, ok := list[i].Value.(schema.Invid); ok && v == inv {
			list[i].Label = label
			changed = true
		}
	}
	return changed
}
