package widget

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/matthewbaird/ganyclient/internal/remote"
)

// DateLayout is the text form accepted by Date.Input.
const DateLayout = "2006-01-02"

// Mask is shown by a password widget that may not reveal its value.
const Mask = "********"

// Text edits a single- or multi-line string.
type Text struct {
	base
	MaxLength int
	OKChars   string
	BadChars  string
	MultiLine bool
	// Width is the display width in columns.
	Width int
}

// NewText creates a text widget.
func NewText(sub Submitter, editable bool) *Text {
	t := &Text{}
	t.init(t, sub, editable, normalizeString)
	t.value = ""
	return t
}

func normalizeString(v any) any {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}

// Text returns the displayed string.
func (t *Text) Text() string {
	s, _ := t.Value().(string)
	return s
}

// Validate applies the length and character constraints.
func (t *Text) Validate(s string) error {
	if t.MaxLength > 0 && utf8.RuneCountInString(s) > t.MaxLength {
		return fmt.Errorf("%w: longer than %d characters", ErrInvalidInput, t.MaxLength)
	}
	for _, r := range s {
		if t.OKChars != "" && !strings.ContainsRune(t.OKChars, r) {
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidInput, r)
		}
		if t.BadChars != "" && strings.ContainsRune(t.BadChars, r) {
			return fmt.Errorf("%w: character %q not allowed", ErrInvalidInput, r)
		}
	}
	return nil
}

// Edit is a user edit of the text.
func (t *Text) Edit(ctx context.Context, s string) (bool, error) {
	if err := t.Validate(s); err != nil {
		return false, err
	}
	return t.submit(ctx, s)
}

// Input implements TextInput.
func (t *Text) Input(ctx context.Context, text string) (bool, error) {
	return t.Edit(ctx, text)
}

// Password is a two-box password editor. A read-only password shows only
// a mask since the server never reveals the plaintext.
type Password struct {
	base
	MaxLength int
	masked    bool
}

// NewPassword creates an editable two-box password widget.
func NewPassword(sub Submitter) *Password {
	p := &Password{}
	p.init(p, sub, true, normalizeString)
	p.value = ""
	return p
}

// NewMaskedPassword creates a read-only password display.
func NewMaskedPassword(defined bool) *Password {
	p := &Password{masked: true}
	p.init(p, nil, false, nil)
	p.SetDefined(defined)
	return p
}

// SetDefined updates the mask of a read-only password display.
func (p *Password) SetDefined(defined bool) {
	if !p.masked {
		return
	}
	v := ""
	if defined {
		v = Mask
	}
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
}

// Masked reports whether this is a read-only display.
func (p *Password) Masked() bool {
	return p.masked
}

// Edit is a user entry in both boxes. The entries must match.
func (p *Password) Edit(ctx context.Context, first, confirm string) (bool, error) {
	if p.masked {
		return false, ErrNotEditable
	}
	if first != confirm {
		return false, fmt.Errorf("%w: passwords do not match", ErrInvalidInput)
	}
	if p.MaxLength > 0 && utf8.RuneCountInString(first) > p.MaxLength {
		return false, fmt.Errorf("%w: longer than %d characters", ErrInvalidInput, p.MaxLength)
	}
	return p.submit(ctx, first)
}

// Input implements TextInput, using text for both boxes.
func (p *Password) Input(ctx context.Context, text string) (bool, error) {
	return p.Edit(ctx, text, text)
}

func (p *Password) Revert(ctx context.Context) error {
	if p.masked {
		return nil
	}
	return p.base.Revert(ctx)
}

// Number edits an integer.
type Number struct {
	base
}

// NewNumber creates an integer widget. An undefined value shows as nil.
func NewNumber(sub Submitter, editable bool) *Number {
	n := &Number{}
	n.init(n, sub, editable, normalizeNumber)
	return n
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return nil
}

// Edit is a user edit of the number.
func (n *Number) Edit(ctx context.Context, v int) (bool, error) {
	return n.submit(ctx, v)
}

// Input implements TextInput.
func (n *Number) Input(ctx context.Context, text string) (bool, error) {
	v, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return n.Edit(ctx, v)
}

// Float edits a floating point number.
type Float struct {
	base
}

// NewFloat creates a float widget.
func NewFloat(sub Submitter, editable bool) *Float {
	f := &Float{}
	f.init(f, sub, editable, normalizeFloat)
	return f
}

func normalizeFloat(v any) any {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return nil
}

// Edit is a user edit of the number.
func (f *Float) Edit(ctx context.Context, v float64) (bool, error) {
	return f.submit(ctx, v)
}

// Input implements TextInput.
func (f *Float) Input(ctx context.Context, text string) (bool, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return f.Edit(ctx, v)
}

// Date edits a date within optional limits.
type Date struct {
	base
	limMu  sync.RWMutex
	limits remote.DateLimits
}

// NewDate creates a date widget.
func NewDate(sub Submitter, editable bool) *Date {
	d := &Date{}
	d.init(d, sub, editable, normalizeDate)
	return d
}

func normalizeDate(v any) any {
	if t, ok := v.(time.Time); ok && !t.IsZero() {
		return t
	}
	return nil
}

// SetLimits installs the allowed range.
func (d *Date) SetLimits(l remote.DateLimits) {
	d.limMu.Lock()
	d.limits = l
	d.limMu.Unlock()
}

// Limits returns the allowed range.
func (d *Date) Limits() remote.DateLimits {
	d.limMu.RLock()
	defer d.limMu.RUnlock()
	return d.limits
}

// Edit is a user edit of the date. Dates outside the limits are refused
// locally.
func (d *Date) Edit(ctx context.Context, t time.Time) (bool, error) {
	if !d.Limits().Contains(t) {
		return false, fmt.Errorf("%w: %s is out of range", ErrInvalidInput, t.Format(DateLayout))
	}
	return d.submit(ctx, t)
}

// Clear is a user request to unset the date.
func (d *Date) Clear(ctx context.Context) (bool, error) {
	return d.submit(ctx, nil)
}

// Input implements TextInput. Empty text clears the date.
func (d *Date) Input(ctx context.Context, text string) (bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return d.Clear(ctx)
	}
	t, err := time.Parse(DateLayout, text)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return d.Edit(ctx, t)
}

// IP edits one IPv4 or, when allowed, IPv6 address.
type IP struct {
	base
	AllowV6 bool
}

// NewIP creates an address widget.
func NewIP(sub Submitter, editable, allowV6 bool) *IP {
	w := &IP{AllowV6: allowV6}
	w.init(w, sub, editable, normalizeAddr)
	return w
}

func normalizeAddr(v any) any {
	switch a := v.(type) {
	case netip.Addr:
		if a.IsValid() {
			return a
		}
	case string:
		if p, err := netip.ParseAddr(a); err == nil {
			return p
		}
	}
	return nil
}

// Addr returns the displayed address.
func (w *IP) Addr() netip.Addr {
	a, _ := w.Value().(netip.Addr)
	return a
}

// Edit is a user edit of the address.
func (w *IP) Edit(ctx context.Context, a netip.Addr) (bool, error) {
	if !a.IsValid() || (a.Is6() && !a.Is4In6() && !w.AllowV6) {
		return false, fmt.Errorf("%w: %s is not an allowed address", ErrInvalidInput, a)
	}
	return w.submit(ctx, a)
}

// Input implements TextInput.
func (w *IP) Input(ctx context.Context, text string) (bool, error) {
	a, err := netip.ParseAddr(strings.TrimSpace(text))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return w.Edit(ctx, a)
}

// ErrorLabel replaces a field that could not be rendered.
type ErrorLabel struct {
	base
}

// NewErrorLabel creates an inline error display.
func NewErrorLabel(text string) *ErrorLabel {
	e := &ErrorLabel{}
	e.init(e, nil, false, nil)
	e.value = text
	return e
}

// Text returns the error text.
func (e *ErrorLabel) Text() string {
	s, _ := e.Value().(string)
	return s
}
