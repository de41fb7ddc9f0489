package frame

import (
	"context"
	"slices"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/dispatch"
	"github.com/matthewbaird/ganyclient/internal/form"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/widget"
)

// TabKind says what a tab shows.
type TabKind int

const (
	FieldsTab TabKind = iota
	OwnerTab
	PersonaeTab
	NotesTab
	HistoryTab
	ExpirationTab
	RemovalTab
)

func (k TabKind) String() string {
	switch k {
	case FieldsTab:
		return "fields"
	case OwnerTab:
		return "owner"
	case PersonaeTab:
		return "personae"
	case NotesTab:
		return "notes"
	case HistoryTab:
		return "history"
	case ExpirationTab:
		return "expiration"
	case RemovalTab:
		return "removal"
	default:
		return "unknown"
	}
}

// Tab is one tab of a window. Its content exists once it was built.
type Tab struct {
	name string
	kind TabKind

	building sync.Mutex

	mu      sync.Mutex
	built   bool
	forms   []*form.Container
	notes   *Notes
	history *History
}

// Name returns the tab label.
func (t *Tab) Name() string { return t.name }

// Kind returns what the tab shows.
func (t *Tab) Kind() TabKind { return t.kind }

// Built reports whether the tab content exists.
func (t *Tab) Built() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.built
}

// Forms returns the forms of the tab: one for field tabs, one per persona
// for the personae tab, none for notes and history.
func (t *Tab) Forms() []*form.Container {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.forms)
}

// Notes returns the notes buffer of a notes tab.
func (t *Tab) Notes() *Notes {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notes
}

// History returns the history of a history tab.
func (t *Tab) History() *History {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.history
}

func (t *Tab) addForm(c *form.Container) {
	t.mu.Lock()
	t.forms = append(t.forms, c)
	t.mu.Unlock()
}

func (t *Tab) dispose() {
	t.mu.Lock()
	forms := t.forms
	t.forms = nil
	t.notes = nil
	t.built = false
	t.mu.Unlock()
	for _, c := range forms {
		c.Dispose()
	}
}

// Notes is the free-text notes field of an object. Edits are buffered
// locally and only sent by Flush, which the session does before commit.
type Notes struct {
	frame    *Frame
	field    remote.Field
	editable bool

	mu    sync.Mutex
	text  string
	saved string
}

func (f *Frame) buildNotes(ctx context.Context, t *Tab) error {
	fld, err := f.obj.Field(ctx, schema.NotesField)
	if err != nil {
		return f.report("load notes", err)
	}
	info, err := fld.Info(ctx)
	if err != nil {
		return f.report("load notes", err)
	}
	text, _ := info.Value.(string)
	n := &Notes{
		frame:    f,
		field:    fld,
		editable: f.editable && info.Editable,
		text:     text,
		saved:    text,
	}
	t.mu.Lock()
	t.notes = n
	t.mu.Unlock()
	return nil
}

// Text returns the buffered text.
func (n *Notes) Text() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text
}

// Editable reports whether the notes may be changed.
func (n *Notes) Editable() bool { return n.editable }

// SetText replaces the buffered text without contacting the server.
func (n *Notes) SetText(s string) error {
	if !n.editable {
		return widget.ErrNotEditable
	}
	n.mu.Lock()
	n.text = s
	n.mu.Unlock()
	return nil
}

// Dirty reports whether the buffer differs from the server's text.
func (n *Notes) Dirty() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.text != n.saved
}

// Flush sends the buffered text if it changed and reports whether the
// server kept it. A rejected text stays in the buffer.
func (n *Notes) Flush(ctx context.Context) (bool, error) {
	n.mu.Lock()
	text, dirty := n.text, n.text != n.saved
	n.mu.Unlock()
	if !dirty || !n.editable {
		return true, nil
	}

	f := n.frame
	r, err := n.field.SetValue(ctx, text)
	if err != nil {
		return false, f.report("save notes", err)
	}
	final, err := f.host.HandleResult(ctx, r)
	if err != nil {
		return false, f.report("save notes", err)
	}
	if !final.Succeeded() {
		glog.V(2).Infof("frame: notes of %s rejected: %s", f.invid, final.Reason)
		if !final.Interacted && f.env.Presenter != nil {
			f.env.Presenter.SetStatus(final.Reason)
		}
		return false, nil
	}
	n.mu.Lock()
	n.saved = text
	n.mu.Unlock()
	f.host.SomethingChanged()
	return true, nil
}

// reload takes the server's text unless the buffer holds unsent edits.
func (n *Notes) reload(ctx context.Context) error {
	if n.Dirty() {
		return nil
	}
	info, err := n.field.Info(ctx)
	if err != nil {
		return n.frame.report("refresh notes", err)
	}
	text, _ := info.Value.(string)
	n.mu.Lock()
	n.text, n.saved = text, text
	n.mu.Unlock()
	return nil
}

// History is the change history of an object, fetched in the background
// when the history tab is first shown.
type History struct {
	mu   sync.Mutex
	text string
	err  error
	done chan struct{}
	once sync.Once
}

func newHistory() *History {
	return &History{done: make(chan struct{})}
}

func (h *History) set(text string, err error) {
	h.once.Do(func() {
		h.mu.Lock()
		h.text, h.err = text, err
		h.mu.Unlock()
		close(h.done)
	})
}

// Done is closed once the history arrived.
func (h *History) Done() <-chan struct{} { return h.done }

// Text returns the history text and the error fetching it, if any. Both
// are empty until Done is closed.
func (h *History) Text() (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.text, h.err
}

// Wait blocks until the history arrived or ctx ends.
func (h *History) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.done:
		return h.Text()
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// fetchHistory retrieves the history off the caller's goroutine and posts
// the result back to the dispatch queue.
func (f *Frame) fetchHistory(t *Tab) {
	h := newHistory()
	t.mu.Lock()
	t.history = h
	t.mu.Unlock()

	bg := dispatch.Detach(f.stopCtx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		text, err := f.env.Session.ObjectHistory(bg, f.invid)
		if err != nil {
			glog.Warningf("frame: history of %s: %v", f.invid, err)
		}
		if perr := f.env.Queue.Post(bg, func(context.Context) { h.set(text, err) }); perr != nil {
			h.set(text, err)
		}
	}()
}
