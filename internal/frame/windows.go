package frame

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// Windows is the registry of open windows. Closing a window removes it.
type Windows struct {
	mu     sync.Mutex
	frames []*Frame
}

// NewWindows creates an empty registry.
func NewWindows() *Windows {
	return &Windows{}
}

// Add registers f.
func (w *Windows) Add(f *Frame) {
	f.mu.Lock()
	f.onClose = w.Remove
	f.mu.Unlock()
	w.mu.Lock()
	w.frames = append(w.frames, f)
	w.mu.Unlock()
}

// Remove drops f without closing it.
func (w *Windows) Remove(f *Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = slices.DeleteFunc(w.frames, func(x *Frame) bool { return x == f })
}

// Frames returns the open windows in opening order.
func (w *Windows) Frames() []*Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Clone(w.frames)
}

// Len returns the number of open windows.
func (w *Windows) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

func (w *Windows) filter(keep func(*Frame) bool) []*Frame {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []*Frame
	for _, f := range w.frames {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// ByInvid returns the windows showing inv.
func (w *Windows) ByInvid(inv schema.Invid) []*Frame {
	return w.filter(func(f *Frame) bool { return f.invid == inv })
}

// Editables returns the windows editing an object.
func (w *Windows) Editables() []*Frame {
	return w.filter(func(f *Frame) bool { return f.editable })
}

// IsOpenForEdit reports whether some window edits inv.
func (w *Windows) IsOpenForEdit(inv schema.Invid) bool {
	return len(w.filter(func(f *Frame) bool { return f.editable && f.invid == inv })) > 0
}

// IsApprovedForClosing reports whether the user agreed to discard inv by
// closing its window.
func (w *Windows) IsApprovedForClosing(inv schema.Invid) bool {
	return len(w.filter(func(f *Frame) bool { return f.invid == inv && f.ApprovedForClosing() })) > 0
}

// closeAll closes frames outside the registry lock, since closing a frame
// removes it from the registry.
func closeAll(frames []*Frame) {
	for _, f := range frames {
		f.Close()
	}
}

// CloseEditables closes every edit window.
func (w *Windows) CloseEditables() {
	closeAll(w.Editables())
}

// CloseAll closes every window.
func (w *Windows) CloseAll() {
	closeAll(w.Frames())
}

// CloseInvid closes every window showing inv.
func (w *Windows) CloseInvid(inv schema.Invid) {
	closeAll(w.ByInvid(inv))
}

// RefreshObject applies a rescan to every window. Forms of embedded
// objects live inside their container's window, so every window is asked.
func (w *Windows) RefreshObject(ctx context.Context, rescan *remote.Rescan) error {
	var errs []error
	for _, f := range w.Frames() {
		errs = append(errs, f.Update(ctx, rescan))
	}
	return errors.Join(errs...)
}

// Relabel propagates a changed label to every window.
func (w *Windows) Relabel(inv schema.Invid, label string) {
	for _, f := range w.Frames() {
		f.Relabel(inv, label)
	}
}

// FlushNotes sends the buffered notes of every edit window.
func (w *Windows) FlushNotes(ctx context.Context) error {
	var errs []error
	for _, f := range w.Editables() {
		errs = append(errs, f.FlushNotes(ctx))
	}
	return errors.Join(errs...)
}
