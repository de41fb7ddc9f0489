// Package form renders an object's fields into headless widgets and keeps
// them in step with the server. A Container is the form of one object; a
// Vector manages the elements of one multi-valued field, nesting further
// Containers for embedded objects.
package form

import (
	"context"
	"errors"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/choicecache"
	"github.com/matthewbaird/ganyclient/internal/dispatch"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/ui"
)

var (
	// ErrAlreadyLoaded is returned by a second Load of the same form.
	ErrAlreadyLoaded = errors.New("form already loaded")
	// ErrMissingTemplate reports field info the client has no template for.
	ErrMissingTemplate = errors.New("no template for field")
)

// DefaultFieldWidth is the text width used when Env.FieldWidth is unset.
const DefaultFieldWidth = 40

// Host is the session-level collaborator every form reports to.
type Host interface {
	// HandleResult drives any wizard in r to a terminal outcome and applies
	// its rescan and relabel events to every open window.
	HandleResult(ctx context.Context, r *remote.Result) (*remote.Result, error)
	// SomethingChanged marks the transaction dirty.
	SomethingChanged()
	ViewObject(ctx context.Context, inv schema.Invid) error
	EditObject(ctx context.Context, inv schema.Invid) error
}

// Env carries the session-scoped dependencies shared by every form.
type Env struct {
	Session   remote.Session
	Templates *schema.Registry
	Choices   *choicecache.Cache
	Presenter ui.Presenter
	Host      Host
	Queue     *dispatch.Queue
	// FieldWidth is the column width of plain text fields.
	FieldWidth int
}

func (e *Env) fieldWidth() int {
	if e.FieldWidth > 0 {
		return e.FieldWidth
	}
	return DefaultFieldWidth
}

// report shows err to the user and returns it as a *remote.CallError so
// callers further up need no handling of their own.
func (e *Env) report(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	glog.Errorf("form: %s: %v", op, err)
	if e.Presenter != nil {
		e.Presenter.ShowError("Error", op+": "+err.Error())
	}
	return remote.Wrap(op, err)
}

// choices returns the pick list of f through the shared cache.
func (e *Env) choices(ctx context.Context, f remote.Field) ([]remote.Choice, error) {
	if e.Choices == nil {
		items, err := f.Choices(ctx)
		return items, remote.Wrap("choices", err)
	}
	return e.Choices.Lookup(ctx, f)
}

// resolve hands r to the host and reports whether it ended in success.
// A rejection nobody was asked about goes to the status bar; a wizard
// already showed the user whatever it had to say.
func (e *Env) resolve(ctx context.Context, op string, r *remote.Result) (bool, *remote.Result, error) {
	final, err := e.Host.HandleResult(ctx, r)
	if err != nil {
		return false, nil, e.report(op, err)
	}
	if final.Succeeded() {
		e.Host.SomethingChanged()
		return true, final, nil
	}
	glog.V(2).Infof("form: %s rejected: %s", op, final.Reason)
	if !final.Interacted && e.Presenter != nil {
		e.Presenter.SetStatus(final.Reason)
	}
	return false, final, nil
}
