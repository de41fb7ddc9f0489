package remote

import (
	"context"
	"fmt"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

// Outcome is the primary result of a mutating call.
type Outcome int

const (
	OK Outcome = iota
	Rejected
	NeedsInteraction
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Rejected:
		return "rejected"
	case NeedsInteraction:
		return "needs_interaction"
	default:
		return "unknown"
	}
}

// ResumeFunc continues an operation with the user's dialog answers. A nil
// answers map means the user cancelled the dialog.
type ResumeFunc func(ctx context.Context, answers map[string]string) (*Result, error)

// Result is returned by every mutating call. Events are side-channel
// instructions that apply whatever the outcome.
type Result struct {
	Outcome Outcome
	Reason  string
	// Aborted is set on a rejected commit when the server has dropped the
	// whole transaction.
	Aborted bool
	Dialog  *Dialog
	Resume  ResumeFunc

	Invid  schema.Invid
	Object Object

	Events []Event

	// Interacted is set by Drive when at least one dialog was presented.
	Interacted bool
}

// Succeeded reports whether r is an unqualified success. A nil result is
// treated as success.
func (r *Result) Succeeded() bool {
	return r == nil || r.Outcome == OK
}

// Success returns an OK result.
func Success() *Result {
	return &Result{Outcome: OK}
}

// Reject returns a rejection with a human-readable reason.
func Reject(format string, args ...any) *Result {
	return &Result{Outcome: Rejected, Reason: fmt.Sprintf(format, args...)}
}

// Interact returns a result that needs the user to answer d before resume
// can decide the outcome.
func Interact(d *Dialog, resume ResumeFunc) *Result {
	return &Result{Outcome: NeedsInteraction, Dialog: d, Resume: resume}
}

// With appends side-channel events to r and returns it.
func (r *Result) With(events ...Event) *Result {
	r.Events = append(r.Events, events...)
	return r
}

// Dialog describes a wizard or informational dialog the server wants shown.
type Dialog struct {
	Title  string        `json:"title"`
	Text   string        `json:"text"`
	OK     string        `json:"ok,omitempty"`
	Cancel string        `json:"cancel,omitempty"`
	Fields []DialogField `json:"fields,omitempty"`
}

// DialogField is one input of a dialog.
type DialogField struct {
	Name    string   `json:"name"`
	Label   string   `json:"label"`
	Kind    string   `json:"kind"` // "string", "password", "boolean", "choice"
	Choices []string `json:"choices,omitempty"`
	Default string   `json:"default,omitempty"`
}

// Event is a side-channel instruction carried by a Result.
type Event interface {
	event()
}

// Rescan asks the client to refresh fields of an object. All means every
// field; otherwise only Fields.
type Rescan struct {
	Invid  schema.Invid `json:"invid"`
	All    bool         `json:"all,omitempty"`
	Fields []uint16     `json:"fields,omitempty"`
}

// Relabel reports that an object's display label changed.
type Relabel struct {
	Invid schema.Invid `json:"invid"`
	Label string       `json:"label"`
}

func (*Rescan) event()  {}
func (*Relabel) event() {}

// Asker presents a dialog and returns the answers, or ok=false if the user
// dismissed it.
type Asker interface {
	Ask(ctx context.Context, d *Dialog) (answers map[string]string, ok bool)
}

// Drive resolves a NeedsInteraction result to a terminal outcome by
// presenting each dialog and feeding the answers back. Events from every
// step are accumulated on the returned result.
func Drive(ctx context.Context, r *Result, asker Asker) (*Result, error) {
	if r == nil {
		return Success(), nil
	}
	var events []Event
	interacted := false
	for r.Outcome == NeedsInteraction {
		events = append(events, r.Events...)
		if r.Resume == nil {
			return nil, fmt.Errorf("result needs interaction but has no continuation")
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var answers map[string]string
		if r.Dialog == nil {
			answers = map[string]string{}
		} else if asker != nil {
			interacted = true
			a, ok := asker.Ask(ctx, r.Dialog)
			if ok {
				answers = a
				if answers == nil {
					answers = map[string]string{}
				}
			}
		}
		glog.V(2).Infof("remote: resuming wizard step (answered=%t)", answers != nil)
		next, err := r.Resume(ctx, answers)
		if err != nil {
			return nil, Wrap("wizard resume", err)
		}
		if next == nil {
			next = Success()
		}
		r = next
	}
	out := *r
	out.Events = append(events, r.Events...)
	out.Interacted = interacted || r.Interacted
	out.Resume = nil
	return &out, nil
}
