// Package ui is the boundary between the client engine and whatever draws
// it. The engine only ever asks a Presenter to show an error, a message or
// a wizard dialog, to ask for confirmation, or to put text in the status
// bar.
package ui

import (
	"context"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/remote"
)

// Presenter shows dialogs and status messages to the user.
type Presenter interface {
	remote.Asker
	// ShowError presents a blocking error dialog.
	ShowError(title, text string)
	// ShowMessage presents an informational dialog.
	ShowMessage(title, text string)
	// SetStatus replaces the transient status bar text.
	SetStatus(text string)
	// Confirm asks a yes/no question.
	Confirm(ctx context.Context, title, text string) bool
}

// Notice is one recorded dialog or status line.
type Notice struct {
	Title string
	Text  string
}

// Recorder is a Presenter that records everything and answers from
// scripted replies. It is safe for concurrent use.
type Recorder struct {
	mu       sync.Mutex
	Errors   []Notice
	Messages []Notice
	Statuses []string
	Asked    []*remote.Dialog
	Confirms []Notice

	// Answers are returned by successive Ask calls; a nil entry dismisses
	// the dialog. Once exhausted every dialog is dismissed.
	Answers []map[string]string
	// ConfirmReply is returned by Confirm.
	ConfirmReply bool
}

var _ Presenter = (*Recorder)(nil)

func (r *Recorder) Ask(_ context.Context, d *remote.Dialog) (map[string]string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Asked = append(r.Asked, d)
	if len(r.Answers) == 0 {
		return nil, false
	}
	a := r.Answers[0]
	r.Answers = r.Answers[1:]
	return a, a != nil
}

func (r *Recorder) ShowError(title, text string) {
	glog.Warningf("ui: error %q: %s", title, text)
	r.mu.Lock()
	r.Errors = append(r.Errors, Notice{Title: title, Text: text})
	r.mu.Unlock()
}

func (r *Recorder) ShowMessage(title, text string) {
	r.mu.Lock()
	r.Messages = append(r.Messages, Notice{Title: title, Text: text})
	r.mu.Unlock()
}

func (r *Recorder) SetStatus(text string) {
	r.mu.Lock()
	r.Statuses = append(r.Statuses, text)
	r.mu.Unlock()
}

func (r *Recorder) Confirm(_ context.Context, title, text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Confirms = append(r.Confirms, Notice{Title: title, Text: text})
	return r.ConfirmReply
}

// ErrorCount returns the number of error dialogs shown.
func (r *Recorder) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Errors)
}

// LastStatus returns the most recent status text.
func (r *Recorder) LastStatus() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Statuses) == 0 {
		return ""
	}
	return r.Statuses[len(r.Statuses)-1]
}
