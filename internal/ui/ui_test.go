package ui

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/remote"
)

func TestConsole_AskUsesDefaults(t *testing.T) {
	var out bytes.Buffer
	c := NewConsole(strings.NewReader("\nbob\n"), &out)
	d := &remote.Dialog{
		Title: "New user",
		Fields: []remote.DialogField{
			{Name: "shell", Label: "Shell", Default: "/bin/bash"},
			{Name: "name", Label: "Name"},
		},
	}
	answers, ok := c.Ask(context.Background(), d)
	require.True(t, ok)
	assert.Equal(t, map[string]string{"shell": "/bin/bash", "name": "bob"}, answers)
	assert.Contains(t, out.String(), "== New user ==")
}

func TestConsole_EOFDismisses(t *testing.T) {
	c := NewConsole(strings.NewReader(""), &bytes.Buffer{})
	_, ok := c.Ask(context.Background(), &remote.Dialog{Title: "x", Fields: []remote.DialogField{{Name: "a"}}})
	assert.False(t, ok)
	assert.False(t, c.Confirm(context.Background(), "t", "really?"))
}

func TestConsole_AssumeYes(t *testing.T) {
	c := NewConsole(strings.NewReader(""), &bytes.Buffer{})
	c.AssumeYes = true
	assert.True(t, c.Confirm(context.Background(), "t", "really?"))
	answers, ok := c.Ask(context.Background(), &remote.Dialog{Title: "x", Fields: []remote.DialogField{{Name: "a", Default: "1"}}})
	require.True(t, ok)
	assert.Equal(t, "1", answers["a"])
}

func TestRecorder_ScriptedAnswers(t *testing.T) {
	r := &Recorder{Answers: []map[string]string{{"a": "1"}, nil}}
	a, ok := r.Ask(context.Background(), &remote.Dialog{})
	assert.True(t, ok)
	assert.Equal(t, "1", a["a"])
	_, ok = r.Ask(context.Background(), &remote.Dialog{})
	assert.False(t, ok)
	_, ok = r.Ask(context.Background(), &remote.Dialog{})
	assert.False(t, ok)
	assert.Len(t, r.Asked, 3)

	r.SetStatus("one")
	r.SetStatus("two")
	assert.Equal(t, "two", r.LastStatus())
}
