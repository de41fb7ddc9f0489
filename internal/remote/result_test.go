package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

type scriptedAsker struct {
	answers []map[string]string
	asked   []*Dialog
}

func (a *scriptedAsker) Ask(_ context.Context, d *Dialog) (map[string]string, bool) {
	a.asked = append(a.asked, d)
	if len(a.answers) == 0 {
		return nil, false
	}
	next := a.answers[0]
	a.answers = a.answers[1:]
	return next, true
}

func TestDrive_NilIsSuccess(t *testing.T) {
	r, err := Drive(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.True(t, r.Succeeded())
}

func TestDrive_MultiStepWizard(t *testing.T) {
	inv := schema.Invid{Base: 3, Num: 9}
	step2 := func(_ context.Context, answers map[string]string) (*Result, error) {
		if answers["confirm"] != "yes" {
			return Reject("not confirmed"), nil
		}
		return Success().With(&Relabel{Invid: inv, Label: "bob"}), nil
	}
	step1 := func(_ context.Context, answers map[string]string) (*Result, error) {
		return Interact(&Dialog{Title: "Confirm"}, step2).With(&Rescan{Invid: inv, All: true}), nil
	}
	start := Interact(&Dialog{Title: "Name"}, step1)

	asker := &scriptedAsker{answers: []map[string]string{{"name": "bob"}, {"confirm": "yes"}}}
	r, err := Drive(context.Background(), start, asker)
	require.NoError(t, err)
	assert.Equal(t, OK, r.Outcome)
	assert.True(t, r.Interacted)
	assert.Len(t, asker.asked, 2)
	require.Len(t, r.Events, 2)
	assert.IsType(t, &Rescan{}, r.Events[0])
	assert.IsType(t, &Relabel{}, r.Events[1])
}

func TestDrive_DismissedDialogRejects(t *testing.T) {
	var got map[string]string
	called := false
	start := Interact(&Dialog{Title: "Sure?"}, func(_ context.Context, answers map[string]string) (*Result, error) {
		called = true
		got = answers
		if answers == nil {
			return Reject("cancelled"), nil
		}
		return Success(), nil
	})
	r, err := Drive(context.Background(), start, &scriptedAsker{})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Nil(t, got)
	assert.Equal(t, Rejected, r.Outcome)
	assert.Equal(t, "cancelled", r.Reason)
}

func TestDrive_ResumeError(t *testing.T) {
	start := Interact(&Dialog{}, func(context.Context, map[string]string) (*Result, error) {
		return nil, errors.New("connection reset")
	})
	_, err := Drive(context.Background(), start, &scriptedAsker{answers: []map[string]string{{}}})
	var ce *CallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "wizard resume", ce.Op)
}

func TestDateLimits(t *testing.T) {
	var none DateLimits
	now := mustTime(t, "2026-01-02T00:00:00Z")
	assert.True(t, none.Contains(now))

	lo := mustTime(t, "2026-01-01T00:00:00Z")
	hi := mustTime(t, "2026-01-03T00:00:00Z")
	l := DateLimits{Min: &lo, Max: &hi}
	assert.True(t, l.Contains(now))
	assert.False(t, l.Contains(hi.AddDate(0, 0, 1)))
	assert.False(t, l.Contains(lo.AddDate(0, 0, -1)))
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return v
}
