package widget

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// fakeSubmitter accepts or rejects every change and serves a fixed server
// value.
type fakeSubmitter struct {
	accept  bool
	err     error
	server  any
	changes []Change
}

func (f *fakeSubmitter) Submit(_ context.Context, _ Widget, ch Change) (bool, error) {
	f.changes = append(f.changes, ch)
	if f.err != nil {
		return false, f.err
	}
	if f.accept && ch.Op == OpSet {
		f.server = ch.Value
	}
	return f.accept, nil
}

func (f *fakeSubmitter) CurrentValue(context.Context, Widget) (any, error) {
	return f.server, nil
}

func TestText_RevertOnRejection(t *testing.T) {
	sub := &fakeSubmitter{server: "before"}
	w := NewText(sub, true)
	w.SetValue("before")

	ok, err := w.Edit(context.Background(), "after")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "before", w.Text())
	require.Len(t, sub.changes, 1)
	assert.Equal(t, "after", sub.changes[0].Value)
}

func TestText_AcceptKeepsValue(t *testing.T) {
	sub := &fakeSubmitter{accept: true, server: "x"}
	w := NewText(sub, true)
	ok, err := w.Edit(context.Background(), "y")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "y", w.Text())
}

func TestText_LocalValidation(t *testing.T) {
	sub := &fakeSubmitter{accept: true}
	w := NewText(sub, true)
	w.MaxLength = 3
	w.OKChars = "abc"

	_, err := w.Edit(context.Background(), "abcd")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	_, err = w.Edit(context.Background(), "abz")
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Empty(t, sub.changes)
}

func TestText_MaxLengthCountsCharacters(t *testing.T) {
	sub := &fakeSubmitter{accept: true}
	w := NewText(sub, true)
	w.MaxLength = 5

	ok, err := w.Edit(context.Background(), "héllö")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "héllö", w.Text())
	_, err = w.Edit(context.Background(), "日本語です!")
	assert.ErrorIs(t, err, ErrInvalidInput)

	p := NewPassword(sub)
	p.MaxLength = 4
	ok, err = p.Edit(context.Background(), "päßö", "päßö")
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = p.Edit(context.Background(), "ééééé", "ééééé")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestText_TransportErrorReverts(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("down"), server: "keep"}
	w := NewText(sub, true)
	w.SetValue("keep")
	ok, err := w.Edit(context.Background(), "lost")
	assert.False(t, ok)
	assert.Error(t, err)
	assert.Equal(t, "keep", w.Text())
}

func TestReadOnlyRefusesEdit(t *testing.T) {
	w := NewNumber(&fakeSubmitter{}, false)
	_, err := w.Edit(context.Background(), 3)
	assert.ErrorIs(t, err, ErrNotEditable)
}

func TestPassword(t *testing.T) {
	sub := &fakeSubmitter{accept: true}
	p := NewPassword(sub)
	_, err := p.Edit(context.Background(), "a", "b")
	assert.ErrorIs(t, err, ErrInvalidInput)
	ok, err := p.Edit(context.Background(), "s3cret", "s3cret")
	require.NoError(t, err)
	assert.True(t, ok)

	masked := NewMaskedPassword(true)
	assert.Equal(t, Mask, masked.Value())
	assert.False(t, masked.Editable())
	masked.SetDefined(false)
	assert.Equal(t, "", masked.Value())
}

func TestNumberAndFloatInput(t *testing.T) {
	sub := &fakeSubmitter{accept: true}
	n := NewNumber(sub, true)
	ok, err := n.Input(context.Background(), " 42 ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, n.Value())
	_, err = n.Input(context.Background(), "x")
	assert.ErrorIs(t, err, ErrInvalidInput)

	f := NewFloat(sub, true)
	_, err = f.Input(context.Background(), "2.5")
	require.NoError(t, err)
	assert.Equal(t, 2.5, f.Value())
}

func TestDate_Limits(t *testing.T) {
	sub := &fakeSubmitter{accept: true}
	d := NewDate(sub, true)
	lo := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.SetLimits(remote.DateLimits{Min: &lo})

	_, err := d.Input(context.Background(), "2025-12-31")
	assert.ErrorIs(t, err, ErrInvalidInput)
	ok, err := d.Input(context.Background(), "2026-03-01")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), d.Value())

	ok, err = d.Input(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, d.Value())
}

func TestIP_V6Policy(t *testing.T) {
	sub := &fakeSubmitter{accept: true}
	w := NewIP(sub, true, false)
	_, err := w.Input(context.Background(), "fe80::1")
	assert.ErrorIs(t, err, ErrInvalidInput)
	ok, err := w.Input(context.Background(), "10.1.2.3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.1.2.3"), w.Addr())
}

func TestCheckbox_RevertDetachesListener(t *testing.T) {
	sub := &fakeSubmitter{server: false}
	c := NewCheckbox(sub, true)
	calls := 0
	c.SetListener(func(ctx context.Context, v any) {
		calls++
		// Server refuses: revert with the listener detached.
		require.NoError(t, c.Revert(ctx))
	})

	ok, err := c.Input(context.Background(), "true")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, c.Checked())
	assert.Equal(t, 1, calls)

	// Listener is reattached after the revert.
	require.NoError(t, c.Click(context.Background(), true))
	assert.Equal(t, 2, calls)
}

func TestCombo_InjectsCurrentValue(t *testing.T) {
	c := NewCombo(&fakeSubmitter{}, true)
	c.SetChoices([]remote.Choice{{Label: "red", Value: "red"}}, "green", "")
	choices := c.Choices()
	require.Len(t, choices, 2)
	assert.Equal(t, "green", choices[0].Value)
	assert.Equal(t, "green", c.Label())

	assert.ErrorIs(t, c.Select(context.Background(), "blue"), ErrInvalidInput)
}

func TestInvidChooser_NoneOption(t *testing.T) {
	a := schema.Invid{Base: 4, Num: 1}
	b := schema.Invid{Base: 4, Num: 2}
	sub := &fakeSubmitter{accept: true}

	w := NewInvidChooser(sub, false)
	w.SetChoices([]remote.Choice{{Label: "a", Value: a}}, b, "b")
	labels := []string{}
	for _, c := range w.Choices() {
		labels = append(labels, c.Label)
	}
	assert.Equal(t, []string{NoneLabel, "b", "a"}, labels)

	ok, err := w.Choose(context.Background(), schema.Invid{})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, w.Target().IsZero())

	must := NewInvidChooser(sub, true)
	must.SetChoices([]remote.Choice{{Label: "a", Value: a}}, a, "a")
	_, err = must.Choose(context.Background(), schema.Invid{})
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.True(t, w.Relabel(a, "alpha"))
}

func TestInvidButton(t *testing.T) {
	sub := &fakeSubmitter{accept: true}
	b := NewInvidButton(sub)
	inv := schema.Invid{Base: 3, Num: 7}
	b.SetTarget(inv, "")
	assert.Equal(t, PlaceholderLabel, b.Label())
	assert.True(t, b.Relabel(inv, "zed"))
	assert.Equal(t, "zed", b.Label())

	ok, err := b.Click(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, sub.changes, 1)
	assert.Equal(t, OpAction, sub.changes[0].Op)
	assert.Equal(t, "view", sub.changes[0].Action)
}

func TestStringSelector(t *testing.T) {
	x := schema.Invid{Base: 3, Num: 1}
	y := schema.Invid{Base: 3, Num: 2}
	z := schema.Invid{Base: 3, Num: 3}
	sub := &fakeSubmitter{accept: true}
	s := NewStringSelector(sub, true, true)
	s.SetValue([]remote.Choice{{Label: "x", Value: x}, {Label: "y", Value: y}})
	s.SetCandidates([]remote.Choice{{Label: "x", Value: x}, {Label: "z", Value: z}})

	require.Len(t, s.Candidates(), 1)
	ok, err := s.Add(context.Background(), z)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"x", "y", "z"}, s.Labels())
	assert.Empty(t, s.Candidates())

	ok, err = s.RemoveAll(context.Background(), []any{x, y})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"z"}, s.Labels())
	assert.Equal(t, OpDeleteAll, sub.changes[len(sub.changes)-1].Op)

	assert.True(t, s.Relabel(z, "zeta"))
	assert.Equal(t, []string{"zeta"}, s.Labels())

	sub.accept = false
	ok, err = s.Remove(context.Background(), z)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"zeta"}, s.Labels())
}

func TestStringSelector_ReadOnlyHasNoCandidates(t *testing.T) {
	s := NewStringSelector(nil, false, false)
	s.SetValue([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, s.Labels())
	assert.False(t, s.CanChoose())
	_, err := s.Add(context.Background(), "c")
	assert.ErrorIs(t, err, ErrNotEditable)
}
