package binding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/widget"
)

func TestRegistry_Lookups(t *testing.T) {
	r := NewRegistry()
	name := &schema.FieldTemplate{ID: 100, Name: "Name"}
	uid := &schema.FieldTemplate{ID: 107, Name: "UID", Kind: schema.KindNumber}
	w1 := widget.NewText(nil, false)
	w2 := widget.NewNumber(nil, false)

	r.Register(w1, nil, name)
	r.Register(w2, nil, uid)

	assert.Equal(t, 2, r.Len())
	assert.Same(t, name, r.Template(w1))
	assert.Same(t, uid, r.Template(w2))
	assert.Equal(t, widget.Widget(w2), r.Widget(107))
	assert.Nil(t, r.Widget(999))
	assert.Nil(t, r.Field(widget.NewText(nil, false)))

	var ids []uint16
	r.Each(func(b *Binding) { ids = append(ids, b.ID()) })
	assert.Equal(t, []uint16{100, 107}, ids)

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.Widget(100))
}

func TestRegistry_DuplicateFieldPanics(t *testing.T) {
	r := NewRegistry()
	tmpl := &schema.FieldTemplate{ID: 100, Name: "Name"}
	r.Register(widget.NewText(nil, false), nil, tmpl)

	defer func() {
		v := recover()
		require.NotNil(t, v)
		err, ok := v.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrDuplicateField))
	}()
	r.Register(widget.NewText(nil, false), nil, tmpl)
}

func TestBinding_SubmitState(t *testing.T) {
	b := &Binding{Template: &schema.FieldTemplate{ID: 100}}
	assert.Equal(t, Idle, b.State())
	assert.False(t, b.Substitute("ignored"))

	require.True(t, b.Begin())
	assert.False(t, b.Begin())
	assert.Equal(t, Submitting, b.State())
	assert.True(t, b.Substitute("from server"))

	v, ok := b.End()
	assert.True(t, ok)
	assert.Equal(t, "from server", v)
	assert.Equal(t, Idle, b.State())

	require.True(t, b.Begin())
	_, ok = b.End()
	assert.False(t, ok)
}
