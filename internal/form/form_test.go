package form

import (
	"context"
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/choicecache"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/remote/memremote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/ui"
	"github.com/matthewbaird/ganyclient/internal/widget"
)

const (
	gadgetBase = uint16(10)
	personBase = uint16(11)
	systemBase = uint16(5)
	ifaceBase  = uint16(6)
)

// testHost drives wizards through the recorder and applies rescans and
// relabels to the forms it knows about.
type testHost struct {
	presenter ui.Presenter
	forms     []*Container
	dirty     int
	viewed    []schema.Invid
}

func (h *testHost) HandleResult(ctx context.Context, r *remote.Result) (*remote.Result, error) {
	final, err := remote.Drive(ctx, r, h.presenter)
	if err != nil {
		return nil, err
	}
	for _, ev := range final.Events {
		switch e := ev.(type) {
		case *remote.Rescan:
			for _, c := range h.forms {
				if c.Invid() != e.Invid {
					continue
				}
				if e.All {
					_ = c.UpdateAll(ctx)
				} else {
					_ = c.Update(ctx, e.Fields...)
				}
			}
		case *remote.Relabel:
			for _, c := range h.forms {
				c.RelabelInvid(e.Invid, e.Label)
			}
		}
	}
	return final, nil
}

func (h *testHost) SomethingChanged() { h.dirty++ }

func (h *testHost) ViewObject(_ context.Context, inv schema.Invid) error {
	h.viewed = append(h.viewed, inv)
	return nil
}

func (h *testHost) EditObject(context.Context, schema.Invid) error { return nil }

type fixture struct {
	srv  *memremote.Server
	sess *memremote.Session
	env  *Env
	host *testHost
	rec  *ui.Recorder
}

func gadgetSchema() []memremote.BaseDef {
	f := func(id uint16, name string, kind schema.FieldKind) memremote.FieldDef {
		return memremote.FieldDef{FieldTemplate: schema.FieldTemplate{ID: id, Name: name, Kind: kind, TargetBase: schema.AnyTarget}}
	}
	owner := f(102, "Owner", schema.KindInvid)
	owner.Vector = true
	owner.TargetBase = int(personBase)
	peer := f(105, "Peer", schema.KindInvid)
	peer.TargetBase = int(personBase)
	return []memremote.BaseDef{
		{
			Base: schema.Base{ID: gadgetBase, Name: "Widget", LabelField: 100},
			Fields: []memremote.FieldDef{
				f(100, "Name", schema.KindString),
				f(101, "Count", schema.KindNumber),
				owner,
				f(103, "Weight", schema.KindFloat),
				f(104, "Born", schema.KindDate),
				peer,
				f(106, "Active", schema.KindBoolean),
				f(107, "Addr", schema.KindIP),
			},
		},
		{
			Base:   schema.Base{ID: personBase, Name: "Person", LabelField: 100},
			Fields: []memremote.FieldDef{f(100, "Name", schema.KindString)},
		},
	}
}

func newFixture(t *testing.T, srv *memremote.Server) *fixture {
	t.Helper()
	ctx := context.Background()
	sess := srv.NewSession()
	r, err := sess.OpenTransaction(ctx, "test")
	require.NoError(t, err)
	require.True(t, r.Succeeded())

	reg := schema.NewRegistry(sess.FieldTemplates)
	bases, err := sess.Bases(ctx)
	require.NoError(t, err)
	for _, b := range bases {
		reg.RegisterBase(b)
	}
	cache, err := choicecache.New(0)
	require.NoError(t, err)
	rec := &ui.Recorder{}
	host := &testHost{presenter: rec}
	return &fixture{
		srv:  srv,
		sess: sess,
		host: host,
		rec:  rec,
		env:  &Env{Session: sess, Templates: reg, Choices: cache, Presenter: rec, Host: host},
	}
}

func defaultServer(t *testing.T) *memremote.Server {
	t.Helper()
	defs, err := memremote.DefaultSchema()
	require.NoError(t, err)
	return memremote.NewServer(defs...)
}

func (fx *fixture) open(t *testing.T, inv schema.Invid, editable bool, opts ...Option) *Container {
	t.Helper()
	ctx := context.Background()
	var (
		r   *remote.Result
		err error
	)
	if editable {
		r, err = fx.sess.EditObject(ctx, inv)
	} else {
		r, err = fx.sess.ViewObject(ctx, inv)
	}
	require.NoError(t, err)
	require.True(t, r.Succeeded(), r.Reason)
	c := NewContainer(fx.env, r.Object, opts...)
	fx.host.forms = append(fx.host.forms, c)
	return c
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		tmpl schema.FieldTemplate
		want renderKind
	}{
		{schema.FieldTemplate{Kind: schema.KindString}, rkText},
		{schema.FieldTemplate{Kind: schema.KindString, Choices: true}, rkChoice},
		{schema.FieldTemplate{Kind: schema.KindString, Choices: true, MultiLine: true}, rkText},
		{schema.FieldTemplate{Kind: schema.KindPassword}, rkPassword},
		{schema.FieldTemplate{Kind: schema.KindInvid}, rkReference},
		{schema.FieldTemplate{Kind: schema.KindInvid, EditInPlace: true}, rkError},
		{schema.FieldTemplate{Kind: schema.KindInvid, Vector: true}, rkReferences},
		{schema.FieldTemplate{Kind: schema.KindInvid, Vector: true, EditInPlace: true}, rkVector},
		{schema.FieldTemplate{Kind: schema.KindIP, Vector: true}, rkVector},
		{schema.FieldTemplate{Kind: schema.KindString, Vector: true}, rkStrings},
		{schema.FieldTemplate{Kind: schema.KindFieldOptions}, rkMatrix},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, kindOf(&tc.tmpl), "%+v", tc.tmpl)
	}
}

func TestContainer_UpdateEachKind(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	x := srv.Seed(personBase, map[uint16]any{100: "X"})
	y := srv.Seed(personBase, map[uint16]any{100: "Y"})
	d1 := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2026, 5, 6, 0, 0, 0, 0, time.UTC)
	g := srv.Seed(gadgetBase, map[uint16]any{
		100: "Foo", 101: 3, 103: 1.5, 104: d1, 105: x, 107: netip.MustParseAddr("10.0.0.1"),
	})
	fx := newFixture(t, srv)
	ctx := context.Background()

	c := fx.open(t, g, true)
	require.NoError(t, c.Load(ctx))
	bound := c.Bindings().Len()
	require.Equal(t, 8, bound)

	changes := map[uint16]any{
		100: "Bar",
		101: 4,
		103: 2.5,
		104: d2,
		105: y,
		106: true,
		107: netip.MustParseAddr("10.0.0.2"),
	}
	for id, v := range changes {
		b, ok := c.Bindings().ByID(id)
		require.True(t, ok, "field %d", id)
		r, err := b.Field.SetValue(ctx, v)
		require.NoError(t, err)
		require.True(t, r.Succeeded(), r.Reason)

		require.NoError(t, c.Update(ctx, id))
		assert.Equal(t, v, c.Widget(id).Value(), "field %d", id)
		assert.Equal(t, bound, c.Bindings().Len())
	}
	assert.IsType(t, &widget.InvidChooser{}, c.Widget(105))
}

func TestContainer_ViewOnlyScenario(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	x := srv.Seed(personBase, map[uint16]any{100: "X"})
	y := srv.Seed(personBase, map[uint16]any{100: "Y"})
	g := srv.Seed(gadgetBase, map[uint16]any{100: "Foo", 101: 3, 102: []schema.Invid{x, y}})
	fx := newFixture(t, srv)
	ctx := context.Background()

	c := fx.open(t, g, false)
	require.NoError(t, c.Load(ctx))
	require.Len(t, c.Rows(), 3)

	name, ok := c.Widget(100).(*widget.Text)
	require.True(t, ok)
	assert.Equal(t, "Foo", name.Text())
	assert.False(t, name.Editable())

	count, ok := c.Widget(101).(*widget.Number)
	require.True(t, ok)
	assert.Equal(t, 3, count.Value())
	assert.False(t, count.Editable())

	owners, ok := c.Widget(102).(*widget.StringSelector)
	require.True(t, ok)
	assert.False(t, owners.Editable())
	assert.Equal(t, []string{"X", "Y"}, owners.Labels())
	assert.False(t, owners.CanChoose())
	assert.Empty(t, owners.Candidates())

	assert.Zero(t, fx.srv.ChoiceFetches())

	// View windows are never refreshed.
	require.NoError(t, c.UpdateAll(ctx))
	assert.Zero(t, fx.srv.ChoiceFetches())
}

func TestContainer_LoadTwice(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	g := srv.Seed(gadgetBase, map[uint16]any{100: "Foo"})
	fx := newFixture(t, srv)
	c := fx.open(t, g, false)
	require.NoError(t, c.Load(context.Background()))
	assert.ErrorIs(t, c.Load(context.Background()), ErrAlreadyLoaded)
}

func TestContainer_RejectionReverts(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	g := srv.Seed(gadgetBase, map[uint16]any{100: "Foo"})
	srv.Hook(func(call memremote.HookCall) *remote.Result {
		if call.Op == "set" && call.Field == 100 {
			return remote.Reject("names are frozen")
		}
		return nil
	})
	fx := newFixture(t, srv)
	ctx := context.Background()
	c := fx.open(t, g, true)
	require.NoError(t, c.Load(ctx))

	name := c.Widget(100).(*widget.Text)
	before := name.Text()
	ok, err := name.Edit(ctx, "Bar")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, name.Text())
	assert.Equal(t, "names are frozen", fx.rec.LastStatus())
	assert.Zero(t, fx.rec.ErrorCount())
	assert.Zero(t, fx.host.dirty)

	count := c.Widget(101).(*widget.Number)
	ok, err = count.Edit(ctx, 9)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, fx.host.dirty)
}

func TestContainer_CheckboxRevertsThroughListener(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	g := srv.Seed(gadgetBase, map[uint16]any{100: "Foo"})
	srv.Hook(func(call memremote.HookCall) *remote.Result {
		if call.Field == 106 {
			return remote.Reject("locked")
		}
		return nil
	})
	fx := newFixture(t, srv)
	ctx := context.Background()
	c := fx.open(t, g, true)
	require.NoError(t, c.Load(ctx))

	box := c.Widget(106).(*widget.Checkbox)
	require.NoError(t, box.Click(ctx, true))
	assert.False(t, box.Checked())
	assert.Equal(t, "locked", fx.rec.LastStatus())
}

func TestContainer_WizardSubmit(t *testing.T) {
	srv := defaultServer(t)
	u := srv.Seed(schema.UserBase, map[uint16]any{100: "alice", 101: "Alice A"})
	srv.Hook(func(call memremote.HookCall) *remote.Result {
		if call.Op != "set" || call.Field != 101 {
			return nil
		}
		d := &remote.Dialog{Title: "Rename", Fields: []remote.DialogField{{Name: "confirm", Label: "Sure?"}}}
		return remote.Interact(d, func(_ context.Context, answers map[string]string) (*remote.Result, error) {
			if answers == nil || answers["confirm"] != "yes" {
				return remote.Reject("rename cancelled"), nil
			}
			return remote.Success().With(&remote.Rescan{Invid: call.Invid, Fields: []uint16{101}}), nil
		})
	})
	fx := newFixture(t, srv)
	ctx := context.Background()
	c := fx.open(t, u, true)
	require.NoError(t, c.Load(ctx))
	full := c.Widget(101).(*widget.Text)

	fx.rec.Answers = []map[string]string{{"confirm": "yes"}}
	ok, err := full.Edit(ctx, "Alice B")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice B", full.Text())
	b, _ := c.Bindings().ByID(101)
	assert.Equal(t, "idle", b.State().String())

	// A dismissed wizard rejects without a status message.
	fx.rec.Statuses = nil
	ok, err = full.Edit(ctx, "Alice C")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "Alice B", full.Text())
	assert.Empty(t, fx.rec.LastStatus())
	assert.Len(t, fx.rec.Asked, 2)
}

func TestContainer_SkipList(t *testing.T) {
	srv := defaultServer(t)
	sys := srv.Seed(systemBase, map[uint16]any{100: "host1"})
	eth := srv.SeedEmbedded(sys, 101, ifaceBase, map[uint16]any{100: "eth0"})
	u := srv.Seed(schema.UserBase, map[uint16]any{100: "alice"})
	fx := newFixture(t, srv)
	ctx := context.Background()

	iface := fx.open(t, eth, true, WithFields(schema.ContainerField, 100))
	require.NoError(t, iface.Load(ctx))
	assert.Nil(t, iface.Widget(schema.ContainerField))
	assert.NotNil(t, iface.Widget(100))

	user := fx.open(t, u, true)
	require.NoError(t, user.Load(ctx))
	assert.Nil(t, user.Widget(schema.UserAdminPersonae))
	assert.Nil(t, user.Widget(schema.BackLinksField))
	assert.Nil(t, user.Widget(schema.NotesField))
	assert.NotNil(t, user.Widget(100))
}

func TestContainer_TabFilter(t *testing.T) {
	srv := defaultServer(t)
	u := srv.Seed(schema.UserBase, map[uint16]any{100: "alice"})
	fx := newFixture(t, srv)
	c := fx.open(t, u, true, WithTab("Personal"))
	require.NoError(t, c.Load(context.Background()))

	var ids []uint16
	for _, row := range c.Rows() {
		ids = append(ids, row.Template.ID)
	}
	assert.Equal(t, []uint16{110, 111}, ids)
	assert.True(t, c.Widget(110).(*widget.Text).MultiLine)
}

func TestContainer_SharedChoiceKeyFetchesOnce(t *testing.T) {
	srv := defaultServer(t)
	srv.Seed(4, map[uint16]any{100: "staff"})
	u := srv.Seed(schema.UserBase, map[uint16]any{100: "alice"})
	fx := newFixture(t, srv)
	ctx := context.Background()

	c := fx.open(t, u, true, WithTab("Groups"))
	require.NoError(t, c.Load(ctx))
	require.NotNil(t, c.Widget(108))
	require.NotNil(t, c.Widget(109))
	assert.Equal(t, int64(1), fx.srv.ChoiceFetches())

	// A second form of the same base hits the cache too.
	c2 := fx.open(t, u, true, WithTab("Groups"))
	require.NoError(t, c2.Load(ctx))
	assert.Equal(t, int64(1), fx.srv.ChoiceFetches())
}

func TestContainer_ComboInjectsCurrentValue(t *testing.T) {
	srv := defaultServer(t)
	sys := srv.Seed(systemBase, map[uint16]any{100: "host1", 102: "mainframe"})
	fx := newFixture(t, srv)
	c := fx.open(t, sys, true)
	require.NoError(t, c.Load(context.Background()))

	combo := c.Widget(102).(*widget.Combo)
	assert.Equal(t, "mainframe", combo.Value())
	assert.Equal(t, "mainframe", combo.Label())
}

func TestContainer_QueuedUpdatesReplayAfterLoad(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	g := srv.Seed(gadgetBase, map[uint16]any{100: "Foo"})
	fx := newFixture(t, srv)
	ctx := context.Background()

	var dateCalls int
	c := fx.open(t, g, true, OnDateChange(func(context.Context) { dateCalls++ }))
	require.NoError(t, c.Update(ctx, 100))
	require.NoError(t, c.UpdateAll(ctx))
	require.NoError(t, c.Update(ctx, schema.ExpirationField))
	require.Len(t, c.queued, 3)
	assert.True(t, c.queued[1].all)

	require.NoError(t, c.Load(ctx))
	assert.Equal(t, Loaded, c.State())
	assert.Empty(t, c.queued)
	assert.Equal(t, 2, dateCalls)
	assert.Equal(t, 8, c.Bindings().Len())
}

// cancelAfter cancels its context once n field handles were handed out.
type cancelAfter struct {
	remote.Object
	n      int
	cancel context.CancelFunc
}

func (o *cancelAfter) Field(ctx context.Context, id uint16) (remote.Field, error) {
	o.n--
	if o.n == 0 {
		o.cancel()
	}
	return o.Object.Field(ctx, id)
}

func TestContainer_CancelledLoadStops(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	g := srv.Seed(gadgetBase, map[uint16]any{100: "Foo", 101: 1})
	fx := newFixture(t, srv)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r, err := fx.sess.EditObject(ctx, g)
	require.NoError(t, err)
	c := NewContainer(fx.env, &cancelAfter{Object: r.Object, n: 2, cancel: cancel})
	require.NoError(t, c.Update(context.Background(), 100))

	err = c.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, c.Rows(), 2)
	assert.Equal(t, Loaded, c.State())
	assert.Empty(t, c.queued)
	assert.Zero(t, fx.rec.ErrorCount())
}

type nilInfos struct {
	remote.Object
}

func (nilInfos) FieldInfos(context.Context) ([]schema.FieldInfo, error) {
	return nil, nil
}

func TestContainer_MetadataProblems(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	g := srv.Seed(gadgetBase, map[uint16]any{100: "Foo", 101: 2})
	fx := newFixture(t, srv)
	ctx := context.Background()

	r, err := fx.sess.ViewObject(ctx, g)
	require.NoError(t, err)
	infos, err := r.Object.FieldInfos(ctx)
	require.NoError(t, err)
	infos = append(infos, schema.FieldInfo{ID: 999, Defined: true, Visible: true, Value: "ghost"})

	c := NewContainer(fx.env, r.Object, WithInfos(infos))
	require.NoError(t, c.Load(ctx))
	require.Len(t, c.Errors(), 1)
	assert.True(t, errors.Is(c.Errors()[0], ErrMissingTemplate))
	assert.NotNil(t, c.Widget(100))
	assert.NotNil(t, c.Widget(101))

	empty := NewContainer(fx.env, nilInfos{r.Object})
	require.NoError(t, empty.Load(ctx))
	assert.Empty(t, empty.Rows())
	assert.Equal(t, 2, fx.rec.ErrorCount())
}

func TestContainer_ReferenceButtonOpensTarget(t *testing.T) {
	srv := memremote.NewServer(gadgetSchema()...)
	x := srv.Seed(personBase, map[uint16]any{100: "X"})
	g := srv.Seed(gadgetBase, map[uint16]any{100: "Foo", 105: x})
	fx := newFixture(t, srv)
	ctx := context.Background()
	c := fx.open(t, g, false)
	require.NoError(t, c.Load(ctx))

	btn := c.Widget(105).(*widget.InvidButton)
	assert.Equal(t, "X", btn.Label())
	ok, err := btn.Click(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []schema.Invid{x}, fx.host.viewed)

	c.RelabelInvid(x, "Xavier")
	assert.Equal(t, "Xavier", btn.Label())
}

func TestContainer_Dispose(t *testing.T) {
	srv := defaultServer(t)
	sys := srv.Seed(systemBase, map[uint16]any{100: "host1"})
	srv.SeedEmbedded(sys, 101, ifaceBase, map[uint16]any{100: "eth0"})
	fx := newFixture(t, srv)
	c := fx.open(t, sys, true)
	require.NoError(t, c.Load(context.Background()))
	require.Len(t, c.Vectors(), 1)

	c.Dispose()
	assert.Zero(t, c.Bindings().Len())
	assert.Empty(t, c.Vectors())
}
