package memremote

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

const (
	userBase  = schema.UserBase
	hostBase  = uint16(5)
	ifaceBase = uint16(6)
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	defs, err := DefaultSchema()
	require.NoError(t, err)
	return NewServer(defs...)
}

func openSession(t *testing.T, srv *Server) *Session {
	t.Helper()
	s := srv.NewSession()
	r, err := s.OpenTransaction(context.Background(), "test")
	require.NoError(t, err)
	require.True(t, r.Succeeded())
	return s
}

func editField(t *testing.T, s *Session, inv schema.Invid, id uint16) remote.Field {
	t.Helper()
	ctx := context.Background()
	r, err := s.EditObject(ctx, inv)
	require.NoError(t, err)
	require.True(t, r.Succeeded(), r.Reason)
	f, err := r.Object.Field(ctx, id)
	require.NoError(t, err)
	return f
}

func TestDefaultSchema(t *testing.T) {
	defs, err := DefaultSchema()
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	byID := map[uint16]BaseDef{}
	for _, d := range defs {
		byID[d.ID] = d
	}
	user := byID[userBase]
	assert.Equal(t, "User", user.Name)
	assert.True(t, user.CanInactivate)
	assert.Equal(t, uint16(100), user.LabelField)

	shell := user.field(105)
	require.NotNil(t, shell)
	assert.Equal(t, "shells", shell.ChoiceKey)
	assert.Equal(t, "General", shell.TabName)

	iface := byID[ifaceBase]
	assert.True(t, iface.Embedded)
	container := iface.field(schema.ContainerField)
	require.NotNil(t, container)
	assert.True(t, container.BuiltIn)

	host := byID[hostBase]
	ifaces := host.field(101)
	require.NotNil(t, ifaces)
	assert.True(t, ifaces.IsEditInPlace())
}

func TestLoadSchema_Invalid(t *testing.T) {
	_, err := LoadSchema([]byte(`bases: x: {id: 1, fields: [{id: 100, name: "a", kind: "blob"}]}` + "\n" + string(defaultSchema)))
	assert.Error(t, err)
}

func TestTransactionIsolation(t *testing.T) {
	srv := newTestServer(t)
	inv := srv.Seed(userBase, map[uint16]any{100: "alice"})
	ctx := context.Background()

	s := openSession(t, srv)
	name := editField(t, s, inv, 100)
	r, err := name.SetValue(ctx, "alicia")
	require.NoError(t, err)
	require.True(t, r.Succeeded(), r.Reason)

	committed, _ := srv.Value(inv, 100)
	assert.Equal(t, "alice", committed)

	r, err = s.CommitTransaction(ctx)
	require.NoError(t, err)
	require.True(t, r.Succeeded())
	committed, _ = srv.Value(inv, 100)
	assert.Equal(t, "alicia", committed)
}

func TestAbortDiscardsAndReleasesHandles(t *testing.T) {
	srv := newTestServer(t)
	inv := srv.Seed(userBase, map[uint16]any{100: "bob"})
	ctx := context.Background()

	s := openSession(t, srv)
	name := editField(t, s, inv, 100)
	_, err := name.SetValue(ctx, "robert")
	require.NoError(t, err)

	_, err = s.AbortTransaction(ctx)
	require.NoError(t, err)
	v, _ := srv.Value(inv, 100)
	assert.Equal(t, "bob", v)

	_, err = name.Value(ctx)
	assert.True(t, errors.Is(err, remote.ErrReleased))
}

func TestSetValue_LabelFieldRelabels(t *testing.T) {
	srv := newTestServer(t)
	inv := srv.Seed(userBase, map[uint16]any{100: "carol"})
	s := openSession(t, srv)

	r, err := editField(t, s, inv, 100).SetValue(context.Background(), "caroline")
	require.NoError(t, err)
	require.True(t, r.Succeeded(), r.Reason)
	require.Len(t, r.Events, 1)
	rl, ok := r.Events[0].(*remote.Relabel)
	require.True(t, ok)
	assert.Equal(t, inv, rl.Invid)
	assert.Equal(t, "caroline", rl.Label)
}

func TestSetValue_Constraints(t *testing.T) {
	srv := newTestServer(t)
	inv := srv.Seed(userBase, map[uint16]any{100: "dave"})
	s := openSession(t, srv)
	ctx := context.Background()

	r, err := editField(t, s, inv, 100).SetValue(ctx, "Dave")
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, r.Outcome)

	r, err = editField(t, s, inv, 100).SetValue(ctx, "waytoolongname")
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, r.Outcome)

	r, err = editField(t, s, inv, 105).SetValue(ctx, "/bin/sh")
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, r.Outcome)

	r, err = editField(t, s, inv, 107).SetValue(ctx, "not a number")
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, r.Outcome)
}

func TestHookWizardDefersMutation(t *testing.T) {
	srv := newTestServer(t)
	inv := srv.Seed(userBase, map[uint16]any{100: "erin", 107: 1001})
	srv.Hook(func(c HookCall) *remote.Result {
		if c.Field != 107 {
			return nil
		}
		return remote.Interact(&remote.Dialog{Title: "Change UID"}, func(_ context.Context, answers map[string]string) (*remote.Result, error) {
			if answers["confirm"] == "yes" {
				return remote.Success().With(&remote.Rescan{Invid: inv, Fields: []uint16{106}}), nil
			}
			return remote.Reject("UID change cancelled"), nil
		})
	})
	s := openSession(t, srv)
	ctx := context.Background()
	f := editField(t, s, inv, 107)

	r, err := f.SetValue(ctx, 2002)
	require.NoError(t, err)
	require.Equal(t, remote.NeedsInteraction, r.Outcome)
	v, _ := f.Value(ctx)
	assert.Equal(t, 1001, v)

	final, err := r.Resume(ctx, map[string]string{"confirm": "yes"})
	require.NoError(t, err)
	require.True(t, final.Succeeded())
	require.Len(t, final.Events, 1)
	v, _ = f.Value(ctx)
	assert.Equal(t, 2002, v)
}

func TestEmbeddedLifecycle(t *testing.T) {
	srv := newTestServer(t)
	host := srv.Seed(hostBase, map[uint16]any{100: "alpha"})
	s := openSession(t, srv)
	ctx := context.Background()

	ifaces := editField(t, s, host, 101)
	r, err := ifaces.CreateEmbedded(ctx)
	require.NoError(t, err)
	require.True(t, r.Succeeded(), r.Reason)
	require.NotNil(t, r.Object)
	assert.Equal(t, ifaceBase, r.Invid.Base)

	container, err := r.Object.Field(ctx, schema.ContainerField)
	require.NoError(t, err)
	cv, err := container.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, host, cv)

	v, _ := ifaces.Value(ctx)
	assert.Equal(t, []schema.Invid{r.Invid}, v)

	del, err := ifaces.DeleteElement(ctx, r.Invid)
	require.NoError(t, err)
	require.True(t, del.Succeeded())
	again, err := ifaces.DeleteElement(ctx, r.Invid)
	require.NoError(t, err)
	assert.True(t, again.Succeeded())

	v, _ = ifaces.Value(ctx)
	assert.Nil(t, v)
	_, err = s.ObjectLabel(ctx, r.Invid)
	assert.Error(t, err)
}

func TestLeafVectorElements(t *testing.T) {
	srv := newTestServer(t)
	host := srv.Seed(hostBase, map[uint16]any{100: "beta"})
	iface := srv.SeedEmbedded(host, 101, ifaceBase, map[uint16]any{100: "eth0"})
	s := openSession(t, srv)
	ctx := context.Background()

	addrs := editField(t, s, iface, 101)
	a := netip.MustParseAddr("10.0.0.1")
	b := netip.MustParseAddr("10.0.0.2")
	r, err := addrs.AddElements(ctx, []any{a, b})
	require.NoError(t, err)
	require.True(t, r.Succeeded(), r.Reason)

	dup, err := addrs.AddElement(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, dup.Outcome)

	c := netip.MustParseAddr("fe80::1")
	r, err = addrs.SetElement(ctx, 1, c)
	require.NoError(t, err)
	require.True(t, r.Succeeded())
	v, _ := addrs.Value(ctx)
	assert.Equal(t, []netip.Addr{a, c}, v)

	r, err = addrs.SetElement(ctx, 5, c)
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, r.Outcome)
}

func TestChoices(t *testing.T) {
	srv := newTestServer(t)
	srv.Seed(4, map[uint16]any{100: "wheel"})
	srv.Seed(4, map[uint16]any{100: "Staff"})
	inv := srv.Seed(userBase, map[uint16]any{100: "frank"})
	s := openSession(t, srv)
	ctx := context.Background()

	groups := editField(t, s, inv, 108)
	key, err := groups.ChoicesKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "base:4", key)

	choices, err := groups.Choices(ctx)
	require.NoError(t, err)
	require.Len(t, choices, 2)
	assert.Equal(t, "Staff", choices[0].Label)
	assert.Equal(t, "wheel", choices[1].Label)

	shell := editField(t, s, inv, 105)
	key, err = shell.ChoicesKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, "shells", key)
	_, err = shell.Choices(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), srv.ChoiceFetches())
}

func TestDeleteAndQuery(t *testing.T) {
	srv := newTestServer(t)
	a := srv.Seed(userBase, map[uint16]any{100: "gail"})
	srv.Seed(userBase, map[uint16]any{100: "Hank"})
	s := openSession(t, srv)
	ctx := context.Background()

	r, err := s.DeleteObject(ctx, a)
	require.NoError(t, err)
	require.True(t, r.Succeeded())

	handles, err := s.QueryByType(ctx, userBase, false)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.Equal(t, "Hank", handles[0].Label)
	assert.True(t, srv.Exists(a))

	_, err = s.CommitTransaction(ctx)
	require.NoError(t, err)
	assert.False(t, srv.Exists(a))
}

func TestCreateAndCommit(t *testing.T) {
	srv := newTestServer(t)
	s := openSession(t, srv)
	ctx := context.Background()

	r, err := s.CreateObject(ctx, userBase)
	require.NoError(t, err)
	require.True(t, r.Succeeded())
	f, err := r.Object.Field(ctx, 100)
	require.NoError(t, err)
	_, err = f.SetValue(ctx, "ivan")
	require.NoError(t, err)

	_, err = s.CommitTransaction(ctx)
	require.NoError(t, err)
	v, ok := srv.Value(r.Invid, 100)
	require.True(t, ok)
	assert.Equal(t, "ivan", v)

	hist, err := s.ObjectHistory(ctx, r.Invid)
	require.NoError(t, err)
	assert.Contains(t, hist, "created")
}

func TestInactivate(t *testing.T) {
	srv := newTestServer(t)
	inv := srv.Seed(userBase, map[uint16]any{100: "judy"})
	grp := srv.Seed(4, map[uint16]any{100: "ops"})
	s := openSession(t, srv)
	ctx := context.Background()

	r, err := s.InactivateObject(ctx, inv)
	require.NoError(t, err)
	require.True(t, r.Succeeded())
	handles, err := s.QueryByType(ctx, userBase, false)
	require.NoError(t, err)
	require.Len(t, handles, 1)
	assert.True(t, handles[0].Inactive)
	assert.True(t, handles[0].RemovalSet)

	r, err = s.InactivateObject(ctx, grp)
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, r.Outcome)

	r, err = s.ReactivateObject(ctx, inv)
	require.NoError(t, err)
	require.True(t, r.Succeeded())
}

func TestCommitAborted(t *testing.T) {
	srv := newTestServer(t)
	srv.OnCommit(func() *remote.Result {
		r := remote.Reject("database locked")
		r.Aborted = true
		return r
	})
	s := openSession(t, srv)
	ctx := context.Background()

	r, err := s.CommitTransaction(ctx)
	require.NoError(t, err)
	assert.True(t, r.Aborted)

	r, err = s.CreateObject(ctx, userBase)
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, r.Outcome)
}

func TestDenyWrite(t *testing.T) {
	srv := newTestServer(t)
	inv := srv.Seed(userBase, map[uint16]any{100: "kim"})
	srv.DenyWrite(inv)
	s := openSession(t, srv)

	r, err := s.EditObject(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, remote.Rejected, r.Outcome)

	handles, err := s.QueryByType(context.Background(), userBase, true)
	require.NoError(t, err)
	assert.Empty(t, handles)
}
