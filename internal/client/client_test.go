package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/activity"
	"github.com/matthewbaird/ganyclient/internal/frame"
	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/remote/memremote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/tree"
	"github.com/matthewbaird/ganyclient/internal/ui"
)

const groupBase = uint16(4)

type fixture struct {
	srv   *memremote.Server
	sess  *memremote.Session
	rec   *ui.Recorder
	c     *Client
	alice schema.Invid
	bob   schema.Invid
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	defs, err := memremote.DefaultSchema()
	require.NoError(t, err)
	srv := memremote.NewServer(defs...)
	fx := &fixture{
		srv:   srv,
		sess:  srv.NewSession(),
		rec:   &ui.Recorder{},
		alice: srv.Seed(schema.UserBase, map[uint16]any{100: "alice"}),
		bob:   srv.Seed(schema.UserBase, map[uint16]any{100: "bob"}),
	}
	// Later options win, so a test may bring its own presenter.
	c, err := Connect(context.Background(), fx.sess, append([]Option{WithPresenter(fx.rec)}, opts...)...)
	require.NoError(t, err)
	fx.c = c
	return fx
}

func (fx *fixture) icon(t *testing.T, inv schema.Invid) tree.Icon {
	t.Helper()
	n, ok := fx.c.Tree().Node(inv)
	require.True(t, ok, "no node for %s", inv)
	return n.Icon
}

func errorTitles(rec *ui.Recorder) []string {
	var out []string
	for _, n := range rec.Errors {
		out = append(out, n.Title)
	}
	return out
}

// pendingDeleteAndCreate deletes alice and creates a new user.
func (fx *fixture) pendingDeleteAndCreate(t *testing.T) schema.Invid {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fx.c.LoadBase(ctx, schema.UserBase))

	ok, err := fx.c.DeleteObject(ctx, fx.alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tree.IconDelete, fx.icon(t, fx.alice))
	assert.Equal(t, "alice will be deleted when commit is clicked.", fx.rec.LastStatus())

	f, err := fx.c.CreateObject(ctx, schema.UserBase)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.IsCreating())
	assert.Equal(t, "New User", f.Title())
	created := f.Invid()
	assert.Equal(t, tree.IconCreate, fx.icon(t, created))
	assert.True(t, fx.c.IsCreated(created))
	assert.True(t, fx.c.Dirty())
	return created
}

func TestConnect_LoadsBases(t *testing.T) {
	fx := newFixture(t)
	assert.False(t, fx.c.Dirty())
	assert.NotNil(t, fx.c.Templates().Base(schema.UserBase))
	for _, b := range fx.c.Tree().Bases() {
		assert.False(t, b.Embedded, b.Name)
	}

	require.NoError(t, fx.c.LoadBase(context.Background(), schema.UserBase))
	nodes := fx.c.Tree().Nodes(schema.UserBase)
	require.Len(t, nodes, 2)
	assert.Equal(t, "alice", nodes[0].Text)
	assert.Equal(t, "bob", nodes[1].Text)
	assert.Equal(t, tree.IconPlain, nodes[0].Icon)
}

func TestCommit_DeleteAndCreate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	created := fx.pendingDeleteAndCreate(t)

	ok, err := fx.c.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found := fx.c.Tree().Node(fx.alice)
	assert.False(t, found)
	assert.Equal(t, tree.IconPlain, fx.icon(t, created))
	deleted, createdSet, changed := fx.c.Pending()
	assert.Empty(t, deleted)
	assert.Empty(t, createdSet)
	assert.Empty(t, changed)
	assert.False(t, fx.c.Dirty())
	assert.Zero(t, fx.c.Windows().Len())
	assert.False(t, fx.srv.Exists(fx.alice))
	assert.True(t, fx.srv.Exists(created))
	assert.Equal(t, "Transaction successfully committed.", fx.rec.LastStatus())

	// The next transaction is open.
	f, err := fx.c.OpenEdit(ctx, fx.bob)
	require.NoError(t, err)
	require.NotNil(t, f)
}

func TestCancel_RestoresTree(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.c.LoadBase(ctx, schema.UserBase))
	before, ok := fx.c.Tree().Node(fx.alice)
	require.True(t, ok)
	created := fx.pendingDeleteAndCreate(t)

	require.NoError(t, fx.c.Cancel(ctx))

	n, ok := fx.c.Tree().Node(fx.alice)
	require.True(t, ok)
	assert.Equal(t, before.Handle, n.Handle)
	assert.Equal(t, tree.IconPlain, n.Icon)
	_, ok = fx.c.Tree().Node(created)
	assert.False(t, ok)
	deleted, createdSet, changed := fx.c.Pending()
	assert.Empty(t, deleted)
	assert.Empty(t, createdSet)
	assert.Empty(t, changed)
	assert.Zero(t, fx.c.Windows().Len())
	assert.False(t, fx.c.Dirty())
	assert.True(t, fx.srv.Exists(fx.alice))
	assert.False(t, fx.srv.Exists(created))
}

func TestDelete_Guards(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	ok, err := fx.c.DeleteObject(ctx, fx.alice)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = fx.c.DeleteObject(ctx, fx.alice)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"Object Already Deleted"}, errorTitles(fx.rec))

	f, err := fx.c.OpenEdit(ctx, fx.bob)
	require.NoError(t, err)
	require.NotNil(t, f)
	ok, err = fx.c.DeleteObject(ctx, fx.bob)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"Object Already Deleted", "Object being edited"}, errorTitles(fx.rec))
	assert.False(t, fx.c.IsDeleted(fx.bob))

	f, err = fx.c.OpenEdit(ctx, fx.alice)
	require.NoError(t, err)
	assert.Nil(t, f, "a deleted object can not be edited")
}

func TestOpenEdit_ReusesWindow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.c.LoadBase(ctx, schema.UserBase))

	first, err := fx.c.OpenEdit(ctx, fx.bob)
	require.NoError(t, err)
	second, err := fx.c.OpenEdit(ctx, fx.bob)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, fx.c.Windows().Len())
	assert.True(t, fx.c.IsChanged(fx.bob))
	assert.Equal(t, tree.IconChanged, fx.icon(t, fx.bob))
	assert.Equal(t, "bob", first.Title())

	view, err := fx.c.OpenView(ctx, fx.bob)
	require.NoError(t, err)
	assert.False(t, view.Editable())
	assert.Equal(t, 2, fx.c.Windows().Len())
}

func TestDiscardCreatedByClosingWindow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.c.LoadBase(ctx, schema.UserBase))
	f, err := fx.c.CreateObject(ctx, schema.UserBase)
	require.NoError(t, err)
	inv := f.Invid()

	fx.rec.ConfirmReply = true
	closed, err := f.RequestClose(ctx)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.False(t, fx.c.IsCreated(inv))
	assert.False(t, fx.c.IsDeleted(inv))
	_, ok := fx.c.Tree().Node(inv)
	assert.False(t, ok)
	assert.Zero(t, fx.c.Windows().Len())
	assert.Empty(t, fx.rec.Errors)
}

func TestCreateBeforeBaseIsListed(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	f, err := fx.c.CreateObject(ctx, groupBase)
	require.NoError(t, err)
	inv := f.Invid()
	assert.False(t, fx.c.Tree().Loaded(groupBase))

	require.NoError(t, fx.c.LoadBase(ctx, groupBase))
	assert.Equal(t, tree.IconCreate, fx.icon(t, inv))
}

func TestCloneObject(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	sys := fx.srv.Seed(5, map[uint16]any{100: "box", 102: "server"})
	// A fresh transaction sees the object seeded after connecting.
	require.NoError(t, fx.c.Cancel(ctx))

	f, err := fx.c.CloneObject(ctx, sys)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.True(t, f.IsCreating())
	assert.Equal(t, "New System", f.Title())

	fld, err := f.Object().Field(ctx, 102)
	require.NoError(t, err)
	v, err := fld.Value(ctx)
	require.NoError(t, err)
	assert.Equal(t, "server", v)
	fld, err = f.Object().Field(ctx, 100)
	require.NoError(t, err)
	v, err = fld.Value(ctx)
	require.NoError(t, err)
	assert.Empty(t, v, "the label is not copied")
}

func TestInactivateAndReactivate(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.c.LoadBase(ctx, schema.UserBase))

	ok, err := fx.c.InactivateObject(ctx, fx.alice)
	require.NoError(t, err)
	require.True(t, ok)
	n, _ := fx.c.Tree().Node(fx.alice)
	assert.Equal(t, tree.IconInactive, n.Icon)
	assert.Equal(t, "alice"+tree.InactiveSuffix, n.Text)
	assert.True(t, fx.c.IsChanged(fx.alice))

	ok, err = fx.c.ReactivateObject(ctx, fx.alice)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tree.IconChanged, fx.icon(t, fx.alice))

	_, err = fx.c.OpenEdit(ctx, fx.bob)
	require.NoError(t, err)
	ok, err = fx.c.InactivateObject(ctx, fx.bob)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"Object being edited"}, errorTitles(fx.rec))
}

func TestHandleResult_Relabel(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.c.LoadBase(ctx, schema.UserBase))
	f, err := fx.c.OpenEdit(ctx, fx.alice)
	require.NoError(t, err)
	fx.c.Choices().Put("users", []remote.Choice{{Label: "alice", Value: fx.alice}})

	final, err := fx.c.HandleResult(ctx, remote.Reject("no").With(&remote.Relabel{Invid: fx.alice, Label: "alicia"}))
	require.NoError(t, err)
	assert.False(t, final.Succeeded())

	assert.Equal(t, "alicia", f.Title())
	n, _ := fx.c.Tree().Node(fx.alice)
	assert.Equal(t, "alicia", n.Text)
	_, _, changed := fx.c.Pending()
	assert.Equal(t, "alicia", changed[fx.alice].CurrentLabel)
	assert.Equal(t, "alice", changed[fx.alice].OriginalLabel)
	users, ok := fx.c.Choices().Get("users")
	require.True(t, ok)
	assert.Equal(t, "alicia", users[0].Label)
}

func TestCommit_RefreshesChangedLabels(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	require.NoError(t, fx.c.LoadBase(ctx, schema.UserBase))
	f, err := fx.c.OpenEdit(ctx, fx.bob)
	require.NoError(t, err)

	fld, err := f.Object().Field(ctx, 100)
	require.NoError(t, err)
	r, err := fld.SetValue(ctx, "robert")
	require.NoError(t, err)
	require.True(t, r.Succeeded())

	ok, err := fx.c.Commit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	n, found := fx.c.Tree().Node(fx.bob)
	require.True(t, found)
	assert.Equal(t, "robert", n.Text)
	assert.Equal(t, tree.IconPlain, n.Icon)
}

func TestCommit_FlushesNotes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	f, err := fx.c.OpenEdit(ctx, fx.alice)
	require.NoError(t, err)
	_, err = f.ShowTab(ctx, frame.NotesTabName)
	require.NoError(t, err)
	require.NoError(t, f.Notes().SetText("on leave"))

	ok, err := fx.c.Commit(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	v, _ := fx.srv.Value(fx.alice, schema.NotesField)
	assert.Equal(t, "on leave", v)
}

func TestCommit_FixableRejectionKeepsState(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	created := fx.pendingDeleteAndCreate(t)
	fx.srv.OnCommit(func() *remote.Result { return remote.Reject("new users need a login shell") })

	ok, err := fx.c.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"Commit Failure"}, errorTitles(fx.rec))
	assert.True(t, fx.c.IsDeleted(fx.alice))
	assert.True(t, fx.c.IsCreated(created))
	assert.Equal(t, 1, fx.c.Windows().Len())
	assert.True(t, fx.c.Dirty())
}

func TestCommit_AbortedRevertsLikeCancel(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	created := fx.pendingDeleteAndCreate(t)
	fx.srv.OnCommit(func() *remote.Result {
		r := remote.Reject("database is read-only")
		r.Aborted = true
		return r
	})

	ok, err := fx.c.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, []string{"Commit Failure"}, errorTitles(fx.rec))
	assert.Equal(t, tree.IconPlain, fx.icon(t, fx.alice))
	_, found := fx.c.Tree().Node(created)
	assert.False(t, found)
	assert.Zero(t, fx.c.Windows().Len())
	assert.False(t, fx.c.Dirty())

	// A fresh transaction was opened.
	fx.srv.OnCommit(nil)
	f, err := fx.c.OpenEdit(ctx, fx.alice)
	require.NoError(t, err)
	require.NotNil(t, f)
}

type mockPresenter struct {
	mock.Mock
}

func (m *mockPresenter) Ask(ctx context.Context, d *remote.Dialog) (map[string]string, bool) {
	args := m.Called(ctx, d)
	answers, _ := args.Get(0).(map[string]string)
	return answers, args.Bool(1)
}

func (m *mockPresenter) ShowError(title, text string)   { m.Called(title, text) }
func (m *mockPresenter) ShowMessage(title, text string) { m.Called(title, text) }
func (m *mockPresenter) SetStatus(text string)          { m.Called(text) }

func (m *mockPresenter) Confirm(ctx context.Context, title, text string) bool {
	return m.Called(ctx, title, text).Bool(0)
}

func TestCommit_DrivesWizard(t *testing.T) {
	p := &mockPresenter{}
	fx := newFixture(t, WithPresenter(p))
	ctx := context.Background()

	confirmed := false
	fx.srv.OnCommit(func() *remote.Result {
		if confirmed {
			return nil
		}
		return remote.Interact(&remote.Dialog{
			Title:  "Really commit?",
			Fields: []remote.DialogField{{Name: "confirm", Label: "Type yes", Kind: "string"}},
		}, func(ctx context.Context, answers map[string]string) (*remote.Result, error) {
			if answers["confirm"] != "yes" {
				return remote.Reject("not confirmed"), nil
			}
			confirmed = true
			return fx.sess.CommitTransaction(ctx)
		})
	})

	p.On("Ask", mock.Anything, mock.MatchedBy(func(d *remote.Dialog) bool { return d.Title == "Really commit?" })).
		Return(map[string]string{"confirm": "yes"}, true).Once()
	p.On("SetStatus", "Transaction successfully committed.").Once()

	ok, err := fx.c.Commit(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, confirmed)
	p.AssertExpectations(t)
}

func TestCommit_WizardDismissedShowsNoSecondDialog(t *testing.T) {
	p := &mockPresenter{}
	fx := newFixture(t, WithPresenter(p))
	ctx := context.Background()
	fx.srv.OnCommit(func() *remote.Result {
		return remote.Interact(&remote.Dialog{Title: "Really commit?"},
			func(context.Context, map[string]string) (*remote.Result, error) {
				return remote.Reject("cancelled by user"), nil
			})
	})
	p.On("Ask", mock.Anything, mock.Anything).Return(nil, false).Once()

	ok, err := fx.c.Commit(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	p.AssertExpectations(t)
	p.AssertNotCalled(t, "ShowError", mock.Anything, mock.Anything)
}

func TestActivityRecorded(t *testing.T) {
	store := activity.NewMemoryStore()
	rec := activity.NewRecorder(store, 0)
	ctx := context.Background()
	rec.Start(ctx)
	defer rec.Stop()

	fx := newFixture(t, WithActivity(rec))
	_, err := fx.c.OpenView(ctx, fx.alice)
	require.NoError(t, err)
	_, err = fx.c.DeleteObject(ctx, fx.bob)
	require.NoError(t, err)
	require.NoError(t, fx.c.Cancel(ctx))

	fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, rec.Flush(fctx))

	entries, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	var kinds []activity.Kind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.ElementsMatch(t, []activity.Kind{activity.KindView, activity.KindDelete, activity.KindCancel}, kinds)

	byBob, _, total, err := store.QueryByInvid(ctx, fx.bob, activity.DefaultQueryOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "deleted bob", byBob[0].Summary)
}
