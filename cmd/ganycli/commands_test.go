package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/remote/memremote"
	"github.com/matthewbaird/ganyclient/internal/seed"
	"github.com/matthewbaird/ganyclient/internal/server"
)

type cliFixture struct {
	srv  *memremote.Server
	demo *seed.Demo
	url  string
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	defs, err := memremote.DefaultSchema()
	require.NoError(t, err)
	srv := memremote.NewServer(defs...)
	demo, err := seed.SeedDemo(context.Background(), srv)
	require.NoError(t, err)

	h, _ := server.Router(server.Config{
		Store:         srv,
		SchemaSource:  memremote.DefaultSchemaSource(),
		SessionMaxAge: time.Hour,
		SessionIdle:   time.Hour,
	})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &cliFixture{
		srv:  srv,
		demo: demo,
		url:  "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ganymede/ws",
	}
}

func (fx *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, status bytes.Buffer
	root := newRootCmd()
	root.SetArgs(append([]string{"--server", fx.url, "--yes"}, args...))
	root.SetIn(strings.NewReader(""))
	root.SetOut(&out)
	root.SetErr(&status)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestBasesAndTree(t *testing.T) {
	fx := newCLIFixture(t)

	out, err := fx.run(t, "bases")
	require.NoError(t, err)
	assert.Contains(t, out, "User")
	assert.Contains(t, out, "Interface")

	out, err = fx.run(t, "tree", "user")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "alice")
	assert.Contains(t, lines[0], fx.demo.Alice.String())
	assert.Contains(t, lines[1], "bob")

	_, err = fx.run(t, "tree", "nosuchbase")
	assert.Error(t, err)
}

func TestShow(t *testing.T) {
	fx := newCLIFixture(t)
	out, err := fx.run(t, "show", fx.demo.Alice.String())
	require.NoError(t, err)
	assert.Contains(t, out, "Alice Liddell")
	assert.Contains(t, out, "/bin/zsh")
	assert.Contains(t, out, "staff")
}

func TestSet_CommitsByDefault(t *testing.T) {
	fx := newCLIFixture(t)
	out, err := fx.run(t, "set", fx.demo.Alice.String(), "full name", "Alice Aardvark")
	require.NoError(t, err)
	assert.Contains(t, out, "committed")

	v, ok := fx.srv.Value(fx.demo.Alice, 101)
	require.True(t, ok)
	assert.Equal(t, "Alice Aardvark", v)
}

func TestSet_DryRunLeavesServerAlone(t *testing.T) {
	fx := newCLIFixture(t)
	out, err := fx.run(t, "set", "--dry-run", fx.demo.Alice.String(), "101", "Alice Aardvark")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")

	v, ok := fx.srv.Value(fx.demo.Alice, 101)
	require.True(t, ok)
	assert.Equal(t, "Alice Liddell", v)
}

func TestSet_Rejected(t *testing.T) {
	fx := newCLIFixture(t)
	_, err := fx.run(t, "set", fx.demo.Alice.String(), "Username", "Not Valid")
	assert.Error(t, err)

	_, err = fx.run(t, "set", fx.demo.Alice.String(), "Shoe Size", "42")
	assert.Error(t, err)
}

func TestCreateAndDelete(t *testing.T) {
	fx := newCLIFixture(t)
	out, err := fx.run(t, "create", "group", "name=ops", "gid=200")
	require.NoError(t, err)
	assert.Contains(t, out, "created 4:")

	out, err = fx.run(t, "tree", "group")
	require.NoError(t, err)
	assert.Contains(t, out, "ops")

	_, err = fx.run(t, "delete", fx.demo.Bob.String())
	require.NoError(t, err)
	assert.False(t, fx.srv.Exists(fx.demo.Bob))
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"name=ops", "description=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"name", "ops"}, {"description", "a=b"}, {"empty", ""}}, got)

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}
