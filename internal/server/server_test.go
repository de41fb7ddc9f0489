package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/ganyclient/internal/remote/memremote"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/wire"
)

func newTestServer(t *testing.T) (*httptest.Server, *wire.Manager) {
	t.Helper()
	defs, err := memremote.DefaultSchema()
	require.NoError(t, err)
	h, sessions := Router(Config{
		Store:         memremote.NewServer(defs...),
		SchemaSource:  memremote.DefaultSchemaSource(),
		SessionMaxAge: time.Hour,
		SessionIdle:   time.Hour,
	})
	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return ts, sessions
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	ts, _ := newTestServer(t)
	var body map[string]any
	getJSON(t, ts.URL+"/healthz", &body)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
}

func TestSchemaEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	var bases []BaseSchema
	getJSON(t, ts.URL+"/api/ganymede/schema", &bases)
	require.NotEmpty(t, bases)

	var user *BaseSchema
	for i := range bases {
		if bases[i].ID == schema.UserBase {
			user = &bases[i]
		}
	}
	require.NotNil(t, user)
	assert.Equal(t, "User", user.Name)
	assert.True(t, user.CanInactivate)
	var names []string
	for _, f := range user.Fields {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "Login Shell")

	resp, err := http.Get(ts.URL + "/api/ganymede/schema.cue")
	require.NoError(t, err)
	defer resp.Body.Close()
	src, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, memremote.DefaultSchemaSource(), src)
}

func TestWebsocketRoute(t *testing.T) {
	ts, sessions := newTestServer(t)
	ctx := context.Background()
	c, err := wire.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/api/ganymede/ws")
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Ping(ctx))
	assert.Equal(t, 1, sessions.Len())
	bases, err := c.Bases(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, bases)
}

func TestUnknownRoute(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/ganymede/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
