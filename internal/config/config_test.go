package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, "ws://localhost:8080/api/ganymede/ws", cfg.Server.URL)
	assert.Equal(t, 12*time.Hour, cfg.Server.SessionMaxAge)
	assert.Equal(t, 30*time.Minute, cfg.Server.SessionIdle)
	assert.Equal(t, 256, cfg.Client.ChoiceCacheSize)
	assert.Equal(t, 20, cfg.Client.FieldWidth)
	assert.Equal(t, "ganyclient session", cfg.Client.Description)
	assert.False(t, cfg.Client.AssumeYes)
	assert.Empty(t, cfg.Activity.DSN)
}

func TestParse_UserValuesWin(t *testing.T) {
	cfg, err := Parse([]byte(`
client: fieldWidth: 40
server: sessionIdle: "5m"
activity: dsn: "file:activity.db"
`), "user.cue")
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Client.FieldWidth)
	assert.Equal(t, 5*time.Minute, cfg.Server.SessionIdle)
	assert.Equal(t, "file:activity.db", cfg.Activity.DSN)
	assert.Equal(t, 256, cfg.Client.ChoiceCacheSize)
}

func TestParse_Rejects(t *testing.T) {
	for name, src := range map[string]string{
		"unknown field":     `client: colour: "blue"`,
		"constraint":        `client: choiceCacheSize: 0`,
		"wrong type":        `server: listen: 8080`,
		"bad duration":      `server: sessionMaxAge: "soon"`,
		"negative duration": `server: sessionIdle: "-1m"`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src), "bad.cue")
			assert.Error(t, err)
		})
	}
}

func TestLoad_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gany.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"client": {"assumeYes": true, "pageSize": 10}}`), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Client.AssumeYes)
	assert.Equal(t, 10, cfg.Client.PageSize)

	_, err = Load(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)
	env := map[string]string{
		EnvServerURL:   "ws://gany.example:9000/api/ganymede/ws",
		EnvListen:      ":9000",
		EnvActivityDSN: ":memory:",
		EnvAssumeYes:   "true",
	}
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "ws://gany.example:9000/api/ganymede/ws", cfg.Server.URL)
	assert.Equal(t, ":9000", cfg.Server.Listen)
	assert.Equal(t, ":memory:", cfg.Activity.DSN)
	assert.True(t, cfg.Client.AssumeYes)
	assert.Empty(t, cfg.Server.Schema)

	env[EnvAssumeYes] = "perhaps"
	assert.Error(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
}
