// Package config loads the settings shared by ganyd and ganycli. Defaults
// and constraints live in an embedded CUE definition; a user file is
// unified with it and environment variables override the result.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed config.cue
var definition []byte

// Environment variables read by ApplyEnv.
const (
	EnvServerURL   = "GANY_SERVER_URL"
	EnvListen      = "GANY_LISTEN"
	EnvSchema      = "GANY_SCHEMA"
	EnvActivityDSN = "GANY_ACTIVITY_DSN"
	EnvAssumeYes   = "GANY_ASSUME_YES"
)

// Server configures the dev server and where clients find it.
type Server struct {
	URL           string        `json:"url"`
	Listen        string        `json:"listen"`
	Schema        string        `json:"schema"`
	SessionMaxAge time.Duration `json:"-"`
	SessionIdle   time.Duration `json:"-"`
}

// Client configures the client engine.
type Client struct {
	Description     string `json:"description"`
	ChoiceCacheSize int    `json:"choiceCacheSize"`
	FieldWidth      int    `json:"fieldWidth"`
	PageSize        int    `json:"pageSize"`
	AssumeYes       bool   `json:"assumeYes"`
}

// Activity configures the activity log.
type Activity struct {
	DSN    string `json:"dsn"`
	Buffer int    `json:"buffer"`
}

// Config is the complete configuration.
type Config struct {
	Server   Server   `json:"server"`
	Client   Client   `json:"client"`
	Activity Activity `json:"activity"`
}

type rawServer struct {
	URL           string `json:"url"`
	Listen        string `json:"listen"`
	Schema        string `json:"schema"`
	SessionMaxAge string `json:"sessionMaxAge"`
	SessionIdle   string `json:"sessionIdle"`
}

type rawConfig struct {
	Server   rawServer `json:"server"`
	Client   Client    `json:"client"`
	Activity Activity  `json:"activity"`
}

// Default returns the configuration with no user file.
func Default() (*Config, error) {
	return Parse(nil, "")
}

// Load reads the CUE or JSON file at path and unifies it with the
// defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default()
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(src, path)
}

// Parse unifies src with the defaults. filename is used in error messages.
func Parse(src []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	def := ctx.CompileBytes(definition, cue.Filename("config.cue"))
	if err := def.Err(); err != nil {
		return nil, fmt.Errorf("compile config definition: %w", err)
	}
	val := def.LookupPath(cue.ParsePath("#Config"))
	if len(src) > 0 {
		user := ctx.CompileBytes(src, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, fmt.Errorf("compile %s: %w", filename, err)
		}
		val = val.Unify(user)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	var raw rawConfig
	if err := val.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg := &Config{
		Server: Server{
			URL:    raw.Server.URL,
			Listen: raw.Server.Listen,
			Schema: raw.Server.Schema,
		},
		Client:   raw.Client,
		Activity: raw.Activity,
	}
	var err error
	if cfg.Server.SessionMaxAge, err = parseDuration("server.sessionMaxAge", raw.Server.SessionMaxAge); err != nil {
		return nil, err
	}
	if cfg.Server.SessionIdle, err = parseDuration("server.sessionIdle", raw.Server.SessionIdle); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseDuration(name, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("config %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config %s must be positive", name)
	}
	return d, nil
}

// ApplyEnv overrides settings from the environment. Unset or empty
// variables leave the setting alone.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv(EnvServerURL); v != "" {
		c.Server.URL = v
	}
	if v := getenv(EnvListen); v != "" {
		c.Server.Listen = v
	}
	if v := getenv(EnvSchema); v != "" {
		c.Server.Schema = v
	}
	if v := getenv(EnvActivityDSN); v != "" {
		c.Activity.DSN = v
	}
	if v := getenv(EnvAssumeYes); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAssumeYes, err)
		}
		c.Client.AssumeYes = b
	}
	return nil
}

// FromEnvironment loads path and applies the process environment.
func FromEnvironment(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}
