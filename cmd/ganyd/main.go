// Command ganyd serves an in-memory Ganymede server over websocket for
// developing and exercising the client engine.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/config"
	"github.com/matthewbaird/ganyclient/internal/remote/memremote"
	"github.com/matthewbaird/ganyclient/internal/seed"
	"github.com/matthewbaird/ganyclient/internal/server"
)

func main() {
	configPath := flag.String("config", "", "CUE or JSON configuration file")
	demo := flag.Bool("seed", false, "seed demo objects (built-in schema only)")
	flag.Parse()
	defer glog.Flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.FromEnvironment(*configPath)
	if err != nil {
		glog.Exitf("loading configuration: %v", err)
	}

	src := memremote.DefaultSchemaSource()
	if cfg.Server.Schema != "" {
		if src, err = os.ReadFile(cfg.Server.Schema); err != nil {
			glog.Exitf("reading schema: %v", err)
		}
	}
	defs, err := memremote.LoadSchema(src)
	if err != nil {
		glog.Exitf("loading schema: %v", err)
	}
	store := memremote.NewServer(defs...)
	glog.Infof("loaded %d object bases", len(defs))

	if *demo {
		if cfg.Server.Schema != "" {
			glog.Exitf("-seed needs the built-in schema")
		}
		if _, err := seed.SeedDemo(ctx, store); err != nil {
			glog.Exitf("seeding demo objects: %v", err)
		}
	}

	if err := server.Run(ctx, server.Config{
		Addr:          cfg.Server.Listen,
		Store:         store,
		SchemaSource:  src,
		SessionMaxAge: cfg.Server.SessionMaxAge,
		SessionIdle:   cfg.Server.SessionIdle,
	}); err != nil {
		glog.Exitf("server error: %v", err)
	}
}
