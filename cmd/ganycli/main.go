// Command ganycli browses and edits the objects of a Ganymede server from
// the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/matthewbaird/ganyclient/internal/activity"
	"github.com/matthewbaird/ganyclient/internal/client"
	"github.com/matthewbaird/ganyclient/internal/config"
	"github.com/matthewbaird/ganyclient/internal/dispatch"
	"github.com/matthewbaird/ganyclient/internal/ui"
	"github.com/matthewbaird/ganyclient/internal/wire"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	glog.Flush()
	if err != nil {
		os.Exit(1)
	}
}

// app holds what every subcommand shares.
type app struct {
	configPath string
	serverURL  string
	assumeYes  bool

	cfg *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "ganycli",
		Short:        "Browse and edit the objects of a Ganymede server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// glog reads its settings from the standard flag set.
			if err := flag.CommandLine.Parse(nil); err != nil {
				return err
			}
			return a.loadConfig(cmd)
		},
	}
	root.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "CUE or JSON configuration file")
	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "websocket URL of the server")
	root.PersistentFlags().BoolVarP(&a.assumeYes, "yes", "y", false, "answer every confirmation with yes")

	root.AddCommand(
		newBasesCmd(a),
		newTreeCmd(a),
		newShowCmd(a),
		newSetCmd(a),
		newCreateCmd(a),
		newDeleteCmd(a),
		newInactivateCmd(a),
		newActivityCmd(a),
	)
	return root
}

func (a *app) loadConfig(cmd *cobra.Command) error {
	cfg, err := config.FromEnvironment(a.configPath)
	if err != nil {
		return err
	}
	if a.serverURL != "" {
		cfg.Server.URL = a.serverURL
	}
	if cmd.Flags().Changed("yes") {
		cfg.Client.AssumeYes = a.assumeYes
	}
	a.cfg = cfg
	return nil
}

// openStore opens the configured activity log. Without a DSN the log
// lives only as long as the process.
func (a *app) openStore(ctx context.Context) (activity.Store, func(), error) {
	if a.cfg.Activity.DSN == "" {
		return activity.NewMemoryStore(), func() {}, nil
	}
	s, err := activity.OpenSQLStore(ctx, a.cfg.Activity.DSN)
	if err != nil {
		return nil, nil, err
	}
	return s, func() {
		if err := s.Close(); err != nil {
			glog.Warningf("ganycli: closing activity store: %v", err)
		}
	}, nil
}

// session is one connected client engine and the goroutines behind it.
type session struct {
	out    io.Writer
	conn   *wire.Client
	client *client.Client
}

// withSession connects to the server, runs fn and tears everything down
// again. Whatever fn leaves uncommitted is cancelled.
func (a *app) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *session) error) error {
	ctx := cmd.Context()
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	conn, err := wire.Dial(ctx, a.cfg.Server.URL)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", a.cfg.Server.URL, err)
	}
	defer conn.Close()
	glog.V(1).Infof("ganycli: connected to %s as session %s", a.cfg.Server.URL, conn.SessionID())

	q := dispatch.New(0)
	q.Start(ctx)
	defer q.Stop()

	rec := activity.NewRecorder(store, a.cfg.Activity.Buffer)
	rec.Start(context.WithoutCancel(ctx))
	defer rec.Stop()

	console := ui.NewConsole(cmd.InOrStdin(), cmd.ErrOrStderr())
	console.AssumeYes = a.cfg.Client.AssumeYes

	c, err := client.Connect(ctx, conn,
		client.WithPresenter(console),
		client.WithQueue(q),
		client.WithActivity(rec),
		client.WithChoiceCacheSize(a.cfg.Client.ChoiceCacheSize),
		client.WithFieldWidth(a.cfg.Client.FieldWidth),
		client.WithDescription(a.cfg.Client.Description),
	)
	if err != nil {
		return err
	}
	s := &session{out: cmd.OutOrStdout(), conn: conn, client: c}
	defer func() {
		if c.Dirty() {
			if err := c.Cancel(context.WithoutCancel(ctx)); err != nil {
				glog.Warningf("ganycli: cancelling transaction: %v", err)
			}
		}
	}()
	return fn(ctx, s)
}
