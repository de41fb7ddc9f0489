package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthewbaird/ganyclient/internal/activity"
	"github.com/matthewbaird/ganyclient/internal/client"
	"github.com/matthewbaird/ganyclient/internal/form"
	"github.com/matthewbaird/ganyclient/internal/frame"
	"github.com/matthewbaird/ganyclient/internal/schema"
	"github.com/matthewbaird/ganyclient/internal/widget"
)

func newBasesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "bases",
		Short: "List the object bases of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tFLAGS")
				for _, b := range s.client.Tree().Bases() {
					var flags []string
					if b.Embedded {
						flags = append(flags, "embedded")
					}
					if b.CanInactivate {
						flags = append(flags, "inactivate")
					}
					fmt.Fprintf(w, "%d\t%s\t%s\n", b.ID, b.Name, strings.Join(flags, ","))
				}
				return w.Flush()
			})
		},
	}
}

func newTreeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tree <base>",
		Short: "List the objects of a base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				base, err := resolveBase(s.client, args[0])
				if err != nil {
					return err
				}
				if err := s.client.LoadBase(ctx, base); err != nil {
					return err
				}
				w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
				for _, n := range s.client.Tree().Nodes(base) {
					fmt.Fprintf(w, "%s\t%s\t%s\n", n.Invid(), n.Text, n.Icon)
				}
				return w.Flush()
			})
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <invid>",
		Short: "Print every tab of an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := schema.ParseInvid(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				f, err := s.client.OpenView(ctx, inv)
				if err := opened(f, err, "view", inv.String()); err != nil {
					return err
				}
				defer f.Close()
				return s.printFrame(ctx, f)
			})
		},
	}
}

// mutation carries the flag shared by the commands that change objects.
type mutation struct {
	dryRun bool
}

func (m *mutation) bind(cmd *cobra.Command) *cobra.Command {
	cmd.Flags().BoolVar(&m.dryRun, "dry-run", false, "validate the change and cancel instead of committing")
	return cmd
}

// finish commits the transaction unless this is a dry run.
func (m *mutation) finish(ctx context.Context, s *session) error {
	if m.dryRun {
		fmt.Fprintln(s.out, "dry run, nothing committed")
		return nil
	}
	ok, err := s.client.Commit(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("commit was refused")
	}
	fmt.Fprintln(s.out, "committed")
	return nil
}

func newSetCmd(a *app) *cobra.Command {
	var m mutation
	return m.bind(&cobra.Command{
		Use:   "set <invid> <field> <value>",
		Short: "Change one field of an object",
		Long:  "Change one field of an object. The field is named by its label or its numeric id.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := schema.ParseInvid(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				f, err := s.client.OpenEdit(ctx, inv)
				if err := opened(f, err, "edit", inv.String()); err != nil {
					return err
				}
				if err := setField(ctx, f, args[1], args[2]); err != nil {
					return err
				}
				return m.finish(ctx, s)
			})
		},
	})
}

func newCreateCmd(a *app) *cobra.Command {
	var m mutation
	return m.bind(&cobra.Command{
		Use:   "create <base> [field=value ...]",
		Short: "Create an object and fill in its fields",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			assignments, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				base, err := resolveBase(s.client, args[0])
				if err != nil {
					return err
				}
				f, err := s.client.CreateObject(ctx, base)
				if err := opened(f, err, "create", args[0]); err != nil {
					return err
				}
				for _, kv := range assignments {
					if err := setField(ctx, f, kv[0], kv[1]); err != nil {
						return err
					}
				}
				fmt.Fprintf(s.out, "created %s\n", f.Invid())
				return m.finish(ctx, s)
			})
		},
	})
}

func newDeleteCmd(a *app) *cobra.Command {
	var m mutation
	return m.bind(&cobra.Command{
		Use:   "delete <invid>",
		Short: "Delete an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := schema.ParseInvid(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				ok, err := s.client.DeleteObject(ctx, inv)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s was not deleted", inv)
				}
				return m.finish(ctx, s)
			})
		},
	})
}

func newInactivateCmd(a *app) *cobra.Command {
	var (
		m          mutation
		reactivate bool
	)
	cmd := m.bind(&cobra.Command{
		Use:   "inactivate <invid>",
		Short: "Inactivate or reactivate an object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := schema.ParseInvid(args[0])
			if err != nil {
				return err
			}
			return a.withSession(cmd, func(ctx context.Context, s *session) error {
				op := s.client.InactivateObject
				if reactivate {
					op = s.client.ReactivateObject
				}
				ok, err := op(ctx, inv)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s was not changed", inv)
				}
				return m.finish(ctx, s)
			})
		},
	})
	cmd.Flags().BoolVar(&reactivate, "reactivate", false, "reactivate instead of inactivating")
	return cmd
}

func newActivityCmd(a *app) *cobra.Command {
	var (
		search string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "activity [invid]",
		Short: "Show the local activity log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, closeStore, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			var entries []activity.Entry
			switch {
			case len(args) == 1:
				inv, err := schema.ParseInvid(args[0])
				if err != nil {
					return err
				}
				opts := activity.DefaultQueryOptions()
				opts.Limit = limit
				entries, _, _, err = store.QueryByInvid(ctx, inv, opts)
				if err != nil {
					return err
				}
			case search != "":
				opts := activity.DefaultSearchOptions()
				opts.Limit = limit
				entries, _, err = store.Search(ctx, search, opts)
				if err != nil {
					return err
				}
			default:
				entries, err = store.Recent(ctx, limit)
				if err != nil {
					return err
				}
			}
			return printEntries(cmd.OutOrStdout(), entries)
		},
	}
	cmd.Flags().StringVar(&search, "search", "", "only entries whose summary contains this text")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	return cmd
}

func printEntries(out io.Writer, entries []activity.Entry) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		target := "-"
		if !e.Invid.IsZero() {
			target = e.Invid.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.At.Local().Format(time.DateTime), e.Kind, target, e.Summary)
	}
	return w.Flush()
}

// opened turns the nil frame of a refused open into an error. The
// presenter has already shown the reason.
func opened(f *frame.Frame, err error, op, what string) error {
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("could not %s %s", op, what)
	}
	return nil
}

// resolveBase accepts a base id or a base name, ignoring case.
func resolveBase(c *client.Client, arg string) (uint16, error) {
	bases := c.Tree().Bases()
	if id, err := strconv.ParseUint(arg, 10, 16); err == nil {
		for _, b := range bases {
			if b.ID == uint16(id) {
				return b.ID, nil
			}
		}
		return 0, fmt.Errorf("no base with id %d", id)
	}
	for _, b := range bases {
		if strings.EqualFold(b.Name, arg) {
			return b.ID, nil
		}
	}
	return 0, fmt.Errorf("no base named %q", arg)
}

func parseAssignments(args []string) ([][2]string, error) {
	out := make([][2]string, 0, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		out = append(out, [2]string{k, v})
	}
	return out, nil
}

// findRow builds the field tabs of f until one has a field matching name.
func findRow(ctx context.Context, f *frame.Frame, name string) (form.Row, error) {
	id, idErr := strconv.ParseUint(name, 10, 16)
	for _, t := range f.Tabs() {
		if t.Kind() != frame.FieldsTab {
			continue
		}
		t, err := f.ShowTab(ctx, t.Name())
		if err != nil {
			return form.Row{}, err
		}
		for _, c := range t.Forms() {
			for _, row := range c.Rows() {
				if strings.EqualFold(row.Template.Name, name) || (idErr == nil && row.Template.ID == uint16(id)) {
					return row, nil
				}
			}
		}
	}
	return form.Row{}, fmt.Errorf("%s has no field %q", f.Invid(), name)
}

// setField types text into the named field the way a user would.
func setField(ctx context.Context, f *frame.Frame, name, text string) error {
	row, err := findRow(ctx, f, name)
	if err != nil {
		return err
	}
	in, ok := row.Widget.(widget.TextInput)
	if !ok {
		return fmt.Errorf("field %q cannot be set from text", row.Template.Name)
	}
	if !row.Widget.Editable() {
		return fmt.Errorf("field %q is read-only", row.Template.Name)
	}
	accepted, err := in.Input(ctx, text)
	if err != nil {
		return err
	}
	if !accepted {
		return fmt.Errorf("%s refused %q", row.Template.Name, text)
	}
	return nil
}

func (s *session) printFrame(ctx context.Context, f *frame.Frame) error {
	fmt.Fprintf(s.out, "%s\n", f.Title())
	for _, t := range f.Tabs() {
		t, err := f.ShowTab(ctx, t.Name())
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "\n[%s]\n", t.Name())
		switch t.Kind() {
		case frame.NotesTab:
			if n := t.Notes(); n != nil {
				fmt.Fprintln(s.out, n.Text())
			}
		case frame.HistoryTab:
			text, err := t.History().Wait(ctx)
			if err != nil {
				fmt.Fprintf(s.out, "history unavailable: %v\n", err)
				continue
			}
			fmt.Fprintln(s.out, text)
		default:
			w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
			for _, c := range t.Forms() {
				s.printForm(ctx, w, c, "")
			}
			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *session) printForm(ctx context.Context, w io.Writer, c *form.Container, indent string) {
	for _, row := range c.Rows() {
		if !row.Widget.Visible() {
			continue
		}
		fmt.Fprintf(w, "%s%s\t%s\n", indent, row.Template.Name, s.format(ctx, row.Widget.Value()))
	}
	for _, v := range c.Vectors() {
		for _, e := range v.Elements() {
			if e.Container() == nil {
				continue
			}
			fmt.Fprintf(w, "%s%s: %s\t\n", indent, v.Template().Name, e.Title())
			s.printForm(ctx, w, e.Container(), indent+"  ")
		}
	}
}

// format renders a widget value. Object references are shown with their
// labels.
func (s *session) format(ctx context.Context, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		if x {
			return "yes"
		}
		return "no"
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Local().Format(time.DateTime)
	case schema.Invid:
		if x.IsZero() {
			return ""
		}
		return s.label(ctx, x)
	case []schema.Invid:
		parts := make([]string, len(x))
		for i, inv := range x {
			parts[i] = s.label(ctx, inv)
		}
		return strings.Join(parts, ", ")
	case []netip.Addr:
		parts := make([]string, len(x))
		for i, a := range x {
			parts[i] = a.String()
		}
		return strings.Join(parts, ", ")
	case []string:
		return strings.Join(x, ", ")
	case map[string]string:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + x[k]
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(x)
	}
}

func (s *session) label(ctx context.Context, inv schema.Invid) string {
	if n, ok := s.client.Tree().Node(inv); ok {
		return fmt.Sprintf("%s (%s)", n.Text, inv)
	}
	label, err := s.conn.ObjectLabel(ctx, inv)
	if err != nil || label == "" {
		return inv.String()
	}
	return fmt.Sprintf("%s (%s)", label, inv)
}
