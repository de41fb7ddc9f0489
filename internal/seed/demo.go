// Package seed provides demo data for the development server.
package seed

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/remote/memremote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// Bases of the built-in development schema beyond the ones with
// client-side handling.
const (
	groupBase     uint16 = 4
	systemBase    uint16 = 5
	interfaceBase uint16 = 6
)

// Demo holds the invids of the seeded objects.
type Demo struct {
	Staff, Wheel    schema.Invid
	Alice, Bob      schema.Invid
	AlicePersona    schema.Invid
	Admins          schema.Invid
	Role            schema.Invid
	Gateway, Uplink schema.Invid
}

// SeedDemo fills a server running the built-in schema with a small
// directory: two groups, two users, an admin persona, an owner group, a
// role and a system with one interface. If users already exist it skips
// seeding and returns nil.
func SeedDemo(ctx context.Context, srv *memremote.Server) (*Demo, error) {
	sess := srv.NewSession()
	if r, err := sess.OpenTransaction(ctx, "seed check"); err != nil || !r.Succeeded() {
		return nil, fmt.Errorf("checking existing users: %v", err)
	}
	users, err := sess.QueryByType(ctx, schema.UserBase, false)
	sess.AbortTransaction(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking existing users: %w", err)
	}
	if len(users) > 0 {
		glog.Infof("seed: %d users already present, skipping", len(users))
		return nil, nil
	}

	d := &Demo{}

	// ── Groups ────────────────────────────────────────────────────────
	d.Staff = srv.Seed(groupBase, map[uint16]any{100: "staff", 101: 100, 103: "Everyone with a login"})
	d.Wheel = srv.Seed(groupBase, map[uint16]any{100: "wheel", 101: 10})

	// ── Users ─────────────────────────────────────────────────────────
	d.Alice = srv.Seed(schema.UserBase, map[uint16]any{
		100: "alice",
		101: "Alice Liddell",
		105: "/bin/zsh",
		107: 1001,
		108: []schema.Invid{d.Staff, d.Wheel},
		109: d.Staff,
		110: "Room 12\nNorth Wing",
		111: 2.5,
	})
	d.Bob = srv.Seed(schema.UserBase, map[uint16]any{
		100: "bob",
		101: "Bob Dobbs",
		105: "/bin/bash",
		107: 1002,
		108: []schema.Invid{d.Staff},
		109: d.Staff,
	})

	// ── Admin persona and owner group ────────────────────────────────
	d.AlicePersona = srv.Seed(schema.PersonaBase, map[uint16]any{
		100:                     "alice:admin",
		schema.PersonaAssocUser: d.Alice,
	})
	linkPersona(srv, d.Alice, d.AlicePersona)
	d.Admins = srv.Seed(schema.OwnerBase, map[uint16]any{
		100: "admins",
		101: []schema.Invid{d.Alice},
		102: []string{"admins@example.com"},
	})
	d.Role = srv.Seed(schema.RoleBase, map[uint16]any{
		100: "helpdesk",
		101: map[string]string{"User": "view,edit", "Group": "view"},
	})

	// ── Systems ──────────────────────────────────────────────────────
	d.Gateway = srv.Seed(systemBase, map[uint16]any{100: "gateway", 102: "router", 103: d.Alice})
	d.Uplink = srv.SeedEmbedded(d.Gateway, 101, interfaceBase, map[uint16]any{
		100: "uplink",
		101: []netip.Addr{netip.MustParseAddr("192.0.2.1"), netip.MustParseAddr("2001:db8::1")},
		102: "02:00:00:00:00:01",
	})

	glog.Infof("seed: created 2 groups, 2 users, 1 persona, 1 owner group, 1 role, 1 system")
	return d, nil
}

// linkPersona records persona in the user's admin personae.
func linkPersona(srv *memremote.Server, user, persona schema.Invid) {
	cur, _ := srv.Value(user, schema.UserAdminPersonae)
	list, _ := cur.([]schema.Invid)
	srv.SeedValue(user, schema.UserAdminPersonae, append(list, persona))
}
