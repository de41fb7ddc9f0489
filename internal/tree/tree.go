// Package tree holds the client's object tree: one node per object base
// with its objects sorted by label, and the policy deciding which icon an
// object node shows.
package tree

import (
	"sort"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

// Icon is the decoration of an object node.
type Icon int

const (
	IconPlain Icon = iota
	IconNoWrite
	IconDelete
	IconCreate
	IconInactive
	IconExpire
	IconRemove
	IconChanged
)

var iconNames = [...]string{
	IconPlain:    "plain",
	IconNoWrite:  "nowrite",
	IconDelete:   "delete",
	IconCreate:   "create",
	IconInactive: "inactive",
	IconExpire:   "expire",
	IconRemove:   "remove",
	IconChanged:  "changed",
}

func (i Icon) String() string {
	if i < 0 || int(i) >= len(iconNames) {
		return "unknown"
	}
	return iconNames[i]
}

// Status is what the session knows about an object in the current
// transaction.
type Status struct {
	Deleting bool
	Creating bool
	Changed  bool
}

// DecideIcon picks the icon of an object node. Highest precedence first:
// no write access, pending deletion, pending creation, inactive,
// expiration or removal date set, modified, plain.
func DecideIcon(h schema.ObjectHandle, st Status) Icon {
	switch {
	case !h.Editable:
		return IconNoWrite
	case st.Deleting:
		return IconDelete
	case st.Creating:
		return IconCreate
	case h.Inactive:
		return IconInactive
	case h.ExpirationSet:
		return IconExpire
	case h.RemovalSet:
		return IconRemove
	case st.Changed:
		return IconChanged
	}
	return IconPlain
}

// InactiveSuffix is appended to the text of inactive objects.
const InactiveSuffix = " (inactive)"

// NewObjectLabel is shown for created objects that have no label yet.
const NewObjectLabel = "New Object"

// DisplayText returns the node text for h.
func DisplayText(h schema.ObjectHandle) string {
	label := h.Label
	if label == "" {
		label = h.Invid.String()
	}
	if h.Inactive {
		return label + InactiveSuffix
	}
	return label
}

// Node is one object in the tree.
type Node struct {
	Handle schema.ObjectHandle
	Text   string
	Icon   Icon
}

// Invid returns the object of the node.
func (n Node) Invid() schema.Invid { return n.Handle.Invid }

// BaseNode is the folder of one object base.
type BaseNode struct {
	Base   schema.Base
	Loaded bool
	nodes  []*Node
}

// IconFunc computes the icon of a node about to be shown.
type IconFunc func(h schema.ObjectHandle) Icon

// MergeStats counts what a Merge changed.
type MergeStats struct {
	Inserted int
	Updated  int
	Removed  int
}

// Tree is the object tree. It is safe for concurrent use.
type Tree struct {
	mu      sync.RWMutex
	bases   map[uint16]*BaseNode
	order   []uint16
	byInvid map[schema.Invid]*Node
}

// New creates a tree with one folder per non-embedded base.
func New(bases []schema.Base) *Tree {
	t := &Tree{
		bases:   make(map[uint16]*BaseNode),
		byInvid: make(map[schema.Invid]*Node),
	}
	for _, b := range bases {
		if b.Embedded {
			continue
		}
		t.bases[b.ID] = &BaseNode{Base: b}
		t.order = append(t.order, b.ID)
	}
	sort.Slice(t.order, func(i, j int) bool { return t.order[i] < t.order[j] })
	return t
}

// Bases returns the base folders in ID order.
func (t *Tree) Bases() []schema.Base {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]schema.Base, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.bases[id].Base)
	}
	return out
}

// Loaded reports whether the objects of base were listed into the tree.
func (t *Tree) Loaded(base uint16) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bases[base]
	return ok && b.Loaded
}

// Nodes returns copies of the nodes of base in display order.
func (t *Tree) Nodes(base uint16) []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.bases[base]
	if !ok {
		return nil
	}
	out := make([]Node, len(b.nodes))
	for i, n := range b.nodes {
		out[i] = *n
	}
	return out
}

// Node returns a copy of the node of inv.
func (t *Tree) Node(inv schema.Invid) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.byInvid[inv]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// less orders nodes by display text, ignoring case, then by invid.
func less(a, b schema.ObjectHandle) bool {
	la, lb := strings.ToLower(DisplayText(a)), strings.ToLower(DisplayText(b))
	if la != lb {
		return la < lb
	}
	return a.Invid.Num < b.Invid.Num
}

// Insert adds or replaces the node of h in its sorted position. The base
// folder must exist.
func (t *Tree) Insert(h schema.ObjectHandle, icon Icon) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bases[h.Invid.Base]
	if !ok {
		return false
	}
	t.removeLocked(b, h.Invid)
	n := &Node{Handle: h, Text: DisplayText(h), Icon: icon}
	i := sort.Search(len(b.nodes), func(i int) bool { return less(h, b.nodes[i].Handle) })
	b.nodes = append(b.nodes, nil)
	copy(b.nodes[i+1:], b.nodes[i:])
	b.nodes[i] = n
	t.byInvid[h.Invid] = n
	return true
}

// Remove deletes the node of inv.
func (t *Tree) Remove(inv schema.Invid) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bases[inv.Base]
	if !ok {
		return false
	}
	return t.removeLocked(b, inv)
}

func (t *Tree) removeLocked(b *BaseNode, inv schema.Invid) bool {
	if _, ok := t.byInvid[inv]; !ok {
		return false
	}
	delete(t.byInvid, inv)
	for i, n := range b.nodes {
		if n.Handle.Invid == inv {
			b.nodes = append(b.nodes[:i], b.nodes[i+1:]...)
			break
		}
	}
	return true
}

// SetHandle replaces the handle of an existing node, moving it if its
// label changed.
func (t *Tree) SetHandle(h schema.ObjectHandle, icon Icon) bool {
	t.mu.RLock()
	_, ok := t.byInvid[h.Invid]
	t.mu.RUnlock()
	if !ok {
		return false
	}
	return t.Insert(h, icon)
}

// SetIcon changes the icon of an existing node.
func (t *Tree) SetIcon(inv schema.Invid, icon Icon) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byInvid[inv]
	if ok {
		n.Icon = icon
	}
	return ok
}

// Relabel changes the label of an existing node and re-sorts it.
func (t *Tree) Relabel(inv schema.Invid, label string) bool {
	t.mu.RLock()
	n, ok := t.byInvid[inv]
	var h schema.ObjectHandle
	var icon Icon
	if ok {
		h, icon = n.Handle, n.Icon
	}
	t.mu.RUnlock()
	if !ok {
		return false
	}
	h.Label = label
	return t.Insert(h, icon)
}

// Merge reconciles the nodes of base with the server's object list in one
// linear pass over both sorted lists, inserting, updating and removing
// nodes as needed. The folder is marked loaded.
func (t *Tree) Merge(base uint16, handles []schema.ObjectHandle, iconFor IconFunc) MergeStats {
	server := make([]schema.ObjectHandle, len(handles))
	copy(server, handles)
	sort.SliceStable(server, func(i, j int) bool { return less(server[i], server[j]) })

	t.mu.Lock()
	defer t.mu.Unlock()
	var stats MergeStats
	b, ok := t.bases[base]
	if !ok {
		return stats
	}
	b.Loaded = true

	// A node whose text changed moves; drop it first so the walk sees both
	// lists in the same order.
	present := make(map[schema.Invid]schema.ObjectHandle, len(server))
	for _, h := range server {
		present[h.Invid] = h
	}
	moved := 0
	old := b.nodes[:0:0]
	for _, n := range b.nodes {
		if h, ok := present[n.Handle.Invid]; ok && DisplayText(h) != n.Text {
			delete(t.byInvid, n.Handle.Invid)
			moved++
			continue
		}
		old = append(old, n)
	}

	merged := make([]*Node, 0, len(server))
	i, j := 0, 0
	for i < len(old) || j < len(server) {
		switch {
		case j >= len(server) || (i < len(old) && less(old[i].Handle, server[j])):
			delete(t.byInvid, old[i].Handle.Invid)
			stats.Removed++
			i++
		case i < len(old) && old[i].Handle.Invid == server[j].Invid:
			n := old[i]
			if n.Handle != server[j] {
				stats.Updated++
			}
			n.Handle = server[j]
			n.Icon = iconFor(server[j])
			merged = append(merged, n)
			i++
			j++
		default:
			n := &Node{Handle: server[j], Text: DisplayText(server[j]), Icon: iconFor(server[j])}
			t.byInvid[n.Handle.Invid] = n
			merged = append(merged, n)
			stats.Inserted++
			j++
		}
	}
	stats.Inserted -= moved
	stats.Updated += moved
	b.nodes = merged
	glog.V(2).Infof("tree: merged base %d: %+v", base, stats)
	return stats
}
