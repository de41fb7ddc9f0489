// Package memremote is an in-memory Ganymede server. It implements
// remote.Session with per-session transactions over a shared committed
// store, and is used by the development server, the CLI and tests.
package memremote

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// FieldDef is the server-side definition of one field.
type FieldDef struct {
	schema.FieldTemplate

	// Choices is the static pick list of a string field.
	Choices []string
	// ChoiceKey shares the pick list with other fields. Reference fields
	// with a target base get "base:<id>" automatically.
	ChoiceKey string
	ReadOnly  bool
	Hidden    bool
	MinDate   *time.Time
	MaxDate   *time.Time
}

// BaseDef is the server-side definition of one object base.
type BaseDef struct {
	schema.Base
	Fields []FieldDef
}

func (b *BaseDef) field(id uint16) *FieldDef {
	for i := range b.Fields {
		if b.Fields[i].ID == id {
			return &b.Fields[i]
		}
	}
	return nil
}

// HookCall describes a mutation about to be applied.
type HookCall struct {
	Op    string // "set", "add", "delete", "create", "embed", "delete_object", "inactivate"
	Invid schema.Invid
	Field uint16
	Value any
}

// Hook intercepts mutations. Returning nil lets the mutation proceed. An OK
// result proceeds and contributes its events; a rejection stops the
// mutation; an interaction defers it until the wizard resolves to OK.
type Hook func(HookCall) *remote.Result

type record struct {
	invid    schema.Invid
	values   map[uint16]any
	inactive bool
}

func (r *record) clone() *record {
	cp := &record{invid: r.invid, inactive: r.inactive, values: make(map[uint16]any, len(r.values))}
	for k, v := range r.values {
		cp.values[k] = cloneValue(v)
	}
	return cp
}

// Server holds the committed object store shared by all sessions.
type Server struct {
	mu      sync.RWMutex
	bases   map[uint16]*BaseDef
	order   []uint16
	objects map[schema.Invid]*record
	next    map[uint16]uint32
	denied  map[schema.Invid]bool
	history map[schema.Invid][]string
	hooks   []Hook
	commit  func() *remote.Result

	choiceFetches atomic.Int64
	now           func() time.Time
}

// NewServer creates a server with the given base definitions.
func NewServer(defs ...BaseDef) *Server {
	s := &Server{
		bases:   make(map[uint16]*BaseDef),
		objects: make(map[schema.Invid]*record),
		next:    make(map[uint16]uint32),
		denied:  make(map[schema.Invid]bool),
		history: make(map[schema.Invid][]string),
		now:     time.Now,
	}
	for _, d := range defs {
		s.AddBase(d)
	}
	return s
}

// AddBase registers a base definition.
func (s *Server) AddBase(d BaseDef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := d
	cp.Fields = append([]FieldDef(nil), d.Fields...)
	if _, ok := s.bases[d.ID]; !ok {
		s.order = append(s.order, d.ID)
		sort.Slice(s.order, func(i, j int) bool { return s.order[i] < s.order[j] })
	}
	s.bases[d.ID] = &cp
}

// Hook installs a mutation hook. Hooks run in installation order.
func (s *Server) Hook(h Hook) {
	s.mu.Lock()
	s.hooks = append(s.hooks, h)
	s.mu.Unlock()
}

// OnCommit installs a hook deciding the outcome of commits. A nil return
// or an OK result lets the commit proceed.
func (s *Server) OnCommit(f func() *remote.Result) {
	s.mu.Lock()
	s.commit = f
	s.mu.Unlock()
}

// DenyWrite makes an object read-only for every session.
func (s *Server) DenyWrite(inv schema.Invid) {
	s.mu.Lock()
	s.denied[inv] = true
	s.mu.Unlock()
}

// ChoiceFetches returns the number of choice lists served so far.
func (s *Server) ChoiceFetches() int64 {
	return s.choiceFetches.Load()
}

// Seed creates a committed object directly.
func (s *Server) Seed(base uint16, values map[uint16]any) schema.Invid {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next[base]++
	inv := schema.Invid{Base: base, Num: s.next[base]}
	rec := &record{invid: inv, values: make(map[uint16]any)}
	for k, v := range values {
		rec.values[k] = cloneValue(v)
	}
	s.objects[inv] = rec
	s.history[inv] = append(s.history[inv], s.now().UTC().Format(time.RFC3339)+" created")
	return inv
}

// SeedEmbedded creates a committed embedded object inside the edit-in-place
// field of parent.
func (s *Server) SeedEmbedded(parent schema.Invid, field uint16, base uint16, values map[uint16]any) schema.Invid {
	withContainer := map[uint16]any{schema.ContainerField: parent}
	for k, v := range values {
		withContainer[k] = v
	}
	inv := s.Seed(base, withContainer)
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.objects[parent]
	cur, _ := p.values[field].([]schema.Invid)
	p.values[field] = append(cur, inv)
	return inv
}

// SeedValue overwrites a committed field value directly. It reports
// false if inv does not exist.
func (s *Server) SeedValue(inv schema.Invid, field uint16, v any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.objects[inv]
	if !ok {
		return false
	}
	rec.values[field] = cloneValue(v)
	return true
}

// Value returns the committed value of a field.
func (s *Server) Value(inv schema.Invid, field uint16) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.objects[inv]
	if !ok {
		return nil, false
	}
	v, ok := rec.values[field]
	return cloneValue(v), ok
}

// Exists reports whether a committed object exists.
func (s *Server) Exists(inv schema.Invid) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[inv]
	return ok
}

// NewSession opens a client session.
func (s *Server) NewSession() *Session {
	return &Session{srv: s}
}

func (s *Server) base(id uint16) *BaseDef {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bases[id]
}

func (s *Server) runHooks(call HookCall) *remote.Result {
	s.mu.RLock()
	hooks := append([]Hook(nil), s.hooks...)
	s.mu.RUnlock()
	var events []remote.Event
	for _, h := range hooks {
		r := h(call)
		if r == nil {
			continue
		}
		if r.Outcome != remote.OK {
			return r
		}
		events = append(events, r.Events...)
	}
	if len(events) == 0 {
		return nil
	}
	return remote.Success().With(events...)
}

func (s *Server) isDenied(inv schema.Invid) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.denied[inv]
}

// labelOf computes the display label of rec.
func (s *Server) labelOf(rec *record) string {
	b := s.base(rec.invid.Base)
	if b == nil {
		return rec.invid.String()
	}
	if v, ok := rec.values[b.LabelField].(string); ok && v != "" {
		return v
	}
	if b.Embedded {
		return fmt.Sprintf("%s %d", b.Name, rec.invid.Num)
	}
	return ""
}

func (s *Server) handleOf(rec *record) schema.ObjectHandle {
	label := s.labelOf(rec)
	if label == "" {
		label = rec.invid.String()
	}
	return schema.ObjectHandle{
		Invid:         rec.invid,
		Label:         label,
		Editable:      !s.isDenied(rec.invid),
		Inactive:      rec.inactive,
		ExpirationSet: !isZero(rec.values[schema.ExpirationField]),
		RemovalSet:    !isZero(rec.values[schema.RemovalField]),
	}
}

func lessFold(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
