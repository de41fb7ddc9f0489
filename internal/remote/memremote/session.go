package memremote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// removalGrace is how far in the future an inactivated object is scheduled
// for removal.
const removalGrace = 90 * 24 * time.Hour

type txn struct {
	gen     uint64
	objects map[schema.Invid]*record
	next    map[uint16]uint32
	created map[schema.Invid]bool
	deleted map[schema.Invid]bool
	touched map[schema.Invid]bool
}

// Session is one client session. Reads and writes go through the open
// transaction's working copy of the store.
type Session struct {
	srv *Server

	mu  sync.Mutex
	txn *txn
	gen uint64
}

var _ remote.Session = (*Session)(nil)

// Bases implements remote.Session.
func (s *Session) Bases(_ context.Context) ([]schema.Base, error) {
	s.srv.mu.RLock()
	defer s.srv.mu.RUnlock()
	out := make([]schema.Base, 0, len(s.srv.order))
	for _, id := range s.srv.order {
		out = append(out, s.srv.bases[id].Base)
	}
	return out, nil
}

// FieldTemplates implements remote.Session.
func (s *Session) FieldTemplates(_ context.Context, base uint16) ([]schema.FieldTemplate, error) {
	b := s.srv.base(base)
	if b == nil {
		return nil, fmt.Errorf("no such base %d", base)
	}
	out := make([]schema.FieldTemplate, len(b.Fields))
	for i, f := range b.Fields {
		out[i] = f.FieldTemplate
	}
	return out, nil
}

// OpenTransaction implements remote.Session.
func (s *Session) OpenTransaction(_ context.Context, description string) (*remote.Result, error) {
	s.srv.mu.RLock()
	objects := make(map[schema.Invid]*record, len(s.srv.objects))
	for k, v := range s.srv.objects {
		objects[k] = v.clone()
	}
	next := make(map[uint16]uint32, len(s.srv.next))
	for k, v := range s.srv.next {
		next[k] = v
	}
	s.srv.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.txn = &txn{
		gen:     s.gen,
		objects: objects,
		next:    next,
		created: make(map[schema.Invid]bool),
		deleted: make(map[schema.Invid]bool),
		touched: make(map[schema.Invid]bool),
	}
	glog.V(2).Infof("memremote: opened transaction %d (%s)", s.gen, description)
	return remote.Success(), nil
}

// CommitTransaction implements remote.Session.
func (s *Session) CommitTransaction(_ context.Context) (*remote.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return remote.Reject("no transaction is open"), nil
	}
	s.srv.mu.RLock()
	hook := s.srv.commit
	s.srv.mu.RUnlock()
	if hook != nil {
		if r := hook(); r != nil && r.Outcome != remote.OK {
			if r.Aborted {
				s.txn = nil
			}
			return r, nil
		}
	}

	t := s.txn
	now := s.srv.now().UTC()
	stamp := now.Format(time.RFC3339)
	s.srv.mu.Lock()
	for inv := range t.deleted {
		delete(s.srv.objects, inv)
		s.srv.history[inv] = append(s.srv.history[inv], stamp+" deleted")
	}
	for inv := range t.touched {
		rec, ok := t.objects[inv]
		if !ok {
			continue
		}
		rec.values[schema.ModDateField] = now
		s.srv.objects[inv] = rec.clone()
		what := " modified"
		if t.created[inv] {
			what = " created"
		}
		s.srv.history[inv] = append(s.srv.history[inv], stamp+what)
	}
	for base, n := range t.next {
		if n > s.srv.next[base] {
			s.srv.next[base] = n
		}
	}
	s.srv.mu.Unlock()
	s.txn = nil
	glog.V(2).Infof("memremote: committed transaction %d (%d touched, %d deleted)", t.gen, len(t.touched), len(t.deleted))
	return remote.Success(), nil
}

// AbortTransaction implements remote.Session.
func (s *Session) AbortTransaction(_ context.Context) (*remote.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txn = nil
	return remote.Success(), nil
}

// CreateObject implements remote.Session.
func (s *Session) CreateObject(_ context.Context, base uint16) (*remote.Result, error) {
	b := s.srv.base(base)
	if b == nil {
		return remote.Reject("no such base %d", base), nil
	}
	if b.Embedded {
		return remote.Reject("%s objects can only be created inside their container", b.Name), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return remote.Reject("no transaction is open"), nil
	}
	if r := s.srv.runHooks(HookCall{Op: "create", Field: base}); r != nil && r.Outcome != remote.OK {
		return r, nil
	}
	rec := s.newRecordLocked(base)
	return &remote.Result{Outcome: remote.OK, Invid: rec.invid, Object: s.handle(rec.invid, true)}, nil
}

// CloneObject implements remote.Session.
func (s *Session) CloneObject(_ context.Context, inv schema.Invid) (*remote.Result, error) {
	b := s.srv.base(inv.Base)
	if b == nil || b.Embedded {
		return remote.Reject("%s can not be cloned", inv), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return remote.Reject("no transaction is open"), nil
	}
	src, ok := s.txn.objects[inv]
	if !ok {
		return remote.Reject("no such object %s", inv), nil
	}
	rec := s.newRecordLocked(inv.Base)
	for _, f := range b.Fields {
		if f.BuiltIn || f.ReadOnly || f.IsEditInPlace() || f.ID == b.LabelField {
			continue
		}
		if v, ok := src.values[f.ID]; ok {
			rec.values[f.ID] = cloneValue(v)
		}
	}
	return &remote.Result{Outcome: remote.OK, Invid: rec.invid, Object: s.handle(rec.invid, true)}, nil
}

func (s *Session) newRecordLocked(base uint16) *record {
	s.txn.next[base]++
	inv := schema.Invid{Base: base, Num: s.txn.next[base]}
	rec := &record{invid: inv, values: map[uint16]any{schema.CreationDateField: s.srv.now().UTC()}}
	s.txn.objects[inv] = rec
	s.txn.created[inv] = true
	s.txn.touched[inv] = true
	return rec
}

// EditObject implements remote.Session.
func (s *Session) EditObject(_ context.Context, inv schema.Invid) (*remote.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return remote.Reject("no transaction is open"), nil
	}
	if _, ok := s.txn.objects[inv]; !ok {
		return remote.Reject("no such object %s", inv), nil
	}
	if s.srv.isDenied(inv) {
		return remote.Reject("permission denied to edit %s", inv), nil
	}
	return &remote.Result{Outcome: remote.OK, Invid: inv, Object: s.handle(inv, true)}, nil
}

// ViewObject implements remote.Session.
func (s *Session) ViewObject(_ context.Context, inv schema.Invid) (*remote.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupLocked(inv) == nil {
		return remote.Reject("no such object %s", inv), nil
	}
	return &remote.Result{Outcome: remote.OK, Invid: inv, Object: s.handle(inv, false)}, nil
}

// DeleteObject implements remote.Session.
func (s *Session) DeleteObject(_ context.Context, inv schema.Invid) (*remote.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil {
		return remote.Reject("no transaction is open"), nil
	}
	if _, ok := s.txn.objects[inv]; !ok {
		return remote.Reject("no such object %s", inv), nil
	}
	if s.srv.isDenied(inv) {
		return remote.Reject("permission denied to delete %s", inv), nil
	}
	if r := s.srv.runHooks(HookCall{Op: "delete_object", Invid: inv}); r != nil && r.Outcome != remote.OK {
		return r, nil
	}
	s.deleteLocked(inv)
	return remote.Success(), nil
}

func (s *Session) deleteLocked(inv schema.Invid) {
	delete(s.txn.objects, inv)
	delete(s.txn.touched, inv)
	if s.txn.created[inv] {
		delete(s.txn.created, inv)
	} else {
		s.txn.deleted[inv] = true
	}
	for child, rec := range s.txn.objects {
		if b := s.srv.base(child.Base); b != nil && b.Embedded && rec.values[schema.ContainerField] == inv {
			s.deleteLocked(child)
		}
	}
}

// InactivateObject implements remote.Session.
func (s *Session) InactivateObject(_ context.Context, inv schema.Invid) (*remote.Result, error) {
	b := s.srv.base(inv.Base)
	if b == nil || !b.CanInactivate {
		return remote.Reject("%s objects can not be inactivated", baseName(b)), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, r := s.writableLocked(inv)
	if r != nil {
		return r, nil
	}
	if r := s.srv.runHooks(HookCall{Op: "inactivate", Invid: inv}); r != nil && r.Outcome != remote.OK {
		return r, nil
	}
	rec.inactive = true
	rec.values[schema.RemovalField] = s.srv.now().UTC().Add(removalGrace)
	s.txn.touched[inv] = true
	return remote.Success().With(&remote.Rescan{Invid: inv, All: true}), nil
}

// ReactivateObject implements remote.Session.
func (s *Session) ReactivateObject(_ context.Context, inv schema.Invid) (*remote.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, r := s.writableLocked(inv)
	if r != nil {
		return r, nil
	}
	if !rec.inactive {
		return remote.Reject("%s is not inactive", inv), nil
	}
	rec.inactive = false
	delete(rec.values, schema.RemovalField)
	s.txn.touched[inv] = true
	return remote.Success().With(&remote.Rescan{Invid: inv, All: true}), nil
}

func (s *Session) writableLocked(inv schema.Invid) (*record, *remote.Result) {
	if s.txn == nil {
		return nil, remote.Reject("no transaction is open")
	}
	rec, ok := s.txn.objects[inv]
	if !ok {
		return nil, remote.Reject("no such object %s", inv)
	}
	if s.srv.isDenied(inv) {
		return nil, remote.Reject("permission denied to edit %s", inv)
	}
	return rec, nil
}

// QueryByType implements remote.Session.
func (s *Session) QueryByType(_ context.Context, base uint16, editableOnly bool) ([]schema.ObjectHandle, error) {
	if s.srv.base(base) == nil {
		return nil, fmt.Errorf("no such base %d", base)
	}
	s.mu.Lock()
	recs := s.snapshotLocked()
	s.mu.Unlock()

	var out []schema.ObjectHandle
	for inv, rec := range recs {
		if inv.Base != base {
			continue
		}
		h := s.srv.handleOf(rec)
		if editableOnly && !h.Editable {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return lessFold(out[i].Label, out[j].Label) })
	return out, nil
}

// ObjectLabel implements remote.Session.
func (s *Session) ObjectLabel(_ context.Context, inv schema.Invid) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.lookupLocked(inv)
	if rec == nil {
		return "", fmt.Errorf("no such object %s", inv)
	}
	return s.srv.labelOf(rec), nil
}

// ObjectHistory implements remote.Session.
func (s *Session) ObjectHistory(_ context.Context, inv schema.Invid) (string, error) {
	s.srv.mu.RLock()
	defer s.srv.mu.RUnlock()
	lines := s.srv.history[inv]
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// snapshotLocked returns the records visible to this session.
func (s *Session) snapshotLocked() map[schema.Invid]*record {
	if s.txn != nil {
		return s.txn.objects
	}
	s.srv.mu.RLock()
	defer s.srv.mu.RUnlock()
	out := make(map[schema.Invid]*record, len(s.srv.objects))
	for k, v := range s.srv.objects {
		out[k] = v
	}
	return out
}

func (s *Session) lookupLocked(inv schema.Invid) *record {
	if s.txn != nil {
		return s.txn.objects[inv]
	}
	s.srv.mu.RLock()
	defer s.srv.mu.RUnlock()
	return s.srv.objects[inv]
}

func (s *Session) handle(inv schema.Invid, editable bool) *object {
	return &object{s: s, invid: inv, editable: editable, gen: s.gen}
}

func baseName(b *BaseDef) string {
	if b == nil {
		return "unknown"
	}
	return b.Name
}
