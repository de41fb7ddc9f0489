package memremote

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

type object struct {
	s        *Session
	invid    schema.Invid
	editable bool
	gen      uint64
}

var _ remote.Object = (*object)(nil)

func (o *object) Invid() schema.Invid { return o.invid }

func (o *object) Editable() bool { return o.editable }

// recordLocked returns the backing record, failing if the handle outlived
// its transaction.
func (o *object) recordLocked() (*record, error) {
	if o.editable && (o.s.txn == nil || o.s.txn.gen != o.gen) {
		return nil, fmt.Errorf("object %s: %w", o.invid, remote.ErrReleased)
	}
	rec := o.s.lookupLocked(o.invid)
	if rec == nil {
		return nil, fmt.Errorf("no such object %s", o.invid)
	}
	return rec, nil
}

func (o *object) Label(_ context.Context) (string, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	rec, err := o.recordLocked()
	if err != nil {
		return "", err
	}
	return o.s.srv.labelOf(rec), nil
}

func (o *object) FieldInfos(_ context.Context) ([]schema.FieldInfo, error) {
	b := o.s.srv.base(o.invid.Base)
	if b == nil {
		return nil, fmt.Errorf("no such base %d", o.invid.Base)
	}
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	rec, err := o.recordLocked()
	if err != nil {
		return nil, err
	}
	out := make([]schema.FieldInfo, 0, len(b.Fields))
	for i := range b.Fields {
		out = append(out, o.infoLocked(&b.Fields[i], rec))
	}
	return out, nil
}

func (o *object) infoLocked(def *FieldDef, rec *record) schema.FieldInfo {
	v := rec.values[def.ID]
	info := schema.FieldInfo{
		ID:       def.ID,
		Defined:  !isZero(v),
		Visible:  !def.Hidden,
		Editable: o.editable && !def.ReadOnly && !o.s.srv.isDenied(o.invid),
	}
	if !info.Defined {
		return info
	}
	if def.Kind == schema.KindPassword {
		// Plaintext is only ever handed to a session that may change it.
		if info.Editable {
			info.Value = v
		}
		return info
	}
	info.Value = cloneValue(v)
	switch x := v.(type) {
	case schema.Invid:
		info.Labels = []string{o.labelLocked(x)}
	case []schema.Invid:
		info.Labels = make([]string, len(x))
		for i, inv := range x {
			info.Labels[i] = o.labelLocked(inv)
		}
	}
	return info
}

func (o *object) labelLocked(inv schema.Invid) string {
	rec := o.s.lookupLocked(inv)
	if rec == nil {
		return ""
	}
	return o.s.srv.labelOf(rec)
}

func (o *object) Field(_ context.Context, id uint16) (remote.Field, error) {
	b := o.s.srv.base(o.invid.Base)
	if b == nil {
		return nil, fmt.Errorf("no such base %d", o.invid.Base)
	}
	def := b.field(id)
	if def == nil {
		return nil, fmt.Errorf("%s has no field %d", b.Name, id)
	}
	return &field{o: o, def: def, base: b}, nil
}

type field struct {
	o    *object
	def  *FieldDef
	base *BaseDef
}

var _ remote.MatrixField = (*field)(nil)

func (f *field) ID() uint16 { return f.def.ID }

func (f *field) Info(_ context.Context) (schema.FieldInfo, error) {
	f.o.s.mu.Lock()
	defer f.o.s.mu.Unlock()
	rec, err := f.o.recordLocked()
	if err != nil {
		return schema.FieldInfo{}, err
	}
	return f.o.infoLocked(f.def, rec), nil
}

func (f *field) Value(_ context.Context) (any, error) {
	f.o.s.mu.Lock()
	defer f.o.s.mu.Unlock()
	rec, err := f.o.recordLocked()
	if err != nil {
		return nil, err
	}
	if f.def.Kind == schema.KindPassword && !f.o.editable {
		return nil, nil
	}
	return cloneValue(rec.values[f.def.ID]), nil
}

// writableLocked returns the record if the field may be changed, or a
// rejection.
func (f *field) writableLocked() (*record, *remote.Result, error) {
	rec, err := f.o.recordLocked()
	if err != nil {
		return nil, nil, err
	}
	if !f.o.editable || f.def.ReadOnly || f.o.s.srv.isDenied(f.o.invid) {
		return nil, remote.Reject("%s is not editable", f.def.Name), nil
	}
	return rec, nil, nil
}

// mutate runs hooks for call and applies fn once the hooks allow it. A
// wizard raised by a hook defers fn until the wizard resolves to OK.
func (f *field) mutate(call HookCall, fn func(rec *record) *remote.Result) (*remote.Result, error) {
	f.o.s.mu.Lock()
	defer f.o.s.mu.Unlock()
	rec, rej, err := f.writableLocked()
	if err != nil || rej != nil {
		return rej, err
	}
	call.Invid = f.o.invid
	call.Field = f.def.ID
	hooked := f.o.s.srv.runHooks(call)
	if hooked == nil || hooked.Outcome == remote.OK {
		r := fn(rec)
		if hooked != nil && r.Outcome == remote.OK {
			r.Events = append(hooked.Events, r.Events...)
		}
		return r, nil
	}
	if hooked.Outcome == remote.Rejected {
		return hooked, nil
	}
	return f.deferred(hooked, fn), nil
}

func (f *field) deferred(r *remote.Result, fn func(rec *record) *remote.Result) *remote.Result {
	inner := r.Resume
	out := *r
	out.Resume = func(ctx context.Context, answers map[string]string) (*remote.Result, error) {
		next, err := inner(ctx, answers)
		if err != nil || next == nil {
			return next, err
		}
		switch next.Outcome {
		case remote.NeedsInteraction:
			return f.deferred(next, fn), nil
		case remote.OK:
			f.o.s.mu.Lock()
			defer f.o.s.mu.Unlock()
			rec, rej, err := f.writableLocked()
			if err != nil || rej != nil {
				return rej, err
			}
			applied := fn(rec)
			applied.Events = append(next.Events, applied.Events...)
			return applied, nil
		}
		return next, nil
	}
	return &out
}

func (f *field) touch(rec *record) {
	f.o.s.txn.touched[rec.invid] = true
}

// relabel returns the events produced by a change to the label field.
func (f *field) relabel(rec *record) []remote.Event {
	if f.base.LabelField != f.def.ID || f.def.Vector {
		return nil
	}
	return []remote.Event{&remote.Relabel{Invid: rec.invid, Label: f.o.s.srv.labelOf(rec)}}
}

func (f *field) SetValue(_ context.Context, v any) (*remote.Result, error) {
	if f.def.Vector {
		return remote.Reject("%s is a vector field", f.def.Name), nil
	}
	val, err := coerce(f.def.Kind, v)
	if err != nil {
		return remote.Reject("%v", err), nil
	}
	if s, ok := val.(string); ok {
		if err := checkString(&f.def.FieldTemplate, s); err != nil {
			return remote.Reject("%v", err), nil
		}
	}
	if r := f.checkChoice(val); r != nil {
		return r, nil
	}
	if r := f.checkDate(val); r != nil {
		return r, nil
	}
	return f.mutate(HookCall{Op: "set", Value: val}, func(rec *record) *remote.Result {
		if isZero(val) {
			delete(rec.values, f.def.ID)
		} else {
			rec.values[f.def.ID] = val
		}
		f.touch(rec)
		return remote.Success().With(f.relabel(rec)...)
	})
}

func (f *field) checkChoice(val any) *remote.Result {
	if !f.def.MustChoose || val == nil {
		return nil
	}
	if s, ok := val.(string); ok && len(f.def.Choices) > 0 {
		for _, c := range f.def.Choices {
			if c == s {
				return nil
			}
		}
		return remote.Reject("%q is not a valid choice for %s", s, f.def.Name)
	}
	return nil
}

func (f *field) checkDate(val any) *remote.Result {
	if f.def.Kind != schema.KindDate || val == nil {
		return nil
	}
	lim := remote.DateLimits{Min: f.def.MinDate, Max: f.def.MaxDate}
	if t, ok := val.(time.Time); ok && !lim.Contains(t) {
		return remote.Reject("%s is out of range", f.def.Name)
	}
	return nil
}

func (f *field) SetElement(_ context.Context, index int, v any) (*remote.Result, error) {
	if !f.def.Vector || f.def.IsEditInPlace() {
		return remote.Reject("%s does not support element updates", f.def.Name), nil
	}
	val, err := coerce(f.def.Kind, v)
	if err != nil || val == nil {
		return remote.Reject("invalid value for %s", f.def.Name), nil
	}
	return f.mutate(HookCall{Op: "set", Value: val}, func(rec *record) *remote.Result {
		next, ok := vecSet(rec.values[f.def.ID], index, val)
		if !ok {
			return remote.Reject("%s has no element %d", f.def.Name, index)
		}
		rec.values[f.def.ID] = next
		f.touch(rec)
		return remote.Success()
	})
}

func (f *field) ChoicesKey(_ context.Context) (string, error) {
	if f.def.Kind == schema.KindInvid && f.def.TargetBase >= 0 {
		return "base:" + strconv.Itoa(f.def.TargetBase), nil
	}
	return f.def.ChoiceKey, nil
}

func (f *field) Choices(_ context.Context) ([]remote.Choice, error) {
	f.o.s.srv.choiceFetches.Add(1)
	if f.def.Kind != schema.KindInvid {
		out := make([]remote.Choice, len(f.def.Choices))
		for i, c := range f.def.Choices {
			out[i] = remote.Choice{Label: c, Value: c, Editable: true}
		}
		return out, nil
	}

	f.o.s.mu.Lock()
	recs := f.o.s.snapshotLocked()
	var out []remote.Choice
	for inv, rec := range recs {
		if f.def.TargetBase >= 0 && inv.Base != uint16(f.def.TargetBase) {
			continue
		}
		if b := f.o.s.srv.base(inv.Base); b == nil || b.Embedded {
			continue
		}
		h := f.o.s.srv.handleOf(rec)
		out = append(out, remote.Choice{Label: h.Label, Value: inv, Editable: h.Editable})
	}
	f.o.s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return lessFold(out[i].Label, out[j].Label) })
	return out, nil
}

func (f *field) vectorValue(v any) (any, *remote.Result) {
	if !f.def.Vector {
		return nil, remote.Reject("%s is not a vector field", f.def.Name)
	}
	val, err := coerce(f.def.Kind, v)
	if err != nil || val == nil {
		return nil, remote.Reject("invalid value for %s", f.def.Name)
	}
	if s, ok := val.(string); ok {
		if err := checkString(&f.def.FieldTemplate, s); err != nil {
			return nil, remote.Reject("%v", err)
		}
	}
	return val, nil
}

func (f *field) AddElement(ctx context.Context, v any) (*remote.Result, error) {
	return f.AddElements(ctx, []any{v})
}

func (f *field) AddElements(_ context.Context, vs []any) (*remote.Result, error) {
	vals := make([]any, 0, len(vs))
	for _, v := range vs {
		val, rej := f.vectorValue(v)
		if rej != nil {
			return rej, nil
		}
		vals = append(vals, val)
	}
	return f.mutate(HookCall{Op: "add", Value: vals}, func(rec *record) *remote.Result {
		cur := rec.values[f.def.ID]
		for _, val := range vals {
			next, ok := vecAdd(cur, val)
			if !ok {
				return remote.Reject("%v is already present in %s", val, f.def.Name)
			}
			cur = next
		}
		rec.values[f.def.ID] = cur
		f.touch(rec)
		return remote.Success()
	})
}

func (f *field) DeleteElement(ctx context.Context, v any) (*remote.Result, error) {
	return f.DeleteElements(ctx, []any{v})
}

// DeleteElements removes values by identity. Values no longer present are
// ignored so a repeated delete succeeds.
func (f *field) DeleteElements(_ context.Context, vs []any) (*remote.Result, error) {
	vals := make([]any, 0, len(vs))
	for _, v := range vs {
		val, rej := f.vectorValue(v)
		if rej != nil {
			return rej, nil
		}
		vals = append(vals, val)
	}
	return f.mutate(HookCall{Op: "delete", Value: vals}, func(rec *record) *remote.Result {
		cur := rec.values[f.def.ID]
		for _, val := range vals {
			next, ok := vecRemove(cur, val)
			if !ok {
				continue
			}
			cur = next
			if inv, isInvid := val.(schema.Invid); isInvid && f.def.IsEditInPlace() {
				if _, exists := f.o.s.txn.objects[inv]; exists {
					f.o.s.deleteLocked(inv)
				}
			}
		}
		if vecLen(cur) == 0 {
			delete(rec.values, f.def.ID)
		} else {
			rec.values[f.def.ID] = cur
		}
		f.touch(rec)
		return remote.Success()
	})
}

func (f *field) CreateEmbedded(_ context.Context) (*remote.Result, error) {
	if !f.def.IsEditInPlace() || f.def.TargetBase < 0 {
		return remote.Reject("%s does not hold embedded objects", f.def.Name), nil
	}
	target := uint16(f.def.TargetBase)
	return f.mutate(HookCall{Op: "embed"}, func(rec *record) *remote.Result {
		child := f.o.s.newRecordLocked(target)
		child.values[schema.ContainerField] = rec.invid
		cur, _ := rec.values[f.def.ID].([]schema.Invid)
		rec.values[f.def.ID] = append(append([]schema.Invid(nil), cur...), child.invid)
		f.touch(rec)
		return &remote.Result{Outcome: remote.OK, Invid: child.invid, Object: f.o.s.handle(child.invid, true)}
	})
}

func (f *field) DateLimits(_ context.Context) (remote.DateLimits, error) {
	return remote.DateLimits{Min: f.def.MinDate, Max: f.def.MaxDate}, nil
}

func (f *field) Matrix(_ context.Context) (map[string]string, error) {
	f.o.s.mu.Lock()
	defer f.o.s.mu.Unlock()
	rec, err := f.o.recordLocked()
	if err != nil {
		return nil, err
	}
	m, _ := cloneValue(rec.values[f.def.ID]).(map[string]string)
	if m == nil {
		m = map[string]string{}
	}
	return m, nil
}

func (f *field) SetMatrixEntry(_ context.Context, key, value string) (*remote.Result, error) {
	if f.def.Kind != schema.KindPermMatrix && f.def.Kind != schema.KindFieldOptions {
		return remote.Reject("%s is not a matrix field", f.def.Name), nil
	}
	return f.mutate(HookCall{Op: "set", Value: key + "=" + value}, func(rec *record) *remote.Result {
		m, _ := rec.values[f.def.ID].(map[string]string)
		m = cloneValue(m).(map[string]string)
		if m == nil {
			m = map[string]string{}
		}
		if value == "" {
			delete(m, key)
		} else {
			m[key] = value
		}
		rec.values[f.def.ID] = m
		f.touch(rec)
		return remote.Success()
	})
}
