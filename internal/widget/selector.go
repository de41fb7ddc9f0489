package widget

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/matthewbaird/ganyclient/internal/remote"
	"github.com/matthewbaird/ganyclient/internal/schema"
)

// StringSelector shows the members of a vector field, and for editable
// fields the candidates that may be added. Members of reference fields are
// labelled objects that can be opened for viewing or editing.
type StringSelector struct {
	base
	cmu        sync.RWMutex
	candidates []remote.Choice
	// References marks a selector over object references.
	References bool
}

// NewStringSelector creates a selector.
func NewStringSelector(sub Submitter, editable, references bool) *StringSelector {
	s := &StringSelector{References: references}
	s.init(s, sub, editable, normalizeMembers)
	s.value = []remote.Choice(nil)
	return s
}

// normalizeMembers accepts a member list or raw vector values.
func normalizeMembers(v any) any {
	switch x := v.(type) {
	case []remote.Choice:
		return slices.Clone(x)
	case []string:
		out := make([]remote.Choice, len(x))
		for i, s := range x {
			out[i] = remote.Choice{Label: s, Value: s}
		}
		return out
	case []schema.Invid:
		out := make([]remote.Choice, len(x))
		for i, inv := range x {
			out[i] = remote.Choice{Label: inv.String(), Value: inv}
		}
		return out
	}
	return []remote.Choice(nil)
}

// Members returns the displayed members.
func (s *StringSelector) Members() []remote.Choice {
	m, _ := s.Value().([]remote.Choice)
	return slices.Clone(m)
}

// Labels returns the member labels in display order.
func (s *StringSelector) Labels() []string {
	m := s.Members()
	out := make([]string, len(m))
	for i, c := range m {
		out[i] = c.Label
	}
	return out
}

// SetCandidates replaces the candidate list. A nil list means no candidates
// could be fetched and the selector falls back to free add and remove.
func (s *StringSelector) SetCandidates(items []remote.Choice) {
	s.cmu.Lock()
	s.candidates = slices.Clone(items)
	s.cmu.Unlock()
}

// Candidates returns the candidates that are not already members.
func (s *StringSelector) Candidates() []remote.Choice {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	members := s.Members()
	var out []remote.Choice
	for _, c := range s.candidates {
		if !containsValue(members, c.Value) {
			out = append(out, c)
		}
	}
	return out
}

// CanChoose reports whether a candidate list is available.
func (s *StringSelector) CanChoose() bool {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	return s.candidates != nil
}

func (s *StringSelector) labelFor(v any) string {
	s.cmu.RLock()
	defer s.cmu.RUnlock()
	for _, c := range s.candidates {
		if c.Value == v {
			return c.Label
		}
	}
	return fmt.Sprint(v)
}

// Add is a user request to add one value.
func (s *StringSelector) Add(ctx context.Context, v any) (bool, error) {
	return s.AddAll(ctx, []any{v})
}

// AddAll is a user request to add several values at once.
func (s *StringSelector) AddAll(ctx context.Context, vs []any) (bool, error) {
	if !s.Editable() {
		return false, ErrNotEditable
	}
	if len(vs) == 0 {
		return true, nil
	}
	ch := Change{Op: OpAddAll, Values: vs}
	if len(vs) == 1 {
		ch = Change{Op: OpAdd, Value: vs[0]}
	}
	ok, err := s.sub.Submit(ctx, s, ch)
	if !ok || err != nil {
		return false, err
	}
	members := s.Members()
	for _, v := range vs {
		if !containsValue(members, v) {
			members = append(members, remote.Choice{Label: s.labelFor(v), Value: v, Editable: true})
		}
	}
	s.SetValue(members)
	return true, nil
}

// Remove is a user request to remove one value.
func (s *StringSelector) Remove(ctx context.Context, v any) (bool, error) {
	return s.RemoveAll(ctx, []any{v})
}

// RemoveAll is a user request to remove several values at once.
func (s *StringSelector) RemoveAll(ctx context.Context, vs []any) (bool, error) {
	if !s.Editable() {
		return false, ErrNotEditable
	}
	if len(vs) == 0 {
		return true, nil
	}
	ch := Change{Op: OpDeleteAll, Values: vs}
	if len(vs) == 1 {
		ch = Change{Op: OpDelete, Value: vs[0]}
	}
	ok, err := s.sub.Submit(ctx, s, ch)
	if !ok || err != nil {
		return false, err
	}
	members := slices.DeleteFunc(s.Members(), func(c remote.Choice) bool {
		return slices.Contains(vs, c.Value)
	})
	s.SetValue(members)
	return true, nil
}

// Open asks to view or edit a referenced member.
func (s *StringSelector) Open(ctx context.Context, action string, inv schema.Invid) (bool, error) {
	if !s.References {
		return false, nil
	}
	return s.sub.Submit(ctx, s, Change{Op: OpAction, Action: action, Value: inv})
}

// Relabel updates the label of inv among members and candidates.
func (s *StringSelector) Relabel(inv schema.Invid, label string) bool {
	members := s.Members()
	changed := relabelChoices(members, inv, label)
	if changed {
		s.SetValue(members)
	}
	s.cmu.Lock()
	if relabelChoices(s.candidates, inv, label) {
		changed = true
	}
	s.cmu.Unlock()
	return changed
}

// Matrix edits a permission matrix or field-option matrix. It calls its
// field directly instead of going through a Submitter.
type Matrix struct {
	base
	field remote.MatrixField
	apply func(ctx context.Context, r *remote.Result) (bool, error)
	// Options marks a field-option matrix.
	Options bool
}

// NewMatrix creates a matrix editor. apply resolves each result returned
// by the field and reports whether it succeeded.
func NewMatrix(field remote.MatrixField, editable, options bool, apply func(context.Context, *remote.Result) (bool, error)) *Matrix {
	m := &Matrix{field: field, apply: apply, Options: options}
	m.init(m, nil, editable, func(v any) any {
		e, _ := v.(map[string]string)
		return maps.Clone(e)
	})
	return m
}

// Load fetches the current entries.
func (m *Matrix) Load(ctx context.Context) error {
	entries, err := m.field.Matrix(ctx)
	if err != nil {
		return remote.Wrap("matrix", err)
	}
	m.SetValue(entries)
	return nil
}

// Entries returns the displayed entries.
func (m *Matrix) Entries() map[string]string {
	e, _ := m.Value().(map[string]string)
	return maps.Clone(e)
}

// Set is a user change of one entry. The matrix is reloaded afterwards so
// it shows whatever the server kept.
func (m *Matrix) Set(ctx context.Context, key, value string) (bool, error) {
	if !m.Editable() {
		return false, ErrNotEditable
	}
	r, err := m.field.SetMatrixEntry(ctx, key, value)
	if err != nil {
		_ = m.Load(ctx)
		return false, remote.Wrap("set matrix entry", err)
	}
	ok, err := m.apply(ctx, r)
	if lerr := m.Load(ctx); lerr != nil && err == nil {
		err = lerr
	}
	return ok, err
}

// Revert reloads the entries.
func (m *Matrix) Revert(ctx context.Context) error {
	return m.Load(ctx)
}
