package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// TemplateLoader fetches the field templates of one base from the server.
type TemplateLoader func(ctx context.Context, base uint16) ([]FieldTemplate, error)

// Registry holds base and field template metadata for one client session.
// Templates are loaded once per base on first use and cached until the
// session ends. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	loader    TemplateLoader
	bases     map[uint16]*Base
	baseOrder []uint16
	templates map[uint16][]*FieldTemplate          // base -> templates in server order
	byID      map[uint16]map[uint16]*FieldTemplate // base -> field id -> template
}

// NewRegistry creates an empty registry backed by the given loader.
func NewRegistry(loader TemplateLoader) *Registry {
	return &Registry{
		loader:    loader,
		bases:     make(map[uint16]*Base),
		templates: make(map[uint16][]*FieldTemplate),
		byID:      make(map[uint16]map[uint16]*FieldTemplate),
	}
}

// RegisterBase adds a base description to the registry.
func (r *Registry) RegisterBase(b Base) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.bases[b.ID]; !ok {
		r.baseOrder = append(r.baseOrder, b.ID)
		sort.Slice(r.baseOrder, func(i, j int) bool { return r.baseOrder[i] < r.baseOrder[j] })
	}
	cp := b
	r.bases[b.ID] = &cp
}

// Base returns the description of a base, or nil if unknown.
func (r *Registry) Base(id uint16) *Base {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bases[id]
}

// Bases returns all registered bases ordered by ID.
func (r *Registry) Bases() []*Base {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Base, 0, len(r.baseOrder))
	for _, id := range r.baseOrder {
		out = append(out, r.bases[id])
	}
	return out
}

// Put installs the templates of a base, replacing anything cached.
func (r *Registry) Put(base uint16, templates []FieldTemplate) {
	list := make([]*FieldTemplate, len(templates))
	index := make(map[uint16]*FieldTemplate, len(templates))
	for i := range templates {
		t := templates[i]
		list[i] = &t
		index[t.ID] = &t
	}
	r.mu.Lock()
	r.templates[base] = list
	r.byID[base] = index
	r.mu.Unlock()
}

// Templates returns the templates of a base in server-declared order,
// loading them on first use.
func (r *Registry) Templates(ctx context.Context, base uint16) ([]*FieldTemplate, error) {
	r.mu.RLock()
	list, ok := r.templates[base]
	r.mu.RUnlock()
	if ok {
		return list, nil
	}
	if r.loader == nil {
		return nil, fmt.Errorf("no templates for base %d", base)
	}
	loaded, err := r.loader(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("load templates for base %d: %w", base, err)
	}
	r.Put(base, loaded)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[base], nil
}

// Template returns one field template, or nil if the base has no such field.
func (r *Registry) Template(ctx context.Context, base, field uint16) (*FieldTemplate, error) {
	if _, err := r.Templates(ctx, base); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[base][field], nil
}
