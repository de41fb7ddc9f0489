package activity

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

// MemoryStore implements Store using in-memory slices.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
	seen    map[string]bool
}

// NewMemoryStore creates a new empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[string]bool)}
}

func (s *MemoryStore) WriteEntries(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if s.seen[e.ID.String()] {
			continue
		}
		s.seen[e.ID.String()] = true
		s.entries = append(s.entries, e)
	}
	return nil
}

func newestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At.After(entries[j].At)
	})
}

func (s *MemoryStore) QueryByInvid(_ context.Context, inv schema.Invid, opts QueryOptions) ([]Entry, string, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Entry
	for _, e := range s.entries {
		if e.Invid != inv {
			continue
		}
		if opts.Since != nil && e.At.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && e.At.After(*opts.Until) {
			continue
		}
		if len(opts.Kinds) > 0 && !slices.Contains(opts.Kinds, e.Kind) {
			continue
		}
		if opts.Cursor != "" {
			cursorTime, err := time.Parse(time.RFC3339Nano, opts.Cursor)
			if err == nil && !e.At.Before(cursorTime) {
				continue
			}
		}
		matched = append(matched, e)
	}
	newestFirst(matched)

	totalCount := len(matched)
	limit := queryLimit(opts.Limit)

	var nextCursor string
	if len(matched) > limit {
		matched = matched[:limit]
		nextCursor = matched[len(matched)-1].At.Format(time.RFC3339Nano)
	}

	return matched, nextCursor, totalCount, nil
}

func (s *MemoryStore) Search(_ context.Context, query string, opts SearchOptions) ([]Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := strings.ToLower(query)
	var matched []Entry
	for _, e := range s.entries {
		if !strings.Contains(strings.ToLower(e.Summary), q) {
			continue
		}
		if opts.Base != nil && (e.Invid.Base != *opts.Base || e.Invid.IsZero()) {
			continue
		}
		if opts.Since != nil && e.At.Before(*opts.Since) {
			continue
		}
		if len(opts.Kinds) > 0 && !slices.Contains(opts.Kinds, e.Kind) {
			continue
		}
		matched = append(matched, e)
	}
	newestFirst(matched)

	totalCount := len(matched)
	if limit := searchLimit(opts.Limit); len(matched) > limit {
		matched = matched[:limit]
	}

	return matched, totalCount, nil
}

func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	s.mu.RLock()
	out := slices.Clone(s.entries)
	s.mu.RUnlock()
	newestFirst(out)
	if limit = queryLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
