// Package activity records what the user did in a client session (objects
// viewed, edited, created, deleted, transactions committed or cancelled)
// and answers queries over that log.
package activity

import (
	"time"

	"github.com/google/uuid"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

// Kind is the operation an entry records.
type Kind string

const (
	KindView       Kind = "view"
	KindEdit       Kind = "edit"
	KindCreate     Kind = "create"
	KindClone      Kind = "clone"
	KindDelete     Kind = "delete"
	KindInactivate Kind = "inactivate"
	KindReactivate Kind = "reactivate"
	KindCommit     Kind = "commit"
	KindCancel     Kind = "cancel"
	KindAbort      Kind = "abort"
)

// Entry is one logged operation. Transaction entries carry a zero Invid.
type Entry struct {
	ID      uuid.UUID    `json:"id"`
	At      time.Time    `json:"at"`
	Kind    Kind         `json:"kind"`
	Invid   schema.Invid `json:"invid"`
	Label   string       `json:"label,omitempty"`
	Summary string       `json:"summary"`
}

// QueryOptions controls filtering and pagination for per-object queries.
type QueryOptions struct {
	Since  *time.Time // default: 30 days ago
	Until  *time.Time // default: now
	Kinds  []Kind     // filter to specific operations
	Limit  int        // max results (default: 100, max: 500)
	Cursor string     // cursor for pagination
}

// SearchOptions controls filtering for summary search.
type SearchOptions struct {
	Base  *uint16 // only entries on objects of this base
	Since *time.Time
	Kinds []Kind
	Limit int // max results (default: 20)
}

// DefaultQueryOptions returns QueryOptions with sensible defaults.
func DefaultQueryOptions() QueryOptions {
	monthAgo := time.Now().AddDate(0, 0, -30)
	now := time.Now()
	return QueryOptions{
		Since: &monthAgo,
		Until: &now,
		Limit: 100,
	}
}

// DefaultSearchOptions returns SearchOptions with sensible defaults.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit: 20,
	}
}

func queryLimit(n int) int {
	if n <= 0 || n > 500 {
		return 100
	}
	return n
}

func searchLimit(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}
