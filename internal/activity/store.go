package activity

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/ganyclient/internal/schema"
)

// Store is the interface for reading and writing activity entries.
type Store interface {
	// WriteEntries writes one or more entries.
	WriteEntries(ctx context.Context, entries []Entry) error

	// QueryByInvid returns the entries of one object, newest first.
	QueryByInvid(ctx context.Context, inv schema.Invid, opts QueryOptions) (entries []Entry, nextCursor string, totalCount int, err error)

	// Search matches summaries case-insensitively, newest first.
	Search(ctx context.Context, query string, opts SearchOptions) (entries []Entry, totalCount int, err error)

	// Recent returns the newest entries across all objects.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// SQLStore implements Store on a SQLite database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a SQLStore on an open database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// OpenSQLStore opens the SQLite database at dsn and creates the table.
// ":memory:" keeps the log for the life of the process.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening activity database: %w", err)
	}
	// Every pooled connection to ":memory:" would be a separate database.
	db.SetMaxOpenConns(1)
	s := NewSQLStore(db)
	if err := s.CreateTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating activity table: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// CreateTable creates the activity_entries table and its indexes.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS activity_entries (
			id          TEXT NOT NULL PRIMARY KEY,
			occurred_at INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			base        INTEGER NOT NULL,
			num         INTEGER NOT NULL,
			label       TEXT NOT NULL DEFAULT '',
			summary     TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_activity_object_time
			ON activity_entries (base, num, occurred_at DESC);

		CREATE INDEX IF NOT EXISTS idx_activity_time
			ON activity_entries (occurred_at DESC);
	`)
	return err
}

// WriteEntries inserts entries, ignoring IDs already present.
func (s *SQLStore) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString(`INSERT OR IGNORE INTO activity_entries (
		id, occurred_at, kind, base, num, label, summary
	) VALUES `)

	args := make([]any, 0, len(entries)*7)
	for i, e := range entries {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(?, ?, ?, ?, ?, ?, ?)")
		args = append(args,
			e.ID.String(), e.At.UnixNano(), string(e.Kind), int(e.Invid.Base), int64(e.Invid.Num), e.Label, e.Summary,
		)
	}

	if _, err := s.db.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("writing activity entries: %w", err)
	}
	return nil
}

func kindIn(kinds []Kind, args []any) (string, []any) {
	placeholders := make([]string, len(kinds))
	for i, k := range kinds {
		placeholders[i] = "?"
		args = append(args, string(k))
	}
	return fmt.Sprintf("kind IN (%s)", strings.Join(placeholders, ", ")), args
}

// QueryByInvid returns the entries of one object with filtering and pagination.
func (s *SQLStore) QueryByInvid(ctx context.Context, inv schema.Invid, opts QueryOptions) ([]Entry, string, int, error) {
	limit := queryLimit(opts.Limit)

	conditions := []string{"base = ?", "num = ?"}
	args := []any{int(inv.Base), int64(inv.Num)}

	if opts.Since != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if opts.Until != nil {
		conditions = append(conditions, "occurred_at <= ?")
		args = append(args, opts.Until.UnixNano())
	}
	if len(opts.Kinds) > 0 {
		var cond string
		cond, args = kindIn(opts.Kinds, args)
		conditions = append(conditions, cond)
	}
	if opts.Cursor != "" {
		// Cursor is the occurred_at timestamp of the last result.
		cursorTime, err := time.Parse(time.RFC3339Nano, opts.Cursor)
		if err == nil {
			conditions = append(conditions, "occurred_at < ?")
			args = append(args, cursorTime.UnixNano())
		}
	}

	where := strings.Join(conditions, " AND ")
	entries, err := s.query(ctx, where, args, limit+1) // fetch one extra for cursor
	if err != nil {
		return nil, "", 0, err
	}

	var nextCursor string
	if len(entries) > limit {
		entries = entries[:limit]
		nextCursor = entries[len(entries)-1].At.Format(time.RFC3339Nano)
	}

	var totalCount int
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_entries WHERE "+where, args...).Scan(&totalCount)

	return entries, nextCursor, totalCount, nil
}

// Search matches entry summaries.
func (s *SQLStore) Search(ctx context.Context, query string, opts SearchOptions) ([]Entry, int, error) {
	conditions := []string{"summary LIKE '%' || ? || '%'"}
	args := []any{query}

	if opts.Base != nil {
		conditions = append(conditions, "base = ?", "num <> 0")
		args = append(args, int(*opts.Base))
	}
	if opts.Since != nil {
		conditions = append(conditions, "occurred_at >= ?")
		args = append(args, opts.Since.UnixNano())
	}
	if len(opts.Kinds) > 0 {
		var cond string
		cond, args = kindIn(opts.Kinds, args)
		conditions = append(conditions, cond)
	}

	where := strings.Join(conditions, " AND ")
	entries, err := s.query(ctx, where, args, searchLimit(opts.Limit))
	if err != nil {
		return nil, 0, err
	}

	var totalCount int
	_ = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM activity_entries WHERE "+where, args...).Scan(&totalCount)

	return entries, totalCount, nil
}

// Recent returns the newest entries.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, "1 = 1", nil, queryLimit(limit))
}

func (s *SQLStore) query(ctx context.Context, where string, args []any, limit int) ([]Entry, error) {
	q := fmt.Sprintf(
		`SELECT id, occurred_at, kind, base, num, label, summary
		FROM activity_entries
		WHERE %s
		ORDER BY occurred_at DESC
		LIMIT ?`, where)
	args = append(append([]any(nil), args...), limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying activity entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e    Entry
			id   string
			at   int64
			kind string
			base int
			num  int64
		)
		if err := rows.Scan(&id, &at, &kind, &base, &num, &e.Label, &e.Summary); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		e.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		e.At = time.Unix(0, at).UTC()
		e.Kind = Kind(kind)
		e.Invid = schema.Invid{Base: uint16(base), Num: uint32(num)}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
