package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/atomicobject/filesearch-core/internal/entry"
)

const entryColumns = `id, path, name, dir, is_dir, ext, mtime, size, indexed_at, run_id`

// SelectEntries runs `SELECT <columns> FROM entries <clause>` and scans the
// result. The query engine composes the clause (WHERE/ORDER BY/LIMIT) for
// each execution phase.
func (s *Store) SelectEntries(ctx context.Context, clause string, args ...any) ([]entry.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries `+clause, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entry.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountWhere runs `SELECT COUNT(*) FROM entries <whereClause>`.
func (s *Store) CountWhere(ctx context.Context, whereClause string, args ...any) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries `+whereClause, args...).Scan(&n)
	return n, err
}

// GetByPath fetches a single row.
func (s *Store) GetByPath(ctx context.Context, path string) (entry.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE path = ?`, path)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entry.Entry{}, false, nil
	}
	if err != nil {
		return entry.Entry{}, false, err
	}
	return e, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (entry.Entry, error) {
	var e entry.Entry
	var isDir int
	var ext sql.NullString
	var mtime, size sql.NullInt64
	if err := r.Scan(&e.ID, &e.Path, &e.Name, &e.Dir, &isDir, &ext, &mtime, &size, &e.IndexedAt, &e.RunID); err != nil {
		return entry.Entry{}, err
	}
	e.IsDir = isDir != 0
	if ext.Valid {
		e.Ext = ext.String
	}
	if mtime.Valid {
		v := mtime.Int64
		e.MTime = &v
	}
	if size.Valid {
		v := size.Int64
		e.Size = &v
	}
	return e, nil
}
