// Package store is the persistent entry table backed by a single-file SQLite
// database in WAL mode, plus the meta key/value side table. Writes do not all
// go through one goroutine: the indexer's bulk run writes over its own
// BulkSession connection, while watcher-driven applies, renames and meta
// writes use the shared pool from the caller's goroutine; concurrent writers
// are serialized only by SQLite's locking and the busy retry. Readers use the
// shared pool.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atomicobject/filesearch-core/internal/entry"

	_ "modernc.org/sqlite"
)

// schemaVersion is stamped into meta on create. A mismatch on open triggers
// a destructive rebuild: the cached index is dropped and the indexer re-runs
// fully.
const schemaVersion = 3

var (
	// ErrBusy surfaces a contention error that persisted through the single
	// retry. Recoverable; callers may re-submit.
	ErrBusy = errors.New("store: database busy")

	// ErrNotFound reports that a path has no row.
	ErrNotFound = errors.New("store: path not found")
)

// Store wraps the database handle.
type Store struct {
	db             *sql.DB
	path           string
	busyRetryDelay time.Duration
}

// Options tunes the store; zero values get defaults.
type Options struct {
	BusyRetryDelay time.Duration
}

// Open opens (or creates) the index database at path, applies the normal
// pragma profile, and runs the schema version gate.
func Open(path string, opts Options) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	delay := opts.BusyRetryDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}

	db, err := sql.Open("sqlite", normalProfileDSN(path))
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path, busyRetryDelay: delay}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// normalProfileDSN encodes the normal pragma profile so every pooled
// connection comes up configured identically.
func normalProfileDSN(path string) string {
	pragmas := []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"temp_store(MEMORY)",
		"busy_timeout(3000)",
		"cache_size(-16000)",
		"mmap_size(0)",
		"wal_autocheckpoint(1000)",
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p)
	}
	return "file:" + filepath.ToSlash(path) + "?" + q.Encode()
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk location of the database file.
func (s *Store) Path() string { return s.path }

// migrate runs the version gate: create the schema if absent, and rebuild it
// destructively when the stamped version does not match.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create meta table: %w", err)
	}

	stored, ok, err := s.GetMeta(ctx, entry.MetaSchemaVersion)
	if err != nil {
		return err
	}
	if ok && stored != fmt.Sprint(schemaVersion) {
		if err := s.rebuild(ctx); err != nil {
			return err
		}
	}
	if err := s.ensureSchema(ctx); err != nil {
		return err
	}
	return s.SetMeta(ctx, entry.MetaSchemaVersion, fmt.Sprint(schemaVersion))
}

// rebuild drops everything. No data is lost beyond the cached index; the
// indexer re-runs fully because meta comes back empty.
func (s *Store) rebuild(ctx context.Context) error {
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS entries`,
		`DROP TABLE IF EXISTS meta`,
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild schema: %w", err)
		}
	}
	return nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			id         INTEGER PRIMARY KEY,
			path       TEXT NOT NULL UNIQUE,
			name       TEXT NOT NULL,
			dir        TEXT NOT NULL,
			is_dir     INTEGER NOT NULL,
			ext        TEXT,
			mtime      INTEGER,
			size       INTEGER,
			indexed_at INTEGER NOT NULL,
			run_id     INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_name ON entries(name COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_dir_ext_name ON entries(dir COLLATE NOCASE, ext, name COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_ext_name ON entries(ext, name)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_mtime ON entries(mtime)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_indexed_at ON entries(indexed_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// GetMeta reads one meta key.
func (s *Store) GetMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMeta writes one meta key.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	return s.retryBusy(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, value)
		return err
	})
}

// DeleteMeta removes meta keys; missing keys are not an error.
func (s *Store) DeleteMeta(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	holders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		holders[i] = "?"
		args[i] = k
	}
	return s.retryBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM meta WHERE key IN (%s)`, strings.Join(holders, ",")), args...)
		return err
	})
}

// EntriesCount returns the number of rows in the entry table.
func (s *Store) EntriesCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&n)
	return n, err
}

// Row is one unit of work for the DB writer: an entry plus whether it only
// needs the lightweight refresh (run_id and indexed_at) because its mtime and
// size are unchanged since the previous run.
type Row struct {
	Entry entry.Entry
	Light bool
}

// UpsertBatch applies a batch of rows in one transaction. Statements are
// prepared once per batch and reused; the conflict target is path.
func (s *Store) UpsertBatch(ctx context.Context, rows []Row) error {
	return s.retryBusy(func() error {
		return upsertBatch(ctx, s.db, rows)
	})
}

func upsertBatch(ctx context.Context, b beginner, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := b.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	return upsertBatchTx(ctx, tx, rows)
}

func upsertBatchTx(ctx context.Context, tx *sql.Tx, rows []Row) (err error) {
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	full, err := tx.PrepareContext(ctx, `
		INSERT INTO entries (path, name, dir, is_dir, ext, mtime, size, indexed_at, run_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			name       = excluded.name,
			dir        = excluded.dir,
			is_dir     = excluded.is_dir,
			ext        = excluded.ext,
			mtime      = excluded.mtime,
			size       = excluded.size,
			indexed_at = excluded.indexed_at,
			run_id     = excluded.run_id
	`)
	if err != nil {
		return err
	}
	defer full.Close()

	light, err := tx.PrepareContext(ctx, `
		UPDATE entries SET indexed_at = ?, run_id = ? WHERE path = ?
	`)
	if err != nil {
		return err
	}
	defer light.Close()

	for _, r := range rows {
		e := r.Entry
		if r.Light {
			res, lerr := light.ExecContext(ctx, e.IndexedAt, e.RunID, e.Path)
			if lerr != nil {
				err = lerr
				return err
			}
			if n, _ := res.RowsAffected(); n > 0 {
				continue
			}
			// Row vanished between preload and write; fall through to a
			// full upsert.
		}
		if _, err = full.ExecContext(ctx, e.Path, e.Name, e.Dir, boolToInt(e.IsDir),
			nullIfEmpty(e.Ext), e.MTime, e.Size, e.IndexedAt, e.RunID); err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// DeleteByPath removes one row. Missing rows return ErrNotFound.
func (s *Store) DeleteByPath(ctx context.Context, path string) error {
	var affected int64
	err := s.retryBusy(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE path = ?`, path)
		if err != nil {
			return err
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTree removes a path and, for directories, everything beneath it.
func (s *Store) DeleteTree(ctx context.Context, path string) error {
	sep := string(filepath.Separator)
	return s.retryBusy(func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM entries WHERE path = ? OR path LIKE ? ESCAPE '\'`,
			path, escapeLike(path)+sep+"%")
		return err
	})
}

// DeleteStale removes rows untouched by the given run; those are the entries
// that disappeared from the filesystem since the previous run.
func (s *Store) DeleteStale(ctx context.Context, runID int64) (int64, error) {
	var deleted int64
	err := s.retryBusy(func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE run_id < ?`, runID)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// RenamePath rewrites one row's identity columns, and for directories the
// path and dir prefixes of every descendant. Returns ErrNotFound when the
// old path has no row.
func (s *Store) RenamePath(ctx context.Context, oldPath, newPath string) error {
	oldPath = entry.Canonicalize(oldPath)
	newPath = entry.Canonicalize(newPath)
	newDir, newName := entry.Split(newPath)

	var isDir bool
	err := s.db.QueryRowContext(ctx, `SELECT is_dir FROM entries WHERE path = ?`, oldPath).Scan(&isDir)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var ext any
	if !isDir {
		if e := entry.New(newPath, false, nil, nil, 0, 0).Ext; e != "" {
			ext = e
		}
	}

	sep := string(filepath.Separator)
	return s.retryBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() {
			if err != nil {
				_ = tx.Rollback()
			}
		}()

		if _, err = tx.ExecContext(ctx, `
			UPDATE entries SET path = ?, name = ?, dir = ?, ext = ? WHERE path = ?
		`, newPath, newName, newDir, ext, oldPath); err != nil {
			return err
		}
		if isDir {
			prefix := escapeLike(oldPath) + sep + "%"
			if _, err = tx.ExecContext(ctx, `
				UPDATE entries SET
					path = ? || SUBSTR(path, ?),
					dir  = ? || SUBSTR(dir,  ?)
				WHERE path LIKE ? ESCAPE '\'
			`, newPath, len(oldPath)+1, newPath, len(oldPath)+1, prefix); err != nil {
				return err
			}
		}
		err = tx.Commit()
		return err
	})
}

// Signature is the (mtime, size) pair used to decide lightweight vs full
// upserts during a bulk run.
type Signature struct {
	MTime int64
	Size  int64
}

// PreloadSignatures loads the {path -> (mtime, size)} table once at the start
// of Pass 0.
func (s *Store) PreloadSignatures(ctx context.Context) (map[string]Signature, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, mtime, size FROM entries`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sigs := make(map[string]Signature, 1024)
	for rows.Next() {
		var path string
		var mtime, size sql.NullInt64
		if err := rows.Scan(&path, &mtime, &size); err != nil {
			return nil, err
		}
		sigs[path] = Signature{MTime: mtime.Int64, Size: size.Int64}
	}
	return sigs, rows.Err()
}

// TruncateEntries empties the entry table; used by reset.
func (s *Store) TruncateEntries(ctx context.Context) error {
	return s.retryBusy(func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM entries`)
		return err
	})
}

// boolToInt stores booleans the SQLite way.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// escapeLike escapes LIKE metacharacters so a literal path can be used as a
// prefix pattern.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// retryBusy runs fn, waiting once for the configured delay when SQLite
// reports contention. A second failure surfaces as ErrBusy.
func (s *Store) retryBusy(fn func() error) error {
	err := fn()
	if err == nil || !isBusy(err) {
		return err
	}
	time.Sleep(s.busyRetryDelay)
	if err = fn(); err != nil {
		if isBusy(err) {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return err
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
