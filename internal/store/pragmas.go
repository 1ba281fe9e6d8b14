package store

import (
	"context"
	"database/sql"
	"fmt"
)

// beginner is satisfied by *sql.DB and *sql.Conn; batch writes work over
// either.
type beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// bulkPragmas is the bulk-write profile: bigger page cache, memory-mapped
// I/O, autocheckpointing off so the writer controls WAL growth.
var bulkPragmas = []string{
	`PRAGMA cache_size = -64000`,
	`PRAGMA mmap_size = 268435456`,
	`PRAGMA wal_autocheckpoint = 0`,
}

// normalPragmas restores the normal profile on the same connection.
var normalPragmas = []string{
	`PRAGMA cache_size = -16000`,
	`PRAGMA mmap_size = 0`,
	`PRAGMA wal_autocheckpoint = 1000`,
}

// BulkSession is a dedicated connection carrying the bulk-write pragma
// profile. It must be closed on every exit path so the profile is restored.
type BulkSession struct {
	s    *Store
	conn *sql.Conn
}

// BeginBulk pins one connection out of the pool and applies the bulk-write
// profile to it.
func (s *Store) BeginBulk(ctx context.Context) (*BulkSession, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range bulkPragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("apply bulk profile: %w", err)
		}
	}
	return &BulkSession{s: s, conn: conn}, nil
}

// UpsertBatch applies a batch over the bulk connection.
func (b *BulkSession) UpsertBatch(ctx context.Context, rows []Row) error {
	return b.s.retryBusy(func() error {
		return upsertBatch(ctx, b.conn, rows)
	})
}

// DeleteStale tombstones rows from earlier runs over the bulk connection.
func (b *BulkSession) DeleteStale(ctx context.Context, runID int64) (int64, error) {
	var deleted int64
	err := b.s.retryBusy(func() error {
		res, err := b.conn.ExecContext(ctx, `DELETE FROM entries WHERE run_id < ?`, runID)
		if err != nil {
			return err
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// Close restores the normal profile and returns the connection to the pool.
// Safe to call more than once.
func (b *BulkSession) Close() error {
	if b.conn == nil {
		return nil
	}
	ctx := context.Background()
	var firstErr error
	for _, p := range normalPragmas {
		if _, err := b.conn.ExecContext(ctx, p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("restore normal profile: %w", err)
		}
	}
	if err := b.conn.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.conn = nil
	return firstErr
}

// FinishBulk runs the post-run maintenance: force a checkpoint that truncates
// the write-ahead log, then refresh the planner statistics.
func (s *Store) FinishBulk(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	return nil
}
