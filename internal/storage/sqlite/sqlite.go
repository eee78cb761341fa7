// Package sqlite implements the Intent-Engine store on an embedded SQLite
// database (ncruces/go-sqlite3, pure Go). One file per project under
// .intent-engine/project.db; WAL journal mode, 5s busy timeout, pool of 5.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// maxOpenConns bounds the connection pool. SQLite serializes writers
// anyway; a small pool keeps reader parallelism without lock churn.
const maxOpenConns = 5

// SQLiteStore implements storage.Store against a single database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

var _ storage.Store = (*SQLiteStore)(nil)

// dbtx is the subset of *sql.DB / *sql.Tx the entity helpers need, so the
// same code serves both pooled and transactional calls.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// connString builds the DSN. _txlock=immediate makes every write
// transaction BEGIN IMMEDIATE, acquiring the write lock early to avoid
// deadlocks between competing writers.
func connString(path string) string {
	return fmt.Sprintf(
		"file:%s?_txlock=immediate&_time_format=sqlite"+
			"&_pragma=busy_timeout(5000)"+
			"&_pragma=journal_mode(WAL)"+
			"&_pragma=synchronous(NORMAL)"+
			"&_pragma=foreign_keys(ON)",
		url.PathEscape(path),
	)
}

// New opens (creating if needed) the database at path and bootstraps the
// schema.
func New(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	db.SetMaxOpenConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database at %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate bootstraps the schema; idempotent (see runMigrations).
func (s *SQLiteStore) Migrate(_ context.Context) error {
	return runMigrations(s.db)
}

// Close releases the connection pool.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

// sqliteTx adapts *sql.Tx to storage.Tx via the shared entity helpers.
type sqliteTx struct {
	tx *sql.Tx
}

var _ storage.Tx = (*sqliteTx)(nil)

// RunInTransaction executes fn atomically. A returned error or panic rolls
// the transaction back; panics are re-raised after rollback.
func (s *SQLiteStore) RunInTransaction(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// nextID atomically increments and returns the counter for an entity.
// The upsert form keeps allocation race-free even if the seed row is gone.
func nextID(ctx context.Context, q dbtx, entity string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO counters (entity, value) VALUES (?, 1)
		ON CONFLICT (entity) DO UPDATE SET value = value + 1
		RETURNING value
	`, entity).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s id: %w", entity, err)
	}
	return id, nil
}

// NextID implements storage.Store.
func (s *SQLiteStore) NextID(ctx context.Context, entity string) (int64, error) {
	return nextID(ctx, s.db, entity)
}

// NextID implements storage.Tx.
func (t *sqliteTx) NextID(ctx context.Context, entity string) (int64, error) {
	return nextID(ctx, t.tx, entity)
}

// GetState reads a workspace_state value; missing keys return "".
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM workspace_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read state %s: %w", key, err)
	}
	return value, nil
}

// SetState upserts a workspace_state value. schema_version is owned by the
// migration runner and may not be overwritten through this path.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	if key == schemaVersionKey {
		return types.NewActionNotAllowed("state key %q is protected", key)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workspace_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}
