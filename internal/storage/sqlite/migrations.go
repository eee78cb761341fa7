// Package sqlite - schema bootstrap and migrations
package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
)

// schemaVersionKey is the workspace_state key recording the applied version.
const schemaVersionKey = "schema_version"

// Migration is a single ordered schema change. The base schema plus the
// migration list together define the current on-disk layout; a fresh
// database gets the base schema and every migration in order.
type Migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList is the ordered list of migrations run after the base
// schema. Append only; never reorder.
var migrationsList = []Migration{
	{"counters_seed", migrateCountersSeed},
}

// currentSchemaVersion is 1 (base schema) + the number of migrations.
var currentSchemaVersion = 1 + len(migrationsList)

// migrateCountersSeed ensures counter rows exist for every entity so that
// UPDATE ... RETURNING allocation never races with row creation.
func migrateCountersSeed(db *sql.DB) error {
	_, err := db.Exec(`
		INSERT OR IGNORE INTO counters (entity, value) VALUES
			('task', 0),
			('event', 0),
			('suggestion', 0)
	`)
	if err != nil {
		return fmt.Errorf("failed to seed counters: %w", err)
	}
	return nil
}

// runMigrations bootstraps the schema inside an EXCLUSIVE transaction so
// parallel processes opening the same database cannot race on
// check-then-create operations. Idempotent: skips when the recorded
// schema_version already matches.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec("BEGIN EXCLUSIVE")
	if err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	version, err := storedSchemaVersion(db)
	if err != nil {
		return err
	}
	if version == currentSchemaVersion {
		// Up to date; release the lock without touching anything.
		if _, err := db.Exec("COMMIT"); err != nil {
			return fmt.Errorf("failed to commit no-op migration: %w", err)
		}
		committed = true
		return nil
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d: upgrade intent-engine", version, currentSchemaVersion)
	}

	// Base schema is version 1; every statement is IF NOT EXISTS so
	// re-running over a partially migrated database is safe.
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply base schema: %w", err)
	}

	for i, migration := range migrationsList {
		migrationVersion := 2 + i
		if migrationVersion <= version {
			continue
		}
		if err := migration.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Name, err)
		}
	}

	_, err = db.Exec(`
		INSERT INTO workspace_state (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, schemaVersionKey, strconv.Itoa(currentSchemaVersion))
	if err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true
	return nil
}

// storedSchemaVersion reads the recorded version; 0 means a fresh database.
func storedSchemaVersion(db *sql.DB) (int, error) {
	// workspace_state may not exist yet on a fresh database.
	var exists int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name = 'workspace_state'
	`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect schema: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var raw string
	err = db.QueryRow(`SELECT value FROM workspace_state WHERE key = ?`, schemaVersionKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	version, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt schema version %q: %w", raw, err)
	}
	return version, nil
}
