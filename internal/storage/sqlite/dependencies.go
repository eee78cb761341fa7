package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/untoldecay/intent-engine/internal/types"
)

// addDependency inserts a BLOCKED_BY edge. Inserting an existing edge is
// idempotent: the stored row is returned unchanged.
func addDependency(ctx context.Context, q dbtx, blockingID, blockedID int64) (*types.Dependency, error) {
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO dependencies (blocking_task_id, blocked_task_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (blocking_task_id, blocked_task_id) DO NOTHING
	`, blockingID, blockedID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to add dependency %d -> %d: %w", blockingID, blockedID, err)
	}

	dep := &types.Dependency{BlockingTaskID: blockingID, BlockedTaskID: blockedID}
	err = q.QueryRowContext(ctx, `
		SELECT created_at FROM dependencies
		WHERE blocking_task_id = ? AND blocked_task_id = ?
	`, blockingID, blockedID).Scan(&dep.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read dependency %d -> %d: %w", blockingID, blockedID, err)
	}
	return dep, nil
}

// dependencyReachable walks BLOCKED_BY edges from fromID towards its
// blockers and reports whether toID is reachable. Adding an edge A blocks B
// creates a cycle exactly when B is already (transitively) blocking A.
func dependencyReachable(ctx context.Context, q dbtx, fromID, toID int64, maxDepth int) (bool, error) {
	if maxDepth <= 0 {
		maxDepth = ancestryDepthCap
	}
	var found int
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE reach(id, depth) AS (
			SELECT blocking_task_id, 1 FROM dependencies WHERE blocked_task_id = ?1
			UNION
			SELECT d.blocking_task_id, r.depth + 1
			FROM dependencies d JOIN reach r ON d.blocked_task_id = r.id
			WHERE r.depth < ?3
		)
		SELECT COUNT(*) FROM reach WHERE id = ?2
	`, fromID, toID, maxDepth).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("failed to check dependency reachability %d -> %d: %w", fromID, toID, err)
	}
	return found > 0, nil
}

// incompleteBlockers returns the ids of blocking tasks that are not done.
func incompleteBlockers(ctx context.Context, q dbtx, taskID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT t.id FROM dependencies d
		JOIN tasks t ON t.id = d.blocking_task_id
		WHERE d.blocked_task_id = ? AND t.status IN ('todo', 'doing')
		ORDER BY t.id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query blockers of task %d: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanInt64s(rows)
}

func scanInt64s(rows *sql.Rows) ([]int64, error) {
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteStore) AddDependency(ctx context.Context, blockingID, blockedID int64) (*types.Dependency, error) {
	return addDependency(ctx, s.db, blockingID, blockedID)
}

func (t *sqliteTx) AddDependency(ctx context.Context, blockingID, blockedID int64) (*types.Dependency, error) {
	return addDependency(ctx, t.tx, blockingID, blockedID)
}

func (s *SQLiteStore) DependencyReachable(ctx context.Context, fromID, toID int64, maxDepth int) (bool, error) {
	return dependencyReachable(ctx, s.db, fromID, toID, maxDepth)
}

func (t *sqliteTx) DependencyReachable(ctx context.Context, fromID, toID int64, maxDepth int) (bool, error) {
	return dependencyReachable(ctx, t.tx, fromID, toID, maxDepth)
}

func (s *SQLiteStore) IncompleteBlockers(ctx context.Context, taskID int64) ([]int64, error) {
	return incompleteBlockers(ctx, s.db, taskID)
}

func (t *sqliteTx) IncompleteBlockers(ctx context.Context, taskID int64) ([]int64, error) {
	return incompleteBlockers(ctx, t.tx, taskID)
}

// RemoveDependency deletes an edge; removing a missing edge is an error so
// callers can report stale references.
func (s *SQLiteStore) RemoveDependency(ctx context.Context, blockingID, blockedID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM dependencies
		WHERE blocking_task_id = ? AND blocked_task_id = ?
	`, blockingID, blockedID)
	if err != nil {
		return fmt.Errorf("failed to remove dependency %d -> %d: %w", blockingID, blockedID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewInvalidInput("no dependency from task %d to task %d", blockingID, blockedID)
	}
	return nil
}

// BlockingTaskIDs returns every direct blocker of taskID, complete or not.
func (s *SQLiteStore) BlockingTaskIDs(ctx context.Context, taskID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT blocking_task_id FROM dependencies
		WHERE blocked_task_id = ?
		ORDER BY blocking_task_id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies of task %d: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanInt64s(rows)
}
