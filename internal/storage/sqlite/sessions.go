package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/intent-engine/internal/types"
)

func scanSession(row rowScanner) (*types.Session, error) {
	var session types.Session
	var currentTaskID sql.NullInt64
	err := row.Scan(&session.SessionID, &currentTaskID, &session.CreatedAt, &session.LastActiveAt)
	if err != nil {
		return nil, err
	}
	if currentTaskID.Valid {
		session.CurrentTaskID = &currentTaskID.Int64
	}
	return &session, nil
}

// setFocus upserts the session row and points it at taskID (nil clears).
// last_active_at is always advanced.
func setFocus(ctx context.Context, q dbtx, sessionID string, taskID *int64) error {
	now := time.Now()
	_, err := q.ExecContext(ctx, `
		INSERT INTO sessions (session_id, current_task_id, created_at, last_active_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			current_task_id = excluded.current_task_id,
			last_active_at = excluded.last_active_at
	`, sessionID, taskID, now, now)
	if err != nil {
		return fmt.Errorf("failed to set focus for session %s: %w", sessionID, err)
	}
	return nil
}

// sessionsFocusedOn returns every session whose focus is one of the given
// tasks. Used for focus protection on delete paths.
func sessionsFocusedOn(ctx context.Context, q dbtx, taskIDs []int64) ([]*types.Session, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(taskIDs)-1) + "?"
	args := make([]interface{}, len(taskIDs))
	for i, id := range taskIDs {
		args[i] = id
	}

	// #nosec G201 - placeholders are generated, values are bound
	query := fmt.Sprintf(`
		SELECT session_id, current_task_id, created_at, last_active_at
		FROM sessions
		WHERE current_task_id IN (%s)
		ORDER BY session_id
	`, placeholders)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query focused sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) SetFocus(ctx context.Context, sessionID string, taskID *int64) error {
	return setFocus(ctx, s.db, sessionID, taskID)
}

func (t *sqliteTx) SetFocus(ctx context.Context, sessionID string, taskID *int64) error {
	return setFocus(ctx, t.tx, sessionID, taskID)
}

func (s *SQLiteStore) SessionsFocusedOn(ctx context.Context, taskIDs []int64) ([]*types.Session, error) {
	return sessionsFocusedOn(ctx, s.db, taskIDs)
}

func (t *sqliteTx) SessionsFocusedOn(ctx context.Context, taskIDs []int64) ([]*types.Session, error) {
	return sessionsFocusedOn(ctx, t.tx, taskIDs)
}

// getSession returns the session row, or nil when it does not exist yet.
func getSession(ctx context.Context, q dbtx, sessionID string) (*types.Session, error) {
	row := q.QueryRowContext(ctx, `
		SELECT session_id, current_task_id, created_at, last_active_at
		FROM sessions WHERE session_id = ?
	`, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", sessionID, err)
	}
	return session, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return getSession(ctx, s.db, sessionID)
}

func (t *sqliteTx) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	return getSession(ctx, t.tx, sessionID)
}

// TouchSession advances last_active_at, creating the row if needed.
func (s *SQLiteStore) TouchSession(ctx context.Context, sessionID string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, created_at, last_active_at)
		VALUES (?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET last_active_at = excluded.last_active_at
	`, sessionID, now, now)
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", sessionID, err)
	}
	return nil
}

// CleanupExpiredSessions deletes sessions idle for longer than olderThan.
// The default CLI session "-1" is never expired.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE last_active_at < ? AND session_id != ?
	`, cutoff, types.DefaultSessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up expired sessions: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

// EnforceSessionLimit keeps only the `keep` most recently active sessions
// (plus the default session), deleting the rest.
func (s *SQLiteStore) EnforceSessionLimit(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, types.NewInvalidInput("session limit must be positive, got %d", keep)
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions
		WHERE session_id != ? AND session_id NOT IN (
			SELECT session_id FROM sessions
			WHERE session_id != ?
			ORDER BY last_active_at DESC
			LIMIT ?
		)
	`, types.DefaultSessionID, types.DefaultSessionID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to enforce session limit: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
