package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/untoldecay/intent-engine/internal/types"
)

const eventCols = `e.id, e.task_id, e.timestamp, e.log_type, e.discussion_data`

func scanEvent(row rowScanner) (*types.Event, error) {
	var event types.Event
	err := row.Scan(&event.ID, &event.TaskID, &event.Timestamp, &event.LogType, &event.DiscussionData)
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func scanEvents(rows *sql.Rows) ([]*types.Event, error) {
	var events []*types.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func addEvent(ctx context.Context, q dbtx, event *types.Event) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO events (id, task_id, timestamp, log_type, discussion_data)
		VALUES (?, ?, ?, ?, ?)
	`, event.ID, event.TaskID, event.Timestamp, event.LogType, event.DiscussionData)
	if err != nil {
		return fmt.Errorf("failed to insert event for task %d: %w", event.TaskID, err)
	}
	return nil
}

func (s *SQLiteStore) AddEvent(ctx context.Context, event *types.Event) error {
	return addEvent(ctx, s.db, event)
}

func (t *sqliteTx) AddEvent(ctx context.Context, event *types.Event) error {
	return addEvent(ctx, t.tx, event)
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id int64) (*types.Event, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+eventCols+` FROM events e WHERE e.id = ?`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, types.NewInvalidInput("event %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get event %d: %w", id, err)
	}
	return event, nil
}

// UpdateEvent rewrites the type and/or body of a log entry. Nil fields are
// left untouched.
func (s *SQLiteStore) UpdateEvent(ctx context.Context, id int64, logType, body *string) error {
	setClauses := []string{}
	args := []interface{}{}
	if logType != nil {
		setClauses = append(setClauses, "log_type = ?")
		args = append(args, *logType)
	}
	if body != nil {
		setClauses = append(setClauses, "discussion_data = ?")
		args = append(args, *body)
	}
	if len(setClauses) == 0 {
		return types.NewInvalidInput("no event fields to update")
	}
	args = append(args, id)

	// #nosec G201 - clauses are fixed fragments
	query := fmt.Sprintf(`UPDATE events SET %s WHERE id = ?`, strings.Join(setClauses, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewInvalidInput("event %d not found", id)
	}
	return nil
}

func (s *SQLiteStore) DeleteEvent(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete event %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewInvalidInput("event %d not found", id)
	}
	return nil
}

// ListEvents returns matching events, newest first.
func (s *SQLiteStore) ListEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.TaskID != nil {
		where = append(where, "e.task_id = ?")
		args = append(args, *filter.TaskID)
	}
	if filter.LogType != "" {
		where = append(where, "e.log_type = ?")
		args = append(args, filter.LogType)
	}
	if filter.Since != nil {
		where = append(where, "e.timestamp >= ?")
		args = append(args, *filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	// #nosec G201 - where fragments are fixed
	query := fmt.Sprintf(`
		SELECT `+eventCols+` FROM events e
		WHERE %s
		ORDER BY e.timestamp DESC, e.id DESC
		LIMIT ?
	`, strings.Join(where, " AND "))
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

// EventsSummary returns the per-task total plus the most recent entries in
// one round-trip.
func (s *SQLiteStore) EventsSummary(ctx context.Context, taskID int64, recentLimit int) (*types.EventsSummary, error) {
	if recentLimit <= 0 {
		recentLimit = 5
	}

	// COUNT(*) OVER () sees the full partition before LIMIT applies, so
	// the total rides along with the page.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventCols+`, COUNT(*) OVER () AS total FROM events e
		WHERE e.task_id = ?
		ORDER BY e.timestamp DESC, e.id DESC
		LIMIT ?
	`, taskID, recentLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent events for task %d: %w", taskID, err)
	}
	defer func() { _ = rows.Close() }()

	total := 0
	var recent []*types.Event
	for rows.Next() {
		var event types.Event
		if err := rows.Scan(&event.ID, &event.TaskID, &event.Timestamp,
			&event.LogType, &event.DiscussionData, &total); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		recent = append(recent, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &types.EventsSummary{TotalCount: total, Recent: recent}, nil
}
