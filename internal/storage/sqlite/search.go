package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// ftsQuote turns arbitrary user input into a single FTS5 string token so
// that match syntax characters (-, ", NEAR, ...) cannot break the query.
func ftsQuote(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"`
}

// likePattern builds a substring pattern with %, _ and \ escaped.
func likePattern(query string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(query)
	return "%" + escaped + "%"
}

// SearchTasks matches the query against task names and specs. The FTS path
// ranks by bm25 (negated so higher is better); the LIKE path is the exact
// substring fallback for queries the trigram tokenizer cannot serve, with a
// flat score of 1.
func (s *SQLiteStore) SearchTasks(ctx context.Context, query string, like bool, limit, offset int) ([]*storage.TaskHit, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var countSQL, pageSQL string
	var countArgs, pageArgs []interface{}

	if like {
		pattern := likePattern(query)
		countSQL = `
			SELECT COUNT(*) FROM tasks t
			WHERE t.name LIKE ?1 ESCAPE '\' OR COALESCE(t.spec, '') LIKE ?1 ESCAPE '\'
		`
		countArgs = []interface{}{pattern}
		pageSQL = `
			SELECT ` + taskCols + `, 1.0 AS score FROM tasks t
			WHERE t.name LIKE ?1 ESCAPE '\' OR COALESCE(t.spec, '') LIKE ?1 ESCAPE '\'
			ORDER BY t.id ASC
			LIMIT ?2 OFFSET ?3
		`
		pageArgs = []interface{}{pattern, limit, offset}
	} else {
		match := ftsQuote(query)
		countSQL = `SELECT COUNT(*) FROM tasks_fts WHERE tasks_fts MATCH ?`
		countArgs = []interface{}{match}
		pageSQL = `
			SELECT ` + taskCols + `, -bm25(tasks_fts) AS score
			FROM tasks_fts JOIN tasks t ON t.id = tasks_fts.rowid
			WHERE tasks_fts MATCH ?1
			ORDER BY score DESC, t.id ASC
			LIMIT ?2 OFFSET ?3
		`
		pageArgs = []interface{}{match, limit, offset}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count task matches: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*storage.TaskHit
	for rows.Next() {
		task, score, err := scanTaskWithScore(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan task hit: %w", err)
		}
		hits = append(hits, &storage.TaskHit{Task: task, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return hits, total, nil
}

// scanTaskWithScore scans a taskCols row followed by a trailing score
// column. scanTask cannot be reused because of the extra column.
func scanTaskWithScore(row rowScanner) (*types.Task, float64, error) {
	var task types.Task
	var score float64
	var spec, activeForm, metadata sql.NullString
	var priority, complexity, parentID sql.NullInt64
	var firstTodo, firstDoing, firstDone sql.NullTime

	err := row.Scan(
		&task.ID, &task.Name, &spec, &task.Status, &priority, &complexity,
		&parentID, &task.Owner, &activeForm, &metadata,
		&task.CreatedAt, &task.UpdatedAt, &firstTodo, &firstDoing, &firstDone,
		&score,
	)
	if err != nil {
		return nil, 0, err
	}

	if spec.Valid {
		task.Spec = &spec.String
	}
	if activeForm.Valid {
		task.ActiveForm = &activeForm.String
	}
	if metadata.Valid {
		task.Metadata = &metadata.String
	}
	if priority.Valid {
		p := int(priority.Int64)
		task.Priority = &p
	}
	if complexity.Valid {
		c := int(complexity.Int64)
		task.Complexity = &c
	}
	if parentID.Valid {
		task.ParentID = &parentID.Int64
	}
	if firstTodo.Valid {
		task.FirstTodoAt = &firstTodo.Time
	}
	if firstDoing.Valid {
		task.FirstDoingAt = &firstDoing.Time
	}
	if firstDone.Valid {
		task.FirstDoneAt = &firstDone.Time
	}
	return &task, score, nil
}

func (s *SQLiteStore) SearchEvents(ctx context.Context, query string, like bool, limit, offset int) ([]*storage.EventHit, int, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var countSQL, pageSQL string
	var countArgs, pageArgs []interface{}

	if like {
		pattern := likePattern(query)
		countSQL = `SELECT COUNT(*) FROM events e WHERE e.discussion_data LIKE ?1 ESCAPE '\'`
		countArgs = []interface{}{pattern}
		pageSQL = `
			SELECT ` + eventCols + `, 1.0 AS score FROM events e
			WHERE e.discussion_data LIKE ?1 ESCAPE '\'
			ORDER BY e.id ASC
			LIMIT ?2 OFFSET ?3
		`
		pageArgs = []interface{}{pattern, limit, offset}
	} else {
		match := ftsQuote(query)
		countSQL = `SELECT COUNT(*) FROM events_fts WHERE events_fts MATCH ?`
		countArgs = []interface{}{match}
		pageSQL = `
			SELECT ` + eventCols + `, -bm25(events_fts) AS score
			FROM events_fts JOIN events e ON e.id = events_fts.rowid
			WHERE events_fts MATCH ?1
			ORDER BY score DESC, e.id ASC
			LIMIT ?2 OFFSET ?3
		`
		pageArgs = []interface{}{match, limit, offset}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count event matches: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, pageSQL, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []*storage.EventHit
	for rows.Next() {
		hit := &storage.EventHit{Event: &types.Event{}}
		err := rows.Scan(
			&hit.Event.ID, &hit.Event.TaskID, &hit.Event.Timestamp,
			&hit.Event.LogType, &hit.Event.DiscussionData, &hit.Score,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan event hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return hits, total, nil
}

// TasksByStatuses serves the status-keyword query shape ("todo", "doing",
// "done", "active").
func (s *SQLiteStore) TasksByStatuses(ctx context.Context, statuses []types.TaskStatus, limit int) ([]*types.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	placeholders := strings.Repeat("?,", len(statuses)-1) + "?"
	args := make([]interface{}, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, status)
	}
	args = append(args, limit)

	// #nosec G201 - placeholders are generated, values are bound
	query := fmt.Sprintf(`
		SELECT `+taskCols+` FROM tasks t
		WHERE t.status IN (%s)
		ORDER BY COALESCE(t.priority, 999) ASC, t.id ASC
		LIMIT ?
	`, placeholders)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks by status: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}
