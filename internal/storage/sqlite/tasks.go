package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/untoldecay/intent-engine/internal/types"
)

// taskCols selects every task column; all task queries alias tasks as t.
const taskCols = `t.id, t.name, t.spec, t.status, t.priority, t.complexity,
	t.parent_id, t.owner, t.active_form, t.metadata,
	t.created_at, t.updated_at, t.first_todo_at, t.first_doing_at, t.first_done_at`

// ancestryDepthCap bounds recursive hierarchy traversals.
const ancestryDepthCap = 100

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*types.Task, error) {
	var task types.Task
	var spec, activeForm, metadata sql.NullString
	var priority, complexity, parentID sql.NullInt64
	var firstTodo, firstDoing, firstDone sql.NullTime

	err := row.Scan(
		&task.ID, &task.Name, &spec, &task.Status, &priority, &complexity,
		&parentID, &task.Owner, &activeForm, &metadata,
		&task.CreatedAt, &task.UpdatedAt, &firstTodo, &firstDoing, &firstDone,
	)
	if err != nil {
		return nil, err
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
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*types.Task, error) {
	var tasks []*types.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// createTask inserts a task whose ID has already been allocated.
func createTask(ctx context.Context, q dbtx, task *types.Task) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO tasks (
			id, name, spec, status, priority, complexity, parent_id,
			owner, active_form, metadata,
			created_at, updated_at, first_todo_at, first_doing_at, first_done_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID, task.Name, task.Spec, task.Status, task.Priority, task.Complexity,
		task.ParentID, task.Owner, task.ActiveForm, task.Metadata,
		task.CreatedAt, task.UpdatedAt, task.FirstTodoAt, task.FirstDoingAt, task.FirstDoneAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task %q: %w", task.Name, err)
	}
	return nil
}

func getTask(ctx context.Context, q dbtx, id int64) (*types.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskCols+` FROM tasks t WHERE t.id = ?`, id)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, types.NewTaskNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %d: %w", id, err)
	}
	return task, nil
}

// getTasksByName resolves tasks by name in one round-trip. When several
// tasks share a name the lowest id wins (deterministic batch identity).
func getTasksByName(ctx context.Context, q dbtx, names []string) (map[string]*types.Task, error) {
	result := make(map[string]*types.Task, len(names))
	if len(names) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(names)-1) + "?"
	args := make([]interface{}, len(names))
	for i, name := range names {
		args[i] = name
	}

	// #nosec G201 - placeholders are generated, values are bound
	query := fmt.Sprintf(`SELECT `+taskCols+` FROM tasks t WHERE t.name IN (%s) ORDER BY t.id`, placeholders)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tasks by name: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		if _, seen := result[task.Name]; !seen {
			result[task.Name] = task
		}
	}
	return result, nil
}

// taskUpdateColumns is the whitelist of columns updateTask will touch.
var taskUpdateColumns = map[string]bool{
	"name":           true,
	"spec":           true,
	"status":         true,
	"priority":       true,
	"complexity":     true,
	"parent_id":      true,
	"owner":          true,
	"active_form":    true,
	"metadata":       true,
	"first_todo_at":  true,
	"first_doing_at": true,
	"first_done_at":  true,
}

// updateTask applies a partial update. updated_at is always advanced.
func updateTask(ctx context.Context, q dbtx, id int64, updates map[string]interface{}) error {
	setClauses := make([]string, 0, len(updates)+1)
	args := make([]interface{}, 0, len(updates)+2)

	for column, value := range updates {
		if !taskUpdateColumns[column] {
			return types.NewInvalidInput("unknown task field %q", column)
		}
		setClauses = append(setClauses, column+" = ?")
		args = append(args, value)
	}
	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now(), id)

	// #nosec G201 - column names are whitelisted above
	query := fmt.Sprintf(`UPDATE tasks SET %s WHERE id = ?`, strings.Join(setClauses, ", "))
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewTaskNotFound(id)
	}
	return nil
}

// deleteTask removes a single row. Callers are responsible for ensuring
// the task is childless; the parent_id FK would otherwise cascade.
func deleteTask(ctx context.Context, q dbtx, id int64) error {
	res, err := q.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return types.NewTaskNotFound(id)
	}
	return nil
}

// deleteTaskCascade counts descendants, then deletes the root; the
// parent_id and task_id foreign keys cascade through the sub-tree and its
// events. Returns the descendant count (excluding the root).
func deleteTaskCascade(ctx context.Context, q dbtx, id int64) (int, error) {
	var descendants int
	err := q.QueryRowContext(ctx, `
		WITH RECURSIVE sub(id, depth) AS (
			SELECT id, 1 FROM tasks WHERE parent_id = ?1
			UNION ALL
			SELECT t.id, s.depth + 1 FROM tasks t
			JOIN sub s ON t.parent_id = s.id
			WHERE s.depth < ?2
		)
		SELECT COUNT(*) FROM sub
	`, id, ancestryDepthCap).Scan(&descendants)
	if err != nil {
		return 0, fmt.Errorf("failed to count descendants of task %d: %w", id, err)
	}

	if err := deleteTask(ctx, q, id); err != nil {
		return 0, err
	}
	return descendants, nil
}

func listChildren(ctx context.Context, q dbtx, parentID int64) ([]*types.Task, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+taskCols+` FROM tasks t
		WHERE t.parent_id = ?
		ORDER BY COALESCE(t.priority, 999) ASC, t.id ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list children of task %d: %w", parentID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

func listDescendants(ctx context.Context, q dbtx, id int64) ([]*types.Task, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE sub(id, depth) AS (
			SELECT id, 1 FROM tasks WHERE parent_id = ?1
			UNION ALL
			SELECT t.id, s.depth + 1 FROM tasks t
			JOIN sub s ON t.parent_id = s.id
			WHERE s.depth < ?2
		)
		SELECT `+taskCols+` FROM tasks t
		JOIN sub s ON t.id = s.id
		ORDER BY t.id
	`, id, ancestryDepthCap)
	if err != nil {
		return nil, fmt.Errorf("failed to list descendants of task %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

func listAncestry(ctx context.Context, q dbtx, id int64) ([]*types.Task, error) {
	rows, err := q.QueryContext(ctx, `
		WITH RECURSIVE ancestors(id, depth) AS (
			SELECT parent_id, 1 FROM tasks WHERE id = ?1 AND parent_id IS NOT NULL
			UNION ALL
			SELECT t.parent_id, a.depth + 1 FROM tasks t
			JOIN ancestors a ON t.id = a.id
			WHERE t.parent_id IS NOT NULL AND a.depth < ?2
		)
		SELECT `+taskCols+` FROM ancestors a
		JOIN tasks t ON t.id = a.id
		ORDER BY a.depth
	`, id, ancestryDepthCap)
	if err != nil {
		return nil, fmt.Errorf("failed to list ancestry of task %d: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	return scanTasks(rows)
}

// Store-level task methods

func (s *SQLiteStore) CreateTask(ctx context.Context, task *types.Task) error {
	return createTask(ctx, s.db, task)
}

func (s *SQLiteStore) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	return getTask(ctx, s.db, id)
}

func (s *SQLiteStore) GetTasksByName(ctx context.Context, names []string) (map[string]*types.Task, error) {
	return getTasksByName(ctx, s.db, names)
}

func (s *SQLiteStore) UpdateTask(ctx context.Context, id int64, updates map[string]interface{}) error {
	return updateTask(ctx, s.db, id, updates)
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id int64) error {
	return deleteTask(ctx, s.db, id)
}

func (s *SQLiteStore) DeleteTaskCascade(ctx context.Context, id int64) (int, error) {
	return deleteTaskCascade(ctx, s.db, id)
}

func (s *SQLiteStore) ListChildren(ctx context.Context, parentID int64) ([]*types.Task, error) {
	return listChildren(ctx, s.db, parentID)
}

func (s *SQLiteStore) ListDescendants(ctx context.Context, id int64) ([]*types.Task, error) {
	return listDescendants(ctx, s.db, id)
}

func (s *SQLiteStore) ListAncestry(ctx context.Context, id int64) ([]*types.Task, error) {
	return listAncestry(ctx, s.db, id)
}

// Tx-level task methods

func (t *sqliteTx) CreateTask(ctx context.Context, task *types.Task) error {
	return createTask(ctx, t.tx, task)
}

func (t *sqliteTx) GetTask(ctx context.Context, id int64) (*types.Task, error) {
	return getTask(ctx, t.tx, id)
}

func (t *sqliteTx) GetTasksByName(ctx context.Context, names []string) (map[string]*types.Task, error) {
	return getTasksByName(ctx, t.tx, names)
}

func (t *sqliteTx) UpdateTask(ctx context.Context, id int64, updates map[string]interface{}) error {
	return updateTask(ctx, t.tx, id, updates)
}

func (t *sqliteTx) DeleteTask(ctx context.Context, id int64) error {
	return deleteTask(ctx, t.tx, id)
}

func (t *sqliteTx) DeleteTaskCascade(ctx context.Context, id int64) (int, error) {
	return deleteTaskCascade(ctx, t.tx, id)
}

func (t *sqliteTx) ListChildren(ctx context.Context, parentID int64) ([]*types.Task, error) {
	return listChildren(ctx, t.tx, parentID)
}

func (t *sqliteTx) ListDescendants(ctx context.Context, id int64) ([]*types.Task, error) {
	return listDescendants(ctx, t.tx, id)
}

func (t *sqliteTx) ListAncestry(ctx context.Context, id int64) ([]*types.Task, error) {
	return listAncestry(ctx, t.tx, id)
}

// FindTasks filters and paginates tasks. total_count reflects the filter,
// not the page.
func (s *SQLiteStore) FindTasks(ctx context.Context, filter types.TaskFilter) (*types.TaskPage, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.Status != nil {
		where = append(where, "t.status = ?")
		args = append(args, *filter.Status)
	}
	if filter.RootsOnly {
		where = append(where, "t.parent_id IS NULL")
	} else if filter.ParentID != nil {
		where = append(where, "t.parent_id = ?")
		args = append(args, *filter.ParentID)
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	// #nosec G201 - whereSQL is assembled from fixed fragments
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM tasks t WHERE %s`, whereSQL)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}

	var orderSQL string
	switch filter.Sort {
	case types.SortByPriority:
		orderSQL = "COALESCE(t.priority, 999) ASC, t.id ASC"
	case types.SortByTime:
		orderSQL = "t.updated_at DESC, t.id DESC"
	case types.SortFocusAware:
		orderSQL = `CASE t.status WHEN 'doing' THEN 0 WHEN 'todo' THEN 1 ELSE 2 END ASC,
			COALESCE(t.priority, 999) ASC, t.id ASC`
	default:
		orderSQL = "t.id ASC"
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	// #nosec G201 - whereSQL and orderSQL are assembled from fixed fragments
	query := fmt.Sprintf(`
		SELECT `+taskCols+` FROM tasks t
		WHERE %s
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, whereSQL, orderSQL)
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, fmt.Errorf("failed to find tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}

	return &types.TaskPage{
		Tasks:      tasks,
		TotalCount: total,
		HasMore:    offset+len(tasks) < total,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// GetTasks batch-fetches tasks by id.
func (s *SQLiteStore) GetTasks(ctx context.Context, ids []int64) (map[int64]*types.Task, error) {
	result := make(map[int64]*types.Task, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	// #nosec G201 - placeholders are generated, values are bound
	query := fmt.Sprintf(`SELECT `+taskCols+` FROM tasks t WHERE t.id IN (%s)`, placeholders)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch get tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tasks, err := scanTasks(rows)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		result[task.ID] = task
	}
	return result, nil
}

// AncestryBatch resolves the chain root → ... → task for each id in one
// recursive query.
func (s *SQLiteStore) AncestryBatch(ctx context.Context, ids []int64) (map[int64][]types.AncestryEntry, error) {
	result := make(map[int64][]types.AncestryEntry, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]interface{}, 0, len(ids)+1)
	for _, id := range ids {
		args = append(args, id)
	}
	args = append(args, ancestryDepthCap)

	// #nosec G201 - placeholders are generated, values are bound
	query := fmt.Sprintf(`
		WITH RECURSIVE chains(start_id, id, depth) AS (
			SELECT id, id, 0 FROM tasks WHERE id IN (%s)
			UNION ALL
			SELECT c.start_id, t.parent_id, c.depth + 1
			FROM tasks t JOIN chains c ON t.id = c.id
			WHERE t.parent_id IS NOT NULL AND c.depth < ?
		)
		SELECT c.start_id, t.id, t.name
		FROM chains c JOIN tasks t ON t.id = c.id
		ORDER BY c.start_id, c.depth DESC
	`, placeholders)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch resolve ancestry: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var startID int64
		var entry types.AncestryEntry
		if err := rows.Scan(&startID, &entry.ID, &entry.Name); err != nil {
			return nil, fmt.Errorf("failed to scan ancestry row: %w", err)
		}
		result[startID] = append(result[startID], entry)
	}
	return result, rows.Err()
}

// CountTasks returns (total, incomplete) counts.
func (s *SQLiteStore) CountTasks(ctx context.Context) (int, int, error) {
	var total, incomplete int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status IN ('todo', 'doing') THEN 1 ELSE 0 END), 0)
		FROM tasks
	`).Scan(&total, &incomplete)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return total, incomplete, nil
}

// PickChild returns the best-ranked child with the given status, or nil.
func (s *SQLiteStore) PickChild(ctx context.Context, parentID int64, status types.TaskStatus) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskCols+` FROM tasks t
		WHERE t.parent_id = ? AND t.status = ?
		ORDER BY COALESCE(t.priority, 999) ASC, t.id ASC
		LIMIT 1
	`, parentID, status)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick child of task %d: %w", parentID, err)
	}
	return task, nil
}

// PickTopLevel returns the best-ranked root task with the given status,
// excluding excludeID, or nil.
func (s *SQLiteStore) PickTopLevel(ctx context.Context, status types.TaskStatus, excludeID int64) (*types.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskCols+` FROM tasks t
		WHERE t.parent_id IS NULL AND t.status = ? AND t.id != ?
		ORDER BY COALESCE(t.priority, 999) ASC, t.id ASC
		LIMIT 1
	`, status, excludeID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pick top-level task: %w", err)
	}
	return task, nil
}
