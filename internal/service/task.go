package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// TaskService owns task CRUD, hierarchy queries, and the status lifecycle.
type TaskService struct {
	store storage.Store
}

func NewTaskService(store storage.Store) *TaskService {
	return &TaskService{store: store}
}

// AddTaskInput carries the fields accepted on task creation.
type AddTaskInput struct {
	Name       string
	Spec       *string
	Status     string
	Priority   *int
	Complexity *int
	ParentID   *int64
	Owner      string
	ActiveForm *string
	Metadata   json.RawMessage
}

// Add creates a task. first_todo_at is always stamped; entering doing or
// done directly stamps those too.
func (s *TaskService) Add(ctx context.Context, in AddTaskInput) (*types.Task, error) {
	if in.Name == "" {
		return nil, types.NewInvalidInput("task name is required")
	}

	status := types.StatusTodo
	if in.Status != "" {
		parsed, err := types.ParseStatus(in.Status)
		if err != nil {
			return nil, err
		}
		status = parsed
	}

	owner := in.Owner
	if owner == "" {
		owner = "ai"
	}

	var metadata *string
	if len(in.Metadata) > 0 {
		merged, err := mergeMetadata(nil, in.Metadata)
		if err != nil {
			return nil, err
		}
		if str, ok := merged.(string); ok {
			metadata = &str
		}
	}

	var created *types.Task
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if in.ParentID != nil {
			if _, err := tx.GetTask(ctx, *in.ParentID); err != nil {
				return err
			}
		}

		id, err := tx.NextID(ctx, storage.EntityTask)
		if err != nil {
			return err
		}

		now := time.Now()
		task := &types.Task{
			ID:          id,
			Name:        in.Name,
			Spec:        in.Spec,
			Status:      status,
			Priority:    in.Priority,
			Complexity:  in.Complexity,
			ParentID:    in.ParentID,
			Owner:       owner,
			ActiveForm:  in.ActiveForm,
			Metadata:    metadata,
			CreatedAt:   now,
			UpdatedAt:   now,
			FirstTodoAt: &now,
		}
		switch status {
		case types.StatusDoing:
			task.FirstDoingAt = &now
		case types.StatusDone:
			task.FirstDoneAt = &now
		}

		if err := tx.CreateTask(ctx, task); err != nil {
			return err
		}
		created = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *TaskService) Get(ctx context.Context, id int64) (*types.Task, error) {
	return s.store.GetTask(ctx, id)
}

// GetWithEvents returns the task plus its events summary (count + recent 10).
func (s *TaskService) GetWithEvents(ctx context.Context, id int64) (*types.TaskWithEvents, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.EventsSummary(ctx, id, 10)
	if err != nil {
		return nil, err
	}
	return &types.TaskWithEvents{
		Task:       task,
		Events:     summary.Recent,
		EventCount: summary.TotalCount,
	}, nil
}

// Ancestry returns the ancestor chain, immediate parent first.
func (s *TaskService) Ancestry(ctx context.Context, id int64) ([]*types.Task, error) {
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListAncestry(ctx, id)
}

func (s *TaskService) Children(ctx context.Context, id int64) ([]*types.Task, error) {
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListChildren(ctx, id)
}

// Siblings returns tasks sharing the parent, excluding the task itself.
// Root tasks have no siblings.
func (s *TaskService) Siblings(ctx context.Context, id int64) ([]*types.Task, error) {
	task, err := s.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task.ParentID == nil {
		return nil, nil
	}
	children, err := s.store.ListChildren(ctx, *task.ParentID)
	if err != nil {
		return nil, err
	}
	siblings := children[:0]
	for _, child := range children {
		if child.ID != id {
			siblings = append(siblings, child)
		}
	}
	return siblings, nil
}

func (s *TaskService) Descendants(ctx context.Context, id int64) ([]*types.Task, error) {
	if _, err := s.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListDescendants(ctx, id)
}

func (s *TaskService) Find(ctx context.Context, filter types.TaskFilter) (*types.TaskPage, error) {
	return s.store.FindTasks(ctx, filter)
}

// UpdateTaskInput is a partial update. Pointer fields mean "no change" when
// nil. ParentID and Metadata are raw so absent, null, and value stay
// distinct: a null ParentID moves the task to the root, a metadata patch is
// merged key-wise.
type UpdateTaskInput struct {
	Name       *string
	Spec       *string
	Status     *string
	Priority   *int
	Complexity *int
	ParentID   json.RawMessage
	Owner      *string
	ActiveForm *string
	Metadata   json.RawMessage
}

// Update applies a partial update inside one transaction. Status changes
// stamp first_X_at only on first entry; parent changes are cycle-checked.
func (s *TaskService) Update(ctx context.Context, id int64, in UpdateTaskInput) (*types.Task, error) {
	var updated *types.Task
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		task, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{}

		if in.Name != nil {
			if *in.Name == "" {
				return types.NewInvalidInput("task name cannot be empty")
			}
			updates["name"] = *in.Name
		}
		if in.Spec != nil {
			updates["spec"] = *in.Spec
		}
		if in.Priority != nil {
			updates["priority"] = *in.Priority
		}
		if in.Complexity != nil {
			updates["complexity"] = *in.Complexity
		}
		if in.Owner != nil {
			if *in.Owner == "" {
				return types.NewInvalidInput("task owner cannot be empty")
			}
			updates["owner"] = *in.Owner
		}
		if in.ActiveForm != nil {
			updates["active_form"] = *in.ActiveForm
		}

		if in.Status != nil {
			status, err := types.ParseStatus(*in.Status)
			if err != nil {
				return err
			}
			if status != task.Status {
				// Entering done via update obeys the same children
				// invariant as Done.
				if status == types.StatusDone {
					if err := checkChildrenDone(ctx, tx, id); err != nil {
						return err
					}
				}
				updates["status"] = status
				stampFirstTransition(task, status, time.Now(), updates)
			}
		}

		if len(in.ParentID) > 0 {
			newParent, err := decodeParentID(in.ParentID)
			if err != nil {
				return err
			}
			if err := checkParentCycle(ctx, tx, id, newParent); err != nil {
				return err
			}
			updates["parent_id"] = nullableID(newParent)
		}

		if len(in.Metadata) > 0 {
			merged, err := mergeMetadata(task.Metadata, in.Metadata)
			if err != nil {
				return err
			}
			updates["metadata"] = merged
		}

		if len(updates) == 0 {
			updated = task
			return nil
		}
		if err := tx.UpdateTask(ctx, id, updates); err != nil {
			return err
		}
		updated, err = tx.GetTask(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// stampFirstTransition records first_X_at for a status entered for the
// first time. Historical stamps are never overwritten.
func stampFirstTransition(task *types.Task, status types.TaskStatus, now time.Time, updates map[string]interface{}) {
	switch status {
	case types.StatusTodo:
		if task.FirstTodoAt == nil {
			updates["first_todo_at"] = now
		}
	case types.StatusDoing:
		if task.FirstDoingAt == nil {
			updates["first_doing_at"] = now
		}
	case types.StatusDone:
		if task.FirstDoneAt == nil {
			updates["first_done_at"] = now
		}
	}
}

// decodeParentID interprets the raw parent_id field: JSON null means "move
// to root", a number is the new parent.
func decodeParentID(raw json.RawMessage) (*int64, error) {
	if string(raw) == "null" {
		return nil, nil
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, types.NewInvalidInput("parent_id must be a task id or null, got %s", string(raw))
	}
	return &id, nil
}

func nullableID(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

// checkParentCycle verifies the new parent exists and that taskID is not on
// its ancestor chain.
func checkParentCycle(ctx context.Context, tx storage.Tx, taskID int64, newParent *int64) error {
	if newParent == nil {
		return nil
	}
	if *newParent == taskID {
		return types.NewParentCycle(taskID, *newParent)
	}
	if _, err := tx.GetTask(ctx, *newParent); err != nil {
		return err
	}
	ancestors, err := tx.ListAncestry(ctx, *newParent)
	if err != nil {
		return err
	}
	for _, ancestor := range ancestors {
		if ancestor.ID == taskID {
			return types.NewParentCycle(taskID, *newParent)
		}
	}
	return nil
}

// Delete removes a single childless task, refusing when the task is any
// session's focus.
func (s *TaskService) Delete(ctx context.Context, id int64) error {
	return s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetTask(ctx, id); err != nil {
			return err
		}
		children, err := tx.ListChildren(ctx, id)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return types.NewActionNotAllowed(
				"task %d has %d children; delete the sub-tree with cascade delete", id, len(children))
		}
		if err := checkFocusProtection(ctx, tx, []int64{id}); err != nil {
			return err
		}
		return tx.DeleteTask(ctx, id)
	})
}

// DeleteCascade removes the task and its whole sub-tree, refusing when any
// task in the sub-tree is a session's focus. Returns the descendant count.
func (s *TaskService) DeleteCascade(ctx context.Context, id int64) (int, error) {
	var removed int
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetTask(ctx, id); err != nil {
			return err
		}
		descendants, err := tx.ListDescendants(ctx, id)
		if err != nil {
			return err
		}
		protected := make([]int64, 0, len(descendants)+1)
		protected = append(protected, id)
		for _, d := range descendants {
			protected = append(protected, d.ID)
		}
		if err := checkFocusProtection(ctx, tx, protected); err != nil {
			return err
		}
		removed, err = tx.DeleteTaskCascade(ctx, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// checkFocusProtection refuses the operation when any of the tasks is some
// session's current focus. The error names the holding session.
func checkFocusProtection(ctx context.Context, tx storage.Tx, taskIDs []int64) error {
	sessions, err := tx.SessionsFocusedOn(ctx, taskIDs)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return nil
	}
	holder := sessions[0]
	return types.NewActionNotAllowed(
		"task %d is the current focus of session %q; switch or clear that session's focus first",
		*holder.CurrentTaskID, holder.SessionID)
}

// Start transitions a task to doing and focuses the session on it. The task
// row and the session row change atomically or not at all.
func (s *TaskService) Start(ctx context.Context, id int64, sessionID string) (*types.Task, error) {
	sessionID = resolveSession(sessionID)
	var started *types.Task
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		var err error
		started, err = startInTx(ctx, tx, id, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return started, nil
}

// startInTx is the start transition shared with the plan executor's
// auto-focus step.
func startInTx(ctx context.Context, tx storage.Tx, id int64, sessionID string) (*types.Task, error) {
	task, err := tx.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	blockers, err := tx.IncompleteBlockers(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(blockers) > 0 {
		return nil, types.NewTaskBlocked(id, blockers)
	}

	updates := map[string]interface{}{}
	if task.Status != types.StatusDoing {
		updates["status"] = types.StatusDoing
		stampFirstTransition(task, types.StatusDoing, time.Now(), updates)
	}
	if len(updates) > 0 {
		if err := tx.UpdateTask(ctx, id, updates); err != nil {
			return nil, err
		}
	}
	if err := tx.SetFocus(ctx, sessionID, &id); err != nil {
		return nil, err
	}
	return tx.GetTask(ctx, id)
}

// DoneResult is the outcome of completing a task.
type DoneResult struct {
	Task     *types.Task     `json:"task"`
	NextStep *types.NextStep `json:"next_step"`
}

// Done completes a task (or the session's focus when id is nil): requires
// all direct children done, stamps first_done_at on first entry, clears the
// session focus iff it pointed at the task, and returns a structured
// next-step hint.
func (s *TaskService) Done(ctx context.Context, id *int64, sessionID string) (*DoneResult, error) {
	sessionID = resolveSession(sessionID)

	var completed *types.Task
	err := s.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		taskID, err := resolveDoneTarget(ctx, tx, id, sessionID)
		if err != nil {
			return err
		}
		completed, err = completeInTx(ctx, tx, taskID, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}

	next, err := s.nextStepAfterDone(ctx, completed)
	if err != nil {
		return nil, err
	}
	return &DoneResult{Task: completed, NextStep: next}, nil
}

func resolveDoneTarget(ctx context.Context, tx storage.Tx, id *int64, sessionID string) (int64, error) {
	if id != nil {
		return *id, nil
	}
	session, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	if session == nil || session.CurrentTaskID == nil {
		return 0, types.NewInvalidInput("no task id given and session %q has no current focus", sessionID)
	}
	return *session.CurrentTaskID, nil
}

// completeInTx is the done transition shared with the plan executor.
func completeInTx(ctx context.Context, tx storage.Tx, id int64, sessionID string) (*types.Task, error) {
	task, err := tx.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := checkChildrenDone(ctx, tx, id); err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if task.Status != types.StatusDone {
		updates["status"] = types.StatusDone
		stampFirstTransition(task, types.StatusDone, time.Now(), updates)
	}
	if len(updates) > 0 {
		if err := tx.UpdateTask(ctx, id, updates); err != nil {
			return nil, err
		}
	}

	session, err := tx.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session != nil && session.CurrentTaskID != nil && *session.CurrentTaskID == id {
		if err := tx.SetFocus(ctx, sessionID, nil); err != nil {
			return nil, err
		}
	}
	return tx.GetTask(ctx, id)
}

// checkChildrenDone rejects completion while any direct child is incomplete.
func checkChildrenDone(ctx context.Context, tx storage.Tx, id int64) error {
	children, err := tx.ListChildren(ctx, id)
	if err != nil {
		return err
	}
	var incomplete []int64
	for _, child := range children {
		if child.Status.IsIncomplete() {
			incomplete = append(incomplete, child.ID)
		}
	}
	if len(incomplete) > 0 {
		return types.NewUncompletedChildren(id, incomplete)
	}
	return nil
}

// nextStepAfterDone classifies what to do after completing a task.
func (s *TaskService) nextStepAfterDone(ctx context.Context, task *types.Task) (*types.NextStep, error) {
	if task.ParentID != nil {
		siblings, err := s.store.ListChildren(ctx, *task.ParentID)
		if err != nil {
			return nil, err
		}
		remaining := 0
		for _, sibling := range siblings {
			if sibling.ID != task.ID && sibling.Status.IsIncomplete() {
				remaining++
			}
		}
		if remaining == 0 {
			return &types.NextStep{Kind: types.NextParentIsReady, ParentID: task.ParentID}, nil
		}
		return &types.NextStep{
			Kind:      types.NextSiblingTasksRemain,
			ParentID:  task.ParentID,
			Remaining: remaining,
		}, nil
	}

	children, err := s.store.ListChildren(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if len(children) > 0 {
		return &types.NextStep{Kind: types.NextTopLevelTaskCompleted}, nil
	}

	_, incomplete, err := s.store.CountTasks(ctx)
	if err != nil {
		return nil, err
	}
	if incomplete > 0 {
		return &types.NextStep{Kind: types.NextNoParentContext}, nil
	}
	return &types.NextStep{Kind: types.NextWorkspaceIsClear}, nil
}

// PickNext recommends what to work on: a doing child of the focus, then a
// todo child, then a top-level doing task other than the focus, then any
// top-level todo. Ties break by priority then id. When nothing fits, a
// reason code explains why.
func (s *TaskService) PickNext(ctx context.Context, sessionID string) (*types.PickNextResult, error) {
	sessionID = resolveSession(sessionID)

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var focusID int64
	if session != nil && session.CurrentTaskID != nil {
		focusID = *session.CurrentTaskID
		for _, status := range []types.TaskStatus{types.StatusDoing, types.StatusTodo} {
			task, err := s.store.PickChild(ctx, focusID, status)
			if err != nil {
				return nil, err
			}
			if task != nil {
				return &types.PickNextResult{Task: task}, nil
			}
		}
	}

	for _, status := range []types.TaskStatus{types.StatusDoing, types.StatusTodo} {
		task, err := s.store.PickTopLevel(ctx, status, focusID)
		if err != nil {
			return nil, err
		}
		if task != nil {
			return &types.PickNextResult{Task: task}, nil
		}
	}

	total, incomplete, err := s.store.CountTasks(ctx)
	if err != nil {
		return nil, err
	}
	switch {
	case total == 0:
		return &types.PickNextResult{Reason: types.PickNoTasksInProject}, nil
	case incomplete == 0:
		return &types.PickNextResult{Reason: types.PickAllCompleted}, nil
	default:
		return &types.PickNextResult{Reason: types.PickNoAvailableTodos}, nil
	}
}

// SpawnSubtask creates a child under the given parent and immediately
// starts it, moving the session focus down the tree.
func (s *TaskService) SpawnSubtask(ctx context.Context, parentID int64, in AddTaskInput, sessionID string) (*types.Task, error) {
	in.ParentID = &parentID
	if in.Spec == nil || *in.Spec == "" {
		return nil, types.NewInvalidInput("a spec is required to start task %q", in.Name)
	}
	created, err := s.Add(ctx, in)
	if err != nil {
		return nil, err
	}
	started, err := s.Start(ctx, created.ID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("subtask %d created but could not be started: %w", created.ID, err)
	}
	return started, nil
}
