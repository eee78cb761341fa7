package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/untoldecay/intent-engine/internal/types"
)

func TestAddGetRoundTrip(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	task := mustAdd(t, svc, AddTaskInput{
		Name:     "wire the parser",
		Spec:     strptr("grammar first"),
		Priority: intptr(types.PriorityHigh),
		Owner:    "human",
	})

	got, err := svc.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != task.Name || *got.Spec != "grammar first" || *got.Priority != types.PriorityHigh || got.Owner != "human" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Status != types.StatusTodo {
		t.Fatalf("expected default todo status, got %s", got.Status)
	}
	if got.FirstTodoAt == nil {
		t.Fatal("expected first_todo_at stamped on add")
	}
}

func TestAddRejectsUnknownParent(t *testing.T) {
	svc := newTestEnv(t)
	missing := int64(999)
	_, err := svc.Tasks.Add(context.Background(), AddTaskInput{Name: "orphan", ParentID: &missing})
	if !types.IsCode(err, types.CodeTaskNotFound) {
		t.Fatalf("expected TASK_NOT_FOUND, got %v", err)
	}
}

func TestUpdateOnlyTouchesGivenFields(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	task := mustAdd(t, svc, AddTaskInput{Name: "original", Spec: strptr("keep me")})

	updated, err := svc.Tasks.Update(ctx, task.ID, UpdateTaskInput{Name: strptr("renamed")})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Name != "renamed" {
		t.Fatalf("expected rename, got %q", updated.Name)
	}
	if updated.Spec == nil || *updated.Spec != "keep me" {
		t.Fatalf("unspecified field changed: %+v", updated.Spec)
	}
}

func TestUpdateStampsFirstTransitionOnce(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	task := mustAdd(t, svc, AddTaskInput{Name: "a"})

	doing, err := svc.Tasks.Update(ctx, task.ID, UpdateTaskInput{Status: strptr("doing")})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if doing.FirstDoingAt == nil {
		t.Fatal("expected first_doing_at stamped")
	}
	firstDoing := *doing.FirstDoingAt

	// Leave and re-enter doing; the historical stamp survives.
	if _, err := svc.Tasks.Update(ctx, task.ID, UpdateTaskInput{Status: strptr("todo")}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	again, err := svc.Tasks.Update(ctx, task.ID, UpdateTaskInput{Status: strptr("doing")})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if !again.FirstDoingAt.Equal(firstDoing) {
		t.Fatalf("first_doing_at overwritten: %v != %v", again.FirstDoingAt, firstDoing)
	}
}

func TestUpdateRejectsBadStatus(t *testing.T) {
	svc := newTestEnv(t)
	task := mustAdd(t, svc, AddTaskInput{Name: "a"})
	_, err := svc.Tasks.Update(context.Background(), task.ID, UpdateTaskInput{Status: strptr("paused")})
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestUpdateParentCycleRejected(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	a := mustAdd(t, svc, AddTaskInput{Name: "a"})
	b := mustAdd(t, svc, AddTaskInput{Name: "b", ParentID: &a.ID})

	// Reparenting a under its own descendant closes a cycle.
	raw, _ := json.Marshal(b.ID)
	_, err := svc.Tasks.Update(ctx, a.ID, UpdateTaskInput{ParentID: raw})
	if !types.IsCode(err, types.CodeCircularDependency) {
		t.Fatalf("expected CIRCULAR_DEPENDENCY, got %v", err)
	}

	// Self-parenting is rejected outright.
	raw, _ = json.Marshal(a.ID)
	_, err = svc.Tasks.Update(ctx, a.ID, UpdateTaskInput{ParentID: raw})
	if !types.IsCode(err, types.CodeCircularDependency) {
		t.Fatalf("expected CIRCULAR_DEPENDENCY, got %v", err)
	}

	// Moving to root via null is fine.
	_, err = svc.Tasks.Update(ctx, b.ID, UpdateTaskInput{ParentID: json.RawMessage("null")})
	if err != nil {
		t.Fatalf("move to root failed: %v", err)
	}
}

func TestMetadataMergeOnUpdate(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	task := mustAdd(t, svc, AddTaskInput{Name: "a", Metadata: json.RawMessage(`{"branch":"main"}`)})

	updated, err := svc.Tasks.Update(ctx, task.ID, UpdateTaskInput{
		Metadata: json.RawMessage(`{"pr":"7"}`),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Metadata == nil || *updated.Metadata != `{"branch":"main","pr":"7"}` {
		t.Fatalf("unexpected metadata: %v", updated.Metadata)
	}

	updated, err = svc.Tasks.Update(ctx, task.ID, UpdateTaskInput{Metadata: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Metadata != nil {
		t.Fatalf("expected metadata unset, got %v", *updated.Metadata)
	}
}

func TestDeleteRefusesChildrenAndFocus(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	parent := mustAdd(t, svc, AddTaskInput{Name: "parent"})
	child := mustAdd(t, svc, AddTaskInput{Name: "child", ParentID: &parent.ID})

	if err := svc.Tasks.Delete(ctx, parent.ID); !types.IsCode(err, types.CodeActionNotAllowed) {
		t.Fatalf("expected ACTION_NOT_ALLOWED for parent with children, got %v", err)
	}

	if err := svc.Workspace.Set(ctx, child.ID, "s1"); err != nil {
		t.Fatalf("Set focus failed: %v", err)
	}
	if err := svc.Tasks.Delete(ctx, child.ID); !types.IsCode(err, types.CodeActionNotAllowed) {
		t.Fatalf("expected focus protection, got %v", err)
	}

	if err := svc.Workspace.Clear(ctx, "s1"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if err := svc.Tasks.Delete(ctx, child.ID); err != nil {
		t.Fatalf("Delete after clearing focus failed: %v", err)
	}
}

func TestStartSetsStatusAndFocusAtomically(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	task := mustAdd(t, svc, AddTaskInput{Name: "a", Spec: strptr("x")})

	started, err := svc.Tasks.Start(ctx, task.ID, "s1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if started.Status != types.StatusDoing || started.FirstDoingAt == nil {
		t.Fatalf("unexpected started task: %+v", started)
	}

	state, err := svc.Workspace.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get focus failed: %v", err)
	}
	if state.CurrentTaskID == nil || *state.CurrentTaskID != task.ID {
		t.Fatalf("focus not set: %+v", state)
	}
}

func TestStartBlockedByIncompleteDependency(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	// Scenario: dependency B -> A added, B todo; start(A) fails naming B.
	a := mustAdd(t, svc, AddTaskInput{Name: "A"})
	b := mustAdd(t, svc, AddTaskInput{Name: "B"})
	if _, err := svc.Dependencies.Add(ctx, b.ID, a.ID); err != nil {
		t.Fatalf("Add dependency failed: %v", err)
	}

	_, err := svc.Tasks.Start(ctx, a.ID, "s1")
	if !types.IsCode(err, types.CodeTaskBlocked) {
		t.Fatalf("expected TASK_BLOCKED, got %v", err)
	}
	typed := types.AsError(err)
	if typed.TaskID != a.ID || len(typed.BlockingTaskIDs) != 1 || typed.BlockingTaskIDs[0] != b.ID {
		t.Fatalf("unexpected blocked error context: %+v", typed)
	}

	// The failed start must not have moved the focus.
	state, err := svc.Workspace.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get focus failed: %v", err)
	}
	if state.CurrentTaskID != nil {
		t.Fatalf("focus leaked from failed start: %+v", state)
	}

	// Complete B, retry: A starts.
	if _, err := svc.Tasks.Done(ctx, &b.ID, "s1"); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	started, err := svc.Tasks.Start(ctx, a.ID, "s1")
	if err != nil {
		t.Fatalf("Start after unblocking failed: %v", err)
	}
	if started.Status != types.StatusDoing {
		t.Fatalf("expected doing, got %s", started.Status)
	}
}

func TestDoneRequiresChildrenComplete(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	parent := mustAdd(t, svc, AddTaskInput{Name: "parent"})
	child := mustAdd(t, svc, AddTaskInput{Name: "child", ParentID: &parent.ID})

	_, err := svc.Tasks.Done(ctx, &parent.ID, "s1")
	if !types.IsCode(err, types.CodeUncompletedChildren) {
		t.Fatalf("expected UNCOMPLETED_CHILDREN, got %v", err)
	}
	typed := types.AsError(err)
	if len(typed.IncompleteChildIDs) != 1 || typed.IncompleteChildIDs[0] != child.ID {
		t.Fatalf("unexpected error context: %+v", typed)
	}
}

func TestUpdateToDoneRequiresChildrenComplete(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	parent := mustAdd(t, svc, AddTaskInput{Name: "parent"})
	child := mustAdd(t, svc, AddTaskInput{Name: "child", ParentID: &parent.ID})

	// Entering done through a partial update obeys the same invariant
	// as Done.
	_, err := svc.Tasks.Update(ctx, parent.ID, UpdateTaskInput{Status: strptr("done")})
	if !types.IsCode(err, types.CodeUncompletedChildren) {
		t.Fatalf("expected UNCOMPLETED_CHILDREN, got %v", err)
	}
	got, err := svc.Tasks.Get(ctx, parent.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != types.StatusTodo || got.FirstDoneAt != nil {
		t.Fatalf("rejected update must not change the task: %+v", got)
	}

	if _, err := svc.Tasks.Update(ctx, child.ID, UpdateTaskInput{Status: strptr("done")}); err != nil {
		t.Fatalf("completing the child failed: %v", err)
	}
	updated, err := svc.Tasks.Update(ctx, parent.ID, UpdateTaskInput{Status: strptr("done")})
	if err != nil {
		t.Fatalf("Update failed once children are done: %v", err)
	}
	if updated.Status != types.StatusDone || updated.FirstDoneAt == nil {
		t.Fatalf("unexpected parent after update: %+v", updated)
	}
}

func TestDoneSiblingSuggestions(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	// Scenario: parent P with children C1, C2; completing C1 while focused
	// suggests the remaining sibling, completing C2 reports the parent ready.
	p := mustAdd(t, svc, AddTaskInput{Name: "P"})
	c1 := mustAdd(t, svc, AddTaskInput{Name: "C1", ParentID: &p.ID, Spec: strptr("x")})
	c2 := mustAdd(t, svc, AddTaskInput{Name: "C2", ParentID: &p.ID})

	if _, err := svc.Tasks.Start(ctx, c1.ID, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := svc.Tasks.Done(ctx, &c1.ID, "s1")
	if err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if result.NextStep.Kind != types.NextSiblingTasksRemain {
		t.Fatalf("expected sibling_tasks_remain, got %s", result.NextStep.Kind)
	}
	if result.NextStep.Remaining != 1 || *result.NextStep.ParentID != p.ID {
		t.Fatalf("unexpected next step: %+v", result.NextStep)
	}

	state, err := svc.Workspace.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get focus failed: %v", err)
	}
	if state.CurrentTaskID != nil {
		t.Fatal("expected focus cleared after completing the focused task")
	}

	result, err = svc.Tasks.Done(ctx, &c2.ID, "s1")
	if err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if result.NextStep.Kind != types.NextParentIsReady || *result.NextStep.ParentID != p.ID {
		t.Fatalf("expected parent_is_ready, got %+v", result.NextStep)
	}
}

func TestDoneWithoutIDUsesFocus(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	task := mustAdd(t, svc, AddTaskInput{Name: "a", Spec: strptr("x")})
	if _, err := svc.Tasks.Start(ctx, task.ID, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	result, err := svc.Tasks.Done(ctx, nil, "s1")
	if err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if result.Task.ID != task.ID || result.Task.Status != types.StatusDone {
		t.Fatalf("unexpected completed task: %+v", result.Task)
	}
	if result.NextStep.Kind != types.NextWorkspaceIsClear {
		t.Fatalf("expected workspace_is_clear, got %s", result.NextStep.Kind)
	}

	// Without focus, id-less done is a caller error.
	_, err = svc.Tasks.Done(ctx, nil, "s1")
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestDoneKeepsOtherSessionsFocus(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	task := mustAdd(t, svc, AddTaskInput{Name: "a", Spec: strptr("x")})
	other := mustAdd(t, svc, AddTaskInput{Name: "b", Spec: strptr("y")})

	if _, err := svc.Tasks.Start(ctx, task.ID, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := svc.Workspace.Set(ctx, other.ID, "s2"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// s1 completes a task that s2 is not focused on: s2 untouched.
	if _, err := svc.Tasks.Done(ctx, &task.ID, "s1"); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	state, err := svc.Workspace.Get(ctx, "s2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.CurrentTaskID == nil || *state.CurrentTaskID != other.ID {
		t.Fatalf("s2 focus disturbed: %+v", state)
	}
}

func TestPickNextOrdering(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	// Empty project.
	result, err := svc.Tasks.PickNext(ctx, "s1")
	if err != nil {
		t.Fatalf("PickNext failed: %v", err)
	}
	if result.Reason != types.PickNoTasksInProject {
		t.Fatalf("expected NO_TASKS_IN_PROJECT, got %+v", result)
	}

	focus := mustAdd(t, svc, AddTaskInput{Name: "focus", Spec: strptr("x")})
	childTodo := mustAdd(t, svc, AddTaskInput{Name: "child todo", ParentID: &focus.ID})
	childDoing := mustAdd(t, svc, AddTaskInput{Name: "child doing", ParentID: &focus.ID, Status: "doing"})
	topTodo := mustAdd(t, svc, AddTaskInput{Name: "top todo"})

	if _, err := svc.Tasks.Start(ctx, focus.ID, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// (1) doing child of focus wins.
	result, err = svc.Tasks.PickNext(ctx, "s1")
	if err != nil {
		t.Fatalf("PickNext failed: %v", err)
	}
	if result.Task == nil || result.Task.ID != childDoing.ID {
		t.Fatalf("expected doing child, got %+v", result)
	}

	// (2) todo child after the doing child completes.
	if _, err := svc.Tasks.Done(ctx, &childDoing.ID, "s2"); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	result, err = svc.Tasks.PickNext(ctx, "s1")
	if err != nil {
		t.Fatalf("PickNext failed: %v", err)
	}
	if result.Task == nil || result.Task.ID != childTodo.ID {
		t.Fatalf("expected todo child, got %+v", result)
	}

	// (4) top-level todo once the children are done.
	if _, err := svc.Tasks.Done(ctx, &childTodo.ID, "s2"); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	result, err = svc.Tasks.PickNext(ctx, "s1")
	if err != nil {
		t.Fatalf("PickNext failed: %v", err)
	}
	if result.Task == nil || result.Task.ID != topTodo.ID {
		t.Fatalf("expected top-level todo, got %+v", result)
	}

	// Everything done → ALL_TASKS_COMPLETED.
	if _, err := svc.Tasks.Done(ctx, &focus.ID, "s1"); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	if _, err := svc.Tasks.Done(ctx, &topTodo.ID, "s1"); err != nil {
		t.Fatalf("Done failed: %v", err)
	}
	result, err = svc.Tasks.PickNext(ctx, "s1")
	if err != nil {
		t.Fatalf("PickNext failed: %v", err)
	}
	if result.Reason != types.PickAllCompleted {
		t.Fatalf("expected ALL_TASKS_COMPLETED, got %+v", result)
	}
}

func TestSpawnSubtask(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	parent := mustAdd(t, svc, AddTaskInput{Name: "parent", Spec: strptr("x")})
	if _, err := svc.Tasks.Start(ctx, parent.ID, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sub, err := svc.Tasks.SpawnSubtask(ctx, parent.ID, AddTaskInput{Name: "sub", Spec: strptr("y")}, "s1")
	if err != nil {
		t.Fatalf("SpawnSubtask failed: %v", err)
	}
	if sub.ParentID == nil || *sub.ParentID != parent.ID || sub.Status != types.StatusDoing {
		t.Fatalf("unexpected subtask: %+v", sub)
	}

	state, err := svc.Workspace.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.CurrentTaskID == nil || *state.CurrentTaskID != sub.ID {
		t.Fatalf("focus did not move to subtask: %+v", state)
	}

	// A spec is required to start the subtask.
	_, err = svc.Tasks.SpawnSubtask(ctx, parent.ID, AddTaskInput{Name: "no spec"}, "s1")
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestEventLifecycle(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	task := mustAdd(t, svc, AddTaskInput{Name: "a"})

	event, err := svc.Events.Add(ctx, task.ID, types.LogDecision, "went with sqlite")
	if err != nil {
		t.Fatalf("Add event failed: %v", err)
	}

	events, err := svc.Events.List(ctx, types.EventFilter{TaskID: &task.ID})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != event.ID {
		t.Fatalf("unexpected events: %+v", events)
	}

	updated, err := svc.Events.Update(ctx, event.ID, strptr(types.LogNote), nil)
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.LogType != types.LogNote || updated.DiscussionData != "went with sqlite" {
		t.Fatalf("unexpected updated event: %+v", updated)
	}
	if !updated.Timestamp.Equal(event.Timestamp) {
		t.Fatal("update must preserve the timestamp")
	}

	if err := svc.Events.Delete(ctx, event.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := svc.Events.Add(ctx, 999, types.LogNote, "x"); !types.IsCode(err, types.CodeTaskNotFound) {
		t.Fatalf("expected TASK_NOT_FOUND, got %v", err)
	}
}

func TestWorkspaceGetMissingSessionReturnsNulls(t *testing.T) {
	svc := newTestEnv(t)

	state, err := svc.Workspace.Get(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if state.SessionID != "ghost" || state.CurrentTaskID != nil || state.Task != nil {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestDependencyAddRejectsCycle(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	a := mustAdd(t, svc, AddTaskInput{Name: "a"})
	b := mustAdd(t, svc, AddTaskInput{Name: "b"})
	c := mustAdd(t, svc, AddTaskInput{Name: "c"})

	if _, err := svc.Dependencies.Add(ctx, a.ID, b.ID); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := svc.Dependencies.Add(ctx, b.ID, c.ID); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	// c -> a would close the loop a -> b -> c -> a.
	_, err := svc.Dependencies.Add(ctx, c.ID, a.ID)
	if !types.IsCode(err, types.CodeCircularDependency) {
		t.Fatalf("expected CIRCULAR_DEPENDENCY, got %v", err)
	}

	// Self-dependency is invalid input, not a cycle.
	if _, err := svc.Dependencies.Add(ctx, a.ID, a.ID); !types.IsCode(err, types.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
