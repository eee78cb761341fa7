package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/untoldecay/intent-engine/internal/types"
)

func mustPlan(t *testing.T, svc *Services, planJSON, sessionID string) *types.PlanResult {
	t.Helper()
	var req types.PlanRequest
	if err := json.Unmarshal([]byte(planJSON), &req); err != nil {
		t.Fatalf("bad plan JSON: %v", err)
	}
	result, err := svc.Plans.Execute(context.Background(), &req, sessionID, nil)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	return result
}

func planErr(t *testing.T, svc *Services, planJSON, sessionID string) (*types.PlanResult, error) {
	t.Helper()
	var req types.PlanRequest
	if err := json.Unmarshal([]byte(planJSON), &req); err != nil {
		t.Fatalf("bad plan JSON: %v", err)
	}
	return svc.Plans.Execute(context.Background(), &req, sessionID, nil)
}

func TestPlanCreateThenStart(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	// Scenario: a single doing task with a spec is created and auto-focused.
	result := mustPlan(t, svc, `{"tasks":[{"name":"A","status":"doing","spec":"x"}]}`, "s1")

	if result.CreatedCount != 1 || result.UpdatedCount != 0 {
		t.Fatalf("unexpected counts: %+v", result)
	}
	if result.FocusedTask == nil || result.FocusedTask.Task.Name != "A" {
		t.Fatalf("expected focused task A, got %+v", result.FocusedTask)
	}
	task := result.FocusedTask.Task
	if task.Status != types.StatusDoing || task.FirstDoingAt == nil {
		t.Fatalf("auto-focus did not start the task: %+v", task)
	}

	state, err := svc.Workspace.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get focus failed: %v", err)
	}
	if state.CurrentTaskID == nil || *state.CurrentTaskID != task.ID {
		t.Fatalf("session focus not set: %+v", state)
	}
}

func TestPlanIdempotent(t *testing.T) {
	svc := newTestEnv(t)

	plan := `{"tasks":[
		{"name":"build","spec":"compile it","children":[
			{"name":"lex"},
			{"name":"parse","depends_on":["lex"]}
		]},
		{"name":"ship","priority":"high"}
	]}`

	first := mustPlan(t, svc, plan, "s1")
	if first.CreatedCount != 4 || first.UpdatedCount != 0 {
		t.Fatalf("unexpected first counts: %+v", first)
	}

	second := mustPlan(t, svc, plan, "s1")
	if second.CreatedCount != 0 {
		t.Fatalf("re-submission created tasks: %+v", second)
	}
	if second.UpdatedCount != first.CreatedCount+first.UpdatedCount {
		t.Fatalf("expected %d updates, got %d", first.CreatedCount, second.UpdatedCount)
	}
	for name, id := range first.TaskIDMap {
		if second.TaskIDMap[name] != id {
			t.Fatalf("task id map drifted for %q: %d != %d", name, id, second.TaskIDMap[name])
		}
	}
}

func TestPlanNestingAndDependencies(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	result := mustPlan(t, svc, `{"tasks":[
		{"name":"root","children":[
			{"name":"first"},
			{"name":"second","depends_on":["first"]}
		]}
	]}`, "s1")

	if result.DependencyCount != 1 {
		t.Fatalf("expected 1 dependency, got %d", result.DependencyCount)
	}

	second, err := svc.Tasks.Get(ctx, result.TaskIDMap["second"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if second.ParentID == nil || *second.ParentID != result.TaskIDMap["root"] {
		t.Fatalf("nesting not applied: %+v", second)
	}

	// The dependency is live: second cannot start before first is done.
	_, err = svc.Tasks.Start(ctx, second.ID, "s1")
	if !types.IsCode(err, types.CodeTaskBlocked) {
		t.Fatalf("expected TASK_BLOCKED, got %v", err)
	}
}

func TestPlanValidationFailuresWriteNothing(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		plan string
	}{
		{"duplicate names", `{"tasks":[{"name":"a"},{"name":"a"}]}`},
		{"unknown dependency", `{"tasks":[{"name":"a","depends_on":["ghost"]}]}`},
		{"self dependency", `{"tasks":[{"name":"a","depends_on":["a"]}]}`},
		{"dependency cycle", `{"tasks":[{"name":"a","depends_on":["b"]},{"name":"b","depends_on":["a"]}]}`},
		{"two doing", `{"tasks":[{"name":"a","status":"doing","spec":"x"},{"name":"b","status":"doing","spec":"y"}]}`},
		{"bad status", `{"tasks":[{"name":"a","status":"blocked"}]}`},
		{"doing without spec", `{"tasks":[{"name":"a","status":"doing"}]}`},
		{"empty plan", `{"tasks":[]}`},
	}

	for _, tc := range cases {
		result, err := planErr(t, svc, tc.plan, "s1")
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if result.Success || result.Error == "" {
			t.Fatalf("%s: expected structured failure, got %+v", tc.name, result)
		}
	}

	total, _, err := svc.Store.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("failed plans wrote %d tasks", total)
	}
}

func TestPlanParentCycleRejected(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	// Scenario: existing A with parent B; reparenting B under A must fail.
	b := mustAdd(t, svc, AddTaskInput{Name: "B"})
	a := mustAdd(t, svc, AddTaskInput{Name: "A", ParentID: &b.ID})

	plan := fmt.Sprintf(`{"tasks":[{"id":%d,"parent_id":%d}]}`, b.ID, a.ID)
	result, err := planErr(t, svc, plan, "s1")
	if err == nil {
		t.Fatal("expected cycle rejection")
	}
	if !strings.Contains(result.Error, "Circular") {
		t.Fatalf("expected error mentioning Circular, got %q", result.Error)
	}

	// Graph unchanged.
	got, err := svc.Tasks.Get(ctx, b.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ParentID != nil {
		t.Fatalf("rolled-back plan still moved task: %+v", got)
	}
}

func TestPlanFocusProtectionOnCascadeDelete(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	// Scenario: session s1 focuses a leaf; deleting the leaf's root fails,
	// names the session, and leaves the graph unchanged.
	root := mustAdd(t, svc, AddTaskInput{Name: "root"})
	mid := mustAdd(t, svc, AddTaskInput{Name: "mid", ParentID: &root.ID})
	leaf := mustAdd(t, svc, AddTaskInput{Name: "leaf", ParentID: &mid.ID, Spec: strptr("x")})
	if _, err := svc.Tasks.Start(ctx, leaf.ID, "s1"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	plan := fmt.Sprintf(`{"tasks":[{"id":%d,"delete":true}]}`, root.ID)
	result, err := planErr(t, svc, plan, "s2")
	if !types.IsCode(err, types.CodeActionNotAllowed) {
		t.Fatalf("expected ACTION_NOT_ALLOWED, got %v", err)
	}
	if !strings.Contains(result.Error, `"s1"`) || !strings.Contains(result.Error, fmt.Sprint(leaf.ID)) {
		t.Fatalf("error must name the session and the focused task: %q", result.Error)
	}

	total, _, err := svc.Store.CountTasks(ctx)
	if err != nil {
		t.Fatalf("CountTasks failed: %v", err)
	}
	if total != 3 {
		t.Fatalf("protected delete mutated the graph: %d tasks left", total)
	}
}

func TestPlanDeleteCascadeCountsAndWarns(t *testing.T) {
	svc := newTestEnv(t)

	root := mustAdd(t, svc, AddTaskInput{Name: "root"})
	child := mustAdd(t, svc, AddTaskInput{Name: "child", ParentID: &root.ID})
	mustAdd(t, svc, AddTaskInput{Name: "grandchild", ParentID: &child.ID})

	plan := fmt.Sprintf(`{"tasks":[{"id":%d,"delete":true}]}`, root.ID)
	result := mustPlan(t, svc, plan, "s1")

	if result.DeletedCount != 1 || result.CascadeDeletedCount != 2 {
		t.Fatalf("unexpected delete counts: %+v", result)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected a cascade warning, got %v", result.Warnings)
	}
}

func TestPlanUpsertRequiresSpecToStartExisting(t *testing.T) {
	svc := newTestEnv(t)

	mustAdd(t, svc, AddTaskInput{Name: "bare"})

	// No spec anywhere: starting through the plan is rejected.
	_, err := planErr(t, svc, `{"tasks":[{"name":"bare","status":"doing"}]}`, "s1")
	if !types.IsCode(err, types.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}

	// The plan may supply the spec in the same breath.
	result := mustPlan(t, svc, `{"tasks":[{"name":"bare","status":"doing","spec":"now documented"}]}`, "s1")
	if result.FocusedTask == nil || result.FocusedTask.Task.Status != types.StatusDoing {
		t.Fatalf("expected focused doing task, got %+v", result.FocusedTask)
	}
}

func TestPlanDoneStatusRunsLifecycle(t *testing.T) {
	svc := newTestEnv(t)

	parent := mustAdd(t, svc, AddTaskInput{Name: "parent"})
	mustAdd(t, svc, AddTaskInput{Name: "child", ParentID: &parent.ID})

	result, err := planErr(t, svc, `{"tasks":[{"name":"parent","status":"done"}]}`, "s1")
	if !types.IsCode(err, types.CodeUncompletedChildren) {
		t.Fatalf("expected UNCOMPLETED_CHILDREN, got %v", err)
	}
	// The planner names the offending task.
	if !strings.Contains(result.Error, `"parent"`) {
		t.Fatalf("expected error naming the task, got %q", result.Error)
	}
}

func TestPlanDefaultParentForNewRoots(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	focus := mustAdd(t, svc, AddTaskInput{Name: "focus", Spec: strptr("x")})
	existingRoot := mustAdd(t, svc, AddTaskInput{Name: "existing root"})

	var req types.PlanRequest
	plan := `{"tasks":[{"name":"new leaf"},{"name":"existing root"},{"name":"pinned root","parent_id":null}]}`
	if err := json.Unmarshal([]byte(plan), &req); err != nil {
		t.Fatalf("bad plan: %v", err)
	}
	result, err := svc.Plans.Execute(ctx, &req, "s1", &focus.ID)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}

	// Only the newly created, unpinned task inherits the default parent.
	leaf, err := svc.Tasks.Get(ctx, result.TaskIDMap["new leaf"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if leaf.ParentID == nil || *leaf.ParentID != focus.ID {
		t.Fatalf("default parent not applied: %+v", leaf)
	}

	existing, err := svc.Tasks.Get(ctx, existingRoot.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if existing.ParentID != nil {
		t.Fatalf("existing task must not inherit the default parent: %+v", existing)
	}

	pinned, err := svc.Tasks.Get(ctx, result.TaskIDMap["pinned root"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if pinned.ParentID != nil {
		t.Fatalf("explicit null parent overridden: %+v", pinned)
	}
}

func TestPlanMetadataMerge(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	mustPlan(t, svc, `{"tasks":[{"name":"a","metadata":{"branch":"main"}}]}`, "s1")
	result := mustPlan(t, svc, `{"tasks":[{"name":"a","metadata":{"pr":"9","branch":null}}]}`, "s1")

	task, err := svc.Tasks.Get(ctx, result.TaskIDMap["a"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if task.Metadata == nil || *task.Metadata != `{"pr":"9"}` {
		t.Fatalf("unexpected metadata: %v", task.Metadata)
	}
}

func TestPlanPriorityStringOrInt(t *testing.T) {
	svc := newTestEnv(t)
	ctx := context.Background()

	result := mustPlan(t, svc, `{"tasks":[{"name":"a","priority":"critical"},{"name":"b","priority":4}]}`, "s1")

	a, err := svc.Tasks.Get(ctx, result.TaskIDMap["a"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if a.Priority == nil || *a.Priority != types.PriorityCritical {
		t.Fatalf("expected critical, got %+v", a.Priority)
	}
	b, err := svc.Tasks.Get(ctx, result.TaskIDMap["b"])
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if b.Priority == nil || *b.Priority != types.PriorityLow {
		t.Fatalf("expected low, got %+v", b.Priority)
	}

	var req types.PlanRequest
	if err := json.Unmarshal([]byte(`{"tasks":[{"name":"c","priority":"urgent"}]}`), &req); err == nil {
		t.Fatal("expected unmarshal rejection for unknown priority name")
	}
}
