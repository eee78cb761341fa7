package service

import (
	"context"
	"fmt"
	"time"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// PlanExecutor applies a declarative batch of task mutations atomically:
// validate, resolve by name, delete, upsert, rewire parents, apply
// dependencies, auto-focus. All validation runs before any write; any
// failure during execution rolls back the whole plan.
type PlanExecutor struct {
	store  storage.Store
	tasks  *TaskService
	events *EventService
}

func NewPlanExecutor(store storage.Store, tasks *TaskService, events *EventService) *PlanExecutor {
	return &PlanExecutor{store: store, tasks: tasks, events: events}
}

// flatNode is one plan node with its nesting context preserved.
type flatNode struct {
	node *types.PlanNode
	// parentName is the enclosing node's name, "" at plan root.
	parentName string
	// status is the parsed lifecycle target, "" when unspecified.
	status types.TaskStatus
	// resolvedID is filled during execution.
	resolvedID int64
	// created marks nodes that did not exist before this run.
	created bool
}

// Execute runs the plan for the session. defaultParent, when set, becomes
// the parent of newly created root-level tasks with no explicit override
// (typically the caller's current focus).
func (p *PlanExecutor) Execute(ctx context.Context, req *types.PlanRequest, sessionID string, defaultParent *int64) (*types.PlanResult, error) {
	sessionID = resolveSession(sessionID)

	flat, deletes, err := p.validate(req)
	if err != nil {
		return &types.PlanResult{Success: false, Error: err.Error()}, err
	}

	result := &types.PlanResult{TaskIDMap: map[string]int64{}}
	var focusID *int64

	err = p.store.RunInTransaction(ctx, func(tx storage.Tx) error {
		if err := p.executeDeletes(ctx, tx, deletes, result); err != nil {
			return err
		}
		if err := p.executeUpserts(ctx, tx, flat, sessionID, result); err != nil {
			return err
		}
		if err := p.rewireParents(ctx, tx, flat, defaultParent); err != nil {
			return err
		}
		if err := p.applyDependencies(ctx, tx, flat, result); err != nil {
			return err
		}

		// Auto-focus: the single doing task of the batch goes through the
		// full start transition (blockers, first_doing_at, session focus).
		for _, fn := range flat {
			if fn.status != types.StatusDoing {
				continue
			}
			if _, err := startInTx(ctx, tx, fn.resolvedID, sessionID); err != nil {
				return rewriteLifecycleError(err, nodeLabel(fn))
			}
			id := fn.resolvedID
			focusID = &id
			break
		}
		return nil
	})
	if err != nil {
		return &types.PlanResult{Success: false, Error: err.Error()}, err
	}

	if focusID != nil {
		focused, err := p.tasks.GetWithEvents(ctx, *focusID)
		if err != nil {
			return &types.PlanResult{Success: false, Error: err.Error()}, err
		}
		result.FocusedTask = focused
	}
	result.Success = true
	return result, nil
}

// validate is the pure pre-flight pipeline: flatten, name checks,
// dependency graph checks, single-doing rule. No store access.
func (p *PlanExecutor) validate(req *types.PlanRequest) ([]*flatNode, []*flatNode, error) {
	if req == nil || len(req.Tasks) == 0 {
		return nil, nil, types.NewInvalidInput("plan contains no tasks")
	}

	var flat, deletes []*flatNode
	var walk func(nodes []types.PlanNode, parentName string) error
	walk = func(nodes []types.PlanNode, parentName string) error {
		for i := range nodes {
			node := &nodes[i]
			fn := &flatNode{node: node, parentName: parentName}

			if node.Delete {
				if node.ID == nil {
					return types.NewInvalidInput("delete entries require an id (task %q)", node.Name)
				}
				if len(node.Children) > 0 {
					return types.NewInvalidInput("delete entry for task %d cannot carry children", *node.ID)
				}
				deletes = append(deletes, fn)
				continue
			}

			if node.Name == "" && node.ID == nil {
				return types.NewInvalidInput("every plan task needs a name (or an id for updates)")
			}
			if node.Status != nil {
				status, err := types.ParseStatus(*node.Status)
				if err != nil {
					return err
				}
				fn.status = status
			}
			flat = append(flat, fn)
			if len(node.Children) > 0 {
				if node.Name == "" {
					return types.NewInvalidInput("task %d needs a name to nest children under", *node.ID)
				}
				if err := walk(node.Children, node.Name); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walk(req.Tasks, ""); err != nil {
		return nil, nil, err
	}

	names := map[string]bool{}
	for _, fn := range flat {
		if fn.node.Name == "" {
			continue
		}
		if names[fn.node.Name] {
			return nil, nil, types.NewInvalidInput("duplicate task name %q in plan", fn.node.Name)
		}
		names[fn.node.Name] = true
	}

	for _, fn := range flat {
		for _, dep := range fn.node.DependsOn {
			if dep == fn.node.Name {
				return nil, nil, types.NewInvalidInput("task %q cannot depend on itself", fn.node.Name)
			}
			if !names[dep] {
				return nil, nil, types.NewInvalidInput("task %q depends on %q, which is not in the plan", fn.node.Name, dep)
			}
		}
	}
	if cycle := findDependencyCycle(flat); len(cycle) > 0 {
		return nil, nil, types.NewInvalidInput("Circular dependency between plan tasks: %v", cycle)
	}

	doing := 0
	for _, fn := range flat {
		if fn.status == types.StatusDoing {
			doing++
		}
	}
	if doing > 1 {
		return nil, nil, types.NewInvalidInput("at most one task per plan may have status \"doing\", got %d", doing)
	}

	return flat, deletes, nil
}

// findDependencyCycle runs Tarjan's SCC over the name-level dependency
// graph. Any component with more than one member is a cycle; self-loops
// are rejected earlier.
func findDependencyCycle(flat []*flatNode) []string {
	deps := map[string][]string{}
	for _, fn := range flat {
		if fn.node.Name != "" {
			deps[fn.node.Name] = fn.node.DependsOn
		}
	}

	index := 0
	indices := map[string]int{}
	lowlink := map[string]int{}
	onStack := map[string]bool{}
	var stack []string
	var cycle []string

	var strongconnect func(name string)
	strongconnect = func(name string) {
		indices[name] = index
		lowlink[name] = index
		index++
		stack = append(stack, name)
		onStack[name] = true

		for _, dep := range deps[name] {
			if _, seen := indices[dep]; !seen {
				strongconnect(dep)
				if lowlink[dep] < lowlink[name] {
					lowlink[name] = lowlink[dep]
				}
			} else if onStack[dep] {
				if indices[dep] < lowlink[name] {
					lowlink[name] = indices[dep]
				}
			}
		}

		if lowlink[name] == indices[name] {
			var component []string
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[top] = false
				component = append(component, top)
				if top == name {
					break
				}
			}
			if len(component) > 1 && cycle == nil {
				cycle = component
			}
		}
	}

	for name := range deps {
		if _, seen := indices[name]; !seen {
			strongconnect(name)
		}
	}
	return cycle
}

// executeDeletes cascades each delete entry, with focus protection across
// the whole sub-tree.
func (p *PlanExecutor) executeDeletes(ctx context.Context, tx storage.Tx, deletes []*flatNode, result *types.PlanResult) error {
	for _, fn := range deletes {
		id := *fn.node.ID
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
		removed, err := tx.DeleteTaskCascade(ctx, id)
		if err != nil {
			return err
		}
		result.DeletedCount++
		result.CascadeDeletedCount += removed
		if removed > 0 {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("deleting task %d also removed %d descendant task(s)", id, removed))
		}
	}
	return nil
}

// executeUpserts resolves existing tasks by name in one round-trip, then
// updates or creates each node. A doing status is never applied here; the
// auto-focus start owns that transition.
func (p *PlanExecutor) executeUpserts(ctx context.Context, tx storage.Tx, flat []*flatNode, sessionID string, result *types.PlanResult) error {
	names := make([]string, 0, len(flat))
	for _, fn := range flat {
		if fn.node.Name != "" {
			names = append(names, fn.node.Name)
		}
	}
	existing, err := tx.GetTasksByName(ctx, names)
	if err != nil {
		return err
	}

	for _, fn := range flat {
		var task *types.Task
		if fn.node.ID != nil {
			// Update-by-id form; the name, if given, renames.
			task, err = tx.GetTask(ctx, *fn.node.ID)
			if err != nil {
				return err
			}
		} else {
			task = existing[fn.node.Name]
		}

		if task != nil {
			if err := p.updateExisting(ctx, tx, fn, task, sessionID); err != nil {
				return err
			}
			result.UpdatedCount++
		} else {
			if err := p.createNew(ctx, tx, fn); err != nil {
				return err
			}
			result.CreatedCount++
		}

		if fn.node.Name != "" {
			result.TaskIDMap[fn.node.Name] = fn.resolvedID
		}
	}
	return nil
}

func (p *PlanExecutor) updateExisting(ctx context.Context, tx storage.Tx, fn *flatNode, task *types.Task, sessionID string) error {
	fn.resolvedID = task.ID
	node := fn.node

	updates := map[string]interface{}{}
	if node.Name != "" && node.Name != task.Name {
		updates["name"] = node.Name
	}
	if node.Spec != nil {
		updates["spec"] = *node.Spec
	}
	if node.Priority != nil {
		updates["priority"] = int(*node.Priority)
	}
	if node.Owner != nil {
		updates["owner"] = *node.Owner
	}
	if node.ActiveForm != nil {
		updates["active_form"] = *node.ActiveForm
	}
	if len(node.Metadata) > 0 {
		merged, err := mergeMetadata(task.Metadata, node.Metadata)
		if err != nil {
			return err
		}
		updates["metadata"] = merged
	}

	switch fn.status {
	case types.StatusDoing:
		// Starting requires a spec somewhere: the plan node or the row.
		if task.Status != types.StatusDoing && !planHasSpec(node) && !task.HasSpec() {
			return types.NewInvalidInput("a spec is required to start task %q", nodeLabel(fn))
		}
		// Applied later by the auto-focus start.
	case types.StatusDone:
		if _, err := completeInTx(ctx, tx, task.ID, sessionID); err != nil {
			return rewriteLifecycleError(err, nodeLabel(fn))
		}
	case types.StatusTodo:
		if task.Status != types.StatusTodo {
			updates["status"] = types.StatusTodo
			stampFirstTransition(task, types.StatusTodo, time.Now(), updates)
		}
	}

	if len(updates) == 0 {
		return nil
	}
	return tx.UpdateTask(ctx, task.ID, updates)
}

func (p *PlanExecutor) createNew(ctx context.Context, tx storage.Tx, fn *flatNode) error {
	node := fn.node
	if fn.status == types.StatusDoing && !planHasSpec(node) {
		return types.NewInvalidInput("a spec is required to start task %q", node.Name)
	}

	id, err := tx.NextID(ctx, storage.EntityTask)
	if err != nil {
		return err
	}

	status := types.StatusTodo
	if fn.status == types.StatusDone {
		status = types.StatusDone
	}
	// A doing node is created as todo; the auto-focus start transitions it.

	owner := "ai"
	if node.Owner != nil && *node.Owner != "" {
		owner = *node.Owner
	}
	var priority *int
	if node.Priority != nil {
		v := int(*node.Priority)
		priority = &v
	}
	var metadata *string
	if len(node.Metadata) > 0 {
		merged, err := mergeMetadata(nil, node.Metadata)
		if err != nil {
			return err
		}
		if str, ok := merged.(string); ok {
			metadata = &str
		}
	}

	now := time.Now()
	task := &types.Task{
		ID:          id,
		Name:        node.Name,
		Spec:        node.Spec,
		Status:      status,
		Priority:    priority,
		Owner:       owner,
		ActiveForm:  node.ActiveForm,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
		FirstTodoAt: &now,
	}
	if status == types.StatusDone {
		task.FirstDoneAt = &now
	}

	if err := tx.CreateTask(ctx, task); err != nil {
		return err
	}
	fn.resolvedID = id
	fn.created = true
	return nil
}

// rewireParents applies parentage in precedence order: nesting beats the
// explicit parent_id field, which beats the default parent (new root-level
// tasks only).
func (p *PlanExecutor) rewireParents(ctx context.Context, tx storage.Tx, flat []*flatNode, defaultParent *int64) error {
	byName := map[string]int64{}
	for _, fn := range flat {
		if fn.node.Name != "" {
			byName[fn.node.Name] = fn.resolvedID
		}
	}

	// Pass 1: nesting.
	for _, fn := range flat {
		if fn.parentName == "" {
			continue
		}
		parentID := byName[fn.parentName]
		if err := setParentInTx(ctx, tx, fn.resolvedID, &parentID); err != nil {
			return err
		}
	}

	// Pass 2: explicit parent_id override; JSON null moves to root.
	for _, fn := range flat {
		if fn.parentName != "" || len(fn.node.ParentID) == 0 {
			continue
		}
		parentID, err := decodeParentID(fn.node.ParentID)
		if err != nil {
			return err
		}
		if err := setParentInTx(ctx, tx, fn.resolvedID, parentID); err != nil {
			return err
		}
	}

	// Pass 3: default parent for newly created root-level tasks.
	if defaultParent != nil {
		if _, err := tx.GetTask(ctx, *defaultParent); err != nil {
			return err
		}
		for _, fn := range flat {
			if !fn.created || fn.parentName != "" || len(fn.node.ParentID) > 0 {
				continue
			}
			if err := setParentInTx(ctx, tx, fn.resolvedID, defaultParent); err != nil {
				return err
			}
		}
	}
	return nil
}

// setParentInTx is a cycle-checked reparent; a no-op when the parent is
// already set to the target.
func setParentInTx(ctx context.Context, tx storage.Tx, taskID int64, parentID *int64) error {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if sameParent(task.ParentID, parentID) {
		return nil
	}
	if err := checkParentCycle(ctx, tx, taskID, parentID); err != nil {
		return err
	}
	return tx.UpdateTask(ctx, taskID, map[string]interface{}{"parent_id": nullableID(parentID)})
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// applyDependencies inserts the depends_on edges inside the plan
// transaction, after rewiring and before auto-focus, re-running cycle
// detection against the post-apply graph.
func (p *PlanExecutor) applyDependencies(ctx context.Context, tx storage.Tx, flat []*flatNode, result *types.PlanResult) error {
	byName := map[string]int64{}
	for _, fn := range flat {
		if fn.node.Name != "" {
			byName[fn.node.Name] = fn.resolvedID
		}
	}

	for _, fn := range flat {
		for _, dep := range fn.node.DependsOn {
			blockingID := byName[dep]
			if _, err := addDependencyInTx(ctx, tx, blockingID, fn.resolvedID); err != nil {
				return err
			}
			result.DependencyCount++
		}
	}
	return nil
}

func planHasSpec(node *types.PlanNode) bool {
	return node.Spec != nil && *node.Spec != ""
}

func nodeLabel(fn *flatNode) string {
	if fn.node.Name != "" {
		return fn.node.Name
	}
	return fmt.Sprintf("#%d", fn.resolvedID)
}

// rewriteLifecycleError adds the offending task's name to blocked-start and
// uncompleted-children errors so batch callers can tell which node failed.
func rewriteLifecycleError(err error, name string) error {
	e := types.AsError(err)
	switch e.Code {
	case types.CodeTaskBlocked, types.CodeUncompletedChildren:
		rewritten := *e
		rewritten.Message = fmt.Sprintf("task %q: %s", name, e.Message)
		return &rewritten
	default:
		return err
	}
}
