package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/untoldecay/intent-engine/internal/service"
	"github.com/untoldecay/intent-engine/internal/timeutil"
	"github.com/untoldecay/intent-engine/internal/types"
)

// toolArgs keeps raw argument values so that absent, null, and wrong-typed
// arguments produce distinct error messages.
type toolArgs map[string]json.RawMessage

func (a toolArgs) isNull(name string) bool {
	raw, ok := a[name]
	return ok && string(raw) == "null"
}

// requiredString enforces present, non-null, string-typed, non-empty.
func (a toolArgs) requiredString(name string) (string, error) {
	raw, ok := a[name]
	if !ok {
		return "", types.NewInvalidInput("missing required argument %q", name)
	}
	if string(raw) == "null" {
		return "", types.NewInvalidInput("argument %q must not be null", name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", types.NewInvalidInput("argument %q must be a string, got %s", name, raw)
	}
	if s == "" {
		return "", types.NewInvalidInput("argument %q must not be empty", name)
	}
	return s, nil
}

func (a toolArgs) requiredInt64(name string) (int64, error) {
	raw, ok := a[name]
	if !ok {
		return 0, types.NewInvalidInput("missing required argument %q", name)
	}
	if string(raw) == "null" {
		return 0, types.NewInvalidInput("argument %q must not be null", name)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, types.NewInvalidInput("argument %q must be an integer, got %s", name, raw)
	}
	return n, nil
}

// optionalString returns nil when the argument is absent or null.
func (a toolArgs) optionalString(name string) (*string, error) {
	raw, ok := a[name]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, types.NewInvalidInput("argument %q must be a string, got %s", name, raw)
	}
	return &s, nil
}

func (a toolArgs) optionalInt64(name string) (*int64, error) {
	raw, ok := a[name]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, types.NewInvalidInput("argument %q must be an integer, got %s", name, raw)
	}
	return &n, nil
}

func (a toolArgs) optionalInt(name string, fallback int) (int, error) {
	n, err := a.optionalInt64(name)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return fallback, nil
	}
	return int(*n), nil
}

func (a toolArgs) optionalBool(name string, fallback bool) (bool, error) {
	raw, ok := a[name]
	if !ok || string(raw) == "null" {
		return fallback, nil
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, types.NewInvalidInput("argument %q must be a boolean, got %s", name, raw)
	}
	return b, nil
}

// optionalPriority accepts either the numeric or the named form.
func (a toolArgs) optionalPriority(name string) (*int, error) {
	raw, ok := a[name]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var pv types.PriorityValue
	if err := json.Unmarshal(raw, &pv); err != nil {
		return nil, err
	}
	n := int(pv)
	return &n, nil
}

func (s *Server) handleToolCall(ctx context.Context, params json.RawMessage) (interface{}, *RPCError) {
	var call CallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "invalid tools/call params"}
	}
	if call.Name == "" {
		return nil, &RPCError{Code: CodeInvalidRequest, Message: "tools/call requires a tool name"}
	}

	result, err := s.callTool(ctx, call.Name, toolArgs(call.Arguments))
	if err != nil {
		return nil, &RPCError{
			Code:    CodeServerError,
			Message: err.Error(),
			Data:    map[string]string{"code": string(types.CodeOf(err))},
		}
	}
	if s.analyzer != nil && isMutatingTool(call.Name) {
		if s.analyzer.MaybeAnalyze(ctx) {
			s.logger.Printf("background analysis started after %s", call.Name)
		}
	}
	return textResult(result)
}

func isMutatingTool(name string) bool {
	switch name {
	case ToolTaskAdd, ToolTaskAddDependency, ToolTaskStart, ToolTaskSwitch,
		ToolTaskSpawnSubtask, ToolTaskDone, ToolTaskUpdate, ToolTaskDelete, ToolEventAdd:
		return true
	}
	return false
}

func (s *Server) callTool(ctx context.Context, name string, args toolArgs) (interface{}, error) {
	switch name {
	case ToolTaskAdd:
		return s.taskAdd(ctx, args)
	case ToolTaskAddDependency:
		return s.taskAddDependency(ctx, args)
	case ToolTaskStart, ToolTaskSwitch:
		return s.taskStart(ctx, args)
	case ToolTaskPickNext:
		return s.services.Tasks.PickNext(ctx, s.sessionID)
	case ToolTaskSpawnSubtask:
		return s.taskSpawnSubtask(ctx, args)
	case ToolTaskDone:
		return s.taskDone(ctx, args)
	case ToolTaskUpdate:
		return s.taskUpdate(ctx, args)
	case ToolTaskList:
		return s.taskList(ctx, args)
	case ToolTaskGet:
		return s.taskGet(ctx, args)
	case ToolTaskContext:
		return s.taskContext(ctx, args)
	case ToolTaskDelete:
		return s.taskDelete(ctx, args)
	case ToolEventAdd:
		return s.eventAdd(ctx, args)
	case ToolEventList:
		return s.eventList(ctx, args)
	case ToolSearch:
		return s.search(ctx, args)
	case ToolCurrentTaskGet:
		return s.services.Workspace.Get(ctx, s.sessionID)
	case ToolReportGenerate:
		return s.reportGenerate(ctx, args)
	default:
		return nil, types.NewInvalidInput("unknown tool %q", name)
	}
}

func (s *Server) taskAdd(ctx context.Context, args toolArgs) (interface{}, error) {
	name, err := args.requiredString("name")
	if err != nil {
		return nil, err
	}
	spec, err := args.optionalString("spec")
	if err != nil {
		return nil, err
	}
	status, err := args.optionalString("status")
	if err != nil {
		return nil, err
	}
	priority, err := args.optionalPriority("priority")
	if err != nil {
		return nil, err
	}
	parentID, err := args.optionalInt64("parent_id")
	if err != nil {
		return nil, err
	}
	owner, err := args.optionalString("owner")
	if err != nil {
		return nil, err
	}
	activeForm, err := args.optionalString("active_form")
	if err != nil {
		return nil, err
	}

	in := service.AddTaskInput{
		Name:       name,
		Spec:       spec,
		Priority:   priority,
		ParentID:   parentID,
		ActiveForm: activeForm,
		Metadata:   args["metadata"],
	}
	if status != nil {
		in.Status = *status
	}
	if owner != nil {
		in.Owner = *owner
	}
	return s.services.Tasks.Add(ctx, in)
}

func (s *Server) taskAddDependency(ctx context.Context, args toolArgs) (interface{}, error) {
	blocking, err := args.requiredInt64("blocking_task_id")
	if err != nil {
		return nil, err
	}
	blocked, err := args.requiredInt64("blocked_task_id")
	if err != nil {
		return nil, err
	}
	return s.services.Dependencies.Add(ctx, blocking, blocked)
}

func (s *Server) taskStart(ctx context.Context, args toolArgs) (interface{}, error) {
	id, err := args.requiredInt64("task_id")
	if err != nil {
		return nil, err
	}
	return s.services.Tasks.Start(ctx, id, s.sessionID)
}

func (s *Server) taskSpawnSubtask(ctx context.Context, args toolArgs) (interface{}, error) {
	name, err := args.requiredString("name")
	if err != nil {
		return nil, err
	}
	spec, err := args.requiredString("spec")
	if err != nil {
		return nil, err
	}
	activeForm, err := args.optionalString("active_form")
	if err != nil {
		return nil, err
	}

	state, err := s.services.Workspace.Get(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}
	if state.CurrentTaskID == nil {
		return nil, types.NewInvalidInput("no current task to attach the subtask to; start a task first")
	}
	in := service.AddTaskInput{Name: name, Spec: &spec, ActiveForm: activeForm}
	return s.services.Tasks.SpawnSubtask(ctx, *state.CurrentTaskID, in, s.sessionID)
}

func (s *Server) taskDone(ctx context.Context, args toolArgs) (interface{}, error) {
	id, err := args.optionalInt64("task_id")
	if err != nil {
		return nil, err
	}
	return s.services.Tasks.Done(ctx, id, s.sessionID)
}

func (s *Server) taskUpdate(ctx context.Context, args toolArgs) (interface{}, error) {
	id, err := args.requiredInt64("task_id")
	if err != nil {
		return nil, err
	}

	in := service.UpdateTaskInput{
		ParentID: args["parent_id"],
		Metadata: args["metadata"],
	}
	if in.Name, err = args.optionalString("name"); err != nil {
		return nil, err
	}
	if in.Spec, err = args.optionalString("spec"); err != nil {
		return nil, err
	}
	if in.Status, err = args.optionalString("status"); err != nil {
		return nil, err
	}
	if in.Priority, err = args.optionalPriority("priority"); err != nil {
		return nil, err
	}
	if in.Owner, err = args.optionalString("owner"); err != nil {
		return nil, err
	}
	if in.ActiveForm, err = args.optionalString("active_form"); err != nil {
		return nil, err
	}
	return s.services.Tasks.Update(ctx, id, in)
}

func (s *Server) taskList(ctx context.Context, args toolArgs) (interface{}, error) {
	filter := types.TaskFilter{}

	if status, err := args.optionalString("status"); err != nil {
		return nil, err
	} else if status != nil {
		parsed, err := types.ParseStatus(*status)
		if err != nil {
			return nil, err
		}
		filter.Status = &parsed
	}

	// parent_id: null is the roots-only sentinel, absent means no filter.
	if args.isNull("parent_id") {
		filter.RootsOnly = true
	} else {
		parentID, err := args.optionalInt64("parent_id")
		if err != nil {
			return nil, err
		}
		filter.ParentID = parentID
	}

	if sortArg, err := args.optionalString("sort"); err != nil {
		return nil, err
	} else if sortArg != nil {
		mode, err := types.ParseSortMode(*sortArg)
		if err != nil {
			return nil, err
		}
		filter.Sort = mode
	}

	var err error
	if filter.Limit, err = args.optionalInt("limit", 0); err != nil {
		return nil, err
	}
	if filter.Offset, err = args.optionalInt("offset", 0); err != nil {
		return nil, err
	}
	return s.services.Tasks.Find(ctx, filter)
}

func (s *Server) taskGet(ctx context.Context, args toolArgs) (interface{}, error) {
	id, err := args.requiredInt64("task_id")
	if err != nil {
		return nil, err
	}
	return s.services.Tasks.GetWithEvents(ctx, id)
}

// taskContextResult bundles everything a client needs to resume work on a
// task: the task, where it sits in the tree, and what happened on it.
type taskContextResult struct {
	Task       *types.Task    `json:"task"`
	Ancestry   []*types.Task  `json:"ancestry"`
	Children   []*types.Task  `json:"children"`
	Events     []*types.Event `json:"events"`
	EventCount int            `json:"event_count"`
}

func (s *Server) taskContext(ctx context.Context, args toolArgs) (interface{}, error) {
	id, err := args.requiredInt64("task_id")
	if err != nil {
		return nil, err
	}
	withEvents, err := s.services.Tasks.GetWithEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	ancestry, err := s.services.Tasks.Ancestry(ctx, id)
	if err != nil {
		return nil, err
	}
	children, err := s.services.Tasks.Children(ctx, id)
	if err != nil {
		return nil, err
	}
	return &taskContextResult{
		Task:       withEvents.Task,
		Ancestry:   ancestry,
		Children:   children,
		Events:     withEvents.Events,
		EventCount: withEvents.EventCount,
	}, nil
}

type taskDeleteResult struct {
	DeletedTaskID int64 `json:"deleted_task_id"`
	CascadeCount  int   `json:"cascade_count,omitempty"`
}

func (s *Server) taskDelete(ctx context.Context, args toolArgs) (interface{}, error) {
	id, err := args.requiredInt64("task_id")
	if err != nil {
		return nil, err
	}
	cascade, err := args.optionalBool("cascade", false)
	if err != nil {
		return nil, err
	}
	if cascade {
		removed, err := s.services.Tasks.DeleteCascade(ctx, id)
		if err != nil {
			return nil, err
		}
		return &taskDeleteResult{DeletedTaskID: id, CascadeCount: removed}, nil
	}
	if err := s.services.Tasks.Delete(ctx, id); err != nil {
		return nil, err
	}
	return &taskDeleteResult{DeletedTaskID: id}, nil
}

func (s *Server) eventAdd(ctx context.Context, args toolArgs) (interface{}, error) {
	taskID, err := args.requiredInt64("task_id")
	if err != nil {
		return nil, err
	}
	logType, err := args.requiredString("log_type")
	if err != nil {
		return nil, err
	}
	body, err := args.requiredString("body")
	if err != nil {
		return nil, err
	}
	return s.services.Events.Add(ctx, taskID, logType, body)
}

func (s *Server) eventList(ctx context.Context, args toolArgs) (interface{}, error) {
	filter := types.EventFilter{}

	var err error
	if filter.TaskID, err = args.optionalInt64("task_id"); err != nil {
		return nil, err
	}
	if logType, err := args.optionalString("log_type"); err != nil {
		return nil, err
	} else if logType != nil {
		filter.LogType = *logType
	}
	if since, err := args.optionalString("since"); err != nil {
		return nil, err
	} else if since != nil {
		cutoff, err := timeutil.ParseSince(*since, time.Now())
		if err != nil {
			return nil, err
		}
		filter.Since = &cutoff
	}
	if filter.Limit, err = args.optionalInt("limit", 0); err != nil {
		return nil, err
	}
	return s.services.Events.List(ctx, filter)
}

func (s *Server) search(ctx context.Context, args toolArgs) (interface{}, error) {
	query, err := args.requiredString("query")
	if err != nil {
		return nil, err
	}
	in := service.SearchInput{Query: query}
	if in.IncludeTasks, err = args.optionalBool("include_tasks", true); err != nil {
		return nil, err
	}
	if in.IncludeEvents, err = args.optionalBool("include_events", true); err != nil {
		return nil, err
	}
	if in.Limit, err = args.optionalInt("limit", 0); err != nil {
		return nil, err
	}
	if in.Offset, err = args.optionalInt("offset", 0); err != nil {
		return nil, err
	}
	return s.services.Search.Search(ctx, in)
}

// reportResult is the workspace summary returned by report_generate.
type reportResult struct {
	GeneratedAt  time.Time           `json:"generated_at"`
	StatusCounts map[string]int      `json:"status_counts"`
	TotalTasks   int                 `json:"total_tasks"`
	Incomplete   int                 `json:"incomplete_tasks"`
	RecentEvents []*types.Event      `json:"recent_events"`
	Suggestions  []*types.Suggestion `json:"suggestions"`
}

func (s *Server) reportGenerate(ctx context.Context, args toolArgs) (interface{}, error) {
	eventFilter := types.EventFilter{Limit: 10}
	if since, err := args.optionalString("since"); err != nil {
		return nil, err
	} else if since != nil {
		cutoff, err := timeutil.ParseSince(*since, time.Now())
		if err != nil {
			return nil, err
		}
		eventFilter.Since = &cutoff
	}

	total, incomplete, err := s.services.Store.CountTasks(ctx)
	if err != nil {
		return nil, err
	}

	counts := map[string]int{}
	for _, status := range []types.TaskStatus{types.StatusTodo, types.StatusDoing, types.StatusDone} {
		st := status
		page, err := s.services.Tasks.Find(ctx, types.TaskFilter{Status: &st, Limit: 1})
		if err != nil {
			return nil, err
		}
		counts[string(status)] = page.TotalCount
	}

	events, err := s.services.Events.List(ctx, eventFilter)
	if err != nil {
		return nil, err
	}
	suggestions, err := s.services.Store.ListSuggestions(ctx, false)
	if err != nil {
		return nil, err
	}

	return &reportResult{
		GeneratedAt:  time.Now(),
		StatusCounts: counts,
		TotalTasks:   total,
		Incomplete:   incomplete,
		RecentEvents: events,
		Suggestions:  suggestions,
	}, nil
}

// textResult wraps a handler result as a single pretty-printed text block.
func textResult(v interface{}) (interface{}, *RPCError) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, &RPCError{Code: CodeServerError, Message: fmt.Sprintf("failed to encode result: %v", err)}
	}
	return CallResult{Content: []ToolContent{{Type: "text", Text: string(data)}}}, nil
}
