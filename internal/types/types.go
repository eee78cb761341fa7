// Package types defines the core domain types shared by all Intent-Engine
// components: tasks, events, sessions, dependencies, suggestions, and the
// filter/result shapes the services exchange.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the lifecycle state of a task
type TaskStatus string

// Task statuses (stored lowercase)
const (
	StatusTodo  TaskStatus = "todo"
	StatusDoing TaskStatus = "doing"
	StatusDone  TaskStatus = "done"
)

// ParseStatus normalizes and validates a status string.
// Any value outside the todo/doing/done enum is rejected at the boundary.
func ParseStatus(s string) (TaskStatus, error) {
	switch TaskStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusTodo:
		return StatusTodo, nil
	case StatusDoing:
		return StatusDoing, nil
	case StatusDone:
		return StatusDone, nil
	default:
		return "", NewInvalidInput("invalid status %q: must be one of todo, doing, done", s)
	}
}

// IsIncomplete reports whether the status counts as unfinished work.
func (s TaskStatus) IsIncomplete() bool {
	return s == StatusTodo || s == StatusDoing
}

// Priority levels. Lower value = higher priority; NULL sorts after low.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityMedium   = 3
	PriorityLow      = 4
)

// PrioritySentinel is used in ORDER BY COALESCE(priority, 999) so that
// NULL-priority tasks sort after every explicit priority.
const PrioritySentinel = 999

// ParsePriority accepts either a numeric priority (1-4) or one of the
// named levels (critical/high/medium/low).
func ParsePriority(v string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "critical", "1":
		return PriorityCritical, nil
	case "high", "2":
		return PriorityHigh, nil
	case "medium", "3":
		return PriorityMedium, nil
	case "low", "4":
		return PriorityLow, nil
	default:
		return 0, NewInvalidInput("invalid priority %q: must be 1-4 or critical/high/medium/low", v)
	}
}

// Task is a node in the work hierarchy
type Task struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Spec       *string    `json:"spec,omitempty"`
	Status     TaskStatus `json:"status"`
	Priority   *int       `json:"priority,omitempty"`
	Complexity *int       `json:"complexity,omitempty"`
	ParentID   *int64     `json:"parent_id,omitempty"`
	Owner      string     `json:"owner"`
	ActiveForm *string    `json:"active_form,omitempty"`
	// Metadata is a JSON-object string; keys are merged on update
	// (null value deletes a key, an empty object unsets the field).
	Metadata     *string    `json:"metadata,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FirstTodoAt  *time.Time `json:"first_todo_at,omitempty"`
	FirstDoingAt *time.Time `json:"first_doing_at,omitempty"`
	FirstDoneAt  *time.Time `json:"first_done_at,omitempty"`
}

// HasSpec reports whether the task carries a non-empty spec.
func (t *Task) HasSpec() bool {
	return t.Spec != nil && strings.TrimSpace(*t.Spec) != ""
}

// Event log types. The set is open-ended: unknown types are stored verbatim.
const (
	LogDecision  = "decision"
	LogBlocker   = "blocker"
	LogMilestone = "milestone"
	LogNote      = "note"
)

// Event is an append-only decision-log entry attached to a task
type Event struct {
	ID             int64     `json:"id"`
	TaskID         int64     `json:"task_id"`
	Timestamp      time.Time `json:"timestamp"`
	LogType        string    `json:"log_type"`
	DiscussionData string    `json:"discussion_data"`
}

// DefaultSessionID is the session key used by the single-user CLI when no
// session is given and IE_SESSION_ID is unset.
const DefaultSessionID = "-1"

// Session holds per-client focus state
type Session struct {
	SessionID     string    `json:"session_id"`
	CurrentTaskID *int64    `json:"current_task_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	LastActiveAt  time.Time `json:"last_active_at"`
}

// Dependency is a BLOCKED_BY edge: the blocking task must be done before
// the blocked task may enter doing.
type Dependency struct {
	BlockingTaskID int64     `json:"blocking_task_id"`
	BlockedTaskID  int64     `json:"blocked_task_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// Suggestion types
const (
	SuggestionTaskStructure  = "task_structure"
	SuggestionEventSynthesis = "event_synthesis"
	SuggestionError          = "error"
)

// MaxActiveSuggestions caps the active (non-dismissed) suggestion set.
// Overflow auto-dismisses the oldest active suggestion (FIFO eviction).
const MaxActiveSuggestions = 20

// Suggestion is a background-analysis output
type Suggestion struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Dismissed bool      `json:"dismissed"`
}

// TaskWithEvents bundles a task with its events summary
type TaskWithEvents struct {
	Task       *Task    `json:"task"`
	Events     []*Event `json:"events"`
	EventCount int      `json:"event_count"`
}

// SortMode controls task list ordering
type SortMode string

// Task list sort modes
const (
	SortByID       SortMode = "id"
	SortByPriority SortMode = "priority"
	SortByTime     SortMode = "time"
	SortFocusAware SortMode = "focus_aware"
)

// ParseSortMode validates a sort mode string; empty defaults to id order.
func ParseSortMode(s string) (SortMode, error) {
	switch SortMode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return SortByID, nil
	case SortByID, SortByPriority, SortByTime, SortFocusAware:
		return SortMode(strings.ToLower(strings.TrimSpace(s))), nil
	default:
		return "", NewInvalidInput("invalid sort mode %q: must be one of id, priority, time, focus_aware", s)
	}
}

// TaskFilter selects tasks for TaskService.Find.
// ParentID and RootsOnly are mutually exclusive; RootsOnly is the
// NULL-parent sentinel (top-level tasks only).
type TaskFilter struct {
	Status    *TaskStatus
	ParentID  *int64
	RootsOnly bool
	Sort      SortMode
	Limit     int
	Offset    int
}

// TaskPage is a paginated task listing
type TaskPage struct {
	Tasks      []*Task `json:"tasks"`
	TotalCount int     `json:"total_count"`
	HasMore    bool    `json:"has_more"`
	Limit      int     `json:"limit"`
	Offset     int     `json:"offset"`
}

// EventFilter selects events for EventService.List
type EventFilter struct {
	TaskID  *int64
	LogType string
	Since   *time.Time
	Limit   int
}

// EventsSummary is the count + recent slice returned by EventService.Summary
type EventsSummary struct {
	TotalCount int      `json:"total_count"`
	Recent     []*Event `json:"recent"`
}

// NextStepKind classifies the structured hint returned by done
type NextStepKind string

// Next-step suggestion kinds
const (
	NextParentIsReady         NextStepKind = "parent_is_ready"
	NextSiblingTasksRemain    NextStepKind = "sibling_tasks_remain"
	NextTopLevelTaskCompleted NextStepKind = "top_level_task_completed"
	NextNoParentContext       NextStepKind = "no_parent_context"
	NextWorkspaceIsClear      NextStepKind = "workspace_is_clear"
)

// NextStep is the structured hint returned when a task completes
type NextStep struct {
	Kind     NextStepKind `json:"kind"`
	ParentID *int64       `json:"parent_id,omitempty"`
	// Remaining is the incomplete sibling count for sibling_tasks_remain
	Remaining int `json:"remaining,omitempty"`
}

// Pick-next reason codes, returned when no task can be recommended
const (
	PickNoTasksInProject = "NO_TASKS_IN_PROJECT"
	PickAllCompleted     = "ALL_TASKS_COMPLETED"
	PickNoAvailableTodos = "NO_AVAILABLE_TODOS"
)

// PickNextResult is a deterministic recommendation: either a task or a
// reason code explaining why there is none.
type PickNextResult struct {
	Task   *Task  `json:"task,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// FocusState is the result of WorkspaceService.Get
type FocusState struct {
	SessionID     string `json:"session_id"`
	CurrentTaskID *int64 `json:"current_task_id,omitempty"`
	Task          *Task  `json:"task,omitempty"`
}

// AncestryEntry is one hop of a task's ancestor chain
type AncestryEntry struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Search result kinds
const (
	ResultTask  = "task"
	ResultEvent = "event"
)

// SearchResult is one unified search hit over tasks or events
type SearchResult struct {
	Type    string     `json:"type"`
	TaskID  int64      `json:"task_id"`
	EventID *int64     `json:"event_id,omitempty"`
	Name    string     `json:"name"`
	Status  TaskStatus `json:"status"`
	// Field names where the match landed: "name" or "spec" for tasks,
	// "discussion_data" for events.
	Field     string     `json:"field"`
	Snippet   string     `json:"snippet"`
	Score     float64    `json:"score"`
	LogType   string     `json:"log_type,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	// Ancestry is the owning task's chain root → parent → task,
	// populated for event results only.
	Ancestry []AncestryEntry `json:"ancestry,omitempty"`
}

// SearchPage is the paginated unified search response
type SearchPage struct {
	Results     []*SearchResult `json:"results"`
	TotalTasks  int             `json:"total_tasks"`
	TotalEvents int             `json:"total_events"`
	HasMore     bool            `json:"has_more"`
	Limit       int             `json:"limit"`
	Offset      int             `json:"offset"`
}

// PriorityValue accepts a plan priority as either a JSON number or a
// named string level ("critical".."low", "1".."4").
type PriorityValue int

// UnmarshalJSON implements string-or-int decoding for plan priorities.
func (p *PriorityValue) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < PriorityCritical || n > PriorityLow {
			return NewInvalidInput("invalid priority %d: must be 1-4", n)
		}
		*p = PriorityValue(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return NewInvalidInput("priority must be a number or a string, got %s", string(data))
	}
	n, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = PriorityValue(n)
	return nil
}

// PlanNode is one node of the declarative batch forest. ParentID and
// Metadata are raw so that absent, null, and empty values stay distinct.
type PlanNode struct {
	ID         *int64          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Spec       *string         `json:"spec,omitempty"`
	Status     *string         `json:"status,omitempty"`
	Priority   *PriorityValue  `json:"priority,omitempty"`
	Owner      *string         `json:"owner,omitempty"`
	ActiveForm *string         `json:"active_form,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	ParentID   json.RawMessage `json:"parent_id,omitempty"`
	DependsOn  []string        `json:"depends_on,omitempty"`
	Delete     bool            `json:"delete,omitempty"`
	Children   []PlanNode      `json:"children,omitempty"`
}

// PlanRequest is the JSON document accepted by the plan executor
type PlanRequest struct {
	Tasks []PlanNode `json:"tasks"`
}

// PlanResult reports the outcome of a declarative batch
type PlanResult struct {
	Success             bool             `json:"success"`
	CreatedCount        int              `json:"created_count"`
	UpdatedCount        int              `json:"updated_count"`
	DeletedCount        int              `json:"deleted_count"`
	CascadeDeletedCount int              `json:"cascade_deleted_count"`
	DependencyCount     int              `json:"dependency_count"`
	TaskIDMap           map[string]int64 `json:"task_id_map"`
	Warnings            []string         `json:"warnings,omitempty"`
	FocusedTask         *TaskWithEvents  `json:"focused_task,omitempty"`
	Error               string           `json:"error,omitempty"`
}

// String renders a task reference for error messages and logs.
func (t *Task) String() string {
	return fmt.Sprintf("#%d %q (%s)", t.ID, t.Name, t.Status)
}
