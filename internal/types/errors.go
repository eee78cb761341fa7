package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Code is a stable machine-readable error code carried across the CLI and
// JSON-RPC boundaries.
type Code string

// Stable error codes
const (
	CodeTaskNotFound        Code = "TASK_NOT_FOUND"
	CodeInvalidInput        Code = "INVALID_INPUT"
	CodeCircularDependency  Code = "CIRCULAR_DEPENDENCY"
	CodeTaskBlocked         Code = "TASK_BLOCKED"
	CodeActionNotAllowed    Code = "ACTION_NOT_ALLOWED"
	CodeUncompletedChildren Code = "UNCOMPLETED_CHILDREN"
	CodeNotAProject         Code = "NOT_A_PROJECT"
	CodeDatabaseError       Code = "DATABASE_ERROR"
	CodeInternalError       Code = "INTERNAL_ERROR"
)

// Error is the typed error surfaced by services. Context fields are
// populated per kind so callers can react programmatically.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"error"`

	// TaskID is the subject task, where one exists.
	TaskID int64 `json:"task_id,omitempty"`
	// BlockingTaskIDs lists incomplete blockers for TASK_BLOCKED.
	BlockingTaskIDs []int64 `json:"blocking_task_ids,omitempty"`
	// IncompleteChildIDs lists unfinished children for UNCOMPLETED_CHILDREN.
	IncompleteChildIDs []int64 `json:"incomplete_child_ids,omitempty"`
	// BlockingTaskID / BlockedTaskID identify the rejected edge for
	// CIRCULAR_DEPENDENCY.
	BlockingTaskID int64 `json:"blocking_task_id,omitempty"`
	BlockedTaskID  int64 `json:"blocked_task_id,omitempty"`

	cause error
}

func (e *Error) Error() string { return e.Message }

// Unwrap exposes the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// NewTaskNotFound reports a missing task id.
func NewTaskNotFound(id int64) *Error {
	return &Error{
		Code:    CodeTaskNotFound,
		Message: fmt.Sprintf("task %d not found", id),
		TaskID:  id,
	}
}

// NewInvalidInput reports a caller error (wrong type, missing required
// argument, bad enum value).
func NewInvalidInput(format string, args ...interface{}) *Error {
	return &Error{
		Code:    CodeInvalidInput,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewCircularDependency reports a rejected parent or dependency cycle.
func NewCircularDependency(blockingID, blockedID int64) *Error {
	return &Error{
		Code: CodeCircularDependency,
		Message: fmt.Sprintf("Circular dependency: task %d already depends on task %d",
			blockingID, blockedID),
		BlockingTaskID: blockingID,
		BlockedTaskID:  blockedID,
	}
}

// NewParentCycle reports a rejected reparent that would make a task its
// own ancestor.
func NewParentCycle(taskID, parentID int64) *Error {
	return &Error{
		Code: CodeCircularDependency,
		Message: fmt.Sprintf("Circular hierarchy: task %d is an ancestor of task %d",
			taskID, parentID),
		BlockingTaskID: taskID,
		BlockedTaskID:  parentID,
	}
}

// NewTaskBlocked reports a start attempt with incomplete blockers.
func NewTaskBlocked(taskID int64, blockerIDs []int64) *Error {
	return &Error{
		Code: CodeTaskBlocked,
		Message: fmt.Sprintf("task %d is blocked by incomplete tasks: %s",
			taskID, joinIDs(blockerIDs)),
		TaskID:          taskID,
		BlockingTaskIDs: blockerIDs,
	}
}

// NewUncompletedChildren reports a done attempt on a parent with
// unfinished children.
func NewUncompletedChildren(taskID int64, childIDs []int64) *Error {
	return &Error{
		Code: CodeUncompletedChildren,
		Message: fmt.Sprintf("task %d has incomplete children: %s",
			taskID, joinIDs(childIDs)),
		TaskID:             taskID,
		IncompleteChildIDs: childIDs,
	}
}

// NewActionNotAllowed reports a policy refusal (focus protection and
// similar invariants).
func NewActionNotAllowed(format string, args ...interface{}) *Error {
	return &Error{
		Code:    CodeActionNotAllowed,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewNotAProject reports a read outside any project scope.
func NewNotAProject(dir string) *Error {
	return &Error{
		Code: CodeNotAProject,
		Message: fmt.Sprintf("no .intent-engine project found in %s or any parent directory; "+
			"run 'ie init' to create one", dir),
	}
}

// WrapDatabase wraps a backend-layer failure.
func WrapDatabase(err error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf(format, args...) + ": " + err.Error(),
		cause:   err,
	}
}

// CodeOf maps any error to its stable wire code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// AsError extracts the typed error, wrapping foreign errors as internal.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: CodeInternalError, Message: err.Error(), cause: err}
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ", ")
}
