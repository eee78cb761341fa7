// Package intentengine provides a minimal public API for extending ie with
// custom orchestration.
//
// Most extensions should use direct SQL queries against ie's database. This
// package exports only the essential types and functions needed for Go-based
// extensions that want to use ie's storage and service layers
// programmatically.
package intentengine

import (
	"context"

	"github.com/untoldecay/intent-engine/internal/project"
	"github.com/untoldecay/intent-engine/internal/service"
	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/storage/sqlite"
	"github.com/untoldecay/intent-engine/internal/types"
)

// Store is the interface for intent-engine storage operations
type Store = storage.Store

// Tx provides atomic multi-operation support within a database transaction.
// Use Store.RunInTransaction() to obtain a Tx instance.
type Tx = storage.Tx

// Services bundles the business layer (tasks, events, focus, dependencies,
// search, plans) over one store.
type Services = service.Services

// AddTaskInput carries the fields accepted on task creation.
type AddTaskInput = service.AddTaskInput

// UpdateTaskInput is a partial task update; nil fields mean "no change".
type UpdateTaskInput = service.UpdateTaskInput

// OpenStore opens (creating if needed) the SQLite store at dbPath.
func OpenStore(ctx context.Context, dbPath string) (Store, error) {
	return sqlite.New(ctx, dbPath)
}

// NewServices wires the full service layer over a store.
func NewServices(store Store) *Services {
	return service.New(store)
}

// Project is a discovered workspace: any directory containing .intent-engine/.
type Project = project.Project

// FindProject walks up from startDir looking for a project marker.
func FindProject(startDir string) (*Project, error) {
	return project.Find(startDir)
}

// InitProject creates the .intent-engine directory in dir. Idempotent.
func InitProject(dir string) (*Project, error) {
	return project.Init(dir)
}

// Core types from internal/types
type (
	Task        = types.Task
	TaskStatus  = types.TaskStatus
	Event       = types.Event
	Session     = types.Session
	Dependency  = types.Dependency
	Suggestion  = types.Suggestion
	TaskFilter  = types.TaskFilter
	EventFilter = types.EventFilter
	SortMode    = types.SortMode
	NextStep    = types.NextStep
	FocusState  = types.FocusState
	PlanRequest = types.PlanRequest
	PlanResult  = types.PlanResult
)

// Status constants
const (
	StatusTodo  = types.StatusTodo
	StatusDoing = types.StatusDoing
	StatusDone  = types.StatusDone
)

// Priority constants
const (
	PriorityCritical = types.PriorityCritical
	PriorityHigh     = types.PriorityHigh
	PriorityMedium   = types.PriorityMedium
	PriorityLow      = types.PriorityLow
)

// Event log type constants
const (
	LogDecision  = types.LogDecision
	LogBlocker   = types.LogBlocker
	LogMilestone = types.LogMilestone
	LogNote      = types.LogNote
)
