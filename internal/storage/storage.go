// Package storage defines the backend contract every Intent-Engine service
// is parameterised over. The embedded SQLite backend implements it; the
// behaviour is specified so that any backend passing the service-level test
// suite is interchangeable.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/untoldecay/intent-engine/internal/types"
)

// ErrNotMigrated is returned when a store is used before Migrate has run.
var ErrNotMigrated = errors.New("store not migrated")

// Counter entities for monotonic ID allocation
const (
	EntityTask       = "task"
	EntityEvent      = "event"
	EntitySuggestion = "suggestion"
)

// TaskHit is a ranked full-text task match
type TaskHit struct {
	Task  *types.Task
	Score float64
}

// EventHit is a ranked full-text event match
type EventHit struct {
	Event *types.Event
	Score float64
}

// Tx exposes the write subset of the store that participates in atomic
// multi-operation workflows (batch plans, start/done, focus transitions).
//
// Transaction semantics:
//   - All operations share one database transaction (BEGIN IMMEDIATE).
//   - If the callback returns an error or panics, the transaction is
//     rolled back; on nil return it is committed.
//   - Changes are invisible to other connections until commit.
type Tx interface {
	// NextID atomically increments and returns the counter for an entity.
	NextID(ctx context.Context, entity string) (int64, error)

	CreateTask(ctx context.Context, task *types.Task) error
	GetTask(ctx context.Context, id int64) (*types.Task, error)
	GetTasksByName(ctx context.Context, names []string) (map[string]*types.Task, error)
	UpdateTask(ctx context.Context, id int64, updates map[string]interface{}) error
	DeleteTask(ctx context.Context, id int64) error
	// DeleteTaskCascade removes the task and its whole sub-tree, returning
	// the number of descendants removed (excluding the task itself).
	DeleteTaskCascade(ctx context.Context, id int64) (int, error)
	ListChildren(ctx context.Context, parentID int64) ([]*types.Task, error)
	ListDescendants(ctx context.Context, id int64) ([]*types.Task, error)
	// ListAncestry returns the ancestor chain, immediate parent first,
	// ending at the root. The task itself is not included.
	ListAncestry(ctx context.Context, id int64) ([]*types.Task, error)

	AddEvent(ctx context.Context, event *types.Event) error

	AddDependency(ctx context.Context, blockingID, blockedID int64) (*types.Dependency, error)
	// DependencyReachable reports whether toID is reachable from fromID by
	// walking BLOCKED_BY edges (fromID's blockers, transitively), bounded
	// by maxDepth.
	DependencyReachable(ctx context.Context, fromID, toID int64, maxDepth int) (bool, error)
	// IncompleteBlockers returns blocking tasks whose status is todo or
	// doing. An empty result means the task is startable.
	IncompleteBlockers(ctx context.Context, taskID int64) ([]int64, error)

	// GetSession returns the session row, or nil when it does not exist.
	GetSession(ctx context.Context, sessionID string) (*types.Session, error)
	// SetFocus upserts the session row and points it at taskID (nil clears).
	SetFocus(ctx context.Context, sessionID string, taskID *int64) error
	// SessionsFocusedOn returns every session whose focus is one of the
	// given tasks. Used for focus protection on delete paths.
	SessionsFocusedOn(ctx context.Context, taskIDs []int64) ([]*types.Session, error)
}

// Store is the full backend contract. Implementations are safe for
// concurrent use; every method may suspend on I/O.
type Store interface {
	Tx

	// Migrate bootstraps the schema. Idempotent: re-running skips work when
	// the recorded schema_version is current.
	Migrate(ctx context.Context) error

	// RunInTransaction executes fn atomically. Returning an error rolls the
	// transaction back; panics roll back and re-raise.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Tasks
	FindTasks(ctx context.Context, filter types.TaskFilter) (*types.TaskPage, error)
	GetTasks(ctx context.Context, ids []int64) (map[int64]*types.Task, error)
	// AncestryBatch resolves ancestor chains (root first, ending at the
	// task itself) for many tasks in one round-trip.
	AncestryBatch(ctx context.Context, ids []int64) (map[int64][]types.AncestryEntry, error)
	// CountTasks returns (total, incomplete) task counts for the project.
	CountTasks(ctx context.Context) (int, int, error)
	// PickChild returns the best child of parentID with the given status,
	// ordered by COALESCE(priority, 999) ASC, id ASC. Nil when none.
	PickChild(ctx context.Context, parentID int64, status types.TaskStatus) (*types.Task, error)
	// PickTopLevel returns the best root task with the given status,
	// excluding excludeID (pass 0 to exclude nothing). Nil when none.
	PickTopLevel(ctx context.Context, status types.TaskStatus, excludeID int64) (*types.Task, error)

	// Events
	GetEvent(ctx context.Context, id int64) (*types.Event, error)
	UpdateEvent(ctx context.Context, id int64, logType, body *string) error
	DeleteEvent(ctx context.Context, id int64) error
	ListEvents(ctx context.Context, filter types.EventFilter) ([]*types.Event, error)
	// EventsSummary returns the total count plus the most recent events in
	// a single round-trip (no N+1).
	EventsSummary(ctx context.Context, taskID int64, recentLimit int) (*types.EventsSummary, error)

	// Sessions
	TouchSession(ctx context.Context, sessionID string) error
	CleanupExpiredSessions(ctx context.Context, olderThan time.Duration) (int, error)
	EnforceSessionLimit(ctx context.Context, keep int) (int, error)

	// Dependencies
	RemoveDependency(ctx context.Context, blockingID, blockedID int64) error
	BlockingTaskIDs(ctx context.Context, taskID int64) ([]int64, error)

	// Search. like selects the substring fallback path instead of FTS.
	SearchTasks(ctx context.Context, query string, like bool, limit, offset int) ([]*TaskHit, int, error)
	SearchEvents(ctx context.Context, query string, like bool, limit, offset int) ([]*EventHit, int, error)
	TasksByStatuses(ctx context.Context, statuses []types.TaskStatus, limit int) ([]*types.Task, error)

	// Suggestions
	AddSuggestion(ctx context.Context, suggestionType, content string) (*types.Suggestion, error)
	ListSuggestions(ctx context.Context, includeDismissed bool) ([]*types.Suggestion, error)
	DismissSuggestion(ctx context.Context, id int64) error
	ClearSuggestions(ctx context.Context) (int, error)

	// Workspace state
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
	Path() string
}

// Config holds backend configuration
type Config struct {
	Backend string // "sqlite" (embedded); a remote backend shares this contract

	// SQLite config
	Path string // database file path
}
