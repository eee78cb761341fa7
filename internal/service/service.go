// Package service implements the Intent-Engine business layer on top of the
// storage contract: task lifecycle, events, per-session focus, dependencies,
// unified search, and the declarative batch planner. Services are stateless
// over the Store and safe for concurrent use.
package service

import (
	"encoding/json"
	"sort"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

// Services bundles every service over one store.
type Services struct {
	Store        storage.Store
	Tasks        *TaskService
	Events       *EventService
	Workspace    *WorkspaceService
	Dependencies *DependencyService
	Search       *SearchService
	Plans        *PlanExecutor
}

// New wires the full service layer over a store.
func New(store storage.Store) *Services {
	tasks := NewTaskService(store)
	events := NewEventService(store)
	return &Services{
		Store:        store,
		Tasks:        tasks,
		Events:       events,
		Workspace:    NewWorkspaceService(store),
		Dependencies: NewDependencyService(store),
		Search:       NewSearchService(store),
		Plans:        NewPlanExecutor(store, tasks, events),
	}
}

// resolveSession falls back to the default single-user session. Environment
// resolution (IE_SESSION_ID) happens at the CLI/server boundary; by the time
// a service sees a session id it is either explicit or empty.
func resolveSession(sessionID string) string {
	if sessionID == "" {
		return types.DefaultSessionID
	}
	return sessionID
}

// mergeMetadata applies a key-wise JSON-object patch to the existing
// metadata. A null patch value deletes that key; an empty (or null) patch
// unsets the whole field. Returns the new stored value: a JSON string, or
// nil when the field ends up unset.
func mergeMetadata(existing *string, patch json.RawMessage) (interface{}, error) {
	trimmed := string(patch)
	if trimmed == "null" {
		return nil, nil
	}

	var patchMap map[string]json.RawMessage
	if err := json.Unmarshal(patch, &patchMap); err != nil {
		return nil, types.NewInvalidInput("metadata must be a JSON object, got %s", trimmed)
	}
	if len(patchMap) == 0 {
		return nil, nil
	}

	merged := map[string]json.RawMessage{}
	if existing != nil && *existing != "" {
		if err := json.Unmarshal([]byte(*existing), &merged); err != nil {
			// Stored metadata is always an object; a corrupt value is
			// replaced rather than propagated.
			merged = map[string]json.RawMessage{}
		}
	}
	for key, value := range patchMap {
		if string(value) == "null" {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	if len(merged) == 0 {
		return nil, nil
	}

	// Marshal with sorted keys so merged output is deterministic.
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := []byte{'{'}
	for i, key := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		keyJSON, _ := json.Marshal(key)
		out = append(out, keyJSON...)
		out = append(out, ':')
		out = append(out, merged[key]...)
	}
	out = append(out, '}')
	return string(out), nil
}
