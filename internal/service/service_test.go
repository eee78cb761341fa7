package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/untoldecay/intent-engine/internal/storage/sqlite"
	"github.com/untoldecay/intent-engine/internal/types"
)

func newTestEnv(t *testing.T) *Services {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "project.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store)
}

func mustAdd(t *testing.T, svc *Services, in AddTaskInput) *types.Task {
	t.Helper()
	task, err := svc.Tasks.Add(context.Background(), in)
	if err != nil {
		t.Fatalf("failed to add task %q: %v", in.Name, err)
	}
	return task
}

func strptr(s string) *string { return &s }

func intptr(n int) *int { return &n }

func TestMergeMetadata(t *testing.T) {
	existing := `{"branch":"main","pr":"42"}`

	// Key-wise merge: new keys added, null deletes, others untouched.
	merged, err := mergeMetadata(&existing, json.RawMessage(`{"pr":null,"reviewer":"sam"}`))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	got, ok := merged.(string)
	if !ok {
		t.Fatalf("expected string result, got %T", merged)
	}
	want := `{"branch":"main","reviewer":"sam"}`
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// Empty patch object unsets the field.
	merged, err = mergeMetadata(&existing, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged != nil {
		t.Fatalf("expected unset field, got %v", merged)
	}

	// Deleting every key unsets too.
	merged, err = mergeMetadata(&existing, json.RawMessage(`{"branch":null,"pr":null}`))
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged != nil {
		t.Fatalf("expected unset field, got %v", merged)
	}

	// Non-object patches are rejected.
	if _, err := mergeMetadata(&existing, json.RawMessage(`"oops"`)); !types.IsCode(err, types.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}
