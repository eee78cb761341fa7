package intentengine_test

import (
	"context"
	"path/filepath"
	"testing"

	intentengine "github.com/untoldecay/intent-engine"
)

func TestOpenStoreAndServices(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := intentengine.OpenStore(ctx, dbPath)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	svc := intentengine.NewServices(store)
	task, err := svc.Tasks.Add(ctx, intentengine.AddTaskInput{Name: "public api smoke"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	got, err := svc.Tasks.Get(ctx, task.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "public api smoke" || got.Status != intentengine.StatusTodo {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestProjectInitAndFind(t *testing.T) {
	dir := t.TempDir()
	proj, err := intentengine.InitProject(dir)
	if err != nil {
		t.Fatalf("InitProject failed: %v", err)
	}

	found, err := intentengine.FindProject(dir)
	if err != nil {
		t.Fatalf("FindProject failed: %v", err)
	}
	if found.Root != proj.Root {
		t.Fatalf("FindProject root = %q, want %q", found.Root, proj.Root)
	}
}

func TestConstants(t *testing.T) {
	if intentengine.StatusTodo != "todo" {
		t.Errorf("StatusTodo = %q, want %q", intentengine.StatusTodo, "todo")
	}
	if intentengine.StatusDoing != "doing" {
		t.Errorf("StatusDoing = %q, want %q", intentengine.StatusDoing, "doing")
	}
	if intentengine.StatusDone != "done" {
		t.Errorf("StatusDone = %q, want %q", intentengine.StatusDone, "done")
	}
	if intentengine.PriorityCritical != 1 || intentengine.PriorityLow != 4 {
		t.Error("priority constants out of range")
	}
	if intentengine.LogDecision != "decision" || intentengine.LogNote != "note" {
		t.Error("log type constants changed")
	}
}
