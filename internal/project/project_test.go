package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/untoldecay/intent-engine/internal/types"
)

func TestInitAndFind(t *testing.T) {
	root := t.TempDir()

	p, err := Init(root)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if _, err := os.Stat(p.ConfigPath()); err != nil {
		t.Fatalf("expected config.yaml written: %v", err)
	}

	// Discovery from a nested subdirectory walks up to the marker.
	nested := filepath.Join(root, "src", "deep")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("failed to create nested dir: %v", err)
	}
	found, err := Find(nested)
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if found.Root != p.Root {
		t.Fatalf("expected root %s, got %s", p.Root, found.Root)
	}
	if found.DBPath() != filepath.Join(p.Root, MarkerDir, DBFileName) {
		t.Fatalf("unexpected db path %s", found.DBPath())
	}
}

func TestInitIdempotent(t *testing.T) {
	root := t.TempDir()

	p, err := Init(root)
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	custom := []byte("db:\n  backend: sqlite\nanalysis:\n  cooldown: 1h\n")
	if err := os.WriteFile(p.ConfigPath(), custom, 0o644); err != nil {
		t.Fatalf("failed to write custom config: %v", err)
	}

	// Re-init must not clobber an existing config.
	if _, err := Init(root); err != nil {
		t.Fatalf("re-init failed: %v", err)
	}
	data, err := os.ReadFile(p.ConfigPath())
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(custom) {
		t.Fatal("re-init overwrote existing config.yaml")
	}
}

func TestFindOutsideProject(t *testing.T) {
	_, err := Find(t.TempDir())
	if !types.IsCode(err, types.CodeNotAProject) {
		t.Fatalf("expected NOT_A_PROJECT, got %v", err)
	}
}
