// Package dashboard talks to the local dashboard process: an HTTP client
// for its API and a cross-process registry of running instances.
package dashboard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

// Entry is one running dashboard in the registry
type Entry struct {
	ProjectRoot string    `json:"project_root"`
	Port        int       `json:"port"`
	PID         int       `json:"pid"`
	Version     string    `json:"version"`
	StartedAt   time.Time `json:"started_at"`
}

// Registry manages the global dashboard registry file at
// ~/.intent-engine/dashboards.json. A companion .lock file provides
// cross-process synchronization; the in-process mutex covers goroutines.
type Registry struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// NewRegistry opens the registry in the user's home directory, creating
// the parent directory if needed.
func NewRegistry() (*Registry, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".intent-engine")
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return &Registry{
		path:     filepath.Join(dir, "dashboards.json"),
		lockPath: filepath.Join(dir, "dashboards.lock"),
	}, nil
}

// newRegistryAt opens a registry rooted at an arbitrary directory, for tests.
func newRegistryAt(dir string) *Registry {
	return &Registry{
		path:     filepath.Join(dir, "dashboards.json"),
		lockPath: filepath.Join(dir, "dashboards.lock"),
	}
}

func (r *Registry) withFileLock(fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	lock := flock.New(r.lockPath)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire registry lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	return fn()
}

// readEntriesLocked tolerates a missing, empty, or corrupted file: a
// broken registry means rediscovery, not failure.
func (r *Registry) readEntriesLocked() ([]Entry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return []Entry{}, nil
	}
	return entries, nil
}

// writeEntriesLocked replaces the registry atomically via temp file and
// rename.
func (r *Registry) writeEntriesLocked(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), "dashboards-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Register adds a dashboard, replacing any prior entry for the same
// project root or PID.
func (r *Registry) Register(entry Entry) error {
	return r.withFileLock(func() error {
		entries, err := r.readEntriesLocked()
		if err != nil {
			return err
		}
		filtered := []Entry{}
		for _, e := range entries {
			if e.ProjectRoot != entry.ProjectRoot && e.PID != entry.PID {
				filtered = append(filtered, e)
			}
		}
		return r.writeEntriesLocked(append(filtered, entry))
	})
}

// Unregister removes entries matching the project root or PID.
func (r *Registry) Unregister(projectRoot string, pid int) error {
	return r.withFileLock(func() error {
		entries, err := r.readEntriesLocked()
		if err != nil {
			return err
		}
		filtered := []Entry{}
		for _, e := range entries {
			if e.ProjectRoot != projectRoot && e.PID != pid {
				filtered = append(filtered, e)
			}
		}
		return r.writeEntriesLocked(filtered)
	})
}

// List returns live entries, pruning rows whose process has exited.
func (r *Registry) List() ([]Entry, error) {
	var alive []Entry
	err := r.withFileLock(func() error {
		entries, err := r.readEntriesLocked()
		if err != nil {
			return err
		}
		alive = make([]Entry, 0, len(entries))
		for _, e := range entries {
			if isProcessAlive(e.PID) {
				alive = append(alive, e)
			}
		}
		if len(alive) != len(entries) {
			if err := r.writeEntriesLocked(alive); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to prune stale dashboard entries: %v\n", err)
			}
		}
		return nil
	})
	return alive, err
}

// Clear empties the registry.
func (r *Registry) Clear() error {
	return r.withFileLock(func() error {
		return r.writeEntriesLocked(nil)
	})
}

// isProcessAlive probes the pid with signal 0.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
