// Package project handles workspace discovery and initialization. A project
// is any directory containing a .intent-engine/ marker; discovery walks up
// from the working directory so commands run from subdirectories.
package project

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/untoldecay/intent-engine/internal/types"
)

// MarkerDir is the per-project state directory.
const MarkerDir = ".intent-engine"

// DBFileName is the embedded database file inside MarkerDir.
const DBFileName = "project.db"

// ConfigFileName is the per-project config file inside MarkerDir.
const ConfigFileName = "config.yaml"

// Project is a discovered workspace.
type Project struct {
	// Root is the directory containing MarkerDir.
	Root string
}

// Dir returns the absolute .intent-engine directory.
func (p *Project) Dir() string {
	return filepath.Join(p.Root, MarkerDir)
}

// DBPath returns the embedded database file path.
func (p *Project) DBPath() string {
	return filepath.Join(p.Dir(), DBFileName)
}

// ConfigPath returns the per-project config file path.
func (p *Project) ConfigPath() string {
	return filepath.Join(p.Dir(), ConfigFileName)
}

// Find walks up from startDir looking for a .intent-engine directory.
// Returns NOT_A_PROJECT when the filesystem root is reached without one.
func Find(startDir string) (*Project, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", startDir, err)
	}

	for {
		marker := filepath.Join(dir, MarkerDir)
		if info, err := os.Stat(marker); err == nil && info.IsDir() {
			return &Project{Root: dir}, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, types.NewNotAProject(startDir)
		}
		dir = parent
	}
}

// FindFromWd discovers the project containing the working directory.
func FindFromWd() (*Project, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return Find(cwd)
}

// InitialConfig is the config.yaml written by Init.
type InitialConfig struct {
	DB struct {
		Backend string `yaml:"backend"`
	} `yaml:"db"`
	Analysis struct {
		Cooldown string `yaml:"cooldown"`
	} `yaml:"analysis"`
}

// Init creates the .intent-engine directory in dir with a default
// config.yaml. Idempotent: re-running on an initialized project leaves the
// existing config untouched.
func Init(dir string) (*Project, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	p := &Project{Root: root}
	if err := os.MkdirAll(p.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", p.Dir(), err)
	}

	if _, err := os.Stat(p.ConfigPath()); err == nil {
		return p, nil
	}

	var cfg InitialConfig
	cfg.DB.Backend = "sqlite"
	cfg.Analysis.Cooldown = "300s"

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal default config: %w", err)
	}
	if err := os.WriteFile(p.ConfigPath(), data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", p.ConfigPath(), err)
	}
	return p, nil
}
