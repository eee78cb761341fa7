// Command ie is the Intent-Engine CLI: a persistent task-and-decision
// memory for AI coding sessions, stored per project under .intent-engine/.
package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/config"
	"github.com/untoldecay/intent-engine/internal/mcp"
	"github.com/untoldecay/intent-engine/internal/project"
	"github.com/untoldecay/intent-engine/internal/service"
	"github.com/untoldecay/intent-engine/internal/storage/sqlite"
)

// Version is stamped by the release build; dev builds report "dev".
var Version = "dev"

var (
	formatFlag  string
	sessionFlag string
)

var rootCmd = &cobra.Command{
	Use:   "ie",
	Short: "Persistent task and decision memory for AI coding sessions",
	Long: `ie keeps a per-project store of tasks, decisions, and session focus
under .intent-engine/. Tasks form a hierarchy with dependencies; every
decision and blocker is logged against its task and searchable later.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Initialize(); err != nil {
			return err
		}
		if formatFlag != "" {
			config.Set("format", formatFlag)
		}
		if f := config.GetString("format"); f != "text" && f != "json" {
			return fmt.Errorf("invalid format %q: must be text or json", f)
		}
		return nil
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "", "output format: text or json")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session id (default IE_SESSION_ID or -1)")
	rootCmd.AddGroup(
		&cobra.Group{ID: "tasks", Title: "Task commands:"},
		&cobra.Group{ID: "workspace", Title: "Workspace commands:"},
	)
}

func main() {
	mcp.ServerVersion = Version
	if err := rootCmd.Execute(); err != nil {
		exitErr(err)
	}
}

// sessionID resolves the effective session for this invocation.
func sessionID() string {
	return config.SessionID(sessionFlag)
}

// openServices discovers the enclosing project and opens its store. The
// returned closer releases the pool.
func openServices(ctx context.Context) (*project.Project, *service.Services, func(), error) {
	proj, err := project.FindFromWd()
	if err != nil {
		return nil, nil, nil, err
	}
	dbPath := config.GetString("db.path")
	if dbPath == "" {
		dbPath = proj.DBPath()
	}
	store, err := sqlite.New(ctx, dbPath)
	if err != nil {
		return nil, nil, nil, err
	}
	return proj, service.New(store), func() { _ = store.Close() }, nil
}
