package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/project"
	"github.com/untoldecay/intent-engine/internal/storage/sqlite"
)

var initCmd = &cobra.Command{
	Use:     "init",
	GroupID: "workspace",
	Short:   "Initialize an intent-engine project in the current directory",
	Long: `Create the .intent-engine/ marker directory with a default config.yaml
and an empty database. Idempotent: re-running leaves existing state
untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		proj, err := project.Init(cwd)
		if err != nil {
			return err
		}

		// Opening the store creates the schema.
		store, err := sqlite.New(ctx, proj.DBPath())
		if err != nil {
			return err
		}
		_ = store.Close()

		if jsonMode() {
			printJSON(struct {
				Root   string `json:"root"`
				DBPath string `json:"db_path"`
			}{proj.Root, proj.DBPath()})
			return nil
		}
		fmt.Printf("Initialized intent-engine project in %s\n", proj.Dir())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
