package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/types"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "workspace",
	Short:   "Show the session focus and project counters",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		proj, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		state, err := svc.Workspace.Get(ctx, sessionID())
		if err != nil {
			return err
		}
		total, incomplete, err := svc.Store.CountTasks(ctx)
		if err != nil {
			return err
		}
		suggestions, err := svc.Store.ListSuggestions(ctx, false)
		if err != nil {
			return err
		}

		result := struct {
			Root        string              `json:"root"`
			Focus       *types.FocusState   `json:"focus"`
			TotalTasks  int                 `json:"total_tasks"`
			Incomplete  int                 `json:"incomplete_tasks"`
			Suggestions []*types.Suggestion `json:"suggestions,omitempty"`
		}{proj.Root, state, total, incomplete, suggestions}
		if jsonMode() {
			printJSON(result)
			return nil
		}

		fmt.Println(render(styleHeading, "Project: ") + proj.Root)
		if state.Task != nil {
			fmt.Println(render(styleHeading, "Focus:   ") + taskLine(state.Task))
		} else {
			fmt.Println(render(styleHeading, "Focus:   ") + render(styleMuted, "none"))
		}
		fmt.Printf("Tasks:   %d total, %d incomplete\n", total, incomplete)
		if len(suggestions) > 0 {
			fmt.Println(render(styleHeading, "\nSuggestions:"))
			for _, suggestion := range suggestions {
				fmt.Printf("  [%s] %s\n", suggestion.Type, suggestion.Content)
			}
		}
		return nil
	},
}

var clearCmd = &cobra.Command{
	Use:     "clear",
	GroupID: "workspace",
	Short:   "Clear the session's current task focus",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		if err := svc.Workspace.Clear(ctx, sessionID()); err != nil {
			return err
		}
		if jsonMode() {
			printJSON(struct {
				Cleared bool `json:"cleared"`
			}{true})
		} else {
			fmt.Println("Focus cleared")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd, clearCmd)
}
