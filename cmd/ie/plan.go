package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/types"
)

var planCmd = &cobra.Command{
	Use:     "plan [file]",
	GroupID: "tasks",
	Short:   "Apply a declarative task plan from a JSON file or stdin",
	Long: `Apply a batch plan: create, update, reparent, wire dependencies, and
delete tasks in one all-or-nothing transaction. The plan is a JSON
document {"tasks": [...]} read from the given file, or from stdin when
no file is given.

With --under, new root tasks in the plan default to that parent. With
--attach, they default to the session's current focus instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var data []byte
		var err error
		if len(args) == 1 {
			data, err = os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read plan file: %w", err)
			}
		} else {
			data, err = io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read plan from stdin: %w", err)
			}
		}

		var req types.PlanRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return types.NewInvalidInput("invalid plan JSON: %v", err)
		}

		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		session := sessionID()
		var defaultParent *int64
		if cmd.Flags().Changed("under") {
			under, _ := cmd.Flags().GetInt64("under")
			defaultParent = &under
		} else if attach, _ := cmd.Flags().GetBool("attach"); attach {
			state, err := svc.Workspace.Get(ctx, session)
			if err != nil {
				return err
			}
			if state.CurrentTaskID == nil {
				return types.NewInvalidInput("--attach requires a current task; start one first")
			}
			defaultParent = state.CurrentTaskID
		}

		result, err := svc.Plans.Execute(ctx, &req, session, defaultParent)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(result)
			return nil
		}
		fmt.Printf("Plan applied: %d created, %d updated, %d deleted (%d cascaded), %d dependencies\n",
			result.CreatedCount, result.UpdatedCount, result.DeletedCount,
			result.CascadeDeletedCount, result.DependencyCount)
		for _, warning := range result.Warnings {
			fmt.Println(render(styleMuted, "warning: "+warning))
		}
		if result.FocusedTask != nil {
			fmt.Println("Now focused on " + taskLine(result.FocusedTask.Task))
		}
		return nil
	},
}

func init() {
	planCmd.Flags().Int64("under", 0, "Default parent id for new root tasks")
	planCmd.Flags().Bool("attach", false, "Default new root tasks under the current focus")
	rootCmd.AddCommand(planCmd)
}
