package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/service"
	"github.com/untoldecay/intent-engine/internal/types"
)

var taskCmd = &cobra.Command{
	Use:     "task",
	GroupID: "tasks",
	Short:   "Create, inspect, and update tasks",
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewInvalidInput("invalid task id %q", arg)
	}
	return id, nil
}

func stringFlag(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func intFlag(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

// priorityFlag accepts 1-4 or critical/high/medium/low.
func priorityFlag(cmd *cobra.Command) (*int, error) {
	if !cmd.Flags().Changed("priority") {
		return nil, nil
	}
	v, _ := cmd.Flags().GetString("priority")
	p, err := types.ParsePriority(v)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// rawFlag returns the flag value as raw JSON, preserving the absent /
// null / value distinction ("null" means explicit null).
func rawFlag(cmd *cobra.Command, name string) json.RawMessage {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return json.RawMessage(v)
}

var taskAddCmd = &cobra.Command{
	Use:     "add <name>",
	Aliases: []string{"create"},
	Short:   "Create a task",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		priority, err := priorityFlag(cmd)
		if err != nil {
			return err
		}
		status, _ := cmd.Flags().GetString("status")
		owner, _ := cmd.Flags().GetString("owner")
		in := addInput(cmd, args[0], status, owner, priority)
		if cmd.Flags().Changed("parent") {
			parent, _ := cmd.Flags().GetInt64("parent")
			in.ParentID = &parent
		}
		task, err := svc.Tasks.Add(ctx, in)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(task)
		} else {
			printTask(task)
		}
		return nil
	},
}

func addInput(cmd *cobra.Command, name, status, owner string, priority *int) service.AddTaskInput {
	return service.AddTaskInput{
		Name:       name,
		Spec:       stringFlag(cmd, "spec"),
		Status:     status,
		Priority:   priority,
		Complexity: intFlag(cmd, "complexity"),
		Owner:      owner,
		ActiveForm: stringFlag(cmd, "active-form"),
		Metadata:   rawFlag(cmd, "meta"),
	}
}

var taskGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a task with its event summary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		full, err := svc.Tasks.GetWithEvents(ctx, id)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(full)
			return nil
		}
		printTask(full.Task)
		if full.EventCount > 0 {
			fmt.Printf("\n%d event(s), most recent first:\n", full.EventCount)
			for _, event := range full.Events {
				printEvent(event)
			}
		}
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks with filters and paging",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		var filter types.TaskFilter
		if cmd.Flags().Changed("status") {
			v, _ := cmd.Flags().GetString("status")
			status, err := types.ParseStatus(v)
			if err != nil {
				return err
			}
			filter.Status = &status
		}
		if cmd.Flags().Changed("parent") {
			parent, _ := cmd.Flags().GetInt64("parent")
			filter.ParentID = &parent
		}
		filter.RootsOnly, _ = cmd.Flags().GetBool("roots")
		if v, _ := cmd.Flags().GetString("sort"); v != "" {
			sort, err := types.ParseSortMode(v)
			if err != nil {
				return err
			}
			filter.Sort = sort
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.Offset, _ = cmd.Flags().GetInt("offset")

		page, err := svc.Tasks.Find(ctx, filter)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(page)
			return nil
		}
		for _, task := range page.Tasks {
			fmt.Println(taskLine(task))
		}
		if page.HasMore {
			fmt.Println(render(styleMuted,
				fmt.Sprintf("showing %d of %d (use --offset %d for more)",
					len(page.Tasks), page.TotalCount, page.Offset+len(page.Tasks))))
		}
		return nil
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Apply a partial update to a task",
	Long: `Apply a partial update. Only flags you pass change anything.

--parent takes a task id or the literal "null" to move the task to the
root. --meta merges a JSON object key-wise into the task metadata; a
null value deletes that key.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		priority, err := priorityFlag(cmd)
		if err != nil {
			return err
		}
		in := service.UpdateTaskInput{
			Name:       stringFlag(cmd, "name"),
			Spec:       stringFlag(cmd, "spec"),
			Status:     stringFlag(cmd, "status"),
			Priority:   priority,
			Complexity: intFlag(cmd, "complexity"),
			ParentID:   rawFlag(cmd, "parent"),
			Owner:      stringFlag(cmd, "owner"),
			ActiveForm: stringFlag(cmd, "active-form"),
			Metadata:   rawFlag(cmd, "meta"),
		}
		task, err := svc.Tasks.Update(ctx, id, in)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(task)
		} else {
			printTask(task)
		}
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task (--cascade removes its subtree)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		cascade, _ := cmd.Flags().GetBool("cascade")
		descendants := 0
		if cascade {
			descendants, err = svc.Tasks.DeleteCascade(ctx, id)
		} else {
			err = svc.Tasks.Delete(ctx, id)
		}
		if err != nil {
			return err
		}
		result := struct {
			DeletedTaskID int64 `json:"deleted_task_id"`
			CascadeCount  int   `json:"cascade_count"`
		}{DeletedTaskID: id, CascadeCount: descendants}
		if jsonMode() {
			printJSON(result)
			return nil
		}
		if descendants > 0 {
			fmt.Printf("Deleted task #%d and %d descendant(s)\n", id, descendants)
		} else {
			fmt.Printf("Deleted task #%d\n", id)
		}
		return nil
	},
}

var taskStartCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Move a task to doing and focus it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		task, err := svc.Tasks.Start(ctx, id, sessionID())
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(task)
		} else {
			fmt.Println("Started " + taskLine(task))
		}
		return nil
	},
}

var taskDoneCmd = &cobra.Command{
	Use:   "done [id]",
	Short: "Complete a task (defaults to the current focus)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var id *int64
		if len(args) == 1 {
			parsed, err := parseID(args[0])
			if err != nil {
				return err
			}
			id = &parsed
		}
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		result, err := svc.Tasks.Done(ctx, id, sessionID())
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(result)
			return nil
		}
		fmt.Println("Completed " + taskLine(result.Task))
		if result.NextStep != nil {
			fmt.Println(render(styleMuted, nextStepLine(result.NextStep)))
		}
		return nil
	},
}

func nextStepLine(step *types.NextStep) string {
	switch step.Kind {
	case types.NextParentIsReady:
		return fmt.Sprintf("parent #%d has no incomplete children left", *step.ParentID)
	case types.NextSiblingTasksRemain:
		return fmt.Sprintf("%d sibling task(s) under #%d still open", step.Remaining, *step.ParentID)
	case types.NextTopLevelTaskCompleted:
		return "top-level task completed"
	case types.NextWorkspaceIsClear:
		return "workspace is clear"
	default:
		return string(step.Kind)
	}
}

var taskNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Recommend the next task to work on",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		result, err := svc.Tasks.PickNext(ctx, sessionID())
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(result)
			return nil
		}
		if result.Task == nil {
			fmt.Println(render(styleMuted, result.Reason))
			return nil
		}
		fmt.Println(taskLine(result.Task))
		return nil
	},
}

var taskSpawnCmd = &cobra.Command{
	Use:   "spawn <name>",
	Short: "Create a subtask under the current focus and switch to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		session := sessionID()
		state, err := svc.Workspace.Get(ctx, session)
		if err != nil {
			return err
		}
		if state.CurrentTaskID == nil {
			return types.NewInvalidInput("no current task to attach the subtask to; start a task first")
		}

		priority, err := priorityFlag(cmd)
		if err != nil {
			return err
		}
		owner, _ := cmd.Flags().GetString("owner")
		in := addInput(cmd, args[0], "", owner, priority)
		task, err := svc.Tasks.SpawnSubtask(ctx, *state.CurrentTaskID, in, session)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(task)
		} else {
			fmt.Println("Spawned " + taskLine(task))
		}
		return nil
	},
}

var taskContextCmd = &cobra.Command{
	Use:   "context <id>",
	Short: "Show a task with its ancestry, children, and events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		full, err := svc.Tasks.GetWithEvents(ctx, id)
		if err != nil {
			return err
		}
		ancestry, err := svc.Tasks.Ancestry(ctx, id)
		if err != nil {
			return err
		}
		children, err := svc.Tasks.Children(ctx, id)
		if err != nil {
			return err
		}
		result := struct {
			Task       *types.Task    `json:"task"`
			Ancestry   []*types.Task  `json:"ancestry"`
			Children   []*types.Task  `json:"children"`
			Events     []*types.Event `json:"events"`
			EventCount int            `json:"event_count"`
		}{full.Task, ancestry, children, full.Events, full.EventCount}
		if jsonMode() {
			printJSON(result)
			return nil
		}
		for depth, ancestor := range ancestry {
			fmt.Println(indent(taskLine(ancestor), spaces(depth*2)))
		}
		fmt.Println(indent(taskLine(full.Task), spaces(len(ancestry)*2)))
		for _, child := range children {
			fmt.Println(indent(taskLine(child), spaces((len(ancestry)+1)*2)))
		}
		if full.EventCount > 0 {
			fmt.Printf("\n%d event(s):\n", full.EventCount)
			for _, event := range full.Events {
				printEvent(event)
			}
		}
		return nil
	},
}

func spaces(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = ' '
	}
	return string(out)
}

var depCmd = &cobra.Command{
	Use:     "dep",
	GroupID: "tasks",
	Short:   "Manage blocked-by dependencies between tasks",
}

var depAddCmd = &cobra.Command{
	Use:   "add <blocking-id> <blocked-id>",
	Short: "Record that one task blocks another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		blocking, err := parseID(args[0])
		if err != nil {
			return err
		}
		blocked, err := parseID(args[1])
		if err != nil {
			return err
		}
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		dep, err := svc.Dependencies.Add(ctx, blocking, blocked)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(dep)
		} else {
			fmt.Printf("Task #%d is now blocked by #%d\n", blocked, blocking)
		}
		return nil
	},
}

var depRemoveCmd = &cobra.Command{
	Use:   "remove <blocking-id> <blocked-id>",
	Short: "Remove a dependency edge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		blocking, err := parseID(args[0])
		if err != nil {
			return err
		}
		blocked, err := parseID(args[1])
		if err != nil {
			return err
		}
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		if err := svc.Dependencies.Remove(ctx, blocking, blocked); err != nil {
			return err
		}
		if jsonMode() {
			printJSON(struct {
				Removed bool `json:"removed"`
			}{true})
		} else {
			fmt.Printf("Task #%d no longer blocked by #%d\n", blocked, blocking)
		}
		return nil
	},
}

func addTaskFlags(cmd *cobra.Command) {
	cmd.Flags().String("spec", "", "Implementation spec (required before starting)")
	cmd.Flags().String("priority", "", "Priority: 1-4 or critical/high/medium/low")
	cmd.Flags().Int("complexity", 0, "Complexity estimate 1-10")
	cmd.Flags().String("owner", "", "Owner label (default \"user\")")
	cmd.Flags().String("active-form", "", "Present-continuous display form")
	cmd.Flags().String("meta", "", "Metadata patch as a JSON object")
}

func init() {
	addTaskFlags(taskAddCmd)
	taskAddCmd.Flags().String("status", "", "Initial status (default todo)")
	taskAddCmd.Flags().Int64("parent", 0, "Parent task id")

	taskListCmd.Flags().StringP("status", "s", "", "Filter by status (todo, doing, done)")
	taskListCmd.Flags().Int64("parent", 0, "Only children of this task")
	taskListCmd.Flags().Bool("roots", false, "Only top-level tasks")
	taskListCmd.Flags().String("sort", "", "Sort mode: id, priority, time, focus_aware")
	taskListCmd.Flags().Int("limit", 0, "Page size (default 50)")
	taskListCmd.Flags().Int("offset", 0, "Page offset")

	addTaskFlags(taskUpdateCmd)
	taskUpdateCmd.Flags().String("name", "", "New name")
	taskUpdateCmd.Flags().String("status", "", "New status (todo, doing, done)")
	taskUpdateCmd.Flags().String("parent", "", "New parent id, or \"null\" to move to root")

	taskDeleteCmd.Flags().Bool("cascade", false, "Also delete all descendants")

	addTaskFlags(taskSpawnCmd)

	taskCmd.AddCommand(taskAddCmd, taskGetCmd, taskListCmd, taskUpdateCmd,
		taskDeleteCmd, taskStartCmd, taskDoneCmd, taskNextCmd, taskSpawnCmd,
		taskContextCmd)
	depCmd.AddCommand(depAddCmd, depRemoveCmd)
	rootCmd.AddCommand(taskCmd, depCmd)
}
