package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/timeutil"
	"github.com/untoldecay/intent-engine/internal/types"
)

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "tasks",
	Short:   "Record and browse the decision log",
}

var logAddCmd = &cobra.Command{
	Use:   "add <task-id> <body>...",
	Short: "Append an event to a task's log",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		taskID, err := parseID(args[0])
		if err != nil {
			return err
		}
		body := strings.Join(args[1:], " ")
		logType, _ := cmd.Flags().GetString("type")

		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		event, err := svc.Events.Add(ctx, taskID, logType, body)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(event)
		} else {
			printEvent(event)
		}
		return nil
	},
}

var logListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		var filter types.EventFilter
		if cmd.Flags().Changed("task") {
			taskID, _ := cmd.Flags().GetInt64("task")
			filter.TaskID = &taskID
		}
		filter.LogType, _ = cmd.Flags().GetString("type")
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			t, err := timeutil.ParseSince(since, time.Now())
			if err != nil {
				return err
			}
			filter.Since = &t
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")

		events, err := svc.Events.List(ctx, filter)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(events)
			return nil
		}
		if len(events) == 0 {
			fmt.Println(render(styleMuted, "no events"))
			return nil
		}
		for _, event := range events {
			printEvent(event)
		}
		return nil
	},
}

func init() {
	logAddCmd.Flags().StringP("type", "t", types.LogNote, "Log type: decision, blocker, milestone, note")
	logListCmd.Flags().Int64("task", 0, "Only events for this task")
	logListCmd.Flags().StringP("type", "t", "", "Filter by log type")
	logListCmd.Flags().String("since", "", "Relative window (e.g. 2h, 3d) or RFC3339 timestamp")
	logListCmd.Flags().Int("limit", 0, "Maximum events to return (default 50)")
	logCmd.AddCommand(logAddCmd, logListCmd)
	rootCmd.AddCommand(logCmd)
}
