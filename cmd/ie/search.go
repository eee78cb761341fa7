package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/service"
	"github.com/untoldecay/intent-engine/internal/types"
)

var searchCmd = &cobra.Command{
	Use:     "search <query>...",
	GroupID: "tasks",
	Short:   "Search tasks and events",
	Long: `Unified search over task names, specs, and event bodies. Queries of
the form "#<id>" look up a task directly; bare status words (todo,
doing, done, active) list tasks in that state; anything else is full
text.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		_, svc, closer, err := openServices(ctx)
		if err != nil {
			return err
		}
		defer closer()

		tasksOnly, _ := cmd.Flags().GetBool("tasks")
		eventsOnly, _ := cmd.Flags().GetBool("events")
		if tasksOnly && eventsOnly {
			return types.NewInvalidInput("--tasks and --events are mutually exclusive")
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		page, err := svc.Search.Search(ctx, service.SearchInput{
			Query:         strings.Join(args, " "),
			IncludeTasks:  !eventsOnly,
			IncludeEvents: !tasksOnly,
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(page)
			return nil
		}
		if len(page.Results) == 0 {
			fmt.Println(render(styleMuted, "no results"))
			return nil
		}
		for _, result := range page.Results {
			printSearchResult(result)
		}
		if page.HasMore {
			fmt.Println(render(styleMuted,
				fmt.Sprintf("more results available (use --offset %d)", page.Offset+len(page.Results))))
		}
		return nil
	},
}

func printSearchResult(result *types.SearchResult) {
	ref := render(styleID, fmt.Sprintf("#%d", result.TaskID))
	if result.Type == types.ResultEvent {
		chain := make([]string, len(result.Ancestry))
		for i, hop := range result.Ancestry {
			chain[i] = hop.Name
		}
		fmt.Printf("%s %s [%s] %s\n  %s\n",
			ref, result.Name, result.LogType,
			render(styleMuted, strings.Join(chain, " > ")), result.Snippet)
		return
	}
	fmt.Printf("%s %s (%s, matched %s)\n  %s\n",
		ref, result.Name, result.Status, result.Field, result.Snippet)
}

func init() {
	searchCmd.Flags().Bool("tasks", false, "Only task results")
	searchCmd.Flags().Bool("events", false, "Only event results")
	searchCmd.Flags().Int("limit", 0, "Page size (default 20)")
	searchCmd.Flags().Int("offset", 0, "Page offset")
	rootCmd.AddCommand(searchCmd)
}
