package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/untoldecay/intent-engine/internal/config"
	"github.com/untoldecay/intent-engine/internal/types"
)

// Styles used by text output; rendered only when color is appropriate.
var (
	styleError   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleID      = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	styleDoing   = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	styleDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	styleHeading = lipgloss.NewStyle().Bold(true)
)

func jsonMode() bool {
	return config.GetString("format") == "json"
}

// isTerminal reports whether stdout is a TTY.
func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// shouldUseColor honors NO_COLOR, CLICOLOR=0, and CLICOLOR_FORCE, falling
// back to TTY detection.
func shouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" {
		return true
	}
	return isTerminal()
}

// render applies a style only when color output is enabled.
func render(style lipgloss.Style, s string) string {
	if !shouldUseColor() {
		return s
	}
	return style.Render(s)
}

// printJSON writes the canonical machine-readable form of v.
func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr(fmt.Errorf("failed to encode output: %w", err))
	}
	fmt.Println(string(data))
}

// exitErr reports err and exits 1. JSON mode emits a stable {error, code}
// envelope on stdout; text mode prints a styled line on stderr.
func exitErr(err error) {
	if jsonMode() {
		envelope := types.AsError(err)
		data, merr := json.Marshal(envelope)
		if merr != nil {
			data = []byte(fmt.Sprintf(`{"error":%q,"code":"INTERNAL_ERROR"}`, err.Error()))
		}
		fmt.Println(string(data))
	} else {
		fmt.Fprintln(os.Stderr, render(styleError, "Error: ")+err.Error())
	}
	os.Exit(1)
}

func stderrLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

// statusBadge renders a task status for text output.
func statusBadge(status types.TaskStatus) string {
	switch status {
	case types.StatusDoing:
		return render(styleDoing, "doing")
	case types.StatusDone:
		return render(styleDone, "done ")
	default:
		return "todo "
	}
}

// priorityLabel renders "P2" or "-" for unset.
func priorityLabel(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("P%d", *p)
}

// taskLine is the one-line text rendering of a task.
func taskLine(task *types.Task) string {
	var sb strings.Builder
	sb.WriteString(render(styleID, fmt.Sprintf("#%-4d", task.ID)))
	sb.WriteString(" ")
	sb.WriteString(statusBadge(task.Status))
	sb.WriteString(" ")
	sb.WriteString(fmt.Sprintf("%-3s", priorityLabel(task.Priority)))
	sb.WriteString(" ")
	sb.WriteString(task.Name)
	if task.ParentID != nil {
		sb.WriteString(render(styleMuted, fmt.Sprintf("  (child of #%d)", *task.ParentID)))
	}
	return sb.String()
}

// printTask writes a full task card in text mode.
func printTask(task *types.Task) {
	fmt.Println(taskLine(task))
	if task.Spec != nil && *task.Spec != "" {
		fmt.Println(indent(*task.Spec, "  "))
	}
	meta := []string{"owner: " + task.Owner}
	if task.ActiveForm != nil {
		meta = append(meta, "active form: "+*task.ActiveForm)
	}
	meta = append(meta, "created: "+task.CreatedAt.Format(time.RFC3339))
	if task.FirstDoneAt != nil {
		meta = append(meta, "done: "+task.FirstDoneAt.Format(time.RFC3339))
	}
	fmt.Println(render(styleMuted, "  "+strings.Join(meta, " | ")))
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

// printEvent writes one event line in text mode.
func printEvent(event *types.Event) {
	fmt.Printf("%s %s %s #%d\n%s\n",
		render(styleMuted, event.Timestamp.Format("2006-01-02 15:04")),
		render(styleHeading, fmt.Sprintf("[%s]", event.LogType)),
		render(styleMuted, "task"), event.TaskID,
		indent(event.DiscussionData, "  "))
}
