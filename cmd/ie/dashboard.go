package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/config"
	"github.com/untoldecay/intent-engine/internal/dashboard"
	"github.com/untoldecay/intent-engine/internal/project"
	"github.com/untoldecay/intent-engine/internal/types"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "workspace",
	Short:   "Manage the local dashboard process",
}

func dashboardPort(cmd *cobra.Command) int {
	if cmd.Flags().Changed("port") {
		port, _ := cmd.Flags().GetInt("port")
		return port
	}
	if port := config.GetInt("dashboard.port"); port > 0 {
		return port
	}
	return dashboard.DefaultPort
}

var dashboardStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check whether a dashboard is running",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		port := dashboardPort(cmd)
		client := dashboard.NewClient(port)

		if !client.Health(ctx) {
			if jsonMode() {
				printJSON(struct {
					Running bool `json:"running"`
					Port    int  `json:"port"`
				}{false, port})
				return nil
			}
			fmt.Printf("No dashboard responding on port %d\n", port)
			return nil
		}
		info, err := client.Info(ctx)
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(struct {
				Running bool            `json:"running"`
				Port    int             `json:"port"`
				Info    *dashboard.Info `json:"info"`
			}{true, port, info})
			return nil
		}
		fmt.Printf("Dashboard %s on port %d (pid %d, up %.0fs, %d project(s))\n",
			info.Version, port, info.PID, info.UptimeSeconds, info.ProjectCount)
		return nil
	},
}

var dashboardListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered dashboards across projects",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := dashboard.NewRegistry()
		if err != nil {
			return err
		}
		entries, err := registry.List()
		if err != nil {
			return err
		}
		if jsonMode() {
			printJSON(entries)
			return nil
		}
		if len(entries) == 0 {
			fmt.Println(render(styleMuted, "no registered dashboards"))
			return nil
		}
		for _, entry := range entries {
			fmt.Printf("port %-5d pid %-7d %s\n", entry.Port, entry.PID, entry.ProjectRoot)
		}
		return nil
	},
}

var dashboardStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dashboard for this project",
	Long: `Start the dashboard process configured at dashboard.bin (or
IE_DASHBOARD_BIN) and register it. The dashboard ships separately; this
command only launches and tracks it.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		proj, err := project.FindFromWd()
		if err != nil {
			return err
		}
		port := dashboardPort(cmd)

		client := dashboard.NewClient(port)
		if client.Health(ctx) {
			return types.NewInvalidInput("a dashboard is already running on port %d", port)
		}

		bin := config.GetString("dashboard.bin")
		if bin == "" {
			bin = os.Getenv("IE_DASHBOARD_BIN")
		}
		if bin == "" {
			return types.NewInvalidInput("no dashboard binary configured: set dashboard.bin or IE_DASHBOARD_BIN")
		}

		proc := exec.Command(bin,
			"--port", fmt.Sprintf("%d", port),
			"--db", proj.DBPath())
		proc.Stdout = nil
		proc.Stderr = nil
		if err := proc.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		// Detach; the registry tracks the pid from here.
		pid := proc.Process.Pid
		_ = proc.Process.Release()

		registry, err := dashboard.NewRegistry()
		if err != nil {
			return err
		}
		if err := registry.Register(dashboard.Entry{
			ProjectRoot: proj.Root,
			Port:        port,
			PID:         pid,
			Version:     Version,
			StartedAt:   time.Now(),
		}); err != nil {
			return err
		}

		if jsonMode() {
			printJSON(struct {
				Port int `json:"port"`
				PID  int `json:"pid"`
			}{port, pid})
		} else {
			fmt.Printf("Dashboard starting on port %d (pid %d)\n", port, pid)
		}
		return nil
	},
}

var dashboardStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Shut down the running dashboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		port := dashboardPort(cmd)
		client := dashboard.NewClient(port)

		if !client.Health(ctx) {
			fmt.Printf("No dashboard responding on port %d\n", port)
			return nil
		}
		if err := client.Shutdown(ctx); err != nil {
			return err
		}

		// Drop the registry entry if this project owns it.
		if proj, err := project.FindFromWd(); err == nil {
			if registry, err := dashboard.NewRegistry(); err == nil {
				entries, _ := registry.List()
				for _, entry := range entries {
					if entry.ProjectRoot == proj.Root && entry.Port == port {
						_ = registry.Unregister(entry.ProjectRoot, entry.PID)
					}
				}
			}
		}

		if jsonMode() {
			printJSON(struct {
				Stopped bool `json:"stopped"`
				Port    int  `json:"port"`
			}{true, port})
		} else {
			fmt.Printf("Dashboard on port %d stopped\n", port)
		}
		return nil
	},
}

var dashboardOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open the dashboard in a browser",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		port := dashboardPort(cmd)
		url := fmt.Sprintf("http://127.0.0.1:%d", port)

		if !dashboard.NewClient(port).Health(ctx) {
			return types.NewInvalidInput("no dashboard responding on port %d; run \"ie dashboard start\" first", port)
		}
		if err := openBrowser(url); err != nil {
			// Still useful: the URL is the answer.
			fmt.Println(url)
			return nil
		}
		fmt.Printf("Opened %s\n", url)
		return nil
	},
}

func openBrowser(url string) error {
	var bin string
	switch runtime.GOOS {
	case "darwin":
		bin = "open"
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		bin = "xdg-open"
	}
	return exec.Command(bin, url).Start()
}

func init() {
	dashboardCmd.PersistentFlags().Int("port", 0, "Dashboard port (default 11391)")
	dashboardCmd.AddCommand(dashboardStatusCmd, dashboardListCmd, dashboardStartCmd,
		dashboardStopCmd, dashboardOpenCmd)
	rootCmd.AddCommand(dashboardCmd)
}
