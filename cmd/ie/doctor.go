package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/project"
	"github.com/untoldecay/intent-engine/internal/storage/sqlite"
)

type checkResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: "workspace",
	Short:   "Diagnose the project setup",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var checks []checkResult
		healthy := true
		fail := func(name, detail string) {
			checks = append(checks, checkResult{Name: name, OK: false, Detail: detail})
			healthy = false
		}
		pass := func(name, detail string) {
			checks = append(checks, checkResult{Name: name, OK: true, Detail: detail})
		}

		proj, err := project.FindFromWd()
		if err != nil {
			fail("project", err.Error())
			return reportChecks(checks, healthy)
		}
		pass("project", proj.Root)

		if _, err := os.Stat(proj.ConfigPath()); err == nil {
			pass("config", proj.ConfigPath())
		} else {
			// Missing config is fine; all keys have defaults.
			pass("config", "using defaults (no config.yaml)")
		}

		store, err := sqlite.New(ctx, proj.DBPath())
		if err != nil {
			fail("database", err.Error())
			return reportChecks(checks, healthy)
		}
		defer func() { _ = store.Close() }()
		pass("database", proj.DBPath())

		version, err := store.GetState(ctx, "schema_version")
		if err != nil {
			fail("schema", err.Error())
		} else {
			pass("schema", "version "+version)
		}

		total, incomplete, err := store.CountTasks(ctx)
		if err != nil {
			fail("tasks", err.Error())
		} else {
			pass("tasks", fmt.Sprintf("%d total, %d incomplete", total, incomplete))
		}

		return reportChecks(checks, healthy)
	},
}

func reportChecks(checks []checkResult, healthy bool) error {
	if jsonMode() {
		printJSON(struct {
			Healthy bool          `json:"healthy"`
			Checks  []checkResult `json:"checks"`
		}{healthy, checks})
	} else {
		for _, check := range checks {
			mark := render(styleDone, "ok  ")
			if !check.OK {
				mark = render(styleError, "FAIL")
			}
			fmt.Printf("%s %-8s %s\n", mark, check.Name, check.Detail)
		}
	}
	if !healthy {
		// The failing check is already on screen.
		os.Exit(1)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
