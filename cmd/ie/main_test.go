package main

import (
	"testing"

	"github.com/spf13/cobra"

	"github.com/untoldecay/intent-engine/internal/config"
	"github.com/untoldecay/intent-engine/internal/types"
)

func TestParseID(t *testing.T) {
	if id, err := parseID("42"); err != nil || id != 42 {
		t.Fatalf("parseID(42) = %d, %v", id, err)
	}
	for _, bad := range []string{"", "0", "-3", "abc", "1.5"} {
		if _, err := parseID(bad); err == nil {
			t.Errorf("parseID(%q) should fail", bad)
		}
	}
}

func newFlagCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "x", Run: func(cmd *cobra.Command, args []string) {}}
	cmd.Flags().String("spec", "", "")
	cmd.Flags().String("parent", "", "")
	cmd.SetArgs(nil)
	return cmd
}

func TestStringFlagAbsentVsEmpty(t *testing.T) {
	cmd := newFlagCmd()
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := stringFlag(cmd, "spec"); got != nil {
		t.Fatalf("absent flag should be nil, got %q", *got)
	}

	cmd = newFlagCmd()
	cmd.SetArgs([]string{"--spec", ""})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	got := stringFlag(cmd, "spec")
	if got == nil || *got != "" {
		t.Fatalf("explicit empty flag should be non-nil empty, got %v", got)
	}
}

func TestRawFlagPreservesNull(t *testing.T) {
	cmd := newFlagCmd()
	cmd.SetArgs([]string{"--parent", "null"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := string(rawFlag(cmd, "parent")); got != "null" {
		t.Fatalf("rawFlag = %q, want null", got)
	}

	cmd = newFlagCmd()
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := rawFlag(cmd, "parent"); got != nil {
		t.Fatalf("absent raw flag should be nil, got %q", got)
	}
}

func TestNextStepLine(t *testing.T) {
	parent := int64(7)
	cases := []struct {
		step *types.NextStep
		want string
	}{
		{&types.NextStep{Kind: types.NextParentIsReady, ParentID: &parent},
			"parent #7 has no incomplete children left"},
		{&types.NextStep{Kind: types.NextSiblingTasksRemain, ParentID: &parent, Remaining: 2},
			"2 sibling task(s) under #7 still open"},
		{&types.NextStep{Kind: types.NextTopLevelTaskCompleted},
			"top-level task completed"},
		{&types.NextStep{Kind: types.NextWorkspaceIsClear},
			"workspace is clear"},
	}
	for _, tc := range cases {
		if got := nextStepLine(tc.step); got != tc.want {
			t.Errorf("nextStepLine(%s) = %q, want %q", tc.step.Kind, got, tc.want)
		}
	}
}

func TestShouldUseColorEnvOverrides(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("CLICOLOR_FORCE", "1")
	if shouldUseColor() {
		t.Fatal("NO_COLOR must win over CLICOLOR_FORCE")
	}

	t.Setenv("NO_COLOR", "")
	t.Setenv("CLICOLOR", "0")
	if shouldUseColor() {
		t.Fatal("CLICOLOR=0 disables color")
	}

	t.Setenv("CLICOLOR", "")
	if !shouldUseColor() {
		// Not a TTY under go test; CLICOLOR_FORCE is still set above.
		t.Fatal("CLICOLOR_FORCE enables color without a TTY")
	}
}

func TestAnalysisConfigEnabledByEnvAlone(t *testing.T) {
	t.Setenv("IE_LLM_ENDPOINT", "https://llm.example.com")
	t.Setenv("IE_LLM_API_KEY", "sk-test")
	t.Setenv("IE_LLM_MODEL", "claude-haiku-4-5")
	if err := config.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Presence of the three variables is the only switch.
	cfg := analysisConfig()
	if !cfg.Enabled() {
		t.Fatalf("expected analysis enabled from env alone, got %+v", cfg)
	}
	if cfg.Model != "claude-haiku-4-5" {
		t.Fatalf("unexpected model %q", cfg.Model)
	}

	t.Setenv("IE_LLM_API_KEY", "")
	if err := config.Initialize(); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if analysisConfig().Enabled() {
		t.Fatal("missing api key must disable analysis")
	}
}

func TestIndent(t *testing.T) {
	if got := indent("a\nb\n", "  "); got != "  a\n  b" {
		t.Fatalf("indent = %q", got)
	}
}
