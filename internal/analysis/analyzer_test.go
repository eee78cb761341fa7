package analysis

import (
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/untoldecay/intent-engine/internal/types"
)

func resetGate() {
	lastAnalysisUnix.Store(0)
}

func TestTryAcquireCooldown(t *testing.T) {
	resetGate()
	t.Cleanup(resetGate)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	cooldown := 15 * time.Minute

	if !tryAcquire(base, cooldown) {
		t.Fatal("first acquisition must succeed")
	}
	if tryAcquire(base+60, cooldown) {
		t.Fatal("acquisition inside the cooldown window must fail")
	}
	if tryAcquire(base+int64(cooldown/time.Second)-1, cooldown) {
		t.Fatal("acquisition one second before the window closes must fail")
	}
	if !tryAcquire(base+int64(cooldown/time.Second), cooldown) {
		t.Fatal("acquisition after the window must succeed")
	}
}

func TestTryAcquireClockSkewResets(t *testing.T) {
	resetGate()
	t.Cleanup(resetGate)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	// A timestamp from the future would otherwise freeze the gate.
	lastAnalysisUnix.Store(now + 3600)

	if tryAcquire(now, 15*time.Minute) {
		t.Fatal("skewed call itself should not win the window")
	}
	if got := lastAnalysisUnix.Load(); got != now {
		t.Fatalf("gate not reset to current time: %d", got)
	}
	if !tryAcquire(now+int64(15*time.Minute/time.Second), 15*time.Minute) {
		t.Fatal("gate must recover after the reset")
	}
}

func TestConfigEnabled(t *testing.T) {
	full := Config{Endpoint: "https://llm.internal", APIKey: "k", Model: "m"}
	if !full.Enabled() {
		t.Fatal("fully populated config must be enabled")
	}
	for _, cfg := range []Config{
		{APIKey: "k", Model: "m"},
		{Endpoint: "e", Model: "m"},
		{Endpoint: "e", APIKey: "k"},
		{},
	} {
		if cfg.Enabled() {
			t.Fatalf("partial config must be disabled: %+v", cfg)
		}
	}

	if _, err := New(Config{}, nil, log.New(io.Discard, "", 0)); err == nil {
		t.Fatal("New must reject an incomplete config")
	}
}

func TestRenderPrompt(t *testing.T) {
	a, err := New(Config{Endpoint: "https://llm.internal", APIKey: "k", Model: "m"},
		nil, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	priority := 2
	parent := int64(3)
	spec := strings.Repeat("x", 300)
	tasks := []*types.Task{
		{ID: 7, Name: "wire the parser", Status: types.StatusDoing, Priority: &priority, ParentID: &parent, Spec: &spec},
		{ID: 8, Name: "write docs", Status: types.StatusTodo},
	}

	prompt, err := a.renderPrompt(tasks)
	if err != nil {
		t.Fatalf("renderPrompt failed: %v", err)
	}
	for _, want := range []string{"#7", "doing P2 child of #3", "wire the parser", "#8", "write docs"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	// Long specs are clipped before they hit the wire.
	if strings.Contains(prompt, strings.Repeat("x", 201)) {
		t.Fatal("spec was not truncated")
	}
	if !strings.Contains(prompt, strings.Repeat("x", 200)+"...") {
		t.Fatal("truncated spec lost its ellipsis")
	}
}
