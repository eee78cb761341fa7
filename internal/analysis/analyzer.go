// Package analysis runs background LLM reviews of the task graph and
// stores the output as suggestions.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"net"
	"strings"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/untoldecay/intent-engine/internal/storage"
	"github.com/untoldecay/intent-engine/internal/types"
)

const (
	// DefaultCooldown is the minimum interval between analysis runs.
	DefaultCooldown = 15 * time.Minute

	maxRetries       = 3
	initialBackoff   = 1 * time.Second
	maxTasksInPrompt = 50
)

// lastAnalysisUnix is the process-wide cooldown gate, in Unix seconds.
// Shared across analyzers so concurrent triggers cannot stack runs.
var lastAnalysisUnix atomic.Int64

// Config selects the model endpoint. Analysis is enabled only when all
// three values are present.
type Config struct {
	Endpoint string
	APIKey   string
	Model    string
	Cooldown time.Duration
}

// Enabled reports whether the endpoint is fully configured.
func (c Config) Enabled() bool {
	return c.Endpoint != "" && c.APIKey != "" && c.Model != ""
}

// Analyzer asks the configured model to review the incomplete task graph
// and persists the answer as a task_structure suggestion.
type Analyzer struct {
	client   anthropic.Client
	model    anthropic.Model
	store    storage.Store
	cooldown time.Duration
	logger   *log.Logger
	tmpl     *template.Template
}

// New builds an analyzer. Returns an error when the config is incomplete.
func New(cfg Config, store storage.Store, logger *log.Logger) (*Analyzer, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("analysis endpoint not configured: endpoint, api key, and model are all required")
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	tmpl, err := template.New("review").Parse(reviewPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse review template: %w", err)
	}
	return &Analyzer{
		client:   anthropic.NewClient(option.WithAPIKey(cfg.APIKey), option.WithBaseURL(cfg.Endpoint)),
		model:    anthropic.Model(cfg.Model),
		store:    store,
		cooldown: cooldown,
		logger:   logger,
		tmpl:     tmpl,
	}, nil
}

// MaybeAnalyze spawns one background analysis run if the cooldown window
// has elapsed. It never blocks the caller; the return value reports
// whether a run was started. A wall clock that moved backwards resets the
// gate instead of silencing analysis until the old timestamp is reached.
func (a *Analyzer) MaybeAnalyze(ctx context.Context) bool {
	if !tryAcquire(time.Now().Unix(), a.cooldown) {
		return false
	}
	go a.run(context.WithoutCancel(ctx))
	return true
}

// tryAcquire is the CAS admission ticket: exactly one caller per cooldown
// window wins.
func tryAcquire(now int64, cooldown time.Duration) bool {
	for {
		last := lastAnalysisUnix.Load()
		if now < last {
			// Clock skew: self-heal by adopting the earlier time.
			lastAnalysisUnix.CompareAndSwap(last, now)
			continue
		}
		if now-last < int64(cooldown/time.Second) {
			return false
		}
		if lastAnalysisUnix.CompareAndSwap(last, now) {
			return true
		}
	}
}

// run is the detached worker. Failures are recorded as error suggestions
// so they surface in reports instead of vanishing into the log.
func (a *Analyzer) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	content, err := a.analyze(ctx)
	if err != nil {
		a.logger.Printf("analysis failed: %v", err)
		if _, serr := a.store.AddSuggestion(ctx, types.SuggestionError, err.Error()); serr != nil {
			a.logger.Printf("failed to record analysis error: %v", serr)
		}
		return
	}
	if content == "" {
		return
	}
	if _, err := a.store.AddSuggestion(ctx, types.SuggestionTaskStructure, content); err != nil {
		a.logger.Printf("failed to store analysis suggestion: %v", err)
	}
}

func (a *Analyzer) analyze(ctx context.Context) (string, error) {
	tasks, err := a.store.TasksByStatuses(ctx,
		[]types.TaskStatus{types.StatusDoing, types.StatusTodo}, maxTasksInPrompt)
	if err != nil {
		return "", fmt.Errorf("failed to load tasks for analysis: %w", err)
	}
	if len(tasks) == 0 {
		return "", nil
	}

	prompt, err := a.renderPrompt(tasks)
	if err != nil {
		return "", fmt.Errorf("failed to render analysis prompt: %w", err)
	}
	return a.callWithRetry(ctx, prompt)
}

func (a *Analyzer) callWithRetry(ctx context.Context, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := initialBackoff * time.Duration(math.Pow(2, float64(attempt-1)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		message, err := a.client.Messages.New(ctx, params)
		if err == nil {
			if len(message.Content) == 0 {
				return "", fmt.Errorf("unexpected response format: no content blocks")
			}
			content := message.Content[0]
			if content.Type != "text" {
				return "", fmt.Errorf("unexpected response format: not a text block (type=%s)", content.Type)
			}
			return content.Text, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !isRetryable(err) {
			return "", fmt.Errorf("non-retryable error: %w", err)
		}
	}
	return "", fmt.Errorf("failed after %d retries: %w", maxRetries+1, lastErr)
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}

type promptTask struct {
	ID       int64
	Name     string
	Status   string
	Priority string
	Parent   string
	Spec     string
}

func (a *Analyzer) renderPrompt(tasks []*types.Task) (string, error) {
	rows := make([]promptTask, 0, len(tasks))
	for _, task := range tasks {
		row := promptTask{
			ID:     task.ID,
			Name:   task.Name,
			Status: string(task.Status),
		}
		if task.Priority != nil {
			row.Priority = fmt.Sprintf("P%d", *task.Priority)
		}
		if task.ParentID != nil {
			row.Parent = fmt.Sprintf("#%d", *task.ParentID)
		}
		if task.Spec != nil {
			row.Spec = truncate(*task.Spec, 200)
		}
		rows = append(rows, row)
	}

	var sb strings.Builder
	if err := a.tmpl.Execute(&sb, rows); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

const reviewPromptTemplate = `You are reviewing the open task list of a software project. Look for structural problems: tasks that are too broad and should be split, missing dependency links between obviously ordered tasks, priorities that contradict the hierarchy, and stale doing tasks.

Open tasks:
{{range .}}- #{{.ID}} [{{.Status}}{{if .Priority}} {{.Priority}}{{end}}{{if .Parent}} child of {{.Parent}}{{end}}] {{.Name}}{{if .Spec}}
  {{.Spec}}{{end}}
{{end}}

Respond with at most three short, actionable observations. If the structure looks healthy, say so in one sentence. Do not restate the task list.`
