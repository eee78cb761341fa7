package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/untoldecay/intent-engine/internal/service"
	"github.com/untoldecay/intent-engine/internal/storage/sqlite"
	"github.com/untoldecay/intent-engine/internal/types"
)

func newTestServices(t *testing.T) *service.Services {
	t.Helper()
	store, err := sqlite.New(context.Background(), filepath.Join(t.TempDir(), "project.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return service.New(store)
}

// runServer feeds the request lines through a server and returns the
// response lines, parsed.
func runServer(t *testing.T, svc *service.Services, lines ...string) []Response {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer
	srv := newTestServer(svc, "test-session", in, &out, log.New(io.Discard, "", 0))
	if err := srv.Serve(context.Background()); err != nil {
		t.Fatalf("serve failed: %v", err)
	}

	var responses []Response
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var resp Response
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			t.Fatalf("malformed response line %q: %v", line, err)
		}
		responses = append(responses, resp)
	}
	return responses
}

func callLine(id int, tool string, arguments string) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"%s","arguments":%s}}`,
		id, tool, arguments)
}

// toolText extracts the pretty-JSON text payload of a successful tool call.
func toolText(t *testing.T, resp Response) string {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("tool call failed: %+v", resp.Error)
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("failed to re-encode result: %v", err)
	}
	var result CallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("result is not a tool result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("expected one text content block, got %+v", result.Content)
	}
	return result.Content[0].Text
}

func TestServeHandshake(t *testing.T) {
	svc := newTestServices(t)

	responses := runServer(t, svc,
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/list"}`,
	)
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(responses))
	}

	var init InitializeResult
	data, _ := json.Marshal(responses[0].Result)
	if err := json.Unmarshal(data, &init); err != nil {
		t.Fatalf("bad initialize result: %v", err)
	}
	if init.ProtocolVersion != ProtocolVersion || init.ServerInfo.Name != ServerName {
		t.Fatalf("unexpected initialize result: %+v", init)
	}

	var list ListToolsResult
	data, _ = json.Marshal(responses[2].Result)
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("bad tools/list result: %v", err)
	}
	if len(list.Tools) != 17 {
		t.Fatalf("expected 17 tools, got %d", len(list.Tools))
	}
	for _, tool := range list.Tools {
		if tool.Name == "" || tool.Description == "" || len(tool.InputSchema) == 0 {
			t.Fatalf("incomplete tool entry: %+v", tool)
		}
	}
}

func TestServeFraming(t *testing.T) {
	svc := newTestServices(t)

	responses := runServer(t, svc,
		`{not json`,
		`{"jsonrpc":"1.0","id":7,"method":"ping"}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":8,"method":"no_such_method"}`,
		`{"jsonrpc":"2.0","id":9,"method":"ping"}`,
	)

	// The notification produces no line; everything else answers in order.
	if len(responses) != 4 {
		t.Fatalf("expected 4 responses, got %d", len(responses))
	}
	if responses[0].Error == nil || responses[0].Error.Code != CodeParseError {
		t.Fatalf("expected parse error, got %+v", responses[0])
	}
	if string(responses[0].ID) != "null" {
		t.Fatalf("parse errors answer with a null id, got %s", responses[0].ID)
	}
	if responses[1].Error == nil || responses[1].Error.Code != CodeInvalidRequest {
		t.Fatalf("expected invalid request, got %+v", responses[1])
	}
	if responses[2].Error == nil || responses[2].Error.Code != CodeMethodNotFound {
		t.Fatalf("expected method not found, got %+v", responses[2])
	}
	if responses[3].Error != nil {
		t.Fatalf("server must keep serving after errors: %+v", responses[3])
	}
}

func TestToolCallArgumentValidation(t *testing.T) {
	svc := newTestServices(t)

	responses := runServer(t, svc,
		callLine(1, ToolTaskAdd, `{}`),
		callLine(2, ToolTaskAdd, `{"name":null}`),
		callLine(3, ToolTaskAdd, `{"name":42}`),
		callLine(4, ToolTaskAdd, `{"name":""}`),
		callLine(5, ToolTaskStart, `{"task_id":"7"}`),
	)

	wants := []string{
		`missing required argument "name"`,
		`argument "name" must not be null`,
		`argument "name" must be a string`,
		`argument "name" must not be empty`,
		`argument "task_id" must be an integer`,
	}
	for i, want := range wants {
		resp := responses[i]
		if resp.Error == nil || resp.Error.Code != CodeServerError {
			t.Fatalf("case %d: expected server error, got %+v", i, resp)
		}
		if !strings.Contains(resp.Error.Message, want) {
			t.Fatalf("case %d: expected message containing %q, got %q", i, want, resp.Error.Message)
		}
	}
}

func TestToolCallLifecycleFlow(t *testing.T) {
	svc := newTestServices(t)

	responses := runServer(t, svc,
		callLine(1, ToolTaskAdd, `{"name":"design the schema","spec":"tables and indexes","priority":"high"}`),
		callLine(2, ToolTaskStart, `{"task_id":1}`),
		callLine(3, ToolCurrentTaskGet, `{}`),
		callLine(4, ToolEventAdd, `{"task_id":1,"log_type":"decision","body":"integers for ids"}`),
		callLine(5, ToolTaskDone, `{}`),
		callLine(6, ToolSearch, `{"query":"integers for"}`),
	)
	if len(responses) != 6 {
		t.Fatalf("expected 6 responses, got %d", len(responses))
	}

	var created types.Task
	if err := json.Unmarshal([]byte(toolText(t, responses[0])), &created); err != nil {
		t.Fatalf("bad task_add payload: %v", err)
	}
	if created.ID != 1 || created.Priority == nil || *created.Priority != types.PriorityHigh {
		t.Fatalf("unexpected created task: %+v", created)
	}

	var started types.Task
	if err := json.Unmarshal([]byte(toolText(t, responses[1])), &started); err != nil {
		t.Fatalf("bad task_start payload: %v", err)
	}
	if started.Status != types.StatusDoing || started.FirstDoingAt == nil {
		t.Fatalf("start did not transition the task: %+v", started)
	}

	var focus types.FocusState
	if err := json.Unmarshal([]byte(toolText(t, responses[2])), &focus); err != nil {
		t.Fatalf("bad current_task_get payload: %v", err)
	}
	if focus.CurrentTaskID == nil || *focus.CurrentTaskID != 1 {
		t.Fatalf("focus not set: %+v", focus)
	}

	// task_done with no id completes the session's focus.
	var done struct {
		Task     *types.Task     `json:"task"`
		NextStep *types.NextStep `json:"next_step"`
	}
	if err := json.Unmarshal([]byte(toolText(t, responses[4])), &done); err != nil {
		t.Fatalf("bad task_done payload: %v", err)
	}
	if done.Task == nil || done.Task.Status != types.StatusDone {
		t.Fatalf("done did not complete the task: %+v", done.Task)
	}

	var page types.SearchPage
	if err := json.Unmarshal([]byte(toolText(t, responses[5])), &page); err != nil {
		t.Fatalf("bad search payload: %v", err)
	}
	if page.TotalEvents != 1 {
		t.Fatalf("expected the decision event to be indexed, got %+v", page)
	}
}

func TestToolCallTaskListRootSentinel(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	root, err := svc.Tasks.Add(ctx, service.AddTaskInput{Name: "root"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := svc.Tasks.Add(ctx, service.AddTaskInput{Name: "child", ParentID: &root.ID}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	responses := runServer(t, svc,
		callLine(1, ToolTaskList, `{"parent_id":null}`),
		callLine(2, ToolTaskList, `{}`),
	)

	var rootsOnly, all types.TaskPage
	if err := json.Unmarshal([]byte(toolText(t, responses[0])), &rootsOnly); err != nil {
		t.Fatalf("bad task_list payload: %v", err)
	}
	if err := json.Unmarshal([]byte(toolText(t, responses[1])), &all); err != nil {
		t.Fatalf("bad task_list payload: %v", err)
	}
	if rootsOnly.TotalCount != 1 || rootsOnly.Tasks[0].ID != root.ID {
		t.Fatalf("null parent_id must list roots only, got %+v", rootsOnly)
	}
	if all.TotalCount != 2 {
		t.Fatalf("absent parent_id must not filter, got %+v", all)
	}
}

func TestToolCallErrorsCarryStableCodes(t *testing.T) {
	svc := newTestServices(t)

	responses := runServer(t, svc,
		callLine(1, ToolTaskGet, `{"task_id":9999}`),
		callLine(2, "no_such_tool", `{}`),
	)

	resp := responses[0]
	if resp.Error == nil || resp.Error.Code != CodeServerError {
		t.Fatalf("expected server error, got %+v", resp)
	}
	data, _ := json.Marshal(resp.Error.Data)
	if !strings.Contains(string(data), string(types.CodeTaskNotFound)) {
		t.Fatalf("expected TASK_NOT_FOUND in error data, got %s", data)
	}
	if responses[1].Error == nil || !strings.Contains(responses[1].Error.Message, "unknown tool") {
		t.Fatalf("expected unknown tool error, got %+v", responses[1])
	}
}
