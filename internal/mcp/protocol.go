package mcp

import (
	"encoding/json"
)

// JSON-RPC framing constants
const (
	JSONRPCVersion  = "2.0"
	ProtocolVersion = "2024-11-05"
	ServerName      = "intent-engine"
)

// ServerVersion is overridden by the CLI entrypoint at startup.
var ServerVersion = "0.0.0"

// JSON-RPC error codes surfaced on the wire
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeServerError    = -32000
)

// Tool name constants for all tools/call dispatch targets
const (
	ToolTaskAdd           = "task_add"
	ToolTaskAddDependency = "task_add_dependency"
	ToolTaskStart         = "task_start"
	ToolTaskPickNext      = "task_pick_next"
	ToolTaskSpawnSubtask  = "task_spawn_subtask"
	ToolTaskSwitch        = "task_switch"
	ToolTaskDone          = "task_done"
	ToolTaskUpdate        = "task_update"
	ToolTaskList          = "task_list"
	ToolTaskGet           = "task_get"
	ToolTaskContext       = "task_context"
	ToolTaskDelete        = "task_delete"
	ToolEventAdd          = "event_add"
	ToolEventList         = "event_list"
	ToolSearch            = "search"
	ToolCurrentTaskGet    = "current_task_get"
	ToolReportGenerate    = "report_generate"
)

// Request is one JSON-RPC request line from the client
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// must not produce a response line.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Response is one JSON-RPC response line to the client
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a failed response
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// InitializeResult advertises the protocol version and capabilities
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// Capabilities is the static capability set: tools only.
type Capabilities struct {
	Tools struct{} `json:"tools"`
}

// ServerInfo names the server implementation
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// CallParams are the params of a tools/call request
type CallParams struct {
	Name      string                     `json:"name"`
	Arguments map[string]json.RawMessage `json:"arguments"`
}

// ToolContent is one content block of a tool result
type ToolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the result of a tools/call request
type CallResult struct {
	Content []ToolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Tool describes one callable tool for tools/list
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// ListToolsResult is the result of a tools/list request
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// toolCatalog is the static tool set advertised by tools/list. Schemas are
// written inline; they are documentation for the client, validation happens
// in the handlers.
func toolCatalog() []Tool {
	return []Tool{
		{
			Name:        ToolTaskAdd,
			Description: "Create a task. Optionally attach it to a parent and set spec, priority, owner, active_form and metadata.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "Task name (non-empty)"},
					"spec": {"type": "string", "description": "Long-form description, markdown allowed"},
					"status": {"type": "string", "enum": ["todo", "doing", "done"]},
					"priority": {"description": "1-4 or critical/high/medium/low"},
					"parent_id": {"type": "integer"},
					"owner": {"type": "string", "description": "human or ai (default ai)"},
					"active_form": {"type": "string"},
					"metadata": {"type": "object"}
				},
				"required": ["name"]
			}`),
		},
		{
			Name:        ToolTaskAddDependency,
			Description: "Record that one task blocks another. The blocked task cannot start until the blocking task is done.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"blocking_task_id": {"type": "integer"},
					"blocked_task_id": {"type": "integer"}
				},
				"required": ["blocking_task_id", "blocked_task_id"]
			}`),
		},
		{
			Name:        ToolTaskStart,
			Description: "Move a task to doing and focus this session on it. Fails if the task has incomplete blockers.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"}
				},
				"required": ["task_id"]
			}`),
		},
		{
			Name:        ToolTaskPickNext,
			Description: "Recommend the next task to work on, preferring children of the current focus.",
			InputSchema: schema(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        ToolTaskSpawnSubtask,
			Description: "Create a child of the current focus and start it immediately. A spec is required.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"spec": {"type": "string"},
					"active_form": {"type": "string"}
				},
				"required": ["name", "spec"]
			}`),
		},
		{
			Name:        ToolTaskSwitch,
			Description: "Switch this session's focus to another task, starting it if needed.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"}
				},
				"required": ["task_id"]
			}`),
		},
		{
			Name:        ToolTaskDone,
			Description: "Complete a task (defaults to the current focus) and suggest what to do next.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer", "description": "Defaults to the session's current task"}
				}
			}`),
		},
		{
			Name:        ToolTaskUpdate,
			Description: "Partially update a task. Metadata patches merge key-wise; a null parent_id moves the task to the root.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"},
					"name": {"type": "string"},
					"spec": {"type": "string"},
					"status": {"type": "string", "enum": ["todo", "doing", "done"]},
					"priority": {"description": "1-4 or critical/high/medium/low"},
					"parent_id": {"type": ["integer", "null"]},
					"owner": {"type": "string"},
					"active_form": {"type": "string"},
					"metadata": {"type": "object"}
				},
				"required": ["task_id"]
			}`),
		},
		{
			Name:        ToolTaskList,
			Description: "List tasks filtered by status and/or parent, with sorting and pagination.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"status": {"type": "string", "enum": ["todo", "doing", "done"]},
					"parent_id": {"type": ["integer", "null"], "description": "null lists root tasks only"},
					"sort": {"type": "string", "enum": ["id", "priority", "time", "focus_aware"]},
					"limit": {"type": "integer"},
					"offset": {"type": "integer"}
				}
			}`),
		},
		{
			Name:        ToolTaskGet,
			Description: "Fetch one task with its event count and most recent events.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"}
				},
				"required": ["task_id"]
			}`),
		},
		{
			Name:        ToolTaskContext,
			Description: "Fetch a task together with its ancestry chain, children, and recent events.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"}
				},
				"required": ["task_id"]
			}`),
		},
		{
			Name:        ToolTaskDelete,
			Description: "Delete a task. With cascade, removes the whole sub-tree. Refused while any session is focused inside it.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"},
					"cascade": {"type": "boolean"}
				},
				"required": ["task_id"]
			}`),
		},
		{
			Name:        ToolEventAdd,
			Description: "Append a log entry (decision, blocker, milestone, note) to a task.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"},
					"log_type": {"type": "string"},
					"body": {"type": "string"}
				},
				"required": ["task_id", "log_type", "body"]
			}`),
		},
		{
			Name:        ToolEventList,
			Description: "List events, optionally filtered by task, type, and age.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer"},
					"log_type": {"type": "string"},
					"since": {"type": "string", "description": "YYYY-MM-DD or a relative window like 7d"},
					"limit": {"type": "integer"}
				}
			}`),
		},
		{
			Name:        ToolSearch,
			Description: "Full-text search over task names, specs, and event bodies. Supports #<id> lookup and status keywords.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"query": {"type": "string"},
					"include_tasks": {"type": "boolean", "description": "Default true"},
					"include_events": {"type": "boolean", "description": "Default true"},
					"limit": {"type": "integer"},
					"offset": {"type": "integer"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        ToolCurrentTaskGet,
			Description: "Return this session's current focus, if any.",
			InputSchema: schema(`{"type": "object", "properties": {}}`),
		},
		{
			Name:        ToolReportGenerate,
			Description: "Summarize the workspace: status counts, recent events, and active suggestions.",
			InputSchema: schema(`{
				"type": "object",
				"properties": {
					"since": {"type": "string", "description": "YYYY-MM-DD or a relative window like 7d"}
				}
			}`),
		},
	}
}

func schema(s string) json.RawMessage {
	compact := make(map[string]interface{})
	if err := json.Unmarshal([]byte(s), &compact); err != nil {
		panic("invalid tool schema: " + err.Error())
	}
	out, _ := json.Marshal(compact)
	return out
}
