package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/untoldecay/intent-engine/internal/project"
	"github.com/untoldecay/intent-engine/internal/service"
)

// maxLineBytes bounds a single request line (plans can be large).
const maxLineBytes = 4 << 20

// Server is the JSON-RPC 2.0 tool server. It reads one request per line
// from in, writes one response per line to out, and processes requests
// strictly in arrival order. stdout is the wire, so all logging goes to a
// rotating file inside the project marker directory.
type Server struct {
	services  *service.Services
	sessionID string
	in        io.Reader
	out       io.Writer
	logger    *log.Logger
	analyzer  AnalysisTrigger
}

// AnalysisTrigger fires a background workspace review after mutations.
// Implementations gate themselves (cooldown, configuration); a nil trigger
// disables analysis.
type AnalysisTrigger interface {
	MaybeAnalyze(ctx context.Context) bool
}

// SetAnalysisTrigger enables background analysis after mutating tool calls.
func (s *Server) SetAnalysisTrigger(t AnalysisTrigger) { s.analyzer = t }

// NewServer wires a server for the given project scope. The log file lives
// at <project>/.intent-engine/mcp.log and rotates at 10 MB.
func NewServer(proj *project.Project, services *service.Services, sessionID string, in io.Reader, out io.Writer) *Server {
	sink := &lumberjack.Logger{
		Filename:   filepath.Join(proj.Dir(), "mcp.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
	}
	return &Server{
		services:  services,
		sessionID: sessionID,
		in:        in,
		out:       out,
		logger:    log.New(sink, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// newTestServer builds a server with a custom logger, for tests.
func newTestServer(services *service.Services, sessionID string, in io.Reader, out io.Writer, logger *log.Logger) *Server {
	return &Server{services: services, sessionID: sessionID, in: in, out: out, logger: logger}
}

// Serve runs the read-dispatch-write loop until in reaches EOF or ctx is
// cancelled. Session housekeeping runs once at startup.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Printf("server starting (version %s, session %s)", ServerVersion, s.sessionID)

	if removed, err := s.services.Workspace.CleanupExpired(ctx, 0); err != nil {
		s.logger.Printf("session cleanup failed: %v", err)
	} else if removed > 0 {
		s.logger.Printf("session cleanup removed %d expired session(s)", removed)
	}
	if removed, err := s.services.Workspace.EnforceLimit(ctx, 0); err != nil {
		s.logger.Printf("session limit enforcement failed: %v", err)
	} else if removed > 0 {
		s.logger.Printf("session limit evicted %d session(s)", removed)
	}

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Printf("parse error: %v", err)
			if err := s.writeError(nil, CodeParseError, "parse error: invalid JSON"); err != nil {
				return err
			}
			continue
		}

		if req.JSONRPC != JSONRPCVersion {
			if req.IsNotification() {
				s.logger.Printf("dropping malformed notification (jsonrpc=%q)", req.JSONRPC)
				continue
			}
			if err := s.writeError(req.ID, CodeInvalidRequest,
				fmt.Sprintf("invalid request: jsonrpc must be %q", JSONRPCVersion)); err != nil {
				return err
			}
			continue
		}

		// Notifications are acknowledged by logging only.
		if req.IsNotification() {
			s.logger.Printf("notification: %s", req.Method)
			continue
		}

		result, rpcErr := s.dispatch(ctx, &req)
		if rpcErr != nil {
			s.logger.Printf("%s failed: %s", req.Method, rpcErr.Message)
			if err := s.write(Response{JSONRPC: JSONRPCVersion, ID: req.ID, Error: rpcErr}); err != nil {
				return err
			}
			continue
		}
		if err := s.write(Response{JSONRPC: JSONRPCVersion, ID: req.ID, Result: result}); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read request stream: %w", err)
	}
	s.logger.Printf("server stopping (stdin closed)")
	return nil
}

func (s *Server) dispatch(ctx context.Context, req *Request) (interface{}, *RPCError) {
	switch req.Method {
	case "initialize":
		return InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo:      ServerInfo{Name: ServerName, Version: ServerVersion},
		}, nil
	case "ping":
		return struct{}{}, nil
	case "tools/list":
		return ListToolsResult{Tools: toolCatalog()}, nil
	case "tools/call":
		return s.handleToolCall(ctx, req.Params)
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

func (s *Server) write(resp Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func (s *Server) writeError(id json.RawMessage, code int, message string) error {
	if id == nil {
		id = json.RawMessage("null")
	}
	return s.write(Response{JSONRPC: JSONRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}})
}
