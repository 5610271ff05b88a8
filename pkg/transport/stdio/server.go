// Package stdio exposes the orchestration bridge's Request Router over
// the MCP stdio transport, grounded on pkg/mcp/stdio's
// modelcontextprotocol/go-sdk server wrapper. Unlike that daemon-fronted
// wrapper, this server delegates directly to an in-process
// internal/router.Router: the bridge has no separate HTTP daemon, so
// tool calls drive the phase machine in the same process that received
// them over stdin/stdout.
package stdio

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/GratefulDave/stravinsky-sub003/internal/router"
	"github.com/GratefulDave/stravinsky-sub003/internal/supervisor"
)

// Server exposes orchestrate_request, task_status, and task_cancel as
// MCP tools.
type Server struct {
	mcpServer  *mcpsdk.Server
	run        func(ctx context.Context, request string) (*router.Result, error)
	supervisor *supervisor.Supervisor
	logger     *zap.Logger
}

// NewServer builds a Server. run should close over the Router and the
// Hooks the caller's phase implementations provide; sup is consulted by
// task_status and task_cancel. A nil logger is equivalent to
// zap.NewNop().
func NewServer(run func(ctx context.Context, request string) (*router.Result, error), sup *supervisor.Supervisor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	mcpServer := mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    "bridgeorch",
		Version: "1.0.0",
	}, nil)

	s := &Server{mcpServer: mcpServer, run: run, supervisor: sup, logger: logger}
	s.registerTools()
	return s
}

// Run serves the MCP stdio transport until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	if err := s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("bridgeorch mcp server error: %w", err)
	}
	return nil
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "orchestrate_request",
		Description: "Drive one request through the full Classify->Context->Wisdom->Plan->Validate->Delegate->Execute->Verify phase machine and return a summary of completed and failed task counts and the final phase.",
	}, s.handleOrchestrateRequest)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "task_status",
		Description: "Report the lifecycle status of a previously spawned child task by its task id.",
	}, s.handleTaskStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "task_cancel",
		Description: "Cancel a running child task, escalating to a forceful kill if it ignores the graceful interrupt.",
	}, s.handleTaskCancel)
}

// OrchestrateRequestParams carries the raw request payload to classify.
type OrchestrateRequestParams struct {
	Request string `json:"request" jsonschema:"The raw request text to classify and orchestrate"`
}

// TaskStatusParams identifies the task to inspect.
type TaskStatusParams struct {
	TaskID string `json:"task_id" jsonschema:"The task-graph id of a delegated task"`
}

// TaskCancelParams identifies the task to cancel.
type TaskCancelParams struct {
	TaskID string `json:"task_id" jsonschema:"The task id to cancel"`
}

func (s *Server) handleOrchestrateRequest(ctx context.Context, req *mcpsdk.CallToolRequest, params *OrchestrateRequestParams) (*mcpsdk.CallToolResult, any, error) {
	result, err := s.run(ctx, params.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrate_request failed: %w", err)
	}

	text := fmt.Sprintf("completed %d task(s), %d failed, final phase %s",
		len(result.TaskResults), len(result.FailedTaskIDs), result.FinalState.Current())

	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}, nil, nil
}

func (s *Server) handleTaskStatus(ctx context.Context, req *mcpsdk.CallToolRequest, params *TaskStatusParams) (*mcpsdk.CallToolResult, any, error) {
	handle, ok := s.supervisor.FindByTaskID(params.TaskID)
	if !ok {
		return nil, nil, fmt.Errorf("unknown task %q", params.TaskID)
	}
	text := fmt.Sprintf("task %s: %s", params.TaskID, handle.Status())
	if err := handle.Err(); err != nil {
		text += fmt.Sprintf(" (%v)", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: text}},
	}, nil, nil
}

func (s *Server) handleTaskCancel(ctx context.Context, req *mcpsdk.CallToolRequest, params *TaskCancelParams) (*mcpsdk.CallToolResult, any, error) {
	handle, ok := s.supervisor.FindByTaskID(params.TaskID)
	if !ok {
		return nil, nil, fmt.Errorf("unknown task %q", params.TaskID)
	}
	if err := s.supervisor.Cancel(handle.ID); err != nil {
		return nil, nil, fmt.Errorf("task_cancel failed: %w", err)
	}
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf("cancel requested for task %s", params.TaskID)}},
	}, nil, nil
}
