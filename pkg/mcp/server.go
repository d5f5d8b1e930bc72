// Package mcp exposes the compiler pipeline and trigger scheduler over
// the Model Context Protocol so an upstream proposal generator can
// submit mutations and inspect the resulting tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/toolsmithhq/toolsmith/internal/compiler"
	"github.com/toolsmithhq/toolsmith/internal/scheduler"
	"github.com/toolsmithhq/toolsmith/internal/store"
)

// ToolsmithServerDeps holds the dependencies for creating a ToolsmithServer.
type ToolsmithServerDeps struct {
	Compiler  *compiler.Compiler
	Store     store.Store
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// ToolsmithServer wraps an MCP server with toolsmith-specific tool handlers.
type ToolsmithServer struct {
	compiler  *compiler.Compiler
	store     store.Store
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewToolsmithServer creates a new ToolsmithServer with all 5 tools registered.
func NewToolsmithServer(deps ToolsmithServerDeps) *ToolsmithServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ToolsmithServer{
		compiler:  deps.Compiler,
		store:     deps.Store,
		scheduler: deps.Scheduler,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"toolsmith",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Toolsmith compiles proposed tool mutations into validated execution graphs and schedules their recurring triggers. Use toolsmith.propose to submit a mutation, toolsmith.validate to check one without persisting, toolsmith.triggers to inspect or manage a tool's triggers, toolsmith.tick to force a scheduler pass, and toolsmith.query to list tools/versions/runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *ToolsmithServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ToolsmithServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 5 registered MCP tools as ServerTool entries.
func (s *ToolsmithServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: proposeTool(), Handler: s.handlePropose},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: triggersTool(), Handler: s.handleTriggers},
		{Tool: tickTool(), Handler: s.handleTick},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func proposeTool() mcp.Tool {
	return mcp.NewTool("toolsmith.propose",
		mcp.WithDescription("Compile a proposed mutation and persist the resulting tool version"),
		mcp.WithObject("mutation", mcp.Required(), mcp.Description("The proposed mutation (pagesAdded, componentsAdded, actionsAdded, state, executionGraph)")),
		mcp.WithString("org_id", mcp.Required(), mcp.Description("Owning organization ID")),
		mcp.WithString("tool_id", mcp.Description("Existing tool to mutate; omit to create a new tool")),
		mcp.WithString("name", mcp.Description("Tool name (new tools only)")),
		mcp.WithString("mode", mcp.Enum("strict", "lenient"), mcp.Description("Validation mode (default: strict)")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("toolsmith.validate",
		mcp.WithDescription("Validate a proposed mutation without persisting anything"),
		mcp.WithObject("mutation", mcp.Required(), mcp.Description("The proposed mutation to check")),
		mcp.WithString("tool_id", mcp.Description("Tool whose active spec provides prior context")),
		mcp.WithString("mode", mcp.Enum("strict", "lenient"), mcp.Description("Validation mode (default: strict)")),
	)
}

func triggersTool() mcp.Tool {
	return mcp.NewTool("toolsmith.triggers",
		mcp.WithDescription("Inspect or manage a tool's recurring triggers"),
		mcp.WithString("action", mcp.Required(),
			mcp.Enum("list", "enable", "disable", "resume"),
			mcp.Description("list triggers with run stats, enable/disable one trigger, or resume paused automation"),
		),
		mcp.WithString("tool_id", mcp.Required(), mcp.Description("Target tool ID")),
		mcp.WithString("trigger_id", mcp.Description("Target trigger ID (enable/disable)")),
	)
}

func tickTool() mcp.Tool {
	return mcp.NewTool("toolsmith.tick",
		mcp.WithDescription("Run one scheduler pass immediately, outside the timer"),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("toolsmith.query",
		mcp.WithDescription("Query tools, versions, or trigger runs"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("tools", "versions", "runs"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (org_id, status, since, limit, tool_id, trigger_id)")),
	)
}
