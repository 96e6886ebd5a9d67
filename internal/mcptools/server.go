// Package mcptools exposes the delegation engine as MCP tools over stdio,
// so a coordinating model can call discover_agents / delegate /
// check_response directly instead of going through the chat channels.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nextlevelbuilder/switchboard/internal/engine"
)

// Server wraps one session-scoped engine behind an MCP stdio server.
type Server struct {
	engine *engine.Engine
	mcp    *server.MCPServer
}

// New builds the MCP server and registers the three delegation tools.
func New(eng *engine.Engine, version string) *Server {
	s := &Server{
		engine: eng,
		mcp: server.NewMCPServer("switchboard", version,
			server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool("discover_agents",
		mcp.WithDescription("List the specialist agents available for delegation. Returns id, name, and description for each."),
		mcp.WithString("organization_id",
			mcp.Description("Restrict the roster to one organization. Omit to list agents from every accessible organization.")),
	), s.handleDiscover)

	s.mcp.AddTool(mcp.NewTool("delegate",
		mcp.WithDescription("Send a question to a specialist agent, verbatim. Returns a chat_id to poll with check_response. Continues the agent's existing conversation when a fresh one exists."),
		mcp.WithString("agent_id", mcp.Required(),
			mcp.Description("Target agent id from discover_agents.")),
		mcp.WithString("query", mcp.Required(),
			mcp.Description("The user's question, passed through unmodified.")),
		mcp.WithString("organization_id",
			mcp.Description("Organization the agent belongs to. Optional when a default is configured.")),
		mcp.WithBoolean("force_new",
			mcp.Description("Start a new conversation even if a fresh one exists.")),
	), s.handleDelegate)

	s.mcp.AddTool(mcp.NewTool("check_response",
		mcp.WithDescription("Poll a delegation once. status is one of processing, timeout, error, completed; on completed the response field holds the specialist's full answer. Keep polling while status is processing."),
		mcp.WithString("chat_id", mcp.Required(),
			mcp.Description("Chat id returned by delegate.")),
	), s.handleCheck)

	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) handleDiscover(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orgID := req.GetString("organization_id", "")
	agents, err := s.engine.DiscoverAgents(ctx, orgID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"agents": agents, "count": len(agents)})
}

func (s *Server) handleDelegate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID, err := req.RequireString("agent_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	orgID := req.GetString("organization_id", "")
	forceNew := req.GetBool("force_new", false)

	handle, err := s.engine.Delegate(ctx, agentID, orgID, query, forceNew)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delegation failed: %v", err)), nil
	}
	return jsonResult(handle)
}

func (s *Server) handleCheck(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	chatID, err := req.RequireString("chat_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.engine.CheckResponse(ctx, chatID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("check failed: %v", err)), nil
	}
	return jsonResult(res)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
