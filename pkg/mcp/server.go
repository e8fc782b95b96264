package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/statecascade/internal/engine"
	"github.com/rendis/statecascade/internal/expressions"
	"github.com/rendis/statecascade/internal/identity"
	"github.com/rendis/statecascade/internal/store"
)

// Propagator is the part of engine.Propagator the server drives.
type Propagator interface {
	PropagateByID(ctx context.Context, rootID, stateName string) *engine.Report
	Observe(obs engine.NodeObserver)
}

// CascadeServerDeps holds the dependencies for creating a CascadeServer.
type CascadeServerDeps struct {
	Propagator Propagator
	Store      store.Store
	JQ         *expressions.GoJQEngine
	// Actor is used when a tool call does not name one.
	Actor   string
	Version string
	Logger  *slog.Logger
}

// CascadeServer wraps an MCP server with statecascade tool handlers.
type CascadeServer struct {
	propagator Propagator
	store      store.Store
	events     *store.EventLog
	jq         *expressions.GoJQEngine
	actor      string
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewCascadeServer creates a CascadeServer with all tools registered.
func NewCascadeServer(deps CascadeServerDeps) *CascadeServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	jq := deps.JQ
	if jq == nil {
		jq = expressions.NewGoJQEngine()
	}
	actor := deps.Actor
	if actor == "" {
		actor = identity.SystemActor
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &CascadeServer{
		propagator: deps.Propagator,
		store:      deps.Store,
		jq:         jq,
		actor:      actor,
		logger:     logger,
	}
	if deps.Store != nil {
		s.events = store.NewEventLog(deps.Store)
	}

	mcpSrv := server.NewMCPServer(
		"statecascade",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("statecascade moves a content item and its descendants to a named workflow state. Use cascade.propagate to run a propagation, cascade.item to inspect an item, cascade.datasources to list rendering data sources, and cascade.events to read the event log or replay a propagation."),
	)
	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv

	if s.propagator != nil {
		s.propagator.Observe(s.notifyNode)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CascadeServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CascadeServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *CascadeServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: propagateTool(), Handler: s.handlePropagate},
		{Tool: itemTool(), Handler: s.handleItem},
		{Tool: datasourcesTool(), Handler: s.handleDatasources},
		{Tool: eventsTool(), Handler: s.handleEvents},
	}
}

// --- Tool definitions ---

func jqOption() mcp.ToolOption {
	return mcp.WithString("jq", mcp.Description("Optional jq filter applied to the JSON result"))
}

func propagateTool() mcp.Tool {
	return mcp.NewTool("cascade.propagate",
		mcp.WithDescription("Move an item and its descendants to a workflow state"),
		mcp.WithString("root_id", mcp.Required(), mcp.Description("ID of the root item")),
		mcp.WithString("state_name", mcp.Required(), mcp.Description("Display name of the target workflow state (case-sensitive)")),
		mcp.WithString("actor", mcp.Description("User on whose behalf edits are made")),
		jqOption(),
	)
}

func itemTool() mcp.Tool {
	return mcp.NewTool("cascade.item",
		mcp.WithDescription("Get an item with its workflow state and children"),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("ID of the item")),
		jqOption(),
	)
}

func datasourcesTool() mcp.Tool {
	return mcp.NewTool("cascade.datasources",
		mcp.WithDescription("List the distinct data sources of an item's renderings"),
		mcp.WithString("item_id", mcp.Required(), mcp.Description("Item ID in UUID form, braces allowed")),
		mcp.WithString("device", mcp.Description("Device name (default: default)")),
		jqOption(),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("cascade.events",
		mcp.WithDescription("Read the event log of an item or replay a propagation"),
		mcp.WithString("item_id", mcp.Description("Item whose history to return")),
		mcp.WithString("propagation_id", mcp.Description("Propagation to replay")),
		mcp.WithString("event_type", mcp.Description("Only return events of this type")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events (default: 100)")),
		jqOption(),
	)
}
