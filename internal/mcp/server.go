// Package mcp exposes the hostview daemon to MCP tool clients.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/hostview/internal/ipc"
)

const (
	ServerName    = "hostview"
	ServerVersion = "0.1.0"
)

// Controller is the daemon surface the tools drive. *ipc.Client satisfies
// it.
type Controller interface {
	GetStatus() (*ipc.StatusData, error)
	ListWindows() ([]ipc.WindowInfo, error)
	OpenWindow(req ipc.OpenWindowPayload) (string, error)
	CloseWindow(id string) error
	Call(window, target string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error)
	Emit(window, name string, payload json.RawMessage) error
	Broadcast(name string, payload json.RawMessage, exclude ...string) (int, error)
	ExecuteScript(window, script string) error
}

var _ Controller = (*ipc.Client)(nil)

// Server is the MCP server for hostview window automation.
type Server struct {
	mcpServer *mcpsdk.Server
	ctl       Controller
	logger    *slog.Logger
}

// NewServer creates a new MCP server backed by ctl.
func NewServer(ctl Controller, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctl:    ctl,
		logger: logger.With("component", "mcp"),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)

	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport, blocking until done.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "get_status",
		Description: "Report whether the hostview daemon is running, which platform it drives, how many windows are open and which one is active.",
	}, s.handleGetStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_windows",
		Description: "List every open window in creation order with its lifecycle state, visibility, title and number of calls in flight.",
	}, s.handleListWindows)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "open_window",
		Description: "Open a window from a config preset, optionally with its own id, title and content (inline HTML or a URL). Returns the window id.",
	}, s.handleOpenWindow)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "close_window",
		Description: "Close a window. The page or automation listeners may veto the close, in which case the window stays open and the tool reports a Vetoed error.",
	}, s.handleCloseWindow)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "call_window",
		Description: "Call a method bound by a window's page (hostview.bind) or a runtime capability such as runtime:windows, and return its JSON result. Fails with Timeout or Cancelled when no answer arrives.",
	}, s.handleCallWindow)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "emit_event",
		Description: "Deliver an event to one window's page, where hostview.on listeners receive it.",
	}, s.handleEmitEvent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "broadcast_event",
		Description: "Deliver an event to every open window except the excluded ones. Returns how many windows received it.",
	}, s.handleBroadcastEvent)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "execute_script",
		Description: "Queue JavaScript for a window's page without waiting for it. Use hostview.send_event in the script to report results.",
	}, s.handleExecuteScript)
}
