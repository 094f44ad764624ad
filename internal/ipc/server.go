package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/1broseidon/hostview/internal/backend"
	"github.com/1broseidon/hostview/internal/content"
	"github.com/1broseidon/hostview/internal/daemon"
	"github.com/1broseidon/hostview/internal/message"
)

// DefaultRequestTimeout bounds how long one request may wait on the runtime.
const DefaultRequestTimeout = 30 * time.Second

// ReloadFunc re-reads the configuration and hands it to the runtime.
type ReloadFunc func() error

// Server handles IPC requests from clients
type Server struct {
	socketPath   string
	listener     net.Listener
	rt           *daemon.Runtime
	reload       ReloadFunc
	timeout      time.Duration
	logger       *slog.Logger
	shuttingDown bool
	shutdownMu   sync.Mutex
	conns        sync.WaitGroup
}

// NewServer creates a new IPC server on socketPath. reload may be nil, in
// which case RELOAD_CONFIG is rejected.
func NewServer(socketPath string, rt *daemon.Runtime, reload ReloadFunc, logger *slog.Logger) (*Server, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("no IPC socket path")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Remove existing socket if present
	os.Remove(socketPath)

	return &Server{
		socketPath: socketPath,
		rt:         rt,
		reload:     reload,
		timeout:    DefaultRequestTimeout,
		logger:     logger.With("component", "ipc"),
	}, nil
}

func (s *Server) SocketPath() string { return s.socketPath }

// Start begins listening for IPC connections
func (s *Server) Start() error {
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to create IPC socket: %w", err)
	}
	s.listener = listener

	// Set socket permissions
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	s.logger.Info("IPC server listening", "socket", s.socketPath)

	go s.acceptLoop()
	return nil
}

// Serve starts the server and stops it when ctx ends.
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// acceptLoop accepts incoming connections
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.shutdownMu.Lock()
			if s.shuttingDown {
				s.shutdownMu.Unlock()
				return
			}
			s.shutdownMu.Unlock()
			s.logger.Warn("IPC accept error", "error", err)
			continue
		}

		s.shutdownMu.Lock()
		if s.shuttingDown {
			s.shutdownMu.Unlock()
			conn.Close()
			return
		}
		s.conns.Add(1)
		s.shutdownMu.Unlock()
		go s.handleConnection(conn)
	}
}

// handleConnection handles a single IPC connection
func (s *Server) handleConnection(conn net.Conn) {
	defer s.conns.Done()
	defer conn.Close()

	reader := bufio.NewReader(conn)

	// Read the request (expect JSON on a single line)
	data, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		s.logger.Warn("IPC read error", "error", err)
		return
	}

	req, err := ParseRequest(data)
	if err != nil {
		s.send(conn, NewErrorResponse(fmt.Sprintf("Invalid request: %v", err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	s.send(conn, s.handleCommand(ctx, req))
}

// handleCommand processes an IPC command and returns a response
func (s *Server) handleCommand(ctx context.Context, req *Request) *Response {
	s.logger.Debug("IPC request", "command", string(req.Command))
	switch req.Command {
	case CommandGetStatus:
		return s.handleGetStatus()
	case CommandListWindows:
		return s.handleListWindows()
	case CommandOpenWindow:
		return s.handleOpenWindow(ctx, req.Payload)
	case CommandCloseWindow:
		return s.withWindow(req.Payload, func(w *backend.Window) error { return w.Close(ctx) })
	case CommandShowWindow:
		return s.withWindow(req.Payload, func(w *backend.Window) error { return w.Show(ctx) })
	case CommandHideWindow:
		return s.withWindow(req.Payload, func(w *backend.Window) error { return w.Hide(ctx) })
	case CommandSetActive:
		return s.withWindow(req.Payload, func(w *backend.Window) error { return s.rt.SetActive(w.ID()) })
	case CommandLoadContent:
		return s.handleLoadContent(ctx, req.Payload)
	case CommandExecuteScript:
		return s.handleExecuteScript(req.Payload)
	case CommandEmit:
		return s.handleEmit(ctx, req.Payload)
	case CommandBroadcast:
		return s.handleBroadcast(req.Payload)
	case CommandCall:
		return s.handleCall(ctx, req.Payload)
	case CommandReloadConfig:
		return s.handleReload()
	default:
		return NewErrorResponse(fmt.Sprintf("Unknown command: %s", req.Command))
	}
}

func (s *Server) handleGetStatus() *Response {
	st := s.rt.Status()
	return ok(StatusData{
		Platform:      st.Platform,
		WindowCount:   st.Windows,
		ActiveWindow:  st.Active,
		PendingCalls:  st.PendingCalls,
		UptimeSeconds: st.UptimeSeconds,
		DaemonRunning: st.Running,
		SocketPath:    s.socketPath,
	})
}

func (s *Server) handleListWindows() *Response {
	infos := s.rt.Windows()
	data := WindowsData{Windows: make([]WindowInfo, 0, len(infos))}
	for _, info := range infos {
		data.Windows = append(data.Windows, WindowInfo{
			ID:           info.ID,
			Mode:         info.Mode,
			State:        info.State,
			Presentation: info.Presentation,
			Visible:      info.Visible,
			Title:        info.Title,
			Handle:       info.Handle,
			PendingCalls: info.Pending,
			Active:       info.Active,
		})
	}
	return ok(data)
}

func (s *Server) handleOpenWindow(ctx context.Context, payload json.RawMessage) *Response {
	var req OpenWindowPayload
	if err := decode(payload, &req); err != nil {
		return NewFailure(err)
	}
	w, err := s.rt.Open(ctx, daemon.OpenRequest{
		Preset:  req.Preset,
		ID:      req.ID,
		Title:   req.Title,
		Content: content.Source{HTML: req.HTML, URL: req.URL},
		Hidden:  req.Hidden,
	})
	if err != nil {
		return NewFailure(err)
	}
	return ok(OpenWindowData{ID: w.ID()})
}

func (s *Server) handleLoadContent(ctx context.Context, payload json.RawMessage) *Response {
	var req LoadContentPayload
	if err := decode(payload, &req); err != nil {
		return NewFailure(err)
	}
	w, err := s.rt.Window(req.Window)
	if err != nil {
		return NewFailure(err)
	}
	if err := w.LoadContent(ctx, content.Source{HTML: req.HTML, URL: req.URL}); err != nil {
		return NewFailure(err)
	}
	return ok(nil)
}

func (s *Server) handleExecuteScript(payload json.RawMessage) *Response {
	var req ExecuteScriptPayload
	if err := decode(payload, &req); err != nil {
		return NewFailure(err)
	}
	if req.Script == "" {
		return NewErrorResponse("script is required")
	}
	w, err := s.rt.Window(req.Window)
	if err != nil {
		return NewFailure(err)
	}
	if err := w.ExecuteScript(req.Script); err != nil {
		return NewFailure(err)
	}
	return ok(nil)
}

func (s *Server) handleEmit(ctx context.Context, payload json.RawMessage) *Response {
	var req EmitPayload
	if err := decode(payload, &req); err != nil {
		return NewFailure(err)
	}
	if req.Name == "" {
		return NewErrorResponse("name is required")
	}
	w, err := s.rt.Window(req.Window)
	if err != nil {
		return NewFailure(err)
	}
	if err := w.Emit(ctx, req.Name, req.Payload); err != nil {
		return NewFailure(err)
	}
	return ok(nil)
}

func (s *Server) handleBroadcast(payload json.RawMessage) *Response {
	var req BroadcastPayload
	if err := decode(payload, &req); err != nil {
		return NewFailure(err)
	}
	if req.Name == "" {
		return NewErrorResponse("name is required")
	}
	n, err := s.rt.Broadcast(req.Name, req.Payload, req.Exclude...)
	if err != nil {
		return NewFailure(err)
	}
	return ok(BroadcastData{Delivered: n})
}

func (s *Server) handleCall(ctx context.Context, payload json.RawMessage) *Response {
	var req CallPayload
	if err := decode(payload, &req); err != nil {
		return NewFailure(err)
	}
	if req.Target == "" {
		return NewErrorResponse("target is required")
	}
	w, err := s.rt.Window(req.Window)
	if err != nil {
		return NewFailure(err)
	}
	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	result, err := w.Call(req.Target, req.Payload, timeout).Await(ctx)
	if err != nil {
		return NewFailure(err)
	}
	return ok(CallData{Result: result})
}

func (s *Server) handleReload() *Response {
	if s.reload == nil {
		return NewFailure(message.Errorf(message.CodeUnsupported, "config reload is not available"))
	}
	s.logger.Info("IPC: reloading config")
	if err := s.reload(); err != nil {
		return NewErrorResponse(fmt.Sprintf("Failed to reload config: %v", err))
	}
	return ok(nil)
}

// withWindow resolves the addressed window and runs fn on it.
func (s *Server) withWindow(payload json.RawMessage, fn func(*backend.Window) error) *Response {
	var req WindowPayload
	if err := decode(payload, &req); err != nil {
		return NewFailure(err)
	}
	w, err := s.rt.Window(req.Window)
	if err != nil {
		return NewFailure(err)
	}
	if err := fn(w); err != nil {
		return NewFailure(err)
	}
	return ok(nil)
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return message.Wrap(message.CodeInvalidRequest, err, "invalid payload")
	}
	return nil
}

func ok(data any) *Response {
	resp, err := NewOKResponse(data)
	if err != nil {
		return NewFailure(err)
	}
	return resp
}

func (s *Server) send(conn net.Conn, resp *Response) {
	data, err := resp.Marshal()
	if err != nil {
		s.logger.Warn("failed to marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		s.logger.Warn("failed to send response", "error", err)
	}
}

// Stop gracefully shuts down the IPC server
func (s *Server) Stop() {
	s.shutdownMu.Lock()
	if s.shuttingDown {
		s.shutdownMu.Unlock()
		return
	}
	s.shuttingDown = true
	s.shutdownMu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.conns.Wait()
	os.Remove(s.socketPath)
}
