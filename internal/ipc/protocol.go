package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/1broseidon/hostview/internal/message"
)

// CommandType represents different IPC command types
type CommandType string

const (
	CommandGetStatus     CommandType = "GET_STATUS"
	CommandListWindows   CommandType = "LIST_WINDOWS"
	CommandOpenWindow    CommandType = "OPEN_WINDOW"
	CommandCloseWindow   CommandType = "CLOSE_WINDOW"
	CommandShowWindow    CommandType = "SHOW_WINDOW"
	CommandHideWindow    CommandType = "HIDE_WINDOW"
	CommandSetActive     CommandType = "SET_ACTIVE"
	CommandLoadContent   CommandType = "LOAD_CONTENT"
	CommandExecuteScript CommandType = "EXECUTE_SCRIPT"
	CommandEmit          CommandType = "EMIT"
	CommandBroadcast     CommandType = "BROADCAST"
	CommandCall          CommandType = "CALL"
	CommandReloadConfig  CommandType = "RELOAD_CONFIG"
)

const (
	StatusOK    = "OK"
	StatusError = "ERROR"
)

// Request represents an IPC request from client to server
type Request struct {
	Command CommandType     `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response represents an IPC response from server to client. Failures carry
// the error taxonomy code next to the message.
type Response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   message.Code    `json:"code,omitempty"`
}

// StatusData represents the data returned by GET_STATUS
type StatusData struct {
	Platform      string `json:"platform"`
	WindowCount   int    `json:"window_count"`
	ActiveWindow  string `json:"active_window,omitempty"`
	PendingCalls  int    `json:"pending_calls"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	DaemonRunning bool   `json:"daemon_running"`
	SocketPath    string `json:"socket_path"`
}

// WindowInfo represents a single window in LIST_WINDOWS
type WindowInfo struct {
	ID           string `json:"id"`
	Mode         string `json:"mode"`
	State        string `json:"state"`
	Presentation string `json:"presentation"`
	Visible      bool   `json:"visible"`
	Title        string `json:"title"`
	Handle       uint64 `json:"handle"`
	PendingCalls int    `json:"pending_calls"`
	Active       bool   `json:"active"`
}

// WindowsData represents the data returned by LIST_WINDOWS
type WindowsData struct {
	Windows []WindowInfo `json:"windows"`
}

// WindowPayload addresses one window. An empty id means the active window.
type WindowPayload struct {
	Window string `json:"window,omitempty"`
}

type OpenWindowPayload struct {
	Preset string `json:"preset,omitempty"`
	ID     string `json:"id,omitempty"`
	Title  string `json:"title,omitempty"`
	HTML   string `json:"html,omitempty"`
	URL    string `json:"url,omitempty"`
	Hidden bool   `json:"hidden,omitempty"`
}

type OpenWindowData struct {
	ID string `json:"id"`
}

type LoadContentPayload struct {
	Window string `json:"window,omitempty"`
	HTML   string `json:"html,omitempty"`
	URL    string `json:"url,omitempty"`
}

type ExecuteScriptPayload struct {
	Window string `json:"window,omitempty"`
	Script string `json:"script"`
}

type EmitPayload struct {
	Window  string          `json:"window,omitempty"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type BroadcastPayload struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Exclude []string        `json:"exclude,omitempty"`
}

type BroadcastData struct {
	Delivered int `json:"delivered"`
}

// CallPayload invokes a target through a window's bridge. TimeoutMS 0 uses
// the window's default.
type CallPayload struct {
	Window    string          `json:"window,omitempty"`
	Target    string          `json:"target"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TimeoutMS int             `json:"timeout_ms,omitempty"`
}

type CallData struct {
	Result json.RawMessage `json:"result,omitempty"`
}

// NewOKResponse creates a successful response with optional data
func NewOKResponse(data interface{}) (*Response, error) {
	var dataBytes json.RawMessage
	if data != nil {
		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal response data: %w", err)
		}
		dataBytes = bytes
	}

	return &Response{
		Status: StatusOK,
		Data:   dataBytes,
	}, nil
}

// NewErrorResponse creates an error response with a message
func NewErrorResponse(errMsg string) *Response {
	return &Response{
		Status: StatusError,
		Error:  errMsg,
		Code:   message.CodeInvalidRequest,
	}
}

// NewFailure converts err into an error response keeping its code.
func NewFailure(err error) *Response {
	info := message.Info(err)
	return &Response{
		Status: StatusError,
		Error:  info.Message,
		Code:   info.Code,
	}
}

// Err returns the error carried by a failed response, nil otherwise.
func (r *Response) Err() error {
	if r.Status != StatusError {
		return nil
	}
	if r.Code == "" {
		return fmt.Errorf("daemon error: %s", r.Error)
	}
	return (&message.ErrorInfo{Code: r.Code, Message: r.Error}).Err()
}

// ParseRequest parses a request from JSON bytes
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// Marshal converts a response to JSON bytes
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
