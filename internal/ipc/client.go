package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/1broseidon/hostview/internal/runtimepath"
)

const defaultClientTimeout = 5 * time.Second

// Client handles IPC communication with the daemon
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a client for socketPath, or for the default socket when
// socketPath is empty.
func NewClient(socketPath string) *Client {
	path, err := runtimepath.SocketPath(socketPath)
	if err != nil {
		// Keep constructor non-failing; sendRequest surfaces connection errors.
		path = socketPath
	}

	return &Client{
		socketPath: path,
		timeout:    defaultClientTimeout,
	}
}

// SetTimeout changes how long a request may take, connection included.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

func (c *Client) SocketPath() string { return c.socketPath }

// sendRequest sends a request and waits for a response. Daemon failures are
// returned as errors keeping their taxonomy code.
func (c *Client) sendRequest(command CommandType, payload any, timeout time.Duration) (*Response, error) {
	req := &Request{Command: command}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", command, err)
		}
		req.Payload = data
	}
	if timeout < c.timeout {
		timeout = c.timeout
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w (is the daemon running?)", err)
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(timeout))

	reqData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqData = append(reqData, '\n')
	if _, err := conn.Write(reqData); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	reader := bufio.NewReader(conn)
	respData, err := reader.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(respData, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(command CommandType, payload any, out any) error {
	resp, err := c.sendRequest(command, payload, 0)
	if err != nil {
		return err
	}
	if out == nil || len(resp.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Data, out); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", command, err)
	}
	return nil
}

// GetStatus retrieves daemon status
func (c *Client) GetStatus() (*StatusData, error) {
	var status StatusData
	if err := c.do(CommandGetStatus, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) ListWindows() ([]WindowInfo, error) {
	var data WindowsData
	if err := c.do(CommandListWindows, nil, &data); err != nil {
		return nil, err
	}
	return data.Windows, nil
}

// OpenWindow opens a window from a preset and returns its id.
func (c *Client) OpenWindow(req OpenWindowPayload) (string, error) {
	var data OpenWindowData
	if err := c.do(CommandOpenWindow, req, &data); err != nil {
		return "", err
	}
	return data.ID, nil
}

// CloseWindow closes a window. A veto by a closing listener is returned as
// a Vetoed error.
func (c *Client) CloseWindow(id string) error {
	return c.do(CommandCloseWindow, WindowPayload{Window: id}, nil)
}

func (c *Client) ShowWindow(id string) error {
	return c.do(CommandShowWindow, WindowPayload{Window: id}, nil)
}

func (c *Client) HideWindow(id string) error {
	return c.do(CommandHideWindow, WindowPayload{Window: id}, nil)
}

func (c *Client) SetActive(id string) error {
	return c.do(CommandSetActive, WindowPayload{Window: id}, nil)
}

func (c *Client) LoadContent(req LoadContentPayload) error {
	return c.do(CommandLoadContent, req, nil)
}

// ExecuteScript queues script in a window without waiting for it to run.
func (c *Client) ExecuteScript(window, script string) error {
	return c.do(CommandExecuteScript, ExecuteScriptPayload{Window: window, Script: script}, nil)
}

func (c *Client) Emit(window, name string, payload json.RawMessage) error {
	return c.do(CommandEmit, EmitPayload{Window: window, Name: name, Payload: payload}, nil)
}

// Broadcast sends an event to every window but the excluded ones and
// returns how many received it.
func (c *Client) Broadcast(name string, payload json.RawMessage, exclude ...string) (int, error) {
	var data BroadcastData
	if err := c.do(CommandBroadcast, BroadcastPayload{Name: name, Payload: payload, Exclude: exclude}, &data); err != nil {
		return 0, err
	}
	return data.Delivered, nil
}

// Call invokes target through a window's bridge. The connection deadline
// is stretched to cover the call timeout; a zero timeout waits as long as
// the daemon would.
func (c *Client) Call(window, target string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	req := CallPayload{
		Window:    window,
		Target:    target,
		Payload:   payload,
		TimeoutMS: int(timeout / time.Millisecond),
	}
	wait := DefaultRequestTimeout + time.Second
	if timeout > 0 {
		wait = timeout + time.Second
	}
	resp, err := c.sendRequest(CommandCall, req, wait)
	if err != nil {
		return nil, err
	}
	var data CallData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("failed to parse call data: %w", err)
	}
	return data.Result, nil
}

// ReloadConfig asks the daemon to re-read its config file.
func (c *Client) ReloadConfig() error {
	return c.do(CommandReloadConfig, nil, nil)
}

// Ping checks if the daemon is responding
func (c *Client) Ping() error {
	_, err := c.GetStatus()
	return err
}
