package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1broseidon/hostview/internal/ipc"
	"github.com/1broseidon/hostview/internal/message"
)

type fakeController struct {
	windows   []ipc.WindowInfo
	opened    []ipc.OpenWindowPayload
	closed    []string
	emitted   []string
	scripts   []string
	lastCall  json.RawMessage
	callErr   error
	closeErr  error
	exclude   []string
	broadcast int
}

func (f *fakeController) GetStatus() (*ipc.StatusData, error) {
	return &ipc.StatusData{Platform: "sim", WindowCount: len(f.windows), ActiveWindow: "main", DaemonRunning: true}, nil
}

func (f *fakeController) ListWindows() ([]ipc.WindowInfo, error) {
	return f.windows, nil
}

func (f *fakeController) OpenWindow(req ipc.OpenWindowPayload) (string, error) {
	f.opened = append(f.opened, req)
	if req.ID != "" {
		return req.ID, nil
	}
	return "generated", nil
}

func (f *fakeController) CloseWindow(id string) error {
	if f.closeErr != nil {
		return f.closeErr
	}
	f.closed = append(f.closed, id)
	return nil
}

func (f *fakeController) Call(window, target string, payload json.RawMessage, timeout time.Duration) (json.RawMessage, error) {
	f.lastCall = payload
	if f.callErr != nil {
		return nil, f.callErr
	}
	return json.RawMessage(`{"target":"` + target + `","window":"` + window + `"}`), nil
}

func (f *fakeController) Emit(window, name string, payload json.RawMessage) error {
	f.emitted = append(f.emitted, window+"/"+name+"/"+string(payload))
	return nil
}

func (f *fakeController) Broadcast(name string, payload json.RawMessage, exclude ...string) (int, error) {
	f.exclude = exclude
	return f.broadcast, nil
}

func (f *fakeController) ExecuteScript(window, script string) error {
	f.scripts = append(f.scripts, script)
	return nil
}

func newTestServer(ctl Controller) *Server {
	return NewServer(ctl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func connect(t *testing.T, s *Server) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()
	st, ct := mcpsdk.NewInMemoryTransports()

	ss, err := s.mcpServer.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func textOf(res *mcpsdk.CallToolResult) string {
	var b strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

func TestToolsAreRegistered(t *testing.T) {
	cs := connect(t, newTestServer(&fakeController{}))

	res, err := cs.ListTools(context.Background(), &mcpsdk.ListToolsParams{})
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"get_status", "list_windows", "open_window", "close_window",
		"call_window", "emit_event", "broadcast_event", "execute_script",
	}, names)
}

func TestCallWindowOverSession(t *testing.T) {
	ctl := &fakeController{}
	cs := connect(t, newTestServer(ctl))

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name: "call_window",
		Arguments: map[string]any{
			"window":  "main",
			"target":  "math:square",
			"payload": map[string]any{"n": 5},
		},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, textOf(res))

	assert.JSONEq(t, `{"n":5}`, string(ctl.lastCall))
	out, ok := res.StructuredContent.(map[string]any)
	require.True(t, ok, "structured content: %#v", res.StructuredContent)
	assert.Equal(t, map[string]any{"target": "math:square", "window": "main"}, out["result"])
}

func TestToolErrorsAreReportedInResult(t *testing.T) {
	ctl := &fakeController{callErr: message.Errorf(message.CodeTimeout, "call timed out")}
	cs := connect(t, newTestServer(ctl))

	res, err := cs.CallTool(context.Background(), &mcpsdk.CallToolParams{
		Name:      "call_window",
		Arguments: map[string]any{"target": "slow"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, textOf(res), "call timed out")
}

func TestHandleOpenWindow(t *testing.T) {
	ctl := &fakeController{}
	s := newTestServer(ctl)

	_, out, err := s.handleOpenWindow(context.Background(), nil, OpenWindowInput{Preset: "dialog", HTML: "<p>hi</p>"})
	require.NoError(t, err)
	assert.Equal(t, "generated", out.ID)
	require.Len(t, ctl.opened, 1)
	assert.Equal(t, "dialog", ctl.opened[0].Preset)

	_, _, err = s.handleOpenWindow(context.Background(), nil, OpenWindowInput{HTML: "<p/>", URL: "http://localhost"})
	assert.Error(t, err)
	assert.Len(t, ctl.opened, 1)
}

func TestHandleCloseWindowVeto(t *testing.T) {
	ctl := &fakeController{closeErr: message.Errorf(message.CodeVetoed, "close vetoed")}
	s := newTestServer(ctl)

	_, out, err := s.handleCloseWindow(context.Background(), nil, CloseWindowInput{Window: "main"})
	require.Error(t, err)
	assert.False(t, out.Closed)
	assert.True(t, errors.Is(err, &message.Error{Code: message.CodeVetoed}))

	ctl.closeErr = nil
	_, out, err = s.handleCloseWindow(context.Background(), nil, CloseWindowInput{Window: "main"})
	require.NoError(t, err)
	assert.True(t, out.Closed)
	assert.Equal(t, []string{"main"}, ctl.closed)
}

func TestHandleListWindowsAndStatus(t *testing.T) {
	ctl := &fakeController{windows: []ipc.WindowInfo{
		{ID: "main", Mode: "standalone", State: "shown", Visible: true, Active: true},
		{ID: "panel", Mode: "embedded", State: "created"},
	}}
	s := newTestServer(ctl)

	_, list, err := s.handleListWindows(context.Background(), nil, ListWindowsInput{})
	require.NoError(t, err)
	require.Len(t, list.Windows, 2)
	assert.Equal(t, "main", list.Windows[0].ID)
	assert.True(t, list.Windows[0].Active)
	assert.Equal(t, "created", list.Windows[1].State)

	_, st, err := s.handleGetStatus(context.Background(), nil, GetStatusInput{})
	require.NoError(t, err)
	assert.Equal(t, "sim", st.Platform)
	assert.Equal(t, 2, st.WindowCount)
	assert.Equal(t, "main", st.ActiveWindow)
}

func TestHandleEventsAndScripts(t *testing.T) {
	ctl := &fakeController{broadcast: 3}
	s := newTestServer(ctl)
	ctx := context.Background()

	_, _, err := s.handleEmitEvent(ctx, nil, EmitEventInput{Window: "main", Name: "ping", Payload: map[string]any{"n": 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{`main/ping/{"n":1}`}, ctl.emitted)

	_, _, err = s.handleEmitEvent(ctx, nil, EmitEventInput{Window: "main"})
	assert.Error(t, err)

	_, out, err := s.handleBroadcastEvent(ctx, nil, BroadcastEventInput{Name: "tick", Exclude: []string{"main"}})
	require.NoError(t, err)
	assert.Equal(t, 3, out.Delivered)
	assert.Equal(t, []string{"main"}, ctl.exclude)

	res, _, err := s.handleExecuteScript(ctx, nil, ExecuteScriptInput{Window: "main", Script: "hostview.send_event('done')"})
	require.NoError(t, err)
	assert.Equal(t, "Script queued", textOf(res))
	assert.Len(t, ctl.scripts, 1)

	_, _, err = s.handleExecuteScript(ctx, nil, ExecuteScriptInput{Window: "main"})
	assert.Error(t, err)
}
