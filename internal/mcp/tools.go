package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/1broseidon/hostview/internal/ipc"
)

func (s *Server) handleGetStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ GetStatusInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st, err := s.ctl.GetStatus()
	if err != nil {
		return nil, StatusOutput{}, err
	}
	return nil, StatusOutput{
		Platform:      st.Platform,
		WindowCount:   st.WindowCount,
		ActiveWindow:  st.ActiveWindow,
		PendingCalls:  st.PendingCalls,
		UptimeSeconds: st.UptimeSeconds,
	}, nil
}

func (s *Server) handleListWindows(_ context.Context, _ *mcpsdk.CallToolRequest, _ ListWindowsInput) (*mcpsdk.CallToolResult, ListWindowsOutput, error) {
	windows, err := s.ctl.ListWindows()
	if err != nil {
		return nil, ListWindowsOutput{}, err
	}
	out := ListWindowsOutput{Windows: make([]WindowInfo, 0, len(windows))}
	for _, w := range windows {
		out.Windows = append(out.Windows, WindowInfo{
			ID:           w.ID,
			Mode:         w.Mode,
			State:        w.State,
			Presentation: w.Presentation,
			Visible:      w.Visible,
			Title:        w.Title,
			PendingCalls: w.PendingCalls,
			Active:       w.Active,
		})
	}
	return nil, out, nil
}

func (s *Server) handleOpenWindow(_ context.Context, _ *mcpsdk.CallToolRequest, args OpenWindowInput) (*mcpsdk.CallToolResult, OpenWindowOutput, error) {
	if args.HTML != "" && args.URL != "" {
		return nil, OpenWindowOutput{}, fmt.Errorf("html and url are mutually exclusive")
	}
	id, err := s.ctl.OpenWindow(ipc.OpenWindowPayload{
		Preset: args.Preset,
		ID:     args.ID,
		Title:  args.Title,
		HTML:   args.HTML,
		URL:    args.URL,
		Hidden: args.Hidden,
	})
	if err != nil {
		return nil, OpenWindowOutput{}, fmt.Errorf("failed to open window: %w", err)
	}
	s.logger.Info("window opened", "window", id, "preset", args.Preset)
	return nil, OpenWindowOutput{ID: id}, nil
}

func (s *Server) handleCloseWindow(_ context.Context, _ *mcpsdk.CallToolRequest, args CloseWindowInput) (*mcpsdk.CallToolResult, CloseWindowOutput, error) {
	if err := s.ctl.CloseWindow(args.Window); err != nil {
		return nil, CloseWindowOutput{}, fmt.Errorf("failed to close window %q: %w", args.Window, err)
	}
	return nil, CloseWindowOutput{Window: args.Window, Closed: true}, nil
}

func (s *Server) handleCallWindow(_ context.Context, _ *mcpsdk.CallToolRequest, args CallWindowInput) (*mcpsdk.CallToolResult, CallWindowOutput, error) {
	if args.Target == "" {
		return nil, CallWindowOutput{}, fmt.Errorf("target is required")
	}
	payload, err := toRaw(args.Payload)
	if err != nil {
		return nil, CallWindowOutput{}, err
	}
	timeout := time.Duration(args.TimeoutMS) * time.Millisecond
	raw, err := s.ctl.Call(args.Window, args.Target, payload, timeout)
	if err != nil {
		return nil, CallWindowOutput{}, fmt.Errorf("call %s failed: %w", args.Target, err)
	}
	var result any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, CallWindowOutput{}, fmt.Errorf("failed to decode result of %s: %w", args.Target, err)
		}
	}
	return nil, CallWindowOutput{Result: result}, nil
}

func (s *Server) handleEmitEvent(_ context.Context, _ *mcpsdk.CallToolRequest, args EmitEventInput) (*mcpsdk.CallToolResult, any, error) {
	if args.Name == "" {
		return nil, nil, fmt.Errorf("name is required")
	}
	payload, err := toRaw(args.Payload)
	if err != nil {
		return nil, nil, err
	}
	if err := s.ctl.Emit(args.Window, args.Name, payload); err != nil {
		return nil, nil, fmt.Errorf("failed to emit %s: %w", args.Name, err)
	}
	return textResult(fmt.Sprintf("Emitted %s", args.Name)), nil, nil
}

func (s *Server) handleBroadcastEvent(_ context.Context, _ *mcpsdk.CallToolRequest, args BroadcastEventInput) (*mcpsdk.CallToolResult, BroadcastEventOutput, error) {
	if args.Name == "" {
		return nil, BroadcastEventOutput{}, fmt.Errorf("name is required")
	}
	payload, err := toRaw(args.Payload)
	if err != nil {
		return nil, BroadcastEventOutput{}, err
	}
	n, err := s.ctl.Broadcast(args.Name, payload, args.Exclude...)
	if err != nil {
		return nil, BroadcastEventOutput{}, fmt.Errorf("failed to broadcast %s: %w", args.Name, err)
	}
	return nil, BroadcastEventOutput{Delivered: n}, nil
}

func (s *Server) handleExecuteScript(_ context.Context, _ *mcpsdk.CallToolRequest, args ExecuteScriptInput) (*mcpsdk.CallToolResult, any, error) {
	if args.Script == "" {
		return nil, nil, fmt.Errorf("script is required")
	}
	if err := s.ctl.ExecuteScript(args.Window, args.Script); err != nil {
		return nil, nil, fmt.Errorf("failed to queue script: %w", err)
	}
	return textResult("Script queued"), nil, nil
}

func textResult(text string) *mcpsdk.CallToolResult {
	return &mcpsdk.CallToolResult{
		Content: []mcpsdk.Content{
			&mcpsdk.TextContent{Text: text},
		},
	}
}

// toRaw re-encodes a decoded tool argument for the wire.
func toRaw(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}
