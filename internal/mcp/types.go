package mcp

// GetStatusInput is the input for the get_status tool.
type GetStatusInput struct{}

// StatusOutput is the output for the get_status tool.
type StatusOutput struct {
	Platform      string `json:"platform"`
	WindowCount   int    `json:"window_count"`
	ActiveWindow  string `json:"active_window,omitempty"`
	PendingCalls  int    `json:"pending_calls"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ListWindowsInput is the input for the list_windows tool.
type ListWindowsInput struct{}

// WindowInfo describes a single window.
type WindowInfo struct {
	ID           string `json:"id"`
	Mode         string `json:"mode"`
	State        string `json:"state"`
	Presentation string `json:"presentation"`
	Visible      bool   `json:"visible"`
	Title        string `json:"title"`
	PendingCalls int    `json:"pending_calls"`
	Active       bool   `json:"active"`
}

// ListWindowsOutput is the output for the list_windows tool.
type ListWindowsOutput struct {
	Windows []WindowInfo `json:"windows"`
}

// OpenWindowInput is the input for the open_window tool.
type OpenWindowInput struct {
	Preset string `json:"preset,omitempty" jsonschema:"Window preset from the hostview config (default: the configured default_window)"`
	ID     string `json:"id,omitempty" jsonschema:"Window id to register under (default: generated)"`
	Title  string `json:"title,omitempty" jsonschema:"Window title overriding the preset"`
	HTML   string `json:"html,omitempty" jsonschema:"Inline HTML to display"`
	URL    string `json:"url,omitempty" jsonschema:"URL to load instead of inline HTML"`
	Hidden bool   `json:"hidden,omitempty" jsonschema:"Create the window without showing it"`
}

// OpenWindowOutput is the output for the open_window tool.
type OpenWindowOutput struct {
	ID string `json:"id"`
}

// CloseWindowInput is the input for the close_window tool.
type CloseWindowInput struct {
	Window string `json:"window,omitempty" jsonschema:"Window id (default: the active window)"`
}

// CloseWindowOutput is the output for the close_window tool.
type CloseWindowOutput struct {
	Window string `json:"window"`
	Closed bool   `json:"closed"`
}

// CallWindowInput is the input for the call_window tool.
type CallWindowInput struct {
	Window    string `json:"window,omitempty" jsonschema:"Window id (default: the active window)"`
	Target    string `json:"target" jsonschema:"Method bound by the page, or a capability as domain:command"`
	Payload   any    `json:"payload,omitempty" jsonschema:"JSON arguments passed to the target"`
	TimeoutMS int    `json:"timeout_ms,omitempty" jsonschema:"Call timeout in milliseconds (default: the window's call timeout)"`
}

// CallWindowOutput is the output for the call_window tool.
type CallWindowOutput struct {
	Result any `json:"result,omitempty"`
}

// EmitEventInput is the input for the emit_event tool.
type EmitEventInput struct {
	Window  string `json:"window,omitempty" jsonschema:"Window id (default: the active window)"`
	Name    string `json:"name" jsonschema:"Event name delivered to hostview.on listeners"`
	Payload any    `json:"payload,omitempty" jsonschema:"JSON event payload"`
}

// BroadcastEventInput is the input for the broadcast_event tool.
type BroadcastEventInput struct {
	Name    string   `json:"name" jsonschema:"Event name delivered to every window"`
	Payload any      `json:"payload,omitempty" jsonschema:"JSON event payload"`
	Exclude []string `json:"exclude,omitempty" jsonschema:"Window ids that should not receive the event"`
}

// BroadcastEventOutput is the output for the broadcast_event tool.
type BroadcastEventOutput struct {
	Delivered int `json:"delivered"`
}

// ExecuteScriptInput is the input for the execute_script tool.
type ExecuteScriptInput struct {
	Window string `json:"window,omitempty" jsonschema:"Window id (default: the active window)"`
	Script string `json:"script" jsonschema:"JavaScript to run in the page; results come back through hostview.send_event"`
}
