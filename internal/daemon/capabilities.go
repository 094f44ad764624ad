package daemon

import (
	"context"
	"encoding/json"

	"github.com/1broseidon/hostview/internal/bridge"
	"github.com/1broseidon/hostview/internal/message"
)

// CapabilityDomain is the domain of the capabilities every runtime window
// can call.
const CapabilityDomain = "runtime"

type broadcastArgs struct {
	Name        string          `json:"name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Exclude     []string        `json:"exclude,omitempty"`
	IncludeSelf bool            `json:"include_self,omitempty"`
}

type sendArgs struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type activeArgs struct {
	ID string `json:"id,omitempty"`
}

func (r *Runtime) registerBuiltins() error {
	builtins := []struct {
		command string
		handler bridge.Handler
	}{
		{"windows", r.capWindows},
		{"active", r.capActive},
		{"broadcast", r.capBroadcast},
		{"send", r.capSend},
	}
	for _, b := range builtins {
		if err := r.caps.Register(CapabilityDomain, b.command, b.handler); err != nil {
			return err
		}
	}
	return nil
}

// capWindows lists the registered windows.
func (r *Runtime) capWindows(context.Context, json.RawMessage) (any, error) {
	return r.Windows(), nil
}

// capActive reports the active window and switches it when an id is given.
func (r *Runtime) capActive(_ context.Context, payload json.RawMessage) (any, error) {
	var args activeArgs
	if err := decodeArgs(payload, &args); err != nil {
		return nil, err
	}
	if args.ID != "" {
		if err := r.reg.SetActive(args.ID); err != nil {
			return nil, err
		}
	}
	id, _, _ := r.reg.Active()
	return map[string]string{"id": id}, nil
}

// capBroadcast fans an event out to the other windows. The calling window
// is skipped unless include_self is set.
func (r *Runtime) capBroadcast(ctx context.Context, payload json.RawMessage) (any, error) {
	var args broadcastArgs
	if err := decodeArgs(payload, &args); err != nil {
		return nil, err
	}
	if args.Name == "" {
		return nil, message.Errorf(message.CodeInvalidRequest, "broadcast needs an event name")
	}
	exclude := args.Exclude
	if caller := bridge.CallerWindow(ctx); caller != "" && !args.IncludeSelf {
		exclude = append(exclude, caller)
	}
	return map[string]int{"delivered": r.reg.Broadcast(args.Name, args.Payload, exclude...)}, nil
}

func (r *Runtime) capSend(_ context.Context, payload json.RawMessage) (any, error) {
	var args sendArgs
	if err := decodeArgs(payload, &args); err != nil {
		return nil, err
	}
	if args.ID == "" || args.Name == "" {
		return nil, message.Errorf(message.CodeInvalidRequest, "send needs a window id and an event name")
	}
	return map[string]bool{"delivered": r.reg.SendTo(args.ID, args.Name, args.Payload)}, nil
}
