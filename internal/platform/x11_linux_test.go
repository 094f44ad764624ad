//go:build linux

package platform

import (
	"testing"

	"github.com/1broseidon/hostview/internal/x11"
)

func TestTranslateEvent(t *testing.T) {
	tests := []struct {
		name string
		in   x11.Event
		want Code
	}{
		{name: "delete window", in: x11.Event{Kind: x11.EventClientMessage, Atom: ProtocolDeleteWindow}, want: CodeClientMessage},
		{name: "quit", in: x11.Event{Kind: x11.EventClientMessage, Atom: ProtocolQuit}, want: CodeQuit},
		{name: "destroy", in: x11.Event{Kind: x11.EventDestroy}, want: CodeDestroyNotify},
		{name: "focus in", in: x11.Event{Kind: x11.EventFocusIn}, want: CodeFocusIn},
		{name: "focus out", in: x11.Event{Kind: x11.EventFocusOut}, want: CodeFocusOut},
		{name: "map", in: x11.Event{Kind: x11.EventMap}, want: CodeMap},
		{name: "unmap", in: x11.Event{Kind: x11.EventUnmap}, want: CodeUnmap},
		{name: "wm state", in: x11.Event{Kind: x11.EventProperty, Atom: "_NET_WM_STATE", States: []string{StateFullscreen}}, want: CodeStateChange},
		{name: "other property", in: x11.Event{Kind: x11.EventProperty, Atom: "WM_NAME"}, want: CodeUnknown},
		{name: "unknown", in: x11.Event{Kind: x11.EventUnknown}, want: CodeUnknown},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := translateEvent(tc.in)
			if got.Code != tc.want {
				t.Fatalf("translateEvent() code = %s, want %s", got.Code, tc.want)
			}
		})
	}

	cfg := translateEvent(x11.Event{Kind: x11.EventConfigure, Window: 7, X: 1, Y: 2, Width: 30, Height: 40})
	if cfg.Window != 7 || cfg.Bounds != (Rect{X: 1, Y: 2, Width: 30, Height: 40}) {
		t.Fatalf("configure translated to %+v", cfg)
	}
}
