package pump

import (
	"io"
	"log/slog"
	"testing"

	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	name    string
	payload any
}

type fixture struct {
	sim    *platform.Sim
	life   *lifecycle.Machine
	handle platform.Handle
	events []recorded
	pump   *Pump
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sim: platform.NewSim(), life: lifecycle.NewMachine()}
	bounds := platform.Rect{Width: 800, Height: 600}
	h, err := f.sim.CreateWindow(platform.WindowSpec{Title: "T", Bounds: bounds})
	require.NoError(t, err)
	f.handle = h
	f.pump = New(Config{
		Platform:  f.sim,
		Lifecycle: f.life,
		Resolve:   func() platform.Handle { return f.handle },
		Dispatch: func(name string, payload any) {
			f.events = append(f.events, recorded{name: name, payload: payload})
		},
		Bounds: bounds,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func (f *fixture) names() []string {
	var out []string
	for _, e := range f.events {
		out = append(out, e.name)
	}
	return out
}

func TestTickIdleIsNoop(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		assert.False(t, f.pump.Tick())
	}
	assert.Empty(t, f.events)
	assert.Equal(t, lifecycle.Created, f.life.State())
}

func TestCloseRequestOnlyRaisesFlag(t *testing.T) {
	f := newFixture(t)
	_, _ = f.life.Transition(lifecycle.Shown)
	f.sim.PostClose(f.handle)

	assert.True(t, f.pump.Tick())
	assert.Equal(t, CloseRequested, f.pump.Reasons())
	assert.True(t, f.sim.IsWindow(f.handle), "pump must not destroy the window")
	assert.Equal(t, lifecycle.Shown, f.life.State(), "pump only signals")
	assert.Empty(t, f.events, "close request is not dispatched")

	assert.True(t, f.pump.Tick(), "flag is sticky until reset")
	f.pump.Reset()
	assert.False(t, f.pump.Tick())
}

func TestCloseConditions(t *testing.T) {
	tests := []struct {
		name string
		act  func(f *fixture)
		want Class
	}{
		{name: "destroy notify", act: func(f *fixture) {
			f.sim.Post(f.handle, platform.Message{Code: platform.CodeDestroyNotify})
		}, want: DestroyedExternally},
		{name: "quit broadcast", act: func(f *fixture) { _ = f.sim.PostQuit() }, want: QuitBroadcast},
		{name: "handle vanished silently", act: func(f *fixture) { f.sim.DestroyExternally(f.handle) }, want: HandleInvalid},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.act(f)
			assert.True(t, f.pump.Tick())
			assert.Equal(t, tc.want, f.pump.Reasons()&tc.want)
		})
	}
}

func TestTranslatesOrdinaryMessages(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.sim.ShowWindow(f.handle))
	f.sim.Post(f.handle, platform.Message{Code: platform.CodeFocusIn})
	f.sim.Post(f.handle, platform.Message{Code: platform.CodeConfigure, Bounds: platform.Rect{X: 0, Y: 0, Width: 1024, Height: 768}})
	f.sim.Post(f.handle, platform.Message{Code: platform.CodeConfigure, Bounds: platform.Rect{X: 10, Y: 20, Width: 1024, Height: 768}})
	f.sim.Post(f.handle, platform.Message{Code: platform.CodeFocusOut})
	f.sim.Post(f.handle, platform.Message{Code: platform.CodeStateChange, States: []string{platform.StateMaximizedHorz, platform.StateMaximizedVert}})
	f.sim.Post(f.handle, platform.Message{Code: platform.CodeStateChange})
	f.sim.Post(f.handle, platform.Message{Code: platform.CodeUnknown, Raw: 99})

	assert.False(t, f.pump.Tick())
	assert.Equal(t, []string{
		lifecycle.EventShown, lifecycle.EventFocused, lifecycle.EventResized, lifecycle.EventMoved,
		lifecycle.EventBlurred, lifecycle.EventMaximized, lifecycle.EventRestored,
	}, f.names())
	assert.Equal(t, lifecycle.Size{Width: 1024, Height: 768}, f.events[2].payload)
	assert.Equal(t, lifecycle.Position{X: 10, Y: 20}, f.events[3].payload)
	assert.Equal(t, lifecycle.Blurred, f.life.State())
}

func TestThreadFallbackBeforeHandleKnown(t *testing.T) {
	f := newFixture(t)
	other, err := f.sim.CreateWindow(platform.WindowSpec{})
	require.NoError(t, err)
	known := f.handle
	f.handle = 0

	f.sim.Post(other, platform.Message{Code: platform.CodeFocusIn})
	f.sim.Post(platform.Handle(9999), platform.Message{Code: platform.CodeFocusIn})
	assert.False(t, f.pump.Tick())
	assert.Empty(t, f.events, "foreign messages are not dispatched")

	kept := f.sim.PeekWindowMessages(other)
	require.Len(t, kept, 1, "another window's queue is left alone")
	assert.Equal(t, platform.CodeFocusIn, kept[0].Code)

	_ = f.sim.PostQuit()
	assert.True(t, f.pump.Tick())
	assert.Equal(t, QuitBroadcast, f.pump.Reasons())
	f.handle = known
}

func TestClassify(t *testing.T) {
	assert.Equal(t, CloseRequested, Classify(platform.Message{Code: platform.CodeClientMessage, Name: platform.ProtocolDeleteWindow}))
	assert.Equal(t, QuitBroadcast, Classify(platform.Message{Code: platform.CodeClientMessage, Name: platform.ProtocolQuit}))
	assert.Equal(t, Class(0), Classify(platform.Message{Code: platform.CodeClientMessage, Name: "_NET_WM_PING"}))
	assert.Equal(t, "close-requested|quit", (CloseRequested | QuitBroadcast).String())
}

func TestPresentationOf(t *testing.T) {
	assert.Equal(t, lifecycle.Minimized, PresentationOf([]string{platform.StateHidden, platform.StateFullscreen}))
	assert.Equal(t, lifecycle.Fullscreen, PresentationOf([]string{platform.StateFullscreen}))
	assert.Equal(t, lifecycle.Normal, PresentationOf([]string{platform.StateMaximizedVert}))
	assert.Equal(t, lifecycle.Maximized, PresentationOf([]string{platform.StateMaximizedVert, platform.StateMaximizedHorz}))
}
