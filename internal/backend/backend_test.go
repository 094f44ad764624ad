package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/1broseidon/hostview/internal/bridge"
	"github.com/1broseidon/hostview/internal/config"
	"github.com/1broseidon/hostview/internal/content"
	"github.com/1broseidon/hostview/internal/lifecycle"
	"github.com/1broseidon/hostview/internal/message"
	"github.com/1broseidon/hostview/internal/platform"
	"github.com/1broseidon/hostview/internal/pump"
	"github.com/1broseidon/hostview/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	sim  *platform.Sim
	reg  *registry.Registry
	caps *bridge.Capabilities
	deps Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := &env{
		sim:  platform.NewSim(),
		reg:  registry.New(logger),
		caps: bridge.NewCapabilities(),
	}
	require.NoError(t, e.caps.Register("math", "square", func(_ context.Context, payload json.RawMessage) (any, error) {
		var in struct {
			N int `json:"n"`
		}
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return map[string]int{"result": in.N * in.N}, nil
	}))
	e.deps = Deps{
		Platform:     e.sim,
		Registry:     e.reg,
		Capabilities: e.caps,
		CallTimeout:  time.Second,
		TickInterval: time.Millisecond,
		Logger:       logger,
	}
	return e
}

func standaloneConfig(id string) config.WindowConfig {
	return config.WindowConfig{ID: id, Mode: config.ModeStandalone, Title: "T", Width: 800, Height: 600}
}

func TestScenarioStandaloneCloseRequest(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()
	assert.Equal(t, lifecycle.Created, b.State())

	var states []lifecycle.State
	w.On(lifecycle.EventClosed, func(bridge.Event) error {
		states = append(states, w.State())
		return nil
	})

	require.NoError(t, b.Show())
	assert.Equal(t, lifecycle.Shown, b.State())
	assert.False(t, b.ProcessEvents(), "map of an already shown window is not a close")

	e.sim.PostClose(b.Handle())
	assert.True(t, b.ProcessEvents())
	assert.Equal(t, lifecycle.Shown, b.State(), "the pump only signals")
	select {
	case <-w.CloseRequested():
	default:
		t.Fatal("expected close request notification")
	}

	require.NoError(t, b.Close())
	assert.Equal(t, []lifecycle.State{lifecycle.Closed}, states)
	assert.Equal(t, lifecycle.Destroyed, b.State())
	assert.Zero(t, e.reg.Count())
	assert.False(t, e.sim.IsWindow(b.Handle()))
	assert.Empty(t, e.sim.Released(), "a destroyed window needs no release")
	assert.False(t, b.ProcessEvents())
	<-w.Done()
}

func TestCloseVetoedByListenerKeepsWindowShown(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()
	require.NoError(t, b.Show())

	deny := true
	w.On(lifecycle.EventClosing, func(bridge.Event) error {
		if deny {
			return bridge.ErrDeny
		}
		return nil
	})

	e.sim.PostClose(b.Handle())
	require.True(t, b.ProcessEvents())
	err = b.Close()
	assert.ErrorIs(t, err, message.ErrVetoed)
	assert.Equal(t, lifecycle.Shown, b.State())
	assert.False(t, b.ProcessEvents(), "veto clears the close flag")

	deny = false
	require.NoError(t, b.Close())
	assert.Equal(t, lifecycle.Destroyed, b.State())
}

func TestCloseVetoedByContent(t *testing.T) {
	e := newEnv(t)
	cfg := standaloneConfig("main")
	cfg.Content = content.HTML(`<script>hostview.on("closing", function () { return false; });</script>`)
	w, err := New(context.Background(), cfg, e.deps)
	require.NoError(t, err)

	b := w.Backend()
	require.NoError(t, b.Show())
	assert.ErrorIs(t, b.Close(), message.ErrVetoed)
	assert.True(t, b.State().Live())
}

func TestExternalDestroySkipsVeto(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()
	require.NoError(t, b.Show())
	w.On(lifecycle.EventClosing, func(bridge.Event) error { return bridge.ErrDeny })

	e.sim.DestroyExternally(b.Handle())
	require.True(t, b.ProcessEvents(), "invalid handle is caught without any message")
	assert.NotZero(t, b.base().pump.Reasons()&pump.HandleInvalid)

	require.NoError(t, b.Close())
	assert.Equal(t, lifecycle.Destroyed, b.State())
	assert.Equal(t, []platform.Handle{b.Handle()}, e.sim.Destroyed(), "no second destroy of a dead handle")
	assert.Equal(t, []platform.Handle{b.Handle()}, e.sim.Released(), "bookkeeping for the dead handle is released")
}

func TestLifecycleIsMonotonic(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()

	var mu sync.Mutex
	var seen []lifecycle.State
	b.base().life.Observe(func(_, to lifecycle.State) {
		mu.Lock()
		seen = append(seen, to)
		mu.Unlock()
	})

	require.NoError(t, b.Show())
	h := b.Handle()
	e.sim.Post(h, platform.Message{Code: platform.CodeFocusIn})
	e.sim.Post(h, platform.Message{Code: platform.CodeFocusOut})
	require.False(t, b.ProcessEvents())
	require.NoError(t, b.Close())

	// Late native traffic never revives the window.
	e.sim.Post(h, platform.Message{Code: platform.CodeFocusIn})
	assert.False(t, b.ProcessEvents())
	assert.Error(t, b.Show())

	want := []lifecycle.State{
		lifecycle.Shown, lifecycle.Focused, lifecycle.Blurred,
		lifecycle.Closing, lifecycle.Closed, lifecycle.Destroyed,
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestIdleProcessEventsChangesNothing(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()
	require.NoError(t, b.Show())
	b.ProcessEvents()

	changed := false
	b.base().life.Observe(func(_, _ lifecycle.State) { changed = true })
	before := w.Info()
	for i := 0; i < 5; i++ {
		assert.False(t, b.ProcessEvents())
	}
	assert.False(t, changed)
	assert.Equal(t, before, w.Info())
}

func TestResizeAndPresentationEvents(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()
	require.NoError(t, b.Show())

	var events []string
	for _, name := range []string{lifecycle.EventResized, lifecycle.EventFullscreen, lifecycle.EventRestored} {
		w.On(name, func(ev bridge.Event) error {
			events = append(events, ev.Name+string(ev.Payload))
			return nil
		})
	}
	h := b.Handle()
	e.sim.Post(h, platform.Message{Code: platform.CodeConfigure, Bounds: platform.Rect{Width: 1024, Height: 768}})
	e.sim.Post(h, platform.Message{Code: platform.CodeStateChange, States: []string{platform.StateFullscreen}})
	e.sim.Post(h, platform.Message{Code: platform.CodeStateChange})
	require.False(t, b.ProcessEvents())

	assert.Equal(t, []string{`resized{"width":1024,"height":768}`, "fullscreen", "restored"}, events)
	assert.Equal(t, lifecycle.Normal, b.Presentation())
}

func TestOwnerOnlyOperationsRejectOtherGoroutines(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()

	errs := make(chan error, 4)
	go func() {
		errs <- b.Show()
		errs <- b.LoadContent(context.Background(), content.HTML("<p>x</p>"))
		errs <- b.ExecuteScript("1")
		errs <- b.Close()
	}()
	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, <-errs, message.ErrNotOnOwningThread)
	}
	assert.Equal(t, lifecycle.Created, b.State())
}

func TestWindowHandleMarshalsOntoOwner(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Show(ctx) }()

	require.Eventually(t, func() bool { return b.base().queue.Len() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, lifecycle.Created, b.State(), "nothing runs off the owner")
	b.ProcessEvents()
	require.NoError(t, <-done)
	assert.Equal(t, lifecycle.Shown, b.State())
	assert.True(t, e.sim.Visible(b.Handle()))
}

func TestDestroyCancelsOutstandingCalls(t *testing.T) {
	e := newEnv(t)
	w, err := New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	b := w.Backend()
	require.NoError(t, b.Show())

	results := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := w.Call("math:square", map[string]int{"n": 2}, time.Minute).Await(context.Background())
			results <- err
		}()
	}
	require.Eventually(t, func() bool { return b.Router().Pending() == 3 }, time.Second, time.Millisecond)

	require.NoError(t, b.Close())
	for i := 0; i < 3; i++ {
		err := <-results
		assert.ErrorIs(t, err, message.ErrCancelled)
		assert.NotErrorIs(t, err, message.ErrTimeout)
	}
	assert.Zero(t, b.Router().Pending())
}

func TestContentInvokesCapability(t *testing.T) {
	e := newEnv(t)
	cfg := standaloneConfig("main")
	cfg.Title = ""
	cfg.Content = content.HTML(`<title>Calc</title><script>
		hostview.invoke("math:square", {n: 4}).then(function (r) { hostview.send_event("result", r); });
		hostview.invoke("math:cube", {}).catch(function (e) { hostview.send_event("failed", e.code); });
	</script>`)

	var got []string
	w, err := New(context.Background(), cfg, e.deps)
	require.NoError(t, err)
	assert.Equal(t, "Calc", w.Info().Title, "page title adopted when config has none")

	w.On("result", func(ev bridge.Event) error {
		got = append(got, string(ev.Payload))
		return nil
	})
	w.On("failed", func(ev bridge.Event) error {
		got = append(got, string(ev.Payload))
		return nil
	})
	require.NoError(t, w.Backend().ExecuteScript(`
		hostview.invoke("math:square", {n: 5}).then(function (r) { hostview.send_event("result", r); });
		hostview.invoke("math:cube", {}).catch(function (e) { hostview.send_event("failed", e.code); });
	`))
	assert.Equal(t, []string{`{"result":25}`, `"NotFound"`}, got)
}

func TestCallContentBoundMethod(t *testing.T) {
	e := newEnv(t)
	cfg := standaloneConfig("main")
	cfg.Content = content.HTML(`<script>hostview.bind("greet", function (p) { return "hi " + p.name; });</script>`)
	w, err := New(context.Background(), cfg, e.deps)
	require.NoError(t, err)

	var out string
	require.NoError(t, w.Call("greet", map[string]string{"name": "ada"}, time.Second).Decode(context.Background(), &out))
	assert.Equal(t, "hi ada", out)
}

func TestDeliverQueuesForContent(t *testing.T) {
	e := newEnv(t)
	cfg := standaloneConfig("main")
	cfg.Content = content.HTML(`<script>hostview.on("ping", function (p) { hostview.send_event("pong", p); });</script>`)
	w, err := New(context.Background(), cfg, e.deps)
	require.NoError(t, err)

	var pongs int
	w.On("pong", func(bridge.Event) error {
		pongs++
		return nil
	})
	assert.Equal(t, 1, e.reg.Broadcast("ping", json.RawMessage(`{}`)))
	assert.Zero(t, pongs, "delivery waits for the owner's tick")
	w.Backend().ProcessEvents()
	assert.Equal(t, 1, pongs)
}

func TestConstructionFailures(t *testing.T) {
	e := newEnv(t)

	e.sim.FailNextCreate(errors.New("no more windows"))
	_, err := New(context.Background(), standaloneConfig("a"), e.deps)
	assert.ErrorIs(t, err, message.ErrConstruction)

	bad := config.WindowConfig{ID: "b", Mode: config.ModeEmbedded, Width: 10, Height: 10,
		Parent: config.ParentConfig{Policy: config.PolicyOwner, Handle: 999}}
	_, err = New(context.Background(), bad, e.deps)
	assert.ErrorIs(t, err, message.ErrConstruction, "invalid parent handle")

	_, err = New(context.Background(), config.WindowConfig{Mode: config.ModeStandalone}, e.deps)
	assert.ErrorIs(t, err, message.ErrConstruction, "invalid config")

	integrated := config.WindowConfig{Mode: config.ModeIntegrated, Width: 10, Height: 10}
	_, err = New(context.Background(), integrated, e.deps)
	assert.ErrorIs(t, err, message.ErrConstruction, "integrated needs a toolkit")

	_, err = New(context.Background(), standaloneConfig("main"), e.deps)
	require.NoError(t, err)
	_, err = New(context.Background(), standaloneConfig("main"), e.deps)
	assert.ErrorIs(t, err, message.ErrDuplicateID)
	assert.Len(t, e.sim.Destroyed(), 1, "native window of the rejected duplicate is released")
	assert.Equal(t, 1, e.reg.Count())
}

func TestEmbeddedChildPolicy(t *testing.T) {
	e := newEnv(t)
	host, err := e.sim.CreateWindow(platform.WindowSpec{Title: "host", Bounds: platform.Rect{Width: 1000, Height: 800}})
	require.NoError(t, err)

	cfg := config.WindowConfig{ID: "panel", Mode: config.ModeEmbedded, Width: 300, Height: 200,
		Parent: config.ParentConfig{Policy: config.PolicyChild, Handle: uint64(host)}}
	w, err := New(context.Background(), cfg, e.deps)
	require.NoError(t, err)

	emb, ok := w.Backend().(*Embedded)
	require.True(t, ok)
	assert.Equal(t, config.PolicyChild, emb.Policy())
	assert.Equal(t, host, emb.Parent())
	spec, _, ok := e.sim.Spec(emb.Handle())
	require.True(t, ok)
	assert.Equal(t, platform.ParentChild, spec.Policy)

	assert.ErrorIs(t, emb.RunBlockingLoop(context.Background()), message.ErrUnsupported)

	require.NoError(t, emb.Show())
	e.sim.DestroyExternally(host)
	assert.True(t, emb.ProcessEvents(), "child dies with its parent")
	require.NoError(t, emb.Close())
	assert.Equal(t, lifecycle.Destroyed, emb.State())
}

func TestEmbeddedOwnerPolicyIsOwnedByTheTickingGoroutine(t *testing.T) {
	e := newEnv(t)
	host, err := e.sim.CreateWindow(platform.WindowSpec{Title: "host", Bounds: platform.Rect{Width: 1000, Height: 800}})
	require.NoError(t, err)

	cfg := config.WindowConfig{ID: "tool", Mode: config.ModeEmbedded, Width: 300, Height: 200,
		Parent: config.ParentConfig{Policy: config.PolicyOwner, Handle: uint64(host)}}
	w, err := New(context.Background(), cfg, e.deps)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	driven := make(chan error, 1)
	go func() { driven <- Drive(ctx, w, time.Millisecond) }()

	require.NoError(t, w.Show(ctx))
	assert.Equal(t, lifecycle.Shown, w.State())
	assert.ErrorIs(t, w.Backend().Hide(), message.ErrNotOnOwningThread, "test goroutine is not the owner")

	var out struct{ Result int }
	require.NoError(t, w.Call("math:square", map[string]int{"n": 6}, time.Second).Decode(ctx, &out))
	assert.Equal(t, 36, out.Result)

	require.NoError(t, w.Close(ctx))
	require.NoError(t, <-driven)
	assert.Equal(t, lifecycle.Destroyed, w.State())
	assert.True(t, e.sim.IsWindow(host), "owner policy leaves the parent alone")
}

type fakeToolkit struct {
	mu    sync.Mutex
	idles []func() bool
}

func (f *fakeToolkit) ScheduleIdle(fn func() bool) {
	f.mu.Lock()
	f.idles = append(f.idles, fn)
	f.mu.Unlock()
}

// runIdle calls every idle callback once, dropping those that finished.
func (f *fakeToolkit) runIdle() int {
	f.mu.Lock()
	idles := f.idles
	f.mu.Unlock()
	var keep []func() bool
	for _, fn := range idles {
		if fn() {
			keep = append(keep, fn)
		}
	}
	f.mu.Lock()
	f.idles = keep
	f.mu.Unlock()
	return len(keep)
}

func TestIntegratedIsDrivenByToolkitIdle(t *testing.T) {
	e := newEnv(t)
	tk := &fakeToolkit{}
	deps := e.deps
	deps.Toolkit = tk

	w, err := New(context.Background(), config.WindowConfig{ID: "int", Mode: config.ModeIntegrated, Width: 10, Height: 10}, deps)
	require.NoError(t, err)
	_, ok := w.Backend().(*Integrated)
	require.True(t, ok)

	assert.Equal(t, 1, tk.runIdle(), "first idle claims ownership")
	require.NoError(t, w.Backend().Show())

	e.sim.PostQuit()
	tk.runIdle()
	select {
	case <-w.CloseRequested():
	default:
		t.Fatal("quit broadcast should request close")
	}
	require.NoError(t, w.Backend().Close())
	assert.Equal(t, 0, tk.runIdle(), "destroyed window leaves the idle loop")
}

func TestRunBlockingLoop(t *testing.T) {
	e := newEnv(t)
	ready := make(chan *Window, 1)
	loopDone := make(chan error, 1)
	go func() {
		w, err := New(context.Background(), standaloneConfig("main"), e.deps)
		if err != nil {
			loopDone <- err
			close(ready)
			return
		}
		ready <- w
		loopDone <- w.Backend().RunBlockingLoop(context.Background())
	}()

	w := <-ready
	require.NotNil(t, w)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, w.Show(ctx))
	require.NoError(t, w.Emit(ctx, "hello", map[string]bool{"ok": true}))
	var out struct{ Result int }
	require.NoError(t, w.Call("math:square", map[string]int{"n": 3}, time.Second).Decode(ctx, &out))
	assert.Equal(t, 9, out.Result)

	e.sim.PostClose(w.Handle())
	select {
	case <-w.CloseRequested():
	case <-ctx.Done():
		t.Fatal("close request never observed")
	}
	require.NoError(t, w.Close(ctx))
	require.NoError(t, <-loopDone)
	assert.Equal(t, lifecycle.Destroyed, w.State())

	assert.ErrorIs(t, w.Show(ctx), message.ErrWindowClosed)
}
