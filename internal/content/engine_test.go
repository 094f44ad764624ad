package content

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1broseidon/hostview/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type invocation struct {
	target  string
	payload string
	reply   func(json.RawMessage, error)
}

type fakeHost struct {
	invokes []invocation
	events  []string
	answer  func(target string, payload json.RawMessage) (json.RawMessage, error, bool)
}

func (h *fakeHost) Invoke(target string, payload json.RawMessage, reply func(json.RawMessage, error)) {
	h.invokes = append(h.invokes, invocation{target: target, payload: string(payload), reply: reply})
	if h.answer != nil {
		if result, err, ok := h.answer(target, payload); ok {
			reply(result, err)
		}
	}
}

func (h *fakeHost) SendEvent(name string, payload json.RawMessage) {
	h.events = append(h.events, name+":"+string(payload))
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, host *fakeHost, opts Options) *Engine {
	t.Helper()
	opts.Logger = quietLogger()
	return NewEngine(host, opts)
}

func TestLoadRunsScriptsAndReadsTitle(t *testing.T) {
	e := newTestEngine(t, &fakeHost{}, Options{})
	page := `<html><head><title> Demo </title></head><body>
<script>var order = ["first"];</script>
<script type="text/template">order.push("never");</script>
<script>order.push(document.title); hostview.bind("greet", function (p) { return {hello: p.name}; });</script>
</body></html>`
	require.NoError(t, e.Load(context.Background(), HTML(page)))

	assert.Equal(t, "Demo", e.Title())
	assert.Equal(t, []any{"first", "Demo"}, e.vm.Get("order").Export())
	assert.True(t, e.HasMethod("greet"))

	out, err := e.CallMethod("greet", json.RawMessage(`{"name":"ada"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"ada"}`, string(out))

	_, err = e.CallMethod("missing", nil)
	assert.ErrorIs(t, err, message.ErrNotFound)
}

func TestBrokenScriptDoesNotAbortLoad(t *testing.T) {
	e := newTestEngine(t, &fakeHost{}, Options{})
	page := `<script>throw new Error("bad")</script><script>var ok = true;</script>`
	require.NoError(t, e.Load(context.Background(), HTML(page)))
	assert.Equal(t, true, e.vm.Get("ok").Export())
}

func TestInvokeResolvesAndRejects(t *testing.T) {
	host := &fakeHost{answer: func(target string, payload json.RawMessage) (json.RawMessage, error, bool) {
		switch target {
		case "math:square":
			return json.RawMessage(`{"result":25}`), nil, true
		case "math:unknown":
			return nil, message.Errorf(message.CodeNotFound, "no handler"), true
		}
		return nil, nil, false
	}}
	e := newTestEngine(t, host, Options{})
	require.NoError(t, e.Exec(`
var result, code, later;
hostview.invoke("math:square", {n: 5}).then(function (r) { result = r.result; });
hostview.invoke("math:unknown", {}).catch(function (err) { code = err.code; });
hostview.invoke("slow:op").then(function (r) { later = r; });
`))

	assert.EqualValues(t, 25, e.vm.Get("result").Export())
	assert.Equal(t, "NotFound", e.vm.Get("code").Export())
	require.Len(t, host.invokes, 3)
	assert.JSONEq(t, `{"n":5}`, host.invokes[0].payload)
	assert.Empty(t, host.invokes[2].payload)

	host.invokes[2].reply(json.RawMessage(`"done"`), nil)
	assert.Equal(t, "done", e.vm.Get("later").Export())
}

func TestEmitOrderIsolationAndVeto(t *testing.T) {
	e := newTestEngine(t, &fakeHost{}, Options{})
	require.NoError(t, e.Exec(`
var seen = [];
hostview.on("closing", function () { seen.push(1); });
hostview.on("closing", function () { throw new Error("listener 2"); });
hostview.on("closing", function () { seen.push(3); return false; });
var off = hostview.on("resized", function (p) { seen.push(p.width); });
`))

	vetoed, err := e.Emit("closing", nil)
	require.NoError(t, err)
	assert.True(t, vetoed)
	assert.Equal(t, []any{int64(1), int64(3)}, e.vm.Get("seen").Export())

	vetoed, err = e.Emit("resized", json.RawMessage(`{"width":640,"height":480}`))
	require.NoError(t, err)
	assert.False(t, vetoed)

	require.NoError(t, e.Exec(`off(); seen = [];`))
	_, err = e.Emit("resized", json.RawMessage(`{"width":1}`))
	require.NoError(t, err)
	assert.Empty(t, e.vm.Get("seen").Export())
}

func TestSendEventReachesHost(t *testing.T) {
	host := &fakeHost{}
	e := newTestEngine(t, host, Options{})
	require.NoError(t, e.Exec(`hostview.send_event("ready", {ok: true}); hostview.sendEvent("bare");`))
	assert.Equal(t, []string{`ready:{"ok":true}`, "bare:"}, host.events)
}

func TestTimersRunOnProcessEvents(t *testing.T) {
	e := newTestEngine(t, &fakeHost{}, Options{})
	now := time.Unix(1000, 0)
	e.now = func() time.Time { return now }
	require.NoError(t, e.Exec(`
var fired = [];
setTimeout(function () { fired.push("b"); }, 20);
setTimeout(function () { fired.push("a"); }, 10);
var cancelled = setTimeout(function () { fired.push("x"); }, 5);
clearTimeout(cancelled);
`))

	assert.Equal(t, 0, e.ProcessEvents())
	now = now.Add(15 * time.Millisecond)
	assert.Equal(t, 1, e.ProcessEvents())
	now = now.Add(15 * time.Millisecond)
	assert.Equal(t, 1, e.ProcessEvents())
	assert.Equal(t, []any{"a", "b"}, e.vm.Get("fired").Export())
}

func TestLoadResetsPreviousPage(t *testing.T) {
	e := newTestEngine(t, &fakeHost{}, Options{})
	require.NoError(t, e.Load(context.Background(), HTML(`<script>hostview.bind("old", function () { return 1; });</script>`)))
	require.True(t, e.HasMethod("old"))
	require.NoError(t, e.Load(context.Background(), HTML(`<p>second</p>`)))
	assert.False(t, e.HasMethod("old"))
}

func TestLoadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/index.html":
			_, _ = io.WriteString(w, `<title>Remote</title><script src="/app.js"></script>`)
		case "/app.js":
			_, _ = io.WriteString(w, `var loaded = "yes";`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := newTestEngine(t, &fakeHost{}, Options{HTTPClient: srv.Client()})
	require.NoError(t, e.Load(context.Background(), URL(srv.URL+"/index.html")))
	assert.Equal(t, "Remote", e.Title())
	assert.Equal(t, "yes", e.vm.Get("loaded").Export())

	assert.Error(t, e.Load(context.Background(), URL(srv.URL+"/missing")))
}

func TestLocalFilesRequireOptIn(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "page.html")
	require.NoError(t, os.WriteFile(path, []byte(`<title>Local</title>`), 0o600))

	denied := newTestEngine(t, &fakeHost{}, Options{})
	err := denied.Load(context.Background(), URL("file://"+path))
	assert.ErrorIs(t, err, message.ErrInvalidRequest)

	allowed := newTestEngine(t, &fakeHost{}, Options{AllowLocalFiles: true})
	require.NoError(t, allowed.Load(context.Background(), URL("file://"+path)))
	assert.Equal(t, "Local", allowed.Title())
}

func TestSourceValidate(t *testing.T) {
	assert.NoError(t, HTML("<p>").Validate())
	assert.NoError(t, URL("https://example.com").Validate())
	assert.Error(t, Source{HTML: "x", URL: "https://example.com"}.Validate())
	assert.Error(t, URL("ftp://example.com").Validate())
	assert.True(t, Source{}.IsZero())
}

func TestClosedEngineRejectsWork(t *testing.T) {
	e := newTestEngine(t, &fakeHost{}, Options{})
	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.Exec("1"), message.ErrWindowClosed)
	_, err := e.Emit("x", nil)
	assert.ErrorIs(t, err, message.ErrWindowClosed)
	assert.False(t, e.HasMethod("x"))
	assert.NoError(t, e.Close())
}
