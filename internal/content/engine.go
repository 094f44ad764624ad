package content

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/1broseidon/hostview/internal/message"
	"github.com/antchfx/htmlquery"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

const maxFetchBytes = 8 << 20

// Options control what loaded content may do.
type Options struct {
	DevTools        bool
	AllowLocalFiles bool
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Engine is a Renderer backed by goja. Each Load starts a fresh JavaScript
// realm, dropping listeners, bound methods and timers of the previous page.
type Engine struct {
	host   Host
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	vm        *goja.Runtime
	title     string
	listeners map[string][]*listener
	methods   map[string]goja.Callable
	timers    []*timer
	nextID    int64
	closed    bool
}

type listener struct {
	id int64
	fn goja.Callable
}

type timer struct {
	id  int64
	due time.Time
	fn  goja.Callable
}

var _ Renderer = (*Engine)(nil)

func NewEngine(host Host, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	e := &Engine{
		host:   host,
		opts:   opts,
		logger: logger.With("component", "content"),
		now:    time.Now,
	}
	e.reset()
	return e
}

func (e *Engine) reset() {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	e.vm = vm
	e.listeners = make(map[string][]*listener)
	e.methods = make(map[string]goja.Callable)
	e.timers = nil

	api := vm.NewObject()
	_ = api.Set("invoke", e.jsInvoke)
	_ = api.Set("send_event", e.jsSendEvent)
	_ = api.Set("sendEvent", e.jsSendEvent)
	_ = api.Set("on", e.jsOn)
	_ = api.Set("bind", e.jsBind)
	_ = api.Set("devtools", e.opts.DevTools)
	_ = vm.Set("hostview", api)

	console := vm.NewObject()
	_ = console.Set("log", e.jsConsole(slog.LevelDebug))
	_ = console.Set("info", e.jsConsole(slog.LevelInfo))
	_ = console.Set("warn", e.jsConsole(slog.LevelWarn))
	_ = console.Set("error", e.jsConsole(slog.LevelError))
	_ = vm.Set("console", console)

	_ = vm.Set("setTimeout", e.jsSetTimeout)
	_ = vm.Set("clearTimeout", e.jsClearTimeout)
	_ = vm.Set("window", vm.GlobalObject())
	e.setDocument()
}

func (e *Engine) setDocument() {
	doc := e.vm.NewObject()
	_ = doc.Set("title", e.title)
	_ = e.vm.Set("document", doc)
}

// Load replaces the current page.
func (e *Engine) Load(ctx context.Context, src Source) error {
	if e.closed {
		return message.ErrWindowClosed
	}
	if err := src.Validate(); err != nil {
		return err
	}

	markup := src.HTML
	var base *url.URL
	if src.URL != "" {
		u, err := url.Parse(src.URL)
		if err != nil {
			return message.Wrap(message.CodeInvalidRequest, err, "invalid content url")
		}
		base = u
		if markup, err = e.fetch(ctx, u); err != nil {
			return err
		}
	}

	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return fmt.Errorf("failed to parse content: %w", err)
	}

	e.title = ""
	if node := htmlquery.FindOne(doc, "//title"); node != nil {
		e.title = strings.TrimSpace(htmlquery.InnerText(node))
	}
	e.reset()

	for i, node := range scripts(doc) {
		name := fmt.Sprintf("script#%d", i)
		code := htmlquery.InnerText(node)
		if ref := htmlquery.SelectAttr(node, "src"); ref != "" {
			target, err := resolveRef(base, ref)
			if err != nil {
				e.logger.Warn("skipping script with bad src", "src", ref, "error", err)
				continue
			}
			name = target.String()
			if code, err = e.fetch(ctx, target); err != nil {
				e.logger.Warn("failed to fetch script", "src", name, "error", err)
				continue
			}
		}
		if _, err := e.vm.RunScript(name, code); err != nil {
			e.logger.Warn("script failed", "script", name, "error", err)
		}
	}
	e.logger.Debug("content loaded", "source", src.String(), "title", e.title)
	return nil
}

// scripts returns the executable <script> elements in document order.
func scripts(doc *html.Node) []*html.Node {
	var out []*html.Node
	for _, node := range htmlquery.Find(doc, "//script") {
		switch strings.ToLower(strings.TrimSpace(htmlquery.SelectAttr(node, "type"))) {
		case "", "text/javascript", "application/javascript", "module":
			out = append(out, node)
		}
	}
	return out
}

func resolveRef(base *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("relative src %q without a base url", ref)
	}
	return u, nil
}

func (e *Engine) fetch(ctx context.Context, u *url.URL) (string, error) {
	switch strings.ToLower(u.Scheme) {
	case "file":
		if !e.opts.AllowLocalFiles {
			return "", message.Errorf(message.CodeInvalidRequest, "local file access is disabled for %s", u)
		}
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", u.Path, err)
		}
		return string(data), nil
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return "", err
		}
		resp, err := e.opts.HTTPClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to fetch %s: %w", u, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("failed to fetch %s: %s", u, resp.Status)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", u, err)
		}
		return string(data), nil
	}
	return "", message.Errorf(message.CodeInvalidRequest, "unsupported scheme %q", u.Scheme)
}

// Exec runs script in the current page.
func (e *Engine) Exec(script string) error {
	if e.closed {
		return message.ErrWindowClosed
	}
	if _, err := e.vm.RunString(script); err != nil {
		return message.Wrap(message.CodeHandler, err, "script failed")
	}
	return nil
}

func (e *Engine) Emit(name string, payload json.RawMessage) (bool, error) {
	if e.closed {
		return false, message.ErrWindowClosed
	}
	arg, err := e.importJSON(payload)
	if err != nil {
		return false, err
	}
	vetoed := false
	for _, l := range append([]*listener(nil), e.listeners[name]...) {
		result, err := l.fn(goja.Undefined(), arg)
		if err != nil {
			e.logger.Warn("content listener failed", "event", name, "error", err)
			continue
		}
		if result != nil {
			if b, ok := result.Export().(bool); ok && !b {
				vetoed = true
			}
		}
	}
	return vetoed, nil
}

func (e *Engine) HasMethod(name string) bool {
	if e.closed {
		return false
	}
	_, ok := e.methods[name]
	return ok
}

// CallMethod invokes a function registered with hostview.bind. A returned
// promise must already be settled when the call unwinds.
func (e *Engine) CallMethod(name string, payload json.RawMessage) (json.RawMessage, error) {
	fn, ok := e.methods[name]
	if !ok || e.closed {
		return nil, message.Errorf(message.CodeNotFound, "no content method %q", name)
	}
	arg, err := e.importJSON(payload)
	if err != nil {
		return nil, err
	}
	result, err := fn(goja.Undefined(), arg)
	if err != nil {
		return nil, message.Wrap(message.CodeHandler, err, "content method %q failed", name)
	}
	if p, ok := result.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			result = p.Result()
		case goja.PromiseStateRejected:
			return nil, message.Errorf(message.CodeHandler, "content method %q rejected: %s", name, p.Result().String())
		default:
			return nil, message.Errorf(message.CodeHandler, "content method %q returned a pending promise", name)
		}
	}
	return e.exportJSON(result)
}

func (e *Engine) ProcessEvents() int {
	if e.closed || len(e.timers) == 0 {
		return 0
	}
	now := e.now()
	var due, pending []*timer
	for _, t := range e.timers {
		if !t.due.After(now) {
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	if len(due) == 0 {
		return 0
	}
	e.timers = pending
	sort.SliceStable(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })
	for _, t := range due {
		if _, err := t.fn(goja.Undefined()); err != nil {
			e.logger.Warn("timer callback failed", "error", err)
		}
	}
	return len(due)
}

func (e *Engine) Title() string { return e.title }

func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.timers = nil
	e.listeners = nil
	e.methods = nil
	e.vm.Interrupt("renderer closed")
	return nil
}

func (e *Engine) jsInvoke(call goja.FunctionCall) goja.Value {
	target := call.Argument(0).String()
	promise, resolve, reject := e.vm.NewPromise()
	payload, err := e.exportJSON(call.Argument(1))
	if err != nil {
		_ = reject(e.errorValue(err))
		return e.vm.ToValue(promise)
	}
	vm := e.vm
	e.host.Invoke(target, payload, func(result json.RawMessage, err error) {
		// The page may have been replaced or closed while the call was out.
		if e.closed || e.vm != vm {
			return
		}
		if err != nil {
			_ = reject(e.errorValue(err))
			return
		}
		v, err := e.importJSON(result)
		if err != nil {
			_ = reject(e.errorValue(err))
			return
		}
		_ = resolve(v)
	})
	return e.vm.ToValue(promise)
}

func (e *Engine) jsSendEvent(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	payload, err := e.exportJSON(call.Argument(1))
	if err != nil {
		panic(e.vm.NewTypeError("hostview.send_event: %v", err))
	}
	e.host.SendEvent(name, payload)
	return goja.Undefined()
}

func (e *Engine) jsOn(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(e.vm.NewTypeError("hostview.on: handler for %q is not a function", name))
	}
	e.nextID++
	l := &listener{id: e.nextID, fn: fn}
	e.listeners[name] = append(e.listeners[name], l)

	return e.vm.ToValue(func(goja.FunctionCall) goja.Value {
		current := e.listeners[name]
		for i, existing := range current {
			if existing.id == l.id {
				e.listeners[name] = append(current[:i:i], current[i+1:]...)
				break
			}
		}
		return goja.Undefined()
	})
}

func (e *Engine) jsBind(call goja.FunctionCall) goja.Value {
	name := call.Argument(0).String()
	fn, ok := goja.AssertFunction(call.Argument(1))
	if !ok {
		panic(e.vm.NewTypeError("hostview.bind: handler for %q is not a function", name))
	}
	e.methods[name] = fn
	return goja.Undefined()
}

func (e *Engine) jsSetTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := call.Argument(1).ToInteger()
	if delay < 0 {
		delay = 0
	}
	e.nextID++
	e.timers = append(e.timers, &timer{
		id:  e.nextID,
		due: e.now().Add(time.Duration(delay) * time.Millisecond),
		fn:  fn,
	})
	return e.vm.ToValue(e.nextID)
}

func (e *Engine) jsClearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	for i, t := range e.timers {
		if t.id == id {
			e.timers = append(e.timers[:i:i], e.timers[i+1:]...)
			break
		}
	}
	return goja.Undefined()
}

func (e *Engine) jsConsole(level slog.Level) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, arg.String())
		}
		if e.opts.DevTools && level < slog.LevelInfo {
			level = slog.LevelInfo
		}
		e.logger.Log(context.Background(), level, "console", "text", strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (e *Engine) importJSON(raw json.RawMessage) (goja.Value, error) {
	if len(raw) == 0 {
		return goja.Undefined(), nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, message.Wrap(message.CodeInvalidRequest, err, "failed to decode payload")
	}
	return e.vm.ToValue(v), nil
}

func (e *Engine) exportJSON(v goja.Value) (json.RawMessage, error) {
	if v == nil || goja.IsUndefined(v) {
		return nil, nil
	}
	data, err := json.Marshal(v.Export())
	if err != nil {
		return nil, message.Wrap(message.CodeInvalidRequest, err, "failed to encode value")
	}
	return data, nil
}

// errorValue builds a JS Error carrying the taxonomy code.
func (e *Engine) errorValue(err error) goja.Value {
	info := message.Info(err)
	obj, newErr := e.vm.New(e.vm.Get("Error"), e.vm.ToValue(info.Message))
	if newErr != nil {
		return e.vm.ToValue(map[string]any{"code": string(info.Code), "message": info.Message})
	}
	_ = obj.Set("code", string(info.Code))
	return obj
}
