package registry

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/1broseidon/hostview/internal/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWindow struct {
	mu        sync.Mutex
	events    []string
	fail      error
	cancelled []string
	pending   int
}

func (w *fakeWindow) Deliver(name string, payload json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail != nil {
		return w.fail
	}
	w.events = append(w.events, name+string(payload))
	return nil
}

func (w *fakeWindow) CancelPending(reason string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = append(w.cancelled, reason)
	n := w.pending
	w.pending = 0
	return n
}

func (w *fakeWindow) received() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.events...)
}

func newTestRegistry() *Registry {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterAssignsAndRejectsDuplicates(t *testing.T) {
	r := newTestRegistry()
	a, b := &fakeWindow{}, &fakeWindow{}

	uid, err := r.Register(a, "main")
	require.NoError(t, err)
	assert.Equal(t, "main", uid)

	_, err = r.Register(b, "main")
	assert.ErrorIs(t, err, message.ErrDuplicateID)

	generated, err := r.Register(b, "")
	require.NoError(t, err)
	assert.NotEmpty(t, generated)
	assert.NotEqual(t, "main", generated)
	assert.Equal(t, 2, r.Count())

	got, ok := r.Get(generated)
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestUnregisterCancelsAndRetiresID(t *testing.T) {
	r := newTestRegistry()
	w := &fakeWindow{pending: 2}
	_, err := r.Register(w, "main")
	require.NoError(t, err)

	assert.True(t, r.Unregister("main"))
	assert.False(t, r.Unregister("main"), "idempotent")
	assert.Len(t, w.cancelled, 1)
	assert.Zero(t, r.Count())

	_, ok := r.Get("main")
	assert.False(t, ok)

	_, err = r.Register(&fakeWindow{}, "main")
	assert.ErrorIs(t, err, message.ErrDuplicateID, "destroyed ids are never reused")
}

func TestActiveWindow(t *testing.T) {
	r := newTestRegistry()
	_, _, ok := r.Active()
	assert.False(t, ok)

	_, err := r.Register(&fakeWindow{}, "main")
	require.NoError(t, err)
	_, err = r.Register(&fakeWindow{}, "child")
	require.NoError(t, err)

	uid, _, ok := r.Active()
	require.True(t, ok)
	assert.Equal(t, "main", uid, "first registration becomes active")

	require.NoError(t, r.SetActive("child"))
	uid, _, _ = r.Active()
	assert.Equal(t, "child", uid)
	assert.ErrorIs(t, r.SetActive("nope"), message.ErrNotFound)

	r.Unregister("child")
	_, _, ok = r.Active()
	assert.False(t, ok)
}

func TestAllIsInRegistrationOrder(t *testing.T) {
	r := newTestRegistry()
	for _, uid := range []string{"c", "a", "b"} {
		_, err := r.Register(&fakeWindow{}, uid)
		require.NoError(t, err)
	}
	var ids []string
	for _, info := range r.All() {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestBroadcastExclude(t *testing.T) {
	r := newTestRegistry()
	a, b := &fakeWindow{}, &fakeWindow{}
	_, err := r.Register(a, "main")
	require.NoError(t, err)
	_, err = r.Register(b, "child")
	require.NoError(t, err)

	n := r.Broadcast("ping", json.RawMessage(`{}`), "child")
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"ping{}"}, a.received())
	assert.Empty(t, b.received())
}

func TestBroadcastIsBestEffort(t *testing.T) {
	r := newTestRegistry()
	broken := &fakeWindow{fail: errors.New("queue closed")}
	ok := &fakeWindow{}
	_, err := r.Register(broken, "broken")
	require.NoError(t, err)
	_, err = r.Register(ok, "ok")
	require.NoError(t, err)

	assert.Equal(t, 1, r.Broadcast("ping", nil))
	assert.Equal(t, []string{"ping"}, ok.received())
}

func TestSendTo(t *testing.T) {
	r := newTestRegistry()
	w := &fakeWindow{}
	_, err := r.Register(w, "main")
	require.NoError(t, err)

	assert.True(t, r.SendTo("main", "hello", json.RawMessage(`1`)))
	assert.False(t, r.SendTo("ghost", "hello", nil))
	assert.Equal(t, []string{"hello1"}, w.received())
}

func TestConcurrentRegisterBroadcastUnregister(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			uid, err := r.Register(&fakeWindow{}, "")
			if err != nil {
				t.Error(err)
				return
			}
			r.Broadcast("tick", nil)
			r.Unregister(uid)
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Count())
}

func TestCloseUnregistersEverything(t *testing.T) {
	r := newTestRegistry()
	a, b := &fakeWindow{}, &fakeWindow{}
	_, _ = r.Register(a, "a")
	_, _ = r.Register(b, "b")
	r.Close()
	assert.Zero(t, r.Count())
	assert.Len(t, a.cancelled, 1)
	assert.Len(t, b.cancelled, 1)
}
