package platform

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimPerWindowMessages(t *testing.T) {
	s := NewSim()
	a, err := s.CreateWindow(WindowSpec{Title: "a", Bounds: Rect{Width: 100, Height: 100}})
	require.NoError(t, err)
	b, err := s.CreateWindow(WindowSpec{Title: "b", Bounds: Rect{Width: 100, Height: 100}})
	require.NoError(t, err)

	s.PostClose(a)
	s.Post(b, Message{Code: CodeFocusIn})

	got := s.PeekWindowMessages(a)
	require.Len(t, got, 1)
	assert.Equal(t, CodeClientMessage, got[0].Code)
	assert.Equal(t, ProtocolDeleteWindow, got[0].Name)
	assert.Empty(t, s.PeekWindowMessages(a), "drained")

	assert.Empty(t, s.PeekThreadMessages(), "window queues are not thread messages")
	rest := s.PeekWindowMessages(b)
	require.Len(t, rest, 1)
	assert.Equal(t, b, rest[0].Window)
}

func TestSimThreadQueueIsBounded(t *testing.T) {
	s := NewSim()
	h, err := s.CreateWindow(WindowSpec{})
	require.NoError(t, err)
	s.DestroyExternally(h)

	for i := 0; i < threadQueueLimit+10; i++ {
		s.Post(h, Message{Code: CodeUnknown, Raw: uint32(i)})
	}
	msgs := s.PeekThreadMessages()
	require.Len(t, msgs, threadQueueLimit)
	assert.Equal(t, uint32(10), msgs[0].Raw, "oldest dropped first")
	assert.Equal(t, uint32(threadQueueLimit+9), msgs[len(msgs)-1].Raw)
	assert.Empty(t, s.PeekThreadMessages())

	s.Release(h)
	assert.Equal(t, []Handle{h}, s.Released())
}

func TestSimParentPolicies(t *testing.T) {
	s := NewSim()
	_, err := s.CreateWindow(WindowSpec{Policy: ParentChild, Parent: 42})
	assert.ErrorIs(t, err, ErrInvalidHandle)

	parent, err := s.CreateWindow(WindowSpec{})
	require.NoError(t, err)
	child, err := s.CreateWindow(WindowSpec{Policy: ParentChild, Parent: parent})
	require.NoError(t, err)
	owned, err := s.CreateWindow(WindowSpec{Policy: ParentOwner, Parent: parent})
	require.NoError(t, err)

	s.DestroyExternally(parent)
	assert.False(t, s.IsWindow(child), "child dies with parent")
	assert.True(t, s.IsWindow(owned), "owned window survives")
}

func TestSimCreateFailureAndCentering(t *testing.T) {
	s := NewSim()
	boom := errors.New("no visual")
	s.FailNextCreate(boom)
	_, err := s.CreateWindow(WindowSpec{})
	assert.ErrorIs(t, err, boom)

	h, err := s.CreateWindow(WindowSpec{Center: true, Bounds: Rect{Width: 800, Height: 600}})
	require.NoError(t, err)
	spec, _, ok := s.Spec(h)
	require.True(t, ok)
	assert.Equal(t, Rect{X: 560, Y: 240, Width: 800, Height: 600}, spec.Bounds)
}

func TestSimShowHideQueuesMapMessages(t *testing.T) {
	s := NewSim()
	h, err := s.CreateWindow(WindowSpec{})
	require.NoError(t, err)
	require.NoError(t, s.ShowWindow(h))
	require.NoError(t, s.ShowWindow(h))
	require.NoError(t, s.HideWindow(h))

	msgs := s.PeekWindowMessages(h)
	require.Len(t, msgs, 2)
	assert.Equal(t, CodeMap, msgs[0].Code)
	assert.Equal(t, CodeUnmap, msgs[1].Code)

	require.NoError(t, s.PostQuit())
	msgs = s.PeekWindowMessages(h)
	require.Len(t, msgs, 1)
	assert.Equal(t, CodeQuit, msgs[0].Code)
	thread := s.PeekThreadMessages()
	require.Len(t, thread, 1)
	assert.Equal(t, CodeQuit, thread[0].Code)
}

func TestOpen(t *testing.T) {
	p, err := Open("headless")
	require.NoError(t, err)
	assert.Equal(t, "headless", p.Name())

	t.Setenv("DISPLAY", "")
	p, err = Open("auto")
	require.NoError(t, err)
	assert.Equal(t, "headless", p.Name())

	_, err = Open("wayland")
	assert.Error(t, err)
}
