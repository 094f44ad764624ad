package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesByCode(t *testing.T) {
	err := Errorf(CodeNotFound, "no handler for %q", "math:unknown")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrTimeout))

	wrapped := fmt.Errorf("call failed: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, CodeNotFound, CodeOf(wrapped))
}

func TestAbandonedDistinguishesDeadlineFromCancel(t *testing.T) {
	err := Abandoned(context.DeadlineExceeded, "call %q abandoned", "slow")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrCancelled)

	err = Abandoned(context.Canceled, "call %q abandoned", "slow")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestInfoRoundTripKeepsCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
	}{
		{name: "taxonomy", err: Errorf(CodeTimeout, "deadline 50ms"), code: CodeTimeout},
		{name: "sentinel", err: ErrCancelled, code: CodeCancelled},
		{name: "foreign", err: errors.New("boom"), code: CodeHandler},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			info := Info(tc.err)
			require.NotNil(t, info)
			assert.Equal(t, tc.code, info.Code)
			assert.Equal(t, tc.code, CodeOf(info.Err()))
		})
	}
	assert.Nil(t, Info(nil))
	var nilInfo *ErrorInfo
	assert.NoError(t, nilInfo.Err())
}

func TestResponseEchoesCorrelationID(t *testing.T) {
	req, err := NewRequest("c1", "math:square", map[string]int{"n": 5})
	require.NoError(t, err)

	resp := NewResponse(req, map[string]int{"result": 25}, nil)
	assert.Equal(t, "c1", resp.CorrelationID)
	assert.Equal(t, Response, resp.Direction)
	assert.JSONEq(t, `{"result":25}`, string(resp.Payload))
	assert.Nil(t, resp.Error)

	failed := NewResponse(req, nil, ErrNotFound)
	require.NotNil(t, failed.Error)
	assert.Equal(t, CodeNotFound, failed.Error.Code)
	assert.Empty(t, failed.Payload)
}

func TestEnvelopeValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{name: "request", env: Envelope{CorrelationID: "a", Direction: Request, Target: "x"}},
		{name: "request without id", env: Envelope{Direction: Request, Target: "x"}, wantErr: true},
		{name: "response", env: Envelope{CorrelationID: "a", Direction: Response}},
		{name: "event", env: Envelope{Direction: Event, Target: "ping"}},
		{name: "event with id", env: Envelope{CorrelationID: "a", Direction: Event, Target: "ping"}, wantErr: true},
		{name: "unknown direction", env: Envelope{Direction: "sideways", Target: "x"}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.env.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseMarshalledEnvelope(t *testing.T) {
	env, err := NewEvent("resized", map[string]int{"width": 800, "height": 600})
	require.NoError(t, err)
	line, err := env.Marshal()
	require.NoError(t, err)
	assert.Equal(t, byte('\n'), line[len(line)-1])

	parsed, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, Event, parsed.Direction)
	assert.Equal(t, "resized", parsed.Target)

	_, err = Parse([]byte("{not json"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestEncodePayloadPassesRawThrough(t *testing.T) {
	raw := json.RawMessage(`{"a":1}`)
	got, err := EncodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = EncodePayload([]byte("nope"))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	got, err = EncodePayload(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueueFIFOAndClose(t *testing.T) {
	q := NewQueue()
	var order []int
	for i := 0; i < 3; i++ {
		require.NoError(t, q.PushTask(func() { order = append(order, i) }))
	}
	assert.Equal(t, 3, q.Len())

	select {
	case <-q.Ready():
	default:
		t.Fatal("Ready() not signalled after push")
	}

	for _, item := range q.Drain() {
		item.Task()
	}
	assert.Equal(t, []int{0, 1, 2}, order)
	assert.Nil(t, q.Drain())

	require.NoError(t, q.Push(&Envelope{Direction: Event, Target: "late"}))
	left := q.Close()
	require.Len(t, left, 1)
	assert.Equal(t, "late", left[0].Envelope.Target)
	assert.ErrorIs(t, q.PushTask(func() {}), ErrWindowClosed)
	assert.True(t, q.Closed())
}

func TestQueueConcurrentProducers(t *testing.T) {
	q := NewQueue()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = q.PushTask(func() {})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, q.Drain(), 800)
}
