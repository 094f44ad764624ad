package message

import (
	"encoding/json"
	"fmt"
)

// Direction tells a receiver how to route an envelope.
type Direction string

const (
	Request  Direction = "request"
	Response Direction = "response"
	Event    Direction = "event"
)

// Envelope is the unit exchanged on the bridge. Requests carry a
// correlation id, responses echo it, events never have one.
type Envelope struct {
	CorrelationID string          `json:"correlation_id,omitempty"`
	Direction     Direction       `json:"direction"`
	Target        string          `json:"target"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         *ErrorInfo      `json:"error,omitempty"`
}

// NewRequest builds a request envelope. payload is marshalled unless it is
// already a json.RawMessage.
func NewRequest(id, target string, payload any) (*Envelope, error) {
	if id == "" {
		return nil, Errorf(CodeInvalidRequest, "request %q has no correlation id", target)
	}
	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{CorrelationID: id, Direction: Request, Target: target, Payload: raw}, nil
}

// NewResponse answers req. A non-nil err becomes the envelope's error and the
// payload is dropped.
func NewResponse(req *Envelope, payload any, err error) *Envelope {
	resp := &Envelope{CorrelationID: req.CorrelationID, Direction: Response, Target: req.Target}
	if err != nil {
		resp.Error = Info(err)
		return resp
	}
	raw, encErr := EncodePayload(payload)
	if encErr != nil {
		resp.Error = Info(Wrap(CodeHandler, encErr, "failed to encode result of %q", req.Target))
		return resp
	}
	resp.Payload = raw
	return resp
}

// NewEvent builds an event envelope.
func NewEvent(name string, payload any) (*Envelope, error) {
	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Direction: Event, Target: name, Payload: raw}, nil
}

// Validate checks the per-direction invariants.
func (e *Envelope) Validate() error {
	switch e.Direction {
	case Request, Response:
		if e.CorrelationID == "" {
			return Errorf(CodeInvalidRequest, "%s for %q has no correlation id", e.Direction, e.Target)
		}
	case Event:
		if e.CorrelationID != "" {
			return Errorf(CodeInvalidRequest, "event %q carries a correlation id", e.Target)
		}
	default:
		return Errorf(CodeInvalidRequest, "unknown direction %q", e.Direction)
	}
	if e.Direction != Response && e.Target == "" {
		return Errorf(CodeInvalidRequest, "%s has no target", e.Direction)
	}
	return nil
}

// Marshal encodes the envelope as a single JSON line.
func (e *Envelope) Marshal() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return append(data, '\n'), nil
}

// Parse decodes and validates an envelope.
func Parse(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Wrap(CodeInvalidRequest, err, "failed to parse envelope")
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &env, nil
}

// EncodePayload marshals v, passing raw JSON through untouched. Nil becomes
// an empty payload.
func EncodePayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, Errorf(CodeInvalidRequest, "payload is not valid JSON")
		}
		return json.RawMessage(p), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, Wrap(CodeInvalidRequest, err, "failed to encode payload")
	}
	return data, nil
}

// DecodePayload unmarshals raw into v. An empty payload leaves v untouched.
func DecodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return Wrap(CodeInvalidRequest, err, "failed to decode payload")
	}
	return nil
}
