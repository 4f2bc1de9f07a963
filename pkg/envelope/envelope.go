// Package envelope defines the minimal message shape exchanged with a ledger node and
// the typed push events decoded from it.
package envelope

import (
	"encoding/json"
	"fmt"
)

// ErrorPayload carries the server's error code and message on an error response.
type ErrorPayload struct {
	Code    string `json:"error"`
	Message string `json:"error_message,omitempty"`
}

// Envelope is the structured message passed across the Transport boundary.
// Requests carry ID and Command; responses carry ID and Status; push events carry
// neither and are identified by Type.
type Envelope struct {
	ID      *uint64         `json:"id,omitempty"`
	Type    string          `json:"type"`
	Command string          `json:"command,omitempty"`
	Status  string          `json:"status,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorPayload   `json:"error,omitempty"`
}

// Envelope types and statuses.
const (
	TypeRequest  = "request"
	TypeResponse = "response"

	StatusSuccess = "success"
	StatusError   = "error"
)

// NewRequest builds a request envelope. A nil params value produces no payload.
func NewRequest(id uint64, command string, params any) (*Envelope, error) {
	payload, err := marshalPayload(params)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal params for %q: %w", command, err)
	}
	return &Envelope{ID: &id, Type: TypeRequest, Command: command, Payload: payload}, nil
}

// NewResponse builds a response envelope for request id.
func NewResponse(id uint64, status string, result any) (*Envelope, error) {
	payload, err := marshalPayload(result)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal result for id %d: %w", id, err)
	}
	return &Envelope{ID: &id, Type: TypeResponse, Status: status, Payload: payload}, nil
}

// NewEvent builds a push-event envelope of the given kind.
func NewEvent(kind string, payload any) (*Envelope, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal %s event: %w", kind, err)
	}
	return &Envelope{Type: kind, Payload: raw}, nil
}

func marshalPayload(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(v)
}

// IsResponse reports whether the envelope answers a request.
func (e *Envelope) IsResponse() bool {
	return e.Type == TypeResponse || (e.Type == "" && e.ID != nil)
}

// DecodePayload unmarshals the payload into v. A missing or null payload leaves v untouched.
func (e *Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// IDValue returns the id, or 0 and false when the envelope has none.
func (e *Envelope) IDValue() (uint64, bool) {
	if e.ID == nil {
		return 0, false
	}
	return *e.ID, true
}
