// Package transport moves typed messages across the boundary between the
// tracking script, the dashboard and the vault.
package transport

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	"gopkg.in/src-d/go-errors.v1"
)

const (
	TypeError = "ERROR"
	TypeAck   = "ACK"
)

type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Meta    *Meta           `json:"meta,omitempty"`
}

type Meta struct {
	// SkipConsent marks messages that are handled regardless of the consent
	// decision of the visitor, like consent status queries.
	SkipConsent bool `json:"skipConsent,omitempty"`
}

// ErrorPayload is the payload of ERROR messages.
type ErrorPayload struct {
	Error string `json:"error"`
	Stack string `json:"stack,omitempty"`
}

// New builds a message of type typ with payload encoded as JSON. A nil
// payload leaves the message without one.
func New(typ string, payload any) (*Message, error) {
	m := &Message{Type: typ}
	if payload == nil {
		return m, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload %w", typ, err)
	}
	m.Payload = b
	return m, nil
}

func Ack() *Message {
	return &Message{Type: TypeAck}
}

// Error converts err into an ERROR message. Errors carrying a stack trace
// report it in the stack field.
func Error(err error) *Message {
	p := ErrorPayload{Error: err.Error()}
	var e *errors.Error
	if stderrors.As(err, &e) {
		p.Stack = fmt.Sprintf("%+v", e)
	}
	b, _ := json.Marshal(p)
	return &Message{Type: TypeError, Payload: b}
}

// Decode unmarshals the payload into v. Messages without payload leave v
// untouched.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	o := &Message{Type: m.Type}
	if m.Payload != nil {
		o.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.Meta != nil {
		meta := *m.Meta
		o.Meta = &meta
	}
	return o
}

func (m *Message) SkipConsent() bool {
	return m.Meta != nil && m.Meta.SkipConsent
}

// Err returns the remote error carried by ERROR messages and nil for every
// other type.
func (m *Message) Err() error {
	if m.Type != TypeError {
		return nil
	}
	var p ErrorPayload
	if err := m.Decode(&p); err != nil {
		return &RemoteError{Message: string(m.Payload)}
	}
	return &RemoteError{Message: p.Error, Stack: p.Stack}
}

// RemoteError is an error reported by the other side of the transport.
type RemoteError struct {
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	return e.Message
}
