package transport

import (
	"context"
	"errors"
	"sync/atomic"
)

var ErrReplied = errors.New("transport: reply already sent")

// Port accepts posted messages.
type Port interface {
	Post(ctx context.Context, m *Message) error
}

type PortFunc func(ctx context.Context, m *Message) error

func (f PortFunc) Post(ctx context.Context, m *Message) error {
	return f(ctx, m)
}

// Once wraps p so that only the first message is posted. Later posts fail with
// ErrReplied.
func Once(p Port) Port {
	return &once{port: p}
}

type once struct {
	done atomic.Bool
	port Port
}

func (o *once) Post(ctx context.Context, m *Message) error {
	if !o.done.CompareAndSwap(false, true) {
		return ErrReplied
	}
	return o.port.Post(ctx, m)
}

// Envelope is a message as received by the vault together with what is known
// about its sender.
type Envelope struct {
	Message *Message
	// Origin of the page that posted the message.
	Origin string
	// Client identifies the sending browser. It is used to keep consent and
	// sessions and never leaves the vault.
	Client string
	// Reply receives the single reply. It may be nil when the sender does not
	// expect one.
	Reply Port
}

// Sender posts a message and waits for its reply.
type Sender interface {
	Send(ctx context.Context, m *Message) (*Message, error)
}

// Dispatcher handles envelopes, replying through their Reply port.
type Dispatcher interface {
	Handle(ctx context.Context, e Envelope)
}
