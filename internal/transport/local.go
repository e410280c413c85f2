package transport

import (
	"context"
)

// Local sends messages to an in process inbox, usually consumed by a router
// Listen loop.
type Local struct {
	inbox  chan<- Envelope
	origin string
	client string
}

var _ Sender = (*Local)(nil)

func NewLocal(inbox chan<- Envelope, origin, client string) *Local {
	return &Local{inbox: inbox, origin: origin, client: client}
}

func (l *Local) Send(ctx context.Context, m *Message) (*Message, error) {
	reply := make(chan *Message, 1)
	e := Envelope{
		Message: m,
		Origin:  l.origin,
		Client:  l.client,
		Reply: Once(PortFunc(func(_ context.Context, m *Message) error {
			reply <- m
			return nil
		})),
	}
	select {
	case l.inbox <- e:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Inbox queues envelopes for a router Listen loop. It lets HTTP handlers
// hand messages to a bounded pool of dispatchers.
type Inbox chan Envelope

var _ Dispatcher = Inbox(nil)

// Handle blocks until e is queued or ctx is done. Envelopes that could not be
// queued get no reply.
func (i Inbox) Handle(ctx context.Context, e Envelope) {
	select {
	case i <- e:
	case <-ctx.Done():
	}
}
