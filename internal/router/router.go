// Package router dispatches typed messages through middleware chains.
//
// Router serves the vault side: it receives envelopes from a transport and
// guarantees each of them exactly one reply. Script serves the tracking
// script side: it runs per-type chains that forward messages to the vault and
// hand the result to a callback.
package router

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vinceanalytics/vault/internal/logger"
	"github.com/vinceanalytics/vault/internal/system"
	"github.com/vinceanalytics/vault/internal/transport"
	"golang.org/x/sync/errgroup"
	"gopkg.in/src-d/go-errors.v1"
)

var (
	ErrUnhandled  = errors.NewKind("unhandled message type %q")
	ErrNoResponse = errors.NewKind("handler %d for %q returned without responding or calling next")
	ErrPanic      = errors.NewKind("handler for %q panicked: %v")
)

// Context is shared by all handlers of one message chain. Message is a private
// copy of the inbound message, changes made by a handler are visible to the
// following handlers but never to the sender.
type Context struct {
	Message *transport.Message
	Origin  string
	Client  string

	values map[any]any
}

func (c *Context) Set(key, value any) {
	if c.values == nil {
		c.values = make(map[any]any)
	}
	c.values[key] = value
}

func (c *Context) Get(key any) any {
	return c.values[key]
}

// Respond sends the reply for the message. A nil message replies ACK.
type Respond func(m *transport.Message)

// Next advances to the following handler. A non nil error aborts the chain
// and replies ERROR.
type Next func(err error)

// Handler must call respond or next before returning.
type Handler func(ctx context.Context, c *Context, respond Respond, next Next)

type Router struct {
	mu      sync.Mutex
	global  []Handler
	routes  map[string][]Handler
	bound   atomic.Bool
	bind    sync.Once
	table   map[string][]Handler
	workers int
}

// New returns a router dispatching at most workers messages concurrently in
// Listen.
func New(workers int) *Router {
	if workers <= 0 {
		workers = 1
	}
	return &Router{routes: make(map[string][]Handler), workers: workers}
}

// Use registers global middleware running before every per-type chain.
func (r *Router) Use(h ...Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustNotBeBound()
	r.global = append(r.global, h...)
}

// On registers the chain for typ, replacing any earlier registration.
func (r *Router) On(typ string, h ...Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mustNotBeBound()
	r.routes[typ] = append([]Handler(nil), h...)
}

func (r *Router) mustNotBeBound() {
	if r.bound.Load() {
		panic("router: registration after dispatch started")
	}
}

// freeze builds the read only dispatch table. It runs once, on first dispatch.
func (r *Router) freeze() {
	r.bind.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.bound.Store(true)
		r.table = make(map[string][]Handler, len(r.routes))
		for typ, h := range r.routes {
			chain := make([]Handler, 0, len(r.global)+len(h))
			chain = append(chain, r.global...)
			r.table[typ] = append(chain, h...)
		}
	})
}

// Handle runs e through its chain in the calling goroutine. It returns after a
// reply was posted.
func (r *Router) Handle(ctx context.Context, e transport.Envelope) {
	r.freeze()
	system.MessagesReceived.Inc()
	start := time.Now()
	c := &Context{
		Origin: e.Origin,
		Client: e.Client,
	}
	if e.Message != nil {
		c.Message = e.Message.Clone()
	} else {
		c.Message = &transport.Message{}
	}
	typ := c.Message.Type
	d := &dispatch{
		ctx:   ctx,
		reply: e.Reply,
		log:   logger.Component(ctx, "router").WithField("type", typ),
	}
	defer func() {
		system.DispatchDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	}()
	chain, ok := r.table[typ]
	if !ok {
		d.fail(ErrUnhandled.New(typ))
		return
	}
	for i, h := range chain {
		if !d.run(i, typ, h, c) {
			return
		}
	}
	d.fail(ErrUnhandled.New(typ))
}

// Listen handles envelopes from inbox until it is closed or ctx is done.
// Envelopes are handled concurrently.
func (r *Router) Listen(ctx context.Context, inbox <-chan transport.Envelope) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for {
		select {
		case <-ctx.Done():
			g.Wait()
			return ctx.Err()
		case e, ok := <-inbox:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				r.Handle(ctx, e)
				return nil
			})
		}
	}
}

type state uint32

const (
	dispatched state = iota
	running
	responded
	errored
)

func (s state) String() string {
	switch s {
	case dispatched:
		return "dispatched"
	case running:
		return "running"
	case responded:
		return "responded"
	case errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// dispatch tracks one message through its chain. Once a terminal state is
// reached every further respond or next is ignored.
type dispatch struct {
	ctx   context.Context
	reply transport.Port
	log   *logrus.Entry
	state atomic.Uint32
}

func (d *dispatch) terminal() bool {
	s := state(d.state.Load())
	return s == responded || s == errored
}

// finish moves to the terminal state to and posts m. It reports false when
// the dispatch was already finished.
func (d *dispatch) finish(to state, m *transport.Message) bool {
	for {
		cur := d.state.Load()
		if s := state(cur); s == responded || s == errored {
			d.log.WithField("state", s).Warn("ignoring reply for finished message")
			return false
		}
		if d.state.CompareAndSwap(cur, uint32(to)) {
			break
		}
	}
	system.MessagesReplied.WithLabelValues(to.String()).Inc()
	if d.reply == nil {
		return true
	}
	if err := d.reply.Post(d.ctx, m); err != nil {
		d.log.WithField(logrus.ErrorKey, err).Error("failed posting reply")
	}
	return true
}

func (d *dispatch) respond(m *transport.Message) {
	if m == nil {
		m = transport.Ack()
	}
	d.finish(responded, m)
}

func (d *dispatch) fail(err error) {
	d.log.WithField(logrus.ErrorKey, err).Debug("message failed")
	d.finish(errored, transport.Error(err))
}

// run invokes the handler at index i and reports whether the chain continues.
func (d *dispatch) run(i int, typ string, h Handler, c *Context) (advance bool) {
	for {
		cur := d.state.Load()
		if s := state(cur); s == responded || s == errored {
			return false
		}
		if d.state.CompareAndSwap(cur, uint32(running)) {
			break
		}
	}
	var called atomic.Bool
	defer func() {
		if v := recover(); v != nil {
			d.fail(ErrPanic.New(typ, v))
			advance = false
			return
		}
		if d.terminal() {
			advance = false
			return
		}
		if !called.Load() {
			d.fail(ErrNoResponse.New(i, typ))
			advance = false
		}
	}()
	h(d.ctx, c, d.respond, func(err error) {
		if d.terminal() || !called.CompareAndSwap(false, true) {
			return
		}
		if err != nil {
			d.fail(err)
		}
	})
	return called.Load() && !d.terminal()
}
