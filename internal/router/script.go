package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/vinceanalytics/vault/internal/logger"
	"github.com/vinceanalytics/vault/internal/transport"
)

// Values is the context passed through a Script chain. It holds JSON
// compatible values only.
type Values map[string]any

// Send forwards m to the vault and returns the reply. The first Send of a
// chain also settles the dispatch callback.
type Send func(ctx context.Context, m *transport.Message) (*transport.Message, error)

// ScriptHandler must call send or next before returning.
type ScriptHandler func(ctx context.Context, v Values, send Send, next Next)

// Callback receives the outcome of a dispatch exactly once.
type Callback func(res *transport.Message, err error)

type Script struct {
	sender transport.Sender
	mu     sync.RWMutex
	routes map[string][]ScriptHandler
}

func NewScript(sender transport.Sender) *Script {
	return &Script{sender: sender, routes: make(map[string][]ScriptHandler)}
}

// On registers the chain for typ, replacing any earlier registration.
func (s *Script) On(typ string, h ...ScriptHandler) {
	s.mu.Lock()
	s.routes[typ] = append([]ScriptHandler(nil), h...)
	s.mu.Unlock()
}

// Dispatch runs the chain for typ in a new goroutine. values is deep copied
// before the chain sees it. cb may be nil.
func (s *Script) Dispatch(ctx context.Context, typ string, values Values, cb Callback) {
	go s.run(ctx, typ, values, cb)
}

// Call dispatches typ and waits for its outcome.
func (s *Script) Call(ctx context.Context, typ string, values Values) (*transport.Message, error) {
	type result struct {
		m   *transport.Message
		err error
	}
	done := make(chan result, 1)
	s.Dispatch(ctx, typ, values, func(m *transport.Message, err error) {
		done <- result{m, err}
	})
	select {
	case r := <-done:
		return r.m, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Script) run(ctx context.Context, typ string, values Values, cb Callback) {
	log := logger.Component(ctx, "script").WithField("type", typ)
	var once sync.Once
	settle := func(m *transport.Message, err error) {
		once.Do(func() {
			if err != nil {
				log.WithField(logrus.ErrorKey, err).Debug("dispatch failed")
			}
			if cb != nil {
				cb(m, err)
			}
		})
	}

	v, err := clone(values)
	if err != nil {
		settle(nil, fmt.Errorf("router: cloning context %w", err))
		return
	}
	s.mu.RLock()
	chain := s.routes[typ]
	s.mu.RUnlock()

	send := func(ctx context.Context, m *transport.Message) (*transport.Message, error) {
		res, err := s.sender.Send(ctx, m)
		if err == nil {
			err = res.Err()
		}
		settle(res, err)
		return res, err
	}
	for i, h := range chain {
		var called, sent bool
		var failed error
		func() {
			defer func() {
				if r := recover(); r != nil {
					failed = ErrPanic.New(typ, r)
				}
			}()
			h(ctx, v, func(ctx context.Context, m *transport.Message) (*transport.Message, error) {
				sent = true
				return send(ctx, m)
			}, func(err error) {
				if called {
					return
				}
				called = true
				failed = err
			})
		}()
		switch {
		case failed != nil:
			settle(nil, failed)
			return
		case sent:
			return
		case !called:
			settle(nil, ErrNoResponse.New(i, typ))
			return
		}
	}
	settle(nil, ErrUnhandled.New(typ))
}

func clone(v Values) (Values, error) {
	o := Values{}
	if v == nil {
		return o, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, err
	}
	return o, nil
}
