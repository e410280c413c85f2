// Package filters narrows a batch of events before it is reduced into stats.
//
// A filter is built from a Config, fed a batch with Digest and read with
// Apply. Apply may be called before Digest, it waits until the batch arrives.
package filters

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/future"
	"github.com/vinceanalytics/vault/internal/referrer"
)

type Kind string

const (
	Noop     Kind = "noop"
	Href     Kind = "href"
	Referrer Kind = "referrer"
	Campaign Kind = "campaign"
	Source   Kind = "source"
	Landing  Kind = "landing"
	Exit     Kind = "exit"
)

var ErrUnknownFilter = errors.New("filters: unknown filter")

// Config describes a filter. The zero value is a Noop filter.
type Config struct {
	Kind  Kind   `json:"prop,omitempty" yaml:"prop"`
	Value string `json:"value,omitempty" yaml:"value"`
}

// Scope maps events to the subset matching the same configuration as the
// filter that produced it.
type Scope func([]events.Event) []events.Event

type Filter interface {
	// Digest binds the batch the filter works on. Only the first call has an
	// effect.
	Digest(ls []events.Event) Filter
	// Apply returns the matching events. It blocks until Digest was called or
	// ctx is done. Repeated calls return the same result.
	Apply(ctx context.Context) ([]events.Event, error)
	Scoped(ctx context.Context) (Scope, error)
	Config() Config
}

// New builds a fresh filter for c.
func New(c Config) (Filter, error) {
	switch c.Kind {
	case "", Noop:
		return newNoop(), nil
	case Href:
		return ByHref(c.Value), nil
	case Referrer:
		return newSession(c, func(first, _ *events.Event) bool {
			key, ok := referrer.Of(first)
			return ok && key == c.Value
		}), nil
	case Campaign:
		return newSession(c, func(first, _ *events.Event) bool {
			return first.Param("utm_campaign") == c.Value
		}), nil
	case Source:
		return newSession(c, func(first, _ *events.Event) bool {
			return first.Param("utm_source") == c.Value
		}), nil
	case Landing:
		return newSession(c, func(first, _ *events.Event) bool {
			href, ok := first.CleanHref()
			return ok && href == c.Value
		}), nil
	case Exit:
		return newSession(c, func(_, last *events.Event) bool {
			href, ok := last.CleanHref()
			return ok && href == c.Value
		}), nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownFilter, c.Kind)
	}
}

// Must is like New but panics on unknown kinds.
func Must(c Config) Filter {
	f, err := New(c)
	if err != nil {
		panic(err)
	}
	return f
}

type batch struct {
	in *future.Future[[]events.Event]
}

func newBatch() batch {
	return batch{in: future.New[[]events.Event]()}
}

func (b batch) digest(ls []events.Event) {
	b.in.Resolve(ls)
}

type noop struct {
	batch
}

func newNoop() *noop {
	return &noop{batch: newBatch()}
}

var _ Filter = (*noop)(nil)

func (f *noop) Digest(ls []events.Event) Filter {
	f.digest(ls)
	return f
}

func (f *noop) Apply(ctx context.Context) ([]events.Event, error) {
	return f.in.Await(ctx)
}

func (f *noop) Scoped(context.Context) (Scope, error) {
	return func(ls []events.Event) []events.Event { return ls }, nil
}

func (f *noop) Config() Config { return Config{Kind: Noop} }

type href struct {
	batch
	target string
	once   sync.Once
	out    []events.Event
}

var _ Filter = (*href)(nil)

// ByHref keeps events whose href equals target exactly. Events without an href
// never match.
func ByHref(target string) Filter {
	return &href{batch: newBatch(), target: target}
}

func (f *href) Digest(ls []events.Event) Filter {
	f.digest(ls)
	return f
}

func (f *href) Apply(ctx context.Context) ([]events.Event, error) {
	ls, err := f.in.Await(ctx)
	if err != nil {
		return nil, err
	}
	f.once.Do(func() {
		f.out = matchHref(ls, f.target)
	})
	return f.out, nil
}

func (f *href) Scoped(context.Context) (Scope, error) {
	c := f.Config()
	return func(ls []events.Event) []events.Event {
		// a fresh filter never shares this filter's batch
		out, _ := Must(c).Digest(ls).Apply(context.Background())
		return out
	}, nil
}

func (f *href) Config() Config { return Config{Kind: Href, Value: f.target} }

func matchHref(ls []events.Event, target string) []events.Event {
	o := make([]events.Event, 0, len(ls))
	for i := range ls {
		p := ls[i].Payload
		if p == nil || p.Href == "" {
			continue
		}
		if p.Href == target {
			o = append(o, ls[i])
		}
	}
	return o
}

// session filters select whole sessions by looking at their first and last
// event.
type session struct {
	batch
	config Config
	match  func(first, last *events.Event) bool

	once sync.Once
	ids  map[string]struct{}
	out  []events.Event
}

var _ Filter = (*session)(nil)

func newSession(c Config, match func(first, last *events.Event) bool) *session {
	return &session{batch: newBatch(), config: c, match: match}
}

func (f *session) Digest(ls []events.Event) Filter {
	f.digest(ls)
	return f
}

func (f *session) Config() Config { return f.config }

func (f *session) Apply(ctx context.Context) ([]events.Event, error) {
	if err := f.resolve(ctx); err != nil {
		return nil, err
	}
	return f.out, nil
}

// Scoped keeps events belonging to the sessions matched in the digested batch.
func (f *session) Scoped(ctx context.Context) (Scope, error) {
	if err := f.resolve(ctx); err != nil {
		return nil, err
	}
	ids := f.ids
	return func(ls []events.Event) []events.Event {
		return bySession(ls, ids)
	}, nil
}

func (f *session) resolve(ctx context.Context) error {
	ls, err := f.in.Await(ctx)
	if err != nil {
		return err
	}
	f.once.Do(func() {
		f.ids = make(map[string]struct{})
		for id, group := range groupSessions(ls) {
			if f.match(&group[0], &group[len(group)-1]) {
				f.ids[id] = struct{}{}
			}
		}
		f.out = bySession(ls, f.ids)
	})
	return nil
}

func bySession(ls []events.Event, ids map[string]struct{}) []events.Event {
	o := make([]events.Event, 0, len(ls))
	for i := range ls {
		if _, ok := ids[ls[i].Session()]; ok {
			o = append(o, ls[i])
		}
	}
	return o
}

// groupSessions groups events by session id, each group ordered by timestamp.
// Events without a session are skipped.
func groupSessions(ls []events.Event) map[string][]events.Event {
	m := make(map[string][]events.Event)
	for i := range ls {
		id := ls[i].Session()
		if id == "" {
			continue
		}
		m[id] = append(m[id], ls[i])
	}
	for _, group := range m {
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
	}
	return m
}
