package stats

import (
	"context"

	"github.com/vinceanalytics/vault/internal/events"
)

// Source yields an event collection, waiting for it when it is not yet
// available. Filters (through Apply) and futures (through Await) satisfy it
// when wrapped in SourceFunc.
type Source interface {
	Events(ctx context.Context) ([]events.Event, error)
}

// Set is an already resolved collection.
type Set []events.Event

func (s Set) Events(context.Context) ([]events.Event, error) { return s, nil }

type SourceFunc func(ctx context.Context) ([]events.Event, error)

func (f SourceFunc) Events(ctx context.Context) ([]events.Event, error) { return f(ctx) }

// Consume resolves all sources in order and passes them to fn. The first
// source failing aborts the computation.
func Consume[T any](ctx context.Context, fn func(...[]events.Event) T, sources ...Source) (T, error) {
	args := make([][]events.Event, len(sources))
	for i, s := range sources {
		ls, err := s.Events(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		args[i] = ls
	}
	return fn(args...), nil
}

// One adapts a single collection reducer for Consume.
func One[T any](fn func([]events.Event) T) func(...[]events.Event) T {
	return func(ls ...[]events.Event) T {
		if len(ls) == 0 {
			return fn(nil)
		}
		return fn(ls[0])
	}
}

// Two adapts a reducer over two collections, like ReturningUsers, for Consume.
func Two[T any](fn func(a, b []events.Event) T) func(...[]events.Event) T {
	return func(ls ...[]events.Event) T {
		var a, b []events.Event
		if len(ls) > 0 {
			a = ls[0]
		}
		if len(ls) > 1 {
			b = ls[1]
		}
		return fn(a, b)
	}
}
