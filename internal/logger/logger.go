// Package logger carries a structured logger in the context.
package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type loggerKey struct{}

var base = logrus.NewEntry(logrus.StandardLogger())

func With(ctx context.Context, e *logrus.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, e)
}

// Get returns the logger stored in ctx or the standard logger.
func Get(ctx context.Context) *logrus.Entry {
	if e, ok := ctx.Value(loggerKey{}).(*logrus.Entry); ok {
		return e
	}
	return base
}

// Component returns the logger of ctx tagged with a component name.
func Component(ctx context.Context, name string) *logrus.Entry {
	return Get(ctx).WithField("component", name)
}

// Fail logs msg with err and exits.
func Fail(msg string, err error) {
	base.WithField(logrus.ErrorKey, err).Error(msg)
	os.Exit(1)
}
