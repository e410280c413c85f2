// Package ansi writes aligned progress lines for interactive commands.
package ansi

import (
	"fmt"
	"io"
	"text/tabwriter"
)

const (
	ok   = "✓"
	step = "→"
	x    = "✗"
)

type W struct {
	*tabwriter.Writer
}

func New(out io.Writer) *W {
	return &W{
		Writer: tabwriter.NewWriter(
			out, 0, 0, 1, ' ', tabwriter.AlignRight,
		),
	}
}

func (w *W) Step(msg string, a ...any) *W {
	fmt.Fprintf(w, "%s \t%s\n", step, fmt.Sprintf(msg, a...))
	return w
}

func (w *W) Ok(msg string, a ...any) *W {
	fmt.Fprintf(w, "%s \t%s\n", ok, fmt.Sprintf(msg, a...))
	return w
}

func (w *W) Err(msg string, a ...any) *W {
	fmt.Fprintf(w, "%s \t%s\n", x, fmt.Sprintf(msg, a...))
	return w
}

func (w *W) KV(key, value string, args ...any) *W {
	fmt.Fprintf(w, "%s \t%s\n", key, fmt.Sprintf(value, args...))
	return w
}

// Complete flushes w, reporting err first when it is not nil.
func (w *W) Complete(err error) error {
	if err != nil {
		w.Err(err.Error())
		w.Flush()
		return err
	}
	return w.Flush()
}
