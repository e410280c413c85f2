package ansi

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestW(t *testing.T) {
	var b bytes.Buffer
	w := New(&b)
	w.Step("sending %s", "pageview").KV("type", "ACK").Ok("done")
	require.NoError(t, w.Complete(nil))
	out := b.String()
	require.Contains(t, out, "→ sending pageview\n")
	require.Contains(t, out, "type ACK\n")
	require.Contains(t, out, "✓ done\n")

	b.Reset()
	w = New(&b)
	err := errors.New("boom")
	require.ErrorIs(t, w.Complete(err), err)
	require.Contains(t, b.String(), "✗ boom\n")
}
