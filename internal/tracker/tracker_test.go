package tracker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinceanalytics/vault/internal/transport"
)

type recorder struct {
	sent []*transport.Message
}

func (r *recorder) Send(_ context.Context, m *transport.Message) (*transport.Message, error) {
	r.sent = append(r.sent, m)
	return transport.Ack(), nil
}

func TestTrack(t *testing.T) {
	var r recorder
	tr := New(&r, "account", false)
	load := 120.0
	res, err := tr.Track(context.Background(), Page{
		Href:        "https://www.example.net/foo?utm_source=mail",
		Canonical:   "https://www.example.net/foo",
		Title:       "Foo",
		Referrer:    "https://www.example.com/search?q=secret",
		Pageload:    &load,
		SkipConsent: true,
	})
	require.NoError(t, err)
	require.Equal(t, transport.TypeAck, res.Type)
	require.Len(t, r.sent, 1)
	m := r.sent[0]
	require.Equal(t, "EVENT", m.Type)
	require.True(t, m.SkipConsent())
	var p map[string]json.RawMessage
	require.NoError(t, m.Decode(&p))
	require.JSONEq(t, `"account"`, string(p["accountId"]))
	require.JSONEq(t, `{
		"type": "PAGEVIEW",
		"href": "https://www.example.net/foo",
		"rawHref": "https://www.example.net/foo?utm_source=mail",
		"title": "Foo",
		"referrer": "https://www.example.com/search",
		"pageload": 120
	}`, string(p["event"]))
}

func TestTrack_subsequent(t *testing.T) {
	var r recorder
	tr := New(&r, "account", false)
	load := 80.0
	_, err := tr.Track(context.Background(), Page{
		Href:       "https://www.example.net/bar",
		Pageload:   &load,
		Subsequent: true,
	})
	require.NoError(t, err)
	require.Len(t, r.sent, 1)
	var p struct {
		Event map[string]json.RawMessage `json:"event"`
	}
	require.NoError(t, r.sent[0].Decode(&p))
	require.NotContains(t, p.Event, "pageload")
	require.JSONEq(t, `"https://www.example.net/bar"`, string(p.Event["href"]))
}

func TestTrack_doNotTrack(t *testing.T) {
	var r recorder
	tr := New(&r, "account", true)
	_, err := tr.Track(context.Background(), Page{Href: "https://www.example.net/"})
	require.ErrorIs(t, err, ErrDoNotTrack)
	require.Empty(t, r.sent)
}

func TestPageview_callback(t *testing.T) {
	var r recorder
	tr := New(&r, "account", false)
	done := make(chan *transport.Message, 1)
	tr.Pageview(context.Background(), Page{Href: "https://www.example.net/"}, func(m *transport.Message, err error) {
		if err != nil {
			t.Error(err)
		}
		done <- m
	})
	select {
	case m := <-done:
		require.Equal(t, transport.TypeAck, m.Type)
	case <-time.After(time.Second):
		t.Fatal("callback was not called")
	}
}
