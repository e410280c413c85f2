package filters

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinceanalytics/vault/internal/events"
)

func view(session, href, ref string, at int) events.Event {
	return events.Event{
		EventID:   session + href,
		SecretID:  "user",
		Timestamp: time.Unix(int64(at), 0),
		Payload: &events.Payload{
			Type:      events.TypePageview,
			Href:      href,
			Referrer:  ref,
			SessionID: session,
		},
	}
}

func TestNoop(t *testing.T) {
	ls := []events.Event{view("a", "https://x.com/", "", 1), {EventID: "empty"}}
	f := Must(Config{})
	got, err := f.Digest(ls).Apply(context.Background())
	require.NoError(t, err)
	require.Equal(t, ls, got)

	scope, err := f.Scoped(context.Background())
	require.NoError(t, err)
	require.Equal(t, ls, scope(ls))
}

func TestByHref(t *testing.T) {
	ls := []events.Event{
		view("a", "https://x.com/a", "", 1),
		view("a", "https://x.com/a?q=1", "", 2),
		view("b", "https://x.com/a", "", 3),
		{EventID: "no-payload"},
		{EventID: "no-href", Payload: &events.Payload{}},
	}
	got, err := ByHref("https://x.com/a").Digest(ls).Apply(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, ls[0], got[0])
	require.Equal(t, ls[2], got[1])
}

func TestApply_beforeDigest(t *testing.T) {
	f := ByHref("https://x.com/a")
	result := make(chan []events.Event, 1)
	go func() {
		ls, err := f.Apply(context.Background())
		if err == nil {
			result <- ls
		}
		close(result)
	}()
	select {
	case <-result:
		t.Fatal("apply resolved before digest")
	case <-time.After(20 * time.Millisecond):
	}
	f.Digest([]events.Event{view("a", "https://x.com/a", "", 1)})
	got := <-result
	require.Len(t, got, 1)

	// later digests are ignored
	f.Digest(nil)
	again, err := f.Apply(context.Background())
	require.NoError(t, err)
	require.Equal(t, got, again)
}

func TestApply_cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Must(Config{Kind: Landing, Value: "x"}).Apply(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestScoped_href(t *testing.T) {
	f := ByHref("https://x.com/a")
	f.Digest([]events.Event{view("a", "https://x.com/a", "", 1)})
	scope, err := f.Scoped(context.Background())
	require.NoError(t, err)
	other := []events.Event{
		view("z", "https://x.com/b", "", 1),
		view("z", "https://x.com/a", "", 2),
	}
	require.Equal(t, other[1:], scope(other))
}

func TestSessionFilters(t *testing.T) {
	ls := []events.Event{
		view("a", "https://x.com/exit", "", 3),
		view("a", "https://x.com/land?utm_campaign=spring&utm_source=mail", "https://www.google.com/", 1),
		view("b", "https://x.com/other", "https://news.ycombinator.com/", 1),
		view("b", "https://x.com/land", "", 2),
		view("", "https://x.com/land", "", 1),
	}
	cases := []struct {
		config   Config
		sessions []string
	}{
		{Config{Kind: Referrer, Value: "Google"}, []string{"a", "a"}},
		{Config{Kind: Referrer, Value: "Hacker News"}, []string{"b", "b"}},
		{Config{Kind: Campaign, Value: "spring"}, []string{"a", "a"}},
		{Config{Kind: Source, Value: "mail"}, []string{"a", "a"}},
		{Config{Kind: Landing, Value: "https://x.com/land"}, []string{"a", "a"}},
		{Config{Kind: Exit, Value: "https://x.com/land"}, []string{"b", "b"}},
		{Config{Kind: Exit, Value: "https://x.com/exit"}, []string{"a", "a"}},
		{Config{Kind: Landing, Value: "https://x.com/none"}, []string{}},
	}
	for _, c := range cases {
		f := Must(c.config)
		got, err := f.Digest(ls).Apply(context.Background())
		require.NoError(t, err)
		sessions := make([]string, 0, len(got))
		for i := range got {
			sessions = append(sessions, got[i].Session())
		}
		require.Equal(t, c.sessions, sessions, c.config)
	}
}

func TestScoped_session(t *testing.T) {
	f := Must(Config{Kind: Landing, Value: "https://x.com/a"})
	f.Digest([]events.Event{
		view("s1", "https://x.com/a", "", 1),
		view("s2", "https://x.com/b", "", 1),
	})
	scope, err := f.Scoped(context.Background())
	require.NoError(t, err)
	got := scope([]events.Event{
		view("s2", "https://x.com/c", "", 5),
		view("s1", "https://x.com/c", "", 5),
	})
	require.Len(t, got, 1)
	require.Equal(t, "s1", got[0].Session())
}

func TestNew_unknown(t *testing.T) {
	_, err := New(Config{Kind: "country"})
	require.ErrorIs(t, err, ErrUnknownFilter)
}
