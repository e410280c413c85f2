package stats

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/filters"
	"github.com/vinceanalytics/vault/internal/future"
)

func withSession(id string) events.Event {
	return events.Event{Payload: &events.Payload{SessionID: id}}
}

func withSecret(id string) events.Event {
	return events.Event{SecretID: id}
}

func at(sec int) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}

func TestLoss(t *testing.T) {
	require.Equal(t, 0.0, Loss(nil))
	got := Loss([]events.Event{
		withSecret("a"), withSecret(""), withSecret("b"), withSecret(""), withSecret(""),
	})
	require.InDelta(t, 0.6, got, 1e-9)
}

func TestUniqueSessions(t *testing.T) {
	require.Equal(t, 0, UniqueSessions(nil))
	require.Equal(t, 3, UniqueSessions([]events.Event{
		withSession("a"), withSession("b"), withSession("B"),
		withSession("a"), withSession("a"), withSession("B"),
		{},
	}))
}

func TestBounceRate(t *testing.T) {
	require.Equal(t, 0.0, BounceRate(nil))
	require.Equal(t, 0.75, BounceRate([]events.Event{
		withSession("session-a"),
		withSession("session-b"),
		withSession("session-B"),
		withSession("session-c"),
		withSession("session-B"),
		withSession("session-B"),
		withSession("session-B"),
		{Timestamp: time.Now()},
	}))
	require.Equal(t, 1.0, BounceRate([]events.Event{
		withSession("session-a"),
		withSession("session-b"),
		withSession("session-B"),
		withSession("session-c"),
		{},
	}))
}

func TestAvgPageload(t *testing.T) {
	require.Nil(t, AvgPageload(nil))
	load := func(v float64) events.Event {
		return events.Event{Payload: &events.Payload{Pageload: &v}}
	}
	got := AvgPageload([]events.Event{
		{Timestamp: time.Now()},
		load(200),
		{Payload: &events.Payload{}},
		load(200), load(400), load(100), load(100),
		load(0),
	})
	require.NotNil(t, got)
	require.Equal(t, 200.0, *got)
}

func TestAvgPageDepth(t *testing.T) {
	require.Nil(t, AvgPageDepth(nil))
	got := AvgPageDepth([]events.Event{
		{},
		withSession("session-a"),
		withSession("session-b"),
		withSession("session-b"),
		withSession("session-a"),
		withSession("session-c"),
		withSession("session-a"),
	})
	require.NotNil(t, got)
	require.Equal(t, 2.0, *got)
}

func TestMobileShare(t *testing.T) {
	require.Nil(t, MobileShare([]events.Event{withSecret("")}))
	got := MobileShare([]events.Event{
		{SecretID: "a", Payload: &events.Payload{IsMobile: true}},
		{SecretID: "b", Payload: &events.Payload{}},
		{SecretID: "c"},
		{SecretID: "d", Payload: &events.Payload{IsMobile: true}},
		{Payload: &events.Payload{IsMobile: true}},
	})
	require.NotNil(t, got)
	require.Equal(t, 0.5, *got)
}

func TestCounts(t *testing.T) {
	ls := []events.Event{
		withSecret("user-b"), withSecret("user-a"), withSecret(""),
		withSecret("user-b"), withSecret("user-c"), {},
	}
	require.Equal(t, 4, Pageviews(ls))
	require.Equal(t, 3, Visitors(ls))
	require.Equal(t, 0, Pageviews(nil))
	require.Equal(t, 0, Visitors(nil))

	accounts := []events.Event{
		{AccountID: "account-b"}, {AccountID: "account-a"}, {},
		{AccountID: "account-b"}, {AccountID: "account-c"},
	}
	require.Equal(t, 3, Accounts(accounts))
	require.Equal(t, 0, Accounts(nil))
}

func ref(session, href, referrer string) events.Event {
	return events.Event{
		SecretID: "user",
		Payload:  &events.Payload{SessionID: session, Href: href, Referrer: referrer},
	}
}

func TestReferrers(t *testing.T) {
	require.Equal(t, []Item{}, Referrers(nil))
	got := Referrers([]events.Event{
		{Payload: &events.Payload{}},
		ref("session-a", "https://www.mysite.com/x", "https://www.example.net/foo"),
		ref("session-a", "https://www.mysite.com/y", "https://www.example.net/bar"),
		ref("session-b", "https://www.mysite.com/z", "https://www.example.net/baz"),
		ref("session-b", "https://www.mysite.com/a", "https://www.example.net/baz"),
		ref("session-c", "https://www.mysite.com/x", "https://beep.boop/#!foo=bar"),
		ref("session-d", "https://www.mysite.com/x", "https://www.mysite.com/a"),
		{Payload: &events.Payload{SessionID: "session-e", Href: "https://www.mysite.com/x", Referrer: "https://www.google.com/"}},
	})
	require.Equal(t, []Item{
		{Key: "www.example.net", Count: 2, ViewsPerSession: 2},
		{Key: "beep.boop", Count: 1, ViewsPerSession: 1},
	}, got)
}

func TestCampaigns(t *testing.T) {
	require.Equal(t, []Item{}, Campaigns(nil))
	page := func(session, href, raw string) events.Event {
		return events.Event{Payload: &events.Payload{SessionID: session, Href: href, RawHref: raw}}
	}
	ls := []events.Event{
		{Payload: &events.Payload{}},
		page("session-a", "https://www.example.net/foo?utm_campaign=beep", ""),
		page("session-b", "https://www.example.net/bar?something=12&utm_campaign=boop&utm_source=news", ""),
		page("session-b", "https://www.example.net/baz", ""),
		page("session-c", "https://www.example.net/baz", ""),
		page("session-d", "https://beep.boop/site", "https://beep.boop/site?utm_campaign=beep"),
		page("session-e", "https://www.mysite.com/a", ""),
	}
	require.Equal(t, []Item{
		{Key: "beep", Count: 2, ViewsPerSession: 1},
		{Key: "boop", Count: 1, ViewsPerSession: 2},
	}, Campaigns(ls))
	require.Equal(t, []Item{
		{Key: "news", Count: 1, ViewsPerSession: 2},
	}, Sources(ls))
}

func TestPages(t *testing.T) {
	require.Equal(t, []Item{}, Pages(nil))
	got := Pages([]events.Event{
		{Payload: &events.Payload{}},
		{AccountID: "account-a", SecretID: "user-a", Payload: &events.Payload{Href: "https://www.example.net/foo"}},
		{AccountID: "account-a", SecretID: "user-a", Payload: &events.Payload{Href: "https://www.example.net/foo?param=bar"}},
		{AccountID: "account-b", SecretID: "user-z", Payload: &events.Payload{Href: "https://beep.boop/site#!/foo"}},
		{AccountID: "account-a", Payload: &events.Payload{}},
	})
	require.Equal(t, []Item{
		{Key: "https://www.example.net/foo", Count: 2},
		{Key: "https://beep.boop/site", Count: 1},
	}, got)
}

func TestPages_perAccount(t *testing.T) {
	got := Pages([]events.Event{
		{AccountID: "a", SecretID: "u", Payload: &events.Payload{Href: "https://x.com/"}},
		{AccountID: "b", SecretID: "u", Payload: &events.Payload{Href: "https://x.com/"}},
	})
	require.Equal(t, []Item{
		{Key: "https://x.com/", Count: 1},
		{Key: "https://x.com/", Count: 1},
	}, got)
}

func TestActivePages(t *testing.T) {
	ts := func(sec int) *time.Time {
		v := at(sec)
		return &v
	}
	got := ActivePages([]events.Event{
		{Payload: &events.Payload{}},
		{AccountID: "account-a", SecretID: "user-a", Payload: &events.Payload{Timestamp: ts(100), Href: "https://www.example.net/bar"}},
		{AccountID: "account-a", SecretID: "user-a", Payload: &events.Payload{Timestamp: ts(120), Href: "https://www.example.net/foo?param=bar"}},
		{AccountID: "account-b", SecretID: "user-z", Payload: &events.Payload{Timestamp: ts(200), Href: "https://beep.boop/site#!/foo"}},
		{AccountID: "account-b", SecretID: "user-y", Payload: &events.Payload{Href: "https://beep.boop/other"}},
		{AccountID: "account-a", Payload: &events.Payload{}},
	})
	require.Equal(t, []Item{
		{Key: "https://www.example.net/foo", Count: 1},
		{Key: "https://beep.boop/site", Count: 1},
	}, got)
}

func visit(secret, session, href string, sec int) events.Event {
	return events.Event{
		SecretID:  secret,
		Timestamp: at(sec),
		Payload:   &events.Payload{SessionID: session, Href: href},
	}
}

var sessions = []events.Event{
	{Payload: &events.Payload{}},
	visit("user-a", "session-a", "https://www.example.net/bar", 1),
	visit("user-a", "session-a", "https://www.example.net/foo", 0),
	visit("user-a", "session-a", "https://www.example.net/baz", 2),
	visit("user-b", "session-b", "https://www.example.net/foo?param=bar", 247),
	visit("user-b", "session-b", "https://www.example.net/bar?param=foo", 290),
	visit("user-z", "session-c", "https://beep.boop/site#!/foo", 50),
	visit("", "session-d", "https://beep.boop/site", 50),
	{Payload: &events.Payload{}},
}

func TestLandingPages(t *testing.T) {
	require.Equal(t, []Item{}, LandingPages(nil))
	require.Equal(t, []Item{
		{Key: "https://www.example.net/foo", Count: 2},
		{Key: "https://beep.boop/site", Count: 1},
	}, LandingPages(sessions))
}

func TestExitPages(t *testing.T) {
	require.Equal(t, []Item{}, ExitPages(nil))
	require.Equal(t, []Item{
		{Key: "https://www.example.net/baz", Count: 1},
		{Key: "https://www.example.net/bar", Count: 1},
	}, ExitPages(sessions))
}

func TestLandingExit_singleEventSession(t *testing.T) {
	ls := []events.Event{visit("user", "only", "https://x.com/page", 1)}
	require.Equal(t, []Item{{Key: "https://x.com/page", Count: 1}}, LandingPages(ls))
	require.Equal(t, []Item{}, ExitPages(ls))
}

func TestNoMutation(t *testing.T) {
	ls := append([]events.Event(nil), sessions...)
	LandingPages(ls)
	ExitPages(ls)
	Referrers(ls)
	require.Equal(t, sessions, ls)
}

func TestReturningUsers(t *testing.T) {
	require.Equal(t, 0.0, ReturningUsers(nil, nil))
	id := func(event, secret string) events.Event {
		return events.Event{EventID: event, SecretID: secret}
	}
	got := ReturningUsers(
		[]events.Event{id("e-06", "s-01"), id("e-07", "s-02"), id("e-08", "s-03")},
		[]events.Event{
			id("e-01", "s-99"), id("e-02", "s-00"), id("e-03", "s-01"),
			id("e-04", "s-99"), id("e-05", "s-99"), id("e-06", "s-01"),
			id("e-07", "s-02"), id("e-08", "s-03"),
		},
	)
	require.InDelta(t, 1-(2.0/3.0), got, 1e-9)
}

func TestRetention(t *testing.T) {
	users := func(ids ...string) []events.Event {
		o := make([]events.Event, len(ids))
		for i := range ids {
			o[i] = withSecret(ids[i])
		}
		return o
	}
	got := Retention(
		users("user-a", "user-b", "user-y", "user-z"),
		users("user-m", "user-a", "user-z"),
		users("user-k", "user-m", "user-z"),
		users(),
	)
	require.Equal(t, [][]float64{{1, 0.5, 0.25, 0}, {1, 2.0 / 3.0, 0}, {1, 0}, {0}}, got)

	require.Equal(t, [][]float64{{0, 0, 0}, {0, 0}, {0}}, Retention(nil, nil, nil))
	require.Equal(t, [][]float64{}, Retention())
}

func TestRetention_shape(t *testing.T) {
	properties := gopter.NewProperties(nil)
	properties.Property("row i has n-i cells within [0, 1]", prop.ForAll(
		func(chunks [][]int) bool {
			in := make([][]events.Event, len(chunks))
			for i, c := range chunks {
				for _, id := range c {
					// 0 stands for an anonymous event
					secret := ""
					if id > 0 {
						secret = strconv.Itoa(id)
					}
					in[i] = append(in[i], withSecret(secret))
				}
			}
			m := Retention(in...)
			if len(m) != len(chunks) {
				return false
			}
			for i, row := range m {
				if len(row) != len(chunks)-i {
					return false
				}
				for _, v := range row {
					if v < 0 || v > 1 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.SliceOf(gen.IntRange(0, 4))),
	))
	properties.TestingRun(t)
}

func TestOnboardingStats(t *testing.T) {
	require.Nil(t, OnboardingStats(nil))
	event := func(id, account, ref, href string, mobile bool) events.Event {
		return events.Event{
			EventID:   id,
			AccountID: account,
			Payload:   &events.Payload{Referrer: ref, Href: href, IsMobile: mobile},
		}
	}
	got := OnboardingStats([]events.Event{
		event("event-a", "account-a", "https://www.coolblog.com/nice-article", "https://www.offen.dev", false),
		event("event-z", "account-a", "https://www.coolblog.com/ok", "https://www.offen.dev/get-started", false),
		event("event-b", "account-b", "https://www.coolblog.com/other", "https://www.example.com", true),
		event("event-x", "account-a", "https://www.coolblog.com/something", "https://www.offen.dev", false),
	})
	require.Equal(t, &Onboarding{
		Domain:    "www.offen.dev",
		URL:       "www.offen.dev/get-started",
		Referrer:  "www.coolblog.com",
		NumVisits: 3,
		IsMobile:  false,
	}, got)
}

func TestConsume(t *testing.T) {
	ctx := context.Background()
	ls := []events.Event{withSecret("a"), withSecret(""), withSecret("b")}

	n, err := Consume(ctx, One(Visitors), Set(ls))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	pending := future.New[[]events.Event]()
	filter := filters.Must(filters.Config{})
	go func() {
		pending.Resolve(ls[:1])
		filter.Digest(ls)
	}()
	share, err := Consume(ctx, Two(ReturningUsers), SourceFunc(pending.Await), SourceFunc(filter.Apply))
	require.NoError(t, err)
	require.Equal(t, 0.0, share)

	m, err := Consume(ctx, Retention, Set(ls), Set(ls))
	require.NoError(t, err)
	require.Equal(t, [][]float64{{1, 1}, {1}}, m)

	failed := future.New[[]events.Event]()
	failed.Reject(errors.New("store unreachable"))
	_, err = Consume(ctx, One(Loss), SourceFunc(failed.Await))
	require.EqualError(t, err, "store unreachable")
}
