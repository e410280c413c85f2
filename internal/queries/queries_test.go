package queries

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/filters"
	"github.com/vinceanalytics/vault/internal/store"
	"github.com/vinceanalytics/vault/internal/timeutil"
)

var now = time.Date(2020, time.March, 10, 12, 0, 0, 0, time.UTC)

func pageview(ts time.Time, secret, session, href, ref string) events.Event {
	return events.Event{
		EventID:   events.NewID(ts),
		AccountID: "account",
		SecretID:  secret,
		Timestamp: ts,
		Payload: &events.Payload{
			Type:      events.TypePageview,
			Href:      href,
			Referrer:  ref,
			SessionID: session,
		},
	}
}

func seed(t *testing.T, ls ...events.Event) *Engine {
	t.Helper()
	s := store.NewMemory(0)
	require.NoError(t, s.Append(context.Background(), ls...))
	e := New(s)
	e.now = func() time.Time { return now }
	return e
}

func TestDefaultStats_empty(t *testing.T) {
	e := seed(t)
	r, err := e.DefaultStats(context.Background(), Query{AccountID: "account"})
	require.NoError(t, err)
	require.True(t, r.Empty)
	require.Equal(t, DefaultRange, r.Range)
	require.Equal(t, timeutil.Days, r.Resolution)
	require.Len(t, r.Pageviews, 7)
	require.Equal(t, now.AddDate(0, 0, -6), r.Pageviews[0].Date)
	require.Equal(t, now, r.Pageviews[6].Date)
	for _, b := range r.Pageviews {
		require.Zero(t, b.Pageviews)
	}
	require.Equal(t, [][]float64{{0, 0, 0, 0}, {0, 0, 0}, {0, 0}, {0}}, r.RetentionMatrix)
	require.Nil(t, r.AvgPageload)
	require.Nil(t, r.Filter)
}

func TestDefaultStats(t *testing.T) {
	e := seed(t,
		pageview(now.Add(-5*time.Minute), "user-1", "session-1", "https://www.example.net/foo", ""),
		pageview(now.Add(-2*time.Minute), "user-1", "session-1", "https://www.example.net/bar", ""),
		pageview(now.Add(-24*time.Hour), "user-2", "session-2", "https://www.example.net/foo", "https://www.example.com/?q=1"),
		pageview(now.Add(-time.Minute), "", "", "https://www.example.net/foo", ""),
		// outside the default range
		pageview(now.AddDate(0, 0, -10), "user-3", "session-3", "https://www.example.net/", ""),
	)
	r, err := e.DefaultStats(context.Background(), Query{AccountID: "account"})
	require.NoError(t, err)
	require.False(t, r.Empty)
	require.Equal(t, 2, r.UniqueUsers)
	require.Equal(t, 1, r.UniqueAccounts)
	require.Equal(t, 2, r.UniqueSessions)
	require.Equal(t, 0.5, r.BounceRate)
	require.Equal(t, 1, r.LiveUsers)
	require.Len(t, r.Referrers, 1)
	require.Equal(t, 1, r.Referrers[0].Count)

	today, yesterday := r.Pageviews[6], r.Pageviews[5]
	require.Equal(t, 2, today.Pageviews)
	require.Equal(t, 1, today.Visitors)
	require.Equal(t, 1, yesterday.Pageviews)
	require.Zero(t, r.Pageviews[0].Pageviews)

	require.Equal(t, [][]float64{{0, 0, 0, 0}, {0, 0, 0}, {1, 0}, {1}}, r.RetentionMatrix)
	require.Equal(t, 0.0, r.ReturningUsers)
}

func TestDefaultStats_filter(t *testing.T) {
	e := seed(t,
		pageview(now.Add(-5*time.Minute), "user-1", "session-1", "https://www.example.net/foo", ""),
		pageview(now.Add(-2*time.Minute), "user-1", "session-1", "https://www.example.net/bar", ""),
		pageview(now.Add(-24*time.Hour), "user-2", "session-2", "https://www.example.net/bar", ""),
	)
	t.Run("href", func(t *testing.T) {
		r, err := e.DefaultStats(context.Background(), Query{
			AccountID: "account",
			Filter:    filters.Config{Kind: filters.Href, Value: "https://www.example.net/bar"},
		})
		require.NoError(t, err)
		require.Equal(t, &filters.Config{Kind: filters.Href, Value: "https://www.example.net/bar"}, r.Filter)
		require.Equal(t, 2, r.UniqueUsers)
		require.Equal(t, 1, r.Pageviews[6].Pageviews)
		require.Equal(t, 1, r.Pageviews[5].Pageviews)
	})
	t.Run("landing page", func(t *testing.T) {
		r, err := e.DefaultStats(context.Background(), Query{
			AccountID: "account",
			Filter:    filters.Config{Kind: filters.Landing, Value: "https://www.example.net/foo"},
		})
		require.NoError(t, err)
		require.Equal(t, 1, r.UniqueUsers)
		require.Equal(t, 1, r.UniqueSessions)
		require.Equal(t, 2, r.Pageviews[6].Pageviews)
		require.Zero(t, r.Pageviews[5].Pageviews)
	})
}

func TestDefaultStats_hours(t *testing.T) {
	e := seed(t,
		pageview(now.Add(-90*time.Minute), "user-1", "session-1", "https://www.example.net/", ""),
		pageview(now.Add(10*time.Minute), "user-2", "session-2", "https://www.example.net/", ""),
	)
	r, err := e.DefaultStats(context.Background(), Query{
		AccountID:  "account",
		Range:      3,
		Resolution: timeutil.Hours,
	})
	require.NoError(t, err)
	require.Len(t, r.Pageviews, 3)
	require.Equal(t, []int{1, 0, 1}, []int{
		r.Pageviews[0].Pageviews,
		r.Pageviews[1].Pageviews,
		r.Pageviews[2].Pageviews,
	})
	require.Equal(t, now.Add(-2*time.Hour), r.Pageviews[0].Date)
}

func TestDefaultStats_invalid(t *testing.T) {
	e := seed(t)
	ctx := context.Background()
	_, err := e.DefaultStats(ctx, Query{})
	require.ErrorIs(t, err, ErrMissingAccount)
	_, err = e.DefaultStats(ctx, Query{AccountID: "account", Resolution: "years"})
	require.Error(t, err)
	_, err = e.DefaultStats(ctx, Query{AccountID: "account", Filter: filters.Config{Kind: "device"}})
	require.ErrorIs(t, err, filters.ErrUnknownFilter)
}

func TestDefaultStats_monthEnd(t *testing.T) {
	end := time.Date(2024, time.March, 31, 12, 0, 0, 0, time.UTC)
	e := seed(t,
		pageview(time.Date(2024, time.February, 15, 10, 0, 0, 0, time.UTC), "user-1", "session-1", "https://www.example.net/", ""),
		pageview(time.Date(2024, time.March, 20, 10, 0, 0, 0, time.UTC), "user-2", "session-2", "https://www.example.net/", ""),
	)
	r, err := e.DefaultStats(context.Background(), Query{
		AccountID:  "account",
		Range:      2,
		Resolution: timeutil.Months,
		Now:        end,
	})
	require.NoError(t, err)
	require.Equal(t, 2, r.UniqueUsers)
	require.Len(t, r.Pageviews, 2)
	require.Equal(t, time.Date(2024, time.February, 29, 12, 0, 0, 0, time.UTC), r.Pageviews[0].Date)
	require.Equal(t, 1, r.Pageviews[0].Pageviews)
	require.Equal(t, end, r.Pageviews[1].Date)
	require.Equal(t, 1, r.Pageviews[1].Pageviews)
}

func TestDefaultStats_skipsInvalid(t *testing.T) {
	unknown := pageview(now.Add(-time.Hour), "user-2", "session-2", "https://www.example.net/", "")
	unknown.Payload.Type = "CLICK"
	e := seed(t,
		pageview(now.Add(-time.Hour), "user-1", "session-1", "https://www.example.net/", ""),
		unknown,
	)
	r, err := e.DefaultStats(context.Background(), Query{AccountID: "account"})
	require.NoError(t, err)
	require.Equal(t, 1, r.UniqueUsers)
	require.Equal(t, 1, r.UniqueSessions)
	require.Equal(t, 1, r.Pageviews[6].Pageviews)
	require.Equal(t, 1, r.Pageviews[6].Visitors)
}
