// Package queries computes the default dashboard stats of an account.
package queries

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/filters"
	"github.com/vinceanalytics/vault/internal/logger"
	"github.com/vinceanalytics/vault/internal/stats"
	"github.com/vinceanalytics/vault/internal/store"
	"github.com/vinceanalytics/vault/internal/system"
	"github.com/vinceanalytics/vault/internal/timeutil"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultRange      = 7
	DefaultResolution = timeutil.Days

	// retention is computed over this many consecutive chunks
	retentionChunks = 4
	retentionWindow = 7 * 24 * time.Hour
	realtimeWindow  = 15 * time.Minute
)

var ErrMissingAccount = errors.New("queries: missing account id")

type Query struct {
	AccountID string `json:"accountId"`
	// Range is the number of resolution units to look back, including the
	// current one.
	Range      int                 `json:"range,omitempty"`
	Resolution timeutil.Resolution `json:"resolution,omitempty"`
	Now        time.Time           `json:"now,omitempty"`
	Filter     filters.Config      `json:"filter,omitempty"`
}

// Bucket holds the basic metrics of one resolution unit.
type Bucket struct {
	Date      time.Time `json:"date"`
	Pageviews int       `json:"pageviews"`
	Visitors  int       `json:"visitors"`
	Accounts  int       `json:"accounts"`
}

type Result struct {
	UniqueUsers     int                 `json:"uniqueUsers"`
	UniqueAccounts  int                 `json:"uniqueAccounts"`
	UniqueSessions  int                 `json:"uniqueSessions"`
	Referrers       []stats.Item        `json:"referrers"`
	Pages           []stats.Item        `json:"pages"`
	Pageviews       []Bucket            `json:"pageviews"`
	BounceRate      float64             `json:"bounceRate"`
	Loss            float64             `json:"loss"`
	AvgPageload     *float64            `json:"avgPageload"`
	AvgPageDepth    *float64            `json:"avgPageDepth"`
	LandingPages    []stats.Item        `json:"landingPages"`
	ExitPages       []stats.Item        `json:"exitPages"`
	MobileShare     *float64            `json:"mobileShare"`
	LivePages       []stats.Item        `json:"livePages"`
	LiveUsers       int                 `json:"liveUsers"`
	Campaigns       []stats.Item        `json:"campaigns"`
	Sources         []stats.Item        `json:"sources"`
	RetentionMatrix [][]float64         `json:"retentionMatrix"`
	Empty           bool                `json:"empty"`
	ReturningUsers  float64             `json:"returningUsers"`
	Resolution      timeutil.Resolution `json:"resolution"`
	Range           int                 `json:"range"`
	Filter          *filters.Config     `json:"filter,omitempty"`
}

type Engine struct {
	events store.Events
	now    func() time.Time
}

func New(ev store.Events) *Engine {
	return &Engine{events: ev, now: time.Now}
}

// normalize fills defaults and validates q.
func (e *Engine) normalize(q Query) (Query, filters.Filter, error) {
	if q.AccountID == "" {
		return q, nil, ErrMissingAccount
	}
	if q.Range <= 0 {
		q.Range = DefaultRange
	}
	if q.Resolution == "" {
		q.Resolution = DefaultResolution
	}
	if err := q.Resolution.Validate(); err != nil {
		return q, nil, err
	}
	if q.Now.IsZero() {
		q.Now = e.now()
	}
	f, err := filters.New(q.Filter)
	if err != nil {
		return q, nil, err
	}
	return q, f, nil
}

// fetched holds every event set a query reads from the store.
type fetched struct {
	all      []events.Event
	inBounds []events.Event
	realtime []events.Event
	chunks   [retentionChunks][]events.Event
	count    int
}

func (e *Engine) fetch(ctx context.Context, q Query) (*fetched, error) {
	var o fetched
	now := q.Now
	r := q.Resolution
	g, ctx := errgroup.WithContext(ctx)
	get := func(dst *[]events.Event, lower, upper time.Time) {
		g.Go(func() (err error) {
			c := store.Criteria{AccountID: q.AccountID}
			if !lower.IsZero() {
				c.Lower = events.LowerBound(lower)
			}
			if !upper.IsZero() {
				c.Upper = events.UpperBound(upper)
			}
			*dst, err = e.events.Query(ctx, c)
			return
		})
	}
	get(&o.all, time.Time{}, time.Time{})
	get(&o.inBounds, r.Begin(r.Sub(now, q.Range-1)), r.End(now))
	get(&o.realtime, now.Add(-realtimeWindow), now)
	// chunks are ordered oldest to newest
	for i := 0; i < retentionChunks; i++ {
		upper := now.Add(-time.Duration(i) * retentionWindow)
		lower := now.Add(-time.Duration(i+1) * retentionWindow)
		get(&o.chunks[retentionChunks-1-i], lower, upper)
	}
	g.Go(func() (err error) {
		o.count, err = e.events.Count(ctx, q.AccountID)
		return
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &o, nil
}

// DefaultStats computes the dashboard stats for q. Events are narrowed by the
// query filter: the filter digests the events in range and its scope is
// applied to every other event set except the full history.
func (e *Engine) DefaultStats(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	defer func() {
		system.QueryDuration.Observe(time.Since(start).Seconds())
	}()
	q, f, err := e.normalize(q)
	if err != nil {
		return nil, err
	}
	log := logger.Component(ctx, "queries").WithFields(logrus.Fields{
		"account":    q.AccountID,
		"range":      q.Range,
		"resolution": q.Resolution,
	})
	data, err := e.fetch(ctx, q)
	if err != nil {
		log.WithField(logrus.ErrorKey, err).Error("failed reading events")
		return nil, err
	}

	valid := events.Validate(data.inBounds)
	f.Digest(valid)
	scope, err := f.Scoped(ctx)
	if err != nil {
		return nil, err
	}
	filtered := stats.SourceFunc(f.Apply)
	inBounds := scope(valid)
	ls, err := filtered.Events(ctx)
	if err != nil {
		return nil, err
	}
	returning, err := stats.Consume(ctx, stats.Two(stats.ReturningUsers),
		stats.Set(inBounds), stats.Set(events.Validate(data.all)),
	)
	if err != nil {
		return nil, err
	}
	realtime := scope(events.Validate(data.realtime))
	chunks := make([][]events.Event, len(data.chunks))
	for i := range data.chunks {
		chunks[i] = scope(events.Validate(data.chunks[i]))
	}

	o := &Result{
		UniqueUsers:     stats.Visitors(inBounds),
		UniqueAccounts:  stats.Accounts(inBounds),
		UniqueSessions:  stats.UniqueSessions(ls),
		Referrers:       stats.Referrers(ls),
		Pages:           stats.Pages(ls),
		Pageviews:       buckets(q, inBounds),
		BounceRate:      stats.BounceRate(ls),
		Loss:            stats.Loss(ls),
		AvgPageload:     stats.AvgPageload(ls),
		AvgPageDepth:    stats.AvgPageDepth(ls),
		LandingPages:    stats.LandingPages(ls),
		ExitPages:       stats.ExitPages(ls),
		MobileShare:     stats.MobileShare(ls),
		LivePages:       stats.ActivePages(realtime),
		LiveUsers:       stats.Visitors(realtime),
		Campaigns:       stats.Campaigns(ls),
		Sources:         stats.Sources(ls),
		RetentionMatrix: stats.Retention(chunks...),
		Empty:           data.count == 0,
		ReturningUsers:  returning,
		Resolution:      q.Resolution,
		Range:           q.Range,
	}
	if c := f.Config(); c.Kind != filters.Noop {
		o.Filter = &c
	}
	log.WithField("events", len(ls)).Debug("computed stats")
	return o, nil
}

// buckets groups ls into q.Range resolution units ending with the unit of
// q.Now, ordered by date.
func buckets(q Query, ls []events.Event) []Bucket {
	loc := q.Now.Location()
	times := make([]time.Time, 0, len(ls))
	dated := make([]events.Event, 0, len(ls))
	for i := range ls {
		ts, ok := events.Time(ls[i].EventID)
		if !ok {
			continue
		}
		times = append(times, ts.In(loc))
		dated = append(dated, ls[i])
	}
	sort.Sort(&byTime{times: times, ls: dated})

	units := make(map[int64][]events.Event)
	timeutil.TimeBuckets(q.Resolution, times, func(bucket time.Time, start, end int) error {
		units[bucket.UnixMilli()] = dated[start:end]
		return nil
	})
	o := make([]Bucket, q.Range)
	for distance := 0; distance < q.Range; distance++ {
		date := q.Resolution.Sub(q.Now, distance)
		unit := units[q.Resolution.Begin(date).UnixMilli()]
		o[q.Range-1-distance] = Bucket{
			Date:      date,
			Pageviews: stats.Pageviews(unit),
			Visitors:  stats.Visitors(unit),
			Accounts:  stats.Accounts(unit),
		}
	}
	return o
}

type byTime struct {
	times []time.Time
	ls    []events.Event
}

func (b *byTime) Len() int           { return len(b.times) }
func (b *byTime) Less(i, j int) bool { return b.times[i].Before(b.times[j]) }
func (b *byTime) Swap(i, j int) {
	b.times[i], b.times[j] = b.times[j], b.times[i]
	b.ls[i], b.ls[j] = b.ls[j], b.ls[i]
}
