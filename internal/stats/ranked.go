package stats

import (
	"sort"

	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/referrer"
)

// Item is a single row of a ranking.
type Item struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
	// ViewsPerSession is only set on session based rankings (referrers,
	// campaigns and sources).
	ViewsPerSession float64 `json:"viewsPerSession,omitempty"`
}

// Referrers ranks foreign referrers by the number of sessions they brought.
// Only the first foreign event of a session is considered.
func Referrers(ls []events.Event) []Item {
	seen := make(map[string]struct{})
	var pairs []pair
	for i := range ls {
		e := &ls[i]
		id := e.Session()
		if e.Anonymous() || id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		key, ok := referrer.Of(e)
		if !ok {
			continue
		}
		seen[id] = struct{}{}
		pairs = append(pairs, pair{key: key, session: id})
	}
	return sessionRanking(ls, pairs)
}

// Campaigns ranks utm_campaign values by the number of sessions carrying them.
func Campaigns(ls []events.Event) []Item {
	return queryParam(ls, "utm_campaign")
}

// Sources ranks utm_source values by the number of sessions carrying them.
func Sources(ls []events.Event) []Item {
	return queryParam(ls, "utm_source")
}

func queryParam(ls []events.Event, key string) []Item {
	seen := make(map[pair]struct{})
	var pairs []pair
	for i := range ls {
		e := &ls[i]
		if e.Payload == nil || e.Payload.Href == "" {
			continue
		}
		p := pair{key: e.Param(key), session: e.Session()}
		if p.key == "" || p.session == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pairs = append(pairs, p)
	}
	return sessionRanking(ls, pairs)
}

type pair struct {
	key, session string
}

// sessionRanking counts sessions per key and the number of events those
// sessions produced in ls.
func sessionRanking(ls []events.Event, pairs []pair) []Item {
	if len(pairs) == 0 {
		return []Item{}
	}
	views := make(map[string]int)
	for i := range ls {
		if id := ls[i].Session(); id != "" {
			views[id]++
		}
	}
	var c counter
	associated := make(map[string]int)
	for _, p := range pairs {
		c.add(p.key)
		associated[p.key] += views[p.session]
	}
	for i := range c.items {
		it := &c.items[i]
		it.ViewsPerSession = float64(associated[it.Key]) / float64(it.Count)
	}
	return c.ranked()
}

// Pages ranks identified page views by their clean href, counted per account.
func Pages(ls []events.Event) []Item {
	var o []*events.Event
	for i := range ls {
		if !ls[i].Anonymous() {
			o = append(o, &ls[i])
		}
	}
	return pages(o)
}

// ActivePages ranks the page each visitor viewed last. Events without a
// payload timestamp are ignored.
func ActivePages(ls []events.Event) []Item {
	var order []string
	latest := make(map[string]*events.Event)
	for i := range ls {
		e := &ls[i]
		if e.Anonymous() || e.Payload == nil || e.Payload.Timestamp == nil {
			continue
		}
		last, ok := latest[e.SecretID]
		if !ok {
			order = append(order, e.SecretID)
			latest[e.SecretID] = e
			continue
		}
		if !e.Payload.Timestamp.Before(*last.Payload.Timestamp) {
			latest[e.SecretID] = e
		}
	}
	o := make([]*events.Event, 0, len(order))
	for _, id := range order {
		o = append(o, latest[id])
	}
	return pages(o)
}

func pages(ls []*events.Event) []Item {
	var accounts []string
	byAccount := make(map[string]*counter)
	for _, e := range ls {
		href, ok := e.CleanHref()
		if !ok {
			continue
		}
		c, ok := byAccount[e.AccountID]
		if !ok {
			c = &counter{}
			byAccount[e.AccountID] = c
			accounts = append(accounts, e.AccountID)
		}
		c.add(href)
	}
	o := []Item{}
	for _, a := range accounts {
		o = append(o, byAccount[a].items...)
	}
	return rank(o)
}

// LandingPages ranks the first page of every identified session.
func LandingPages(ls []events.Event) []Item {
	return sessionPages(ls, func(group []*events.Event) *events.Event {
		return group[0]
	})
}

// ExitPages ranks the last page of every identified session. Sessions with a
// single event have no exit page.
func ExitPages(ls []events.Event) []Item {
	return sessionPages(ls, func(group []*events.Event) *events.Event {
		if len(group) < 2 {
			return nil
		}
		return group[len(group)-1]
	})
}

func sessionPages(ls []events.Event, pick func([]*events.Event) *events.Event) []Item {
	var order []string
	groups := make(map[string][]*events.Event)
	for i := range ls {
		e := &ls[i]
		id := e.Session()
		if e.Anonymous() || id == "" {
			continue
		}
		if _, ok := e.CleanHref(); !ok {
			continue
		}
		if _, ok := groups[id]; !ok {
			order = append(order, id)
		}
		groups[id] = append(groups[id], e)
	}
	var c counter
	for _, id := range order {
		group := groups[id]
		sort.SliceStable(group, func(i, j int) bool {
			return group[i].Timestamp.Before(group[j].Timestamp)
		})
		e := pick(group)
		if e == nil {
			continue
		}
		href, _ := e.CleanHref()
		c.add(href)
	}
	return c.ranked()
}

// counter counts keys remembering the order they were first seen in.
type counter struct {
	index map[string]int
	items []Item
}

func (c *counter) add(key string) {
	if c.index == nil {
		c.index = make(map[string]int)
	}
	i, ok := c.index[key]
	if !ok {
		i = len(c.items)
		c.index[key] = i
		c.items = append(c.items, Item{Key: key})
	}
	c.items[i].Count++
}

func (c *counter) ranked() []Item {
	if c.items == nil {
		return []Item{}
	}
	return rank(c.items)
}

// rank sorts by descending count. Ties keep their first seen order.
func rank(ls []Item) []Item {
	sort.SliceStable(ls, func(i, j int) bool {
		return ls[i].Count > ls[j].Count
	})
	return ls
}
