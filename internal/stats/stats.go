// Package stats reduces event collections into dashboard aggregates.
//
// Every function is pure and total over malformed events: missing fields
// exclude an event from an aggregate, they never cause an error. Rates that
// are undefined for an empty input are returned as nil, counts and shares
// that are merely zero are returned as 0.
package stats

import (
	"github.com/vinceanalytics/vault/internal/events"
)

// Loss is the share of anonymous events.
func Loss(ls []events.Event) float64 {
	if len(ls) == 0 {
		return 0
	}
	return 1 - float64(Pageviews(ls))/float64(len(ls))
}

// UniqueSessions counts distinct session ids. Ids are case sensitive.
func UniqueSessions(ls []events.Event) int {
	return countKeys(ls, session, true)
}

// BounceRate is the share of sessions consisting of exactly one event.
func BounceRate(ls []events.Event) float64 {
	counts := make(map[string]int)
	for i := range ls {
		if id := ls[i].Session(); id != "" {
			counts[id]++
		}
	}
	if len(counts) == 0 {
		return 0
	}
	var bounces int
	for _, n := range counts {
		if n == 1 {
			bounces++
		}
	}
	return float64(bounces) / float64(len(counts))
}

// AvgPageload is the mean of all positive pageload values.
func AvgPageload(ls []events.Event) *float64 {
	var total float64
	var count int
	for i := range ls {
		p := ls[i].Payload
		if p == nil || p.Pageload == nil || *p.Pageload <= 0 {
			continue
		}
		total += *p.Pageload
		count++
	}
	if count == 0 {
		return nil
	}
	return ptr(total / float64(count))
}

// AvgPageDepth is the mean number of events per session.
func AvgPageDepth(ls []events.Event) *float64 {
	unique := UniqueSessions(ls)
	if unique == 0 {
		return nil
	}
	return ptr(float64(countKeys(ls, session, false)) / float64(unique))
}

// MobileShare is the share of identified events sent from mobile devices.
func MobileShare(ls []events.Event) *float64 {
	var all, mobile int
	for i := range ls {
		if ls[i].Anonymous() {
			continue
		}
		all++
		if p := ls[i].Payload; p != nil && p.IsMobile {
			mobile++
		}
	}
	if all == 0 {
		return nil
	}
	return ptr(float64(mobile) / float64(all))
}

// Pageviews counts identified events.
func Pageviews(ls []events.Event) int {
	return countKeys(ls, secret, false)
}

// Visitors counts distinct visitors.
func Visitors(ls []events.Event) int {
	return countKeys(ls, secret, true)
}

// Accounts counts distinct accounts.
func Accounts(ls []events.Event) int {
	return countKeys(ls, account, true)
}

func secret(e *events.Event) string  { return e.SecretID }
func account(e *events.Event) string { return e.AccountID }
func session(e *events.Event) string { return e.Session() }

// countKeys counts events with a non empty key, or the distinct keys when
// unique is set.
func countKeys(ls []events.Event, key func(*events.Event) string, unique bool) int {
	if !unique {
		var n int
		for i := range ls {
			if key(&ls[i]) != "" {
				n++
			}
		}
		return n
	}
	seen := make(map[string]struct{})
	for i := range ls {
		if k := key(&ls[i]); k != "" {
			seen[k] = struct{}{}
		}
	}
	return len(seen)
}

func ptr(v float64) *float64 { return &v }
