// Package tracker is the script side of the vault: it turns page visits into
// EVENT messages and forwards them through a transport.
package tracker

import (
	"context"
	"errors"

	"github.com/vinceanalytics/vault/internal/events"
	"github.com/vinceanalytics/vault/internal/router"
	"github.com/vinceanalytics/vault/internal/transport"
)

const TypePageview = "PAGEVIEW"

var ErrDoNotTrack = errors.New("tracker: client has do not track enabled")

// Page describes a visited page as seen by the browser.
type Page struct {
	// Href is the location of the page.
	Href string `json:"href"`
	// Canonical is the canonical link of the page if it declares one. It is
	// reported instead of Href.
	Canonical string   `json:"canonical,omitempty"`
	Title     string   `json:"title,omitempty"`
	Referrer  string   `json:"referrer,omitempty"`
	IsMobile  bool     `json:"isMobile,omitempty"`
	Pageload  *float64 `json:"pageload,omitempty"`
	// Subsequent marks visits following a client side navigation. Their
	// Pageload is not reported.
	Subsequent bool `json:"subsequent,omitempty"`
	// SkipConsent records the visit without asking for consent.
	SkipConsent bool `json:"skipConsent,omitempty"`
}

type Tracker struct {
	script     *router.Script
	accountID  string
	doNotTrack bool
}

// New returns a tracker reporting visits for accountID. Clients with do not
// track enabled never send anything.
func New(sender transport.Sender, accountID string, doNotTrack bool) *Tracker {
	t := &Tracker{
		script:     router.NewScript(sender),
		accountID:  accountID,
		doNotTrack: doNotTrack,
	}
	t.script.On(TypePageview, t.support, t.pageview)
	return t
}

func (t *Tracker) support(ctx context.Context, v router.Values, send router.Send, next router.Next) {
	if t.doNotTrack {
		next(ErrDoNotTrack)
		return
	}
	next(nil)
}

func (t *Tracker) pageview(ctx context.Context, v router.Values, send router.Send, next router.Next) {
	str := func(key string) string {
		s, _ := v[key].(string)
		return s
	}
	e := events.Payload{
		Type:     events.TypePageview,
		Href:     str("href"),
		Title:    str("title"),
		Referrer: events.StripSearch(str("referrer")),
	}
	if c := str("canonical"); c != "" {
		e.RawHref = e.Href
		e.Href = c
	}
	e.IsMobile, _ = v["isMobile"].(bool)
	// only the first pageview of a visit measures a real page load
	if subsequent, _ := v["subsequent"].(bool); !subsequent {
		if f, ok := v["pageload"].(float64); ok {
			e.Pageload = &f
		}
	}
	m, err := transport.New("EVENT", map[string]any{
		"accountId": t.accountID,
		"event":     e,
	})
	if err != nil {
		next(err)
		return
	}
	if skip, _ := v["skipConsent"].(bool); skip {
		m.Meta = &transport.Meta{SkipConsent: true}
	}
	send(ctx, m)
}

func values(p Page) router.Values {
	v := router.Values{
		"href":        p.Href,
		"canonical":   p.Canonical,
		"title":       p.Title,
		"referrer":    p.Referrer,
		"isMobile":    p.IsMobile,
		"subsequent":  p.Subsequent,
		"skipConsent": p.SkipConsent,
	}
	if p.Pageload != nil {
		v["pageload"] = *p.Pageload
	}
	return v
}

// Pageview reports p in the background. cb receives the reply of the vault.
func (t *Tracker) Pageview(ctx context.Context, p Page, cb router.Callback) {
	t.script.Dispatch(ctx, TypePageview, values(p), cb)
}

// Track reports p and waits for the reply of the vault.
func (t *Tracker) Track(ctx context.Context, p Page) (*transport.Message, error) {
	return t.script.Call(ctx, TypePageview, values(p))
}
