package events

import (
	"net/url"
	"strings"
	"time"
)

const (
	TypePageview = "PAGEVIEW"
)

// Event is a single recorded visitor action. Events are immutable once
// created; filters and reducers only ever read them.
type Event struct {
	EventID   string `json:"eventId"`
	AccountID string `json:"accountId,omitempty"`
	// SecretID is the pseudonymous visitor identifier. It is empty when the
	// visitor did not consent, which makes the event anonymous.
	SecretID  string    `json:"secretId"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Payload   *Payload  `json:"payload,omitempty"`
}

// Payload is tagged by Type. Every field is optional and callers must check
// for absence explicitly.
type Payload struct {
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
	// RawHref is the href before canonical link resolution. Campaign
	// parameters are read from it when present.
	RawHref   string     `json:"rawHref,omitempty"`
	Referrer  string     `json:"referrer,omitempty"`
	SessionID string     `json:"sessionId,omitempty"`
	Title     string     `json:"title,omitempty"`
	Pageload  *float64   `json:"pageload,omitempty"`
	IsMobile  bool       `json:"isMobile,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Anonymous reports whether the event carries no visitor identifier.
func (e *Event) Anonymous() bool {
	return e.SecretID == ""
}

// Session returns the session id of the event or an empty string.
func (e *Event) Session() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.SessionID
}

// HrefURL parses the page url. Missing or malformed urls yield nil.
func (e *Event) HrefURL() *url.URL {
	if e.Payload == nil {
		return nil
	}
	return parse(e.Payload.Href)
}

// ReferrerURL parses the referrer. Missing or malformed referrers yield nil.
func (e *Event) ReferrerURL() *url.URL {
	if e.Payload == nil {
		return nil
	}
	return parse(e.Payload.Referrer)
}

// CleanHref returns origin and path of the page url, dropping query string
// and fragment.
func (e *Event) CleanHref() (string, bool) {
	u := e.HrefURL()
	if u == nil {
		return "", false
	}
	return Clean(u), true
}

// Param reads a query parameter from the raw href if present, falling back to
// the href itself.
func (e *Event) Param(key string) string {
	if e.Payload == nil {
		return ""
	}
	raw := e.Payload.RawHref
	if raw == "" {
		raw = e.Payload.Href
	}
	u := parse(raw)
	if u == nil {
		return ""
	}
	return u.Query().Get(key)
}

// Clean formats u as scheme://host/path.
func Clean(u *url.URL) string {
	var b strings.Builder
	if u.Scheme != "" {
		b.WriteString(u.Scheme)
		b.WriteString("://")
	}
	b.WriteString(u.Host)
	b.WriteString(Path(u))
	return b.String()
}

// Path returns the escaped path of u, "/" for hosts without one.
func Path(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" && u.Host != "" {
		return "/"
	}
	return p
}

func parse(s string) *url.URL {
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil {
		return nil
	}
	return u
}
