package events

import (
	"errors"
	"net/url"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrInvalid = errors.New("missing uri")
var ErrDataScheme = errors.New("data scheme not supported")

// NewID mints a new event identifier for ts. Identifiers sort by creation
// time.
func NewID(ts time.Time) string {
	return ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String()
}

// LowerBound is the smallest event id that could be minted at ts.
func LowerBound(ts time.Time) string {
	var id ulid.ULID
	id.SetTime(ulid.Timestamp(ts))
	return id.String()
}

// UpperBound is the largest event id that could be minted at ts.
func UpperBound(ts time.Time) string {
	var id ulid.ULID
	id.SetTime(ulid.Timestamp(ts))
	id.SetEntropy([]byte{
		0xff, 0xff, 0xff, 0xff, 0xff,
		0xff, 0xff, 0xff, 0xff, 0xff,
	})
	return id.String()
}

// Time returns the creation time encoded in an event id.
func Time(id string) (time.Time, bool) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()), true
}

// StripSearch removes the query string of a referrer, it might contain
// sensitive information.
func StripSearch(referrer string) string {
	if referrer == "" {
		return ""
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	u.RawQuery = ""
	u.ForceQuery = false
	return u.String()
}

// ParsePage validates a page url submitted by the tracking script.
func ParsePage(href string) (*url.URL, error) {
	if href == "" {
		return nil, ErrInvalid
	}
	u, err := url.Parse(href)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "data" {
		return nil, ErrDataScheme
	}
	return u, nil
}

// Valid reports whether the event payload has a known type. Events failing
// this check are dropped before aggregation.
func Valid(e *Event) bool {
	if e.Payload == nil {
		return false
	}
	switch e.Payload.Type {
	case TypePageview:
		return true
	default:
		return false
	}
}

// Validate returns the subset of valid events. The input is not modified.
func Validate(ls []Event) []Event {
	o := make([]Event, 0, len(ls))
	for i := range ls {
		if Valid(&ls[i]) {
			o = append(o, ls[i])
		}
	}
	return o
}
