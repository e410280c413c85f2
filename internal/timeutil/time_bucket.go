package timeutil

import (
	"fmt"
	"time"
)

// Resolution is the unit stats are grouped by.
type Resolution string

const (
	Hours  Resolution = "hours"
	Days   Resolution = "days"
	Weeks  Resolution = "weeks"
	Months Resolution = "months"
)

func (r Resolution) Valid() bool {
	switch r {
	case Hours, Days, Weeks, Months:
		return true
	default:
		return false
	}
}

func (r Resolution) Validate() error {
	if !r.Valid() {
		return fmt.Errorf("unknown resolution value: %q", string(r))
	}
	return nil
}

func (r Resolution) Begin(ts time.Time) time.Time {
	switch r {
	case Hours:
		return BeginHour(ts)
	case Weeks:
		return BeginWeek(ts)
	case Months:
		return BeginMonth(ts)
	default:
		return BeginDay(ts)
	}
}

func (r Resolution) End(ts time.Time) time.Time {
	switch r {
	case Hours:
		return EndOfHour(ts)
	case Weeks:
		return EndWeek(ts)
	case Months:
		return EndMonth(ts)
	default:
		return EndDay(ts)
	}
}

// Sub moves ts n units back.
func (r Resolution) Sub(ts time.Time, n int) time.Time {
	switch r {
	case Hours:
		return ts.Add(-time.Duration(n) * time.Hour)
	case Weeks:
		return ts.AddDate(0, 0, -7*n)
	case Months:
		return subMonths(ts, n)
	default:
		return ts.AddDate(0, 0, -n)
	}
}

// subMonths moves ts n months back, clamping the day to the last day of the
// target month.
func subMonths(ts time.Time, n int) time.Time {
	first := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, ts.Location()).AddDate(0, -n, 0)
	last := first.AddDate(0, 1, -1).Day()
	day := ts.Day()
	if day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		ts.Hour(), ts.Minute(), ts.Second(), ts.Nanosecond(), ts.Location())
}

// TimeBuckets splits source, ordered by time, into runs falling in the same
// resolution unit. cb receives the start of the unit and the run bounds.
func TimeBuckets(r Resolution, source []time.Time, cb func(bucket time.Time, start, end int) error) error {
	if len(source) == 0 {
		return nil
	}
	var start int
	bucket := r.Begin(source[0])
	for i := 0; i < len(source); i++ {
		h := r.Begin(source[i])
		if h.Equal(bucket) {
			continue
		}
		if err := cb(bucket, start, i); err != nil {
			return err
		}
		start = i
		bucket = h
	}
	return cb(bucket, start, len(source))
}
