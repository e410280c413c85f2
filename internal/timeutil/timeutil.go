package timeutil

import "time"

func Today() time.Time {
	return BeginDay(time.Now())
}

func BeginHour(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, ts.Hour(), 0, 0, 0, ts.Location())
}

func BeginDay(ts time.Time) time.Time {
	yy, mm, dd := ts.Date()
	return time.Date(yy, mm, dd, 0, 0, 0, 0, ts.Location())
}

// BeginWeek returns the start of the week of ts. Weeks start on Monday.
func BeginWeek(ts time.Time) time.Time {
	ts = BeginDay(ts)
	offset := (int(ts.Weekday()) + 6) % 7
	return ts.AddDate(0, 0, -offset)
}

func BeginMonth(ts time.Time) time.Time {
	yy, mm, _ := ts.Date()
	return time.Date(yy, mm, 1, 0, 0, 0, 0, ts.Location())
}

func EndOfHour(ts time.Time) time.Time {
	return BeginHour(ts).Add(time.Hour - time.Nanosecond)
}

func EndDay(ts time.Time) time.Time {
	yy, mm, dd := ts.Date()
	return time.Date(yy, mm, dd, 23, 59, 59, int(time.Second-time.Nanosecond), ts.Location())
}

func EndWeek(ts time.Time) time.Time {
	return BeginWeek(ts).AddDate(0, 0, 7).Add(-time.Nanosecond)
}

func EndMonth(ts time.Time) time.Time {
	return BeginMonth(ts).AddDate(0, 1, 0).Add(-time.Nanosecond)
}
