package cronexpr

import "time"

// dateHorizon bounds the forward scan when day-of-month/month filters are
// present (eight years covers every Feb 29).
const dateHorizon = 8 * 366

// Next returns the next trigger instant of expr strictly after now, in now's
// location, with seconds zeroed. An invalid expression yields the next whole
// minute.
func Next(expr string, now time.Time) time.Time {
	e, err := Parse(expr)
	if err != nil {
		return nextMinute(now)
	}
	return e.Next(now)
}

// Next returns the next trigger instant strictly after now.
func (e Expr) Next(now time.Time) time.Time {
	minuteSet := e.Minute.Kind != KindAny
	hourSet := e.Hour.Kind != KindAny

	switch {
	case e.Minute.Kind == KindStep:
		return nextStep(now, e.Minute.Step)

	case e.DayOfWeek.Kind != KindAny:
		hours, mins := []int{0}, []int{0}
		if hourSet {
			hours = e.Hour.Set()
		}
		if minuteSet {
			mins = e.Minute.Set()
		}
		if t, ok := scan(now, 7, hours, mins, e.weekdayMatches); ok {
			return t
		}
		return nextMinute(now)

	case !minuteSet && !hourSet:
		return nextMinute(now)

	default:
		hours, mins := all(0, 23), all(0, 59)
		if hourSet {
			hours = e.Hour.Set()
		}
		if minuteSet {
			mins = e.Minute.Set()
		}
		if e.hasDateFilter() {
			if t, ok := scan(now, dateHorizon, hours, mins, e.dateMatches); ok {
				return t
			}
		}
		if t, ok := scan(now, 1, hours, mins, nil); ok {
			return t
		}
		return nextMinute(now)
	}
}

func (e Expr) hasDateFilter() bool {
	return e.DayOfMonth.Kind != KindAny || e.Month.Kind != KindAny
}

func (e Expr) dateMatches(day time.Time) bool {
	return e.DayOfMonth.Contains(day.Day()) && e.Month.Contains(int(day.Month()))
}

func (e Expr) weekdayMatches(day time.Time) bool {
	return e.DayOfWeek.Contains(int(day.Weekday()))
}

// scan walks calendar days from now's date up to maxDays ahead and returns the
// first hour/minute combination after now on a day accepted by keep.
// hours and mins must be ascending.
func scan(now time.Time, maxDays int, hours, mins []int, keep func(time.Time) bool) (time.Time, bool) {
	if len(hours) == 0 || len(mins) == 0 {
		return time.Time{}, false
	}
	loc := now.Location()
	y, m, d := now.Date()
	for off := 0; off <= maxDays; off++ {
		day := time.Date(y, m, d+off, 0, 0, 0, 0, loc)
		if keep != nil && !keep(day) {
			continue
		}
		dy, dm, dd := day.Date()
		for _, h := range hours {
			for _, mi := range mins {
				t := time.Date(dy, dm, dd, h, mi, 0, 0, loc)
				if t.After(now) {
					return t, true
				}
			}
		}
	}
	return time.Time{}, false
}

func nextStep(now time.Time, step int) time.Time {
	y, m, d := now.Date()
	hourStart := time.Date(y, m, d, now.Hour(), 0, 0, 0, now.Location())
	up := (now.Minute() + step - 1) / step * step
	t := hourStart.Add(time.Duration(up) * time.Minute)
	if !t.After(now) {
		t = t.Add(time.Duration(step) * time.Minute)
	}
	return t
}

func nextMinute(now time.Time) time.Time {
	y, m, d := now.Date()
	t := time.Date(y, m, d, now.Hour(), now.Minute(), 0, 0, now.Location())
	return t.Add(time.Minute)
}

func all(lo, hi int) []int {
	out := make([]int, 0, hi-lo+1)
	for v := lo; v <= hi; v++ {
		out = append(out, v)
	}
	return out
}
