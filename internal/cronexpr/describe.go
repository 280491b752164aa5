package cronexpr

import (
	"fmt"
	"strings"
	"time"
)

var canned = map[string]string{
	"* * * * *":  "every minute",
	"0 * * * *":  "every hour",
	"0 0 * * *":  "every day at midnight",
	"0 12 * * *": "every day at noon",
	"0 0 * * 0":  "every Sunday at midnight",
	"0 0 1 * *":  "first day of every month",
}

// Describe renders expr as a short English phrase. Shapes without a phrase
// (and invalid input) come back verbatim.
func Describe(expr string) string {
	s := strings.TrimSpace(expr)
	// Canned phrases win over the clock form, so "0 0 * * *" reads "midnight"
	// rather than "12:00 AM".
	if p, ok := canned[s]; ok {
		return p
	}
	e, err := Parse(s)
	if err != nil {
		return expr
	}

	if e.Minute.Kind == KindStep {
		if e.Minute.Step == 1 {
			return "every minute"
		}
		return fmt.Sprintf("every %d minutes", e.Minute.Step)
	}

	h, okH := e.Hour.Single()
	m, okM := e.Minute.Single()
	if !okH || !okM || !e.DayOfMonth.Wildcard() || !e.Month.Wildcard() {
		return s
	}
	at := clock(h, m)

	dow := e.DayOfWeek
	switch dow.Kind {
	case KindAny:
		return "every day at " + at
	case KindRange:
		return fmt.Sprintf("every %s to %s at %s", dayName(dow.Values[0]), dayName(dow.Values[1]), at)
	case KindList:
		names := make([]string, 0, len(dow.Values))
		for _, v := range dow.Values {
			names = append(names, dayName(v))
		}
		return fmt.Sprintf("every %s at %s", joinAnd(names), at)
	case KindValue:
		return fmt.Sprintf("every %s at %s", dayName(dow.Values[0]), at)
	default:
		return s
	}
}

// clock formats an hour/minute pair as "9:05 AM".
func clock(h, m int) string {
	period := "AM"
	if h >= 12 {
		period = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d:%02d %s", h12, m, period)
}

func dayName(v int) string { return time.Weekday(v).String() }

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
