// Package cronexpr implements the restricted 5-field schedule grammar used by
// recurring reminders.
//
// # Grammar
//
// An expression has exactly five space-separated fields:
//
//	minute hour day-of-month month day-of-week
//
// Each field is one of:
//
//   - "*" (any value)
//   - "*/N" (every N, 0 < N <= field max)
//   - a single integer, e.g. "8"
//   - a list of integers, e.g. "1,3,5"
//   - a simple range, e.g. "1-5"
//
// Named months/weekdays, ranges inside lists and stepped ranges are rejected.
// Day-of-week uses 0 for Sunday.
//
// # Next trigger
//
// Next resolves the following instant with a fixed precedence (minute step,
// then explicit day-of-week, then explicit hour+minute, then every minute).
// Day-of-month and month act as date filters only when both hour and minute
// are explicit or exactly one of them is; the other shapes ignore them.
//
// # Descriptions
//
// Describe renders the shapes Next understands precisely as short English
// phrases and echoes anything else verbatim.
package cronexpr
