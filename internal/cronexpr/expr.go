package cronexpr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrFieldCount   = errors.New("expected 5 space-separated fields")
	ErrInvalidField = errors.New("invalid field")
)

// Kind is the syntactic shape of a single field.
type Kind int

const (
	KindAny Kind = iota
	KindStep
	KindValue
	KindList
	KindRange
)

func (k Kind) String() string {
	switch k {
	case KindAny:
		return "any"
	case KindStep:
		return "step"
	case KindValue:
		return "value"
	case KindList:
		return "list"
	case KindRange:
		return "range"
	default:
		return "unknown"
	}
}

type bounds struct {
	name     string
	min, max int
}

var fieldBounds = [5]bounds{
	{name: "minute", min: 0, max: 59},
	{name: "hour", min: 0, max: 23},
	{name: "day-of-month", min: 1, max: 31},
	{name: "month", min: 1, max: 12},
	{name: "day-of-week", min: 0, max: 6},
}

// Field is one parsed position of an expression.
//
// Values holds the single value for KindValue, the listed values (in the
// order written) for KindList, and [lo, hi] for KindRange.
type Field struct {
	Kind   Kind
	Step   int
	Values []int

	min, max int
	raw      string
}

func (f Field) String() string { return f.raw }

// Wildcard reports whether the field is a plain "*".
func (f Field) Wildcard() bool { return f.Kind == KindAny }

// Single returns the value of a KindValue field.
func (f Field) Single() (int, bool) {
	if f.Kind != KindValue || len(f.Values) != 1 {
		return 0, false
	}
	return f.Values[0], true
}

// Contains reports whether v is matched by the field.
func (f Field) Contains(v int) bool {
	if v < f.min || v > f.max {
		return false
	}
	switch f.Kind {
	case KindAny:
		return true
	case KindStep:
		return f.Step > 0 && (v-f.min)%f.Step == 0
	case KindValue, KindList:
		for _, x := range f.Values {
			if x == v {
				return true
			}
		}
		return false
	case KindRange:
		return len(f.Values) == 2 && v >= f.Values[0] && v <= f.Values[1]
	default:
		return false
	}
}

// Set returns the matched values in ascending order.
func (f Field) Set() []int {
	out := make([]int, 0, f.max-f.min+1)
	for v := f.min; v <= f.max; v++ {
		if f.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

// Expr is a parsed expression.
type Expr struct {
	Minute     Field
	Hour       Field
	DayOfMonth Field
	Month      Field
	DayOfWeek  Field

	raw string
}

func (e Expr) String() string { return e.raw }

// Valid reports whether expr is accepted by the grammar. It never panics and
// never returns an error; use Parse for a reason.
func Valid(expr string) bool {
	_, err := Parse(expr)
	return err == nil
}

// Parse validates expr and returns its structured form.
func Parse(expr string) (Expr, error) {
	s := strings.TrimSpace(expr)
	parts := strings.Split(s, " ")
	if len(parts) != 5 {
		return Expr{}, fmt.Errorf("cronexpr: %q: %w (got %d)", expr, ErrFieldCount, len(parts))
	}

	var fs [5]Field
	for i, p := range parts {
		f, err := parseField(p, fieldBounds[i])
		if err != nil {
			return Expr{}, fmt.Errorf("cronexpr: %s %q: %w", fieldBounds[i].name, p, err)
		}
		fs[i] = f
	}
	return Expr{
		Minute:     fs[0],
		Hour:       fs[1],
		DayOfMonth: fs[2],
		Month:      fs[3],
		DayOfWeek:  fs[4],
		raw:        s,
	}, nil
}

func parseField(tok string, b bounds) (Field, error) {
	f := Field{min: b.min, max: b.max, raw: tok}

	switch {
	case tok == "":
		return Field{}, fmt.Errorf("%w: empty", ErrInvalidField)

	case tok == "*":
		f.Kind = KindAny
		return f, nil

	case strings.HasPrefix(tok, "*/"):
		n, ok := atoi(tok[2:])
		if !ok || n <= 0 || n > b.max {
			return Field{}, fmt.Errorf("%w: step must be in 1..%d", ErrInvalidField, b.max)
		}
		f.Kind = KindStep
		f.Step = n
		return f, nil

	case strings.Contains(tok, ","):
		items := strings.Split(tok, ",")
		f.Kind = KindList
		f.Values = make([]int, 0, len(items))
		for _, it := range items {
			v, ok := atoi(it)
			if !ok || v < b.min || v > b.max {
				return Field{}, fmt.Errorf("%w: list item %q must be an integer in %d..%d", ErrInvalidField, it, b.min, b.max)
			}
			f.Values = append(f.Values, v)
		}
		return f, nil

	case strings.Contains(tok, "-"):
		ends := strings.Split(tok, "-")
		if len(ends) != 2 {
			return Field{}, fmt.Errorf("%w: range must be a-b", ErrInvalidField)
		}
		lo, ok1 := atoi(ends[0])
		hi, ok2 := atoi(ends[1])
		if !ok1 || !ok2 || lo < b.min || hi > b.max || lo > b.max || hi < b.min {
			return Field{}, fmt.Errorf("%w: range ends must be integers in %d..%d", ErrInvalidField, b.min, b.max)
		}
		if lo > hi {
			return Field{}, fmt.Errorf("%w: range start %d is after end %d", ErrInvalidField, lo, hi)
		}
		f.Kind = KindRange
		f.Values = []int{lo, hi}
		return f, nil

	default:
		v, ok := atoi(tok)
		if !ok || v < b.min || v > b.max {
			return Field{}, fmt.Errorf("%w: must be an integer in %d..%d", ErrInvalidField, b.min, b.max)
		}
		f.Kind = KindValue
		f.Values = []int{v}
		return f, nil
	}
}

// atoi accepts only plain ASCII digits (no sign, no spaces).
func atoi(s string) (int, bool) {
	if s == "" || len(s) > 4 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
