package commands

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	errBadDuration = errors.New("duration must look like 30m, 2h or 1d12h")
	durationRe     = regexp.MustCompile(`^(?:\d+[dhm])+$`)
	durationPartRe = regexp.MustCompile(`(\d+)([dhm])`)
)

// maxDuration keeps parsed offsets well inside time.Duration.
const maxDuration = 10 * 365 * 24 * time.Hour

// parseDuration accepts a run of <n><unit> pairs with units d, h and m.
// A total of zero is rejected.
func parseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !durationRe.MatchString(s) {
		return 0, errBadDuration
	}
	var total time.Duration
	for _, m := range durationPartRe.FindAllStringSubmatch(s, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil || n > 1_000_000 {
			return 0, errBadDuration
		}
		unit := time.Minute
		switch m[2] {
		case "d":
			unit = 24 * time.Hour
		case "h":
			unit = time.Hour
		}
		total += time.Duration(n) * unit
		if total > maxDuration {
			return 0, errBadDuration
		}
	}
	if total <= 0 {
		return 0, errBadDuration
	}
	return total, nil
}

// isCommand reports whether text starts with a command prefix.
func isCommand(text string) bool {
	return strings.HasPrefix(text, "/") || strings.HasPrefix(text, "!")
}

// commandWord extracts the lowercased command name from the first token,
// dropping the prefix and any @botname suffix.
func commandWord(tok string) string {
	w := tok[1:]
	if i := strings.IndexByte(w, '@'); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}

// tokenize splits a command line on whitespace. Double quotes group words
// and a backslash escapes the next byte. Single quotes are literal so that
// message text like "don't" survives.
func tokenize(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out []string
		buf strings.Builder
		inQ bool
		esc bool
		got bool
	)
	flush := func() {
		if got {
			out = append(out, buf.String())
			buf.Reset()
			got = false
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			got = true
			continue
		}
		if inQ {
			if ch == '"' {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"':
			inQ = true
			got = true
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
			got = true
		}
	}
	flush()
	return out
}

// skipWords returns s without its first n whitespace-separated words,
// leaving the remainder untouched.
func skipWords(s string, n int) string {
	s = strings.TrimSpace(s)
	for ; n > 0 && s != ""; n-- {
		i := strings.IndexAny(s, " \t\n\r")
		if i < 0 {
			return ""
		}
		s = strings.TrimLeft(s[i:], " \t\n\r")
	}
	return s
}

// splitCron separates a schedule from the message that follows it. The
// schedule is either a double-quoted string or the first five words.
func splitCron(s string) (expr, message string, ok bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) {
		end := strings.IndexByte(s[1:], '"')
		if end < 0 {
			return "", "", false
		}
		return strings.TrimSpace(s[1 : end+1]), strings.TrimSpace(s[end+2:]), true
	}
	fields := strings.Fields(s)
	if len(fields) < 5 {
		return "", "", false
	}
	return strings.Join(fields[:5], " "), skipWords(s, 5), true
}
