// Package reminder holds the reminder model and its creation path.
package reminder

import (
	"strconv"
	"time"
)

// MaxID is the largest sequential id; allocation wraps back to 1 after it.
const MaxID = 999

// Reminder is one scheduled notification owned by a (Chat, Sender) pair.
// A non-empty CronExpression marks it recurring.
type Reminder struct {
	ID             string
	Chat           string
	Sender         string
	Message        string
	Time           time.Time
	Created        time.Time
	CronExpression string
	LastTriggered  time.Time
}

func (r Reminder) Recurring() bool { return r.CronExpression != "" }

// Due reports whether r should fire at now.
func (r Reminder) Due(now time.Time) bool { return !r.Time.After(now) }

// Owned reports whether r belongs to chat and sender.
func (r Reminder) Owned(chat, sender string) bool {
	return r.Chat == chat && r.Sender == sender
}

// NumericID returns the id as an int, or 0 when it is not numeric.
func (r Reminder) NumericID() int {
	n, err := strconv.Atoi(r.ID)
	if err != nil {
		return 0
	}
	return n
}

// Less orders by creation time, then numeric id.
func Less(a, b Reminder) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.Before(b.Created)
	}
	return a.NumericID() < b.NumericID()
}

// FiredText is the text delivered when a reminder fires.
func FiredText(message string) string {
	return "⏰ Reminder\n\n" + message
}
