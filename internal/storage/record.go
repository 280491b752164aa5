package storage

import (
	"errors"
	"time"

	"remindbot/internal/reminder"
)

// record is the persisted shape. Times are epoch milliseconds.
type record struct {
	ID             string `json:"id"`
	Chat           string `json:"chat"`
	Sender         string `json:"sender"`
	Message        string `json:"message"`
	Time           int64  `json:"time"`
	Created        int64  `json:"created"`
	CronExpression string `json:"cronExpression,omitempty"`
	LastTriggered  int64  `json:"lastTriggered,omitempty"`
}

var (
	errIncomplete = errors.New("incomplete record")
	errIDMismatch = errors.New("record id does not match its file name")
)

// sameRecord reports whether a and b are the same stored reminder: same id,
// owner and creation instant (millisecond precision, as persisted).
func sameRecord(a, b reminder.Reminder) bool {
	return a.ID == b.ID && a.Owned(b.Chat, b.Sender) && a.Created.UnixMilli() == b.Created.UnixMilli()
}

func toRecord(r reminder.Reminder) record {
	rec := record{
		ID:             r.ID,
		Chat:           r.Chat,
		Sender:         r.Sender,
		Message:        r.Message,
		Time:           r.Time.UnixMilli(),
		CronExpression: r.CronExpression,
	}
	if !r.Created.IsZero() {
		rec.Created = r.Created.UnixMilli()
	}
	if !r.LastTriggered.IsZero() {
		rec.LastTriggered = r.LastTriggered.UnixMilli()
	}
	return rec
}

func (rec record) reminder() (reminder.Reminder, error) {
	if rec.ID == "" || rec.Chat == "" || rec.Sender == "" || rec.Time == 0 {
		return reminder.Reminder{}, errIncomplete
	}
	r := reminder.Reminder{
		ID:             rec.ID,
		Chat:           rec.Chat,
		Sender:         rec.Sender,
		Message:        rec.Message,
		Time:           time.UnixMilli(rec.Time),
		CronExpression: rec.CronExpression,
	}
	if rec.Created != 0 {
		r.Created = time.UnixMilli(rec.Created)
	}
	if rec.LastTriggered != 0 {
		r.LastTriggered = time.UnixMilli(rec.LastTriggered)
	}
	return r, nil
}
