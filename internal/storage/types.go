// Package storage persists reminders.
//
// Backends:
//   - "file": one JSON document per reminder under <path>/reminders, plus the
//     id counter in <path>/last_id
//   - "sqlite": a single database file (modernc.org/sqlite, pure Go)
//   - "postgres": a shared database reached through DSN (lib/pq)
//
// Every backend skips records it cannot decode instead of failing the read.
package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"remindbot/internal/reminder"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
	ErrInvalidID     = errors.New("invalid reminder id")
)

type Config struct {
	Driver       string
	Path         string        // file: directory; sqlite: database file
	DSN          string        // postgres
	BusyTimeout  time.Duration // sqlite
	MaxOpenConns int           // postgres
}

type Store interface {
	// Put inserts or replaces r by id. The write is durable when Put returns.
	Put(ctx context.Context, r reminder.Reminder) error
	// List returns the reminders owned by chat and sender, oldest first.
	List(ctx context.Context, chat, sender string) ([]reminder.Reminder, error)
	// Delete removes id only when it is owned by chat and sender.
	Delete(ctx context.Context, id, chat, sender string) (bool, error)
	// Advance rewrites Time and LastTriggered of the stored record matching
	// r's id, owner and creation instant. It reports false when no such record
	// exists (deleted meanwhile, or the id was reused).
	Advance(ctx context.Context, r reminder.Reminder) (bool, error)
	// LoadAll returns every reminder regardless of owner.
	LoadAll(ctx context.Context) ([]reminder.Reminder, error)
	// NextID allocates the next sequential id in [1, reminder.MaxID].
	NextID(ctx context.Context) (string, error)
	Close() error
}

func sortReminders(rs []reminder.Reminder) {
	sort.SliceStable(rs, func(i, j int) bool { return reminder.Less(rs[i], rs[j]) })
}

func nextSeq(last int) int {
	if last < 0 || last >= reminder.MaxID {
		return 1
	}
	return last + 1
}

func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

func checkReminder(r reminder.Reminder) error {
	if !validID(r.ID) {
		return ErrInvalidID
	}
	if r.Chat == "" || r.Sender == "" {
		return errors.New("reminder owner is empty")
	}
	if r.Time.IsZero() {
		return errors.New("reminder time is zero")
	}
	return nil
}
