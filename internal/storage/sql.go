package storage

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

const idSequenceName = "reminders"

// dialect covers the differences between the SQL backends.
type dialect struct {
	name   string
	rebind func(q string) string
}

func questionMarks(q string) string { return q }

// dollarParams rewrites ? placeholders to $1..$n.
func dollarParams(q string) string {
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// sqlStore serves both sqlite and postgres.
type sqlStore struct {
	db  *sql.DB
	log logx.Logger
	d   dialect
}

const reminderColumns = `id, chat, sender, message, time_ms, created_ms, cron_expression, last_triggered_ms`

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Put(ctx context.Context, r reminder.Reminder) error {
	if err := checkReminder(r); err != nil {
		return err
	}
	rec := toRecord(r)
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO reminders(`+reminderColumns+`)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   chat=excluded.chat,
		   sender=excluded.sender,
		   message=excluded.message,
		   time_ms=excluded.time_ms,
		   created_ms=excluded.created_ms,
		   cron_expression=excluded.cron_expression,
		   last_triggered_ms=excluded.last_triggered_ms`),
		rec.ID, rec.Chat, rec.Sender, rec.Message, rec.Time, rec.Created,
		nullStr(rec.CronExpression), nullInt(rec.LastTriggered),
	)
	return err
}

func (s *sqlStore) List(ctx context.Context, chat, sender string) ([]reminder.Reminder, error) {
	return s.query(ctx, s.d.rebind(
		`SELECT `+reminderColumns+` FROM reminders WHERE chat = ? AND sender = ?`), chat, sender)
}

func (s *sqlStore) LoadAll(ctx context.Context) ([]reminder.Reminder, error) {
	return s.query(ctx, `SELECT `+reminderColumns+` FROM reminders`)
}

func (s *sqlStore) Delete(ctx context.Context, id, chat, sender string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`DELETE FROM reminders WHERE id = ? AND chat = ? AND sender = ?`), id, chat, sender)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) Advance(ctx context.Context, r reminder.Reminder) (bool, error) {
	if err := checkReminder(r); err != nil {
		return false, err
	}
	rec := toRecord(r)
	res, err := s.db.ExecContext(ctx, s.d.rebind(
		`UPDATE reminders SET time_ms = ?, last_triggered_ms = ?
		 WHERE id = ? AND chat = ? AND sender = ? AND created_ms = ?`),
		rec.Time, nullInt(rec.LastTriggered), rec.ID, rec.Chat, rec.Sender, rec.Created)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqlStore) NextID(ctx context.Context) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.d.rebind(
		`INSERT INTO id_sequence(name, value) VALUES(?, 0) ON CONFLICT(name) DO NOTHING`), idSequenceName); err != nil {
		return "", err
	}
	var next int64
	err = tx.QueryRowContext(ctx, s.d.rebind(
		`UPDATE id_sequence
		 SET value = CASE WHEN value >= ? OR value < 0 THEN 1 ELSE value + 1 END
		 WHERE name = ?
		 RETURNING value`), reminder.MaxID, idSequenceName).Scan(&next)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return strconv.FormatInt(next, 10), nil
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) ([]reminder.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []reminder.Reminder
	for rows.Next() {
		var (
			rec  record
			cron sql.NullString
			last sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.Chat, &rec.Sender, &rec.Message, &rec.Time, &rec.Created, &cron, &last); err != nil {
			s.log.Warn("skip unreadable reminder row", logx.String("driver", s.d.name), logx.Err(err))
			continue
		}
		rec.CronExpression = cron.String
		rec.LastTriggered = last.Int64
		r, err := rec.reminder()
		if err != nil {
			s.log.Warn("skip incomplete reminder row", logx.String("driver", s.d.name), logx.String("id", rec.ID), logx.Err(err))
			continue
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortReminders(out)
	return out, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func migrate(ctx context.Context, db *sql.DB, script string) error {
	if strings.TrimSpace(script) == "" {
		return errors.New("empty migration script")
	}
	_, err := db.ExecContext(ctx, script)
	return err
}
