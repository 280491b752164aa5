package storage

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

func TestDollarParams(t *testing.T) {
	t.Parallel()
	got := dollarParams("DELETE FROM reminders WHERE id = ? AND chat = ? AND sender = ?")
	want := "DELETE FROM reminders WHERE id = $1 AND chat = $2 AND sender = $3"
	if got != want {
		t.Fatalf("dollarParams = %q, want %q", got, want)
	}
}

func TestPostgresDeleteIsOwnerScoped(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	st := newPostgresStore(db, logx.Nop())
	defer st.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reminders WHERE id = $1 AND chat = $2 AND sender = $3")).
		WithArgs("7", "c", "u").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reminders WHERE id = $1 AND chat = $2 AND sender = $3")).
		WithArgs("7", "c", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if ok, err := st.Delete(ctx, "7", "c", "u"); err != nil || !ok {
		t.Fatalf("Delete own = %v, %v", ok, err)
	}
	if ok, err := st.Delete(ctx, "7", "c", "intruder"); err != nil || ok {
		t.Fatalf("Delete foreign = %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresNextID(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	st := newPostgresStore(db, logx.Nop())
	defer st.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO id_sequence(name, value) VALUES($1, 0) ON CONFLICT(name) DO NOTHING")).
		WithArgs(idSequenceName).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("RETURNING value")).
		WithArgs(999, idSequenceName).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(int64(42)))
	mock.ExpectCommit()

	id, err := st.NextID(context.Background())
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if id != "42" {
		t.Fatalf("NextID = %q, want 42", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresListSkipsBadRows(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	st := newPostgresStore(db, logx.Nop())
	defer st.Close()

	cols := []string{"id", "chat", "sender", "message", "time_ms", "created_ms", "cron_expression", "last_triggered_ms"}
	mock.ExpectQuery(regexp.QuoteMeta("FROM reminders WHERE chat = $1 AND sender = $2")).
		WithArgs("c", "u").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("2", "c", "u", "later", int64(2000), int64(20), nil, nil).
			AddRow("1", "c", "u", "first", int64(1000), int64(10), "0 8 * * *", int64(500)).
			AddRow("3", "c", "u", "broken", "not-a-number", int64(30), nil, nil))

	got, err := st.List(context.Background(), "c", "u")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0].ID != "1" || got[1].ID != "2" {
		t.Fatalf("List = %+v", got)
	}
	if got[0].CronExpression != "0 8 * * *" || got[0].LastTriggered.UnixMilli() != 500 {
		t.Fatalf("nullable columns not mapped: %+v", got[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestPostgresAdvanceMatchesOwnerAndCreation(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	st := newPostgresStore(db, logx.Nop())
	defer st.Close()

	r := reminder.Reminder{
		ID: "4", Chat: "c", Sender: "u", Message: "m",
		Time: time.UnixMilli(5000), Created: time.UnixMilli(1000), LastTriggered: time.UnixMilli(4000),
		CronExpression: "0 8 * * *",
	}
	q := regexp.QuoteMeta("UPDATE reminders SET time_ms = $1, last_triggered_ms = $2") + `\s+` +
		regexp.QuoteMeta("WHERE id = $3 AND chat = $4 AND sender = $5 AND created_ms = $6")
	mock.ExpectExec(q).
		WithArgs(int64(5000), int64(4000), "4", "c", "u", int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).
		WithArgs(int64(5000), int64(4000), "4", "c", "u", int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ctx := context.Background()
	if ok, err := st.Advance(ctx, r); err != nil || !ok {
		t.Fatalf("Advance = %v, %v", ok, err)
	}
	if ok, err := st.Advance(ctx, r); err != nil || ok {
		t.Fatalf("Advance gone = %v, %v; want false", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
