package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeSender) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(f.msgs)}, nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return ""
	}
	return f.msgs[len(f.msgs)-1]
}

type harness struct {
	m     *Manager
	out   *fakeSender
	store storage.Store
	now   time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir()}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{out: &fakeSender{}, store: st, now: time.Date(2024, 3, 9, 10, 7, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }
	svc := reminder.NewService(st, reminder.WithClock(clock))
	h.m = New(h.out, svc, st, Config{Location: time.UTC}, WithClock(clock))
	return h
}

func (h *harness) say(t *testing.T, chat, from int64, text string) string {
	t.Helper()
	if err := h.m.Handle(context.Background(), transport.Message{ChatID: chat, FromID: from, Text: text}); err != nil {
		t.Fatalf("Handle(%q): %v", text, err)
	}
	return h.out.last()
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30m", 30 * time.Minute, true},
		{"2h", 2 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"2h30m", 150 * time.Minute, true},
		{"1d12h", 36 * time.Hour, true},
		{"1H", time.Hour, true},
		{"0m", 0, false},
		{"", 0, false},
		{"10", 0, false},
		{"5s", 0, false},
		{"2h 30m", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, err := parseDuration(tc.in)
		if (err == nil) != tc.ok {
			t.Fatalf("parseDuration(%q) err=%v, want ok=%v", tc.in, err, tc.ok)
		}
		if got != tc.want {
			t.Fatalf("parseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTokenize(t *testing.T) {
	t.Parallel()
	got := tokenize(`/remind cron "0 8 * * *" don't forget`)
	want := []string{"/remind", "cron", "0 8 * * *", "don't", "forget"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("tokenize = %q, want %q", got, want)
	}
	if got := tokenize(`a \"b c`); strings.Join(got, "|") != `a|"b|c` {
		t.Fatalf("escape = %q", got)
	}
	if got := tokenize(`x ""`); len(got) != 2 || got[1] != "" {
		t.Fatalf("empty quotes = %q", got)
	}
}

func TestSplitCron(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in, expr, msg string
		ok            bool
	}{
		{`"0 8 * * *" take pills`, "0 8 * * *", "take pills", true},
		{`"*/5 * * * *"`, "*/5 * * * *", "", true},
		{`0 8 * * 1-5 stand up`, "0 8 * * 1-5", "stand up", true},
		{`"0 8 * * * take pills`, "", "", false},
		{`0 8 *`, "", "", false},
	}
	for _, tc := range cases {
		expr, msg, ok := splitCron(tc.in)
		if ok != tc.ok || expr != tc.expr || msg != tc.msg {
			t.Fatalf("splitCron(%q) = %q, %q, %v", tc.in, expr, msg, ok)
		}
	}
}

func TestRemindOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reply := h.say(t, 10, 20, "/remind 2h30m Buy groceries")
	if !strings.Contains(reply, "One-time reminder set [#1]") || !strings.Contains(reply, "Mar 9 2024, 12:37 PM") {
		t.Fatalf("reply = %q", reply)
	}
	rs, err := h.store.List(context.Background(), "10", "20")
	if err != nil || len(rs) != 1 {
		t.Fatalf("List = %v, %v", rs, err)
	}
	if rs[0].Message != "Buy groceries" || !rs[0].Time.Equal(h.now.Add(150*time.Minute)) {
		t.Fatalf("stored = %+v", rs[0])
	}

	if reply := h.say(t, 10, 20, "!remind soon thing"); !strings.Contains(reply, "Invalid time format") {
		t.Fatalf("bad duration reply = %q", reply)
	}
}

func TestRemindCron(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reply := h.say(t, 10, 20, `/remind cron "0 8 * * *" daily standup`)
	for _, want := range []string{"Recurring reminder set [#1]", "every day at 8:00 AM", "Mar 10 2024, 8:00 AM"} {
		if !strings.Contains(reply, want) {
			t.Fatalf("reply %q missing %q", reply, want)
		}
	}
	if reply := h.say(t, 10, 20, `/remind cron "99 * * * *" nope`); !strings.Contains(reply, "Invalid cron expression") {
		t.Fatalf("invalid reply = %q", reply)
	}
	if reply := h.say(t, 10, 20, `/remind cron "0 8 * * *"`); !strings.Contains(reply, "Invalid format") {
		t.Fatalf("missing message reply = %q", reply)
	}
	rs, _ := h.store.List(context.Background(), "10", "20")
	if len(rs) != 1 || rs[0].CronExpression != "0 8 * * *" {
		t.Fatalf("stored = %+v", rs)
	}
}

func TestPendingSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if reply := h.say(t, 10, 20, "/remind 30m"); !strings.Contains(reply, "What should I remind you about") {
		t.Fatalf("prompt = %q", reply)
	}
	// Another member's plain text is ignored.
	before := len(h.out.msgs)
	h.say(t, 10, 21, "not mine")
	if len(h.out.msgs) != before {
		t.Fatal("plain text from another sender produced a reply")
	}

	if reply := h.say(t, 10, 20, "water the plants"); !strings.Contains(reply, "One-time reminder set") {
		t.Fatalf("completion = %q", reply)
	}
	rs, _ := h.store.List(context.Background(), "10", "20")
	if len(rs) != 1 || rs[0].Message != "water the plants" {
		t.Fatalf("stored = %+v", rs)
	}

	// The session is consumed.
	before = len(h.out.msgs)
	h.say(t, 10, 20, "chatter")
	if len(h.out.msgs) != before {
		t.Fatal("session was not consumed")
	}

	h.say(t, 10, 20, "/remind 1h")
	if reply := h.say(t, 10, 20, "/cancel"); reply != "Cancelled." {
		t.Fatalf("cancel = %q", reply)
	}
	if reply := h.say(t, 10, 20, "/cancel"); reply != "Nothing to cancel." {
		t.Fatalf("second cancel = %q", reply)
	}
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	if reply := h.say(t, 10, 20, "/list"); reply != "No active reminders in this chat." {
		t.Fatalf("empty list = %q", reply)
	}
	h.say(t, 10, 20, "/remind 1d later")
	h.say(t, 10, 20, "/remind 1h sooner")
	h.say(t, 10, 99, "/remind 5m someone else")

	reply := h.say(t, 10, 20, "/list")
	if strings.Contains(reply, "someone else") {
		t.Fatalf("list leaked another sender: %q", reply)
	}
	i, j := strings.Index(reply, "sooner"), strings.Index(reply, "later")
	if i < 0 || j < 0 || i > j {
		t.Fatalf("list not ordered by time: %q", reply)
	}
	if !strings.Contains(reply, "1 hour from now") {
		t.Fatalf("list missing relative time: %q", reply)
	}

	if reply := h.say(t, 10, 20, "/delete 3"); !strings.Contains(reply, "not found") {
		t.Fatalf("foreign delete = %q", reply)
	}
	if reply := h.say(t, 10, 20, "/delete #1"); !strings.Contains(reply, "deleted successfully") {
		t.Fatalf("delete = %q", reply)
	}
	if reply := h.say(t, 10, 20, "/delete"); !strings.HasPrefix(reply, "Usage") {
		t.Fatalf("usage = %q", reply)
	}
	rs, _ := h.store.List(context.Background(), "10", "20")
	if len(rs) != 1 || rs[0].Message != "sooner" {
		t.Fatalf("remaining = %+v", rs)
	}
}

func TestCronAndHelp(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	reply := h.say(t, 1, 1, "/cron */15 * * * *")
	if !strings.Contains(reply, "every 15 minutes") || !strings.Contains(reply, "10:15 AM") {
		t.Fatalf("cron = %q", reply)
	}
	if reply := h.say(t, 1, 1, "/cron 0 8 * *"); !strings.HasPrefix(reply, "❌") {
		t.Fatalf("bad cron = %q", reply)
	}
	if reply := h.say(t, 1, 1, "/help@remind_bot"); !strings.Contains(reply, "/delete <id>") {
		t.Fatalf("help = %q", reply)
	}
	if reply := h.say(t, 1, 1, "/nope"); reply != "unknown command. try /help" {
		t.Fatalf("unknown = %q", reply)
	}
	if n := len(h.m.MenuCommands()); n != 6 {
		t.Fatalf("menu commands = %d", n)
	}
}
