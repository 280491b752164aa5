package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"remindbot/internal/cronexpr"
	"remindbot/internal/reminder"
	"remindbot/internal/session"
)

const (
	remindUsage = "/remind <time> <message>"
	cronUsage   = `/remind cron "<expr>" <message>`
	timeLayout  = "Jan 2 2006, 3:04 PM"
)

func (m *Manager) builtins() []Command {
	return []Command{
		{Name: "remind", Usage: remindUsage + "\n" + cronUsage, Description: "set a one-time or recurring reminder", Handle: m.cmdRemind},
		{Name: "list", Aliases: []string{"ls"}, Usage: "/list", Description: "show your reminders in this chat", Handle: m.cmdList},
		{Name: "delete", Aliases: []string{"del", "rm"}, Usage: "/delete <id>", Description: "delete one of your reminders", Handle: m.cmdDelete},
		{Name: "cron", Usage: "/cron <expr>", Description: "check and explain a schedule", Handle: m.cmdCron},
		{Name: "cancel", Usage: "/cancel", Description: "drop a /remind waiting for its text", Handle: m.cmdCancel},
		{Name: "help", Aliases: []string{"start", "h"}, Usage: "/help", Description: "show help", Handle: m.cmdHelp},
	}
}

func (m *Manager) cmdRemind(ctx context.Context, req *Request) error {
	if len(req.Args) == 0 {
		return m.reply(ctx, req, "Usage:\n"+remindUsage+"\n"+cronUsage+"\n\n"+durationHelp)
	}
	if strings.EqualFold(req.Args[0], "cron") {
		return m.remindCron(ctx, req, skipWords(req.Rest, 1))
	}

	after, err := parseDuration(req.Args[0])
	if err != nil {
		return m.reply(ctx, req, "❌ Invalid time format.\n\n"+durationHelp)
	}
	text := skipWords(req.Rest, 1)
	if text == "" {
		m.sessions.Put(session.Key(req.ChatKey, req.FromKey), pending{After: after})
		return m.reply(ctx, req, "✍️ What should I remind you about? Send the text, or /cancel.")
	}
	return m.remindOnce(ctx, req, after, text)
}

func (m *Manager) completePending(ctx context.Context, req *Request) error {
	p, ok := m.sessions.Take(session.Key(req.ChatKey, req.FromKey))
	if !ok {
		return nil
	}
	return m.remindOnce(ctx, req, p.After, req.Rest)
}

func (m *Manager) remindOnce(ctx context.Context, req *Request, after time.Duration, text string) error {
	cfg := m.config()
	r, err := m.create.CreateOnce(ctx, req.ChatKey, req.FromKey, text, m.now().Add(after))
	if err != nil {
		if errors.Is(err, reminder.ErrEmptyMessage) {
			return m.reply(ctx, req, "❌ The reminder text is empty.")
		}
		_ = m.reply(ctx, req, "❌ Could not save the reminder.")
		return err
	}
	return m.reply(ctx, req, fmt.Sprintf("✅ One-time reminder set [#%s]\nTime: %s\nMessage: %s",
		r.ID, r.Time.In(cfg.Location).Format(timeLayout), r.Message))
}

func (m *Manager) remindCron(ctx context.Context, req *Request, rest string) error {
	expr, text, ok := splitCron(rest)
	if !ok || text == "" {
		return m.reply(ctx, req, "❌ Invalid format. Use:\n"+cronUsage+"\n\nExamples:\n"+
			`/remind cron "*/5 * * * *" check every 5 minutes`+"\n"+
			`/remind cron "0 8 * * *" daily morning reminder`)
	}
	cfg := m.config()
	r, err := m.create.CreateRecurring(ctx, req.ChatKey, req.FromKey, text, expr)
	switch {
	case errors.Is(err, reminder.ErrInvalidCron):
		return m.reply(ctx, req, "❌ Invalid cron expression.\n\n"+cronHelp)
	case errors.Is(err, reminder.ErrEmptyMessage):
		return m.reply(ctx, req, "❌ The reminder text is empty.")
	case err != nil:
		_ = m.reply(ctx, req, "❌ Could not save the reminder.")
		return err
	}
	return m.reply(ctx, req, fmt.Sprintf("✅ Recurring reminder set [#%s]\nMessage: %s\nSchedule: %s\nNext: %s",
		r.ID, r.Message, cronexpr.Describe(r.CronExpression), r.Time.In(cfg.Location).Format(timeLayout)))
}

func (m *Manager) cmdList(ctx context.Context, req *Request) error {
	rs, err := m.store.List(ctx, req.ChatKey, req.FromKey)
	if err != nil {
		_ = m.reply(ctx, req, "❌ Could not load reminders.")
		return err
	}
	if len(rs) == 0 {
		return m.reply(ctx, req, "No active reminders in this chat.")
	}
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].Time.Before(rs[j].Time) })

	cfg := m.config()
	now := m.now()
	var b strings.Builder
	b.WriteString("📝 Reminders in this chat:\n")
	for i, r := range rs {
		fmt.Fprintf(&b, "\n%d. [#%s] %s (%s) - %s", i+1, r.ID,
			r.Time.In(cfg.Location).Format(timeLayout),
			humanize.RelTime(r.Time, now, "ago", "from now"),
			r.Message)
		if r.Recurring() {
			fmt.Fprintf(&b, "\n   🔁 %s", cronexpr.Describe(r.CronExpression))
		}
	}
	return m.reply(ctx, req, b.String())
}

func (m *Manager) cmdDelete(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return m.reply(ctx, req, "Usage: /delete <reminder_id>")
	}
	id := strings.TrimPrefix(req.Args[0], "#")
	ok, err := m.store.Delete(ctx, id, req.ChatKey, req.FromKey)
	if err != nil {
		_ = m.reply(ctx, req, "❌ Could not delete the reminder.")
		return err
	}
	if !ok {
		return m.reply(ctx, req, "❌ Reminder not found or you don't have permission to delete it.")
	}
	return m.reply(ctx, req, "✅ Reminder deleted successfully.")
}

func (m *Manager) cmdCron(ctx context.Context, req *Request) error {
	expr := strings.Trim(strings.TrimSpace(req.Rest), `"`)
	if expr == "" {
		return m.reply(ctx, req, "Usage: /cron <expr>\n\n"+cronHelp)
	}
	e, err := cronexpr.Parse(expr)
	if err != nil {
		return m.reply(ctx, req, "❌ "+err.Error()+"\n\n"+cronHelp)
	}
	cfg := m.config()
	next := e.Next(m.now().In(cfg.Location))
	return m.reply(ctx, req, fmt.Sprintf("✅ %s\nSchedule: %s\nNext: %s",
		e.String(), cronexpr.Describe(expr), next.Format(timeLayout)))
}

func (m *Manager) cmdCancel(ctx context.Context, req *Request) error {
	if m.sessions.Delete(session.Key(req.ChatKey, req.FromKey)) {
		return m.reply(ctx, req, "Cancelled.")
	}
	return m.reply(ctx, req, "Nothing to cancel.")
}

func (m *Manager) cmdHelp(ctx context.Context, req *Request) error {
	m.mu.RLock()
	list := append([]*Command(nil), m.list...)
	m.mu.RUnlock()

	var b strings.Builder
	b.WriteString("🤖 Reminder Bot Commands\n")
	for _, c := range list {
		fmt.Fprintf(&b, "\n%s\n%s\n", c.Usage, c.Description)
	}
	b.WriteString("\n" + durationHelp + "\n\n" + cronHelp)
	return m.reply(ctx, req, b.String())
}

const durationHelp = `Time format examples:
30m = 30 minutes
2h = 2 hours
1d = 1 day
2h30m = 2 hours and 30 minutes
1d12h = 1 day and 12 hours`

const cronHelp = `Cron format: minute hour day month weekday
*/5 * * * * = every 5 minutes
0 8 * * * = every day at 8:00 AM
30 9 * * 1-5 = every Monday to Friday at 9:30 AM`
