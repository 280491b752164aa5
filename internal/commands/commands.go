// Package commands routes chat messages to the reminder commands.
package commands

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remindbot/internal/reminder"
	"remindbot/internal/session"
	"remindbot/internal/transport"
	"remindbot/pkg/logx"
)

const DefaultTimeout = 15 * time.Second

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Handle      HandlerFunc
}

type Request struct {
	Msg     transport.Message
	Chat    transport.ChatTarget
	ChatKey string // store owner key of the chat
	FromKey string // store owner key of the sender
	Command string
	Args    []string
	// Rest is the raw text after the command word.
	Rest  string
	ReqID string
	Log   logx.Logger
}

// Creator is the reminder creation path.
type Creator interface {
	CreateOnce(ctx context.Context, chat, sender, message string, at time.Time) (reminder.Reminder, error)
	CreateRecurring(ctx context.Context, chat, sender, message, expr string) (reminder.Reminder, error)
}

// Lister is the ownership-scoped part of the store.
type Lister interface {
	List(ctx context.Context, chat, sender string) ([]reminder.Reminder, error)
	Delete(ctx context.Context, id, chat, sender string) (bool, error)
}

// Sender posts replies.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

// pending is a /remind waiting for its message text.
type pending struct {
	After time.Duration
}

type Config struct {
	Timeout  time.Duration
	Location *time.Location
}

type Manager struct {
	out      Sender
	create   Creator
	store    Lister
	sessions *session.Store[pending]
	log      logx.Logger
	now      func() time.Time

	mu   sync.RWMutex
	cfg  Config
	cmds map[string]*Command
	list []*Command

	jobs chan func()
}

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(m *Manager) { m.log = log }
}

func WithSessions(ttl time.Duration, max int) Option {
	return func(m *Manager) { m.sessions.Apply(ttl, max) }
}

func New(out Sender, create Creator, store Lister, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		out:      out,
		create:   create,
		store:    store,
		sessions: session.New[pending](0, 0),
		log:      logx.Nop(),
		now:      time.Now,
		jobs:     make(chan func(), 256),
	}
	for _, o := range opts {
		o(m)
	}
	m.Apply(cfg)
	m.register(m.builtins())
	return m
}

// Apply swaps timeout and display location.
func (m *Manager) Apply(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// ApplySessions updates the pending-session bounds.
func (m *Manager) ApplySessions(ttl time.Duration, max int) { m.sessions.Apply(ttl, max) }

// SweepSessions drops expired pending sessions and reports how many went.
func (m *Manager) SweepSessions() int { return m.sessions.Sweep() }

func (m *Manager) config() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) register(cmds []Command) {
	idx := map[string]*Command{}
	list := make([]*Command, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		if c.Name == "" || c.Handle == nil {
			continue
		}
		list = append(list, c)
		idx[c.Name] = c
		for _, a := range c.Aliases {
			if _, taken := idx[a]; !taken {
				idx[a] = c
			}
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	m.mu.Lock()
	m.cmds = idx
	m.list = list
	m.mu.Unlock()
}

// MenuCommands lists the commands for the platform menu.
func (m *Manager) MenuCommands() []transport.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(m.list))
	for _, c := range m.list {
		out = append(out, transport.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// DispatchLoop routes messages to a bounded worker pool until ctx ends or
// in is closed.
func (m *Manager) DispatchLoop(ctx context.Context, in <-chan transport.Message) error {
	workers := max(runtime.NumCPU(), 2)
	wctx, cancel := context.WithCancel(ctx)
	m.log.Info("command dispatcher started", logx.Int("workers", workers), logx.Int("job_queue_cap", cap(m.jobs)))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("panic in command worker", logx.Int("worker", idx), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
				}
			}()
			for {
				select {
				case <-wctx.Done():
					return
				case job := <-m.jobs:
					job()
				}
			}
		}(i)
	}
	defer func() {
		cancel()
		wg.Wait()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-in:
			if !ok {
				return nil
			}
			m.route(ctx, msg)
		}
	}
}

// Handle routes one message synchronously.
func (m *Manager) Handle(ctx context.Context, msg transport.Message) error {
	h, req := m.prepare(msg)
	if h == nil {
		return nil
	}
	return h(ctx, req)
}

func (m *Manager) route(ctx context.Context, msg transport.Message) {
	h, req := m.prepare(msg)
	if h == nil {
		return
	}
	select {
	case m.jobs <- func() { _ = h(ctx, req) }:
	default:
		_, _ = m.out.SendText(ctx, req.Chat, "busy, try again", nil)
	}
}

func (m *Manager) prepare(msg transport.Message) (HandlerFunc, *Request) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, nil
	}
	req := &Request{
		Msg:     msg,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		ChatKey: strconv.FormatInt(msg.ChatID, 10),
		FromKey: strconv.FormatInt(msg.FromID, 10),
		ReqID:   uuid.NewString(),
	}

	var h HandlerFunc
	if isCommand(text) {
		toks := tokenize(text)
		if len(toks) == 0 {
			return nil, nil
		}
		word := commandWord(toks[0])
		if word == "" {
			return nil, nil
		}
		m.mu.RLock()
		cmd := m.cmds[word]
		m.mu.RUnlock()
		req.Args = toks[1:]
		req.Rest = skipWords(text, 1)
		if cmd == nil {
			req.Command = word
			h = func(ctx context.Context, req *Request) error {
				return m.reply(ctx, req, "unknown command. try /help")
			}
		} else {
			req.Command = cmd.Name
			h = cmd.Handle
		}
	} else {
		if _, ok := m.sessions.Get(session.Key(req.ChatKey, req.FromKey)); !ok {
			return nil, nil
		}
		req.Command = "remind.text"
		req.Rest = text
		h = m.completePending
	}

	req.Log = m.log.With(
		logx.String("rid", req.ReqID),
		logx.Int64("chat_id", msg.ChatID),
		logx.Int64("from_id", msg.FromID),
		logx.String("cmd", req.Command),
	)
	return Chain(h, withRecover(), withRequestLog(), withTimeout(m.config().Timeout)), req
}

func (m *Manager) reply(ctx context.Context, req *Request, text string) error {
	_, err := m.out.SendText(ctx, req.Chat, text, &transport.SendOptions{DisablePreview: true})
	return err
}
