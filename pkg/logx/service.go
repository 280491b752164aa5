package logx

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type Config struct {
	Level   string
	Console bool
	File    FileConfig
	Chat    ChatConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// ChatConfig forwards log lines at or above MinLevel to ChatID.
type ChatConfig struct {
	Enabled    bool
	ChatID     string
	MinLevel   string
	RatePerSec float64
	Burst      int
}

// ChatSender delivers a text to a chat. The transport deliverer satisfies it.
type ChatSender interface {
	Deliver(ctx context.Context, chat, text string) error
}

type Option func(*Service)

// WithConsoleOutput redirects the console sink (default stdout).
func WithConsoleOutput(w io.Writer) Option {
	return func(s *Service) {
		if w != nil {
			s.console = w
		}
	}
}

// WithChatSender sets the sender used by the chat sink.
func WithChatSender(cs ChatSender) Option {
	return func(s *Service) { s.sender = cs }
}

const (
	chatQueueSize   = 128
	chatSendTimeout = 10 * time.Second
	chatMaxLen      = 3500
)

// Service owns the sinks and swaps them atomically on Apply.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger

	console io.Writer
	file    *os.File

	chatQ      chan chatLine
	chatOnce   sync.Once
	chatCancel context.CancelFunc
	chatWG     sync.WaitGroup

	// guarded by mu
	sender   ChatSender
	chatID   string
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

type chatLine struct {
	chat string
	text string
}

// New creates the service, applies cfg and returns a live root Logger.
func New(cfg Config, opts ...Option) (*Service, Logger) {
	setGlobals()

	s := &Service{
		console: Stdout(),
		chatQ:   make(chan chatLine, chatQueueSize),
	}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	s.root.Store(zerolog.New(newConsoleWriter(s.console)).Level(ParseLevel(cfg.Level, LevelInfo)).With().Timestamp().Logger())
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

// SetChatSender wires the chat sink once the transport exists.
func (s *Service) SetChatSender(cs ChatSender) {
	s.mu.Lock()
	s.sender = cs
	s.mu.Unlock()
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.chatCancel
	s.chatCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.chatWG.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps sinks and levels. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.chatID = strings.TrimSpace(cfg.Chat.ChatID)
	s.minLevel = ParseLevel(cfg.Chat.MinLevel, LevelWarn)
	rps := cfg.Chat.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	burst := cfg.Chat.Burst
	if burst <= 0 {
		burst = 3
	}
	s.limiter = rate.NewLimiter(rate.Limit(rps), burst)

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(s.console))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./remindbot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(Stderr(), "logx: open log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Chat.Enabled {
		s.chatOnce.Do(s.startChatWorker)
		writers = append(writers, &chatWriter{svc: s})
		if s.chatID == "" {
			fmt.Fprintln(Stderr(), "logx: chat sink enabled without a chat id; lines will be dropped")
		}
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(s.console))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(cfg.Level, LevelInfo)).
		With().Timestamp().Logger()
	s.root.Store(zl)
}

func (s *Service) startChatWorker() {
	ctx, cancel := context.WithCancel(context.Background())
	s.chatCancel = cancel
	s.chatWG.Add(1)
	go func() {
		defer s.chatWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ln := <-s.chatQ:
				s.mu.Lock()
				sender := s.sender
				s.mu.Unlock()
				if sender == nil {
					continue
				}
				sctx, scancel := context.WithTimeout(ctx, chatSendTimeout)
				_ = sender.Deliver(sctx, ln.chat, ln.text)
				scancel()
			}
		}
	}()
}
