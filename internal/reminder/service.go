package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"remindbot/internal/cronexpr"
	"remindbot/pkg/logx"
)

var (
	ErrInvalidCron  = errors.New("invalid cron expression")
	ErrEmptyMessage = errors.New("empty reminder message")
	ErrNotInFuture  = errors.New("reminder time is not in the future")
	ErrMissingOwner = errors.New("reminder needs a chat and a sender")
)

// Writer is the part of the store the creation path needs.
type Writer interface {
	NextID(ctx context.Context) (string, error)
	Put(ctx context.Context, r Reminder) error
}

type Service struct {
	store Writer
	now   func() time.Time
	log   logx.Logger
}

type Option func(*Service)

// WithClock overrides time.Now; the returned time's location is the one
// recurring schedules are evaluated in.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(store Writer, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateOnce stores a one-time reminder firing at at.
func (s *Service) CreateOnce(ctx context.Context, chat, sender, message string, at time.Time) (Reminder, error) {
	now := s.now()
	r, err := s.base(chat, sender, message, now)
	if err != nil {
		return Reminder{}, err
	}
	if !at.After(now) {
		return Reminder{}, ErrNotInFuture
	}
	r.Time = at
	return s.save(ctx, r)
}

// CreateRecurring stores a reminder driven by expr; its first Time is the
// next trigger after now.
func (s *Service) CreateRecurring(ctx context.Context, chat, sender, message, expr string) (Reminder, error) {
	now := s.now()
	r, err := s.base(chat, sender, message, now)
	if err != nil {
		return Reminder{}, err
	}
	e, err := cronexpr.Parse(expr)
	if err != nil {
		return Reminder{}, fmt.Errorf("%w: %w", ErrInvalidCron, err)
	}
	r.CronExpression = e.String()
	r.Time = e.Next(now)
	return s.save(ctx, r)
}

func (s *Service) base(chat, sender, message string, now time.Time) (Reminder, error) {
	if strings.TrimSpace(chat) == "" || strings.TrimSpace(sender) == "" {
		return Reminder{}, ErrMissingOwner
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return Reminder{}, ErrEmptyMessage
	}
	return Reminder{Chat: chat, Sender: sender, Message: message, Created: now}, nil
}

func (s *Service) save(ctx context.Context, r Reminder) (Reminder, error) {
	id, err := s.store.NextID(ctx)
	if err != nil {
		return Reminder{}, fmt.Errorf("allocate id: %w", err)
	}
	r.ID = id
	if err := s.store.Put(ctx, r); err != nil {
		return Reminder{}, fmt.Errorf("store reminder %s: %w", id, err)
	}
	s.log.Info("reminder created",
		logx.String("id", r.ID),
		logx.String("chat", r.Chat),
		logx.Bool("recurring", r.Recurring()),
		logx.Time("at", r.Time),
	)
	return r, nil
}
