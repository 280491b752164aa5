package transport

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"remindbot/pkg/logx"
)

var ErrBadChat = errors.New("chat id is not numeric")

type DelivererConfig struct {
	SendTimeout time.Duration
	RatePerSec  float64
	Burst       int
}

// Deliverer adapts an Adapter to the string-addressed Deliver call used by
// the dispatcher and the log chat sink. Sends are rate limited and each one
// gets its own timeout.
type Deliverer struct {
	a   Adapter
	log logx.Logger

	mu      sync.Mutex
	timeout time.Duration
	limiter *rate.Limiter
}

func NewDeliverer(a Adapter, cfg DelivererConfig, log logx.Logger) *Deliverer {
	d := &Deliverer{a: a, log: log}
	d.Apply(cfg)
	return d
}

// Apply updates timeout and rate limits in place.
func (d *Deliverer) Apply(cfg DelivererConfig) {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 20
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(rps)
	}
	if burst < 1 {
		burst = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeout = timeout
	if d.limiter == nil {
		d.limiter = rate.NewLimiter(rate.Limit(rps), burst)
		return
	}
	d.limiter.SetLimit(rate.Limit(rps))
	d.limiter.SetBurst(burst)
}

// Deliver sends text to chat. chat is a decimal chat id.
func (d *Deliverer) Deliver(ctx context.Context, chat, text string) error {
	id, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrBadChat, chat)
	}

	d.mu.Lock()
	timeout := d.timeout
	lim := d.limiter
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := lim.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if _, err := d.a.SendText(ctx, ChatTarget{ChatID: id}, text, &SendOptions{DisablePreview: true}); err != nil {
		d.log.Debug("send failed", logx.Int64("chat", id), logx.Err(err))
		return err
	}
	return nil
}
