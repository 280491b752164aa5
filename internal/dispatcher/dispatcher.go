// Package dispatcher fires due reminders.
//
// Each tick loads every stored reminder, delivers the due ones and then
// either deletes them (one-time) or advances them to their next trigger
// (recurring). A failed delivery leaves the record untouched so the next
// tick retries it.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"remindbot/internal/cronexpr"
	"remindbot/internal/reminder"
	"remindbot/pkg/logx"
)

const DefaultInterval = 10 * time.Second

// Store is the subset of the reminder store the dispatcher uses.
type Store interface {
	LoadAll(ctx context.Context) ([]reminder.Reminder, error)
	Advance(ctx context.Context, r reminder.Reminder) (bool, error)
	Delete(ctx context.Context, id, chat, sender string) (bool, error)
}

// Deliverer sends text to a chat. A nil error means delivered.
type Deliverer interface {
	Deliver(ctx context.Context, chat, text string) error
}

type Config struct {
	Interval    time.Duration
	Concurrency int
	Location    *time.Location
}

func (c Config) normalized() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}

// TickReport summarizes one tick.
type TickReport struct {
	ID          string
	Loaded      int
	Due         int
	Fired       int
	Failed      int
	Skipped     int
	StoreErrors int
	Took        time.Duration
}

type Dispatcher struct {
	store Store
	out   Deliverer
	log   logx.Logger
	now   func() time.Time
	m     *metrics

	cfg    atomic.Pointer[Config]
	reload chan struct{}

	tickMu   sync.Mutex
	lastTick atomic.Int64 // unix nanos
}

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithRegisterer registers the dispatcher metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(d *Dispatcher) { d.m = newMetrics(reg) }
}

func New(store Store, out Deliverer, cfg Config, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		out:    out,
		now:    time.Now,
		reload: make(chan struct{}, 1),
	}
	c := cfg.normalized()
	d.cfg.Store(&c)
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.m == nil {
		d.m = newMetrics(nil)
	}
	return d
}

func (d *Dispatcher) Config() Config { return *d.cfg.Load() }

// Apply swaps the config; a running Run loop picks up interval and timezone
// changes.
func (d *Dispatcher) Apply(cfg Config) {
	c := cfg.normalized()
	old := d.cfg.Swap(&c)
	if old.Interval != c.Interval || old.Location.String() != c.Location.String() {
		select {
		case d.reload <- struct{}{}:
		default:
		}
	}
}

// LastTick is the completion time of the most recent tick (zero before the
// first one).
func (d *Dispatcher) LastTick() time.Time {
	ns := d.lastTick.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Healthy reports whether a tick completed within three intervals of now.
func (d *Dispatcher) Healthy(now time.Time) bool {
	last := d.LastTick()
	if last.IsZero() {
		return false
	}
	return now.Sub(last) <= 3*d.Config().Interval
}

func (d *Dispatcher) clock() time.Time {
	return d.now().In(d.Config().Location)
}

// Tick runs one reconciliation pass. It returns an error only when the store
// could not be read; per-reminder failures are counted in the report.
func (d *Dispatcher) Tick(ctx context.Context) (TickReport, error) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	start := time.Now()
	rep := TickReport{ID: uuid.NewString()}
	log := d.log.With(logx.String("tick", rep.ID))

	all, err := d.store.LoadAll(ctx)
	if err != nil {
		d.m.storeErrs.Inc()
		rep.StoreErrors++
		return rep, err
	}
	rep.Loaded = len(all)

	now := d.clock()
	due := make([]reminder.Reminder, 0, len(all))
	for _, r := range all {
		if r.Due(now) {
			due = append(due, r)
		}
	}
	rep.Due = len(due)
	d.m.due.Set(float64(len(due)))

	results := make([]outcome, len(due))
	if conc := d.Config().Concurrency; conc > 1 && len(due) > 1 {
		var g errgroup.Group
		g.SetLimit(conc)
		for i := range due {
			g.Go(func() error {
				results[i] = d.fire(ctx, log, due[i], now)
				return nil
			})
		}
		g.Wait()
	} else {
		for i := range due {
			results[i] = d.fire(ctx, log, due[i], now)
		}
	}

	for _, o := range results {
		switch {
		case o.skipped:
			rep.Skipped++
		case o.delivered:
			rep.Fired++
		default:
			rep.Failed++
		}
		if o.storeErr {
			rep.StoreErrors++
		}
	}

	rep.Took = time.Since(start)
	done := time.Now()
	d.lastTick.Store(done.UnixNano())
	d.m.ticks.Inc()
	d.m.tickTime.Observe(rep.Took.Seconds())
	d.m.lastTickTS.Set(float64(done.Unix()))

	if rep.Due > 0 {
		log.Info("tick done",
			logx.Int("loaded", rep.Loaded),
			logx.Int("due", rep.Due),
			logx.Int("fired", rep.Fired),
			logx.Int("failed", rep.Failed),
			logx.Int("skipped", rep.Skipped),
			logx.Duration("took", rep.Took),
		)
	}
	return rep, nil
}

type outcome struct {
	delivered bool
	skipped   bool
	storeErr  bool
}

func (d *Dispatcher) fire(ctx context.Context, log logx.Logger, r reminder.Reminder, now time.Time) outcome {
	log = log.With(logx.String("id", r.ID), logx.String("chat", r.Chat))

	var next time.Time
	if r.Recurring() {
		e, err := cronexpr.Parse(r.CronExpression)
		if err != nil {
			d.m.skipped.Inc()
			log.Warn("skip reminder with invalid schedule", logx.String("cron", r.CronExpression), logx.Err(err))
			return outcome{skipped: true}
		}
		next = e.Next(now)
	}

	if err := d.out.Deliver(ctx, r.Chat, reminder.FiredText(r.Message)); err != nil {
		d.m.failures.Inc()
		log.Warn("delivery failed, will retry", logx.Err(err))
		return outcome{}
	}

	res := outcome{delivered: true}
	if r.Recurring() {
		d.m.fired.WithLabelValues("recurring").Inc()
		r.Time = next
		r.LastTriggered = now
		ok, err := d.store.Advance(ctx, r)
		if err != nil {
			d.m.storeErrs.Inc()
			res.storeErr = true
			log.Error("advance recurring reminder failed", logx.Err(err))
			return res
		}
		if !ok {
			log.Info("recurring reminder deleted during delivery; not advanced")
			return res
		}
		log.Debug("recurring reminder advanced", logx.Time("next", next))
		return res
	}

	d.m.fired.WithLabelValues("once").Inc()
	if _, err := d.store.Delete(ctx, r.ID, r.Chat, r.Sender); err != nil {
		d.m.storeErrs.Inc()
		res.storeErr = true
		log.Error("delete fired reminder failed", logx.Err(err))
	}
	return res
}

// safeTick runs Tick and logs its error; used by the Run loop.
func (d *Dispatcher) safeTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := d.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Error("tick failed", logx.Err(err))
	}
}
