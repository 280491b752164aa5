// Package app wires config, storage, transport, dispatcher and commands into
// one process and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"remindbot/internal/commands"
	"remindbot/internal/config"
	"remindbot/internal/dispatcher"
	"remindbot/internal/ops"
	"remindbot/internal/reminder"
	"remindbot/internal/runtime/supervisor"
	"remindbot/internal/storage"
	"remindbot/internal/transport"
	"remindbot/internal/transport/telegram"
	"remindbot/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSignal     StopReason = "signal"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	reg  *prometheus.Registry

	store   storage.Store
	adapter transport.Adapter
	deliver *transport.Deliverer
	disp    *dispatcher.Dispatcher
	cmds    *commands.Manager
	ops     *ops.Server
	notify  Notifier

	loc     atomic.Pointer[time.Location]
	sweepCh chan time.Duration
	inbox   chan transport.Message
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
	notify  Notifier
}

// WithAdapter replaces the Telegram adapter (tests, other platforms).
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithNotifier replaces the systemd notifier.
func WithNotifier(n Notifier) Option { return func(o *options) { o.notify = n } }

// New loads the config at cfgPath and builds every component. Nothing runs
// until Start.
func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfg, rt, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		reg:     prometheus.NewRegistry(),
		sweepCh: make(chan time.Duration, 1),
		inbox:   make(chan transport.Message, 256),
		notify:  o.notify,
	}
	if a.notify == nil {
		a.notify = systemdNotifier{}
	}
	a.loc.Store(rt.Location)
	a.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var root logx.Logger
	a.logs, root = logx.New(logConfig(cfg))
	a.log = root.With(logx.String("comp", "app"))
	cfgm.Apply(config.WithLogger(root.With(logx.String("comp", "config"))))

	a.adapter = o.adapter
	if a.adapter == nil {
		ad, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: rt.PollTimeout,
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			a.logs.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = ad
	}
	a.deliver = transport.NewDeliverer(a.adapter, delivererConfig(rt), root.With(logx.String("comp", "deliver")))
	a.logs.SetChatSender(a.deliver)

	st, err := storage.Open(storageConfig(rt), root.With(logx.String("comp", "storage")))
	if err != nil {
		a.logs.Close()
		return nil, fmt.Errorf("storage: %w", err)
	}
	if a.store, err = storage.Instrument(st, a.reg); err != nil {
		_ = st.Close()
		a.logs.Close()
		return nil, err
	}
	a.log.Info("storage opened", logx.String("driver", strings.TrimSpace(cfg.Storage.Driver)))

	clock := func() time.Time { return time.Now().In(a.loc.Load()) }
	svc := reminder.NewService(a.store,
		reminder.WithClock(clock),
		reminder.WithLogger(root.With(logx.String("comp", "reminder"))),
	)

	a.disp = dispatcher.New(a.store, a.deliver, dispatcherConfig(rt),
		dispatcher.WithLogger(root.With(logx.String("comp", "dispatcher"))),
		dispatcher.WithRegisterer(a.reg),
	)

	a.cmds = commands.New(a.adapter, svc, a.store,
		commands.Config{Timeout: rt.CommandTimeout, Location: rt.Location},
		commands.WithClock(clock),
		commands.WithLogger(root.With(logx.String("comp", "commands"))),
		commands.WithSessions(rt.SessionTTL, rt.SessionMax),
	)

	a.ops = ops.New(opsConfig(rt), ops.Deps{
		Gatherer: a.reg,
		Healthy:  a.disp.Healthy,
		LastTick: a.disp.LastTick,
		Stats:    a.stats,
	}, root.With(logx.String("comp", "ops")))

	return a, nil
}

// Registry exposes the metrics registry.
func (a *App) Registry() *prometheus.Registry { return a.reg }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) stats() []supervisor.TaskStats {
	if a.sup == nil {
		return nil
	}
	return a.sup.Stats()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.Apply(config.WithValidator(a.validate))

	if err := a.adapter.Start(a.sup.Context(), a.inbox); err != nil {
		return fmt.Errorf("adapter start: %w", err)
	}
	if mu, ok := a.adapter.(transport.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.cmds.MenuCommands()); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	a.sup.Go("dispatcher", a.disp.Run)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmds.DispatchLoop(c, a.inbox)
	})
	a.sup.Go0("sessions.sweep", a.sweepLoop)
	if rt, err := config.Resolve(a.cfgm.Get()); err == nil {
		a.sweepCh <- rt.SweepInterval
		if err := a.ops.Reconfigure(a.sup.Context(), opsConfig(rt)); err != nil {
			a.log.Error("ops server not started", logx.Err(err))
		}
	}
	a.sup.GoRestart("config.watch", a.cfgm.Watch,
		supervisor.WithRestartBackoff(time.Second, 30*time.Second),
		supervisor.WithStopOnCleanExit(true),
	)
	a.sup.Go0("config.reload", a.reloadLoop)
	a.sup.Go0("systemd.watchdog", a.watchdogLoop)

	if err := a.notify.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	a.log.Info("app started")
	return nil
}

// validate runs on hot reload after config.Resolve accepted the file. A new
// bot token would split the running adapter from the committed config.
func (a *App) validate(_ context.Context, cfg *config.Config) error {
	cur := a.cfgm.Get()
	if cur != nil && strings.TrimSpace(cur.Telegram.Token) != strings.TrimSpace(cfg.Telegram.Token) {
		return errors.New("telegram.token cannot change while running; restart instead")
	}
	return nil
}

func (a *App) sweepLoop(ctx context.Context) {
	every := time.Minute
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-a.sweepCh:
			if d > 0 && d != every {
				every = d
				t.Reset(every)
			}
		case <-t.C:
			if n := a.cmds.SweepSessions(); n > 0 {
				a.log.Debug("pending sessions expired", logx.Int("count", n))
			}
		}
	}
}

func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					break drain
				}
			}
			a.apply(ctx, last, cfg)
			last = cfg
		}
	}
}

func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	rt, err := config.Resolve(cfg)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	ch := config.Diff(prev, cfg)
	if len(ch.Sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.RestartRequired) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.Strings("keys", ch.RestartRequired))
	}

	if ch.Has("logging") {
		a.logs.Apply(logConfig(cfg))
	}
	if ch.Has("telegram") {
		a.deliver.Apply(delivererConfig(rt))
	}
	if ch.Has("dispatcher") || ch.Has("telegram") {
		a.loc.Store(rt.Location)
		a.disp.Apply(dispatcherConfig(rt))
		a.cmds.Apply(commands.Config{Timeout: rt.CommandTimeout, Location: rt.Location})
	}
	if ch.Has("sessions") {
		a.cmds.ApplySessions(rt.SessionTTL, rt.SessionMax)
		select {
		case a.sweepCh <- rt.SweepInterval:
		default:
		}
	}
	if ch.Has("ops") {
		if err := a.ops.Reconfigure(ctx, opsConfig(rt)); err != nil {
			a.log.Error("ops server reconfigure failed", logx.Err(err))
		}
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order; each step is bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if err := a.notify.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}
	a.sup.Cancel()

	a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	a.step(ctx, "ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	a.step(ctx, "supervisor", 3*time.Second, a.sup.Wait)
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

// step runs fn with at most max of the caller's remaining time. A step that
// overruns is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (no time left)", logx.String("name", name))
		return
	}
	sctx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(sctx)
	}()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-sctx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}

func logConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	chat := ""
	if lc.Chat.ChatID != 0 {
		chat = strconv.FormatInt(lc.Chat.ChatID, 10)
	}
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Chat: logx.ChatConfig{
			Enabled:    lc.Chat.Enabled,
			ChatID:     chat,
			MinLevel:   lc.Chat.MinLevel,
			RatePerSec: lc.Chat.RatePerSec,
			Burst:      lc.Chat.Burst,
		},
	}
}

func delivererConfig(rt *config.Runtime) transport.DelivererConfig {
	return transport.DelivererConfig{
		SendTimeout: rt.SendTimeout,
		RatePerSec:  rt.Raw.Telegram.RatePerSec,
		Burst:       rt.Raw.Telegram.Burst,
	}
}

func dispatcherConfig(rt *config.Runtime) dispatcher.Config {
	return dispatcher.Config{Interval: rt.Interval, Concurrency: rt.Concurrency, Location: rt.Location}
}

func storageConfig(rt *config.Runtime) storage.Config {
	s := rt.Raw.Storage
	return storage.Config{
		Driver:       s.Driver,
		Path:         s.Path,
		DSN:          s.DSN,
		BusyTimeout:  rt.BusyTimeout,
		MaxOpenConns: s.MaxOpenConns,
	}
}

func opsConfig(rt *config.Runtime) ops.Config {
	o := rt.Raw.Ops
	return ops.Config{
		Enabled:       o.Enabled,
		Addr:          config.OpsAddr(o),
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   rt.OpsRead,
		WriteTimeout:  rt.OpsWrite,
		IdleTimeout:   rt.OpsIdle,
	}
}
