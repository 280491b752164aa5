package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"remindbot/pkg/logx"
)

// Notifier reports lifecycle state to the service manager.
type Notifier interface {
	Ready() error
	Stopping() error
	Watchdog() error
	// WatchdogInterval is zero when no watchdog is configured.
	WatchdogInterval() time.Duration
}

// systemdNotifier talks sd_notify over $NOTIFY_SOCKET. Outside systemd every
// call is a no-op.
type systemdNotifier struct{}

func (systemdNotifier) Ready() error    { return notify(daemon.SdNotifyReady) }
func (systemdNotifier) Stopping() error { return notify(daemon.SdNotifyStopping) }
func (systemdNotifier) Watchdog() error { return notify(daemon.SdNotifyWatchdog) }

func (systemdNotifier) WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0
	}
	return d
}

func notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

// watchdogLoop pings at half the watchdog interval while the dispatcher is
// healthy. A stuck dispatcher stops the pings and systemd restarts the unit.
func (a *App) watchdogLoop(ctx context.Context) {
	every := a.notify.WatchdogInterval() / 2
	if every <= 0 {
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("ping_every", every))
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			// The first tick may not have completed yet.
			if !a.disp.LastTick().IsZero() && !a.disp.Healthy(now) {
				a.log.Warn("dispatcher stale; withholding watchdog ping", logx.Time("last_tick", a.disp.LastTick()))
				continue
			}
			if err := a.notify.Watchdog(); err != nil {
				a.log.Debug("sd_notify watchdog failed", logx.Err(err))
			}
		}
	}
}
