package dispatcher

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"remindbot/pkg/logx"
)

// Run ticks once immediately, then every interval until ctx is done. A slow
// tick makes the trigger skip rather than queue.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.safeTick(ctx)

	for {
		cfg := d.Config()
		c := cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cronLogger{log: d.log}),
			cron.WithChain(cron.Recover(cronLogger{log: d.log}), cron.SkipIfStillRunning(cronLogger{log: d.log})),
		)
		if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.Interval), func() { d.safeTick(ctx) }); err != nil {
			return fmt.Errorf("schedule dispatcher tick: %w", err)
		}
		c.Start()
		d.log.Info("dispatcher running", logx.Duration("interval", cfg.Interval), logx.String("tz", cfg.Location.String()))

		select {
		case <-ctx.Done():
			<-c.Stop().Done()
			d.log.Info("dispatcher stopped")
			return nil
		case <-d.reload:
			<-c.Stop().Done()
			d.log.Info("dispatcher reloading")
		}
	}
}

// cronLogger routes robfig/cron's logr-style calls to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Trace("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
