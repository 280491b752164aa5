package config

import (
	"sort"
	"strings"

	"remindbot/pkg/logx"
)

// Change summarizes a config reload.
type Change struct {
	// Sections lists the changed top-level sections, sorted.
	Sections []string
	// Fields are safe to log; tokens and DSNs never appear.
	Fields []logx.Field
	// RestartRequired lists sections whose change takes effect only after a
	// restart (storage, telegram token).
	RestartRequired []string
}

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff compares two configs section by section.
func Diff(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var ch Change
	trim := strings.TrimSpace

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if trim(ot.Token) != trim(nt.Token) {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.token")
	}
	if trim(ot.Token) != trim(nt.Token) ||
		trim(ot.PollTimeout) != trim(nt.PollTimeout) ||
		trim(ot.SendTimeout) != trim(nt.SendTimeout) ||
		trim(ot.CommandTimeout) != trim(nt.CommandTimeout) ||
		ot.RatePerSec != nt.RatePerSec || ot.Burst != nt.Burst {
		ch.Sections = append(ch.Sections, "telegram")
		ch.Fields = append(ch.Fields,
			logx.String("telegram.send_timeout", trim(nt.SendTimeout)),
			logx.String("telegram.command_timeout", trim(nt.CommandTimeout)),
			logx.Any("telegram.rate_per_sec", nt.RatePerSec),
		)
	}
	if trim(ot.PollTimeout) != trim(nt.PollTimeout) {
		ch.RestartRequired = append(ch.RestartRequired, "telegram.poll_timeout")
	}

	if oldCfg.Logging != newCfg.Logging {
		ch.Sections = append(ch.Sections, "logging")
		ch.Fields = append(ch.Fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat_enabled", newCfg.Logging.Chat.Enabled),
		)
	}

	od, nd := oldCfg.Dispatcher, newCfg.Dispatcher
	if trim(od.Interval) != trim(nd.Interval) || trim(od.Timezone) != trim(nd.Timezone) || od.Concurrency != nd.Concurrency {
		ch.Sections = append(ch.Sections, "dispatcher")
		ch.Fields = append(ch.Fields,
			logx.String("dispatcher.interval", trim(nd.Interval)),
			logx.String("dispatcher.timezone", trim(nd.Timezone)),
			logx.Int("dispatcher.concurrency", nd.Concurrency),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		ch.Sections = append(ch.Sections, "storage")
		ch.RestartRequired = append(ch.RestartRequired, "storage")
		ch.Fields = append(ch.Fields,
			logx.String("storage.driver", trim(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", trim(newCfg.Storage.Path) != ""),
			logx.Bool("storage.dsn_set", trim(newCfg.Storage.DSN) != ""),
		)
	}

	if oldCfg.Sessions != newCfg.Sessions {
		ch.Sections = append(ch.Sections, "sessions")
		ch.Fields = append(ch.Fields,
			logx.String("sessions.ttl", trim(newCfg.Sessions.TTL)),
			logx.Int("sessions.max_entries", newCfg.Sessions.MaxEntries),
		)
	}

	if oldCfg.Ops != newCfg.Ops {
		ch.Sections = append(ch.Sections, "ops")
		ch.Fields = append(ch.Fields,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", trim(newCfg.Ops.Addr)),
			logx.Bool("ops.token_set", trim(newCfg.Ops.Token) != ""),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
		)
	}

	sort.Strings(ch.Sections)
	return ch
}
