package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"remindbot/pkg/logx"
)

const (
	DefaultInterval    = 10 * time.Second
	DefaultPollTimeout = 10 * time.Second
	DefaultOpsAddr     = "127.0.0.1:9090"
)

// Runtime is Config with durations parsed, defaults applied and the
// timezone loaded.
type Runtime struct {
	Raw *Config

	PollTimeout    time.Duration
	SendTimeout    time.Duration
	CommandTimeout time.Duration

	Interval    time.Duration
	Location    *time.Location
	Concurrency int

	BusyTimeout time.Duration

	SessionTTL    time.Duration
	SessionMax    int
	SweepInterval time.Duration

	OpsRead  time.Duration
	OpsWrite time.Duration
	OpsIdle  time.Duration
}

// Resolve validates cfg and returns its typed form. All problems are
// reported together.
func Resolve(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	rt := &Runtime{Raw: cfg}
	var errs []error
	dur := func(path, raw string, def time.Duration) time.Duration {
		d, err := ParseDurationOrDefault(path, raw, def)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	rt.PollTimeout = dur("telegram.poll_timeout", cfg.Telegram.PollTimeout, DefaultPollTimeout)
	rt.SendTimeout = dur("telegram.send_timeout", cfg.Telegram.SendTimeout, 15*time.Second)
	rt.CommandTimeout = dur("telegram.command_timeout", cfg.Telegram.CommandTimeout, 15*time.Second)
	if cfg.Telegram.RatePerSec < 0 || cfg.Telegram.Burst < 0 {
		errs = append(errs, errors.New("telegram.rate_per_sec and telegram.burst must be >= 0"))
	}

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if c := cfg.Logging.Chat; c.Enabled {
		if c.ChatID == 0 {
			errs = append(errs, errors.New("logging.chat.chat_id is required when enabled"))
		}
		if lvl := strings.TrimSpace(c.MinLevel); lvl != "" && !logx.ValidLevel(lvl) {
			errs = append(errs, fmt.Errorf("logging.chat.min_level: unknown level %q", lvl))
		}
	}

	rt.Interval = dur("dispatcher.interval", cfg.Dispatcher.Interval, DefaultInterval)
	if rt.Interval > 0 && rt.Interval < time.Second {
		errs = append(errs, errors.New("dispatcher.interval must be at least 1s"))
	}
	rt.Location = time.Local
	if tz := strings.TrimSpace(cfg.Dispatcher.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			errs = append(errs, fmt.Errorf("dispatcher.timezone: %w", err))
		} else {
			rt.Location = loc
		}
	}
	rt.Concurrency = cfg.Dispatcher.Concurrency
	if rt.Concurrency < 0 {
		errs = append(errs, errors.New("dispatcher.concurrency must be >= 0"))
	}
	if rt.Concurrency == 0 {
		rt.Concurrency = 1
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	case "postgres", "postgresql":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	rt.BusyTimeout = dur("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)

	rt.SessionTTL = dur("sessions.ttl", cfg.Sessions.TTL, 5*time.Minute)
	rt.SessionMax = cfg.Sessions.MaxEntries
	if rt.SessionMax <= 0 {
		rt.SessionMax = 1024
	}
	rt.SweepInterval = dur("sessions.sweep_interval", cfg.Sessions.SweepInterval, time.Minute)

	rt.OpsRead = dur("ops.read_timeout", cfg.Ops.ReadTimeout, 10*time.Second)
	rt.OpsWrite = dur("ops.write_timeout", cfg.Ops.WriteTimeout, 0)
	rt.OpsIdle = dur("ops.idle_timeout", cfg.Ops.IdleTimeout, 60*time.Second)
	if cfg.Ops.Enabled {
		if err := checkOpsBind(OpsAddr(cfg.Ops), cfg.Ops.Token, cfg.Ops.AllowInsecure); err != nil {
			errs = append(errs, err)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return rt, nil
}

// OpsAddr returns the configured listen address or the loopback default.
func OpsAddr(c OpsConfig) string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultOpsAddr
}

func checkOpsBind(addr, token string, allowInsecure bool) error {
	if strings.TrimSpace(token) != "" || allowInsecure || IsLoopbackAddr(addr) {
		return nil
	}
	return fmt.Errorf("ops.addr %q is not loopback; set ops.token or ops.allow_insecure", addr)
}

// IsLoopbackAddr reports whether a host:port binds only to loopback. An empty
// host (":9090") listens on all interfaces and is not loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
