package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleJSON = `{
  "telegram": {"token": "123:abc", "send_timeout": "5s"},
  "logging": {"level": "debug", "console": true},
  "dispatcher": {"interval": "30s", "timezone": "UTC", "concurrency": 4},
  "storage": {"driver": "sqlite", "path": "./r.db"},
  "sessions": {"ttl": "2m"}
}`

const sampleYAML = `
telegram:
  token: "123:abc"
  send_timeout: 5s
logging:
  level: debug
  console: true
dispatcher:
  interval: 30s
  timezone: UTC
  concurrency: 4
storage:
  driver: sqlite
  path: ./r.db
sessions:
  ttl: 2m
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadJSONAndYAMLAgree(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct{ name, body string }{
		{"config.json", sampleJSON},
		{"config.yaml", sampleYAML},
	} {
		m := NewConfigManager(writeFile(t, tc.name, tc.body))
		cfg, rt, err := m.Load()
		if err != nil {
			t.Fatalf("%s: Load: %v", tc.name, err)
		}
		if cfg.Storage.Driver != "sqlite" || m.Get() != cfg {
			t.Fatalf("%s: cfg = %+v", tc.name, cfg)
		}
		if rt.Interval != 30*time.Second || rt.Concurrency != 4 || rt.Location != time.UTC {
			t.Fatalf("%s: runtime = %+v", tc.name, rt)
		}
		if rt.SendTimeout != 5*time.Second || rt.SessionTTL != 2*time.Minute || rt.SessionMax != 1024 {
			t.Fatalf("%s: defaults = %+v", tc.name, rt)
		}
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"telegram": {"token": "x", "tokn": "y"}}`)); err == nil {
		t.Fatal("unknown JSON field accepted")
	}
	if _, err := Decode("c.yml", []byte("scheduler:\n  enabled: true\n")); err == nil {
		t.Fatal("unknown YAML section accepted")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"token", func(c *Config) { c.Telegram.Token = "" }, "telegram.token"},
		{"interval", func(c *Config) { c.Dispatcher.Interval = "soon" }, "dispatcher.interval"},
		{"short interval", func(c *Config) { c.Dispatcher.Interval = "100ms" }, "at least 1s"},
		{"timezone", func(c *Config) { c.Dispatcher.Timezone = "Mars/Base" }, "dispatcher.timezone"},
		{"driver", func(c *Config) { c.Storage.Driver = "mongo" }, "storage.driver"},
		{"dsn", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.dsn"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"chat", func(c *Config) { c.Logging.Chat.Enabled = true }, "chat_id"},
		{"ops", func(c *Config) { c.Ops = OpsConfig{Enabled: true, Addr: "0.0.0.0:9090"} }, "not loopback"},
	}
	for _, tc := range cases {
		cfg := &Config{Telegram: TelegramConfig{Token: "t"}}
		tc.mut(cfg)
		_, err := Resolve(cfg)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want %q", tc.name, err, tc.want)
		}
	}

	ok := &Config{Telegram: TelegramConfig{Token: "t"}, Ops: OpsConfig{Enabled: true, Addr: ":9090", Token: "s"}}
	rt, err := Resolve(ok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rt.Interval != DefaultInterval || rt.Concurrency != 1 || rt.Location != time.Local {
		t.Fatalf("defaults = %+v", rt)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9090": true,
		"localhost:80":   true,
		"[::1]:9090":     true,
		":9090":          false,
		"0.0.0.0:9090":   false,
		"10.0.0.5:9090":  false,
		"garbage":        false,
	} {
		if got := IsLoopbackAddr(addr); got != want {
			t.Fatalf("IsLoopbackAddr(%q) = %v", addr, got)
		}
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()
	a, _ := Decode("a.json", []byte(sampleJSON))
	b, _ := Decode("b.json", []byte(sampleJSON))
	if ch := Diff(a, b); len(ch.Sections) != 0 {
		t.Fatalf("identical configs differ: %v", ch.Sections)
	}

	b.Dispatcher.Interval = "1m"
	b.Storage.Path = "./other.db"
	b.Telegram.Token = "456:def"
	ch := Diff(a, b)
	if strings.Join(ch.Sections, ",") != "dispatcher,storage,telegram" {
		t.Fatalf("sections = %v", ch.Sections)
	}
	if !ch.Has("dispatcher") || ch.Has("logging") {
		t.Fatal("Has mismatch")
	}
	if strings.Join(ch.RestartRequired, ",") != "telegram.token,storage" {
		t.Fatalf("restart = %v", ch.RestartRequired)
	}
}

func TestReloadPublishesOnlyValidChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", sampleJSON)
	var rejected bool
	m := NewConfigManager(p, WithValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Dispatcher.Concurrency == 99 {
			rejected = true
			return context.Canceled
		}
		return nil
	}))
	if _, _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	ctx := context.Background()

	if changed, err := m.Reload(ctx); changed || err != nil {
		t.Fatalf("unchanged reload = %v, %v", changed, err)
	}

	edit := func(body string) {
		t.Helper()
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	edit(strings.Replace(sampleJSON, `"30s"`, `"bogus"`, 1))
	if changed, err := m.Reload(ctx); changed || err == nil {
		t.Fatalf("invalid reload = %v, %v", changed, err)
	}

	edit(strings.Replace(sampleJSON, `"concurrency": 4`, `"concurrency": 99`, 1))
	if changed, err := m.Reload(ctx); changed || err == nil || !rejected {
		t.Fatalf("rejected reload = %v, %v", changed, err)
	}
	if m.Get().Dispatcher.Concurrency != 4 {
		t.Fatal("rejected config was committed")
	}

	edit(strings.Replace(sampleJSON, `"30s"`, `"45s"`, 1))
	if changed, err := m.Reload(ctx); !changed || err != nil {
		t.Fatalf("valid reload = %v, %v", changed, err)
	}
	select {
	case cfg := <-sub:
		if cfg.Dispatcher.Interval != "45s" {
			t.Fatalf("published interval = %q", cfg.Dispatcher.Interval)
		}
	default:
		t.Fatal("nothing published")
	}

	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel not closed")
	}
}

func TestWatchPicksUpEdits(t *testing.T) {
	t.Parallel()
	p := writeFile(t, "config.json", sampleJSON)
	m := NewConfigManager(p)
	m.debounce = 10 * time.Millisecond
	if _, _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.After(5 * time.Second)
	body := strings.Replace(sampleJSON, `"30s"`, `"20s"`, 1)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher is up and sees it.
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
		select {
		case cfg := <-sub:
			if cfg.Dispatcher.Interval != "20s" {
				t.Fatalf("interval = %q", cfg.Dispatcher.Interval)
			}
			return
		case <-deadline:
			t.Fatal("no reload observed")
		case <-tick.C:
		}
	}
}
