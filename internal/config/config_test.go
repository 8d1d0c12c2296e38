package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"momentbot/internal/region"
)

const sampleYAML = `
telegram:
  token: "123:abc"
poller:
  interval: 750ms
  regions: [EU, us]
channels:
  EU: "@BeRealEurope"
  US: "-1001234"
message:
  parse_mode: HTML
storage:
  driver: sqlite
  path: ./moments.db
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("momentbot.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	p, err := cfg.ResolvePoller()
	if err != nil {
		t.Fatalf("ResolvePoller: %v", err)
	}
	if p.Interval != 750*time.Millisecond {
		t.Fatalf("interval=%s", p.Interval)
	}
	if len(p.Regions) != 2 || p.Regions[0] != region.EU || p.Regions[1] != region.US {
		t.Fatalf("regions=%v", p.Regions)
	}
	if p.Channels.Get(region.US) != "-1001234" || p.Channels.Get(region.AE) != "" {
		t.Fatalf("channels=%v", p.Channels.Map())
	}
	if p.BaseURL != DefaultBaseURL || p.RequestTimeout != DefaultRequestTimeout || p.StatsInterval != DefaultStatsInterval {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if cfg.MessageText() != DefaultMessageText {
		t.Fatalf("message=%q", cfg.MessageText())
	}
	st, err := cfg.ResolveStorage()
	if err != nil || st.Driver != "sqlite" {
		t.Fatalf("storage=%+v err=%v", st, err)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	if _, err := Decode("c.json", []byte(`{"telegram":{"token":"x"},"pollingInterval":500}`)); err == nil {
		t.Fatalf("unknown key accepted")
	}
	if _, err := Decode("c.json", []byte(`{"telegram":{"token":"x"}}{}`)); err == nil {
		t.Fatalf("trailing document accepted")
	}
	if _, err := Decode("c.yaml", []byte("channels:\n  XX: \"@a\"\n")); err == nil {
		t.Fatalf("unknown region accepted")
	}
}

func TestResolvePoller(t *testing.T) {
	t.Parallel()

	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Channels: map[region.Region]string{region.EU: "@eu", region.AW: "@aw"},
		}
	}

	t.Run("defaults poll configured channels", func(t *testing.T) {
		t.Parallel()
		p, err := base().ResolvePoller()
		if err != nil {
			t.Fatalf("err=%v", err)
		}
		if len(p.Regions) != 2 || p.Regions[0] != region.EU || p.Regions[1] != region.AW {
			t.Fatalf("regions=%v", p.Regions)
		}
		if p.Interval != DefaultInterval || p.DispatchQueue != DefaultDispatchQueue {
			t.Fatalf("p=%+v", p)
		}
		if !p.Polled(region.AW) || p.Polled(region.US) {
			t.Fatalf("Polled wrong")
		}
	})

	t.Run("legacy interval_ms", func(t *testing.T) {
		t.Parallel()
		c := base()
		c.Poller.IntervalMs = 1500
		p, err := c.ResolvePoller()
		if err != nil || p.Interval != 1500*time.Millisecond {
			t.Fatalf("interval=%s err=%v", p.Interval, err)
		}
	})

	t.Run("path override", func(t *testing.T) {
		t.Parallel()
		c := base()
		c.Poller.Paths = map[region.Region]string{region.EU: "/v2/eu/"}
		p, err := c.ResolvePoller()
		if err != nil || p.Paths.Get(region.EU) != "v2/eu" || p.Paths.Get(region.US) != region.Paths().Get(region.US) {
			t.Fatalf("paths=%v err=%v", p.Paths.Map(), err)
		}
	})

	bad := []struct {
		name string
		mut  func(c *Config)
	}{
		{"zero interval", func(c *Config) { c.Poller.Interval = "0s" }},
		{"bad interval", func(c *Config) { c.Poller.Interval = "fast" }},
		{"negative interval_ms", func(c *Config) { c.Poller.IntervalMs = -1 }},
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"polled without channel", func(c *Config) { c.Poller.Regions = []region.Region{region.US} }},
		{"duplicate region", func(c *Config) { c.Poller.Regions = []region.Region{region.EU, region.EU} }},
		{"bad base url", func(c *Config) { c.Poller.BaseURL = "mobile.bereal.com" }},
		{"stats too fast", func(c *Config) { c.Poller.StatsInterval = "10ms" }},
	}
	for _, tc := range bad {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tc.mut(c)
			if _, err := c.ResolvePoller(); !errors.Is(err, ErrInvalid) {
				t.Fatalf("err=%v want ErrInvalid", err)
			}
		})
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()

	c := &Config{
		Storage: &StorageConfig{Driver: "redis"},
		Logging: LoggingConfig{Telegram: LoggingTelegram{Enabled: true}},
	}
	err := Validate(c)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v", err)
	}
	for _, want := range []string{"telegram.token", "storage.driver", "group_log", "no region"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()

	a, err := Decode("a.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := Decode("b.yaml", []byte(sampleYAML))
	if ch := SummarizeConfigChange(a, b); !ch.Empty() {
		t.Fatalf("identical configs differ: %v", ch.Sections)
	}

	b.Logging.Level = "debug"
	b.Poller.Interval = "1s"
	ch := SummarizeConfigChange(a, b)
	if !ch.Has("logging") || !ch.Has("poller") || ch.Has("telegram") {
		t.Fatalf("sections=%v", ch.Sections)
	}
	if len(ch.RestartRequired) != 1 || ch.RestartRequired[0] != "poller" {
		t.Fatalf("restart=%v", ch.RestartRequired)
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "momentbot.yaml", sampleYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(_ context.Context, c *Config) error { return Validate(c) })
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// invalid first: must be rejected
	if err := os.WriteFile(path, []byte(strings.Replace(sampleYAML, `"123:abc"`, `""`, 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(600 * time.Millisecond)
	select {
	case c := <-sub:
		t.Fatalf("invalid config published: %+v", c.Telegram)
	default:
	}

	if err := os.WriteFile(path, []byte(strings.Replace(sampleYAML, "750ms", "2s", 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-sub:
		if c.Poller.Interval != "2s" {
			t.Fatalf("interval=%q", c.Poller.Interval)
		}
		if m.Get() != c {
			t.Fatalf("Get does not return committed config")
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("reload not published")
	}
}
