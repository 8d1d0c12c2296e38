package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"momentbot/internal/region"
)

const (
	DefaultBaseURL        = "https://mobile.bereal.com/api"
	DefaultInterval       = 500 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
	DefaultStatsInterval  = time.Hour
	DefaultDispatchQueue  = 64
	DefaultPollTimeout    = 10 * time.Second

	DefaultMessageText = "⚠️ It's time to BeReal. ⚠️"
	DefaultSticker     = "CAACAgUAAxkBAAEaEOFmYYOn14kUoun-9DRaf3rQwcm_OAAC4gEAAt8fchlQx5sHHkFPODUE"
	DefaultDiagAddr    = "127.0.0.1:9464"
	DefaultDiagPrefix  = "/debug/pprof/"
)

var ErrInvalid = errors.New("invalid config")

// Poller is the resolved poller section.
type Poller struct {
	BaseURL        string
	Interval       time.Duration
	RequestTimeout time.Duration
	StatsInterval  time.Duration
	DispatchQueue  int
	Regions        []region.Region
	Paths          region.Table[string]
	// Channels holds the destination of every region, "" when unset.
	Channels region.Table[string]
}

// ResolvePoller applies defaults to the poller and channels sections and
// checks them.
func (c *Config) ResolvePoller() (Poller, error) {
	pc := c.Poller
	out := Poller{DispatchQueue: pc.DispatchQueue}
	if out.DispatchQueue <= 0 {
		out.DispatchQueue = DefaultDispatchQueue
	}

	out.BaseURL = strings.TrimRight(strings.TrimSpace(pc.BaseURL), "/")
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	if u, err := url.Parse(out.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Poller{}, fmt.Errorf("%w: poller.base_url: %q is not an http(s) url", ErrInvalid, pc.BaseURL)
	}

	var err error
	switch {
	case strings.TrimSpace(pc.Interval) != "":
		out.Interval, err = ParseDurationField("poller.interval", pc.Interval)
		if err != nil {
			return Poller{}, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if out.Interval <= 0 {
			return Poller{}, fmt.Errorf("%w: poller.interval must be > 0", ErrInvalid)
		}
	case pc.IntervalMs < 0:
		return Poller{}, fmt.Errorf("%w: poller.interval_ms must be > 0", ErrInvalid)
	case pc.IntervalMs > 0:
		out.Interval = time.Duration(pc.IntervalMs) * time.Millisecond
	default:
		out.Interval = DefaultInterval
	}

	if out.RequestTimeout, err = ParseDurationOrDefault("poller.request_timeout", pc.RequestTimeout, DefaultRequestTimeout); err != nil {
		return Poller{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if out.StatsInterval, err = ParseDurationOrDefault("poller.stats_interval", pc.StatsInterval, DefaultStatsInterval); err != nil {
		return Poller{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if out.StatsInterval < time.Second {
		return Poller{}, fmt.Errorf("%w: poller.stats_interval must be >= 1s", ErrInvalid)
	}

	paths := region.Paths()
	for r, p := range pc.Paths {
		if !r.Valid() {
			return Poller{}, fmt.Errorf("%w: poller.paths: invalid region", ErrInvalid)
		}
		if p = strings.Trim(strings.TrimSpace(p), "/"); p == "" {
			return Poller{}, fmt.Errorf("%w: poller.paths.%s is empty", ErrInvalid, r)
		}
		paths = paths.With(r, p)
	}
	out.Paths = paths

	channels := region.Fill("")
	for r, ch := range c.Channels {
		if !r.Valid() {
			return Poller{}, fmt.Errorf("%w: channels: invalid region", ErrInvalid)
		}
		channels = channels.With(r, strings.TrimSpace(ch))
	}
	out.Channels = channels

	if len(pc.Regions) == 0 {
		for _, r := range region.All() {
			if channels.Get(r) != "" {
				out.Regions = append(out.Regions, r)
			}
		}
	} else {
		seen := map[region.Region]bool{}
		for _, r := range pc.Regions {
			if seen[r] {
				return Poller{}, fmt.Errorf("%w: poller.regions: duplicate %s", ErrInvalid, r)
			}
			seen[r] = true
			out.Regions = append(out.Regions, r)
		}
	}
	if len(out.Regions) == 0 {
		return Poller{}, fmt.Errorf("%w: no region to poll (set channels or poller.regions)", ErrInvalid)
	}
	for _, r := range out.Regions {
		if channels.Get(r) == "" {
			return Poller{}, fmt.Errorf("%w: channels.%s is required because %s is polled", ErrInvalid, r, r)
		}
	}
	return out, nil
}

// Polled reports whether r is in the resolved region list.
func (p Poller) Polled(r region.Region) bool {
	for _, x := range p.Regions {
		if x == r {
			return true
		}
	}
	return false
}

// Notifier is the resolved notifier section.
type Notifier struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

func (c *Config) ResolveNotifier() (Notifier, error) {
	if c.Notifier == nil {
		return Notifier{Enabled: true}, nil
	}
	n := c.Notifier
	out := Notifier{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		DedupMaxEntries: n.DedupMaxEntries,
	}
	var err error
	if out.RetryBase, err = ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return Notifier{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if out.RetryMaxDelay, err = ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return Notifier{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if out.DedupWindow, err = ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return Notifier{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if out.Workers < 0 || out.QueueSize < 0 || out.RatePerSec < 0 || out.RetryMax < 0 || out.DedupMaxEntries < 0 {
		return Notifier{}, fmt.Errorf("%w: notifier: counts must be >= 0", ErrInvalid)
	}
	return out, nil
}

// Storage is the resolved storage section. Driver is "none", "file" or
// "sqlite".
type Storage struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration
}

func (c *Config) ResolveStorage() (Storage, error) {
	if c.Storage == nil {
		return Storage{Driver: "none"}, nil
	}
	out := Storage{
		Driver: strings.ToLower(strings.TrimSpace(c.Storage.Driver)),
		Path:   strings.TrimSpace(c.Storage.Path),
	}
	switch out.Driver {
	case "", "none":
		out.Driver = "none"
		return out, nil
	case "file", "sqlite":
	default:
		return Storage{}, fmt.Errorf("%w: storage.driver: unknown driver %q", ErrInvalid, c.Storage.Driver)
	}
	if out.Path == "" {
		return Storage{}, fmt.Errorf("%w: storage.path is required for driver %s", ErrInvalid, out.Driver)
	}
	var err error
	if out.BusyTimeout, err = ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		return Storage{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return out, nil
}

// MessageText returns the announcement text with its default applied.
func (c *Config) MessageText() string {
	if s := strings.TrimSpace(c.Message.Text); s != "" {
		return c.Message.Text
	}
	return DefaultMessageText
}

func (c *Config) StickerID() string {
	if s := strings.TrimSpace(c.Message.Sticker); s != "" {
		return s
	}
	return DefaultSticker
}

func (c *Config) PollTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
}

// Validate runs every check a config must pass before the app starts or a
// reload is committed.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("%w: empty config", ErrInvalid)
	}
	var errs []error
	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("%w: telegram.token is required", ErrInvalid))
	}
	if _, err := c.PollTimeout(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalid, err))
	}
	if _, err := c.ResolvePoller(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ResolveNotifier(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ResolveStorage(); err != nil {
		errs = append(errs, err)
	}
	if c.Logging.Telegram.Enabled && strings.TrimSpace(c.Telegram.GroupLog) == "" {
		errs = append(errs, fmt.Errorf("%w: logging.telegram requires telegram.group_log", ErrInvalid))
	}
	if c.Logging.Telegram.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("%w: logging.telegram.rate_per_sec must be >= 0", ErrInvalid))
	}
	return errors.Join(errs...)
}
