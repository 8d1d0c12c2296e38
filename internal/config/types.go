package config

import "momentbot/internal/region"

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1h").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Poller   PollerConfig   `json:"poller"`

	// Channels maps a region to the chat that receives its announcements:
	// a "@channel" username or a numeric chat id.
	Channels map[region.Region]string `json:"channels"`
	Message  MessageConfig            `json:"message"`

	Logging  LoggingConfig   `json:"logging"`
	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Diag     DiagConfig      `json:"diag,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// GroupLog receives log lines when logging.telegram is enabled.
	GroupLog    string `json:"group_log,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// APIURL points at a self-hosted Bot API server.
	APIURL string `json:"api_url,omitempty"`
}

// PollerConfig controls the moment polling loop.
//
// Defaults:
//   - base_url: https://mobile.bereal.com/api
//   - interval: 500ms (interval_ms is read only when interval is empty)
//   - request_timeout: 10s
//   - stats_interval: 1h
//   - dispatch_queue: 64
//   - regions: every region with a configured channel, in canonical order
type PollerConfig struct {
	BaseURL        string `json:"base_url,omitempty"`
	Interval       string `json:"interval,omitempty"`
	IntervalMs     int    `json:"interval_ms,omitempty"`
	RequestTimeout string `json:"request_timeout,omitempty"`
	StatsInterval  string `json:"stats_interval,omitempty"`
	DispatchQueue  int    `json:"dispatch_queue,omitempty"`

	Regions []region.Region `json:"regions,omitempty"`
	// Paths overrides individual feed paths below base_url.
	Paths map[region.Region]string `json:"paths,omitempty"`
}

type MessageConfig struct {
	Text string `json:"text,omitempty"`
	// ParseMode is passed to Telegram as is ("", "HTML", "MarkdownV2").
	ParseMode string `json:"parse_mode,omitempty"`
	// Sticker is the file id sent before the /start region menu.
	Sticker string `json:"sticker,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// NotifierConfig controls the async announcement pipeline. When the whole
// section is omitted the notifier is enabled with defaults.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	Workers         int    `json:"workers"`
	QueueSize       int    `json:"queue_size"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// StorageConfig controls the moment history journal.
//
//	"storage": { "driver": "sqlite", "path": "./momentbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// DiagConfig controls the diagnostics HTTP server (/metrics, /status,
// /debug/pprof).
//
// Bind to loopback, or set a token, or set allow_insecure explicitly.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`   // default 127.0.0.1:9464
	Prefix        string `json:"prefix,omitempty"` // default /debug/pprof/
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
