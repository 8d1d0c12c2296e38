package notifier

import "time"

// Config controls the async notification pipeline. Zero values get the
// defaults documented on each field.
type Config struct {
	Enabled    bool
	Workers    int // 2
	QueueSize  int // 512
	RatePerSec int // 3
	RetryMax   int // 0: one attempt only
	// RetryBase is the delay before the second attempt (500ms).
	RetryBase     time.Duration
	RetryMaxDelay time.Duration // 10s
	// DedupWindow suppresses repeats of the same key. Zero disables dedup.
	DedupWindow     time.Duration
	DedupMaxEntries int // 2000
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 512
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 3
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.DedupWindow < 0 {
		c.DedupWindow = 0
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	return c
}

// HistoryItem is one delivered notification.
type HistoryItem struct {
	At      time.Time
	Channel string
	Text    string
}

// Stats counts notifications since start.
type Stats struct {
	Queued  uint64 `json:"queued"`
	Deduped uint64 `json:"deduped"`
	Dropped uint64 `json:"dropped"`
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
}
