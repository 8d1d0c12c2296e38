package app

import (
	"strconv"
	"strings"

	"momentbot/internal/config"
	"momentbot/internal/diag"
	"momentbot/internal/notifier"
	"momentbot/internal/storage"
	logx "momentbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// logTarget returns the numeric log group chat, 0 when unset or not numeric.
func logTarget(cfg *config.Config) int64 {
	s := strings.TrimSpace(cfg.Telegram.GroupLog)
	if s == "" {
		return 0
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n, err := cfg.ResolveNotifier()
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       n.RetryBase,
		RetryMaxDelay:   n.RetryMaxDelay,
		DedupWindow:     n.DedupWindow,
		DedupMaxEntries: n.DedupMaxEntries,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	s, err := cfg.ResolveStorage()
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: s.Driver, Path: s.Path, BusyTimeout: s.BusyTimeout}, nil
}

func mapDiagConfig(cfg *config.Config) diag.Config {
	d := cfg.Diag
	return diag.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Prefix:        strings.TrimSpace(d.Prefix),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
	}
}
