package config

import (
	"reflect"
	"strings"

	logx "momentbot/pkg/logx"
)

// Change describes what differs between two configs.
type Change struct {
	// Sections lists every changed top-level section.
	Sections []string
	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
	// Fields are safe to log; tokens are never included.
	Fields []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

// Has reports whether section changed.
func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// SummarizeConfigChange compares two configs section by section.
func SummarizeConfigChange(oldCfg, newCfg *Config) Change {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		out.Sections = append(out.Sections, section)
		if restart {
			out.RestartRequired = append(out.RestartRequired, section)
		}
		out.Fields = append(out.Fields, fields...)
	}

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token ||
		strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		strings.TrimSpace(ot.APIURL) != strings.TrimSpace(nt.APIURL) ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		!reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) {
		mark("telegram", true,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Poller, newCfg.Poller) {
		mark("poller", true,
			logx.String("poller.interval", newCfg.Poller.Interval),
			logx.Int("poller.regions", len(newCfg.Poller.Regions)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Channels, newCfg.Channels) {
		mark("channels", true, logx.Int("channels.count", len(newCfg.Channels)))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		driver := "none"
		if newCfg.Storage != nil {
			driver = newCfg.Storage.Driver
		}
		mark("storage", true, logx.String("storage.driver", driver))
	}

	if oldCfg.Message != newCfg.Message {
		mark("message", false, logx.String("message.parse_mode", newCfg.Message.ParseMode))
	}
	if oldCfg.Logging != newCfg.Logging {
		mark("logging", false,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		enabled := newCfg.Notifier == nil || newCfg.Notifier.Enabled
		mark("notifier", false, logx.Bool("notifier.enabled", enabled))
	}
	od, nd := oldCfg.Diag, newCfg.Diag
	if od != nd {
		mark("diag", false,
			logx.Bool("diag.enabled", nd.Enabled),
			logx.String("diag.addr", strings.TrimSpace(nd.Addr)),
			logx.Bool("diag.token_set", strings.TrimSpace(nd.Token) != ""),
		)
	}
	return out
}
