package storage

import (
	"context"
	"fmt"
	"strings"

	"momentbot/internal/region"
	logx "momentbot/pkg/logx"
)

// DefaultRecent is the history length RecentMoments returns for limit <= 0.
const DefaultRecent = 5

// Store is the persistence API used by the app and the bot commands.
type Store interface {
	AppendMoment(ctx context.Context, e MomentEntry) error
	// RecentMoments returns up to limit entries for r, newest first.
	RecentMoments(ctx context.Context, r region.Region, limit int) ([]MomentEntry, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) when storage
// is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
