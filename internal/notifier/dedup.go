package notifier

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	kit "momentbot/internal/transport"
)

// dedupKey prefers the caller supplied key and falls back to a hash of the
// destination and text. Keyless notifications without a channel are never
// deduped.
func dedupKey(n kit.Notification) string {
	if n.Key != "" {
		return n.Channel + "|" + n.Key
	}
	if n.Channel == "" {
		return ""
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d:%s:%d|", n.Channel, n.Target.ChatID, n.Target.Username, n.Target.ThreadID)
	_, _ = h.Write([]byte(n.Text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupCache remembers keys until their window expires.
type dedupCache struct {
	mu    sync.Mutex
	until map[string]time.Time
}

func newDedupCache() *dedupCache { return &dedupCache{until: map[string]time.Time{}} }

// allow reports whether key may be sent now and, if so, suppresses it for
// window. The cache is pruned to max entries, evicting the earliest expiry.
func (d *dedupCache) allow(key string, now time.Time, window time.Duration, max int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if until, ok := d.until[key]; ok && now.Before(until) {
		return false
	}
	d.until[key] = now.Add(window)

	for k, until := range d.until {
		if !now.Before(until) {
			delete(d.until, k)
		}
	}
	for max > 0 && len(d.until) > max {
		var (
			oldest string
			at     time.Time
		)
		for k, t := range d.until {
			if oldest == "" || t.Before(at) {
				oldest, at = k, t
			}
		}
		delete(d.until, oldest)
	}
	return true
}

func (d *dedupCache) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.until)
}
