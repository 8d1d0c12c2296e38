package moment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"momentbot/internal/region"
	logx "momentbot/pkg/logx"
)

// DefaultBaseURL is the public BeReal mobile API root.
const DefaultBaseURL = "https://mobile.bereal.com/api"

type PollerConfig struct {
	BaseURL string
	// Paths maps every region to its feed path below BaseURL.
	Paths region.Table[string]
}

// Poller owns the last seen Record of every region.
//
// CheckForNewNotification is the only writer. Concurrent checks of different
// regions are safe; the lock keeps readers (Current, Snapshot) consistent.
type Poller struct {
	base    string
	paths   region.Table[string]
	fetcher Fetcher
	log     logx.Logger

	mu    sync.RWMutex
	state map[region.Region]Record
}

func NewPoller(cfg PollerConfig, fetcher Fetcher, log logx.Logger) (*Poller, error) {
	if fetcher == nil {
		return nil, errors.New("poller: fetcher is nil")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("poller: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("poller: base url %q must be http(s)", base)
	}
	for _, r := range region.All() {
		if strings.TrimSpace(cfg.Paths.Get(r)) == "" {
			return nil, fmt.Errorf("poller: empty path for region %s", r)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	state := make(map[region.Region]Record, region.Count)
	for _, r := range region.All() {
		state[r] = Record{}
	}
	return &Poller{base: base, paths: cfg.Paths, fetcher: fetcher, log: log, state: state}, nil
}

// URL returns the feed URL of r.
func (p *Poller) URL(r region.Region) string {
	return p.base + "/" + strings.TrimLeft(p.paths.Get(r), "/")
}

// NotificationStatus fetches the current moment of r. ok is false on any
// failure; the failure is logged, never returned.
func (p *Poller) NotificationStatus(ctx context.Context, r region.Region) (rec Record, ok bool) {
	defer func() {
		if v := recover(); v != nil {
			p.log.Error("error fetching notification status", logx.String("region", r.String()), logx.Any("panic", v))
			rec, ok = Record{}, false
		}
	}()
	return p.fetcher.Fetch(ctx, p.URL(r))
}

// CheckForNewNotification fetches r and reports whether its moment id
// changed since the last successful check.
//
//   - a failed fetch reports false and leaves state alone
//   - the first successful fetch stores the baseline and reports false
//   - a different id replaces the stored record and reports true
//   - the same id reports false without touching the stored record
func (p *Poller) CheckForNewNotification(ctx context.Context, r region.Region) bool {
	rec, ok := p.NotificationStatus(ctx, r)
	if !ok {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	last := p.state[r]
	switch {
	case last.IsBaseline():
		p.state[r] = rec
		p.log.Debug("baseline stored", logx.String("region", r.String()), logx.String("id", rec.ID))
		return false
	case last.ID != rec.ID:
		p.state[r] = rec
		return true
	default:
		return false
	}
}

// Current returns a copy of the stored record of r.
func (p *Poller) Current(r region.Region) Record {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state[r]
}

// Snapshot returns a copy of every region's stored record.
func (p *Poller) Snapshot() region.Table[Record] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t := region.Fill(Record{})
	for r, rec := range p.state {
		t = t.With(r, rec)
	}
	return t
}
