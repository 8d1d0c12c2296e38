package app

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"momentbot/internal/eventbus"
	"momentbot/internal/moment"
	"momentbot/internal/notifier"
	"momentbot/internal/region"
)

type regionStatus struct {
	Polled  bool          `json:"polled"`
	Channel string        `json:"channel,omitempty"`
	Moment  moment.Record `json:"moment"`
}

// statusDoc is served by the diag server at /status.
type statusDoc struct {
	StartedAt  time.Time               `json:"started_at"`
	Regions    map[string]regionStatus `json:"regions"`
	Cycles     uint64                  `json:"cycles"`
	LastCycle  time.Time               `json:"last_cycle"`
	Requests   moment.Summary          `json:"requests"`
	Notifier   notifier.Stats          `json:"notifier"`
	BusDropped uint64                  `json:"bus_dropped"`
	Running    []string                `json:"running,omitempty"`
}

func (a *App) status() any {
	snap := a.poller.Snapshot()
	polled := a.regionsPolled()
	doc := statusDoc{
		StartedAt:  a.startedAt,
		Regions:    make(map[string]regionStatus, region.Count),
		Requests:   a.stats.Snapshot(),
		Notifier:   a.notif.Stats(),
		BusDropped: eventbus.Dropped(a.bus),
	}
	for _, r := range region.All() {
		doc.Regions[r.String()] = regionStatus{
			Polled:  polled.Get(r),
			Channel: a.pcfg.Channels.Get(r),
			Moment:  snap.Get(r),
		}
	}
	doc.Cycles, doc.LastCycle = a.loop.Cycles()
	if a.sup != nil {
		doc.Running = a.sup.Running()
	}
	return doc
}

// registerAppMetrics exposes process, loop and notifier counters next to the
// fetch metrics.
func registerAppMetrics(reg prometheus.Registerer, a *App) {
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "momentbot",
			Name:      "poll_cycles_total",
			Help:      "Finished polling cycles.",
		}, func() float64 {
			n, _ := a.loop.Cycles()
			return float64(n)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "momentbot",
			Name:      "announcements_sent_total",
			Help:      "Announcements delivered to Telegram.",
		}, func() float64 { return float64(a.notif.Stats().Sent) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "momentbot",
			Name:      "announcements_failed_total",
			Help:      "Announcements that exhausted their retries.",
		}, func() float64 { return float64(a.notif.Stats().Failed) }),
	)
	for _, r := range region.All() {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "momentbot",
			Name:        "moment_start_timestamp_seconds",
			Help:        "Start of the last seen moment per region, 0 before the first sighting.",
			ConstLabels: prometheus.Labels{"region": r.String()},
		}, func() float64 {
			rec := a.poller.Current(r)
			if rec.StartDate.IsZero() {
				return 0
			}
			return float64(rec.StartDate.Unix())
		}))
	}
}
