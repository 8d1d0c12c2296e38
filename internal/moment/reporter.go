package moment

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"momentbot/internal/eventbus"
	logx "momentbot/pkg/logx"
)

const DefaultStatsInterval = time.Hour

// Reporter periodically logs and resets the request stats. It never touches
// poller state.
type Reporter struct {
	stats    *Stats
	interval time.Duration
	bus      eventbus.Bus
	log      logx.Logger
}

// NewReporter builds a reporter ticking every interval (rounded down to the
// second, at least 1s). bus may be nil.
func NewReporter(stats *Stats, interval time.Duration, bus eventbus.Bus, log logx.Logger) *Reporter {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reporter{stats: stats, interval: interval, bus: bus, log: log}
}

// Report snapshots and resets the counters, then logs and publishes them.
func (r *Reporter) Report() Summary {
	s := r.stats.SnapshotAndReset()
	avg := s.AvgLatencyMs()
	r.log.Info("request stats",
		logx.Uint64("total", s.Total),
		logx.Uint64("successful", s.Successful),
		logx.Uint64("failed", s.Failed),
		logx.String("avg_latency_ms", fmt.Sprintf("%.2f", avg)),
	)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TypeStatsReport, Data: eventbus.StatsReport{
			Total:        s.Total,
			Successful:   s.Successful,
			Failed:       s.Failed,
			AvgLatencyMs: avg,
			Window:       r.interval,
		}})
	}
	return s
}

// Run schedules Report until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(cron.Every(r.interval), cron.FuncJob(func() {
		defer func() {
			if v := recover(); v != nil {
				r.log.Error("stats report panicked", logx.Any("panic", v))
			}
		}()
		r.Report()
	}))
	c.Start()
	r.log.Debug("stats reporter started", logx.Duration("interval", r.interval))

	<-ctx.Done()
	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(2 * time.Second):
		r.log.Warn("stats report still running at shutdown")
	}
	return ctx.Err()
}
