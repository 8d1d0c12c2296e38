package moment

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Summary is a point-in-time copy of the request counters.
type Summary struct {
	Total          uint64  `json:"total"`
	Successful     uint64  `json:"successful"`
	Failed         uint64  `json:"failed"`
	SumLatencyMs   float64 `json:"sum_latency_ms"`
	LatencySamples uint64  `json:"latency_samples"`
}

// AvgLatencyMs is the mean request latency, 0 without samples.
func (s Summary) AvgLatencyMs() float64 {
	if s.LatencySamples == 0 {
		return 0
	}
	return s.SumLatencyMs / float64(s.LatencySamples)
}

// Stats accumulates fetch counters between reports. A nil *Stats is a valid
// no-op collector.
type Stats struct {
	mu  sync.Mutex
	cur Summary

	metrics *Metrics
}

func NewStats(m *Metrics) *Stats { return &Stats{metrics: m} }

// Observe records one finished fetch. Every call counts towards total,
// exactly one of successful/failed, and the latency sum.
func (s *Stats) Observe(ok bool, elapsed time.Duration) {
	if s == nil {
		return
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	s.mu.Lock()
	s.cur.Total++
	if ok {
		s.cur.Successful++
	} else {
		s.cur.Failed++
	}
	s.cur.SumLatencyMs += ms
	s.cur.LatencySamples++
	s.mu.Unlock()

	s.metrics.observe(ok, elapsed)
}

// Snapshot returns the counters without resetting them.
func (s *Stats) Snapshot() Summary {
	if s == nil {
		return Summary{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// SnapshotAndReset returns the counters and zeroes them in one step.
func (s *Stats) SnapshotAndReset() Summary {
	if s == nil {
		return Summary{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.cur
	s.cur = Summary{}
	return out
}

// Metrics mirrors fetch outcomes into Prometheus collectors. Unlike Stats it
// is never reset.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
}

// NewMetrics registers the fetch collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "momentbot",
			Name:      "fetch_requests_total",
			Help:      "Moment feed requests by outcome.",
		}, []string{"outcome"}),
		latency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "momentbot",
			Name:      "fetch_duration_seconds",
			Help:      "Moment feed request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.025, 2, 10),
		}),
	}
}

func (m *Metrics) observe(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "successful"
	}
	m.requests.WithLabelValues(outcome).Inc()
	m.latency.Observe(elapsed.Seconds())
}
