package moment

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"momentbot/internal/eventbus"
	logx "momentbot/pkg/logx"
)

func TestStatsObserveAndReset(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	s := NewStats(m)
	s.Observe(true, 100*time.Millisecond)
	s.Observe(true, 300*time.Millisecond)
	s.Observe(false, 200*time.Millisecond)

	got := s.SnapshotAndReset()
	if got.Total != 3 || got.Successful != 2 || got.Failed != 1 || got.LatencySamples != 3 {
		t.Fatalf("summary=%+v", got)
	}
	if avg := got.AvgLatencyMs(); avg != 200 {
		t.Fatalf("avg=%v want 200", avg)
	}
	if after := s.Snapshot(); after != (Summary{}) {
		t.Fatalf("not reset: %+v", after)
	}

	// Prometheus collectors are cumulative.
	if v := testutil.ToFloat64(m.requests.WithLabelValues("successful")); v != 2 {
		t.Fatalf("successful counter=%v", v)
	}
	if n := testutil.CollectAndCount(m.latency); n != 1 {
		t.Fatalf("histogram series=%d", n)
	}
}

func TestSummaryAvgWithoutSamples(t *testing.T) {
	t.Parallel()
	if avg := (Summary{}).AvgLatencyMs(); avg != 0 {
		t.Fatalf("avg=%v", avg)
	}
}

func TestNilStatsIsNoop(t *testing.T) {
	t.Parallel()

	var s *Stats
	s.Observe(true, time.Second)
	if got := s.SnapshotAndReset(); got != (Summary{}) {
		t.Fatalf("nil stats returned %+v", got)
	}
}

func TestReporterPublishesAndResets(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	s := NewStats(nil)
	s.Observe(true, 10*time.Millisecond)
	s.Observe(false, 30*time.Millisecond)

	r := NewReporter(s, time.Minute, bus, logx.Nop())
	got := r.Report()
	if got.Total != 2 {
		t.Fatalf("summary=%+v", got)
	}
	if s.Snapshot().Total != 0 {
		t.Fatalf("stats not reset")
	}

	select {
	case e := <-ch:
		if e.Type != eventbus.TypeStatsReport {
			t.Fatalf("event=%q", e.Type)
		}
		p := e.Data.(eventbus.StatsReport)
		if p.Failed != 1 || p.AvgLatencyMs != 20 || p.Window != time.Minute {
			t.Fatalf("payload=%+v", p)
		}
	case <-time.After(time.Second):
		t.Fatalf("no stats event")
	}
}
