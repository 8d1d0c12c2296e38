package moment

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"momentbot/internal/region"
	logx "momentbot/pkg/logx"
)

// ErrMisconfigured is returned by Run and RunOnce before any fetch happens.
var ErrMisconfigured = errors.New("polling loop misconfigured")

const (
	defaultDispatchQueue = 64
	defaultDrainTimeout  = 5 * time.Second
)

// ChangeFunc receives a region whose moment changed and the record stored
// for it at the end of the cycle.
type ChangeFunc func(r region.Region, rec Record)

type LoopConfig struct {
	Interval time.Duration
	// DispatchQueue bounds the changes waiting for the callback. Zero means 64.
	DispatchQueue int
	// DrainTimeout bounds how long Run waits for queued callbacks on exit.
	DrainTimeout time.Duration
}

// Loop drives a Poller over a fixed region list.
type Loop struct {
	poller *Poller
	cfg    LoopConfig
	log    logx.Logger

	cycles    atomic.Uint64
	lastCycle atomic.Int64 // unix nanos of the last finished cycle
}

func NewLoop(p *Poller, cfg LoopConfig, log logx.Logger) *Loop {
	if cfg.DispatchQueue <= 0 {
		cfg.DispatchQueue = defaultDispatchQueue
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{poller: p, cfg: cfg, log: log}
}

// Cycles returns the number of finished cycles and when the last one ended.
func (l *Loop) Cycles() (uint64, time.Time) {
	n := l.cycles.Load()
	ns := l.lastCycle.Load()
	if ns == 0 {
		return n, time.Time{}
	}
	return n, time.Unix(0, ns)
}

// Run polls regions until ctx is cancelled and returns ctx.Err().
//
// Each cycle checks every region concurrently and waits for all of them.
// Changed regions are then handed to onChange in the order of regions.
// onChange runs on a separate goroutine, one call at a time, so a slow
// callback only stalls polling once the dispatch queue is full.
func (l *Loop) Run(ctx context.Context, regions []region.Region, onChange ChangeFunc) error {
	if err := l.validate(regions); err != nil {
		return err
	}
	if l.cfg.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0 (got %s)", ErrMisconfigured, l.cfg.Interval)
	}
	if onChange == nil {
		return fmt.Errorf("%w: nil change callback", ErrMisconfigured)
	}

	d := newDispatcher(l.cfg.DispatchQueue, onChange, l.log)
	go d.run()
	defer d.close(l.cfg.DrainTimeout)

	l.log.Info("polling started",
		logx.Int("regions", len(regions)),
		logx.Duration("interval", l.cfg.Interval),
	)
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		if err := ctx.Err(); err != nil {
			l.log.Info("polling stopped", logx.Err(err))
			return err
		}

		for _, r := range l.cycle(ctx, regions) {
			if err := d.enqueue(ctx, change{region: r, rec: l.poller.Current(r)}); err != nil {
				l.log.Info("polling stopped", logx.Err(err))
				return err
			}
		}

		timer.Reset(l.cfg.Interval)
		select {
		case <-ctx.Done():
			l.log.Info("polling stopped", logx.Err(ctx.Err()))
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce runs a single cycle and returns the changed regions in the order
// of regions. No callback is involved.
func (l *Loop) RunOnce(ctx context.Context, regions []region.Region) ([]region.Region, error) {
	if err := l.validate(regions); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.cycle(ctx, regions), nil
}

func (l *Loop) validate(regions []region.Region) error {
	if l == nil || l.poller == nil {
		return fmt.Errorf("%w: no poller", ErrMisconfigured)
	}
	if len(regions) == 0 {
		return fmt.Errorf("%w: no regions", ErrMisconfigured)
	}
	seen := make(map[region.Region]struct{}, len(regions))
	for _, r := range regions {
		if !r.Valid() {
			return fmt.Errorf("%w: invalid region %s", ErrMisconfigured, r)
		}
		if _, dup := seen[r]; dup {
			return fmt.Errorf("%w: duplicate region %s", ErrMisconfigured, r)
		}
		seen[r] = struct{}{}
	}
	return nil
}

// cycle checks all regions concurrently. Each goroutine writes only its own
// slot, so results are read after Wait without further locking.
func (l *Loop) cycle(ctx context.Context, regions []region.Region) []region.Region {
	start := time.Now()
	results := make([]bool, len(regions))

	var g errgroup.Group
	for i, r := range regions {
		i, r := i, r
		g.Go(func() error {
			results[i] = l.poller.CheckForNewNotification(ctx, r)
			return nil
		})
	}
	_ = g.Wait()

	var changed []region.Region
	for i, r := range regions {
		if results[i] {
			changed = append(changed, r)
		}
	}
	l.cycles.Add(1)
	l.lastCycle.Store(time.Now().UnixNano())
	if l.log.Enabled(logx.LevelTrace) {
		l.log.Trace("cycle done", logx.Duration("took", time.Since(start)), logx.Int("changed", len(changed)))
	}
	return changed
}

type change struct {
	region region.Region
	rec    Record
}

// dispatcher calls the change callback sequentially in enqueue order.
type dispatcher struct {
	queue chan change
	done  chan struct{}
	fn    ChangeFunc
	log   logx.Logger
}

func newDispatcher(size int, fn ChangeFunc, log logx.Logger) *dispatcher {
	return &dispatcher{
		queue: make(chan change, size),
		done:  make(chan struct{}),
		fn:    fn,
		log:   log.With(logx.String("comp", "moment.dispatch")),
	}
}

func (d *dispatcher) run() {
	defer close(d.done)
	for c := range d.queue {
		d.call(c)
	}
}

func (d *dispatcher) call(c change) {
	defer func() {
		if v := recover(); v != nil {
			d.log.Error("change callback panicked",
				logx.String("incident_id", uuid.NewString()),
				logx.String("region", c.region.String()),
				logx.String("moment_id", c.rec.ID),
				logx.Any("panic", v),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	d.fn(c.region, c.rec)
}

// enqueue blocks while the queue is full.
func (d *dispatcher) enqueue(ctx context.Context, c change) error {
	select {
	case d.queue <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting changes and waits up to timeout for queued ones.
func (d *dispatcher) close(timeout time.Duration) {
	close(d.queue)
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.done:
	case <-t.C:
		d.log.Warn("change dispatch drain timed out", logx.Int("pending", len(d.queue)), logx.Duration("timeout", timeout))
	}
}
