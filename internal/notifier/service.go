package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"momentbot/internal/eventbus"
	rtsup "momentbot/internal/runtime/supervisor"
	kit "momentbot/internal/transport"
	logx "momentbot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const (
	sendTimeout = 10 * time.Second
	historySize = 100
)

type job struct {
	n   kit.Notification
	key string
}

// Service is a queue, a worker pool, a rate limiter, retry and dedup.
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log    logx.Logger
	sender kit.Sender
	bus    eventbus.Bus

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor
	stopDone  chan struct{} // non-nil while stopping

	dedup *dedupCache

	hmu     sync.Mutex
	history []HistoryItem

	queued, deduped, dropped, sent, failed atomic.Uint64
}

// New builds a stopped service. bus may be nil.
func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{sender: sender, log: log, bus: bus, dedup: newDedupCache()}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps the config. Worker and queue sizes take effect on the next
// Start; rate, retry and dedup settings apply immediately.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// burst = rate so short spikes are not throttled
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Supervisor returns the worker supervisor, nil while stopped.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sup
}

// Start launches the workers. It is idempotent and does nothing when the
// service is disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "notifier"))),
		rtsup.WithCancelOnError(false),
	)
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			if s.stopping() {
				return context.Canceled
			}
			if err := c.Err(); err != nil {
				return err
			}
			return errors.New("notifier worker exited unexpectedly")
		})
	}
	s.log.Debug("notifier started", logx.Int("workers", workers))
}

func (s *Service) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopDone != nil
}

// Stop refuses new notifications and drains the queue until ctx is done.
// Whatever is still queued at the deadline, or after the workers' context
// ended, is counted as dropped.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// in-flight Notify calls may still send on q
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())
		for j := range q {
			s.abandon(j, eventbus.TypeNotifyDropped, ErrStopped)
		}

		s.mu.Lock()
		s.queue = nil
		s.sup = nil
		s.stopDone = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Notify enqueues n without waiting for delivery. A deduplicated
// notification returns nil.
func (s *Service) Notify(ctx context.Context, n kit.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.sup.Context().Err() != nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	if window > 0 && key != "" && !s.dedup.allow(key, time.Now(), window, maxEntries) {
		s.deduped.Add(1)
		s.publish(eventbus.TypeNotifyDeduped, n, key, 0, nil)
		return nil
	}

	select {
	case q <- job{n: n, key: key}:
		s.queued.Add(1)
		s.publish(eventbus.TypeNotifyQueued, n, key, 0, nil)
		return nil
	default:
		s.dropped.Add(1)
		s.publish(eventbus.TypeNotifyDropped, n, key, 0, ErrQueueFull)
		return ErrQueueFull
	}
}

func (s *Service) publish(typ string, n kit.Notification, key string, attempts int, err error) {
	if s.bus == nil {
		return
	}
	ev := eventbus.NotificationEvent{
		Channel:  n.Channel,
		ChatID:   n.Target.ChatID,
		Username: n.Target.Username,
		ThreadID: n.Target.ThreadID,
		Key:      key,
		At:       time.Now(),
		Attempts: attempts,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// Stats returns the counters since the service was built.
func (s *Service) Stats() Stats {
	return Stats{
		Queued:  s.queued.Load(),
		Deduped: s.deduped.Load(),
		Dropped: s.dropped.Load(),
		Sent:    s.sent.Load(),
		Failed:  s.failed.Load(),
	}
}

// History returns the most recent deliveries, oldest first.
func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(n kit.Notification) {
	s.hmu.Lock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Channel: n.Target.Recipient(), Text: n.Text})
	if len(s.history) > historySize {
		s.history = s.history[len(s.history)-historySize:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()
	if s.sender == nil || j.n.Text == "" {
		return
	}

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			s.abandon(j, eventbus.TypeNotifyFailed, errors.Join(err, lastErr))
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		_, err := s.sender.SendText(callCtx, j.n.Target, j.n.Text, j.n.Options)
		cancel()
		if err == nil {
			s.sent.Add(1)
			s.appendHistory(j.n)
			s.publish(eventbus.TypeNotifySent, j.n, j.key, attempt, nil)
			return
		}
		lastErr = err
		s.log.Debug("notify send failed",
			logx.String("to", j.n.Target.Recipient()),
			logx.Int("attempt", attempt),
			logx.Int("max", attempts),
			logx.Err(err),
		)
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			s.abandon(j, eventbus.TypeNotifyFailed, errors.Join(ctx.Err(), lastErr))
			return
		}
	}

	s.failed.Add(1)
	s.log.Warn("notification failed", logx.String("to", j.n.Target.Recipient()), logx.Int("attempts", attempts), logx.Err(lastErr))
	s.publish(eventbus.TypeNotifyFailed, j.n, j.key, attempts, lastErr)
}

// abandon accounts for a job that will not be delivered because the
// workers are shutting down.
func (s *Service) abandon(j job, typ string, err error) {
	if typ == eventbus.TypeNotifyDropped {
		s.dropped.Add(1)
	} else {
		s.failed.Add(1)
	}
	s.log.Warn("notification abandoned on shutdown", logx.String("to", j.n.Target.Recipient()), logx.Err(err))
	s.publish(typ, j.n, j.key, 0, err)
}

// retryDelay is the wait after the given failed attempt: RetryBase doubled
// per attempt, capped at RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
