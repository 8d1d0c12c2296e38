// Package app wires the moment poller to Telegram and runs it under a
// supervisor.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"

	"momentbot/internal/bot"
	"momentbot/internal/config"
	"momentbot/internal/diag"
	"momentbot/internal/eventbus"
	"momentbot/internal/moment"
	"momentbot/internal/notifier"
	"momentbot/internal/region"
	rtsup "momentbot/internal/runtime/supervisor"
	"momentbot/internal/storage"
	kit "momentbot/internal/transport"
	telegram "momentbot/internal/transport/telegram/adapter"
	logx "momentbot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  *telegram.Adapter
	registry *prometheus.Registry

	pcfg     config.Poller
	stats    *moment.Stats
	poller   *moment.Poller
	loop     *moment.Loop
	reporter *moment.Reporter
	an       *announcer

	notif *notifier.Service
	diag  *diag.Service
	bot   *bot.Bot

	// notifCtx outlives sup so queued announcements drain on Stop
	notifCtx    context.Context
	notifCancel context.CancelFunc

	// owners are read once; telegram changes need a restart
	owners []int64

	mu      sync.RWMutex
	sticker string

	startedAt time.Time
	updates   chan kit.Update
	loopDone  chan struct{}
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	pcfg, err := cfg.ResolvePoller()
	if err != nil {
		return nil, err
	}
	pollTimeout, err := cfg.PollTimeout()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
		APIURL:      strings.TrimSpace(cfg.Telegram.APIURL),
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Telegram logging stays off until the target chat is known, otherwise
	// Apply warns about a missing target.
	logCfg := mapLogConfig(cfg)
	tgEnabled := logCfg.Telegram.Enabled
	logCfg.Telegram.Enabled = false
	logSvc, log := logx.New(logCfg, ad)
	if id := logTarget(cfg); id != 0 {
		logSvc.SetTelegramTarget(id, cfg.Logging.Telegram.ThreadID)
	}
	logCfg.Telegram.Enabled = tgEnabled
	logSvc.Apply(logCfg)

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, err
	}
	if store != nil {
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	registry := prometheus.NewRegistry()
	stats := moment.NewStats(moment.NewMetrics(registry))
	fetcher := moment.NewHTTPFetcher(moment.FetcherConfig{Timeout: pcfg.RequestTimeout}, stats,
		log.With(logx.String("comp", "fetcher")))
	poller, err := moment.NewPoller(moment.PollerConfig{BaseURL: pcfg.BaseURL, Paths: pcfg.Paths}, fetcher,
		log.With(logx.String("comp", "poller")))
	if err != nil {
		closeStore(store)
		return nil, err
	}
	loop := moment.NewLoop(poller, moment.LoopConfig{
		Interval:      pcfg.Interval,
		DispatchQueue: pcfg.DispatchQueue,
	}, log.With(logx.String("comp", "loop")))
	reporter := moment.NewReporter(stats, pcfg.StatsInterval, bus, log.With(logx.String("comp", "stats")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		closeStore(store)
		return nil, err
	}
	notif := notifier.New(ncfg, ad, log.With(logx.String("comp", "notifier")), bus)

	an := &announcer{
		channels: pcfg.Channels,
		notif:    notif,
		sender:   ad,
		store:    store,
		bus:      bus,
		log:      log.With(logx.String("comp", "announce")),
	}
	an.setMessage(message{Text: cfg.MessageText(), ParseMode: strings.TrimSpace(cfg.Message.ParseMode)})

	a := &App{
		cfgm:     cfgm,
		log:      log.With(logx.String("comp", "app")),
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		registry: registry,
		pcfg:     pcfg,
		stats:    stats,
		poller:   poller,
		loop:     loop,
		reporter: reporter,
		an:       an,
		notif:    notif,
		owners:   append([]int64(nil), cfg.Telegram.OwnerUserIDs...),
		sticker:  cfg.StickerID(),
		updates:  make(chan kit.Update, 256),
		loopDone: make(chan struct{}),
	}
	registerAppMetrics(registry, a)
	a.diag = diag.New(mapDiagConfig(cfg), registry, a.status, log.With(logx.String("comp", "diag")))
	a.bot = bot.New(bot.Deps{
		Replier:  ad,
		Poller:   poller,
		Loop:     loop,
		Stats:    stats,
		Notifier: notif,
		Store:    store,
		Settings: a.botSettings,
		Log:      log,
	})
	return a, nil
}

func closeStore(s storage.Store) {
	if s != nil {
		_ = s.Close()
	}
}

func (a *App) botSettings() bot.Settings {
	a.mu.RLock()
	sticker := a.sticker
	a.mu.RUnlock()
	return bot.Settings{
		Sticker:  sticker,
		Channels: a.pcfg.Channels,
		Regions:  a.pcfg.Regions,
		Owners:   a.owners,
	}
}

// Done is closed when the app context is cancelled by a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error seen by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 10*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.bot.Commands()); err != nil {
			a.log.Warn("command menu update failed", logx.Err(err))
		}
	})

	a.startNotifier(ctx)
	a.diag.Start(a.sup.Context())

	a.sup.Go("moment.loop", func(c context.Context) error {
		defer close(a.loopDone)
		return a.loop.Run(c, a.pcfg.Regions, a.an.onChange)
	})
	a.sup.Go("stats.reporter", a.reporter.Run)
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.bot.Run(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go0("systemd.watchdog", a.watchdog)

	a.sdNotify(daemon.SdNotifyReady)
	regions := make([]string, 0, len(a.pcfg.Regions))
	for _, r := range a.pcfg.Regions {
		regions = append(regions, r.String())
	}
	a.log.Info("app started",
		logx.String("regions", strings.Join(regions, ",")),
		logx.Duration("interval", a.pcfg.Interval),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Bool("storage", a.store != nil),
	)
	return nil
}

// reloadLoop applies hot-reloadable sections until ctx is done.
func (a *App) reloadLoop(ctx context.Context, sub <-chan *config.Config) {
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
			// keep only the newest of a burst
			for drained := false; !drained; {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					drained = true
				}
			}
			a.applyConfig(ctx, applied, next)
			applied = next
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	change := config.SummarizeConfigChange(prev, next)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(change.RestartRequired) > 0 {
		a.log.Warn("config sections changed; restart required for them to take effect",
			logx.String("sections", strings.Join(change.RestartRequired, ",")))
	}

	if change.Has("logging") {
		a.logs.Apply(mapLogConfig(next))
	}
	if change.Has("message") {
		a.an.setMessage(message{Text: next.MessageText(), ParseMode: strings.TrimSpace(next.Message.ParseMode)})
		a.mu.Lock()
		a.sticker = next.StickerID()
		a.mu.Unlock()
	}
	if change.Has("notifier") {
		a.applyNotifier(ctx, next)
	}
	if change.Has("diag") {
		a.diag.Reconfigure(ctx, mapDiagConfig(next))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigReloaded, Data: change.Sections})
	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Sections, ","))}, change.Fields...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyNotifier(ctx context.Context, cfg *config.Config) {
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
		return
	}
	wasEnabled := a.notif.Enabled()
	a.notif.Apply(ncfg)
	switch {
	case wasEnabled && !ncfg.Enabled:
		a.log.Info("notifier disabled via config")
		sctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.notif.Stop(sctx)
		cancel()
	case !wasEnabled && ncfg.Enabled:
		a.log.Info("notifier enabled via config")
		nctx := a.notifCtx
		if nctx == nil {
			nctx = ctx
		}
		a.notif.Start(nctx)
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sdNotify(daemon.SdNotifyStopping)

	a.sup.Cancel()
	a.drainAnnouncements(ctx)
	a.stopStep(ctx, "diag", time.Second, func(c context.Context) error { a.diag.Stop(c); return nil })
	a.stopStep(ctx, "adapter", 2*time.Second, a.adapter.Stop)
	a.stopStep(ctx, "storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	a.stopStep(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	s := a.stats.Snapshot()
	a.log.Info("stopped",
		logx.Duration("uptime", time.Since(a.startedAt).Truncate(time.Second)),
		logx.Uint64("requests", s.Total),
		logx.Uint64("failed", s.Failed),
	)
	return a.logs.Close()
}

// startNotifier starts the notifier on a context detached from ctx's
// cancellation. Only drainAnnouncements cancels it.
func (a *App) startNotifier(ctx context.Context) {
	a.notifCtx, a.notifCancel = context.WithCancel(context.WithoutCancel(ctx))
	if a.notif.Enabled() {
		a.notif.Start(a.notifCtx)
	}
}

// drainAnnouncements waits for the loop to hand its pending changes to the
// announcer, then for the notifier to deliver what was queued. The
// supervisor must already be cancelled.
func (a *App) drainAnnouncements(ctx context.Context) {
	a.stopStep(ctx, "poller", 6*time.Second, func(c context.Context) error {
		select {
		case <-a.loopDone:
			return nil
		case <-c.Done():
			return c.Err()
		}
	})
	a.stopStep(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	if a.notifCancel != nil {
		a.notifCancel()
	}
}

// stopStep runs fn bounded by limit and by ctx's deadline. A step that
// overruns is left running and reported when it finishes.
func (a *App) stopStep(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	if dl, ok := ctx.Deadline(); ok {
		limit = min(limit, time.Until(dl))
	}
	if limit <= 0 {
		a.log.Warn("stop step skipped; no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		defer func() {
			if v := recover(); v != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, v)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("limit", limit))
		go func() {
			err := <-done
			a.log.Info("stop step finished after deadline",
				logx.String("name", name), logx.Duration("took", time.Since(start)), logx.Err(err))
		}()
	}
}

// regionsPolled returns the regions in canonical order with whether each
// is polled.
func (a *App) regionsPolled() region.Table[bool] {
	t := region.Fill(false)
	for _, r := range a.pcfg.Regions {
		t = t.With(r, true)
	}
	return t
}
