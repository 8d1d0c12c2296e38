package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"momentbot/internal/config"
	"momentbot/internal/diag"
	"momentbot/internal/eventbus"
	"momentbot/internal/moment"
	"momentbot/internal/notifier"
	"momentbot/internal/region"
	rtsup "momentbot/internal/runtime/supervisor"
	"momentbot/internal/storage"
	kit "momentbot/internal/transport"
	logx "momentbot/pkg/logx"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []kit.ChatTarget
	text []string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return kit.MessageRef{}, f.err
	}
	f.sent = append(f.sent, to)
	f.text = append(f.text, text)
	return kit.MessageRef{MessageID: len(f.sent)}, nil
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type recordingNotifier struct {
	got []kit.Notification
	err error
}

func (r *recordingNotifier) Notify(_ context.Context, n kit.Notification) error {
	r.got = append(r.got, n)
	return r.err
}

var rec1 = moment.Record{
	ID:        "m-1",
	StartDate: time.Date(2024, 6, 6, 12, 0, 0, 0, time.UTC),
	EndDate:   time.Date(2024, 6, 6, 12, 2, 0, 0, time.UTC),
}

func newAnnouncer(t *testing.T, n notifyPort, s kit.Sender) (*announcer, storage.Store, eventbus.Bus) {
	t.Helper()
	store, err := storage.Open(storage.Config{Driver: "file", Path: t.TempDir() + "/history"}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	bus := eventbus.New()
	an := &announcer{
		channels: region.Fill("").With(region.EU, "@BeRealEurope"),
		notif:    n,
		sender:   s,
		store:    store,
		bus:      bus,
		log:      logx.Nop(),
	}
	an.setMessage(message{Text: config.DefaultMessageText})
	return an, store, bus
}

func TestAnnouncerQueuesNotificationAndRecords(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{}
	an, store, bus := newAnnouncer(t, n, nil)
	events, unsub := bus.Subscribe(4)
	defer unsub()

	an.onChange(region.EU, rec1)

	if len(n.got) != 1 {
		t.Fatalf("notifications = %d, want 1", len(n.got))
	}
	got := n.got[0]
	if got.Target.Username != "@BeRealEurope" || got.Text != config.DefaultMessageText || got.Key != "EU:m-1" {
		t.Fatalf("notification = %+v", got)
	}
	if got.Options != nil {
		t.Fatalf("empty parse mode should send plain text, got %+v", got.Options)
	}

	entries, err := store.RecentMoments(context.Background(), region.EU, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].MomentID != "m-1" || entries[0].Channel != "@BeRealEurope" {
		t.Fatalf("history = %+v", entries)
	}

	select {
	case e := <-events:
		mc, ok := e.Data.(eventbus.MomentChanged)
		if e.Type != eventbus.TypeMomentChanged || !ok || mc.Region != "EU" || mc.ID != "m-1" {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no moment.changed event")
	}
}

func TestAnnouncerFallsBackToDirectSendWhenNotifierDisabled(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	an, _, _ := newAnnouncer(t, &recordingNotifier{err: notifier.ErrDisabled}, s)
	an.setMessage(message{Text: "<b>now</b>", ParseMode: "HTML"})
	an.onChange(region.EU, rec1)

	if s.count() != 1 || s.text[0] != "<b>now</b>" || s.sent[0].Username != "@BeRealEurope" {
		t.Fatalf("direct sends = %+v %v", s.sent, s.text)
	}
}

func TestAnnouncerStillRecordsWhenDeliveryFails(t *testing.T) {
	t.Parallel()

	an, store, _ := newAnnouncer(t, &recordingNotifier{err: notifier.ErrQueueFull}, nil)
	an.onChange(region.EU, rec1)

	entries, err := store.RecentMoments(context.Background(), region.EU, 0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("history = %+v, err = %v", entries, err)
	}
}

func TestAnnouncerSkipsRegionWithoutChannel(t *testing.T) {
	t.Parallel()

	n := &recordingNotifier{}
	an, _, _ := newAnnouncer(t, n, nil)
	an.onChange(region.US, rec1)
	if len(n.got) != 0 {
		t.Fatalf("notified %d times for a region without channel", len(n.got))
	}
}

func TestAnnouncementsThroughNotifierAreDeduped(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	ns := notifier.New(notifier.Config{Enabled: true, RatePerSec: 100, DedupWindow: time.Minute}, s, logx.Nop(), nil)
	ns.Start(context.Background())
	defer ns.Stop(context.Background())

	an, _, _ := newAnnouncer(t, ns, s)
	an.onChange(region.EU, rec1)
	an.onChange(region.EU, rec1)

	deadline := time.Now().Add(2 * time.Second)
	for s.count() < 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)
	if s.count() != 1 {
		t.Fatalf("sent %d announcements, want 1", s.count())
	}
	if st := ns.Stats(); st.Deduped != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestStopDeliversChangeDispatchedDuringShutdown(t *testing.T) {
	t.Parallel()

	s := &fakeSender{}
	ns := notifier.New(notifier.Config{Enabled: true, RatePerSec: 100}, s, logx.Nop(), nil)
	an, _, _ := newAnnouncer(t, ns, s)
	a := &App{
		log:      logx.Nop(),
		sup:      rtsup.New(context.Background()),
		an:       an,
		notif:    ns,
		loopDone: make(chan struct{}),
	}
	a.startNotifier(context.Background())

	// the loop's dispatcher hands over a change only after cancellation
	a.sup.Go("moment.loop", func(c context.Context) error {
		defer close(a.loopDone)
		<-c.Done()
		a.an.onChange(region.EU, rec1)
		return c.Err()
	})

	a.sup.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a.drainAnnouncements(ctx)

	if s.count() != 1 {
		t.Fatalf("sent %d announcements, want 1", s.count())
	}
	if st := ns.Stats(); st.Queued != 1 || st.Sent != 1 {
		t.Fatalf("stats = %+v", st)
	}
	if a.notifCtx.Err() == nil {
		t.Fatal("notifier context not cancelled after drain")
	}
}

func TestApplyConfigHotReloadsMessage(t *testing.T) {
	t.Parallel()

	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	defer logs.Close()
	an, _, _ := newAnnouncer(t, &recordingNotifier{}, nil)
	ns := notifier.New(notifier.Config{Enabled: true}, &fakeSender{}, log, nil)
	a := &App{
		log:   log,
		logs:  logs,
		bus:   eventbus.New(),
		an:    an,
		notif: ns,
		diag:  diag.New(diag.Config{}, nil, nil, log),
	}
	events, unsub := a.bus.Subscribe(4)
	defer unsub()

	prev := &config.Config{Telegram: config.TelegramConfig{Token: "a"}}
	next := &config.Config{
		Telegram: config.TelegramConfig{Token: "b"},
		Message:  config.MessageConfig{Text: "go!", ParseMode: "HTML", Sticker: "S2"},
	}
	a.applyConfig(context.Background(), prev, next)

	if m := an.current(); m.Text != "go!" || m.ParseMode != "HTML" {
		t.Fatalf("message = %+v", m)
	}
	if a.botSettings().Sticker != "S2" {
		t.Fatalf("sticker not reloaded")
	}
	select {
	case e := <-events:
		sections, _ := e.Data.([]string)
		if e.Type != eventbus.TypeConfigReloaded || !strings.Contains(strings.Join(sections, ","), "message") {
			t.Fatalf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no config.reloaded event")
	}
}

func TestApplyConfigTogglesNotifier(t *testing.T) {
	t.Parallel()

	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	defer logs.Close()
	ns := notifier.New(notifier.Config{Enabled: true}, &fakeSender{}, log, nil)
	ns.Start(context.Background())
	defer ns.Stop(context.Background())
	a := &App{log: log, logs: logs, bus: eventbus.New(), notif: ns, diag: diag.New(diag.Config{}, nil, nil, log)}

	on := &config.Config{}
	off := &config.Config{Notifier: &config.NotifierConfig{Enabled: false}}
	a.applyConfig(context.Background(), on, off)
	if ns.Enabled() {
		t.Fatal("notifier still enabled")
	}
	if err := ns.Notify(context.Background(), kit.Notification{Text: "x"}); !errors.Is(err, notifier.ErrDisabled) {
		t.Fatalf("Notify = %v, want ErrDisabled", err)
	}
}

func TestMapConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Telegram: config.TelegramConfig{GroupLog: " -100123 "},
		Logging: config.LoggingConfig{
			Level:    "debug",
			Telegram: config.LoggingTelegram{Enabled: true, ThreadID: 9, MinLevel: "warn", RatePerSec: 2},
		},
		Notifier: &config.NotifierConfig{Enabled: true, Workers: 3, RetryBase: "1s", DedupWindow: "2m"},
		Storage:  &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"},
		Diag:     config.DiagConfig{Enabled: true, Addr: " :9000 ", Token: "t"},
	}

	if id := logTarget(cfg); id != -100123 {
		t.Fatalf("logTarget = %d", id)
	}
	if id := logTarget(&config.Config{Telegram: config.TelegramConfig{GroupLog: "@logs"}}); id != 0 {
		t.Fatalf("non-numeric log target = %d", id)
	}
	if lc := mapLogConfig(cfg); lc.Level != "debug" || !lc.Telegram.Enabled || lc.Telegram.ThreadID != 9 {
		t.Fatalf("log config = %+v", lc)
	}
	nc, err := mapNotifierConfig(cfg)
	if err != nil || !nc.Enabled || nc.Workers != 3 || nc.RetryBase != time.Second || nc.DedupWindow != 2*time.Minute {
		t.Fatalf("notifier config = %+v, %v", nc, err)
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != 3*time.Second {
		t.Fatalf("storage config = %+v, %v", sc, err)
	}
	if dc := mapDiagConfig(cfg); dc.Addr != ":9000" || dc.Token != "t" || !dc.Enabled {
		t.Fatalf("diag config = %+v", dc)
	}

	bad := &config.Config{Notifier: &config.NotifierConfig{RetryBase: "soon"}}
	if _, err := mapNotifierConfig(bad); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("bad notifier config err = %v", err)
	}
}

func TestCheck(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/europe-west"):
			_, _ = w.Write([]byte(`{"id":"eu-1","startDate":"2024-06-06T12:00:00Z","endDate":"2024-06-06T12:02:00Z"}`))
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	cfg := &config.Config{
		Poller:   config.PollerConfig{BaseURL: srv.URL},
		Channels: map[region.Region]string{region.EU: "@eu", region.US: "@us"},
	}
	results, sum, err := Check(context.Background(), cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if r := results[0]; r.Region != region.EU || !r.OK || r.Moment.ID != "eu-1" || !strings.HasSuffix(r.URL, "/bereal/moments/last/europe-west") {
		t.Fatalf("EU result = %+v", r)
	}
	if r := results[1]; r.Region != region.US || r.OK {
		t.Fatalf("US result = %+v", r)
	}
	if sum.Total != 2 || sum.Successful != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
}

func TestCheckRejectsConfigWithoutRegions(t *testing.T) {
	t.Parallel()

	_, _, err := Check(context.Background(), &config.Config{}, logx.Nop())
	if !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}
