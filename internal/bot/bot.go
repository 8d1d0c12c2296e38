// Package bot answers chat commands: the /start region menu, /status and
// /last.
package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"momentbot/internal/moment"
	"momentbot/internal/notifier"
	"momentbot/internal/region"
	"momentbot/internal/storage"
	kit "momentbot/internal/transport"
	logx "momentbot/pkg/logx"
	"momentbot/pkg/tgui"
)

const commandTimeout = 15 * time.Second

// Replier is the part of the transport adapter the bot talks through.
type Replier interface {
	kit.Sender
	SendSticker(ctx context.Context, to kit.ChatTarget, fileID string) error
}

type Snapshotter interface {
	Snapshot() region.Table[moment.Record]
}

type CycleCounter interface {
	Cycles() (uint64, time.Time)
}

type NotifierStats interface {
	Stats() notifier.Stats
}

// Settings is the reloadable part of the bot's configuration.
type Settings struct {
	Sticker  string
	Channels region.Table[string]
	Regions  []region.Region
	// Owners may use /status. Empty means everyone.
	Owners []int64
}

// Deps wires the bot. Loop, Stats, Notifier and Store may be nil.
type Deps struct {
	Replier  Replier
	Poller   Snapshotter
	Loop     CycleCounter
	Stats    *moment.Stats
	Notifier NotifierStats
	Store    storage.Store
	Settings func() Settings
	Log      logx.Logger
}

type Bot struct {
	d   Deps
	log logx.Logger
}

func New(d Deps) *Bot {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bot{d: d, log: log.With(logx.String("comp", "bot"))}
}

// Commands is the menu published to Telegram.
func (b *Bot) Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "show the region channels"},
		{Command: "status", Description: "poller and delivery status"},
		{Command: "last", Description: "recent moments of a region"},
	}
}

// Run handles updates until ctx is done or updates is closed.
func (b *Bot) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			b.Handle(ctx, up)
		}
	}
}

// Handle answers a single update. Failures are logged.
func (b *Bot) Handle(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	cmd, args := parseCommand(msg.Text)
	if cmd == "" && !msg.IsPrivate {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	defer func() {
		if v := recover(); v != nil {
			b.log.Error("command panicked",
				logx.String("cmd", cmd),
				logx.Int64("chat_id", msg.ChatID),
				logx.Any("panic", v),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()

	to := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	var err error
	switch cmd {
	case "status":
		err = b.status(ctx, to, msg.FromID)
	case "last":
		err = b.last(ctx, to, args)
	case "start", "help":
		err = b.start(ctx, to)
	default:
		if !msg.IsPrivate {
			return
		}
		err = b.start(ctx, to)
	}
	if err != nil {
		b.log.Warn("command failed", logx.String("cmd", cmd), logx.Int64("chat_id", msg.ChatID), logx.Err(err))
		return
	}
	b.log.Debug("command handled", logx.String("cmd", cmd), logx.Int64("chat_id", msg.ChatID), logx.Int64("from", msg.FromID))
}

// parseCommand returns the lowercased command without slash or @bot suffix
// and its arguments. cmd is empty for plain text.
func parseCommand(text string) (cmd string, args []string) {
	f := strings.Fields(text)
	if len(f) == 0 || !strings.HasPrefix(f[0], "/") {
		return "", nil
	}
	cmd = strings.TrimPrefix(f[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), f[1:]
}

func (b *Bot) settings() Settings {
	if b.d.Settings == nil {
		return Settings{Channels: region.Fill("")}
	}
	return b.d.Settings()
}

func (b *Bot) start(ctx context.Context, to kit.ChatTarget) error {
	s := b.settings()
	if s.Sticker != "" {
		if err := b.d.Replier.SendSticker(ctx, to, s.Sticker); err != nil {
			// the menu is still worth sending
			b.log.Warn("sticker send failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
		}
	}
	_, err := MenuMessage(s).Send(ctx, b.d.Replier, to)
	return err
}

// MenuMessage renders the region menu. Regions that are not polled or have
// no channel are listed as "soon".
func MenuMessage(s Settings) tgui.Message {
	mb := tgui.New().Title("👉", "Select your region:").Blank()
	for _, r := range region.All() {
		ch := s.Channels.Get(r)
		if ch == "" || !slices.Contains(s.Regions, r) {
			ch = "soon"
		}
		mb.HTML(tgui.B("🔸 " + r.Name() + " - " + ch))
	}
	return mb.Build()
}

func (b *Bot) allowed(s Settings, userID int64) bool {
	return len(s.Owners) == 0 || slices.Contains(s.Owners, userID)
}

func (b *Bot) status(ctx context.Context, to kit.ChatTarget, from int64) error {
	s := b.settings()
	if !b.allowed(s, from) {
		_, err := b.d.Replier.SendText(ctx, to, "⛔ Owner only.", nil)
		return err
	}
	_, err := StatusMessage(b.d, s, time.Now()).Send(ctx, b.d.Replier, to)
	return err
}

// StatusMessage renders the /status reply.
func StatusMessage(d Deps, s Settings, now time.Time) tgui.Message {
	mb := tgui.New().Title("📡", "Moments")
	var snap region.Table[moment.Record]
	if d.Poller != nil {
		snap = d.Poller.Snapshot()
	} else {
		snap = region.Fill(moment.Record{})
	}
	for _, r := range region.All() {
		if !slices.Contains(s.Regions, r) {
			mb.KV(r.String(), "not polled")
			continue
		}
		mb.KV(r.String(), describeRecord(snap.Get(r), now))
	}

	if d.Loop != nil {
		n, last := d.Loop.Cycles()
		v := fmt.Sprintf("%d", n)
		if !last.IsZero() {
			v += ", last " + now.Sub(last).Truncate(time.Millisecond).String() + " ago"
		}
		mb.Blank().Title("🔁", "Polling").KV("cycles", v)
	}

	sum := d.Stats.Snapshot()
	mb.Blank().Title("📊", "Requests").
		KV("total", fmt.Sprintf("%d", sum.Total)).
		KV("successful", fmt.Sprintf("%d", sum.Successful)).
		KV("failed", fmt.Sprintf("%d", sum.Failed)).
		KV("avg latency", fmt.Sprintf("%.2fms", sum.AvgLatencyMs()))

	if d.Notifier != nil {
		ns := d.Notifier.Stats()
		mb.Blank().Title("📨", "Delivery").
			KV("sent", fmt.Sprintf("%d", ns.Sent)).
			KV("failed", fmt.Sprintf("%d", ns.Failed)).
			KV("queued", fmt.Sprintf("%d", ns.Queued)).
			KV("deduped", fmt.Sprintf("%d", ns.Deduped)).
			KV("dropped", fmt.Sprintf("%d", ns.Dropped))
	}
	return mb.Build()
}

func describeRecord(rec moment.Record, now time.Time) string {
	if rec.IsBaseline() {
		return "not seen yet"
	}
	out := rec.ID
	switch {
	case rec.StartDate.IsZero():
	case now.Before(rec.StartDate):
		out += " (starts " + formatTime(rec.StartDate) + ")"
	case rec.EndDate.IsZero() || now.Before(rec.EndDate):
		out += " (open since " + formatTime(rec.StartDate) + ")"
	default:
		out += " (closed " + formatTime(rec.EndDate) + ")"
	}
	return out
}

func formatTime(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 UTC") }

func (b *Bot) last(ctx context.Context, to kit.ChatTarget, args []string) error {
	if len(args) == 0 {
		_, err := b.d.Replier.SendText(ctx, to, "Usage: /last <EU|US|AW|AE>", nil)
		return err
	}
	r, err := region.Parse(args[0])
	if err != nil {
		_, err = b.d.Replier.SendText(ctx, to, err.Error(), nil)
		return err
	}
	if b.d.Store == nil {
		_, err = b.d.Replier.SendText(ctx, to, "History is disabled.", nil)
		return err
	}
	entries, err := b.d.Store.RecentMoments(ctx, r, storage.DefaultRecent)
	if err != nil {
		_, _ = b.d.Replier.SendText(ctx, to, "History is unavailable right now.", nil)
		return err
	}
	_, err = LastMessage(r, entries).Send(ctx, b.d.Replier, to)
	return err
}

// LastMessage renders the /last reply for entries, newest first.
func LastMessage(r region.Region, entries []storage.MomentEntry) tgui.Message {
	mb := tgui.New().Title("🕒", "Recent moments: "+r.Name())
	if len(entries) == 0 {
		return mb.Line("none recorded").Build()
	}
	for _, e := range entries {
		mb.HTML(tgui.JoinH(" ", tgui.Esc("•"), tgui.Code(e.MomentID), tgui.I(formatTime(e.At))))
	}
	return mb.Build()
}
