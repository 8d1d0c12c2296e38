package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"momentbot/internal/eventbus"
	"momentbot/internal/moment"
	"momentbot/internal/notifier"
	"momentbot/internal/region"
	"momentbot/internal/storage"
	kit "momentbot/internal/transport"
	logx "momentbot/pkg/logx"
)

const announceTimeout = 10 * time.Second

type notifyPort interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// message is the reloadable announcement text.
type message struct {
	Text      string
	ParseMode string
}

// announcer turns a detected moment change into a channel post, a history
// entry and a bus event.
type announcer struct {
	channels region.Table[string]
	notif    notifyPort
	sender   kit.Sender // direct fallback while the notifier is disabled
	store    storage.Store
	bus      eventbus.Bus
	log      logx.Logger

	mu  sync.RWMutex
	msg message
}

func (an *announcer) setMessage(m message) {
	an.mu.Lock()
	an.msg = m
	an.mu.Unlock()
}

func (an *announcer) current() message {
	an.mu.RLock()
	defer an.mu.RUnlock()
	return an.msg
}

// onChange is the polling loop callback. It runs on the loop's dispatch
// goroutine, one change at a time.
func (an *announcer) onChange(r region.Region, rec moment.Record) {
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()

	channel := an.channels.Get(r)
	an.log.Info("new moment",
		logx.String("region", r.String()),
		logx.String("id", rec.ID),
		logx.Time("start", rec.StartDate),
		logx.String("channel", channel),
	)

	if err := an.post(ctx, r, rec, channel); err != nil {
		an.log.Error("announcement failed",
			logx.String("region", r.String()),
			logx.String("id", rec.ID),
			logx.String("channel", channel),
			logx.Err(err),
		)
	}

	if an.store != nil {
		err := an.store.AppendMoment(ctx, storage.MomentEntry{
			At:        time.Now().UTC(),
			Region:    r,
			MomentID:  rec.ID,
			StartDate: rec.StartDate,
			EndDate:   rec.EndDate,
			Channel:   channel,
		})
		if err != nil {
			an.log.Warn("moment history append failed", logx.String("region", r.String()), logx.Err(err))
		}
	}

	if an.bus != nil {
		an.bus.Publish(eventbus.Event{Type: eventbus.TypeMomentChanged, Data: eventbus.MomentChanged{
			Region:    r.String(),
			ID:        rec.ID,
			StartDate: rec.StartDate,
			EndDate:   rec.EndDate,
		}})
	}
}

func (an *announcer) post(ctx context.Context, r region.Region, rec moment.Record, channel string) error {
	to, ok := kit.ParseChatTarget(channel, 0)
	if !ok {
		return errors.New("no valid channel for region " + r.String())
	}
	msg := an.current()
	var opt *kit.SendOptions
	if msg.ParseMode != "" {
		opt = &kit.SendOptions{ParseMode: msg.ParseMode}
	}

	err := an.notif.Notify(ctx, kit.Notification{
		Channel:  "telegram",
		Priority: 10,
		Target:   to,
		Text:     msg.Text,
		Options:  opt,
		Key:      r.String() + ":" + rec.ID,
	})
	if !errors.Is(err, notifier.ErrDisabled) || an.sender == nil {
		return err
	}
	_, err = an.sender.SendText(ctx, to, msg.Text, opt)
	return err
}
