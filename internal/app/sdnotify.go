package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "momentbot/pkg/logx"
)

// sdNotify reports state to systemd. Outside systemd it is a no-op.
func (a *App) sdNotify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// watchdog pings systemd at half the configured watchdog interval, but only
// while the polling loop keeps finishing cycles.
func (a *App) watchdog(ctx context.Context) {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	every /= 2
	a.log.Info("systemd watchdog enabled", logx.Duration("ping_every", every))

	t := time.NewTicker(every)
	defer t.Stop()
	var lastCycles uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, _ := a.loop.Cycles()
			if n == lastCycles {
				a.log.Warn("polling loop made no progress; skipping watchdog ping", logx.Uint64("cycles", n))
				continue
			}
			lastCycles = n
			a.sdNotify(daemon.SdNotifyWatchdog)
		}
	}
}
