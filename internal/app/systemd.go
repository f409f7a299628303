package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "eventbot/pkg/logx"
)

// sdNotifier reports lifecycle state to systemd when NOTIFY_SOCKET is set.
// Outside systemd every call is a no-op.
type sdNotifier struct {
	log logx.Logger
}

func (n sdNotifier) notify(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n sdNotifier) Ready()    { n.notify(daemon.SdNotifyReady) }
func (n sdNotifier) Stopping() { n.notify(daemon.SdNotifyStopping) }

// watchdogInterval returns half of WATCHDOG_USEC, or 0 when the unit has no
// watchdog configured.
func (n sdNotifier) watchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings systemd until ctx ends. alive gates each ping so a stuck
// reminder loop lets the watchdog fire.
func (n sdNotifier) Watchdog(ctx context.Context, alive func() bool) {
	every := n.watchdogInterval()
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if alive == nil || alive() {
				n.notify(daemon.SdNotifyWatchdog)
			}
		}
	}
}
