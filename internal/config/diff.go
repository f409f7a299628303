package config

import (
	"reflect"
	"strings"

	logx "eventbot/pkg/logx"
)

// SummarizeConfigChange lists the changed sections and safe attrs for a
// reload log line. Secrets (bot token, status token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.Token != nt.Token || !reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.AlertChat) != strings.TrimSpace(nt.AlertChat) ||
		ot.PollTimeout != nt.PollTimeout || ot.CommandTimeout != nt.CommandTimeout {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.alert_chat_set", strings.TrimSpace(nt.AlertChat) != ""),
			logx.String("telegram.command_timeout", nt.CommandTimeout),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		r := newCfg.Reminders
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Bool("reminders.enabled", r.IsEnabled()),
			logx.String("reminders.poll", r.Poll),
			logx.String("reminders.send_delay", r.SendDelay),
			logx.String("reminders.send_timeout", r.SendTimeout),
			logx.Strings("reminders.strategies", r.Strategies),
			logx.Int("reminders.tiers", len(r.Tiers)),
			logx.Bool("reminders.persist_ledger", r.PersistLedger),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	ostat, ns := oldCfg.Status, newCfg.Status
	if ostat.Token != ns.Token || !reflect.DeepEqual(withoutToken(ostat), withoutToken(ns)) {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", ns.Enabled),
			logx.String("status.addr", ns.Addr),
			logx.Bool("status.token_set", strings.TrimSpace(ns.Token) != ""),
			logx.Bool("status.pprof", ns.Pprof),
		)
	}
	return changed, attrs
}

func withoutToken(s StatusConfig) StatusConfig {
	s.Token = ""
	return s
}
