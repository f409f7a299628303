package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"eventbot/internal/config"
	"eventbot/internal/observability/status"
	"eventbot/internal/reminder"
	"eventbot/internal/storage"
	logx "eventbot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) (logx.Config, error) {
	chatID, err := parseAlertChat(cfg.Telegram.AlertChat)
	if err != nil {
		return logx.Config{}, err
	}
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     chatID,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, nil
}

// parseAlertChat reads telegram.alert_chat; empty means no alert chat.
func parseAlertChat(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("telegram.alert_chat: invalid chat id %q", raw)
	}
	return id, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file", "json":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, error) {
	rc := cfg.Reminders
	loc, err := EventLocation(cfg)
	if err != nil {
		return reminder.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("reminders.send_delay", rc.SendDelay, 500*time.Millisecond)
	if err != nil {
		return reminder.Config{}, err
	}
	timeout, err := config.ParseDurationOrDefault("reminders.send_timeout", rc.SendTimeout, reminder.DefaultSendTimeout)
	if err != nil {
		return reminder.Config{}, err
	}
	if _, err := reminder.ParseCadence(rc.Poll); err != nil {
		return reminder.Config{}, fmt.Errorf("reminders.poll: %w", err)
	}

	tiers := make([]reminder.Tier, 0, len(rc.Tiers))
	for i, tc := range rc.Tiers {
		path := fmt.Sprintf("reminders.tiers[%d]", i)
		lo, err := config.ParseDurationField(path+".min", tc.Min)
		if err != nil {
			return reminder.Config{}, err
		}
		hi, err := config.ParseDurationField(path+".max", tc.Max)
		if err != nil {
			return reminder.Config{}, err
		}
		tiers = append(tiers, reminder.Tier{Name: tc.Name, Label: tc.Label, Min: lo, Max: hi})
	}
	if _, err := reminder.NewMatcher(tiers); err != nil {
		return reminder.Config{}, fmt.Errorf("reminders.tiers: %w", err)
	}

	return reminder.Config{
		Poll:        strings.TrimSpace(rc.Poll),
		Location:    loc,
		SendDelay:   delay,
		SendTimeout: timeout,
		Strategies:  append([]string(nil), rc.Strategies...),
		Tiers:       tiers,
	}, nil
}

func mapStatusConfig(cfg *config.Config) (status.Config, error) {
	sc := cfg.Status
	rt, err := config.ParseDurationOrDefault("status.read_timeout", sc.ReadTimeout, 10*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("status.write_timeout", sc.WriteTimeout, 30*time.Second)
	if err != nil {
		return status.Config{}, err
	}
	if sc.Pprof && wt < 30*time.Second {
		// CPU profiles stream for 30s by default.
		wt = 35 * time.Second
	}
	return status.Config{
		Enabled:       sc.Enabled,
		Addr:          strings.TrimSpace(sc.Addr),
		Token:         strings.TrimSpace(sc.Token),
		AllowInsecure: sc.AllowInsecure,
		Pprof:         sc.Pprof,
		CORSOrigins:   append([]string(nil), sc.CORSOrigins...),
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}

func mapAdapterTimeouts(cfg *config.Config) (poll, command time.Duration, err error) {
	poll, err = config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return 0, 0, err
	}
	command, err = config.ParseDurationOrDefault("telegram.command_timeout", cfg.Telegram.CommandTimeout, 30*time.Second)
	if err != nil {
		return 0, 0, err
	}
	return poll, command, nil
}

// validateConfig rejects a config before it is committed, at boot and on
// every hot reload.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is empty")
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is empty (set it in the config or %s)", config.TokenEnv)
	}
	if _, err := mapLogConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapAdapterTimeouts(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	rc, err := mapReminderConfig(cfg)
	if err != nil {
		return err
	}
	for _, name := range rc.Strategies {
		if !reminder.KnownStrategy(name) {
			return fmt.Errorf("reminders.strategies: unknown strategy %q", name)
		}
	}
	if _, err := mapStatusConfig(cfg); err != nil {
		return err
	}
	return nil
}

// EventLocation is the zone event dates are stored in and read back in.
func EventLocation(cfg *config.Config) (*time.Location, error) {
	return config.ParseLocation("reminders.timezone", cfg.Reminders.Timezone)
}

// OpenStore opens the store configured in cfg. The CLI uses it for the
// offline subcommands.
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	return storage.Open(sc, log)
}
