package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Reminders RemindersConfig `json:"reminders"`
	Storage   StorageConfig   `json:"storage"`
	Status    StatusConfig    `json:"status,omitempty"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through EVENTBOT_TOKEN.
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// AlertChat is the chat id receiving warn+ log records when
	// logging.telegram.enabled is set.
	AlertChat      string `json:"alert_chat,omitempty"`
	PollTimeout    string `json:"poll_timeout,omitempty"`
	CommandTimeout string `json:"command_timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// RemindersConfig controls the reminder engine.
//
// Defaults (when fields are omitted):
//   - enabled: true
//   - poll: "1m" (also accepts cron like "@every 30s" or "*/2 * * * *")
//   - timezone: local time of the host (event dates carry no offset)
//   - send_delay: "500ms" between consecutive sends of one fan-out
//   - send_timeout: "10s" per delivery attempt
//   - strategies: every strategy the transport supports, in default order
//   - tiers: 1day [23h,25h], 1hour [50m,70m], 15min [10m,20m]
//   - persist_ledger: false (sent reminders are forgotten on restart)
type RemindersConfig struct {
	Enabled       *bool        `json:"enabled,omitempty"`
	Poll          string       `json:"poll,omitempty"`
	Timezone      string       `json:"timezone,omitempty"`
	SendDelay     string       `json:"send_delay,omitempty"`
	SendTimeout   string       `json:"send_timeout,omitempty"`
	Strategies    []string     `json:"strategies,omitempty"`
	Tiers         []TierConfig `json:"tiers,omitempty"`
	PersistLedger bool         `json:"persist_ledger,omitempty"`
}

// IsEnabled treats an omitted flag as enabled.
func (r RemindersConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// TierConfig is one reminder lead-time window. Label is the human phrase
// placed in the reminder ("in 1 day").
type TierConfig struct {
	Name  string `json:"name"`
	Label string `json:"label"`
	Min   string `json:"min"`
	Max   string `json:"max"`
}

// StorageConfig selects the event store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./data/database.json" }
//
// An empty path falls back to DATABASE_FILE / DATABASE_DIR.
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// StatusConfig controls the optional status HTTP server.
//
// Security note:
//   - Prefer binding to localhost (default "127.0.0.1:8088").
//   - A non-loopback address needs a token or allow_insecure.
type StatusConfig struct {
	Enabled       bool     `json:"enabled"`
	Addr          string   `json:"addr,omitempty"`
	Token         string   `json:"token,omitempty"` // bearer token (never logged)
	AllowInsecure bool     `json:"allow_insecure,omitempty"`
	Pprof         bool     `json:"pprof,omitempty"`
	CORSOrigins   []string `json:"cors_origins,omitempty"`
	ReadTimeout   string   `json:"read_timeout,omitempty"`
	WriteTimeout  string   `json:"write_timeout,omitempty"`
}

// Default returns the configuration written by `eventbot setup`.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{PollTimeout: "10s", CommandTimeout: "15s"},
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			File:     LoggingFile{Path: "./data/eventbot.log"},
			Telegram: LoggingTelegram{MinLevel: "warn", RatePerSec: 1},
		},
		Reminders: RemindersConfig{
			Poll:        "1m",
			SendDelay:   "500ms",
			SendTimeout: "10s",
		},
		Storage: StorageConfig{Driver: "file", Path: "./data/database.json"},
		Status:  StatusConfig{Addr: "127.0.0.1:8088"},
	}
}
