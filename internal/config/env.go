package config

import (
	"os"
	"strings"
)

// TokenEnv supplies telegram.token when the file leaves it empty.
const TokenEnv = "EVENTBOT_TOKEN"

func applyEnv(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		cfg.Telegram.Token = strings.TrimSpace(os.Getenv(TokenEnv))
	}
}
