package relay

import (
	"os"
	"strconv"
)

// Config holds relay server settings.
type Config struct {
	Addr         string // listen address, default ":4000"
	JWTSecret    string // HMAC secret for session tokens; empty enables dev auth
	HistoryLimit int    // per-room message history cap, default 200
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:         ":4000",
		HistoryLimit: 200,
	}
}

// ConfigFromEnv loads relay configuration from environment variables,
// falling back to defaults for any missing values.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if addr := os.Getenv("RELAY_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if secret := os.Getenv("RELAY_JWT_SECRET"); secret != "" {
		cfg.JWTSecret = secret
	}
	if limitStr := os.Getenv("RELAY_HISTORY_LIMIT"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			cfg.HistoryLimit = limit
		}
	}
	return cfg
}
