package config

import (
	"os"
	"strconv"
	"time"
)

// ClientConfig holds realtime client configuration.
type ClientConfig struct {
	URL   string // websocket endpoint, e.g. "ws://localhost:8080/ws"
	Token string // bearer credential sent during the handshake

	AutoConnect       bool          // dial as soon as the client is constructed
	ReconnectAttempts int           // retry ceiling; 0 retries forever
	ReconnectDelay    time.Duration // base backoff delay
	MaxReconnectDelay time.Duration // backoff cap
	RequestTimeout    time.Duration // deadline for correlated calls
	MessageQueue      bool          // buffer operations issued while disconnected

	PresenceEnabled bool
	TypingEnabled   bool

	TypingTTL        time.Duration // inbound typing signal lifetime
	TypingInactivity time.Duration // outbound auto-stop window
	TypingDebounce   time.Duration // outbound coalescing window

	PingInterval time.Duration // app-level keepalive; 0 disables
}

// DefaultClientConfig returns the default realtime client configuration.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		URL:               "ws://localhost:8080/ws",
		AutoConnect:       false,
		ReconnectAttempts: 10,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		RequestTimeout:    10 * time.Second,
		MessageQueue:      true,
		PresenceEnabled:   true,
		TypingEnabled:     true,
		TypingTTL:         3 * time.Second,
		TypingInactivity:  time.Second,
		TypingDebounce:    300 * time.Millisecond,
		PingInterval:      30 * time.Second,
	}
}

// ClientConfigFromEnv loads client configuration from environment
// variables, falling back to defaults for any missing values.
func ClientConfigFromEnv() *ClientConfig {
	cfg := DefaultClientConfig()

	if url := os.Getenv("REALTIME_URL"); url != "" {
		cfg.URL = url
	}
	if token := os.Getenv("REALTIME_TOKEN"); token != "" {
		cfg.Token = token
	}
	if v := os.Getenv("REALTIME_RECONNECT_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ReconnectAttempts = n
		}
	}
	if v := os.Getenv("REALTIME_RECONNECT_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ReconnectDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("REALTIME_REQUEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("REALTIME_MESSAGE_QUEUE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MessageQueue = b
		}
	}
	if v := os.Getenv("REALTIME_PRESENCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.PresenceEnabled = b
		}
	}
	if v := os.Getenv("REALTIME_TYPING"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.TypingEnabled = b
		}
	}
	return cfg
}
