package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

type Config struct {
	APIBaseURL            string `env:"API_BASE_URL,required"`
	LiveURL               string `env:"LIVE_URL"`
	RequestTimeoutSeconds int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	CredentialStoreURL    string `env:"CREDENTIAL_STORE_URL" envDefault:"memory://"`
	EncryptionKey         string `env:"ENCRYPTION_KEY"`
	LogLevel              string `env:"LOG_LEVEL" envDefault:"info"`
	Port                  int    `env:"PORT" envDefault:"8787"`
	BridgeToken           string `env:"BRIDGE_TOKEN"`
	ConfirmIntervalMillis int    `env:"CONFIRM_INTERVAL_MS" envDefault:"1000"`
	ReloadIntervalSeconds int    `env:"RELOAD_INTERVAL_SECONDS" envDefault:"0"`
	MaxReconnects         int    `env:"MAX_RECONNECTS" envDefault:"5"`
	UserType              string `env:"USER_TYPE" envDefault:"professional"`
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) ConfirmInterval() time.Duration {
	return time.Duration(c.ConfirmIntervalMillis) * time.Millisecond
}

func (c *Config) ReloadInterval() time.Duration {
	return time.Duration(c.ReloadIntervalSeconds) * time.Second
}

func (c *Config) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port)
}

// LiveEndpoint returns LIVE_URL, or the websocket form of API_BASE_URL + /ws.
func (c *Config) LiveEndpoint() string {
	if c.LiveURL != "" {
		return c.LiveURL
	}
	base := strings.TrimRight(c.APIBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) URL")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.ConfirmIntervalMillis < 0 {
		return fmt.Errorf("CONFIRM_INTERVAL_MS must not be negative")
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) != 64 {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes hex encoded (generate with: openssl rand -hex 32)")
	}
	switch c.UserType {
	case "client", "professional":
	default:
		return fmt.Errorf("USER_TYPE must be client or professional")
	}

	if strings.HasPrefix(c.APIBaseURL, "http://") && !isLoopback(c.APIBaseURL) {
		log.Warn().Msg("API_BASE_URL uses http:// (not TLS): bearer tokens travel in clear text")
	}
	if c.EncryptionKey == "" && c.CredentialStoreURL != "memory://" {
		log.Warn().Msg("ENCRYPTION_KEY is empty: the persisted credential will not be encrypted at rest")
	}

	return nil
}

func isLoopback(rawURL string) bool {
	return strings.Contains(rawURL, "://localhost") || strings.Contains(rawURL, "://127.0.0.1")
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
