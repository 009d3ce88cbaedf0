package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the daemon configuration at ~/.chatsync/config.toml.
type Config struct {
	UserID       string `toml:"user_id"`
	TransportURL string `toml:"transport_url"`
	GatewayAddr  string `toml:"gateway_addr"`
	PollSeconds  int    `toml:"poll_seconds"`
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.GatewayAddr == "" {
		c.GatewayAddr = "127.0.0.1:7380"
	}
	if c.PollSeconds <= 0 {
		c.PollSeconds = 30
	}
}

// PollInterval returns the polling fallback cadence.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSeconds) * time.Second
}

// Load reads config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.Defaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
