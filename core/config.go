package core

import (
	"fmt"
	"time"
)

type Config struct {
	Crypto  CryptoConfig  `koanf:"crypto"`
	Refresh RefreshConfig `koanf:"refresh"`
}

type CryptoConfig struct {
	// Secret used to derive the at-rest token encryption key.
	// Empty disables encryption.
	EncryptionKey string `koanf:"encryption_key"`
}

type RefreshConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"` // how often accounts are checked
}

func DefaultConfig() Config {
	return Config{
		Refresh: RefreshConfig{
			Enabled:  true,
			Interval: time.Hour,
		},
	}
}

func (c Config) Validate() error {
	if c.Refresh.Enabled && c.Refresh.Interval <= 0 {
		return fmt.Errorf("refresh.interval must be positive, got %s", c.Refresh.Interval)
	}
	return nil
}
