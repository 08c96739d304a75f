package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"accountd/core"
	"accountd/core/providers"
)

const (
	dbTypeSQLite = "sqlite"
	dbTypeMock   = "mock"

	defaultListenAddr = "127.0.0.1:8420"
	defaultDBPath     = "accounts.db"
)

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Core      core.Config      `koanf:"core"`
	Providers providers.Config `koanf:"providers"`

	DB     DBConfig  `koanf:"db"`
	Listen string    `koanf:"listen"`
	Log    LogConfig `koanf:"log"`
}

type DBConfig struct {
	Type       string `koanf:"type"`
	SQLitePath string `koanf:"sqlite_path"`
}

type LogConfig struct {
	Format string `koanf:"format"`
	Level  string `koanf:"level"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Core:      core.DefaultConfig(),
		Providers: providers.DefaultConfig(),
		DB:        DBConfig{Type: dbTypeSQLite, SQLitePath: defaultDBPath},
		Listen:    defaultListenAddr,
		Log:       LogConfig{Format: "text", Level: "info"},
	}
}

// Validate checks that the configuration is valid.
func (c *AppConfig) Validate() error {
	var errs []error
	if err := c.Core.Validate(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.DB.Type) {
	case dbTypeSQLite:
		if c.DB.SQLitePath == "" {
			errs = append(errs, errors.New("db.sqlite_path is required for the sqlite store"))
		}
	case dbTypeMock:
	default:
		errs = append(errs, fmt.Errorf("unsupported db.type %q (supported: sqlite, mock)", c.DB.Type))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format))
	}
	if c.Providers.Retries < 0 {
		errs = append(errs, fmt.Errorf("providers.retries must not be negative, got %d", c.Providers.Retries))
	}
	return errors.Join(errs...)
}

// flagKeys maps command line flags onto config keys. Flags not listed
// here are not configuration.
var flagKeys = map[string]string{
	"db-type":          "db.type",
	"db-path":          "db.sqlite_path",
	"log-format":       "log.format",
	"log-level":        "log.level",
	"mock-providers":   "providers.mock",
	"listen":           "listen",
	"refresh-interval": "core.refresh.interval",
}

// LoadConfig layers the defaults, the YAML file at path (if any) and the
// flags that were set on the command line, then validates the result.
func LoadConfig(path string, flags *pflag.FlagSet) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key := flagKeys[f.Name]
			if key == "" {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}
