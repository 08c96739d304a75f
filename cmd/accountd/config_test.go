package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"accountd/core/providers"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultAppConfig(), *cfg)
	assert.Equal(t, dbTypeSQLite, cfg.DB.Type)
	assert.True(t, cfg.Core.Refresh.Enabled)
	assert.Equal(t, providers.DefaultMojangAuthURL, cfg.Providers.Mojang.AuthURL)
}

func TestLoadConfig_FileAndFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accountd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: 0.0.0.0:9000
db:
  sqlite_path: /var/lib/accountd/accounts.db
log:
  level: debug
core:
  crypto:
    encryption_key: correct horse battery staple
  refresh:
    interval: 30m
providers:
  retries: 5
  msa:
    client_id: my-client
`), 0o600))

	defaults := DefaultAppConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("db-path", defaults.DB.SQLitePath, "")
	fs.String("log-level", defaults.Log.Level, "")
	fs.String("log-format", defaults.Log.Format, "")
	fs.String("unrelated", "ignored", "")
	require.NoError(t, fs.Parse([]string{"--db-path", "/tmp/override.db", "--unrelated", "x"}))

	cfg, err := LoadConfig(path, fs)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "/tmp/override.db", cfg.DB.SQLitePath)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "correct horse battery staple", cfg.Core.Crypto.EncryptionKey)
	assert.Equal(t, 30*time.Minute, cfg.Core.Refresh.Interval)
	assert.True(t, cfg.Core.Refresh.Enabled)
	assert.Equal(t, 5, cfg.Providers.Retries)
	assert.Equal(t, "my-client", cfg.Providers.MSA.ClientID)
	assert.Equal(t, providers.DefaultElybyAuthURL, cfg.Providers.Elyby.AuthURL)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.ErrorContains(t, err, "failed to load config file")
}

func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"defaults", func(*AppConfig) {}, ""},
		{"mock store", func(c *AppConfig) { c.DB.Type = "mock"; c.DB.SQLitePath = "" }, ""},
		{"unknown store", func(c *AppConfig) { c.DB.Type = "postgres" }, "unsupported db.type"},
		{"sqlite without path", func(c *AppConfig) { c.DB.SQLitePath = "" }, "db.sqlite_path is required"},
		{"bad log format", func(c *AppConfig) { c.Log.Format = "xml" }, "log.format"},
		{"zero refresh interval", func(c *AppConfig) { c.Core.Refresh.Interval = 0 }, "refresh.interval"},
		{"refresh disabled", func(c *AppConfig) { c.Core.Refresh.Enabled = false; c.Core.Refresh.Interval = 0 }, ""},
		{"negative retries", func(c *AppConfig) { c.Providers.Retries = -1 }, "providers.retries"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultAppConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
