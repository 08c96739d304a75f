package providers

import (
	"log/slog"
	"net/http"
	"time"

	"accountd/core"
)

// Config selects and configures the providers of a registry.
type Config struct {
	MSA    MSAConfig       `koanf:"msa"`
	Mojang YggdrasilConfig `koanf:"mojang"`
	Elyby  YggdrasilConfig `koanf:"elyby"`

	HTTPTimeout time.Duration `koanf:"http_timeout"`
	Retries     int           `koanf:"retries"`

	// Mock replaces every remote provider with a MockProvider. For
	// development without network access.
	Mock bool `koanf:"mock"`
}

func DefaultConfig() Config {
	return Config{
		Mojang:      YggdrasilConfig{AuthURL: DefaultMojangAuthURL},
		Elyby:       YggdrasilConfig{AuthURL: DefaultElybyAuthURL},
		HTTPTimeout: defaultHTTPTimeout,
		Retries:     defaultRetries,
	}
}

type Option func(*options)

type options struct {
	httpClient   *http.Client
	retries      int
	logger       *slog.Logger
	now          func() time.Time
	onDeviceCode func(DeviceCode)
}

func newOptions(opts []Option) *options {
	o := &options{
		retries: defaultRetries,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRetries sets how often a transient provider failure is retried.
func WithRetries(n int) Option {
	return func(o *options) { o.retries = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithDeviceCodeHandler is called with the code the user has to enter
// during an interactive Microsoft login.
func WithDeviceCodeHandler(fn func(DeviceCode)) Option {
	return func(o *options) { o.onDeviceCode = fn }
}

// NewRegistry builds the provider registry described by cfg. The Microsoft
// provider is only registered when a client id is configured.
func NewRegistry(cfg Config, opts ...Option) *core.Registry {
	o := newOptions(opts)
	if cfg.Mock {
		o.logger.Warn("using mock providers, logins are not verified")
		return core.NewRegistry(
			core.LocalProvider{Now: o.now},
			NewMockProvider(core.AccountTypeMSA),
			NewMockProvider(core.AccountTypeMojang),
			NewMockProvider(core.AccountTypeElyby),
		)
	}
	base := []Option{WithRetries(cfg.Retries), WithLogger(o.logger), WithClock(o.now)}
	if o.httpClient != nil {
		base = append(base, WithHTTPClient(o.httpClient))
	} else if cfg.HTTPTimeout > 0 {
		base = append(base, WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}))
	}

	reg := core.NewRegistry(
		core.LocalProvider{Now: o.now},
		NewMojangProvider(cfg.Mojang, base...),
		NewElybyProvider(cfg.Elyby, base...),
	)
	if cfg.MSA.ClientID != "" {
		reg.Register(NewMSAProvider(cfg.MSA, append(base, WithDeviceCodeHandler(o.onDeviceCode))...))
	} else {
		o.logger.Info("msa provider disabled, no client id configured")
	}
	return reg
}
