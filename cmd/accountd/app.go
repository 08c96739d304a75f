package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/samber/oops"

	"accountd/core"
	"accountd/core/providers"
	"accountd/logging"
	"accountd/storage"
)

const serviceName = "accountd"

// app holds the components shared by every subcommand.
type app struct {
	cfg    *AppConfig
	logger *slog.Logger
	list   *core.AccountList
	close  func() error
}

// appDeps lets tests replace the account store and the providers.
type appDeps struct {
	logOutput  io.Writer
	repo       core.AccountRepository
	registry   *core.Registry
	deviceCode func(providers.DeviceCode)

	// onListening is called once the control API accepts connections.
	onListening func(net.Addr)
}

func openApp(ctx context.Context, cfg *AppConfig, deps appDeps) (*app, error) {
	logger := logging.Setup(serviceName, version, cfg.Log.Format, logging.ParseLevel(cfg.Log.Level), deps.logOutput)

	repo, closeRepo, err := openRepository(cfg, deps.repo, logger)
	if err != nil {
		return nil, err
	}

	registry := deps.registry
	if registry == nil {
		registry = providers.NewRegistry(cfg.Providers,
			providers.WithLogger(logger),
			providers.WithDeviceCodeHandler(deps.deviceCode),
		)
	}

	list := core.NewAccountList(repo, logger, core.WithRegistry(registry))
	if err := list.Load(ctx); err != nil {
		closeRepo()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, list: list, close: closeRepo}, nil
}

func openRepository(cfg *AppConfig, override core.AccountRepository, logger *slog.Logger) (core.AccountRepository, func() error, error) {
	noop := func() error { return nil }
	if override != nil {
		return override, noop, nil
	}

	switch strings.ToLower(cfg.DB.Type) {
	case dbTypeMock:
		logger.Info("using mock repository (in-memory)")
		return storage.NewMockRepository(), noop, nil
	case dbTypeSQLite:
		var opts []storage.Option
		if key := cfg.Core.Crypto.EncryptionKey; key != "" {
			cs, err := core.NewCryptoServiceFromSecret(key)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to initialize crypto service: %w", err)
			}
			opts = append(opts, storage.WithCrypto(cs))
		} else {
			logger.Warn("token encryption disabled, credentials are stored in plain text")
		}
		repo, err := storage.NewSQLiteRepository(cfg.DB.SQLitePath, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
		}
		logger.Debug("using SQLite database", "path", cfg.DB.SQLitePath)
		return repo, repo.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported db type %q", cfg.DB.Type)
	}
}

// resolveAccount finds an account by id, profile name or user name. An
// empty ref selects the default account.
func (a *app) resolveAccount(ref string) (*core.Account, error) {
	if ref == "" {
		if def := a.list.Default(); def != nil {
			return def, nil
		}
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Errorf("no default account set")
	}
	if acc, err := a.list.Get(ref); err == nil {
		return acc, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}

	var matches []*core.Account
	for _, acc := range a.list.All() {
		snap := acc.Snapshot()
		if strings.EqualFold(snap.ProfileName(), ref) || strings.EqualFold(snap.UserName(), ref) {
			matches = append(matches, acc)
		}
	}
	switch len(matches) {
	case 0:
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("account", ref).Wrap(core.ErrNotFound)
	case 1:
		return matches[0], nil
	default:
		return nil, oops.Code("ACCOUNT_AMBIGUOUS").With("account", ref).
			Errorf("%d accounts match %q, use the account id", len(matches), ref)
	}
}

func (a *app) isDefault(acc *core.Account) bool {
	def := a.list.Default()
	return def != nil && def.ID() == acc.ID()
}
