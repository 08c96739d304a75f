package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"accountd/core"
	"accountd/core/providers"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd(opts *globalOptions) *cobra.Command {
	defaults := DefaultAppConfig()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the account daemon",
		Long: `Run the control API and keep stored accounts refreshed in the
background until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			if opts.deps.deviceCode == nil {
				opts.deps.deviceCode = func(dc providers.DeviceCode) {
					slog.Info("microsoft login waiting for the user",
						"verification_uri", dc.VerificationURI,
						"user_code", dc.UserCode,
						"expires_at", dc.ExpiresAt,
					)
				}
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				return runServe(ctx, cmd, a, opts.deps.onListening)
			})
		},
	}

	cmd.Flags().String("listen", defaults.Listen, "control API listen address")
	cmd.Flags().Duration("refresh-interval", defaults.Core.Refresh.Interval, "how often stored accounts are checked for refresh")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, a *app, onListening func(net.Addr)) error {
	slog.SetDefault(a.logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	core.RegisterMetrics(reg)

	server := core.NewServer(a.list, reg, a.logger)
	httpServer := &http.Server{
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	listener, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Listen, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	refresherDone := make(chan struct{})
	if a.cfg.Core.Refresh.Enabled {
		refresher := core.NewRefresher(a.list, a.cfg.Core.Refresh.Interval, a.logger)
		go func() {
			defer close(refresherDone)
			refresher.Run(ctx)
		}()
	} else {
		close(refresherDone)
	}

	a.logger.Info("accountd ready",
		"addr", listener.Addr().String(),
		"accounts", a.list.Len(),
		"refresh_enabled", a.cfg.Core.Refresh.Enabled,
		"refresh_interval", a.cfg.Core.Refresh.Interval,
	)
	cmd.Printf("accountd listening on %s\n", listener.Addr())
	if onListening != nil {
		onListening(listener.Addr())
	}

	var serveErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case serveErr = <-errChan:
		a.logger.Error("control API failed", "error", serveErr)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("error stopping control API", "error", err)
	}
	<-refresherDone

	a.logger.Info("shutdown complete")
	if serveErr != nil {
		return fmt.Errorf("control API error: %w", serveErr)
	}
	return nil
}
