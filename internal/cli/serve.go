// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nextcloud/go_call_client/internal/config"
	"github.com/nextcloud/go_call_client/internal/constants"
	"github.com/nextcloud/go_call_client/internal/handlers"
	"github.com/nextcloud/go_call_client/internal/service"
	"github.com/spf13/cobra"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the call daemon and its control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()
	f.String("listen-addr", "", "address the control API listens on")
	f.String("username", "", "identity to log in as on startup")
	f.String("call-control-url", "", "call control REST base URL")
	f.String("signaling-url", "", "signaling websocket URL")
	f.String("media-url", "", "media provider websocket URL")
	f.String("call-type", "", "call type requested for new calls (audio or video)")
	f.Duration("ring-timeout", 0, "how long an unanswered invite rings (0 disables)")
	f.String("capture", "", "local media source (static or devices)")
	f.Bool("skip-cert-verify", false, "skip TLS certificate verification")
	return cmd
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))

	slog.Info("starting callclient",
		"listen_addr", cfg.ListenAddr,
		"call_control", cfg.CallControlURL,
		"signaling", cfg.SignalingURL,
		"media", cfg.MediaURL,
	)
	if cfg.ControlSecret == "" {
		slog.Warn("control API is unauthenticated, set control_secret to protect it")
	}

	svc := service.NewApplication(cfg)
	h := handlers.NewHandler(svc, cfg.ControlSecret)

	srv := &http.Server{
		Handler:     h.NewRouter(),
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout, the event stream is long-lived
		IdleTimeout: 120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.ListenAddr, err)
	}
	slog.Info("HTTP server listening on TCP", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if cfg.Username != "" {
		loginCtx, cancel := context.WithTimeout(ctx, constants.CallControlTimeout)
		if _, err := svc.Login(loginCtx, cfg.Username); err != nil {
			slog.Error("startup login failed", "username", cfg.Username, "error", err)
		}
		cancel()
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			svc.Shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}
	slog.Info("shutting down")

	// blocks until media is left and the backend logout is sent, bounded
	// by constants.LogoutTimeout
	svc.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ServerShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
