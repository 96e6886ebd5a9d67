package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/switchboard/internal/api"
	"github.com/nextlevelbuilder/switchboard/internal/channels"
	"github.com/nextlevelbuilder/switchboard/internal/config"
	"github.com/nextlevelbuilder/switchboard/internal/tracing"
)

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the switchboard: chat channels plus the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing.Enabled, cfg.Tracing.Endpoint, "switchboard", version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("trace shutdown failed", "error", err)
		}
	}()

	svc, closeStore, err := newService(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	manager := channels.NewManager()
	if cfg.Channels.Slack.BotToken != "" {
		ch, err := channels.NewSlack(channels.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
		}, svc)
		if err != nil {
			return err
		}
		manager.Add(ch)
	}
	if cfg.Channels.Telegram.Token != "" {
		ch, err := channels.NewTelegram(cfg.Channels.Telegram.Token, svc)
		if err != nil {
			return err
		}
		manager.Add(ch)
	}
	if cfg.Channels.Discord.Token != "" {
		ch, err := channels.NewDiscord(cfg.Channels.Discord.Token, svc)
		if err != nil {
			return err
		}
		manager.Add(ch)
	}
	manager.StartAll(ctx)

	mux := http.NewServeMux()
	api.NewHandler(svc.engineFor, cfg.HTTP.Token).RegisterRoutes(mux)
	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	manager.StopAll(shutdownCtx)
	return srv.Shutdown(shutdownCtx)
}
