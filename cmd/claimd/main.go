package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sitaurs/pterodactyl-claim/app"
	"github.com/sitaurs/pterodactyl-claim/types/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to the TOML configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", *configPath), slog.Any("error", err))
		os.Exit(1)
	}
	slog.SetDefault(cfg.Log.NewLogger())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(ctx, cfg)
	if err != nil {
		slog.Error("failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("claim service starting",
		slog.String("instance", cfg.Instance),
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.Server.Port))

	err = container.Run(ctx)
	container.Close()
	if err != nil {
		slog.Error("claim service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("claim service stopped")
}
