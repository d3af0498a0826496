package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"warden/internal/analytics"
	"warden/internal/bot"
	"warden/internal/config"
	"warden/internal/modules/audit"
	"warden/internal/resolver"
	"warden/internal/server"
	"warden/internal/storage"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.New(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(store, logger)
	analyticsService := analytics.New(store)
	trackResolver := resolver.New(context.Background(), resolver.Options{
		YtdlpPath:           cfg.Music.YtdlpPath,
		Providers:           cfg.Music.SearchProviders,
		MaxPlaylistEntries:  cfg.Music.MaxPlaylistEntries,
		Timeout:             time.Duration(cfg.Music.ResolveTimeoutSeconds) * time.Second,
		SpotifyClientID:     cfg.Music.SpotifyClientID,
		SpotifyClientSecret: cfg.Music.SpotifyClientSecret,
		Logger:              logger.Named("resolver"),
	})

	botSvc, err := bot.New(cfg, logger, store, auditLogger, analyticsService, trackResolver)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started", zap.String("database", cfg.Database.Driver))

	var httpServer *server.Server
	if cfg.Health.Enabled {
		httpServer = server.New(cfg.Health.Addr, store, botSvc.Sessions(), logger)
		go func() {
			if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}
