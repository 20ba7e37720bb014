package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KongGithubDev/LightLink/internal/chat"
	"github.com/KongGithubDev/LightLink/internal/core"
	"github.com/KongGithubDev/LightLink/internal/metrics"
	"github.com/KongGithubDev/LightLink/internal/seriallink"
	"github.com/KongGithubDev/LightLink/internal/store"
	"github.com/KongGithubDev/LightLink/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("lightlink starting", "version", version, "mock", cfg.Mock)
	if cfg.Web.Token == defaultToken {
		logger.Warn("using the default token, set LIGHTLINK_TOKEN or web.token")
	}

	catalog, err := store.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "driver", cfg.Store.Driver, "err", err)
		os.Exit(1)
	}
	defer catalog.Close()

	m := metrics.New()
	events := core.NewBroadcaster(logger)
	events.SetObserver(m)
	hub := core.NewHub(core.Default(), events, catalog, logger, cfg.Mock)
	queue := core.NewQueue()
	dispatcher := core.NewDispatcher(hub, queue, logger,
		core.WithObserver(m),
		core.WithAllowedPins(cfg.AllowedPins),
	)
	m.Watch(hub, queue)

	// Start automation engine (no-op when built with no_automation tag).
	auto, autoWebOpts := initAutomation(dispatcher, cfg, logger)

	webOpts := []web.ServerOption{
		web.WithToken(cfg.Web.Token),
		web.WithVersion(version),
		web.WithReplayGuard(core.NewReplayGuard(cfg.Replay.MaxSkew, cfg.Replay.NonceTTL)),
		web.WithMetrics(m.Handler()),
		web.WithHeartbeat(cfg.Heartbeat.SSEInterval, cfg.Heartbeat.WSPingInterval, cfg.Heartbeat.WSPongTimeout),
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}
	if cfg.Chat.APIKey != "" && cfg.Chat.BotID != "" {
		webOpts = append(webOpts, web.WithChat(chat.NewClient(chat.Config{
			APIKey:  cfg.Chat.APIKey,
			BotID:   cfg.Chat.BotID,
			APIURL:  cfg.Chat.APIURL,
			Timeout: cfg.Chat.Timeout,
		})))
	} else {
		logger.Info("chat backend not configured, replies are generated locally")
	}
	webOpts = append(webOpts, autoWebOpts...)

	webServer := web.NewServer(dispatcher, logger, webOpts...)

	// No WriteTimeout: event streams stay open.
	httpServer := &http.Server{
		Addr:        cfg.Web.Listen,
		Handler:     webServer,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(dispatcher, cfg, logger)

	var serial *seriallink.Link
	if cfg.Serial.Port != "" {
		serial = seriallink.New(dispatcher, seriallink.SerialOpener(cfg.Serial.Port, cfg.Serial.Baud), logger)
		serial.Start()
		logger.Info("serial link enabled", "port", cfg.Serial.Port)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	auto.Stop()
	mqtt.Stop()
	if serial != nil {
		serial.Stop()
	}
	// Long-lived streams (SSE, sockets) end when the server stops them.
	webServer.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}

	logger.Info("goodbye")
}
