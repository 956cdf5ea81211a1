package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/balzhinimaev/anomchat/config"
	"github.com/balzhinimaev/anomchat/internal/breaker"
	"github.com/balzhinimaev/anomchat/internal/chatrouter"
	"github.com/balzhinimaev/anomchat/internal/directory"
	"github.com/balzhinimaev/anomchat/internal/hub"
	"github.com/balzhinimaev/anomchat/internal/janitor"
	"github.com/balzhinimaev/anomchat/internal/matcher"
	"github.com/balzhinimaev/anomchat/internal/server"
	"github.com/balzhinimaev/anomchat/internal/stats"
	"github.com/balzhinimaev/anomchat/internal/store"
	"github.com/balzhinimaev/anomchat/internal/token"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	logger.Info("starting anomchat server", "port", cfg.Server.Port, "env", cfg.Server.Env)

	logger.Info("initializing storage")
	st, err := store.New(ctx, cfg.Database.URL, cfg.Redis.URL, logger)
	if err != nil {
		logger.Error("failed to connect to storage", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	logger.Info("initializing schema")
	if err := st.InitSchema(); err != nil {
		logger.Error("failed to initialize schema", "error", err)
		os.Exit(1)
	}

	dir := directory.New(st.DB)
	verifier := token.NewVerifier(cfg.JWT.Secret)

	connectionHub := hub.New(hub.Config{
		HeartbeatInterval: cfg.WebSocket.HeartbeatInterval,
		HeartbeatTimeout:  cfg.WebSocket.HeartbeatTimeout,
		WriteWait:         cfg.WebSocket.WriteWait,
		MaxMessageSize:    cfg.WebSocket.MaxMessageSize,
		DisconnectGrace:   10 * time.Second,
		RoomRetention:     2 * time.Minute,
		ReconnectWindow:   2 * time.Minute,
	}, dir, nil, st.RDB, uuid.New().String(), logger)

	statsBroadcaster := stats.New(st, connectionHub, cfg.Stats.CacheTTL, cfg.Stats.DebounceWindow)
	connectionHub.SetStatsNudger(statsBroadcaster)

	matcherBreaker := breaker.New(cfg.Matcher.CircuitFailureThreshold, cfg.Matcher.CircuitResetTimeout, cfg.Matcher.CircuitHalfOpenAttempts)
	m := matcher.New(st, dir, connectionHub, statsBroadcaster, matcherBreaker, cfg.Matcher.SearchTTL, logger)
	connectionHub.SetSearchCanceller(m)

	chatBreaker := breaker.New(5, 30*time.Second, 3)
	chatRouter := chatrouter.New(st, connectionHub, chatBreaker, logger)

	janitorLoop := janitor.New(janitor.Config{
		SearchExpiryInterval: cfg.Janitor.SearchExpiryInterval,
		ChatExpiryInterval:   cfg.Janitor.ChatExpiryInterval,
		RetentionInterval:    cfg.Janitor.RetentionInterval,
	}, st, m, connectionHub, logger)

	srv := server.New(connectionHub, m, chatRouter, statsBroadcaster, st, verifier, cfg.Server.AllowOrigins, logger)

	go connectionHub.Run()
	go connectionHub.ListenToRedis()
	go janitorLoop.Run(ctx)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.NewRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	connectionHub.Stop()
}
