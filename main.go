package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"canvasrelay/internal/canvasstate"
	"canvasrelay/internal/config"
	"canvasrelay/internal/http/http_server"
	"canvasrelay/internal/registry"
	"canvasrelay/internal/services/session"
	"canvasrelay/internal/sweeper"
	"canvasrelay/internal/ws"

	"go.uber.org/zap"
)

var (
	Log, _ = zap.NewDevelopment()
)

func main() {
	defer Log.Sync()
	zap.ReplaceGlobals(Log)

	// 1. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		Log.Fatal("Failed to load configuration", zap.Error(err))
	}
	Log.Debug("Configuration loaded successfully", zap.Any("config", cfg))

	// 2. Context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGINT, syscall.SIGTERM,
	)
	defer stop()

	// 3. Core state: room registry + versioned canvas store
	reg := registry.New(cfg.EmptyRoomDelay)
	store := canvasstate.New()

	// 4. WebSockets hub (transport fan-out)
	hub := ws.NewHub()

	// 5. Session dispatcher on top of registry/store/hub
	sessionSvc := session.NewSessionService(reg, store, hub)

	// 6. Background: periodic room/state eviction
	sweeper.Run(ctx, reg, store, sweeper.Config{
		Interval:    cfg.SweepInterval,
		RoomMaxAge:  cfg.RoomInactiveMaxAge,
		StateMaxAge: cfg.CanvasStateMaxAge,
	})

	// 7. Initialize the WS server
	wsSrv := ws.NewWsServer(hub, sessionSvc, cfg.WsReadLimit)

	// 8. HTTP + WS server
	httpServer := http_server.NewHttpServer(ctx, cfg.HttpServerPort, cfg.ClientDir, wsSrv, reg, store)
	go func() {
		<-ctx.Done()
		_ = httpServer.Dispose()
	}()
	if err := httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		Log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
}
