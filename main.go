// The engine serves real-time two-player matches over websockets: an
// authoritative simulation per session, a REST surface for creating and
// discovering games, and durable match records in SQLite.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"paddlearena/engine/internal/config"
	httpapi "paddlearena/engine/internal/http"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/pong"
	"paddlearena/engine/internal/session"
	"paddlearena/engine/internal/simulation"
	"paddlearena/engine/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging setup error:", err)
		os.Exit(1)
	}
	logging.ReplaceGlobals(logger)
	defer func() { _ = logger.Sync() }()

	//1.- The store is best effort at startup; readiness reports the failure
	// while the engine keeps serving matches from memory.
	var gateway storage.Gateway = storage.NopGateway{}
	var startupErr error
	if cfg.DatabasePath != "" {
		store, err := storage.Open(cfg.DatabasePath)
		if err != nil {
			startupErr = err
			logger.Error("persistence unavailable", logging.Error(err))
		} else {
			gateway = store
			defer func() { _ = store.Close() }()
		}
	}

	courtCfg := pong.DefaultConfig()
	courtCfg.MaxScore = cfg.MaxScore

	monitor := simulation.NewTickMonitor()
	registry := session.NewRegistry(
		session.WithLogger(logger),
		session.WithGateway(gateway),
		session.WithCourtConfig(courtCfg),
		session.WithTickRate(cfg.TickRate),
		session.WithGracePeriod(cfg.GracePeriod),
		session.WithTickMonitor(monitor),
		session.WithReplayRoot(cfg.ReplayDir),
	)

	var authenticator websocketAuthenticator = queryParamAuthenticator{}
	if cfg.AuthSecret != "" {
		authenticator, err = newHMACWebsocketAuthenticator(cfg.AuthSecret)
		if err != nil {
			logger.Fatal("websocket auth setup failed", logging.Error(err))
		}
	}

	server := NewServer(cfg, registry, authenticator, logger)
	handlers := httpapi.NewHandlerSet(httpapi.Options{
		Logger:        logger,
		Registry:      registry,
		StartupError:  func() error { return startupErr },
		TickStats:     monitor.Snapshot,
		CreateLimiter: httpapi.NewSlidingWindowLimiter(time.Minute, 120, nil),
	})

	mux := http.NewServeMux()
	handlers.Register(mux)
	mux.HandleFunc("/ws", server.ServeWS)

	httpServer := &http.Server{
		Addr:    cfg.Address,
		Handler: logging.HTTPTraceMiddleware(logger)(mux),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown incomplete", logging.Error(err))
		}
	}()

	httpURL, wsURL := listenerURLs(cfg.Address, false)
	logger.Info("engine listening", logging.String("url", httpURL), logging.String("ws", wsURL))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("listener failed", logging.Error(err))
	}
	logger.Info("engine stopped")
}
