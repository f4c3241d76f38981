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

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "agawan:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := LoadEnvFile(".env"); err != nil {
		return err
	}
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	logger := NewLogger(os.Stderr, cfg.LogLevel)

	var (
		db        *DB
		auth      *Auth
		analytics *Analytics
		recorder  Recorder
	)
	if cfg.DBPath != "" {
		db, err = OpenDB(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		auth = NewAuth(db, logger.WithPrefix("auth"))
		analytics = NewAnalytics(db, logger.WithPrefix("analytics"))
		defer analytics.Stop()
		recorder = analytics
		logger.Info("persistence enabled", "db", cfg.DBPath)
	}

	lobbies := NewLobbyManager(cfg.Lobby, cfg.Game, recorder, logger.WithPrefix("lobby"))
	defer lobbies.Shutdown()
	hub := NewHub(lobbies, db, auth, analytics, logger)
	started := time.Now()

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           SetupRoutes(hub, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return hub.Run(ctx) })
	g.Go(func() error { return lobbies.Run(ctx) })
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Addr, "client", cfg.ClientDir, "tick_hz", cfg.Game.TickRate)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.SSHAddr != "" {
		console := NewConsole(hub, started, logger.WithPrefix("ssh"))
		g.Go(func() error { return console.Run(ctx, cfg.SSHAddr, cfg.SSHHostKey) })
	}

	return g.Wait()
}
