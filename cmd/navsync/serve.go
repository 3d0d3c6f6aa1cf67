package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/navsync/internal/auth"
	"github.com/dukerupert/navsync/internal/backup"
	"github.com/dukerupert/navsync/internal/blob"
	"github.com/dukerupert/navsync/internal/database"
	"github.com/dukerupert/navsync/internal/server"
	"github.com/dukerupert/navsync/internal/store"
	ws "github.com/dukerupert/navsync/internal/websocket"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the backup server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	logger, closer := buildLogger()
	defer closer.Close()

	db, err := database.Open(cfg.Server.DBPath, database.Server)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	blobs, err := blob.New(cfg.Storage.Blob())
	if err != nil {
		return fmt.Errorf("creating blob store: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.Server.JWTSecret)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := ws.NewHub(logger.With("component", "websocket"))
	svc := backup.NewService(
		backup.Config{RootDir: cfg.Storage.RootDir, MaxRetained: cfg.Server.MaxRetained},
		blobs,
		store.NewBackupStore(db),
		logger.With("component", "backup"),
		backup.WithMetrics(backup.NewMetrics(reg)),
		backup.WithNotifier(ws.BackupNotifier{Hub: hub}),
	)

	srv := server.New(db, svc, hub, verifier, reg, server.Config{
		OriginPatterns:  cfg.Server.OriginPatterns,
		MaxPayloadBytes: cfg.Server.MaxPayloadBytes,
		CreateLimit:     cfg.Server.CreateLimit,
		CreateWindow:    time.Minute,
	}, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())

	g.Go(func() error {
		logger.Info("navsync server listening", "addr", cfg.Server.Listen, "storage", cfg.Storage.Provider)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}
