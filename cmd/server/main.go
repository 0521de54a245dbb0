// The server binary serves the feed generator's XRPC read surface.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamesky/feedgen/internal/config"
	"github.com/gamesky/feedgen/internal/domain"
	"github.com/gamesky/feedgen/internal/feeds"
	"github.com/gamesky/feedgen/internal/httpserver"
	"github.com/gamesky/feedgen/internal/postgres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()

	repo, err := postgres.NewRepository(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("connected to database")

	registry := feeds.DefaultRegistry()
	service := domain.NewService(registry, repo, repo, repo, nil, logger)

	shutdownCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go runSkeetCleanup(shutdownCtx, repo, logger)

	server := httpserver.NewServer(cfg, service, logger)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited with error", "error", err)
		}
	}()

	logger.Info("server started", "port", cfg.Port, "hostname", cfg.Hostname)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("error shutting down http server", "error", err)
	}

	return nil
}

// runSkeetCleanup prunes stored posts past their retention window once an
// hour. Feed pages only ever surface recent posts, so expired rows are pure
// table growth.
func runSkeetCleanup(ctx context.Context, repo *postgres.Repository, logger *slog.Logger) {
	const retention = 30 * 24 * time.Hour

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := repo.DeleteOldSkeets(ctx, retention)
			if err != nil {
				logger.Error("failed to delete expired skeets", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Info("deleted expired skeets", "deleted", deleted)
			}
		}
	}
}
