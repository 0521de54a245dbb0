// The ingest worker maintains the firehose connection and pushes raw frames
// onto the queue. It does no decoding; the sieve worker owns that.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gamesky/feedgen/internal/bluesky"
	"github.com/gamesky/feedgen/internal/config"
	"github.com/gamesky/feedgen/internal/firehose"
	"github.com/gamesky/feedgen/internal/postgres"
	"github.com/gamesky/feedgen/internal/queue"
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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := postgres.NewRepository(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	defer repo.Close()
	logger.Info("connected to database")

	// The queue is load-bearing: without it every frame read from the
	// firehose would be dropped on the floor.
	q, err := queue.Connect(ctx, cfg.NATSURL, "feedgen-ingest", cfg.QueueTimeout, logger)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	var credentials *firehose.Credentials
	var auth firehose.Authenticator
	if cfg.BskyHandle != "" {
		credentials = &firehose.Credentials{
			Username: cfg.BskyHandle,
			Password: cfg.BskyAppPassword,
		}
		auth = bluesky.NewClient("")
	}

	transport := firehose.NewTransport(cfg.ServiceHost, credentials, auth, logger)

	// A single-slot channel coalesces reconnect requests from the idle
	// timer and the read loop's error callback.
	reconnect := make(chan struct{}, 1)
	requestReconnect := func() {
		select {
		case reconnect <- struct{}{}:
		default:
		}
	}

	idleTimer := time.AfterFunc(cfg.IdleReconnect, func() {
		logger.Warn("no frames received within idle window, reconnecting", "window", cfg.IdleReconnect)
		requestReconnect()
	})
	defer idleTimer.Stop()

	transport.OnOpen = func() {
		logger.Info("firehose connected", "host", cfg.ServiceHost)
		idleTimer.Reset(cfg.IdleReconnect)
	}
	transport.OnFrame = func(frame []byte) {
		idleTimer.Reset(cfg.IdleReconnect)
		if err := q.Publish(ctx, frame); err != nil {
			logger.Error("failed to enqueue frame", "error", err)
		}
	}
	transport.OnError = func(err error) {
		logger.Warn("firehose connection failed", "error", err)
		requestReconnect()
	}

	connect := func() error {
		seq, err := repo.GetOldestCursor(ctx)
		if err != nil {
			logger.Error("failed to read resume cursor, starting live", "error", err)
			seq = 0
		}
		logger.Info("connecting to firehose", "cursor", seq)
		return transport.Connect(ctx, seq)
	}

	if err := connect(); err != nil {
		return fmt.Errorf("connect firehose: %w", err)
	}
	defer transport.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil

		case <-reconnect:
			transport.Close()
			for {
				err := connect()
				if err == nil {
					break
				}
				logger.Error("reconnect failed, retrying", "error", err)
				select {
				case <-time.After(time.Second):
				case sig := <-sigCh:
					logger.Info("received signal, shutting down", "signal", sig)
					cancel()
					return nil
				}
			}
		}
	}
}
