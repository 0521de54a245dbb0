// The sieve worker drains frames from the queue, decodes them, classifies
// repo operations into events, and applies the relevance rules against the
// database.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/gamesky/feedgen/internal/bluesky"
	"github.com/gamesky/feedgen/internal/config"
	"github.com/gamesky/feedgen/internal/domain"
	"github.com/gamesky/feedgen/internal/feeds"
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
	if err := repo.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info("connected to database")

	registry := feeds.DefaultRegistry()
	service := domain.NewService(
		registry,
		repo, repo, repo,
		domain.AllBlockLists(domain.DefaultBlockLists),
		logger,
	)

	// Abandoned cursor rows from crashed workers would otherwise pin the
	// resume point forever.
	if err := service.CleanupCursors(ctx, cfg.CursorMaxAge); err != nil {
		logger.Error("failed to clean up stale cursors", "error", err)
	}

	syncBlockLists(ctx, cfg, service, logger)

	bus := firehose.NewBus()
	collector := &errCollector{}

	bus.Subscribe("app.bsky.feed.post", func(ev *firehose.Event) {
		collector.add(service.HandleSkeetEvent(ctx, ev))
	})
	bus.Subscribe("app.bsky.graph.listitem", func(ev *firehose.Event) {
		collector.add(service.HandleListItemEvent(ctx, ev))
	})

	classifier := firehose.NewClassifier(bus, logger)

	q, err := queue.Connect(ctx, cfg.NATSURL, "feedgen-sieve", cfg.QueueTimeout, logger)
	if err != nil {
		return fmt.Errorf("connect queue: %w", err)
	}
	defer q.Close()

	handler := func(ctx context.Context, frame []byte) error {
		env, err := firehose.DecodeEnvelope(frame)
		if err != nil {
			// A frame that fails to decode will never succeed;
			// redelivering it would wedge the consumer.
			logger.Error("discarding undecodable frame", "error", err, "bytes", len(frame))
			return nil
		}

		switch env.Kind {
		case firehose.KindCommit:
			classifier.HandleCommit(env)
		case firehose.KindError:
			logger.Warn("firehose error frame", "error", env.Err.Error, "message", env.Err.Message)
		case firehose.KindHandle, firehose.KindInfo, firehose.KindMigrate, firehose.KindTombstone:
			logger.Debug("skipping identity frame", "type", env.Header.Type)
		default:
			logger.Debug("skipping unknown frame", "type", env.Header.Type)
		}

		if err := collector.flush(); err != nil {
			return err
		}

		service.ObserveSeq(env.Seq())
		return nil
	}

	consumeCtx, err := q.Consume(ctx, "feedgen-sieve", handler)
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	worker := workerName()
	go service.StartCursorFlush(ctx, worker, cfg.CursorFlushInterval)

	logger.Info("sieve started", "worker", worker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()

	return nil
}

// syncBlockLists refreshes the block table from the configured moderation
// lists. Failures are logged and tolerated; the worker still starts with
// whatever block state the database already holds.
func syncBlockLists(ctx context.Context, cfg *config.Config, service *domain.Service, logger *slog.Logger) {
	client := bluesky.NewClient("")
	if cfg.BskyHandle != "" {
		if err := client.Login(ctx, cfg.BskyHandle, cfg.BskyAppPassword); err != nil {
			logger.Error("failed to log in for block list sync", "error", err)
			return
		}
	}

	source := &listItemSource{client: client}
	if err := service.SyncBlockLists(ctx, source, domain.DefaultBlockLists, logger); err != nil {
		logger.Error("failed to sync block lists", "error", err)
	}
}

// listItemSource adapts the PDS client's record listing to the shape the
// block list sync expects.
type listItemSource struct {
	client *bluesky.Client
}

func (s *listItemSource) ListItems(ctx context.Context, repo, cursor string) ([]domain.ListItemEntry, string, error) {
	records, next, err := s.client.ListRecords(ctx, repo, "app.bsky.graph.listitem", 100, cursor)
	if err != nil {
		return nil, "", err
	}

	entries := make([]domain.ListItemEntry, 0, len(records))
	for _, rec := range records {
		var value struct {
			List    string `json:"list"`
			Subject string `json:"subject"`
		}
		if err := json.Unmarshal(rec.Value, &value); err != nil {
			return nil, "", fmt.Errorf("unmarshal list item %s: %w", rec.URI, err)
		}
		entries = append(entries, domain.ListItemEntry{
			URI:     rec.URI,
			List:    value.List,
			Subject: value.Subject,
		})
	}

	return entries, next, nil
}

// errCollector gathers handler errors raised during a single frame's bus
// dispatch. The consumer processes one frame at a time, so no locking is
// needed.
type errCollector struct {
	errs []error
}

func (c *errCollector) add(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

func (c *errCollector) flush() error {
	err := errors.Join(c.errs...)
	c.errs = nil
	return err
}

func workerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "sieve"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
