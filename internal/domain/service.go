package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gamesky/feedgen/internal/feeds"
	"github.com/gamesky/feedgen/internal/firehose"
)

const (
	// DefaultFeedLimit applies when a feed request carries no limit.
	DefaultFeedLimit = 30

	// MaxFeedLimit caps a single feed page.
	MaxFeedLimit = 100
)

// Service owns the write-side business logic: evaluating classified events
// against the feed rules, persisting the outcomes, and keeping the firehose
// cursor fresh.
type Service struct {
	registry *feeds.Registry
	skeets   SkeetRepository
	blocks   BlockRepository
	cursors  CursorRepository
	watched  map[string]struct{}
	logger   *slog.Logger

	mu       sync.Mutex
	cursorID string
	seq      int64
}

// NewService wires the service to its repositories. watchedLists holds the
// at:// URIs of the moderation lists whose members are blocked from feeds.
func NewService(
	registry *feeds.Registry,
	skeets SkeetRepository,
	blocks BlockRepository,
	cursors CursorRepository,
	watchedLists []string,
	logger *slog.Logger,
) *Service {
	watched := make(map[string]struct{}, len(watchedLists))
	for _, uri := range watchedLists {
		watched[uri] = struct{}{}
	}

	return &Service{
		registry: registry,
		skeets:   skeets,
		blocks:   blocks,
		cursors:  cursors,
		watched:  watched,
		logger:   logger,
	}
}

// Registry returns the feed set this service evaluates against.
func (s *Service) Registry() *feeds.Registry {
	return s.registry
}

// HandleSkeetEvent processes a classified app.bsky.feed.post event. Creates
// run every feed predicate and persist the post with its full membership
// when at least one feed matched; deletes propagate by URI.
func (s *Service) HandleSkeetEvent(ctx context.Context, ev *firehose.Event) error {
	switch ev.Action {
	case firehose.ActionCreate:
		return s.handleSkeetCreate(ctx, ev)
	case firehose.ActionDelete:
		if err := s.skeets.DeleteSkeet(ctx, ev.URI()); err != nil {
			return fmt.Errorf("delete skeet: %w", err)
		}
		return nil
	default:
		return nil
	}
}

func (s *Service) handleSkeetCreate(ctx context.Context, ev *firehose.Event) error {
	candidate := feeds.Candidate{
		Text:        ev.Text(),
		ReplyParent: ev.ReplyParent(),
	}

	relevant := s.registry.Match(candidate)
	if len(relevant) == 0 {
		s.logger.Debug("skeet is irrelevant", "uri", ev.URI())
		return nil
	}

	s.logger.Debug("skeet is relevant", "uri", ev.URI(), "feeds", relevant)

	skeet := &Skeet{
		URI:         ev.URI(),
		CID:         ev.CID,
		DID:         ev.DID,
		ReplyParent: ev.ReplyParent(),
		ReplyRoot:   ev.ReplyRoot(),
		IndexedAt:   time.Now().UTC(),
		Feeds:       relevant,
	}
	if err := s.skeets.CreateSkeet(ctx, skeet); err != nil {
		return fmt.Errorf("create skeet: %w", err)
	}
	return nil
}

// HandleListItemEvent processes a classified app.bsky.graph.listitem event.
// Items on watched moderation lists become blocks; items elsewhere are
// irrelevant.
func (s *Service) HandleListItemEvent(ctx context.Context, ev *firehose.Event) error {
	switch ev.Action {
	case firehose.ActionCreate:
		if ev.ListItem == nil {
			return nil
		}
		if _, ok := s.watched[ev.ListItem.List]; !ok {
			s.logger.Debug("list item is irrelevant", "list", ev.ListItem.List)
			return nil
		}

		s.logger.Debug("blocking user from feeds", "did", ev.ListItem.Subject)
		block := Block{
			Subject:   ev.ListItem.Subject,
			ListOwner: ev.DID,
			RKey:      ev.RKey,
		}
		if err := s.blocks.CreateBlock(ctx, block); err != nil {
			return fmt.Errorf("create block: %w", err)
		}
		return nil

	case firehose.ActionDelete:
		if err := s.blocks.DeleteBlock(ctx, ev.DID, ev.RKey); err != nil {
			return fmt.Errorf("delete block: %w", err)
		}
		return nil

	default:
		return nil
	}
}

// ObserveSeq records the latest processed sequence number for the next
// cursor flush. Sequence numbers below the current one are kept anyway; the
// stream itself is non-decreasing and reconnect replays are expected.
func (s *Service) ObserveSeq(seq int64) {
	if seq == 0 {
		return
	}
	s.mu.Lock()
	s.seq = seq
	s.mu.Unlock()
}

// FlushCursor persists the most recent observed sequence number, creating
// this worker's cursor row on first use. The write is a total overwrite.
func (s *Service) FlushCursor(ctx context.Context, worker string) error {
	s.mu.Lock()
	seq := s.seq
	id := s.cursorID
	s.mu.Unlock()

	if seq == 0 {
		return nil
	}

	if id == "" {
		newID, err := s.cursors.CreateCursor(ctx, worker, seq)
		if err != nil {
			return fmt.Errorf("create cursor: %w", err)
		}
		s.mu.Lock()
		s.cursorID = newID
		s.mu.Unlock()
		return nil
	}

	if err := s.cursors.UpdateCursor(ctx, id, seq); err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}
	return nil
}

// StartCursorFlush flushes the cursor on a fixed interval until ctx is
// cancelled. Flushing is periodic, not per-message, to bound write load.
func (s *Service) StartCursorFlush(ctx context.Context, worker string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.FlushCursor(ctx, worker); err != nil {
				s.logger.Error("failed to flush cursor", "error", err)
			}
		}
	}
}

// CleanupCursors reclaims cursor rows that went stale, so restarted workers
// don't accumulate dead bookmarks. Run once at startup.
func (s *Service) CleanupCursors(ctx context.Context, maxAge time.Duration) error {
	deleted, err := s.cursors.CleanupCursors(ctx, maxAge)
	if err != nil {
		return fmt.Errorf("cleanup cursors: %w", err)
	}
	if deleted > 0 {
		s.logger.Info("reclaimed stale cursors", "deleted", deleted)
	}
	return nil
}

// GenerateFeed returns one page of a feed, newest first. The limit is
// clamped to [1,100] with a default of 30.
func (s *Service) GenerateFeed(ctx context.Context, rkey string, cursor string, limit int) (*FeedPage, error) {
	if _, ok := s.registry.Lookup(rkey); !ok {
		return nil, fmt.Errorf("unknown feed: %s", rkey)
	}

	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		limit = MaxFeedLimit
	}

	page, err := s.skeets.GetFeed(ctx, rkey, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("get feed: %w", err)
	}
	return page, nil
}
