package domain

import (
	"context"
	"time"
)

// SkeetRepository defines persistence for matched posts.
type SkeetRepository interface {
	// CreateSkeet upserts by URI. Replaying the same skeet must keep one
	// stored row whose feed membership is the union across calls.
	CreateSkeet(ctx context.Context, skeet *Skeet) error

	// DeleteSkeet removes a post by URI, tolerating not-found.
	DeleteSkeet(ctx context.Context, uri string) error

	// GetFeed pages through a feed's skeets, newest first, strictly older
	// than the post the cursor identifies. The cursor is base64 of the last
	// returned URI and is present only on full pages.
	GetFeed(ctx context.Context, rkey string, cursor string, limit int) (*FeedPage, error)
}

// BlockRepository defines persistence for moderation-list blocks.
type BlockRepository interface {
	// CreateBlock records a block, tolerating duplicates under redelivery.
	CreateBlock(ctx context.Context, block Block) error

	// DeleteBlock removes a block by its list owner and record key,
	// tolerating not-found.
	DeleteBlock(ctx context.Context, listOwner, rkey string) error
}

// CursorRepository defines per-worker firehose cursor persistence.
type CursorRepository interface {
	// GetOldestCursor returns the smallest persisted sequence number across
	// workers, or 0 when none exists.
	GetOldestCursor(ctx context.Context) (int64, error)

	// CreateCursor inserts a cursor row for the worker and returns its id.
	CreateCursor(ctx context.Context, worker string, seq int64) (string, error)

	// UpdateCursor overwrites the row's sequence number.
	UpdateCursor(ctx context.Context, id string, seq int64) error

	// CleanupCursors deletes rows not updated within maxAge and returns how
	// many were removed.
	CleanupCursors(ctx context.Context, maxAge time.Duration) (int64, error)
}
