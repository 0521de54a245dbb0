// Package postgres implements the domain repositories over PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/gamesky/feedgen/internal/domain"
)

// uniqueViolation is the Postgres error code raised on duplicate keys.
// Duplicates are expected under at-least-once redelivery and are swallowed.
const uniqueViolation = "23505"

// Repository implements domain.SkeetRepository, domain.BlockRepository, and
// domain.CursorRepository.
type Repository struct {
	db *sql.DB
}

// NewRepository connects to PostgreSQL at the given URL, verifies the
// connection, and returns a new Repository. The caller should call Close
// when the repository is no longer needed.
func NewRepository(databaseURL string) (*Repository, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Migrate creates the schema if it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS skeets (
			uri          TEXT PRIMARY KEY,
			cid          TEXT NOT NULL,
			did          TEXT NOT NULL,
			reply_parent TEXT,
			reply_root   TEXT,
			indexed_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS skeets_indexed_at_idx ON skeets (indexed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS feed_skeets (
			feed_rkey TEXT NOT NULL,
			skeet_uri TEXT NOT NULL REFERENCES skeets (uri) ON DELETE CASCADE,
			PRIMARY KEY (feed_rkey, skeet_uri)
		)`,
		`CREATE TABLE IF NOT EXISTS blocks (
			subject    TEXT NOT NULL,
			list_owner TEXT NOT NULL,
			rkey       TEXT NOT NULL,
			PRIMARY KEY (list_owner, rkey)
		)`,
		`CREATE TABLE IF NOT EXISTS cursors (
			id         UUID PRIMARY KEY,
			worker     TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// CreateSkeet upserts a skeet by URI and merges its feed membership. Calling
// it twice with the same input leaves one row whose membership is the union
// across calls.
func (r *Repository) CreateSkeet(ctx context.Context, skeet *domain.Skeet) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO skeets (uri, cid, did, reply_parent, reply_root, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (uri) DO NOTHING`,
		skeet.URI,
		skeet.CID,
		skeet.DID,
		nullable(skeet.ReplyParent),
		nullable(skeet.ReplyRoot),
		skeet.IndexedAt,
	)
	if err != nil {
		return fmt.Errorf("insert skeet: %w", err)
	}

	for _, rkey := range skeet.Feeds {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO feed_skeets (feed_rkey, skeet_uri)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`,
			rkey, skeet.URI,
		)
		if err != nil {
			return fmt.Errorf("insert feed membership: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteSkeet removes a skeet by URI. Deleting an absent skeet is a no-op.
func (r *Repository) DeleteSkeet(ctx context.Context, uri string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM skeets WHERE uri = $1`, uri)
	return err
}

// GetFeed retrieves one page of a feed's skeets, newest first, excluding
// authors on watched block lists. The cursor is the base64-encoded URI of
// the last skeet of the previous page; results are strictly older than it.
func (r *Repository) GetFeed(ctx context.Context, rkey string, cursor string, limit int) (*domain.FeedPage, error) {
	var (
		rows *sql.Rows
		err  error
	)

	if cursor != "" {
		uri, decodeErr := decodeFeedCursor(cursor)
		if decodeErr != nil {
			return nil, fmt.Errorf("invalid cursor %q: %w", cursor, decodeErr)
		}

		rows, err = r.db.QueryContext(ctx, `
			SELECT s.uri
			FROM skeets s
			JOIN feed_skeets fs ON fs.skeet_uri = s.uri
			WHERE fs.feed_rkey = $1
			  AND s.indexed_at < (SELECT indexed_at FROM skeets WHERE uri = $2)
			  AND NOT EXISTS (SELECT 1 FROM blocks b WHERE b.subject = s.did)
			ORDER BY s.indexed_at DESC
			LIMIT $3`,
			rkey, uri, limit,
		)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT s.uri
			FROM skeets s
			JOIN feed_skeets fs ON fs.skeet_uri = s.uri
			WHERE fs.feed_rkey = $1
			  AND NOT EXISTS (SELECT 1 FROM blocks b WHERE b.subject = s.did)
			ORDER BY s.indexed_at DESC
			LIMIT $2`,
			rkey, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query feed: %w", err)
	}
	defer rows.Close()

	var uris []string
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan skeet: %w", err)
		}
		uris = append(uris, uri)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skeets: %w", err)
	}

	return buildFeedPage(uris, limit), nil
}

// buildFeedPage assembles a feed page from query results. A next-page
// cursor, base64 of the last URI, is attached only when the page came back
// full; a short page means the feed is exhausted.
func buildFeedPage(uris []string, limit int) *domain.FeedPage {
	page := &domain.FeedPage{Posts: uris}
	if len(uris) > 0 && len(uris) == limit {
		page.Cursor = encodeFeedCursor(uris[len(uris)-1])
	}
	return page
}

// CreateBlock records a block. Duplicate (list_owner, rkey) pairs under
// redelivery leave exactly one active block.
func (r *Repository) CreateBlock(ctx context.Context, block domain.Block) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO blocks (subject, list_owner, rkey)
		VALUES ($1, $2, $3)
		ON CONFLICT (list_owner, rkey) DO NOTHING`,
		block.Subject, block.ListOwner, block.RKey,
	)
	if err != nil && !isUniqueViolation(err) {
		return err
	}
	return nil
}

// DeleteBlock removes a block, tolerating not-found.
func (r *Repository) DeleteBlock(ctx context.Context, listOwner, rkey string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM blocks WHERE list_owner = $1 AND rkey = $2`,
		listOwner, rkey,
	)
	return err
}

// GetOldestCursor returns the smallest persisted sequence number across
// workers, or 0 when no cursor exists yet.
func (r *Repository) GetOldestCursor(ctx context.Context) (int64, error) {
	var seq int64
	err := r.db.QueryRowContext(ctx,
		`SELECT seq FROM cursors ORDER BY seq ASC LIMIT 1`,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// CreateCursor inserts a cursor row for the worker and returns its id.
func (r *Repository) CreateCursor(ctx context.Context, worker string, seq int64) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursors (id, worker, seq, updated_at)
		VALUES ($1, $2, $3, $4)`,
		id, worker, seq, time.Now().UTC(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateCursor overwrites a cursor row's sequence number.
func (r *Repository) UpdateCursor(ctx context.Context, id string, seq int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE cursors SET seq = $2, updated_at = $3 WHERE id = $1`,
		id, seq, time.Now().UTC(),
	)
	return err
}

// CleanupCursors deletes cursor rows that have not been updated within
// maxAge. Returns the number of rows reclaimed.
func (r *Repository) CleanupCursors(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM cursors WHERE updated_at < $1`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOldSkeets removes skeets older than maxAge. Returns the number of
// rows deleted. Run periodically to bound table growth.
func (r *Repository) DeleteOldSkeets(ctx context.Context, maxAge time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM skeets WHERE indexed_at < $1`,
		time.Now().UTC().Add(-maxAge),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired skeets: %w", err)
	}
	return res.RowsAffected()
}

func encodeFeedCursor(uri string) string {
	return base64.StdEncoding.EncodeToString([]byte(uri))
}

func decodeFeedCursor(cursor string) (string, error) {
	uri, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("cursor is not valid base64: %w", err)
	}
	return string(uri), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
