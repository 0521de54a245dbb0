package domain

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamesky/feedgen/internal/feeds"
	"github.com/gamesky/feedgen/internal/firehose"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeSkeetRepo mimics the upsert-with-membership-union contract in memory.
type fakeSkeetRepo struct {
	skeets  map[string]*Skeet
	creates int
	deletes int
	feedErr error
}

func newFakeSkeetRepo() *fakeSkeetRepo {
	return &fakeSkeetRepo{skeets: make(map[string]*Skeet)}
}

func (r *fakeSkeetRepo) CreateSkeet(_ context.Context, skeet *Skeet) error {
	r.creates++
	existing, ok := r.skeets[skeet.URI]
	if !ok {
		stored := *skeet
		r.skeets[skeet.URI] = &stored
		return nil
	}
	for _, rkey := range skeet.Feeds {
		found := false
		for _, have := range existing.Feeds {
			if have == rkey {
				found = true
				break
			}
		}
		if !found {
			existing.Feeds = append(existing.Feeds, rkey)
		}
	}
	return nil
}

func (r *fakeSkeetRepo) DeleteSkeet(_ context.Context, uri string) error {
	r.deletes++
	delete(r.skeets, uri)
	return nil
}

func (r *fakeSkeetRepo) GetFeed(_ context.Context, rkey string, cursor string, limit int) (*FeedPage, error) {
	if r.feedErr != nil {
		return nil, r.feedErr
	}
	return &FeedPage{}, nil
}

type fakeBlockRepo struct {
	blocks map[string]Block
}

func newFakeBlockRepo() *fakeBlockRepo {
	return &fakeBlockRepo{blocks: make(map[string]Block)}
}

func blockKey(listOwner, rkey string) string {
	return listOwner + "/" + rkey
}

func (r *fakeBlockRepo) CreateBlock(_ context.Context, block Block) error {
	r.blocks[blockKey(block.ListOwner, block.RKey)] = block
	return nil
}

func (r *fakeBlockRepo) DeleteBlock(_ context.Context, listOwner, rkey string) error {
	delete(r.blocks, blockKey(listOwner, rkey))
	return nil
}

type fakeCursorRepo struct {
	rows    map[string]*Cursor
	nextID  int
	creates int
	updates int
}

func newFakeCursorRepo() *fakeCursorRepo {
	return &fakeCursorRepo{rows: make(map[string]*Cursor)}
}

func (r *fakeCursorRepo) GetOldestCursor(_ context.Context) (int64, error) {
	var oldest int64
	for _, row := range r.rows {
		if oldest == 0 || row.Seq < oldest {
			oldest = row.Seq
		}
	}
	return oldest, nil
}

func (r *fakeCursorRepo) CreateCursor(_ context.Context, worker string, seq int64) (string, error) {
	r.creates++
	r.nextID++
	id := fmt.Sprintf("cursor-%d", r.nextID)
	r.rows[id] = &Cursor{ID: id, Worker: worker, Seq: seq, UpdatedAt: time.Now()}
	return id, nil
}

func (r *fakeCursorRepo) UpdateCursor(_ context.Context, id string, seq int64) error {
	r.updates++
	row, ok := r.rows[id]
	if !ok {
		return fmt.Errorf("no cursor row %s", id)
	}
	row.Seq = seq
	row.UpdatedAt = time.Now()
	return nil
}

func (r *fakeCursorRepo) CleanupCursors(_ context.Context, maxAge time.Duration) (int64, error) {
	var deleted int64
	for id, row := range r.rows {
		if time.Since(row.UpdatedAt) > maxAge {
			delete(r.rows, id)
			deleted++
		}
	}
	return deleted, nil
}

const watchedList = "at://did:plc:mod/app.bsky.graph.list/blocked"

func newTestService(skeets *fakeSkeetRepo, blocks *fakeBlockRepo, cursors *fakeCursorRepo) *Service {
	return NewService(
		feeds.DefaultRegistry(),
		skeets, blocks, cursors,
		[]string{watchedList},
		testLogger,
	)
}

func postEvent(action firehose.Action, rkey, text string) *firehose.Event {
	ev := &firehose.Event{
		Kind:      firehose.EventPost,
		Action:    action,
		DID:       "did:plc:author",
		Namespace: "app.bsky.feed.post",
		RKey:      rkey,
		CID:       "bafyfake",
	}
	if action == firehose.ActionCreate {
		ev.Post = &firehose.PostRecord{Type: "app.bsky.feed.post", Text: text}
	}
	return ev
}

func TestHandleSkeetEventRelevantCreate(t *testing.T) {
	skeets := newFakeSkeetRepo()
	service := newTestService(skeets, newFakeBlockRepo(), newFakeCursorRepo())

	ev := postEvent(firehose.ActionCreate, "3jwd", "devlog time #gamedev")
	require.NoError(t, service.HandleSkeetEvent(context.Background(), ev))

	stored, ok := skeets.skeets[ev.URI()]
	require.True(t, ok)
	assert.Equal(t, "did:plc:author", stored.DID)
	assert.Contains(t, stored.Feeds, "game-dev")
	assert.False(t, stored.IndexedAt.IsZero())
}

func TestHandleSkeetEventIrrelevantCreate(t *testing.T) {
	skeets := newFakeSkeetRepo()
	service := newTestService(skeets, newFakeBlockRepo(), newFakeCursorRepo())

	ev := postEvent(firehose.ActionCreate, "3jwd", "pictures of my lunch")
	require.NoError(t, service.HandleSkeetEvent(context.Background(), ev))

	assert.Empty(t, skeets.skeets)
	assert.Zero(t, skeets.creates)
}

func TestHandleSkeetEventRedelivery(t *testing.T) {
	skeets := newFakeSkeetRepo()
	service := newTestService(skeets, newFakeBlockRepo(), newFakeCursorRepo())

	ev := postEvent(firehose.ActionCreate, "3jwd", "ScreenshotSaturday #gamedev")
	require.NoError(t, service.HandleSkeetEvent(context.Background(), ev))
	require.NoError(t, service.HandleSkeetEvent(context.Background(), ev))

	// Redelivery leaves one stored row with the union of memberships.
	require.Len(t, skeets.skeets, 1)
	stored := skeets.skeets[ev.URI()]
	assert.ElementsMatch(t, []string{"game-dev", "screenshot-saturday"}, stored.Feeds)
}

func TestHandleSkeetEventDelete(t *testing.T) {
	skeets := newFakeSkeetRepo()
	service := newTestService(skeets, newFakeBlockRepo(), newFakeCursorRepo())

	create := postEvent(firehose.ActionCreate, "3jwd", "#gamedev")
	require.NoError(t, service.HandleSkeetEvent(context.Background(), create))
	require.Len(t, skeets.skeets, 1)

	del := postEvent(firehose.ActionDelete, "3jwd", "")
	require.NoError(t, service.HandleSkeetEvent(context.Background(), del))
	assert.Empty(t, skeets.skeets)

	// Deleting a post that was never stored is fine.
	require.NoError(t, service.HandleSkeetEvent(context.Background(), del))
}

func TestHandleListItemEventWatchedList(t *testing.T) {
	blocks := newFakeBlockRepo()
	service := newTestService(newFakeSkeetRepo(), blocks, newFakeCursorRepo())

	ev := &firehose.Event{
		Kind:      firehose.EventListItem,
		Action:    firehose.ActionCreate,
		DID:       "did:plc:mod",
		Namespace: "app.bsky.graph.listitem",
		RKey:      "3item",
		ListItem: &firehose.ListItemRecord{
			List:    watchedList,
			Subject: "did:plc:spammer",
		},
	}
	require.NoError(t, service.HandleListItemEvent(context.Background(), ev))

	block, ok := blocks.blocks[blockKey("did:plc:mod", "3item")]
	require.True(t, ok)
	assert.Equal(t, "did:plc:spammer", block.Subject)

	// Replaying the same item keeps a single block.
	require.NoError(t, service.HandleListItemEvent(context.Background(), ev))
	assert.Len(t, blocks.blocks, 1)
}

func TestHandleListItemEventUnwatchedList(t *testing.T) {
	blocks := newFakeBlockRepo()
	service := newTestService(newFakeSkeetRepo(), blocks, newFakeCursorRepo())

	ev := &firehose.Event{
		Kind:      firehose.EventListItem,
		Action:    firehose.ActionCreate,
		DID:       "did:plc:someone",
		Namespace: "app.bsky.graph.listitem",
		RKey:      "3item",
		ListItem: &firehose.ListItemRecord{
			List:    "at://did:plc:someone/app.bsky.graph.list/favorites",
			Subject: "did:plc:friend",
		},
	}
	require.NoError(t, service.HandleListItemEvent(context.Background(), ev))
	assert.Empty(t, blocks.blocks)
}

func TestHandleListItemEventDelete(t *testing.T) {
	blocks := newFakeBlockRepo()
	service := newTestService(newFakeSkeetRepo(), blocks, newFakeCursorRepo())

	blocks.blocks[blockKey("did:plc:mod", "3item")] = Block{Subject: "did:plc:spammer"}

	ev := &firehose.Event{
		Kind:      firehose.EventListItem,
		Action:    firehose.ActionDelete,
		DID:       "did:plc:mod",
		Namespace: "app.bsky.graph.listitem",
		RKey:      "3item",
	}
	require.NoError(t, service.HandleListItemEvent(context.Background(), ev))
	assert.Empty(t, blocks.blocks)
}

func TestCursorFlushLifecycle(t *testing.T) {
	cursors := newFakeCursorRepo()
	service := newTestService(newFakeSkeetRepo(), newFakeBlockRepo(), cursors)
	ctx := context.Background()

	// Nothing observed yet, nothing written.
	require.NoError(t, service.FlushCursor(ctx, "worker-a"))
	assert.Zero(t, cursors.creates)

	service.ObserveSeq(100)
	require.NoError(t, service.FlushCursor(ctx, "worker-a"))
	assert.Equal(t, 1, cursors.creates)

	// Later flushes update the same row.
	service.ObserveSeq(250)
	require.NoError(t, service.FlushCursor(ctx, "worker-a"))
	assert.Equal(t, 1, cursors.creates)
	assert.Equal(t, 1, cursors.updates)

	oldest, err := cursors.GetOldestCursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(250), oldest)
}

func TestObserveSeqIgnoresZero(t *testing.T) {
	cursors := newFakeCursorRepo()
	service := newTestService(newFakeSkeetRepo(), newFakeBlockRepo(), cursors)

	service.ObserveSeq(42)
	service.ObserveSeq(0)
	require.NoError(t, service.FlushCursor(context.Background(), "worker-a"))

	oldest, err := cursors.GetOldestCursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), oldest)
}

func TestCleanupCursors(t *testing.T) {
	cursors := newFakeCursorRepo()
	service := newTestService(newFakeSkeetRepo(), newFakeBlockRepo(), cursors)
	ctx := context.Background()

	id, err := cursors.CreateCursor(ctx, "dead-worker", 10)
	require.NoError(t, err)
	cursors.rows[id].UpdatedAt = time.Now().Add(-time.Hour)
	_, err = cursors.CreateCursor(ctx, "live-worker", 20)
	require.NoError(t, err)

	require.NoError(t, service.CleanupCursors(ctx, time.Minute))
	assert.Len(t, cursors.rows, 1)
}

func TestGenerateFeedValidation(t *testing.T) {
	skeets := newFakeSkeetRepo()
	service := newTestService(skeets, newFakeBlockRepo(), newFakeCursorRepo())
	ctx := context.Background()

	_, err := service.GenerateFeed(ctx, "no-such-feed", "", 10)
	assert.Error(t, err)

	_, err = service.GenerateFeed(ctx, "game-dev", "", 10)
	assert.NoError(t, err)
}

func TestSyncBlockLists(t *testing.T) {
	blocks := newFakeBlockRepo()
	service := newTestService(newFakeSkeetRepo(), blocks, newFakeCursorRepo())

	source := &fakeListItemSource{pages: map[string][][]ListItemEntry{
		"mod.example.com": {
			{
				{
					URI:     "at://did:plc:mod/app.bsky.graph.listitem/3aaa",
					List:    watchedList,
					Subject: "did:plc:spammer",
				},
				{
					URI:     "at://did:plc:mod/app.bsky.graph.listitem/3bbb",
					List:    "at://did:plc:mod/app.bsky.graph.list/other",
					Subject: "did:plc:bystander",
				},
			},
			{
				{
					URI:     "at://did:plc:mod/app.bsky.graph.listitem/3ccc",
					List:    watchedList,
					Subject: "did:plc:troll",
				},
			},
		},
	}}

	lists := map[string][]string{"mod.example.com": {watchedList}}
	require.NoError(t, service.SyncBlockLists(context.Background(), source, lists, testLogger))

	// Only items on the watched list landed, across both pages.
	assert.Len(t, blocks.blocks, 2)
	assert.Equal(t, "did:plc:spammer", blocks.blocks[blockKey("did:plc:mod", "3aaa")].Subject)
	assert.Equal(t, "did:plc:troll", blocks.blocks[blockKey("did:plc:mod", "3ccc")].Subject)
}

// fakeListItemSource serves canned pages per repo, advancing a cursor
// between calls.
type fakeListItemSource struct {
	pages map[string][][]ListItemEntry
}

func (s *fakeListItemSource) ListItems(_ context.Context, repo string, cursor string) ([]ListItemEntry, string, error) {
	pages := s.pages[repo]
	idx := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "page-%d", &idx)
	}
	if idx >= len(pages) {
		return nil, "", nil
	}
	next := ""
	if idx+1 < len(pages) {
		next = fmt.Sprintf("page-%d", idx+1)
	}
	return pages[idx], next, nil
}
