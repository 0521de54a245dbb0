package postgres

import (
	"errors"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedCursorRoundTrip(t *testing.T) {
	uri := "at://did:plc:author/app.bsky.feed.post/3jwdwj2ctlk26"

	token := encodeFeedCursor(uri)
	assert.NotEqual(t, uri, token)

	decoded, err := decodeFeedCursor(token)
	require.NoError(t, err)
	assert.Equal(t, uri, decoded)
}

func TestDecodeFeedCursorRejectsGarbage(t *testing.T) {
	_, err := decodeFeedCursor("not base64!!!")
	assert.Error(t, err)
}

func TestBuildFeedPage(t *testing.T) {
	uris := []string{
		"at://did:plc:a/app.bsky.feed.post/3ccc",
		"at://did:plc:b/app.bsky.feed.post/3bbb",
		"at://did:plc:c/app.bsky.feed.post/3aaa",
	}

	// Three stored skeets paged with limit 2: the first page is full and
	// carries a cursor pointing at its last entry.
	first := buildFeedPage(uris[:2], 2)
	assert.Equal(t, uris[:2], first.Posts)
	require.NotEmpty(t, first.Cursor)
	decoded, err := decodeFeedCursor(first.Cursor)
	require.NoError(t, err)
	assert.Equal(t, uris[1], decoded)

	// The second page is short, so no cursor follows it.
	second := buildFeedPage(uris[2:], 2)
	assert.Equal(t, uris[2:], second.Posts)
	assert.Empty(t, second.Cursor)

	// An exactly-full final page still carries a cursor; the next request
	// just comes back empty.
	last := buildFeedPage(uris[2:], 1)
	require.NotEmpty(t, last.Cursor)

	empty := buildFeedPage(nil, 2)
	assert.Empty(t, empty.Posts)
	assert.Empty(t, empty.Cursor)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "42601"}))
	assert.False(t, isUniqueViolation(errors.New("plain error")))
	assert.False(t, isUniqueViolation(nil))
}

func TestNullable(t *testing.T) {
	assert.False(t, nullable("").Valid)

	v := nullable("at://did:plc:a/app.bsky.feed.post/3jwd")
	assert.True(t, v.Valid)
	assert.Equal(t, "at://did:plc:a/app.bsky.feed.post/3jwd", v.String)
}
