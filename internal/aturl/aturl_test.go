package aturl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		expected    ATURL
		expectError bool
	}{
		{
			name: "post uri",
			uri:  "at://did:plc:abc123xyz/app.bsky.feed.post/3jwdwj2ctlk26",
			expected: ATURL{
				DID:  "did:plc:abc123xyz",
				NSID: "app.bsky.feed.post",
				RKey: "3jwdwj2ctlk26",
			},
		},
		{
			name: "did:web authority",
			uri:  "at://did:web:feeds.example.com/app.bsky.feed.generator/game-dev",
			expected: ATURL{
				DID:  "did:web:feeds.example.com",
				NSID: "app.bsky.feed.generator",
				RKey: "game-dev",
			},
		},
		{
			name: "list item uri",
			uri:  "at://did:plc:owner/app.bsky.graph.listitem/3kabc",
			expected: ATURL{
				DID:  "did:plc:owner",
				NSID: "app.bsky.graph.listitem",
				RKey: "3kabc",
			},
		},
		{
			name:        "missing scheme",
			uri:         "did:plc:abc/app.bsky.feed.post/3jwd",
			expectError: true,
		},
		{
			name:        "not a did authority",
			uri:         "at://example.com/app.bsky.feed.post/3jwd",
			expectError: true,
		},
		{
			name:        "missing rkey",
			uri:         "at://did:plc:abc/app.bsky.feed.post",
			expectError: true,
		},
		{
			name:        "empty string",
			uri:         "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(tt.uri)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *parsed)
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	uri := "at://did:plc:abc123xyz/app.bsky.feed.post/3jwdwj2ctlk26"

	parsed, err := Parse(uri)
	require.NoError(t, err)
	assert.Equal(t, uri, parsed.String())
}
