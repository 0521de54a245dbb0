package domain

import "time"

// Skeet is a post stored because at least one feed matched it. Immutable
// once stored; only its feed membership grows on redelivery.
type Skeet struct {
	// URI is the at:// URI of the post and the upsert key.
	URI string

	// CID is the content identifier of the record.
	CID string

	// DID is the author's repo identifier.
	DID string

	// ReplyParent is the URI of the post this one replies to, or "".
	ReplyParent string

	// ReplyRoot is the URI of the thread root, or "".
	ReplyRoot string

	// IndexedAt is when this post was stored; feed pagination orders by it.
	IndexedAt time.Time

	// Feeds holds the record keys of the feeds this skeet belongs to.
	Feeds []string
}

// Block keeps a list member's posts out of every feed.
type Block struct {
	// Subject is the DID of the blocked account.
	Subject string

	// ListOwner is the DID owning the moderation list.
	ListOwner string

	// RKey is the listitem record key; (ListOwner, RKey) is unique.
	RKey string
}

// Cursor is a per-worker firehose bookmark.
type Cursor struct {
	ID        string
	Worker    string
	Seq       int64
	UpdatedAt time.Time
}

// FeedPage is one page of a generated feed.
type FeedPage struct {
	// Posts holds at:// URIs, newest first.
	Posts []string

	// Cursor is set only when the page was full, i.e. more may follow.
	Cursor string
}
