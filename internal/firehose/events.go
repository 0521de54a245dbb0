package firehose

import (
	"fmt"
)

// EventKind tags the variant of a classified event.
type EventKind int

// Event variants. KindUnhandled covers namespaces that are recognized but
// not implemented.
const (
	EventUnhandled EventKind = iota
	EventPost
	EventLike
	EventListItem
)

// StrongRef is a versioned reference to another record.
type StrongRef struct {
	URI string `cbor:"uri" json:"uri"`
	CID string `cbor:"cid" json:"cid"`
}

// ReplyRef links a post into its reply thread.
type ReplyRef struct {
	Root   StrongRef `cbor:"root" json:"root"`
	Parent StrongRef `cbor:"parent" json:"parent"`
}

// PostRecord is a decoded app.bsky.feed.post record.
type PostRecord struct {
	Type      string    `cbor:"$type" json:"$type"`
	Text      string    `cbor:"text" json:"text"`
	CreatedAt string    `cbor:"createdAt" json:"createdAt"`
	Langs     []string  `cbor:"langs" json:"langs,omitempty"`
	Reply     *ReplyRef `cbor:"reply" json:"reply,omitempty"`
}

// LikeRecord is a decoded app.bsky.feed.like record.
type LikeRecord struct {
	Type      string    `cbor:"$type" json:"$type"`
	Subject   StrongRef `cbor:"subject" json:"subject"`
	CreatedAt string    `cbor:"createdAt" json:"createdAt"`
}

// ListItemRecord is a decoded app.bsky.graph.listitem record.
type ListItemRecord struct {
	Type      string `cbor:"$type" json:"$type"`
	List      string `cbor:"list" json:"list"`
	Subject   string `cbor:"subject" json:"subject"`
	CreatedAt string `cbor:"createdAt" json:"createdAt"`
}

// Event is one classified repository operation. Exactly one of the payload
// pointers matching Kind is set for create actions; delete actions carry
// only the identifying fields, since deletes arrive without record content.
type Event struct {
	Kind   EventKind
	Action Action

	// DID is the repository the operation belongs to.
	DID string

	// Namespace is the dotted collection NSID (e.g. app.bsky.feed.post).
	Namespace string

	// RKey is the record key from the operation path.
	RKey string

	// CID is the record's content identifier, empty for deletes.
	CID string

	Post     *PostRecord
	Like     *LikeRecord
	ListItem *ListItemRecord
}

// URI derives the event's at:// URI from its repo and path.
func (e *Event) URI() string {
	return fmt.Sprintf("at://%s/%s/%s", e.DID, e.Namespace, e.RKey)
}

// Text returns the post body for post events, or "".
func (e *Event) Text() string {
	if e.Post != nil {
		return e.Post.Text
	}
	return ""
}

// ReplyParent returns the URI of the post this one replies to, or "".
func (e *Event) ReplyParent() string {
	if e.Post != nil && e.Post.Reply != nil {
		return e.Post.Reply.Parent.URI
	}
	return ""
}

// ReplyRoot returns the URI of the thread root, or "".
func (e *Event) ReplyRoot() string {
	if e.Post != nil && e.Post.Reply != nil {
		return e.Post.Reply.Root.URI
	}
	return ""
}
