package firehose

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
)

// ErrTruncatedFrame is returned when a frame holds fewer than the two
// top-level CBOR values (header, body) the wire contract requires.
var ErrTruncatedFrame = errors.New("frame is missing its body")

// MessageKind identifies the type of a firehose message.
type MessageKind int

// Message kinds, from the header's `t` field. Unknown tags decode to
// KindUnknown so that protocol additions never break the stream.
const (
	KindUnknown MessageKind = iota
	KindCommit
	KindHandle
	KindInfo
	KindMigrate
	KindTombstone
	KindError
)

// String returns the wire tag for the message kind.
func (k MessageKind) String() string {
	switch k {
	case KindCommit:
		return "#commit"
	case KindHandle:
		return "#handle"
	case KindInfo:
		return "#info"
	case KindMigrate:
		return "#migrate"
	case KindTombstone:
		return "#tombstone"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Header is the first CBOR value of every frame.
type Header struct {
	// Op is 1 for regular messages and -1 for error frames.
	Op int64 `cbor:"op"`

	// Type is the message kind tag (e.g. "#commit").
	Type string `cbor:"t"`
}

// Action is a repository operation action.
type Action string

// Repository operation actions.
const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// RepoOp is a single repository operation inside a commit body.
type RepoOp struct {
	// Action is one of create, update, delete.
	Action Action `cbor:"action"`

	// Path is "collection/rkey" relative to the repo root.
	Path string `cbor:"path"`

	// CID references the record block inside the commit's archive. It is
	// null for delete operations.
	CID *LexLink `cbor:"cid"`
}

// CommitBody is the body of a #commit message.
type CommitBody struct {
	// Repo is the DID of the repository the commit belongs to.
	Repo string `cbor:"repo"`

	// Commit is the CID of the commit object.
	Commit LexLink `cbor:"commit"`

	// Blocks is a CAR archive holding the records referenced by Ops.
	Blocks []byte `cbor:"blocks"`

	// Ops is the ordered list of repository operations.
	Ops []RepoOp `cbor:"ops"`

	// Seq is the commit's sequence number. Non-decreasing within one
	// connection; gaps are expected after reconnects.
	Seq int64 `cbor:"seq"`

	// Prev is the CID of the previous commit, if any.
	Prev *LexLink `cbor:"prev"`

	Rebase bool   `cbor:"rebase"`
	TooBig bool   `cbor:"tooBig"`
	Time   string `cbor:"time"`
	Rev    string `cbor:"rev"`
}

// HandleBody is the body of a #handle message.
type HandleBody struct {
	DID    string `cbor:"did"`
	Handle string `cbor:"handle"`
	Seq    int64  `cbor:"seq"`
	Time   string `cbor:"time"`
}

// TombstoneBody is the body of a #tombstone message.
type TombstoneBody struct {
	DID  string `cbor:"did"`
	Seq  int64  `cbor:"seq"`
	Time string `cbor:"time"`
}

// ErrorBody is the body of an error frame (header op == -1).
type ErrorBody struct {
	Error   string `cbor:"error"`
	Message string `cbor:"message"`
}

// Envelope is a decoded firehose frame: the header plus the kind-specific
// body. Only the body matching Kind is populated.
type Envelope struct {
	Header Header
	Kind   MessageKind

	Commit    *CommitBody
	Handle    *HandleBody
	Tombstone *TombstoneBody
	Err       *ErrorBody
}

// Seq returns the envelope's sequence number, or 0 when the body carries
// none.
func (e *Envelope) Seq() int64 {
	switch {
	case e.Commit != nil:
		return e.Commit.Seq
	case e.Handle != nil:
		return e.Handle.Seq
	case e.Tombstone != nil:
		return e.Tombstone.Seq
	}
	return 0
}

// DecodeEnvelope decodes a raw frame into its header and body. Unrecognized
// header tags succeed with KindUnknown; structural problems (a missing body,
// a commit without ops) fail.
func DecodeEnvelope(frame []byte) (*Envelope, error) {
	dec := cbor.NewDecoder(bytes.NewReader(frame))

	var header Header
	if err := dec.Decode(&header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}

	var body cbor.RawMessage
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrTruncatedFrame
		}
		return nil, fmt.Errorf("decode body: %w", err)
	}

	env := &Envelope{Header: header}

	if header.Op == -1 {
		env.Kind = KindError
		env.Err = &ErrorBody{}
		if err := cbor.Unmarshal(body, env.Err); err != nil {
			return nil, fmt.Errorf("decode error body: %w", err)
		}
		return env, nil
	}

	switch header.Type {
	case "#commit":
		env.Kind = KindCommit
		env.Commit = &CommitBody{}
		if err := cbor.Unmarshal(body, env.Commit); err != nil {
			return nil, fmt.Errorf("decode commit body: %w", err)
		}
		if env.Commit.Ops == nil {
			return nil, fmt.Errorf("commit body has no ops")
		}
	case "#handle":
		env.Kind = KindHandle
		env.Handle = &HandleBody{}
		if err := cbor.Unmarshal(body, env.Handle); err != nil {
			return nil, fmt.Errorf("decode handle body: %w", err)
		}
	case "#info":
		env.Kind = KindInfo
	case "#migrate":
		env.Kind = KindMigrate
	case "#tombstone":
		env.Kind = KindTombstone
		env.Tombstone = &TombstoneBody{}
		if err := cbor.Unmarshal(body, env.Tombstone); err != nil {
			return nil, fmt.Errorf("decode tombstone body: %w", err)
		}
	default:
		env.Kind = KindUnknown
	}

	return env, nil
}

// LexLink is a CID carried in dag-cbor as tag 42 wrapping a byte string with
// a multibase identity prefix.
type LexLink struct {
	cid.Cid
}

const cidLinkTag = 42

// UnmarshalCBOR decodes a tag-42 CID link.
func (l *LexLink) UnmarshalCBOR(data []byte) error {
	// Null links appear on optional fields like prev.
	if len(data) == 1 && (data[0] == 0xf6 || data[0] == 0xf7) {
		l.Cid = cid.Undef
		return nil
	}

	var tag cbor.Tag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("decode cid link: %w", err)
	}
	if tag.Number != cidLinkTag {
		return fmt.Errorf("decode cid link: unexpected tag %d", tag.Number)
	}

	raw, ok := tag.Content.([]byte)
	if !ok || len(raw) == 0 || raw[0] != 0x00 {
		return fmt.Errorf("decode cid link: malformed content")
	}

	c, err := cid.Cast(raw[1:])
	if err != nil {
		return fmt.Errorf("decode cid link: %w", err)
	}

	l.Cid = c
	return nil
}

// MarshalCBOR encodes the link back into its tag-42 wire form.
func (l LexLink) MarshalCBOR() ([]byte, error) {
	if !l.Defined() {
		return []byte{0xf6}, nil
	}

	content := append([]byte{0x00}, l.Bytes()...)
	return cbor.Marshal(cbor.Tag{Number: cidLinkTag, Content: content})
}
