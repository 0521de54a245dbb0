package firehose

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// errUnrecognizedNamespace flags a namespace outside the known taxonomy. It
// is a distinct signal from unimplemented namespaces so operators can spot
// protocol drift.
var errUnrecognizedNamespace = errors.New("unrecognised namespace")

// errUnimplementedNamespace flags a namespace inside the known taxonomy that
// this system deliberately does not handle.
var errUnimplementedNamespace = errors.New("namespace not yet implemented")

// pathPattern is the fixed grammar for operation paths: a four-segment
// dotted namespace, one slash, then the record key.
var pathPattern = regexp.MustCompile(`^((?:\w+\.){3}\w+)/([-_~.%a-zA-Z0-9]{1,512})$`)

// parsePath splits an operation path into its namespace segments and record
// key. Paths outside the grammar fail that single operation only.
func parsePath(path string) (namespace []string, rkey string, err error) {
	m := pathPattern.FindStringSubmatch(path)
	if m == nil {
		return nil, "", fmt.Errorf("path %q does not match the namespace grammar", path)
	}
	return strings.Split(m[1], "."), m[2], nil
}

// Classifier walks a commit's operations, resolves records through the
// commit's block archive, classifies them by namespace, and publishes the
// resulting events to the bus keyed by both "{namespace}::{action}" and the
// namespace alone (via the bus's prefix dispatch).
type Classifier struct {
	bus    *Bus
	logger *slog.Logger
}

// NewClassifier creates a classifier publishing to the given bus.
func NewClassifier(bus *Bus, logger *slog.Logger) *Classifier {
	return &Classifier{
		bus:    bus,
		logger: logger,
	}
}

// HandleCommit processes every operation of a commit, in list order. All
// per-operation faults (grammar mismatches, missing blocks, unknown
// namespaces) are contained to their operation; the commit itself never
// fails.
func (c *Classifier) HandleCommit(env *Envelope) {
	commit := env.Commit
	if commit == nil {
		return
	}

	// The archive is parsed at most once per commit, and only if an
	// operation actually needs a record. Deletes never do.
	var archive *BlockArchive
	archiveReady := false

	for _, op := range commit.Ops {
		if op.Action == ActionUpdate {
			// Updates are unsupported across the board.
			continue
		}

		if op.Action == ActionCreate && !archiveReady {
			var err error
			archive, err = ReadBlockArchive(commit.Blocks)
			if err != nil {
				c.logger.Error("failed to read commit block archive", "error", err, "repo", commit.Repo)
			}
			archiveReady = true
		}

		ev, err := c.classifyOp(commit, op, archive)
		if err != nil {
			switch {
			case errors.Is(err, errUnimplementedNamespace):
				c.logger.Debug("skipping operation", "reason", err, "path", op.Path)
			case errors.Is(err, errUnrecognizedNamespace):
				c.logger.Warn("unrecognised namespace in operation", "error", err, "path", op.Path, "repo", commit.Repo)
			default:
				c.logger.Error("failed to classify operation", "error", err, "path", op.Path, "repo", commit.Repo)
			}
			continue
		}
		if ev == nil {
			continue
		}

		c.bus.Publish(Topic(ev.Namespace, ev.Action), ev)
	}
}

// classifyOp resolves and classifies a single operation. A nil event with a
// nil error means the operation yielded nothing to dispatch (missing block,
// silently-ignored namespace).
func (c *Classifier) classifyOp(commit *CommitBody, op RepoOp, archive *BlockArchive) (*Event, error) {
	segments, rkey, err := parsePath(op.Path)
	if err != nil {
		return nil, err
	}
	namespace := strings.Join(segments, ".")

	var record []byte
	if op.Action == ActionCreate {
		if op.CID == nil {
			return nil, nil
		}
		record = archive.Get(op.CID.Cid)
		if record == nil {
			// The referenced block is absent from the archive; give up on
			// this operation and keep the rest of the commit going.
			return nil, nil
		}
	}

	ev := &Event{
		Action:    op.Action,
		DID:       commit.Repo,
		Namespace: namespace,
		RKey:      rkey,
	}
	if op.CID != nil {
		ev.CID = op.CID.Cid.String()
	}

	switch segments[0] {
	case "app":
		return c.classifyAppNamespace(ev, segments, record)
	case "com":
		return c.classifyComNamespace(ev, segments)
	default:
		return nil, fmt.Errorf("%w: %s", errUnrecognizedNamespace, namespace)
	}
}

func (c *Classifier) classifyAppNamespace(ev *Event, segments []string, record []byte) (*Event, error) {
	if segments[1] != "bsky" {
		return nil, fmt.Errorf("%w: %s", errUnrecognizedNamespace, ev.Namespace)
	}

	switch segments[2] {
	case "feed":
		switch segments[3] {
		case "post":
			ev.Kind = EventPost
			if ev.Action != ActionDelete {
				ev.Post = &PostRecord{}
				if err := cbor.Unmarshal(record, ev.Post); err != nil {
					return nil, fmt.Errorf("decode post record: %w", err)
				}
			}
			return ev, nil

		case "like":
			ev.Kind = EventLike
			if ev.Action != ActionDelete {
				ev.Like = &LikeRecord{}
				if err := cbor.Unmarshal(record, ev.Like); err != nil {
					return nil, fmt.Errorf("decode like record: %w", err)
				}
			}
			return ev, nil
		}

	case "graph":
		switch segments[3] {
		case "listitem":
			ev.Kind = EventListItem
			if ev.Action != ActionDelete {
				ev.ListItem = &ListItemRecord{}
				if err := cbor.Unmarshal(record, ev.ListItem); err != nil {
					return nil, fmt.Errorf("decode listitem record: %w", err)
				}
			}
			return ev, nil
		}
	}

	// Everything else under app.bsky is in the known taxonomy but
	// deliberately unhandled: profiles, reposts, follows, embeds, and
	// whatever the protocol adds next under this prefix.
	return nil, fmt.Errorf("%w: %s", errUnimplementedNamespace, ev.Namespace)
}

func (c *Classifier) classifyComNamespace(ev *Event, segments []string) (*Event, error) {
	if segments[1] != "atproto" {
		return nil, fmt.Errorf("%w: %s", errUnrecognizedNamespace, ev.Namespace)
	}

	// The whole com.atproto tree is recognized but carries nothing this
	// system consumes.
	return nil, fmt.Errorf("%w: %s", errUnimplementedNamespace, ev.Namespace)
}
