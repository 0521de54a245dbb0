package domain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gamesky/feedgen/internal/aturl"
)

// DefaultBlockLists maps moderation list owners (repo handle or DID) to the
// at:// URIs of the lists whose members are kept out of every feed.
var DefaultBlockLists = map[string][]string{
	"trezy.studio": {
		"at://did:plc:pwsrgzcv426k7viyjl3ljdvb/app.bsky.graph.list/3jzcrcrh5b52h",
	},
	"skywatch.bsky.social": {
		"at://did:plc:6gvzbq76altrlx2bvzgrh2l5/app.bsky.graph.list/3jwchzmvjok25",
		"at://did:plc:6gvzbq76altrlx2bvzgrh2l5/app.bsky.graph.list/3jwduuvw35s25",
		"at://did:plc:6gvzbq76altrlx2bvzgrh2l5/app.bsky.graph.list/3jwch3raivv2a",
		"at://did:plc:6gvzbq76altrlx2bvzgrh2l5/app.bsky.graph.list/3jwch7xsmsu22",
		"at://did:plc:6gvzbq76altrlx2bvzgrh2l5/app.bsky.graph.list/3jwch67e2be22",
		"at://did:plc:6gvzbq76altrlx2bvzgrh2l5/app.bsky.graph.list/3jwchbcv63v2j",
	},
}

// AllBlockLists flattens the watched list URIs across every owner.
func AllBlockLists(lists map[string][]string) []string {
	var uris []string
	for _, owned := range lists {
		uris = append(uris, owned...)
	}
	return uris
}

// ListItemEntry is one listitem record fetched during a resync.
type ListItemEntry struct {
	// URI is the at:// URI of the listitem record itself.
	URI string

	// List is the at:// URI of the list the item belongs to.
	List string

	// Subject is the DID added to the list.
	Subject string
}

// ListItemSource pages through a repo's app.bsky.graph.listitem records.
type ListItemSource interface {
	ListItems(ctx context.Context, repo string, cursor string) (entries []ListItemEntry, next string, err error)
}

// SyncBlockLists replays each watched owner's listitem records into the
// block table. Replays are idempotent: an item already blocked stays blocked
// once. Run at worker startup so list changes made while the worker was down
// are not lost.
func (s *Service) SyncBlockLists(ctx context.Context, source ListItemSource, lists map[string][]string, logger *slog.Logger) error {
	for owner, owned := range lists {
		watched := make(map[string]struct{}, len(owned))
		for _, uri := range owned {
			watched[uri] = struct{}{}
		}

		logger.Debug("syncing block lists", "owner", owner, "lists", owned)

		cursor := ""
		for {
			entries, next, err := source.ListItems(ctx, owner, cursor)
			if err != nil {
				return fmt.Errorf("list records for %s: %w", owner, err)
			}

			for _, entry := range entries {
				if _, ok := watched[entry.List]; !ok {
					continue
				}

				parsed, err := aturl.Parse(entry.URI)
				if err != nil {
					logger.Warn("skipping malformed listitem uri", "uri", entry.URI, "error", err)
					continue
				}

				block := Block{
					Subject:   entry.Subject,
					ListOwner: parsed.DID,
					RKey:      parsed.RKey,
				}
				if err := s.blocks.CreateBlock(ctx, block); err != nil {
					return fmt.Errorf("create block for %s: %w", entry.Subject, err)
				}
			}

			if next == "" {
				break
			}
			cursor = next
		}
	}

	return nil
}
