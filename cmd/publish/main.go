// The publish tool manages app.bsky.feed.generator records. With --rkey it
// publishes (or unpublishes) a single feed; with --all it publishes a record
// for every feed in the built-in registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gamesky/feedgen/internal/bluesky"
	"github.com/gamesky/feedgen/internal/feeds"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		handle      string
		password    string
		pds         string
		serviceDID  string
		feedRKey    string
		displayName string
		description string
		avatarPath  string
		publishAll  bool
		unpublish   bool
	)

	flag.StringVar(&handle, "handle", envOrDefault("BSKY_HANDLE", ""), "Bluesky handle (e.g. user.bsky.social)")
	flag.StringVar(&password, "password", envOrDefault("BSKY_APP_PASSWORD", ""), "Bluesky app password")
	flag.StringVar(&pds, "pds", envOrDefault("BSKY_PDS", "https://bsky.social"), "PDS service URL")
	flag.StringVar(&serviceDID, "service-did", envOrDefault("FEEDGEN_SERVICE_DID", ""), "Feed generator service DID (e.g. did:web:feed.example.com)")
	flag.StringVar(&feedRKey, "rkey", "", "Record key of a single feed to publish or unpublish")
	flag.StringVar(&displayName, "name", "", "Display name override for a single feed (max 24 graphemes)")
	flag.StringVar(&description, "description", "", "Description override for a single feed (max 300 graphemes)")
	flag.StringVar(&avatarPath, "avatar", "", "Path to a PNG or JPEG avatar image")
	flag.BoolVar(&publishAll, "all", false, "Publish every feed in the registry")
	flag.BoolVar(&unpublish, "unpublish", false, "Delete the feed generator record instead of publishing")
	flag.Parse()

	if handle == "" || password == "" {
		return fmt.Errorf("--handle and --password are required (or set BSKY_HANDLE and BSKY_APP_PASSWORD)")
	}
	if feedRKey == "" && !publishAll {
		return fmt.Errorf("--rkey or --all is required")
	}
	if publishAll && unpublish {
		return fmt.Errorf("--all and --unpublish cannot be combined")
	}

	ctx := context.Background()
	client := bluesky.NewClient(pds)

	fmt.Printf("Logging in as %s...\n", handle)
	if err := client.Login(ctx, handle, password); err != nil {
		return err
	}
	fmt.Printf("Authenticated as %s\n", client.DID())

	if unpublish {
		fmt.Printf("Unpublishing feed %q...\n", feedRKey)
		if err := client.UnpublishFeedGenerator(ctx, feedRKey); err != nil {
			return err
		}
		fmt.Printf("Feed unpublished: at://%s/app.bsky.feed.generator/%s\n", client.DID(), feedRKey)
		return nil
	}

	if serviceDID == "" {
		return fmt.Errorf("--service-did is required for publishing (or set FEEDGEN_SERVICE_DID)")
	}

	var avatar *bluesky.BlobRef
	if avatarPath != "" {
		ref, err := uploadAvatar(ctx, client, avatarPath)
		if err != nil {
			return fmt.Errorf("upload avatar: %w", err)
		}
		avatar = ref
	}

	registry := feeds.DefaultRegistry()

	if publishAll {
		for _, feed := range registry.All() {
			if err := publishFeed(ctx, client, serviceDID, feed.RKey, feed.Name, feed.Description, avatar); err != nil {
				return err
			}
		}
		return nil
	}

	name := displayName
	desc := description
	if feed, ok := registry.Lookup(feedRKey); ok {
		if name == "" {
			name = feed.Name
		}
		if desc == "" {
			desc = feed.Description
		}
	}
	if name == "" {
		return fmt.Errorf("--name is required for a feed outside the registry")
	}

	return publishFeed(ctx, client, serviceDID, feedRKey, name, desc, avatar)
}

func publishFeed(ctx context.Context, client *bluesky.Client, serviceDID, rkey, name, description string, avatar *bluesky.BlobRef) error {
	record := bluesky.FeedGeneratorRecord{
		DID:         serviceDID,
		DisplayName: name,
		Description: description,
		Avatar:      avatar,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}

	fmt.Printf("Publishing feed %q...\n", rkey)
	if err := client.PublishFeedGenerator(ctx, rkey, record); err != nil {
		return err
	}

	fmt.Printf("Feed published: at://%s/app.bsky.feed.generator/%s\n", client.DID(), rkey)
	return nil
}

func uploadAvatar(ctx context.Context, client *bluesky.Client, path string) (*bluesky.BlobRef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	mimeType := "image/png"
	if len(data) > 2 && data[0] == 0xff && data[1] == 0xd8 {
		mimeType = "image/jpeg"
	}

	return client.UploadBlob(ctx, data, mimeType)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
