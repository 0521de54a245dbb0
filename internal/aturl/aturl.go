// Package aturl parses and formats at:// URIs.
package aturl

import (
	"fmt"
	"regexp"
)

// pattern matches at://did:method:identifier/nsid/rkey.
var pattern = regexp.MustCompile(`^at://(?P<did>did:\w+:[\w.:%-]+)/(?P<nsid>[\w.]+)/(?P<rkey>.+)$`)

// ATURL is a parsed at:// URI.
type ATURL struct {
	// DID is the decentralized identifier of the repo (e.g. did:plc:abc123).
	DID string

	// NSID is the dotted collection type (e.g. app.bsky.feed.post).
	NSID string

	// RKey is the record key within the collection.
	RKey string
}

// String formats the URL back into its at:// form.
func (u *ATURL) String() string {
	return fmt.Sprintf("at://%s/%s/%s", u.DID, u.NSID, u.RKey)
}

// Parse splits an at:// URI into its DID, NSID, and record key segments.
func Parse(url string) (*ATURL, error) {
	m := pattern.FindStringSubmatch(url)
	if m == nil {
		return nil, fmt.Errorf("unprocessable at-uri: %s", url)
	}

	return &ATURL{
		DID:  m[1],
		NSID: m[2],
		RKey: m[3],
	}, nil
}
