// Package feeds holds the relevance rules: each feed is an immutable,
// process-lifetime value pairing a record key with a predicate over incoming
// posts.
package feeds

import "regexp"

// Candidate carries the post fields the predicates are allowed to see. Rules
// are pure functions of these fields and perform no I/O.
type Candidate struct {
	// Text is the post body.
	Text string

	// ReplyParent is the at:// URI of the post this one replies to, or "".
	ReplyParent string
}

// Feed is a single relevance rule plus its display metadata. The predicate
// contract: the opt-out pattern short-circuits to false, the match function
// decides true, and absence of both is false.
type Feed struct {
	// RKey is the feed generator record key, unique across the registry.
	RKey string

	// Name is the display name shown in clients.
	Name string

	// Description is the feed generator record description.
	Description string

	optOut *regexp.Regexp
	match  func(Candidate) bool
}

// TestSkeet reports whether the candidate belongs in this feed. An opt-out
// hit wins over any opt-in match.
func (f *Feed) TestSkeet(c Candidate) bool {
	if f.optOut != nil && f.optOut.MatchString(c.Text) {
		return false
	}
	if f.match == nil {
		return false
	}
	return f.match(c)
}

// Registry is the fixed set of feeds for this deployment. The set is
// configuration, not runtime-mutable state.
type Registry struct {
	feeds []*Feed
	byKey map[string]*Feed
}

// NewRegistry builds a registry from the given feeds.
func NewRegistry(feeds ...*Feed) *Registry {
	byKey := make(map[string]*Feed, len(feeds))
	for _, f := range feeds {
		byKey[f.RKey] = f
	}
	return &Registry{feeds: feeds, byKey: byKey}
}

// Match evaluates every feed's predicate and returns the record keys of all
// that matched. Every match is recorded; evaluation order never changes the
// result.
func (r *Registry) Match(c Candidate) []string {
	var rkeys []string
	for _, f := range r.feeds {
		if f.TestSkeet(c) {
			rkeys = append(rkeys, f.RKey)
		}
	}
	return rkeys
}

// Lookup returns the feed for a record key.
func (r *Registry) Lookup(rkey string) (*Feed, bool) {
	f, ok := r.byKey[rkey]
	return f, ok
}

// All returns the feeds in registration order.
func (r *Registry) All() []*Feed {
	return r.feeds
}

// RKeys returns every registered record key, in registration order.
func (r *Registry) RKeys() []string {
	rkeys := make([]string, len(r.feeds))
	for i, f := range r.feeds {
		rkeys[i] = f.RKey
	}
	return rkeys
}
