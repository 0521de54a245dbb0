package firehose

import (
	"strings"
	"sync"
)

// Topic builds a bus topic from a namespace and action, e.g.
// "app.bsky.feed.post::create". Subscribing to the bare namespace receives
// every action for it.
func Topic(namespace string, action Action) string {
	return namespace + "::" + string(action)
}

// Bus is a publish/subscribe dispatcher over hierarchical topics. A topic is
// a dotted namespace optionally followed by "::"-separated qualifiers, and a
// publish reaches subscribers at every prefix depth: publishing
// "app.bsky.feed.post::create" also reaches "app.bsky.feed.post",
// "app.bsky.feed", "app.bsky", and "app".
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]func(*Event)
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]func(*Event))}
}

// Subscribe registers a handler for a topic or topic prefix.
func (b *Bus) Subscribe(topic string, fn func(*Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], fn)
}

// Publish delivers the event to handlers registered at every prefix depth of
// the topic, shallowest first. Handlers run synchronously; the publish is
// complete only once every handler has returned, so callers can acknowledge
// upstream work afterwards.
func (b *Bus) Publish(topic string, ev *Event) {
	prefixes := topicPrefixes(topic)

	b.mu.RLock()
	var fns []func(*Event)
	for _, prefix := range prefixes {
		fns = append(fns, b.handlers[prefix]...)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// topicPrefixes lists a topic's dispatch points, shallowest first: every
// dotted prefix of the namespace, then every "::" depth, then the full
// topic.
func topicPrefixes(topic string) []string {
	var prefixes []string
	for i := 0; i < len(topic); i++ {
		if strings.HasPrefix(topic[i:], "::") {
			prefixes = append(prefixes, topic[:i])
			i++
			continue
		}
		if topic[i] == '.' {
			prefixes = append(prefixes, topic[:i])
		}
	}
	return append(prefixes, topic)
}
