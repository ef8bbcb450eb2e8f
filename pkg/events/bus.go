// Package events carries client side notifications between the session store,
// the auth provider and anything else mounted in the same client.
package events

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
)

// Topic names a kind of event.
type Topic string

const (
	// TopicAuthChanged is raised by the session store after a sign-in is saved.
	TopicAuthChanged Topic = "auth.changed"
	// TopicStorageChanged is raised when a durable key changes. Subscribers
	// ignore events carrying their own origin, the way a browser tab never
	// receives storage events for its own writes.
	TopicStorageChanged Topic = "storage.changed"
	// TopicVisibilityRegained is raised by the host when the client comes back to the foreground.
	TopicVisibilityRegained Topic = "visibility.regained"
)

// Event is a single notification.
type Event struct {
	Topic   Topic
	Origin  string // id of the client that raised the event
	Key     string // storage key, set for TopicStorageChanged
	Deleted bool   // the key was removed rather than written
}

// Handler receives events. Handlers run on the publisher's goroutine.
type Handler func(Event)

// Publisher is implemented by anything events can be sent to.
type Publisher interface {
	Publish(e Event)
}

type subscription struct {
	topic   Topic
	handler Handler
}

// Bus is a synchronous in-process publish/subscribe hub.
type Bus struct {
	log  *slog.Logger
	mu   sync.RWMutex
	subs map[uint64]subscription
	next uint64
}

// New returns an empty Bus.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		log:  logutil.OrDiscard(logger),
		subs: make(map[uint64]subscription),
	}
}

// Subscribe registers h for topic and returns a func that removes it.
// Calling the returned func more than once is harmless.
func (b *Bus) Subscribe(topic Topic, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = subscription{topic: topic, handler: h}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish delivers e to every handler subscribed to e.Topic, in subscription order.
// The handler list is snapshotted first, so handlers may subscribe, unsubscribe
// or publish without deadlocking. A panicking handler is logged and skipped.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id, s := range b.subs {
		if s.topic == e.Topic {
			ids = append(ids, id)
		}
	}
	handlers := make([]Handler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, b.subs[id].handler)
	}
	b.mu.RUnlock()

	b.log.Debug("publishing event", "topic", e.Topic, "origin", e.Origin, "key", e.Key, "subscribers", len(handlers))
	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "topic", e.Topic, "panic", fmt.Sprint(r))
		}
	}()
	h(e)
}
