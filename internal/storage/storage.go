// Package storage provides the three client storage tiers: a cookie jar, a
// per-client session tier and a durable tier shared by every client that
// points at the same database.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/pkg/events"
	"github.com/google/uuid"
)

// KV is a string key/value tier.
type KV interface {
	// Get returns the value stored under key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Observed wraps a durable KV and announces each successful write on a bus as
// events.TopicStorageChanged, tagged with the writing client's origin.
type Observed struct {
	KV
	bus    events.Publisher
	origin string
}

// Observe returns kv wrapped so that writes are announced on bus.
func Observe(kv KV, bus events.Publisher, origin string) *Observed {
	return &Observed{KV: kv, bus: bus, origin: origin}
}

func (o *Observed) Set(ctx context.Context, key, value string) error {
	if err := o.KV.Set(ctx, key, value); err != nil {
		return err
	}
	o.bus.Publish(events.Event{Topic: events.TopicStorageChanged, Origin: o.origin, Key: key})
	return nil
}

func (o *Observed) Delete(ctx context.Context, key string) error {
	if err := o.KV.Delete(ctx, key); err != nil {
		return err
	}
	o.bus.Publish(events.Event{Topic: events.TopicStorageChanged, Origin: o.origin, Key: key, Deleted: true})
	return nil
}

// NewSessionID returns an opaque per-login identifier made of a millisecond
// timestamp and random bits. It only distinguishes one login from another and
// is never used to authorize anything.
func NewSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Sprintf("%x-%s", time.Now().UnixMilli(), uuid.NewString())
	}
	return id.String()
}

// NewOrigin returns an id for one client instance.
func NewOrigin() string {
	return uuid.NewString()
}
