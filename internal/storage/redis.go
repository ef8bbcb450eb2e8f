package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/flowerschoolbengaluru/flowerschool/internal/logutil"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/events"
	"github.com/flowerschoolbengaluru/flowerschool/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPrefix  = "flowerschool:"
	redisChangesChannel = "changes"
)

// Redis is a durable tier shared by clients in different processes. Every
// write is published on a channel; Watch relays other clients' writes onto
// the local bus.
type Redis struct {
	client *redis.Client
	prefix string
	origin string
	log    *slog.Logger
}

// change is the message published for every write.
type change struct {
	Key     string `json:"key"`
	Origin  string `json:"origin"`
	Deleted bool   `json:"deleted,omitempty"`
}

// NewRedis returns a durable tier namespaced under prefix ("flowerschool:" when empty).
// origin identifies the owning client in published change messages.
func NewRedis(logger *slog.Logger, client *redis.Client, prefix, origin string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{
		client: client,
		prefix: prefix,
		origin: origin,
		log:    logutil.OrDiscard(logger),
	}
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	defer logutil.NewTimingLogger(r.log, time.Now(), "executed redis command", "method", "get", "key", key)()

	v, err := r.client.Get(ctx, r.prefix+key).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", false, nil
	case err != nil:
		return "", false, logutil.DebugAndWrapErr(r.log, "failed to read durable key",
			models.NewStorageError(models.TierDurable, err), "key", key)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	defer logutil.NewTimingLogger(r.log, time.Now(), "executed redis command", "method", "set", "key", key)()

	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return logutil.LogAndWrapErr(r.log, "failed to write durable key",
			models.NewStorageError(models.TierDurable, err), "key", key)
	}
	r.announce(ctx, change{Key: key, Origin: r.origin})
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	defer logutil.NewTimingLogger(r.log, time.Now(), "executed redis command", "method", "delete", "key", key)()

	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return logutil.LogAndWrapErr(r.log, "failed to delete durable key",
			models.NewStorageError(models.TierDurable, err), "key", key)
	}
	r.announce(ctx, change{Key: key, Origin: r.origin, Deleted: true})
	return nil
}

// announce is best effort; the write itself already succeeded.
func (r *Redis) announce(ctx context.Context, c change) {
	payload, err := json.Marshal(c)
	if err != nil {
		r.log.Warn("failed to encode change", "key", c.Key, "err", err)
		return
	}
	if err := r.client.Publish(ctx, r.prefix+redisChangesChannel, payload).Err(); err != nil {
		r.log.Warn("failed to publish change", "key", c.Key, "err", err)
	}
}

// Watch subscribes to the change channel and republishes every change on bus
// as events.TopicStorageChanged until ctx is done. Changes made by this client
// are relayed too; subscribers drop them by origin.
func (r *Redis) Watch(ctx context.Context, bus events.Publisher) error {
	sub := r.client.Subscribe(ctx, r.prefix+redisChangesChannel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting readiness.
	if _, err := sub.Receive(ctx); err != nil {
		return logutil.LogAndWrapErr(r.log, "failed to subscribe to durable changes", err)
	}
	r.log.Debug("watching durable changes", "channel", r.prefix+redisChangesChannel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeChange(msg.Payload)
			if err != nil {
				r.log.Warn("dropping malformed change message", "err", err)
				continue
			}
			bus.Publish(ev)
		}
	}
}

func decodeChange(payload string) (events.Event, error) {
	var c change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return events.Event{}, err
	}
	if c.Key == "" {
		return events.Event{}, errors.New("change message without key")
	}
	return events.Event{
		Topic:   events.TopicStorageChanged,
		Origin:  c.Origin,
		Key:     c.Key,
		Deleted: c.Deleted,
	}, nil
}
