// Package redisnotify decorates any store.Store with store.Subscriber
// support via Redis Pub/Sub, adapted from eve's queue/redis.Queue: a
// github.com/redis/go-redis/v9 client, one caller-named channel, and
// Publish/Subscribe in place of RPush/BLPop.
package redisnotify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"eve.evalgo.org/entityrt/store"
)

// Store wraps a store.Store, publishing an entity ID to a Redis channel
// after every successful CommitEvent and exposing SubscribeEvents backed by
// that channel.
type Store struct {
	store.Store
	client  *redis.Client
	channel string
}

// Wrap returns a Store decorating inner with Redis Pub/Sub notifications on
// the given channel name (e.g. "entityrt:events").
func Wrap(inner store.Store, client *redis.Client, channel string) *Store {
	return &Store{Store: inner, client: client, channel: channel}
}

var _ store.Store = (*Store)(nil)
var _ store.Subscriber = (*Store)(nil)

// CommitEvent delegates to the wrapped Store, then publishes entityID on
// the configured channel. Publish failures are swallowed after the commit
// succeeds — a missed wake is recoverable by polling, a reverted commit is
// not.
func (s *Store) CommitEvent(ctx context.Context, entityID string, version int, data []byte) error {
	if err := s.Store.CommitEvent(ctx, entityID, version, data); err != nil {
		return err
	}
	s.client.Publish(ctx, s.channel, entityID)
	return nil
}

// SubscribeEvents implements store.Subscriber: onWake fires whenever
// entityID is published on the configured channel.
func (s *Store) SubscribeEvents(ctx context.Context, entityID string, onWake store.WakeFunc) (func(), error) {
	sub := s.client.Subscribe(ctx, s.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redisnotify: subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg.Payload == entityID {
					onWake()
				}
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = sub.Close()
	}
	return unsubscribe, nil
}
