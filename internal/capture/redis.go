package capture

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel captured output is mirrored to.
const DefaultRedisChannel = "triage:console"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSubscriber mirrors every broadcast message onto a Redis pub/sub
// channel so dashboards on other hosts can follow the console. Nothing is
// stored; a message published while nobody listens on the channel is lost.
//
// A Redis outage must not evict the mirror from the router, so publish
// errors are counted and logged on the healthy-to-failing edge instead of
// being returned.
type RedisSubscriber struct {
	client  publisher
	channel string
	log     *slog.Logger

	failing  atomic.Bool
	failures atomic.Uint64
}

// NewRedisSubscriber returns a mirror publishing to channel.
func NewRedisSubscriber(client publisher, channel string, logger *slog.Logger) *RedisSubscriber {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &RedisSubscriber{client: client, channel: channel, log: logger}
}

// Send implements Subscriber.
func (s *RedisSubscriber) Send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		s.failures.Add(1)
		if !s.failing.Swap(true) {
			s.log.Warn("console mirror publish failing", "channel", s.channel, "error", err)
		}
		return nil
	}
	if s.failing.Swap(false) {
		s.log.Info("console mirror publish recovered", "channel", s.channel)
	}
	return nil
}

// Failures returns the number of failed publishes.
func (s *RedisSubscriber) Failures() uint64 { return s.failures.Load() }
