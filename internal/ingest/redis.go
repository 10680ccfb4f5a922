package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPattern matches channels named rates.<PAIR>.
const DefaultRedisPattern = "rates.*"

// RedisSource consumes rates from Redis pub/sub. The pair is the channel
// suffix after the last dot unless the payload names one.
type RedisSource struct {
	client  *redis.Client
	pattern string
	pub     Publisher
	logger  *zap.Logger
}

func NewRedisSource(client *redis.Client, pattern string, pub Publisher, logger *zap.Logger) *RedisSource {
	if pattern == "" {
		pattern = DefaultRedisPattern
	}
	return &RedisSource{
		client:  client,
		pattern: pattern,
		pub:     pub,
		logger:  logger.With(zap.String("source", "redis"), zap.String("pattern", pattern)),
	}
}

// Run subscribes and forwards messages until ctx is done.
func (s *RedisSource) Run(ctx context.Context) error {
	ps := s.client.PSubscribe(ctx, s.pattern)
	defer ps.Close()

	// Wait for the subscription to be confirmed so startup errors surface.
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("psubscribe %s: %w", s.pattern, err)
	}
	s.logger.Info("subscribed to redis")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis pubsub channel closed")
			}
			s.handle(msg)
		}
	}
}

func (s *RedisSource) handle(msg *redis.Message) {
	key := msg.Channel
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	updates, err := decodePayload(key, []byte(msg.Payload))
	if err != nil {
		s.logger.Debug("skipping message", zap.String("channel", msg.Channel), zap.Error(err))
		return
	}
	for _, u := range updates {
		s.pub.Publish(u.Key, u.Rate)
	}
}
