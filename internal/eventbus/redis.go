package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/zentral/zentral/internal/domain"
)

const (
	redisBodyField   = "body"
	redisGroup       = "zentral"
	redisBlock       = time.Second
	redisReadCount   = 10
	redisStreamLimit = 100000
	redisRetryBase   = 100 * time.Millisecond
	redisRetryMax    = 10 * time.Second
)

// RedisBus maps routing keys to redis streams. Consumers of a routing key
// share one consumer group, so every message is handled once.
type RedisBus struct {
	client    *redis.Client
	prefix    string
	consumer  string
	logger    zerolog.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

// RedisOptions configures a RedisBus.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// StreamPrefix is prepended to routing keys, separated by a colon.
	StreamPrefix string
	// Consumer names this process in the consumer groups.
	Consumer string
}

// NewRedisBus connects to redis and returns a RedisBus.
func NewRedisBus(ctx context.Context, opts RedisOptions, logger zerolog.Logger) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	consumer := opts.Consumer
	if consumer == "" {
		consumer = "zentral"
	}
	return &RedisBus{
		client:   client,
		prefix:   opts.StreamPrefix,
		consumer: consumer,
		logger:   logger.With().Str("component", "eventbus").Str("driver", "redis").Logger(),
	}, nil
}

func (b *RedisBus) stream(routingKey string) string {
	if b.prefix == "" {
		return routingKey
	}
	return b.prefix + ":" + routingKey
}

func (b *RedisBus) Publish(ctx context.Context, event domain.Event) error {
	body, err := marshalEvent(event)
	if err != nil {
		return err
	}
	return b.PublishRaw(ctx, RoutingKeyEvents, body)
}

func (b *RedisBus) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream(routingKey),
		MaxLen: redisStreamLimit,
		Approx: true,
		Values: map[string]any{redisBodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("adding to stream %s: %w", b.stream(routingKey), err)
	}
	return nil
}

func (b *RedisBus) ensureGroup(ctx context.Context, stream string) error {
	err := b.client.XGroupCreateMkStream(ctx, stream, redisGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("creating consumer group on %s: %w", stream, err)
	}
	return nil
}

// newBackoff returns the delays between reads after redis errors.
func (b *RedisBus) newBackoff() retry.Backoff {
	base, ceiling := b.retryBase, b.retryMax
	if base <= 0 {
		base = redisRetryBase
	}
	if ceiling <= 0 {
		ceiling = redisRetryMax
	}
	return retry.WithCappedDuration(ceiling, retry.NewExponential(base))
}

// Consume reads the stream of routingKey with the consumer group. Redis
// errors are logged and retried with a capped exponential backoff until ctx
// is done.
func (b *RedisBus) Consume(ctx context.Context, routingKey string, handler Handler) error {
	stream := b.stream(routingKey)
	if err := b.ensureGroup(ctx, stream); err != nil {
		return err
	}
	var backoff retry.Backoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    redisGroup,
			Consumer: b.consumer,
			Streams:  []string{stream, ">"},
			Count:    redisReadCount,
			Block:    redisBlock,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil
			}
			if backoff == nil {
				backoff = b.newBackoff()
			}
			delay, _ := backoff.Next()
			b.logger.Warn().Err(err).Str("stream", stream).Dur("retry_in", delay).Msg("could not read stream")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			// The group is gone when redis restarted without persistence.
			if err := b.ensureGroup(ctx, stream); err != nil {
				b.logger.Debug().Err(err).Str("stream", stream).Msg("could not recreate consumer group")
			}
			continue
		}
		backoff = nil
		for _, s := range streams {
			for _, msg := range s.Messages {
				b.handle(ctx, stream, msg, handler)
			}
		}
	}
}

func (b *RedisBus) handle(ctx context.Context, stream string, msg redis.XMessage, handler Handler) {
	body, ok := msg.Values[redisBodyField].(string)
	if !ok {
		b.logger.Error().Str("stream", stream).Str("id", msg.ID).Msg("message without body")
	} else if err := handler(ctx, []byte(body)); err != nil {
		b.logger.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("handler failed")
	}
	if err := b.client.XAck(context.WithoutCancel(ctx), stream, redisGroup, msg.ID).Err(); err != nil {
		b.logger.Error().Err(err).Str("stream", stream).Str("id", msg.ID).Msg("could not ack message")
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
