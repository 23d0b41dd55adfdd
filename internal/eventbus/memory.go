package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zentral/zentral/internal/domain"
)

// DefaultMemoryBuffer is the per routing key capacity of a MemoryBus.
const DefaultMemoryBuffer = 1024

// MemoryBus is an in-process bus backed by buffered channels. It serves
// single-process deployments and tests: nothing outside the process consumes
// it, so a full routing key buffer drops its oldest message.
type MemoryBus struct {
	mu     sync.Mutex
	queues map[string]chan []byte
	size   int
	logger zerolog.Logger
}

// NewMemoryBus creates a new MemoryBus.
func NewMemoryBus(size int, logger zerolog.Logger) *MemoryBus {
	if size <= 0 {
		size = DefaultMemoryBuffer
	}
	return &MemoryBus{
		queues: make(map[string]chan []byte),
		size:   size,
		logger: logger.With().Str("component", "eventbus").Str("driver", "memory").Logger(),
	}
}

func (b *MemoryBus) queue(routingKey string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[routingKey]
	if !ok {
		q = make(chan []byte, b.size)
		b.queues[routingKey] = q
	}
	return q
}

func (b *MemoryBus) Publish(ctx context.Context, event domain.Event) error {
	body, err := marshalEvent(event)
	if err != nil {
		return err
	}
	return b.PublishRaw(ctx, RoutingKeyEvents, body)
}

// PublishRaw never blocks.
func (b *MemoryBus) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q := b.queue(routingKey)
	for {
		select {
		case q <- body:
			return nil
		default:
		}
		select {
		case <-q:
			b.logger.Debug().Str("routing_key", routingKey).Msg("buffer full, dropped oldest message")
		default:
		}
	}
}

func (b *MemoryBus) Consume(ctx context.Context, routingKey string, handler Handler) error {
	q := b.queue(routingKey)
	for {
		select {
		case <-ctx.Done():
			return nil
		case body := <-q:
			if err := handler(ctx, body); err != nil {
				b.logger.Error().Err(err).Str("routing_key", routingKey).Msg("handler failed")
			}
		}
	}
}

func (b *MemoryBus) Close() error { return nil }
