package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/zentral/zentral/internal/domain"
)

// natsQueueGroup spreads the messages of a subject over the consumers of
// every process.
const natsQueueGroup = "zentral"

// NATSBus maps routing keys to NATS subjects.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewNATSBus connects to the NATS server at url.
func NewNATSBus(url, subjectPrefix string, logger zerolog.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url, nats.Name("zentral"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return &NATSBus{
		conn:   conn,
		prefix: subjectPrefix,
		logger: logger.With().Str("component", "eventbus").Str("driver", "nats").Logger(),
	}, nil
}

// Subject returns the subject of a routing key.
func Subject(prefix, routingKey string) string {
	if prefix == "" {
		return routingKey
	}
	return prefix + "." + routingKey
}

func (b *NATSBus) Publish(ctx context.Context, event domain.Event) error {
	body, err := marshalEvent(event)
	if err != nil {
		return err
	}
	return b.PublishRaw(ctx, RoutingKeyEvents, body)
}

func (b *NATSBus) PublishRaw(ctx context.Context, routingKey string, body []byte) error {
	subject := Subject(b.prefix, routingKey)
	if err := b.conn.Publish(subject, body); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Consume(ctx context.Context, routingKey string, handler Handler) error {
	subject := Subject(b.prefix, routingKey)
	sub, err := b.conn.QueueSubscribe(subject, natsQueueGroup, func(m *nats.Msg) {
		if err := handler(ctx, m.Data); err != nil {
			b.logger.Error().Err(err).Str("subject", m.Subject).Msg("handler failed")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		return fmt.Errorf("unsubscribing from %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
