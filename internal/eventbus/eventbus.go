// Package eventbus carries raw agent records and normalized events between
// the API, the preprocessing worker and downstream consumers.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/zentral/zentral/internal/domain"
)

// Routing keys.
const (
	// RoutingKeyEvents carries normalized events.
	RoutingKeyEvents = "events"
	// RoutingKeyXnumonLogs carries raw xnumon log records.
	RoutingKeyXnumonLogs = "xnumon_logs"
)

// Handler processes one message body. A returned error is logged by the bus
// and does not stop consumption.
type Handler func(ctx context.Context, body []byte) error

// Bus publishes and consumes messages by routing key.
type Bus interface {
	// Publish marshals a normalized event and sends it on RoutingKeyEvents.
	Publish(ctx context.Context, event domain.Event) error
	// PublishRaw sends an opaque body on the given routing key.
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
	// Consume calls handler for every message of the routing key until ctx
	// is done. It returns nil on cancellation.
	Consume(ctx context.Context, routingKey string, handler Handler) error
	Close() error
}

func marshalEvent(event domain.Event) ([]byte, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event %s: %w", event.Metadata.ID, err)
	}
	return body, nil
}
