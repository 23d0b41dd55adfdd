package preprocess

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zentral/zentral/internal/eventbus"
)

// Worker consumes raw xnumon records from the bus and publishes the
// normalized events.
type Worker struct {
	bus          eventbus.Bus
	preprocessor *Preprocessor
	logger       zerolog.Logger
}

// NewWorker creates a new Worker.
func NewWorker(bus eventbus.Bus, preprocessor *Preprocessor, logger zerolog.Logger) *Worker {
	return &Worker{
		bus:          bus,
		preprocessor: preprocessor,
		logger:       logger.With().Str("component", "preprocess_worker").Logger(),
	}
}

// Run consumes until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Str("routing_key", eventbus.RoutingKeyXnumonLogs).Msg("starting preprocessing worker")
	err := w.bus.Consume(ctx, eventbus.RoutingKeyXnumonLogs, w.handle)
	w.logger.Info().Msg("preprocessing worker stopped")
	return err
}

func (w *Worker) handle(ctx context.Context, raw []byte) error {
	var published int
	for event := range w.preprocessor.Process(ctx, raw) {
		if err := w.bus.Publish(ctx, event); err != nil {
			return fmt.Errorf("publishing event %s: %w", event.Metadata.ID, err)
		}
		published++
	}
	if published > 0 {
		w.logger.Debug().Int("events", published).Msg("raw event processed")
	}
	return nil
}
