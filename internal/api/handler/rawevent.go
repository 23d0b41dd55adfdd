package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/hlog"
)

// RawPublisher publishes raw records on a routing key.
type RawPublisher interface {
	PublishRaw(ctx context.Context, routingKey string, body []byte) error
}

// RawEventHandler queues raw agent log records for preprocessing.
type RawEventHandler struct {
	publisher  RawPublisher
	routingKey string
}

// NewRawEventHandler creates a new RawEventHandler queuing on routingKey.
func NewRawEventHandler(publisher RawPublisher, routingKey string) *RawEventHandler {
	return &RawEventHandler{publisher: publisher, routingKey: routingKey}
}

// Post accepts newline delimited JSON records, as shipped by filebeat.
// Every valid record is queued; the response counts them.
func (h *RawEventHandler) Post(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var queued, invalid int
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			invalid++
			continue
		}
		if err := h.publisher.PublishRaw(r.Context(), h.routingKey, bytes.Clone(line)); err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("routing_key", h.routingKey).Msg("could not queue raw event")
			respondError(w, http.StatusServiceUnavailable, "could not queue raw events")
			return
		}
		queued++
	}
	respondJSON(w, http.StatusOK, map[string]int{"queued": queued, "invalid": invalid})
}
