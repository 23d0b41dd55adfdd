package handler

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/ingest"
	"github.com/zentral/zentral/internal/service"
)

// SantaHandler handles the Santa rule set and fileinfo endpoints.
type SantaHandler struct {
	ruleSets *service.RuleSetService
	pipeline *ingest.Pipeline
}

// NewSantaHandler creates a new SantaHandler.
func NewSantaHandler(ruleSets *service.RuleSetService, pipeline *ingest.Pipeline) *SantaHandler {
	return &SantaHandler{ruleSets: ruleSets, pipeline: pipeline}
}

// UpdateRuleSet handles POST /santa/rulesets/update. The body is JSON or
// YAML.
func (h *SantaHandler) UpdateRuleSet(w http.ResponseWriter, r *http.Request) {
	var req domain.RuleSetUpsertRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.ruleSets.Upsert(r.Context(), &req)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// IngestFileInfo handles POST /santa/ingest/fileinfo. The body is one
// santactl fileinfo JSON record or an array of records.
func (h *SantaHandler) IngestFileInfo(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	records, err := ingest.SplitBatch(body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := h.pipeline.IngestFileInfo(r.Context(), records)
	hlog.FromRequest(r).Info().
		Int("records", len(records)).
		Int("added", result.Added).
		Int("db_errors", result.DBErrors).
		Msg("fileinfo ingested")
	respondJSON(w, http.StatusOK, result)
}
