package handler

import (
	"net/http"
	"strings"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/ingest"
	"github.com/zentral/zentral/internal/validation"
)

// InventoryHandler handles inventory ingestion endpoints.
type InventoryHandler struct {
	pipeline *ingest.Pipeline
}

// NewInventoryHandler creates a new InventoryHandler.
func NewInventoryHandler(pipeline *ingest.Pipeline) *InventoryHandler {
	return &InventoryHandler{pipeline: pipeline}
}

// IngestMachineSnapshots handles POST /inventory/machine_snapshots.
func (h *InventoryHandler) IngestMachineSnapshots(w http.ResponseWriter, r *http.Request) {
	var req domain.MachineSnapshotsRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var errs validation.ValidationErrors
	if strings.TrimSpace(req.Source.Module) == "" {
		errs.Add("source.module", "", "This field is required.")
	}
	if strings.TrimSpace(req.Source.Name) == "" {
		errs.Add("source.name", "", "This field is required.")
	}
	if req.Machines == nil {
		errs.Add("machines", "", "This field is required.")
	}
	if errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	respondJSON(w, http.StatusOK, h.pipeline.IngestMachineSnapshots(r.Context(), req.Source, req.Machines))
}
