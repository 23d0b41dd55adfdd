package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/zentral/zentral/internal/api/middleware"
	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
	"github.com/zentral/zentral/internal/validation"
)

// APIKeyHandler handles API key endpoints.
type APIKeyHandler struct {
	store storage.Storage
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(store storage.Storage) *APIKeyHandler {
	return &APIKeyHandler{store: store}
}

// Create issues a new API key. The key itself is only returned here.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateName(req.Name); err != nil {
		var errs validation.ValidationErrors
		errs.Add("name", req.Name, err.Error())
		respondValidationErrors(w, errs)
		return
	}

	key, hash, prefix, err := generateAPIKey()
	if err != nil {
		handleError(w, r, err)
		return
	}

	apiKey := &domain.APIKey{
		ID:        generateID(),
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		CreatedAt: time.Now(),
	}
	if err := h.store.CreateAPIKey(r.Context(), apiKey); err != nil {
		handleError(w, r, err)
		return
	}

	creator := middleware.GetAPIKeyFromContext(r.Context())
	event := hlog.FromRequest(r).Info().Str("key_id", apiKey.ID).Str("key_prefix", prefix)
	if creator != nil {
		event = event.Str("created_by", creator.ID)
	}
	event.Msg("API key created")

	respondJSON(w, http.StatusCreated, &domain.CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Name:      apiKey.Name,
		Key:       key,
		KeyPrefix: apiKey.KeyPrefix,
		CreatedAt: apiKey.CreatedAt,
	})
}

// List lists all API keys without their secret part.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, keys)
}

// Delete revokes an API key. A key cannot revoke itself.
func (h *APIKeyHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if current := middleware.GetAPIKeyFromContext(r.Context()); current != nil && current.ID == id {
		respondError(w, http.StatusBadRequest, "cannot delete the API key in use")
		return
	}
	if err := h.store.DeleteAPIKey(r.Context(), id); err != nil {
		handleError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Str("key_id", id).Msg("API key deleted")
	w.WriteHeader(http.StatusNoContent)
}
