package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
	"github.com/zentral/zentral/internal/validation"
)

// minSecretLength is the minimum length of an enrollment secret.
const minSecretLength = 16

// SecretInvalidator drops cached lookups of an enrollment secret.
type SecretInvalidator interface {
	Invalidate(secret string)
}

// EnrollmentHandler handles enrollment session endpoints.
type EnrollmentHandler struct {
	store       storage.Storage
	invalidator SecretInvalidator
}

// NewEnrollmentHandler creates a new EnrollmentHandler. invalidator may be nil.
func NewEnrollmentHandler(store storage.Storage, invalidator SecretInvalidator) *EnrollmentHandler {
	return &EnrollmentHandler{store: store, invalidator: invalidator}
}

// Create creates an enrollment session. A secret is generated when none is
// given.
func (h *EnrollmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateEnrollmentSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var errs validation.ValidationErrors
	if req.Secret != "" && len(req.Secret) < minSecretLength {
		errs.Add("secret", "", "Ensure this field has at least "+strconv.Itoa(minSecretLength)+" characters.")
	}
	if len(req.SerialNumbers) == 0 {
		errs.Add("serial_numbers", "", "This list may not be empty.")
	}
	serialNumbers := make([]string, 0, len(req.SerialNumbers))
	seen := make(map[string]bool, len(req.SerialNumbers))
	for i, sn := range req.SerialNumbers {
		sn = strings.TrimSpace(sn)
		switch {
		case sn == "":
			errs.Add("serial_numbers."+strconv.Itoa(i), sn, "This field may not be blank.")
		case !seen[sn]:
			seen[sn] = true
			serialNumbers = append(serialNumbers, sn)
		}
	}
	if errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	secret := req.Secret
	if secret == "" {
		key, _, _, err := generateAPIKey()
		if err != nil {
			handleError(w, r, err)
			return
		}
		secret = key[len(apiKeyPrefix):]
	}
	session := &domain.EnrollmentSession{
		Secret:        secret,
		SerialNumbers: serialNumbers,
		CreatedAt:     time.Now(),
	}
	if err := h.store.CreateEnrollmentSession(r.Context(), session); err != nil {
		handleError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().Int64("session_id", session.ID).Strs("serial_numbers", session.SerialNumbers).Msg("enrollment session created")
	respondJSON(w, http.StatusCreated, session)
}

// Delete revokes the enrollment session of a secret.
func (h *EnrollmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "secret")
	if err := h.store.DeleteEnrollmentSession(r.Context(), secret); err != nil {
		handleError(w, r, err)
		return
	}
	if h.invalidator != nil {
		h.invalidator.Invalidate(secret)
	}
	w.WriteHeader(http.StatusNoContent)
}
