package handler

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"
	"gopkg.in/yaml.v3"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/validation"
)

// apiKeyPrefix marks keys issued by this server.
const apiKeyPrefix = "ztl_"

// respondJSON writes a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError writes a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, &domain.APIError{
		Code:    status,
		Message: message,
	})
}

// handleError converts domain errors to HTTP errors. Validation, conflict
// and unknown configuration errors are rendered as field error trees.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verrs    validation.ValidationErrors
		conflict *domain.ConflictError
		unknown  *domain.UnknownConfigurationsError
	)
	switch {
	case errors.As(err, &verrs):
		respondValidationErrors(w, verrs)
	case errors.As(err, &conflict):
		respondValidationErrors(w, validation.FromConflict(conflict))
	case errors.As(err, &unknown):
		respondValidationErrors(w, validation.FromUnknownConfigurations(unknown))
	case errors.Is(err, domain.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAlreadyExists):
		respondError(w, http.StatusConflict, "already exists")
	case errors.Is(err, domain.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid input")
	case errors.Is(err, domain.ErrUnauthorized):
		respondError(w, http.StatusUnauthorized, "unauthorized")
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeJSON decodes JSON from request body.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.ErrInvalidInput
	}
	return nil
}

// decodeBody decodes a JSON or YAML request body, depending on its
// content type.
func decodeBody(r *http.Request, v any) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/yaml", "application/x-yaml", "text/yaml":
		if err := yaml.NewDecoder(r.Body).Decode(v); err != nil {
			return domain.ErrInvalidInput
		}
		return nil
	default:
		return decodeJSON(r, v)
	}
}

// readBody reads the whole request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, domain.ErrInvalidInput
	}
	return body, nil
}

// generateID generates a new UUID.
func generateID() string {
	return uuid.New().String()
}

// generateAPIKey generates a new random API key.
func generateAPIKey() (key string, hash string, prefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}

	key = apiKeyPrefix + hex.EncodeToString(bytes)
	hash = hashKey(key)
	prefix = key[:len(apiKeyPrefix)+8]

	return key, hash, prefix, nil
}

// hashKey creates a SHA-256 hash of the API key.
func hashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// respondValidationErrors writes the errors as a field error tree.
func respondValidationErrors(w http.ResponseWriter, errs validation.ValidationErrors) {
	respondJSON(w, http.StatusBadRequest, errs.Tree())
}
