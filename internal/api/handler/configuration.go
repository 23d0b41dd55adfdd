package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
	"github.com/zentral/zentral/internal/target"
	"github.com/zentral/zentral/internal/validation"
)

// ConfigurationHandler handles Santa configuration endpoints.
type ConfigurationHandler struct {
	store storage.Storage
}

// NewConfigurationHandler creates a new ConfigurationHandler.
func NewConfigurationHandler(store storage.Storage) *ConfigurationHandler {
	return &ConfigurationHandler{store: store}
}

// Create creates a new configuration.
func (h *ConfigurationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateConfigurationRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var errs validation.ValidationErrors
	if err := validation.ValidateName(req.Name); err != nil {
		errs.Add("name", req.Name, err.Error())
	}
	if req.ClientMode == 0 {
		req.ClientMode = domain.ClientModeMonitor
	}
	if req.ClientMode != domain.ClientModeMonitor && req.ClientMode != domain.ClientModeLockdown {
		errs.Add("client_mode", strconv.Itoa(req.ClientMode), `"`+strconv.Itoa(req.ClientMode)+`" is not a valid choice.`)
	}
	if req.BatchSize == 0 {
		req.BatchSize = domain.DefaultBatchSize
	}
	if req.BatchSize < 5 || req.BatchSize > 100 {
		errs.Add("batch_size", strconv.Itoa(req.BatchSize), "Ensure this value is between 5 and 100.")
	}
	if errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	now := time.Now()
	cfg := &domain.Configuration{
		Name:       req.Name,
		ClientMode: req.ClientMode,
		BatchSize:  req.BatchSize,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.store.CreateConfiguration(r.Context(), cfg); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, cfg)
}

// List lists all configurations.
func (h *ConfigurationHandler) List(w http.ResponseWriter, r *http.Request) {
	cfgs, err := h.store.ListConfigurations(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, cfgs)
}

// Get gets a configuration by primary key.
func (h *ConfigurationHandler) Get(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.configuration(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// ListRules lists the rules of a configuration.
func (h *ConfigurationHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.configuration(w, r)
	if !ok {
		return
	}
	rules, err := h.store.ListRules(r.Context(), cfg.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rules)
}

// CreateRule creates a rule that no rule set manages.
func (h *ConfigurationHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.configuration(w, r)
	if !ok {
		return
	}
	var req domain.CreateRuleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	desired, errs := validation.ValidateRuleDeclaration(0, &req.RuleDeclaration)
	if errs.HasErrors() {
		respondValidationErrors(w, errs)
		return
	}

	ctx := r.Context()
	tx, err := h.store.BeginTx(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	defer tx.Rollback()

	tgt, err := target.Resolve(ctx, tx, desired.Target)
	if err != nil {
		handleError(w, r, err)
		return
	}
	now := time.Now()
	rule := &domain.Rule{
		ConfigurationID: cfg.ID,
		TargetID:        tgt.ID,
		Target:          tgt,
		Policy:          desired.Policy,
		CustomMessage:   desired.CustomMessage,
		Version:         1,
		SerialNumbers:   desired.SerialNumbers,
		PrimaryUsers:    desired.PrimaryUsers,
		Tags:            desired.Tags,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.CreateRule(ctx, rule); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			var errs validation.ValidationErrors
			errs.Add(validation.NonFieldErrors, "", "A rule for this target already exists in this configuration.")
			respondValidationErrors(w, errs)
			return
		}
		handleError(w, r, err)
		return
	}
	if err := tx.Commit(); err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

// ListRuleSets lists all rule sets.
func (h *ConfigurationHandler) ListRuleSets(w http.ResponseWriter, r *http.Request) {
	ruleSets, err := h.store.ListRuleSets(r.Context())
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ruleSets)
}

func (h *ConfigurationHandler) configuration(w http.ResponseWriter, r *http.Request) (*domain.Configuration, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	cfg, err := h.store.GetConfiguration(r.Context(), id)
	if err != nil {
		handleError(w, r, err)
		return nil, false
	}
	return cfg, true
}
