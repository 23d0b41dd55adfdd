package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/rules"
	"github.com/zentral/zentral/internal/storage"
	"github.com/zentral/zentral/internal/target"
	"github.com/zentral/zentral/internal/validation"
)

// RuleSetService applies declared rule sets to configurations.
type RuleSetService struct {
	store  storage.Storage
	engine *rules.Engine
	logger zerolog.Logger
}

// NewRuleSetService creates a new RuleSetService.
func NewRuleSetService(store storage.Storage, logger zerolog.Logger) *RuleSetService {
	return &RuleSetService{
		store:  store,
		engine: rules.NewEngine(),
		logger: logger.With().Str("component", "ruleset").Logger(),
	}
}

// Upsert creates or updates the rule set and converges every targeted
// configuration to the declared rules.
//
// The whole request runs in one transaction: a validation error, an unknown
// configuration or a conflict in any configuration leaves every
// configuration, and the rule set itself, untouched.
func (s *RuleSetService) Upsert(ctx context.Context, req *domain.RuleSetUpsertRequest) (*domain.RuleSetUpsertResponse, error) {
	desired, err := validation.ValidateRuleSetUpsert(req)
	if err != nil {
		return nil, err
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ruleSet, result, err := getOrCreateRuleSet(ctx, tx, req.Name)
	if err != nil {
		return nil, err
	}

	configurations, err := resolveConfigurations(ctx, tx, req.Configurations)
	if err != nil {
		return nil, err
	}

	resolver := target.NewResolver(tx)
	plans := make([]*rules.Plan, 0, len(configurations))
	var conflicts []int
	for _, cfg := range configurations {
		plan, err := s.engine.Plan(ctx, tx, resolver, cfg, ruleSet, desired)
		var conflict *domain.ConflictError
		switch {
		case errors.As(err, &conflict):
			conflicts = append(conflicts, conflict.Indexes...)
		case err != nil:
			return nil, fmt.Errorf("planning configuration %s: %w", cfg.Name, err)
		default:
			plans = append(plans, plan)
		}
	}
	if len(conflicts) > 0 {
		return nil, domain.NewConflictError(conflicts...)
	}

	resp := &domain.RuleSetUpsertResponse{
		RuleSet: domain.RuleSetSummary{
			ID:     ruleSet.ID,
			Name:   ruleSet.Name,
			Result: result,
		},
		Configurations: make([]domain.ConfigurationResult, 0, len(plans)),
	}
	changed := false
	for _, plan := range plans {
		counts, err := s.engine.Apply(ctx, tx, plan)
		if err != nil {
			return nil, fmt.Errorf("applying configuration %s: %w", plan.Configuration.Name, err)
		}
		changed = changed || counts.Changed()
		resp.Configurations = append(resp.Configurations, domain.ConfigurationResult{
			ID:          plan.Configuration.ID,
			Name:        plan.Configuration.Name,
			RuleResults: counts,
		})
	}

	if changed && result == domain.RuleSetPresent {
		if err := tx.TouchRuleSet(ctx, ruleSet.ID); err != nil {
			return nil, fmt.Errorf("touching rule set: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Info().
		Str("ruleset", ruleSet.Name).
		Str("result", string(result)).
		Int("configurations", len(resp.Configurations)).
		Bool("changed", changed).
		Msg("rule set upserted")

	return resp, nil
}

func getOrCreateRuleSet(ctx context.Context, tx storage.Transaction, name string) (*domain.RuleSet, domain.RuleSetResult, error) {
	ruleSet, err := tx.GetRuleSetByName(ctx, name)
	if err == nil {
		return ruleSet, domain.RuleSetPresent, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, "", fmt.Errorf("getting rule set: %w", err)
	}

	now := time.Now()
	ruleSet = &domain.RuleSet{Name: name, CreatedAt: now, UpdatedAt: now}
	err = tx.CreateRuleSet(ctx, ruleSet)
	switch {
	case err == nil:
		return ruleSet, domain.RuleSetCreated, nil
	case errors.Is(err, domain.ErrAlreadyExists):
		// Created concurrently.
		ruleSet, err = tx.GetRuleSetByName(ctx, name)
		if err != nil {
			return nil, "", fmt.Errorf("getting rule set: %w", err)
		}
		return ruleSet, domain.RuleSetPresent, nil
	default:
		return nil, "", fmt.Errorf("creating rule set: %w", err)
	}
}

// resolveConfigurations returns the named configurations, or all of them
// when names is empty, ordered by primary key.
func resolveConfigurations(ctx context.Context, tx storage.Transaction, names []string) ([]*domain.Configuration, error) {
	if len(names) == 0 {
		cfgs, err := tx.ListConfigurations(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing configurations: %w", err)
		}
		return cfgs, nil
	}

	var (
		cfgs    []*domain.Configuration
		unknown []string
		seen    = make(map[string]bool, len(names))
	)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		cfg, err := tx.GetConfigurationByName(ctx, name)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			unknown = append(unknown, name)
		case err != nil:
			return nil, fmt.Errorf("getting configuration %s: %w", name, err)
		default:
			cfgs = append(cfgs, cfg)
		}
	}
	if len(unknown) > 0 {
		return nil, &domain.UnknownConfigurationsError{Names: unknown}
	}
	slices.SortFunc(cfgs, func(a, b *domain.Configuration) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return cfgs, nil
}
