// Package rules converges the rules a rule set owns in a configuration to
// a declared desired state.
package rules

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
	"github.com/zentral/zentral/internal/target"
)

// Plan holds the mutations that converge one configuration.
type Plan struct {
	Configuration *domain.Configuration
	RuleSet       *domain.RuleSet
	Create        []*domain.Rule
	Update        []*domain.Rule
	Delete        []*domain.Rule
	Present       int
}

// Counts returns the result counts the plan produces once applied.
func (p *Plan) Counts() domain.RuleResultCounts {
	return domain.RuleResultCounts{
		Created: len(p.Create),
		Deleted: len(p.Delete),
		Present: p.Present,
		Updated: len(p.Update),
	}
}

// Engine plans and applies rule set reconciliations.
type Engine struct {
	now func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// Plan diffs the desired rules against the rules of cfg. Nothing is written
// except missing targets.
//
// A declaration conflicts when its target is already bound in cfg by a rule
// the rule set does not own (another rule set or a manual rule), or when an
// earlier declaration of the same request binds the same target with other
// content. Conflicts are returned together as a *domain.ConflictError.
func (e *Engine) Plan(ctx context.Context, q storage.Storage, resolver *target.Resolver, cfg *domain.Configuration, rs *domain.RuleSet, desired []domain.DesiredRule) (*Plan, error) {
	existing, err := q.ListRules(ctx, cfg.ID)
	if err != nil {
		return nil, fmt.Errorf("listing rules: %w", err)
	}
	byTarget := make(map[int64]*domain.Rule, len(existing))
	for _, r := range existing {
		byTarget[r.TargetID] = r
	}

	plan := &Plan{Configuration: cfg, RuleSet: rs}
	declared := make(map[int64]*domain.DesiredRule, len(desired))
	var conflicts []int

	for i := range desired {
		d := &desired[i]
		t, err := resolver.Resolve(ctx, d.Target)
		if err != nil {
			return nil, fmt.Errorf("resolving target of rule %d: %w", d.Index, err)
		}

		if prev, ok := declared[t.ID]; ok {
			if !prev.SameContent(d) {
				conflicts = append(conflicts, d.Index)
			}
			continue
		}
		declared[t.ID] = d

		r, ok := byTarget[t.ID]
		switch {
		case !ok:
			plan.Create = append(plan.Create, e.newRule(cfg, rs, t, d))
		case !r.OwnedBy(rs.ID):
			conflicts = append(conflicts, d.Index)
		case d.Matches(r):
			plan.Present++
		default:
			plan.Update = append(plan.Update, e.updatedRule(r, d))
		}
	}

	if len(conflicts) > 0 {
		return nil, domain.NewConflictError(conflicts...)
	}

	for _, r := range existing {
		if !r.OwnedBy(rs.ID) {
			continue
		}
		if _, ok := declared[r.TargetID]; !ok {
			plan.Delete = append(plan.Delete, r)
		}
	}
	return plan, nil
}

func (e *Engine) newRule(cfg *domain.Configuration, rs *domain.RuleSet, t *domain.Target, d *domain.DesiredRule) *domain.Rule {
	now := e.now()
	ruleSetID := rs.ID
	return &domain.Rule{
		ConfigurationID: cfg.ID,
		RuleSetID:       &ruleSetID,
		TargetID:        t.ID,
		Target:          t,
		Policy:          d.Policy,
		CustomMessage:   d.CustomMessage,
		Version:         1,
		SerialNumbers:   slices.Clone(d.SerialNumbers),
		PrimaryUsers:    slices.Clone(d.PrimaryUsers),
		Tags:            slices.Clone(d.Tags),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// updatedRule returns a copy of r holding the desired content. A custom
// message change bumps the version so agents refresh the rule.
func (e *Engine) updatedRule(r *domain.Rule, d *domain.DesiredRule) *domain.Rule {
	updated := *r
	if updated.CustomMessage != d.CustomMessage {
		updated.Version++
	}
	updated.Policy = d.Policy
	updated.CustomMessage = d.CustomMessage
	updated.SerialNumbers = slices.Clone(d.SerialNumbers)
	updated.PrimaryUsers = slices.Clone(d.PrimaryUsers)
	updated.Tags = slices.Clone(d.Tags)
	updated.UpdatedAt = e.now()
	return &updated
}

// Apply writes the plan through q, which should be the transaction the plan
// was computed in.
func (e *Engine) Apply(ctx context.Context, q storage.Storage, plan *Plan) (domain.RuleResultCounts, error) {
	for _, r := range plan.Delete {
		if err := q.DeleteRule(ctx, r.ID); err != nil {
			return domain.RuleResultCounts{}, fmt.Errorf("deleting rule %d: %w", r.ID, err)
		}
	}
	for _, r := range plan.Update {
		if err := q.UpdateRule(ctx, r); err != nil {
			return domain.RuleResultCounts{}, fmt.Errorf("updating rule %d: %w", r.ID, err)
		}
	}
	for _, r := range plan.Create {
		if err := q.CreateRule(ctx, r); err != nil {
			return domain.RuleResultCounts{}, fmt.Errorf("creating rule: %w", err)
		}
	}
	return plan.Counts(), nil
}

// Reconcile converges one configuration in its own transaction. On error,
// conflicts included, nothing is written.
func (e *Engine) Reconcile(ctx context.Context, store storage.Storage, cfg *domain.Configuration, rs *domain.RuleSet, desired []domain.DesiredRule) (domain.RuleResultCounts, error) {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return domain.RuleResultCounts{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	plan, err := e.Plan(ctx, tx, target.NewResolver(tx), cfg, rs, desired)
	if err != nil {
		return domain.RuleResultCounts{}, err
	}
	counts, err := e.Apply(ctx, tx, plan)
	if err != nil {
		return domain.RuleResultCounts{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RuleResultCounts{}, fmt.Errorf("committing transaction: %w", err)
	}
	return counts, nil
}
