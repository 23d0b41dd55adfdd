package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/zentral/zentral/internal/domain"
)

// ============================================
// Configurations
// ============================================

const configurationColumns = `id, name, client_mode, batch_size, created_at, updated_at`

func createConfiguration(ctx context.Context, db dbInterface, cfg *domain.Configuration) error {
	id, err := insertReturningID(ctx, db,
		`INSERT INTO santa_configurations (name, client_mode, batch_size, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT DO NOTHING RETURNING id`,
		cfg.Name, cfg.ClientMode, cfg.BatchSize, cfg.CreatedAt, cfg.UpdatedAt)
	if err != nil {
		return err
	}
	cfg.ID = id
	return nil
}

func (s *Store) CreateConfiguration(ctx context.Context, cfg *domain.Configuration) error {
	return createConfiguration(ctx, s.db, cfg)
}

func (t *Tx) CreateConfiguration(ctx context.Context, cfg *domain.Configuration) error {
	return createConfiguration(ctx, t.tx, cfg)
}

func getConfiguration(ctx context.Context, db dbInterface, id int64) (*domain.Configuration, error) {
	var cfg domain.Configuration
	err := db.GetContext(ctx, &cfg,
		`SELECT `+configurationColumns+` FROM santa_configurations WHERE id = $1`, id)
	if err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	return &cfg, nil
}

func (s *Store) GetConfiguration(ctx context.Context, id int64) (*domain.Configuration, error) {
	return getConfiguration(ctx, s.db, id)
}

func (t *Tx) GetConfiguration(ctx context.Context, id int64) (*domain.Configuration, error) {
	return getConfiguration(ctx, t.tx, id)
}

func getConfigurationByName(ctx context.Context, db dbInterface, name string) (*domain.Configuration, error) {
	var cfg domain.Configuration
	err := db.GetContext(ctx, &cfg,
		`SELECT `+configurationColumns+` FROM santa_configurations WHERE name = $1`, name)
	if err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	return &cfg, nil
}

func (s *Store) GetConfigurationByName(ctx context.Context, name string) (*domain.Configuration, error) {
	return getConfigurationByName(ctx, s.db, name)
}

func (t *Tx) GetConfigurationByName(ctx context.Context, name string) (*domain.Configuration, error) {
	return getConfigurationByName(ctx, t.tx, name)
}

func listConfigurations(ctx context.Context, db dbInterface) ([]*domain.Configuration, error) {
	var cfgs []*domain.Configuration
	err := db.SelectContext(ctx, &cfgs,
		`SELECT `+configurationColumns+` FROM santa_configurations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return cfgs, nil
}

func (s *Store) ListConfigurations(ctx context.Context) ([]*domain.Configuration, error) {
	return listConfigurations(ctx, s.db)
}

func (t *Tx) ListConfigurations(ctx context.Context) ([]*domain.Configuration, error) {
	return listConfigurations(ctx, t.tx)
}

// ============================================
// Targets
// ============================================

func createTarget(ctx context.Context, db dbInterface, target *domain.Target) error {
	id, err := insertReturningID(ctx, db,
		`INSERT INTO santa_targets (type, identifier) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING RETURNING id`,
		target.Type, target.Identifier)
	if err != nil {
		return err
	}
	target.ID = id
	return nil
}

func (s *Store) CreateTarget(ctx context.Context, target *domain.Target) error {
	return createTarget(ctx, s.db, target)
}

func (t *Tx) CreateTarget(ctx context.Context, target *domain.Target) error {
	return createTarget(ctx, t.tx, target)
}

func getTarget(ctx context.Context, db dbInterface, targetType domain.TargetType, identifier string) (*domain.Target, error) {
	var target domain.Target
	err := db.GetContext(ctx, &target,
		`SELECT id, type, identifier FROM santa_targets WHERE type = $1 AND identifier = $2`,
		targetType, identifier)
	if err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	return &target, nil
}

func (s *Store) GetTarget(ctx context.Context, targetType domain.TargetType, identifier string) (*domain.Target, error) {
	return getTarget(ctx, s.db, targetType, identifier)
}

func (t *Tx) GetTarget(ctx context.Context, targetType domain.TargetType, identifier string) (*domain.Target, error) {
	return getTarget(ctx, t.tx, targetType, identifier)
}

// ============================================
// Rule Sets
// ============================================

func createRuleSet(ctx context.Context, db dbInterface, rs *domain.RuleSet) error {
	id, err := insertReturningID(ctx, db,
		`INSERT INTO santa_rulesets (name, created_at, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING RETURNING id`,
		rs.Name, rs.CreatedAt, rs.UpdatedAt)
	if err != nil {
		return err
	}
	rs.ID = id
	return nil
}

func (s *Store) CreateRuleSet(ctx context.Context, ruleSet *domain.RuleSet) error {
	return createRuleSet(ctx, s.db, ruleSet)
}

func (t *Tx) CreateRuleSet(ctx context.Context, ruleSet *domain.RuleSet) error {
	return createRuleSet(ctx, t.tx, ruleSet)
}

func getRuleSetByName(ctx context.Context, db dbInterface, name string) (*domain.RuleSet, error) {
	var rs domain.RuleSet
	err := db.GetContext(ctx, &rs,
		`SELECT id, name, created_at, updated_at FROM santa_rulesets WHERE name = $1`, name)
	if err != nil {
		return nil, wrapNoRows(err, domain.ErrNotFound)
	}
	return &rs, nil
}

func (s *Store) GetRuleSetByName(ctx context.Context, name string) (*domain.RuleSet, error) {
	return getRuleSetByName(ctx, s.db, name)
}

func (t *Tx) GetRuleSetByName(ctx context.Context, name string) (*domain.RuleSet, error) {
	return getRuleSetByName(ctx, t.tx, name)
}

func listRuleSets(ctx context.Context, db dbInterface) ([]*domain.RuleSet, error) {
	var rss []*domain.RuleSet
	err := db.SelectContext(ctx, &rss,
		`SELECT id, name, created_at, updated_at FROM santa_rulesets ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return rss, nil
}

func (s *Store) ListRuleSets(ctx context.Context) ([]*domain.RuleSet, error) {
	return listRuleSets(ctx, s.db)
}

func (t *Tx) ListRuleSets(ctx context.Context) ([]*domain.RuleSet, error) {
	return listRuleSets(ctx, t.tx)
}

func touchRuleSet(ctx context.Context, db dbInterface, id int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE santa_rulesets SET updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) TouchRuleSet(ctx context.Context, id int64) error {
	return touchRuleSet(ctx, s.db, id)
}

func (t *Tx) TouchRuleSet(ctx context.Context, id int64) error {
	return touchRuleSet(ctx, t.tx, id)
}

// ============================================
// Rules
// ============================================

// Scope tables of a rule, each (rule_id, value).
var ruleScopeTables = []string{
	"santa_rule_serial_numbers",
	"santa_rule_primary_users",
	"santa_rule_tags",
}

func ruleScopes(rule *domain.Rule) [][]string {
	return [][]string{rule.SerialNumbers, rule.PrimaryUsers, rule.Tags}
}

func setRuleScopes(ctx context.Context, db dbInterface, rule *domain.Rule) error {
	for i, table := range ruleScopeTables {
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE rule_id = $1`, table), rule.ID); err != nil {
			return err
		}
		for _, value := range ruleScopes(rule)[i] {
			if _, err := db.ExecContext(ctx,
				fmt.Sprintf(`INSERT INTO %s (rule_id, value) VALUES ($1, $2)`, table),
				rule.ID, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func loadRuleScopes(ctx context.Context, db dbInterface, rule *domain.Rule) error {
	dests := []*[]string{&rule.SerialNumbers, &rule.PrimaryUsers, &rule.Tags}
	for i, table := range ruleScopeTables {
		var values []string
		if err := db.SelectContext(ctx, &values,
			fmt.Sprintf(`SELECT value FROM %s WHERE rule_id = $1 ORDER BY value`, table), rule.ID); err != nil {
			return err
		}
		*dests[i] = values
	}
	return nil
}

func createRule(ctx context.Context, db dbInterface, rule *domain.Rule) error {
	id, err := insertReturningID(ctx, db,
		`INSERT INTO santa_rules (configuration_id, ruleset_id, target_id, policy, custom_msg, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT DO NOTHING RETURNING id`,
		rule.ConfigurationID, rule.RuleSetID, rule.TargetID, rule.Policy, rule.CustomMessage,
		rule.Version, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return err
	}
	rule.ID = id
	return setRuleScopes(ctx, db, rule)
}

func (s *Store) CreateRule(ctx context.Context, rule *domain.Rule) error {
	return s.atomic(ctx, func(db dbInterface) error {
		return createRule(ctx, db, rule)
	})
}

func (t *Tx) CreateRule(ctx context.Context, rule *domain.Rule) error {
	return createRule(ctx, t.tx, rule)
}

func updateRule(ctx context.Context, db dbInterface, rule *domain.Rule) error {
	result, err := db.ExecContext(ctx,
		`UPDATE santa_rules SET ruleset_id = $1, policy = $2, custom_msg = $3, version = $4, updated_at = $5
		 WHERE id = $6`,
		rule.RuleSetID, rule.Policy, rule.CustomMessage, rule.Version, rule.UpdatedAt, rule.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return setRuleScopes(ctx, db, rule)
}

func (s *Store) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	return s.atomic(ctx, func(db dbInterface) error {
		return updateRule(ctx, db, rule)
	})
}

func (t *Tx) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	return updateRule(ctx, t.tx, rule)
}

func deleteRule(ctx context.Context, db dbInterface, id int64) error {
	for _, table := range ruleScopeTables {
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE rule_id = $1`, table), id); err != nil {
			return err
		}
	}
	return expectRows(db.ExecContext(ctx, `DELETE FROM santa_rules WHERE id = $1`, id))
}

func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	return s.atomic(ctx, func(db dbInterface) error {
		return deleteRule(ctx, db, id)
	})
}

func (t *Tx) DeleteRule(ctx context.Context, id int64) error {
	return deleteRule(ctx, t.tx, id)
}

type ruleRow struct {
	ID               int64     `db:"id"`
	ConfigurationID  int64     `db:"configuration_id"`
	RuleSetID        *int64    `db:"ruleset_id"`
	TargetID         int64     `db:"target_id"`
	TargetType       string    `db:"target_type"`
	TargetIdentifier string    `db:"target_identifier"`
	Policy           int       `db:"policy"`
	CustomMessage    string    `db:"custom_msg"`
	Version          int       `db:"version"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func (r *ruleRow) toDomain() *domain.Rule {
	return &domain.Rule{
		ID:              r.ID,
		ConfigurationID: r.ConfigurationID,
		RuleSetID:       r.RuleSetID,
		TargetID:        r.TargetID,
		Target: &domain.Target{
			ID:         r.TargetID,
			Type:       domain.TargetType(r.TargetType),
			Identifier: r.TargetIdentifier,
		},
		Policy:        domain.Policy(r.Policy),
		CustomMessage: r.CustomMessage,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func listRules(ctx context.Context, db dbInterface, configurationID int64) ([]*domain.Rule, error) {
	var rows []ruleRow
	err := db.SelectContext(ctx, &rows,
		`SELECT r.id, r.configuration_id, r.ruleset_id, r.target_id,
		        t.type AS target_type, t.identifier AS target_identifier,
		        r.policy, r.custom_msg, r.version, r.created_at, r.updated_at
		 FROM santa_rules r JOIN santa_targets t ON t.id = r.target_id
		 WHERE r.configuration_id = $1 ORDER BY r.id`, configurationID)
	if err != nil {
		return nil, err
	}
	rules := make([]*domain.Rule, 0, len(rows))
	for i := range rows {
		rule := rows[i].toDomain()
		if err := loadRuleScopes(ctx, db, rule); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s *Store) ListRules(ctx context.Context, configurationID int64) ([]*domain.Rule, error) {
	return listRules(ctx, s.db, configurationID)
}

func (t *Tx) ListRules(ctx context.Context, configurationID int64) ([]*domain.Rule, error) {
	return listRules(ctx, t.tx, configurationID)
}
