package sql

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zentral/zentral/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on&_busy_timeout=5000"
	store, err := New("sqlite3", dsn)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestTargetGetOrCreateConflict(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	target := &domain.Target{Type: domain.TargetTeamID, Identifier: "ABCDEFGHIJ"}
	if err := store.CreateTarget(ctx, target); err != nil {
		t.Fatalf("Failed to create target: %v", err)
	}
	if target.ID == 0 {
		t.Error("Expected target ID to be set")
	}

	dup := &domain.Target{Type: domain.TargetTeamID, Identifier: "ABCDEFGHIJ"}
	if err := store.CreateTarget(ctx, dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists, got %v", err)
	}

	got, err := store.GetTarget(ctx, domain.TargetTeamID, "ABCDEFGHIJ")
	if err != nil {
		t.Fatalf("Failed to get target: %v", err)
	}
	if got.ID != target.ID {
		t.Errorf("Expected target %d, got %d", target.ID, got.ID)
	}
}

func TestRuleLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cfg := &domain.Configuration{Name: "default", ClientMode: domain.ClientModeMonitor, BatchSize: 50, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateConfiguration(ctx, cfg); err != nil {
		t.Fatalf("Failed to create configuration: %v", err)
	}
	rs := &domain.RuleSet{Name: "first", CreatedAt: now, UpdatedAt: now}
	if err := store.CreateRuleSet(ctx, rs); err != nil {
		t.Fatalf("Failed to create rule set: %v", err)
	}
	target := &domain.Target{Type: domain.TargetBinary, Identifier: "0000000000000000000000000000000000000000000000000000000000000001"}
	if err := store.CreateTarget(ctx, target); err != nil {
		t.Fatalf("Failed to create target: %v", err)
	}

	rule := &domain.Rule{
		ConfigurationID: cfg.ID,
		RuleSetID:       &rs.ID,
		TargetID:        target.ID,
		Policy:          domain.PolicyBlocklist,
		Version:         1,
		SerialNumbers:   []string{"SN2", "SN1"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.CreateRule(ctx, rule); err != nil {
		t.Fatalf("Failed to create rule: %v", err)
	}

	dup := *rule
	dup.ID = 0
	if err := store.CreateRule(ctx, &dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for duplicate rule, got %v", err)
	}

	rules, err := store.ListRules(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("Expected 1 rule, got %d", len(rules))
	}
	got := rules[0]
	if got.Target == nil || got.Target.Identifier != target.Identifier {
		t.Errorf("Expected target to be populated, got %+v", got.Target)
	}
	if !got.OwnedBy(rs.ID) {
		t.Error("Expected rule to be owned by rule set")
	}
	if len(got.SerialNumbers) != 2 || got.SerialNumbers[0] != "SN1" {
		t.Errorf("Expected sorted serial numbers, got %v", got.SerialNumbers)
	}

	got.Policy = domain.PolicyAllowlist
	got.Version = 2
	got.SerialNumbers = nil
	got.Tags = []string{"laptops"}
	if err := store.UpdateRule(ctx, got); err != nil {
		t.Fatalf("Failed to update rule: %v", err)
	}
	rules, _ = store.ListRules(ctx, cfg.ID)
	if rules[0].Policy != domain.PolicyAllowlist || rules[0].Version != 2 {
		t.Errorf("Expected updated policy and version, got %v %d", rules[0].Policy, rules[0].Version)
	}
	if len(rules[0].SerialNumbers) != 0 || len(rules[0].Tags) != 1 {
		t.Errorf("Expected scopes to be replaced, got %v %v", rules[0].SerialNumbers, rules[0].Tags)
	}

	if err := store.DeleteRule(ctx, got.ID); err != nil {
		t.Fatalf("Failed to delete rule: %v", err)
	}
	if err := store.DeleteRule(ctx, got.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestTransactionRollback(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tx, err := store.BeginTx(ctx)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}
	if err := tx.CreateRuleSet(ctx, &domain.RuleSet{Name: "rolled-back", CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("Failed to create rule set: %v", err)
	}
	// A conflicting insert must not abort the transaction.
	if err := tx.CreateRuleSet(ctx, &domain.RuleSet{Name: "rolled-back", CreatedAt: now, UpdatedAt: now}); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists, got %v", err)
	}
	if _, err := tx.GetRuleSetByName(ctx, "rolled-back"); err != nil {
		t.Errorf("Expected rule set visible in transaction, got %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Failed to roll back: %v", err)
	}

	if _, err := store.GetRuleSetByName(ctx, "rolled-back"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after rollback, got %v", err)
	}
}

func TestCurrentMachineSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	source := domain.Source{Module: "tests", Name: "tests"}

	first := &domain.MachineSnapshot{MTHash: "a", Source: source, SerialNumber: "SN1", CreatedAt: time.Now()}
	second := &domain.MachineSnapshot{MTHash: "b", Source: source, SerialNumber: "SN1", CreatedAt: time.Now()}
	for _, ms := range []*domain.MachineSnapshot{first, second} {
		if err := store.CreateMachineSnapshot(ctx, ms); err != nil {
			t.Fatalf("Failed to create snapshot: %v", err)
		}
	}

	steps := []struct {
		snapshot *domain.MachineSnapshot
		changed  bool
	}{
		{first, true},
		{first, false},
		{second, true},
		{first, true},
	}
	for i, step := range steps {
		changed, err := store.SetCurrentMachineSnapshot(ctx, step.snapshot)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if changed != step.changed {
			t.Errorf("step %d: expected changed=%v, got %v", i, step.changed, changed)
		}
	}
}

func TestEnrollmentSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	es := &domain.EnrollmentSession{Secret: "s3cr3t", SerialNumbers: []string{"SN1", "SN2"}, CreatedAt: time.Now()}
	if err := store.CreateEnrollmentSession(ctx, es); err != nil {
		t.Fatalf("Failed to create enrollment session: %v", err)
	}
	got, err := store.GetEnrollmentSessionBySecret(ctx, "s3cr3t")
	if err != nil {
		t.Fatalf("Failed to get enrollment session: %v", err)
	}
	if len(got.SerialNumbers) != 2 {
		t.Errorf("Expected 2 serial numbers, got %v", got.SerialNumbers)
	}
	if err := store.DeleteEnrollmentSession(ctx, "s3cr3t"); err != nil {
		t.Fatalf("Failed to delete enrollment session: %v", err)
	}
	if _, err := store.GetEnrollmentSessionBySecret(ctx, "s3cr3t"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestCreateEnrollmentSessionIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	es := &domain.EnrollmentSession{Secret: "s3cr3t", SerialNumbers: []string{"SN1", "SN1"}, CreatedAt: time.Now()}
	if err := store.CreateEnrollmentSession(ctx, es); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("Expected ErrAlreadyExists for duplicate serial numbers, got %v", err)
	}
	if got, err := store.GetEnrollmentSessionBySecret(ctx, "s3cr3t"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Expected no session after failed create, got %+v, %v", got, err)
	}

	es = &domain.EnrollmentSession{Secret: "s3cr3t", SerialNumbers: []string{"SN1"}, CreatedAt: time.Now()}
	if err := store.CreateEnrollmentSession(ctx, es); err != nil {
		t.Fatalf("Failed to create enrollment session after rollback: %v", err)
	}
}

func TestCreateRuleIsAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cfg := &domain.Configuration{Name: "default", ClientMode: domain.ClientModeMonitor, BatchSize: 50, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateConfiguration(ctx, cfg); err != nil {
		t.Fatalf("Failed to create configuration: %v", err)
	}
	target := &domain.Target{Type: domain.TargetTeamID, Identifier: "ABCDEFGHIJ"}
	if err := store.CreateTarget(ctx, target); err != nil {
		t.Fatalf("Failed to create target: %v", err)
	}

	rule := &domain.Rule{
		ConfigurationID: cfg.ID,
		TargetID:        target.ID,
		Policy:          domain.PolicyBlocklist,
		Version:         1,
		Tags:            []string{"laptops", "laptops"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.CreateRule(ctx, rule); err == nil {
		t.Fatal("Expected an error for duplicate scope values")
	}
	rules, err := store.ListRules(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("Failed to list rules: %v", err)
	}
	if len(rules) != 0 {
		t.Errorf("Expected no rule after failed create, got %d", len(rules))
	}
}

func TestAPIKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := &domain.APIKey{ID: "k1", Name: "munki", KeyHash: "hash1", KeyPrefix: "ztl_0123", CreatedAt: time.Now().UTC()}
	if err := store.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("Failed to create API key: %v", err)
	}
	dup := *key
	dup.ID = "k2"
	if err := store.CreateAPIKey(ctx, &dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("Expected ErrAlreadyExists for duplicate hash, got %v", err)
	}

	got, err := store.GetAPIKeyByHash(ctx, "hash1")
	if err != nil {
		t.Fatalf("Failed to get API key: %v", err)
	}
	if got.ID != "k1" || got.Name != "munki" || got.LastUsedAt != nil {
		t.Errorf("Unexpected API key %+v", got)
	}
	if _, err := store.GetAPIKeyByHash(ctx, "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := store.UpdateAPIKeyLastUsed(ctx, "k1"); err != nil {
		t.Fatalf("Failed to update last used: %v", err)
	}
	if err := store.UpdateAPIKeyLastUsed(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	keys, err := store.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("Failed to list API keys: %v", err)
	}
	if len(keys) != 1 || keys[0].LastUsedAt == nil {
		t.Errorf("Expected one used key, got %+v", keys)
	}

	if err := store.DeleteAPIKey(ctx, "k1"); err != nil {
		t.Fatalf("Failed to delete API key: %v", err)
	}
	if err := store.DeleteAPIKey(ctx, "k1"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if n, err := store.CountAPIKeys(ctx); err != nil || n != 0 {
		t.Errorf("CountAPIKeys() = %d, %v, want 0", n, err)
	}
}
