package rules

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
	"github.com/zentral/zentral/internal/storage/memory"
	"github.com/zentral/zentral/internal/target"
)

func sha(c string) string {
	return strings.Repeat(c, 64)
}

func binary(index int, identifier string, policy domain.Policy) domain.DesiredRule {
	return domain.DesiredRule{
		Index:  index,
		Target: domain.TargetKey{Type: domain.TargetBinary, Identifier: identifier},
		Policy: policy,
	}
}

type fixture struct {
	store *memory.Store
	cfg   *domain.Configuration
	rs    *domain.RuleSet
	other *domain.RuleSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	now := time.Now()
	cfg := &domain.Configuration{Name: "default", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateConfiguration(ctx, cfg))
	rs := &domain.RuleSet{Name: "first", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateRuleSet(ctx, rs))
	other := &domain.RuleSet{Name: "second", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateRuleSet(ctx, other))
	return &fixture{store: store, cfg: cfg, rs: rs, other: other}
}

func (f *fixture) rules(t *testing.T) []*domain.Rule {
	t.Helper()
	rules, err := f.store.ListRules(context.Background(), f.cfg.ID)
	require.NoError(t, err)
	return rules
}

func TestReconcileCreatePresentUpdateDelete(t *testing.T) {
	f := newFixture(t)
	e := NewEngine()
	ctx := context.Background()

	desired := []domain.DesiredRule{
		binary(0, sha("a"), domain.PolicyBlocklist),
		binary(1, sha("b"), domain.PolicyAllowlist),
	}
	counts, err := e.Reconcile(ctx, f.store, f.cfg, f.rs, desired)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleResultCounts{Created: 2}, counts)

	counts, err = e.Reconcile(ctx, f.store, f.cfg, f.rs, desired)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleResultCounts{Present: 2}, counts)
	assert.False(t, counts.Changed())

	desired[0].CustomMessage = "Blocked by IT"
	desired = desired[:1]
	counts, err = e.Reconcile(ctx, f.store, f.cfg, f.rs, desired)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleResultCounts{Updated: 1, Deleted: 1}, counts)

	rules := f.rules(t)
	require.Len(t, rules, 1)
	assert.Equal(t, "Blocked by IT", rules[0].CustomMessage)
	assert.Equal(t, 2, rules[0].Version)
}

func TestReconcilePolicyChangeKeepsVersion(t *testing.T) {
	f := newFixture(t)
	e := NewEngine()
	ctx := context.Background()

	_, err := e.Reconcile(ctx, f.store, f.cfg, f.rs, []domain.DesiredRule{binary(0, sha("a"), domain.PolicyBlocklist)})
	require.NoError(t, err)
	counts, err := e.Reconcile(ctx, f.store, f.cfg, f.rs, []domain.DesiredRule{binary(0, sha("a"), domain.PolicySilentBlocklist)})
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Updated)

	rules := f.rules(t)
	require.Len(t, rules, 1)
	assert.Equal(t, domain.PolicySilentBlocklist, rules[0].Policy)
	assert.Equal(t, 1, rules[0].Version)
}

func TestReconcileScopeChangeIsUpdate(t *testing.T) {
	f := newFixture(t)
	e := NewEngine()
	ctx := context.Background()

	d := binary(0, sha("a"), domain.PolicyBlocklist)
	_, err := e.Reconcile(ctx, f.store, f.cfg, f.rs, []domain.DesiredRule{d})
	require.NoError(t, err)

	d.SerialNumbers = []string{"SN1"}
	counts, err := e.Reconcile(ctx, f.store, f.cfg, f.rs, []domain.DesiredRule{d})
	require.NoError(t, err)
	assert.Equal(t, domain.RuleResultCounts{Updated: 1}, counts)

	counts, err = e.Reconcile(ctx, f.store, f.cfg, f.rs, []domain.DesiredRule{d})
	require.NoError(t, err)
	assert.Equal(t, domain.RuleResultCounts{Present: 1}, counts)
}

func TestReconcileConflictWithOtherRuleSet(t *testing.T) {
	f := newFixture(t)
	e := NewEngine()
	ctx := context.Background()

	_, err := e.Reconcile(ctx, f.store, f.cfg, f.other, []domain.DesiredRule{binary(0, sha("a"), domain.PolicyBlocklist)})
	require.NoError(t, err)

	desired := []domain.DesiredRule{
		binary(0, sha("b"), domain.PolicyBlocklist),
		binary(1, sha("a"), domain.PolicyAllowlist),
	}
	_, err = e.Reconcile(ctx, f.store, f.cfg, f.rs, desired)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []int{1}, conflict.Indexes)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	// Nothing written, not even the conflict-free declaration.
	rules := f.rules(t)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].OwnedBy(f.other.ID))
	_, err = f.store.GetTarget(ctx, domain.TargetBinary, sha("b"))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReconcileConflictWithManualRule(t *testing.T) {
	f := newFixture(t)
	e := NewEngine()
	ctx := context.Background()

	tgt, err := target.Resolve(ctx, f.store, domain.TargetKey{Type: domain.TargetBinary, Identifier: sha("a")})
	require.NoError(t, err)
	require.NoError(t, f.store.CreateRule(ctx, &domain.Rule{
		ConfigurationID: f.cfg.ID,
		TargetID:        tgt.ID,
		Policy:          domain.PolicyAllowlist,
		Version:         1,
	}))

	_, err = e.Reconcile(ctx, f.store, f.cfg, f.rs, []domain.DesiredRule{binary(0, sha("a"), domain.PolicyAllowlist)})
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []int{0}, conflict.Indexes)

	// The manual rule survives reconciliations of the rule set.
	_, err = e.Reconcile(ctx, f.store, f.cfg, f.rs, []domain.DesiredRule{})
	require.NoError(t, err)
	assert.Len(t, f.rules(t), 1)
}

func TestReconcileDuplicateDeclarations(t *testing.T) {
	f := newFixture(t)
	e := NewEngine()
	ctx := context.Background()

	same := []domain.DesiredRule{
		binary(0, sha("a"), domain.PolicyBlocklist),
		binary(1, sha("a"), domain.PolicyBlocklist),
	}
	counts, err := e.Reconcile(ctx, f.store, f.cfg, f.rs, same)
	require.NoError(t, err)
	assert.Equal(t, domain.RuleResultCounts{Created: 1}, counts)

	contradicting := []domain.DesiredRule{
		binary(0, sha("a"), domain.PolicyBlocklist),
		binary(1, sha("c"), domain.PolicyBlocklist),
		binary(2, sha("a"), domain.PolicyAllowlist),
	}
	_, err = e.Reconcile(ctx, f.store, f.cfg, f.rs, contradicting)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []int{2}, conflict.Indexes)
}

type failingStore struct {
	storage.Storage
}

func (s *failingStore) BeginTx(ctx context.Context) (storage.Transaction, error) {
	tx, err := s.Storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &failingTx{Transaction: tx}, nil
}

// failingTx fails the second rule creation.
type failingTx struct {
	storage.Transaction
	creates int
}

func (t *failingTx) CreateRule(ctx context.Context, rule *domain.Rule) error {
	t.creates++
	if t.creates == 2 {
		return errors.New("disk full")
	}
	return t.Transaction.CreateRule(ctx, rule)
}

func TestReconcileRollsBackOnFailure(t *testing.T) {
	f := newFixture(t)
	e := NewEngine()
	ctx := context.Background()

	desired := []domain.DesiredRule{
		binary(0, sha("a"), domain.PolicyBlocklist),
		binary(1, sha("b"), domain.PolicyBlocklist),
	}
	_, err := e.Reconcile(ctx, &failingStore{Storage: f.store}, f.cfg, f.rs, desired)
	require.Error(t, err)
	assert.Empty(t, f.rules(t))
}
